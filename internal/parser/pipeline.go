package parser

import (
	"sync"
	"sync/atomic"
)

// LineHandler consumes one line of encoder output.
type LineHandler func(line string)

// Pipeline implements lossy-by-design line handling between an encoder pipe
// and its parser.
//
// Two layers:
//
//	Layer 1 (Reader): PipeReader reads lines fast and drops them when the
//	                  channel is full, so the encoder never blocks on a pipe
//	Layer 2 (Parser): RunParser consumes from the channel at its own pace
type Pipeline struct {
	sessionID  string
	streamType string
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	linesRead    atomic.Int64
	linesDropped atomic.Int64
	linesParsed  atomic.Int64

	dropThreshold float64
}

// NewPipeline creates a lossy parsing pipeline.
//
// Parameters:
//   - sessionID: encoder session identifier for logging
//   - streamType: "progress" (stdout) or "stderr"
//   - bufferSize: channel buffer size (lines)
//   - dropThreshold: fraction (0.0-1.0) above which the pipeline is degraded
func NewPipeline(sessionID, streamType string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		sessionID:     sessionID,
		streamType:    streamType,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine queues a line. Returns false if it was dropped (channel full).
// Never blocks.
func (p *Pipeline) FeedLine(line string) bool {
	p.linesRead.Add(1)

	select {
	case p.lineChan <- line:
		return true
	default:
		p.linesDropped.Add(1)
		return false
	}
}

// CloseChannel closes the line channel, signaling the parser to stop.
//
// The data source MUST call this exactly once when it is done; it is the sole
// mechanism for parser goroutine termination. Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser consumes lines until the channel is closed.
//
// MUST run in a dedicated goroutine.
func (p *Pipeline) RunParser(handle LineHandler) {
	for line := range p.lineChan {
		handle(line)
		p.linesParsed.Add(1)
	}
}

// Stats returns (read, dropped, parsed) line counts.
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return p.linesRead.Load(), p.linesDropped.Load(), p.linesParsed.Load()
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := p.linesRead.Load()
	if read == 0 {
		return 0
	}
	return float64(p.linesDropped.Load()) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// SessionID returns the session this pipeline belongs to.
func (p *Pipeline) SessionID() string {
	return p.sessionID
}

// StreamType returns "progress" or "stderr".
func (p *Pipeline) StreamType() string {
	return p.streamType
}

// DrainChannel reads and discards any remaining lines in the channel.
func (p *Pipeline) DrainChannel() {
	for range p.lineChan {
	}
}
