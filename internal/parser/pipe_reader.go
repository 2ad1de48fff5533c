package parser

import (
	"bufio"
	"io"
	"sync/atomic"
)

// PipeReader reads lines from an encoder stdout/stderr pipe into a Pipeline.
type PipeReader struct {
	reader   io.Reader
	pipeline *Pipeline
	done     chan struct{}

	bytesRead atomic.Int64
	linesRead atomic.Int64
}

// NewPipeReader creates a reader for r, typically cmd.StdoutPipe() or
// cmd.StderrPipe().
func NewPipeReader(r io.Reader, pipeline *Pipeline) *PipeReader {
	return &PipeReader{
		reader:   r,
		pipeline: pipeline,
		done:     make(chan struct{}),
	}
}

// Run reads lines until EOF and closes the pipeline channel on exit.
func (p *PipeReader) Run() {
	defer close(p.done)
	defer p.pipeline.CloseChannel()

	scanner := bufio.NewScanner(p.reader)

	// Use a larger buffer for long FFmpeg output lines
	const maxLineSize = 64 * 1024
	scanner.Buffer(make([]byte, maxLineSize), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		p.bytesRead.Add(int64(len(line) + 1)) // +1 for newline
		p.linesRead.Add(1)
		p.pipeline.FeedLine(line)
	}
}

// Done is closed once Run has returned.
func (p *PipeReader) Done() <-chan struct{} {
	return p.done
}

// Stats returns (bytesRead, linesRead).
func (p *PipeReader) Stats() (bytesRead int64, linesRead int64) {
	return p.bytesRead.Load(), p.linesRead.Load()
}
