// Package parser turns FFmpeg output into metric samples and classified
// error events.
//
// This file implements the ProgressParser which parses FFmpeg's -progress pipe:1
// output format. The output is a series of key=value pairs, with each block
// terminated by a "progress=continue" or "progress=end" line.
//
// Tested FFmpeg Version:
//
//	ffmpeg version 8.0 Copyright (c) 2000-2025 the FFmpeg developers
//
// If parsing breaks after an FFmpeg upgrade, the -progress output format may
// have changed.
//
// Example FFmpeg progress output:
//
//	frame=60
//	fps=30.00
//	bitrate=4512.0kbits/s
//	total_size=1128000
//	out_time_us=2000000
//	dup_frames=0
//	drop_frames=0
//	speed=1.00x
//	progress=continue
package parser

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// progressKeys is the set of keys FFmpeg writes in a -progress block.
var progressKeys = map[string]struct{}{
	"frame":        {},
	"fps":          {},
	"bitrate":      {},
	"total_size":   {},
	"out_time_us":  {},
	"out_time_ms":  {},
	"out_time":     {},
	"dup_frames":   {},
	"drop_frames":  {},
	"speed":        {},
	"progress":     {},
	"stream_0_0_q": {},
	"stream_0_1_q": {},
}

// ProgressUpdate represents a single progress report from FFmpeg.
//
// Each update contains cumulative values since the process started.
type ProgressUpdate struct {
	// Frame count (cumulative)
	Frame int64

	// Frames per second (current)
	FPS float64

	// Current bitrate as string (e.g., "4512.0kbits/s", "N/A")
	Bitrate string

	// Total bytes written (cumulative)
	TotalSize int64

	// Output position in microseconds (cumulative)
	OutTimeUS int64

	// Frames dropped / duplicated by the rate control (cumulative)
	DropFrames int64
	DupFrames  int64

	// Encoding speed relative to realtime (1.0 = realtime)
	Speed float64

	// SpeedValid is false when FFmpeg reported "N/A"
	SpeedValid bool

	// Progress status: "continue" or "end"
	Progress string

	// Timestamp when this update was received
	ReceivedAt time.Time
}

// ProgressCallback is called for each complete progress update.
// The callback receives a copy of the update, so it's safe to store.
type ProgressCallback func(*ProgressUpdate)

// ProgressParser parses FFmpeg -progress pipe:1 output.
//
// Thread-safe: can be called from multiple goroutines.
type ProgressParser struct {
	callback ProgressCallback

	mu      sync.Mutex
	current *ProgressUpdate

	blocksReceived int64
	linesProcessed int64
}

// NewProgressParser creates a new progress parser with the given callback.
//
// The callback is invoked synchronously for each complete progress block
// (when the "progress=" line is received). Pass nil to only count blocks.
func NewProgressParser(cb ProgressCallback) *ProgressParser {
	return &ProgressParser{
		callback: cb,
		current:  &ProgressUpdate{},
	}
}

// ParseLine parses one line and accumulates it until a "progress=" line
// completes the block.
func (p *ProgressParser) ParseLine(line string) {
	key, value, ok := parseKeyValue(line)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.linesProcessed++

	switch key {
	case "frame":
		p.current.Frame, _ = strconv.ParseInt(value, 10, 64)

	case "fps":
		p.current.FPS, _ = strconv.ParseFloat(value, 64)

	case "bitrate":
		p.current.Bitrate = value

	case "total_size":
		if value != "N/A" && value != "" {
			p.current.TotalSize, _ = strconv.ParseInt(value, 10, 64)
		}

	case "out_time_us":
		p.current.OutTimeUS, _ = strconv.ParseInt(value, 10, 64)

	case "drop_frames":
		p.current.DropFrames, _ = strconv.ParseInt(value, 10, 64)

	case "dup_frames":
		p.current.DupFrames, _ = strconv.ParseInt(value, 10, 64)

	case "speed":
		p.current.Speed, p.current.SpeedValid = parseSpeed(value)

	case "progress":
		p.current.Progress = value
		p.current.ReceivedAt = time.Now()

		p.blocksReceived++
		if p.callback != nil {
			update := *p.current // copy
			p.callback(&update)
		}

		p.current = &ProgressUpdate{}
	}
}

// Stats returns parser statistics.
func (p *ProgressParser) Stats() (blocksReceived, linesProcessed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocksReceived, p.linesProcessed
}

// Current returns the current (incomplete) progress update.
func (p *ProgressParser) Current() *ProgressUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *p.current
	return &cp
}

// Reset discards any partially accumulated block.
func (p *ProgressParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = &ProgressUpdate{}
	p.blocksReceived = 0
	p.linesProcessed = 0
}

// isProgressLine reports whether line is a bare key=value pair from a
// -progress block.
func isProgressLine(line string) bool {
	if strings.ContainsAny(line, " \t") {
		return false
	}
	key, _, ok := parseKeyValue(line)
	if !ok {
		return false
	}
	_, known := progressKeys[key]
	return known
}

// parseKeyValue splits "key=value" into parts.
//
// Returns empty strings and false if the line doesn't contain '='.
func parseKeyValue(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], line[idx+1:], true
}

// parseSpeed converts FFmpeg speed string to float64.
//
// Examples:
//   - "1.00x" -> 1.0, true
//   - "0.95x" -> 0.95, true
//   - "N/A"   -> 0, false
//   - ""      -> 0, false
func parseSpeed(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "x"))
	if s == "N/A" || s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// parseBitrateKbps converts "4512.0kbits/s" to 4512. ok is false for "N/A".
func parseBitrateKbps(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	mult, div := 1.0, 1.0
	switch {
	case strings.HasSuffix(s, "kbits/s"):
		s = strings.TrimSuffix(s, "kbits/s")
	case strings.HasSuffix(s, "Mbits/s"):
		s = strings.TrimSuffix(s, "Mbits/s")
		mult = 1000
	case strings.HasSuffix(s, "bits/s"):
		s = strings.TrimSuffix(s, "bits/s")
		div = 1000
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f * mult / div, true
}

// BitrateKbps returns the bitrate in kbit/s. ok is false when FFmpeg
// reported "N/A".
func (u *ProgressUpdate) BitrateKbps() (float64, bool) {
	return parseBitrateKbps(u.Bitrate)
}

// OutTimeDuration returns the output position as a time.Duration.
func (u *ProgressUpdate) OutTimeDuration() time.Duration {
	return time.Duration(u.OutTimeUS) * time.Microsecond
}

// IsStalling returns true if encoding is slower than realtime.
//
// The loop is read with -re, so a sustained speed below 0.9 means the encoder
// or the sink cannot keep up.
func (u *ProgressUpdate) IsStalling() bool {
	if !u.SpeedValid || u.Speed == 0 {
		return false
	}
	return u.Speed < 0.9
}

// IsEnd returns true if this is the final progress update.
func (u *ProgressUpdate) IsEnd() bool {
	return u.Progress == "end"
}
