package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/timeseries"
)

// MetricSample is the most recent set of encoder metrics. Later lines
// overwrite earlier values.
type MetricSample struct {
	Timestamp        time.Time     `json:"timestamp"`
	Frame            int64         `json:"frame"`
	FPS              float64       `json:"fps"`
	BitrateKbps      float64       `json:"bitrate_kbps"`
	Speed            float64       `json:"speed"`
	DroppedFrames    int64         `json:"dropped_frames"`
	DuplicatedFrames int64         `json:"duplicated_frames"`
	// QueueDepth counts input thread-queue blocking warnings since the
	// previous sample. It drops back to zero once the queue keeps up.
	QueueDepth       int64         `json:"queue_depth"`
	OutTime          time.Duration `json:"out_time"`
}

// ErrorEvent is one classified diagnostic line.
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Rule      string    `json:"rule"`
	Line      string    `json:"line"`
}

// IsFatal reports whether the event has fatal severity.
func (e ErrorEvent) IsFatal() bool {
	return e.Severity == SeverityFatal
}

// Summary aggregates a session's parsed output.
type Summary struct {
	Latest           MetricSample   `json:"latest"`
	Samples          int64          `json:"samples"`
	AvgFPS           float64        `json:"avg_fps"`
	SpeedP50         float64        `json:"speed_p50"`
	SpeedP05         float64        `json:"speed_p05"`
	ErrorsByCategory map[string]int `json:"errors_by_category"`
	FatalErrors      int            `json:"fatal_errors"`
	QueueWarnings    int64          `json:"queue_warnings"`
	LinesParsed      int64          `json:"lines_parsed"`
	Healthy          bool           `json:"healthy"`
}

// Options configures an OutputParser.
type Options struct {
	// Rules is the classification table; DefaultRules when nil.
	Rules []Rule

	// MaxErrors bounds the retained event list (default 100).
	MaxErrors int

	// DroppedFrameThreshold is the dropped-frame count at which the stream is
	// no longer healthy (default 50).
	DroppedFrameThreshold int64

	// RecentLines is the size of the raw output tail (default 50).
	RecentLines int

	// Clock stamps samples and events; RealClock when nil.
	Clock timeseries.Clock
}

// statsFieldRe matches "key= value" pairs in the classic stderr stats line:
//
//	frame=  250 fps= 30 q=28.0 size=    1024KiB time=00:00:08.33 bitrate=1006.6kbits/s dup=0 drop=2 speed=1.00x
var (
	statsLineRe  = regexp.MustCompile(`^frame=\s*\d+`)
	statsFieldRe = regexp.MustCompile(`(\w+)=\s*(\S+)`)
)

// OutputParser consumes the output lines of one encoder session and keeps
// the latest metrics, a bounded list of classified errors and a raw tail.
//
// Thread-safe. Reset must be called before a parser is reused for another
// session.
type OutputParser struct {
	rules          []Rule
	maxErrors      int
	dropThreshold  int64
	recentCapacity int
	clock          timeseries.Clock

	progress *ProgressParser

	mu          sync.Mutex
	latest      MetricSample
	samples     int64
	fpsSum      float64
	speed       *tdigest.TDigest
	errors      []ErrorEvent
	fatalCount  int
	byCategory  map[Category]int
	recent      []string
	recentNext  int
	linesParsed int64

	// Thread-queue warnings since the last sample, and for the session.
	queueWarnings      int64
	queueWarningsTotal int64
}

// NewOutputParser creates a parser with the given options.
func NewOutputParser(opts Options) *OutputParser {
	if opts.Rules == nil {
		opts.Rules = DefaultRules
	}
	if opts.MaxErrors < 1 {
		opts.MaxErrors = 100
	}
	if opts.DroppedFrameThreshold < 1 {
		opts.DroppedFrameThreshold = 50
	}
	if opts.RecentLines < 1 {
		opts.RecentLines = 50
	}
	if opts.Clock == nil {
		opts.Clock = timeseries.RealClock{}
	}

	p := &OutputParser{
		rules:          opts.Rules,
		maxErrors:      opts.MaxErrors,
		dropThreshold:  opts.DroppedFrameThreshold,
		recentCapacity: opts.RecentLines,
		clock:          opts.Clock,
	}
	// The callback runs synchronously inside ParseLine, with p.mu held.
	p.progress = NewProgressParser(p.applyProgress)
	p.resetLocked()
	return p
}

// Reset clears all metrics, errors and the tail.
func (p *OutputParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.progress.Reset()
}

func (p *OutputParser) resetLocked() {
	p.latest = MetricSample{}
	p.samples = 0
	p.fpsSum = 0
	p.speed = tdigest.NewWithCompression(100)
	p.errors = make([]ErrorEvent, 0, p.maxErrors)
	p.fatalCount = 0
	p.byCategory = make(map[Category]int)
	p.recent = make([]string, 0, p.recentCapacity)
	p.recentNext = 0
	p.linesParsed = 0
	p.queueWarnings = 0
	p.queueWarningsTotal = 0
}

// ParseLine parses one line of encoder output. It returns the classified
// event when the line is a diagnostic, nil otherwise.
//
// A line holding several carriage-return separated stats updates is split and
// each part parsed; the last event (if any) is returned.
func (p *OutputParser) ParseLine(line string) *ErrorEvent {
	if strings.IndexByte(line, '\r') >= 0 {
		var last *ErrorEvent
		for _, part := range strings.Split(line, "\r") {
			if part == "" {
				continue
			}
			if ev := p.ParseLine(part); ev != nil {
				last = ev
			}
		}
		return last
	}

	line = strings.TrimRight(line, " \t")
	if line == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.linesParsed++
	p.pushRecentLocked(line)

	switch {
	case statsLineRe.MatchString(line) && strings.Contains(line, " "):
		p.applyStatsLineLocked(line)
		return nil
	case isProgressLine(line):
		p.progress.ParseLine(line)
		return nil
	}

	rule, ok := Classify(p.rules, line)
	if !ok {
		return nil
	}

	ev := ErrorEvent{
		Timestamp: p.clock.Now(),
		Category:  rule.Category,
		Severity:  rule.Severity,
		Rule:      rule.Name,
		Line:      line,
	}
	if rule.Name == "thread_queue" {
		p.queueWarnings++
		p.queueWarningsTotal++
		p.latest.QueueDepth = p.queueWarnings
	}

	if len(p.errors) >= p.maxErrors {
		copy(p.errors, p.errors[1:])
		p.errors = p.errors[:len(p.errors)-1]
	}
	p.errors = append(p.errors, ev)
	p.byCategory[ev.Category]++
	if ev.IsFatal() {
		p.fatalCount++
	}
	return &ev
}

// applyProgress is the ProgressParser callback. Called with p.mu held.
func (p *OutputParser) applyProgress(u *ProgressUpdate) {
	s := p.latest
	s.Timestamp = p.clock.Now()
	s.Frame = u.Frame
	s.FPS = u.FPS
	if kbps, ok := u.BitrateKbps(); ok {
		s.BitrateKbps = kbps
	}
	if u.SpeedValid {
		s.Speed = u.Speed
	}
	s.DroppedFrames = u.DropFrames
	s.DuplicatedFrames = u.DupFrames
	s.OutTime = u.OutTimeDuration()
	p.recordSampleLocked(s, u.SpeedValid)
}

// applyStatsLineLocked parses the stderr stats line.
func (p *OutputParser) applyStatsLineLocked(line string) {
	s := p.latest
	s.Timestamp = p.clock.Now()
	speedValid := false

	for _, m := range statsFieldRe.FindAllStringSubmatch(line, -1) {
		key, value := m[1], m[2]
		switch key {
		case "frame":
			s.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			s.FPS, _ = strconv.ParseFloat(value, 64)
		case "bitrate":
			if kbps, ok := parseBitrateKbps(value); ok {
				s.BitrateKbps = kbps
			}
		case "speed":
			if v, ok := parseSpeed(value); ok {
				s.Speed = v
				speedValid = true
			}
		case "drop":
			s.DroppedFrames, _ = strconv.ParseInt(value, 10, 64)
		case "dup":
			s.DuplicatedFrames, _ = strconv.ParseInt(value, 10, 64)
		case "time":
			if d, ok := parseClockTime(value); ok {
				s.OutTime = d
			}
		}
	}
	p.recordSampleLocked(s, speedValid)
}

func (p *OutputParser) recordSampleLocked(s MetricSample, speedValid bool) {
	s.QueueDepth = p.queueWarnings
	p.queueWarnings = 0
	p.latest = s
	p.samples++
	p.fpsSum += s.FPS
	if speedValid {
		p.speed.Add(s.Speed, 1)
	}
}

func (p *OutputParser) pushRecentLocked(line string) {
	if len(p.recent) < p.recentCapacity {
		p.recent = append(p.recent, line)
		return
	}
	p.recent[p.recentNext] = line
	p.recentNext = (p.recentNext + 1) % p.recentCapacity
}

// Latest returns the most recent metric sample.
func (p *OutputParser) Latest() MetricSample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// HasSamples reports whether any metrics line has been parsed since Reset.
func (p *OutputParser) HasSamples() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples > 0
}

// Errors returns a copy of the retained events, oldest first.
func (p *OutputParser) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// CriticalErrors returns the retained fatal events, oldest first.
func (p *OutputParser) CriticalErrors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ErrorEvent
	for _, e := range p.errors {
		if e.IsFatal() {
			out = append(out, e)
		}
	}
	return out
}

// HasFatalErrors reports whether any fatal event was seen since Reset, even
// if it has since been evicted from the bounded list.
func (p *OutputParser) HasFatalErrors() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalCount > 0
}

// IsStreamHealthy reports whether the latest fps is positive, dropped frames
// are under the threshold and no fatal event was seen since Reset.
func (p *OutputParser) IsStreamHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthyLocked()
}

func (p *OutputParser) healthyLocked() bool {
	return p.samples > 0 &&
		p.latest.FPS > 0 &&
		p.latest.DroppedFrames < p.dropThreshold &&
		p.fatalCount == 0
}

// MetricsSummary returns aggregate statistics for the session.
func (p *OutputParser) MetricsSummary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		Latest:           p.latest,
		Samples:          p.samples,
		ErrorsByCategory: make(map[string]int, len(p.byCategory)),
		FatalErrors:      p.fatalCount,
		QueueWarnings:    p.queueWarningsTotal,
		LinesParsed:      p.linesParsed,
		Healthy:          p.healthyLocked(),
	}
	if p.samples > 0 {
		s.AvgFPS = p.fpsSum / float64(p.samples)
	}
	if p.speed.Count() > 0 {
		s.SpeedP50 = p.speed.Quantile(0.50)
		s.SpeedP05 = p.speed.Quantile(0.05)
	}
	for c, n := range p.byCategory {
		s.ErrorsByCategory[c.String()] = n
	}
	return s
}

// RecentLines returns up to n of the most recent raw lines, oldest first.
func (p *OutputParser) RecentLines(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(p.recent)
	if n <= 0 || n > size {
		n = size
	}
	out := make([]string, 0, n)
	// The oldest entry sits at recentNext once the ring is full.
	start := 0
	if size == p.recentCapacity {
		start = p.recentNext
	}
	for i := size - n; i < size; i++ {
		out = append(out, p.recent[(start+i)%size])
	}
	return out
}

// parseClockTime converts "HH:MM:SS.ss" to a duration.
func parseClockTime(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), true
}
