package parser

import (
	"regexp"
)

// Category classifies an FFmpeg diagnostic line.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConnectionFailed
	CategoryFileNotFound
	CategoryInvalidCodec
	CategorySinkError
	CategoryEncoderError
	CategoryDecoderError
	CategoryMemoryError
	CategoryIOError
	CategoryStreamError
	CategoryAudioError
	CategoryVideoError
)

var categoryNames = [...]string{
	CategoryUnknown:          "unknown",
	CategoryConnectionFailed: "connection_failed",
	CategoryFileNotFound:     "file_not_found",
	CategoryInvalidCodec:     "invalid_codec",
	CategorySinkError:        "sink_error",
	CategoryEncoderError:     "encoder_error",
	CategoryDecoderError:     "decoder_error",
	CategoryMemoryError:      "memory_error",
	CategoryIOError:          "io_error",
	CategoryStreamError:      "stream_error",
	CategoryAudioError:       "audio_error",
	CategoryVideoError:       "video_error",
}

// String returns the snake_case name used in logs and metric labels.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// MarshalText encodes the category by name.
func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Categories returns every category in declaration order.
func Categories() []Category {
	out := make([]Category, len(categoryNames))
	for i := range categoryNames {
		out[i] = Category(i)
	}
	return out
}

// Severity is either a warning or fatal.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityFatal
)

// String returns "warning" or "fatal".
func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "warning"
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Rule maps a stderr pattern to a category and severity.
type Rule struct {
	Name     string
	Pattern  *regexp.Regexp
	Category Category
	Severity Severity
}

// Pre-compiled patterns. Rules are checked in order; the first match wins, so
// specific patterns come before the generic catch-all.
var (
	reConnectionFailed = regexp.MustCompile(
		`(?i)Connection refused|Connection timed out|Network is unreachable|` +
			`No route to host|Failed to resolve hostname|Name or service not known|` +
			`Server returned 5\d\d|Server returned 4\d\d`)

	reSinkError = regexp.MustCompile(
		`(?i)RTMP_Connect|RTMP_SendPacket|rtmp.*(error|failed)|Broken pipe|` +
			`Connection reset by peer|av_interleaved_write_frame\(\)|` +
			`Error writing trailer|srt.*(error|failed)`)

	reFileNotFound = regexp.MustCompile(
		`(?i)No such file or directory|Permission denied|Invalid data found when processing input`)

	reInvalidCodec = regexp.MustCompile(
		`(?i)Unknown encoder|Unknown decoder|Encoder not found|Decoder not found|` +
			`codec not currently supported|Unsupported codec|Could not find codec parameters`)

	reMemoryError = regexp.MustCompile(
		`(?i)Cannot allocate memory|Out of memory|Failed to allocate`)

	reEncoderError = regexp.MustCompile(
		`(?i)Error while opening encoder|Error initializing output stream|` +
			`Error submitting .*to the encoder|Conversion failed!|Error sending frames to consumers`)

	reIOError = regexp.MustCompile(
		`(?i)Input/output error|I/O error|End of file|Immediate exit requested`)

	reDecoderError = regexp.MustCompile(
		`(?i)Error while decoding|decode_slice_header error|error while decoding MB|` +
			`concealing \d+ (DC|AC|MV) errors|corrupt (decoded )?frame|Invalid NAL unit`)

	reVideoError = regexp.MustCompile(
		`(?i)\[(h264|hevc|libx264|libx265|mpeg4|vp8|vp9|av1|scale|swscaler|Parsed_fade).*\].*(error|invalid|failed)`)

	reAudioError = regexp.MustCompile(
		`(?i)\[(aac|mp3|mp3float|opus|vorbis|flac|pcm_\w+|aresample|Parsed_afade).*\].*(error|invalid|failed)|` +
			`Audio packet.*dropped|audio.*underrun`)

	reStreamError = regexp.MustCompile(
		`(?i)Non-monotonous DTS|non monotonically increasing dts|` +
			`DTS .*out of order|PTS .*out of order|pts has no value|` +
			`Timestamps are unset|Too many packets buffered|Past duration .* too large`)

	reThreadQueue = regexp.MustCompile(
		`(?i)Thread message queue blocking|consider raising the thread_queue_size`)

	reGeneric = regexp.MustCompile(`(?i)\berror\b|\bfailed\b`)
)

// DefaultRules is the rule table used when no custom table is supplied.
var DefaultRules = []Rule{
	{Name: "connection_failed", Pattern: reConnectionFailed, Category: CategoryConnectionFailed, Severity: SeverityFatal},
	{Name: "sink", Pattern: reSinkError, Category: CategorySinkError, Severity: SeverityFatal},
	{Name: "file_not_found", Pattern: reFileNotFound, Category: CategoryFileNotFound, Severity: SeverityFatal},
	{Name: "invalid_codec", Pattern: reInvalidCodec, Category: CategoryInvalidCodec, Severity: SeverityFatal},
	{Name: "memory", Pattern: reMemoryError, Category: CategoryMemoryError, Severity: SeverityFatal},
	{Name: "encoder", Pattern: reEncoderError, Category: CategoryEncoderError, Severity: SeverityFatal},
	{Name: "io", Pattern: reIOError, Category: CategoryIOError, Severity: SeverityFatal},
	{Name: "decoder", Pattern: reDecoderError, Category: CategoryDecoderError, Severity: SeverityWarning},
	{Name: "video", Pattern: reVideoError, Category: CategoryVideoError, Severity: SeverityWarning},
	{Name: "audio", Pattern: reAudioError, Category: CategoryAudioError, Severity: SeverityWarning},
	{Name: "thread_queue", Pattern: reThreadQueue, Category: CategoryStreamError, Severity: SeverityWarning},
	{Name: "timestamps", Pattern: reStreamError, Category: CategoryStreamError, Severity: SeverityWarning},
	{Name: "generic", Pattern: reGeneric, Category: CategoryUnknown, Severity: SeverityWarning},
}

// InputRules returns rules that attribute fatal errors to a specific input or
// output URL. FFmpeg prefixes open failures with the URL ("<url>: Connection
// refused"), so these must run before DefaultRules.
func InputRules(audioURL, sinkAddress string) []Rule {
	var rules []Rule
	if audioURL != "" {
		rules = append(rules, Rule{
			Name:     "audio_input",
			Pattern:  regexp.MustCompile(`^` + regexp.QuoteMeta(audioURL) + `:\s`),
			Category: CategoryAudioError,
			Severity: SeverityFatal,
		})
	}
	if sinkAddress != "" {
		rules = append(rules, Rule{
			Name:     "sink_output",
			Pattern:  regexp.MustCompile(`^` + regexp.QuoteMeta(sinkAddress) + `:\s`),
			Category: CategorySinkError,
			Severity: SeverityFatal,
		})
	}
	return rules
}

// Classify returns the first rule in rules that matches line.
func Classify(rules []Rule, line string) (Rule, bool) {
	for _, r := range rules {
		if r.Pattern.MatchString(line) {
			return r, true
		}
	}
	return Rule{}, false
}
