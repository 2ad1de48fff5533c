package process

import (
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
)

// Params are the per-call inputs of Build. Empty AudioURL and SinkAddress
// fall back to the values in the encoding config.
type Params struct {
	// LoopPath is the visual loop file, played with infinite looping.
	LoopPath string

	// AudioURL overrides the configured live audio source.
	AudioURL string

	// SinkAddress overrides the configured output sink.
	SinkAddress string

	// FadeIn enables the video/audio fade-in filters. Switches use it so the
	// replacement fades in over the outgoing session.
	FadeIn bool
}

// Build constructs the FFmpeg command-line arguments for one encoder session.
//
// Build is deterministic: identical inputs always produce identical output.
// It reads no clock, environment or global state.
func Build(cfg config.EncodingConfig, p Params) []string {
	audioURL := p.AudioURL
	if audioURL == "" {
		audioURL = cfg.AudioURL
	}
	sink := p.SinkAddress
	if sink == "" {
		sink = cfg.SinkAddress
	}

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", cfg.LogLevel,
		// Progress output to stdout (key=value format) for metrics parsing
		"-progress", "pipe:1",
		"-stats_period", "1",
	}

	// Input 0: the loop, read at native rate and repeated forever
	args = append(args,
		"-stream_loop", "-1",
		"-re",
		"-i", p.LoopPath,
	)

	// Input 1: live audio
	args = append(args,
		"-thread_queue_size", strconv.Itoa(cfg.ThreadQueueSize),
		"-i", audioURL,
	)

	// Video from the loop, audio from the live source
	args = append(args, "-map", "0:v:0", "-map", "1:a:0")

	args = append(args, "-vf", videoFilter(cfg, p.FadeIn))
	args = append(args, videoArgs(cfg)...)
	args = append(args, audioArgs(cfg, p.FadeIn)...)

	args = append(args, "-f", cfg.OutputFormat, sink)
	return args
}

// videoFilter returns the -vf chain: optional fade-in, then scale and
// pixel-format normalization so every loop file produces identical output.
func videoFilter(cfg config.EncodingConfig, fadeIn bool) string {
	var filters []string
	if fadeIn && cfg.VideoFadeIn > 0 {
		filters = append(filters, "fade=t=in:st=0:d="+formatSeconds(cfg.VideoFadeIn))
	}
	filters = append(filters,
		"scale="+strings.Replace(cfg.Resolution, "x", ":", 1),
		"format="+cfg.PixelFormat,
	)
	return strings.Join(filters, ",")
}

func videoArgs(cfg config.EncodingConfig) []string {
	args := []string{
		"-c:v", cfg.VideoEncoder,
		"-preset", cfg.Preset,
		"-b:v", cfg.VideoBitrate,
		"-maxrate", cfg.VideoBitrate,
		"-bufsize", doubleBitrate(cfg.VideoBitrate),
		"-r", strconv.Itoa(cfg.FPS),
		"-g", strconv.Itoa(cfg.FPS * cfg.GOPSeconds),
	}
	return args
}

func audioArgs(cfg config.EncodingConfig, fadeIn bool) []string {
	args := []string{
		"-c:a", "aac",
		"-b:a", cfg.AudioBitrate,
		"-ar", strconv.Itoa(cfg.AudioSampleRate),
	}
	if fadeIn && cfg.AudioFadeIn > 0 {
		args = append(args, "-af", "afade=t=in:st=0:d="+formatSeconds(cfg.AudioFadeIn))
	}
	return args
}

// formatSeconds renders a duration as seconds with no trailing zeros
// (1s -> "1", 1500ms -> "1.5").
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// doubleBitrate returns twice the given bitrate ("4500k" -> "9000k") for the
// rate-control buffer. Unparseable values are returned unchanged.
func doubleBitrate(rate string) string {
	if rate == "" {
		return rate
	}
	unit := ""
	num := rate
	if last := rate[len(rate)-1]; last < '0' || last > '9' {
		unit = rate[len(rate)-1:]
		num = rate[:len(rate)-1]
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return rate
	}
	return strconv.FormatFloat(v*2, 'f', -1, 64) + unit
}

// CommandString renders binary plus args as a single shell-pastable line.
// It formats the exact slice Build returns, so the logged command can never
// drift from the executed one.
func CommandString(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(binary))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes s when it contains characters a POSIX shell
// would interpret.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!&|;<>()*?[]{}#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
