package config

import (
	"fmt"
	"sort"

	"github.com/spf13/pflag"
)

// BindFlags registers every configurable option on fs, using the current
// values of cfg as defaults. Parsed values are written straight into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	enc := &cfg.Encoding

	// Encoding
	fs.StringVar(&enc.SinkAddress, "sink", enc.SinkAddress, "Output sink address (e.g. rtmp://host/live/key)")
	fs.StringVar(&enc.AudioURL, "audio", enc.AudioURL, "Live audio source URL")
	fs.StringVar(&enc.FFmpegPath, "ffmpeg", enc.FFmpegPath, "Path to FFmpeg binary")
	fs.StringVar(&enc.VideoEncoder, "encoder", enc.VideoEncoder, "Video encoder")
	fs.StringVar(&enc.Preset, "preset", enc.Preset, "Encoder speed preset")
	fs.StringVar(&enc.VideoBitrate, "video-bitrate", enc.VideoBitrate, "Video bitrate")
	fs.StringVar(&enc.AudioBitrate, "audio-bitrate", enc.AudioBitrate, "Audio bitrate")
	fs.IntVar(&enc.AudioSampleRate, "sample-rate", enc.AudioSampleRate, "Audio sample rate (Hz)")
	fs.StringVar(&enc.Resolution, "resolution", enc.Resolution, "Output resolution WIDTHxHEIGHT")
	fs.IntVar(&enc.FPS, "fps", enc.FPS, "Output frame rate")
	fs.StringVar(&enc.PixelFormat, "pix-fmt", enc.PixelFormat, "Output pixel format")
	fs.IntVar(&enc.GOPSeconds, "gop", enc.GOPSeconds, "Keyframe interval in seconds")
	fs.StringVar(&enc.OutputFormat, "format", enc.OutputFormat, "Output container format")
	fs.DurationVar(&enc.VideoFadeIn, "video-fade", enc.VideoFadeIn, "Video fade-in on track switch (0 disables)")
	fs.DurationVar(&enc.AudioFadeIn, "audio-fade", enc.AudioFadeIn, "Audio fade-in on track switch (0 disables)")
	fs.DurationVar(&enc.Overlap, "overlap", enc.Overlap, "Old/new encoder overlap on track switch")
	fs.IntVar(&enc.MaxRestartAttempts, "max-restarts", enc.MaxRestartAttempts, "Automatic restarts before escalation")
	fs.DurationVar(&enc.RestartCooldown, "restart-cooldown", enc.RestartCooldown, "Minimum time between automatic restarts")
	fs.StringVar(&enc.LogLevel, "ffmpeg-log-level", enc.LogLevel, "FFmpeg -loglevel")
	fs.IntVar(&enc.ThreadQueueSize, "thread-queue", enc.ThreadQueueSize, "Audio input -thread_queue_size")

	// Channel
	fs.StringVar(&cfg.LoopDir, "loop-dir", cfg.LoopDir, "Directory containing per-track loop files")
	fs.StringVar(&cfg.DefaultLoop, "default-loop", cfg.DefaultLoop, "Loop file used when a track has no loop")
	fs.StringVar(&cfg.LoopExt, "loop-ext", cfg.LoopExt, "Loop file extension")
	fs.StringVar(&cfg.LockFile, "lock-file", cfg.LockFile, "Single-instance lock file")

	// Supervisor timing
	fs.DurationVar(&cfg.StartupTimeout, "startup-timeout", cfg.StartupTimeout, "Time allowed for a new encoder to reach running")
	fs.DurationVar(&cfg.StartupGrace, "startup-grace", cfg.StartupGrace, "Survival time that confirms startup without progress output")
	fs.DurationVar(&cfg.GraceTimeout, "grace-timeout", cfg.GraceTimeout, "Wait after SIGTERM before SIGKILL")
	fs.DurationVar(&cfg.KillTimeout, "kill-timeout", cfg.KillTimeout, "Wait after SIGKILL before abandoning the process")

	// Recovery
	fs.BoolVar(&cfg.AutoRecovery, "auto-recovery", cfg.AutoRecovery, "Restart the encoder automatically on crash or degradation")
	fs.DurationVar(&cfg.StabilityWindow, "stability-window", cfg.StabilityWindow, "Healthy uptime that resets the restart count (0 = never)")
	fs.DurationVar(&cfg.RecoveryWindow, "recovery-window", cfg.RecoveryWindow, "Window for the recent recovery attempt count")
	fs.DurationVar(&cfg.AudioRetryInterval, "audio-retry-interval", cfg.AudioRetryInterval, "Interval between audio source retries")
	fs.IntVar(&cfg.AudioMaxRetries, "audio-max-retries", cfg.AudioMaxRetries, "Audio source retries before escalation")
	fs.IntVar(&cfg.HistorySize, "history-size", cfg.HistorySize, "Recovery decisions kept in memory")

	// Health
	fs.DurationVar(&cfg.HealthInterval, "health-interval", cfg.HealthInterval, "Health monitor poll interval")
	fs.DurationVar(&cfg.FreezeTimeout, "freeze-timeout", cfg.FreezeTimeout, "Frame counter stall that counts as a freeze")
	fs.Float64Var(&cfg.BitrateCollapsePct, "bitrate-collapse", cfg.BitrateCollapsePct, "Bitrate drop fraction vs. baseline that counts as a collapse")
	fs.IntVar(&cfg.BaselineSamples, "baseline-samples", cfg.BaselineSamples, "Samples in the bitrate baseline window")

	// Parsing
	fs.IntVar(&cfg.StatsBufferSize, "stats-buffer", cfg.StatsBufferSize, "Lines buffered per output stream (increase if seeing drops)")
	fs.IntVar(&cfg.MaxErrorEvents, "max-errors", cfg.MaxErrorEvents, "Error events kept per session")
	fs.Int64Var(&cfg.DroppedFrameThreshold, "drop-threshold", cfg.DroppedFrameThreshold, "Dropped frames at which a session is unhealthy")

	// Observability
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Metrics/status HTTP address (empty disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json", "text" or "auto"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show the live terminal dashboard")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
}

// Overrides returns the flags explicitly set on fs, keyed by name. The map is
// replayed on top of the config file on every reload so command-line values
// keep precedence.
func Overrides(fs *pflag.FlagSet) map[string]string {
	out := make(map[string]string)
	fs.Visit(func(f *pflag.Flag) {
		out[f.Name] = f.Value.String()
	})
	return out
}

// applyOverrides sets each known override on cfg. Unknown names (flags that
// are not config options, such as --config) are ignored.
func applyOverrides(cfg *Config, overrides map[string]string) error {
	if len(overrides) == 0 {
		return nil
	}
	fs := pflag.NewFlagSet("overrides", pflag.ContinueOnError)
	BindFlags(fs, cfg)

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if fs.Lookup(name) == nil {
			continue
		}
		if err := fs.Set(name, overrides[name]); err != nil {
			return fmt.Errorf("flag --%s: %w", name, err)
		}
	}
	return nil
}
