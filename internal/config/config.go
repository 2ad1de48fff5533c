// Package config provides configuration management for go-ffmpeg-loop-channel.
package config

import "time"

// EncodingConfig is the per-session encoder configuration. A value of this
// type is treated as an immutable snapshot: the supervisor copies it when a
// session is spawned, so a reload only affects the next track.
type EncodingConfig struct {
	// FFmpegPath is the path to the FFmpeg binary.
	FFmpegPath string `json:"ffmpeg_path"`

	// SinkAddress is the outbound destination (e.g. rtmp://host/live/key).
	SinkAddress string `json:"sink_address"`

	// AudioURL is the live audio source muxed over the loop.
	AudioURL string `json:"audio_url"`

	VideoEncoder    string `json:"video_encoder"`
	Preset          string `json:"preset"`
	VideoBitrate    string `json:"video_bitrate"`
	AudioBitrate    string `json:"audio_bitrate"`
	AudioSampleRate int    `json:"audio_sample_rate"`
	Resolution      string `json:"resolution"` // WIDTHxHEIGHT
	FPS             int    `json:"fps"`
	PixelFormat     string `json:"pixel_format"`
	GOPSeconds      int    `json:"gop_seconds"`
	OutputFormat    string `json:"output_format"`

	// Fade-in applied to the replacement session so the overlap masks the cut.
	VideoFadeIn time.Duration `json:"video_fade_in"`
	AudioFadeIn time.Duration `json:"audio_fade_in"`

	// Overlap is how long old and new sessions run concurrently on a switch.
	Overlap time.Duration `json:"overlap"`

	// Restart budget consumed by the recovery policy.
	MaxRestartAttempts int           `json:"max_restart_attempts"`
	RestartCooldown    time.Duration `json:"restart_cooldown"`

	// LogLevel is the FFmpeg -loglevel (diagnostic verbosity).
	LogLevel string `json:"ffmpeg_log_level"`

	// ThreadQueueSize is the -thread_queue_size for the live audio input.
	ThreadQueueSize int `json:"thread_queue_size"`
}

// Config holds all configuration options for the channel.
type Config struct {
	Encoding EncodingConfig `json:"encoding"`

	// Channel
	LoopDir     string `json:"loop_dir"`
	DefaultLoop string `json:"default_loop"`
	LoopExt     string `json:"loop_ext"`
	ConfigFile  string `json:"config_file"`
	LockFile    string `json:"lock_file"`

	// Supervisor timing
	StartupTimeout time.Duration `json:"startup_timeout"`
	StartupGrace   time.Duration `json:"startup_grace"`
	GraceTimeout   time.Duration `json:"grace_timeout"`
	KillTimeout    time.Duration `json:"kill_timeout"`

	// Recovery policy
	AutoRecovery       bool          `json:"auto_recovery"`
	StabilityWindow    time.Duration `json:"stability_window"` // 0 = restart count never resets
	RecoveryWindow     time.Duration `json:"recovery_window"`
	AudioRetryInterval time.Duration `json:"audio_retry_interval"`
	AudioMaxRetries    int           `json:"audio_max_retries"`
	HistorySize        int           `json:"history_size"`

	// Health monitor
	HealthInterval     time.Duration `json:"health_interval"`
	FreezeTimeout      time.Duration `json:"freeze_timeout"`
	BitrateCollapsePct float64       `json:"bitrate_collapse_pct"`
	BaselineSamples    int           `json:"baseline_samples"`

	// Output parsing
	StatsBufferSize       int   `json:"stats_buffer_size"`
	MaxErrorEvents        int   `json:"max_error_events"`
	DroppedFrameThreshold int64 `json:"dropped_frame_threshold"`

	// Observability
	ListenAddr string `json:"listen_addr"`
	LogFormat  string `json:"log_format"` // json, text, auto
	LogLevel   string `json:"log_level"`
	Verbose    bool   `json:"verbose"`
	TUIEnabled bool   `json:"tui"`

	// Diagnostic modes
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultEncodingConfig returns encoder settings suitable for a 1080p30
// RTMP channel.
func DefaultEncodingConfig() EncodingConfig {
	return EncodingConfig{
		FFmpegPath:         "ffmpeg",
		VideoEncoder:       "libx264",
		Preset:             "veryfast",
		VideoBitrate:       "4500k",
		AudioBitrate:       "160k",
		AudioSampleRate:    44100,
		Resolution:         "1920x1080",
		FPS:                30,
		PixelFormat:        "yuv420p",
		GOPSeconds:         2,
		OutputFormat:       "flv",
		VideoFadeIn:        time.Second,
		AudioFadeIn:        time.Second,
		Overlap:            2 * time.Second,
		MaxRestartAttempts: 3,
		RestartCooldown:    60 * time.Second,
		LogLevel:           "info",
		ThreadQueueSize:    512,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Encoding: DefaultEncodingConfig(),

		LoopExt:  ".mp4",
		LockFile: "/tmp/loop-channel.lock",

		StartupTimeout: 10 * time.Second,
		StartupGrace:   3 * time.Second,
		GraceTimeout:   5 * time.Second,
		KillTimeout:    3 * time.Second,

		AutoRecovery:       true,
		StabilityWindow:    10 * time.Minute,
		RecoveryWindow:     10 * time.Minute,
		AudioRetryInterval: 30 * time.Second,
		AudioMaxRetries:    20,
		HistorySize:        100,

		HealthInterval:     5 * time.Second,
		FreezeTimeout:      15 * time.Second,
		BitrateCollapsePct: 0.5,
		BaselineSamples:    12,

		StatsBufferSize:       1000,
		MaxErrorEvents:        100,
		DroppedFrameThreshold: 50,

		ListenAddr: "127.0.0.1:17092",
		LogFormat:  "auto",
		LogLevel:   "info",
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
