package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	reResolution = regexp.MustCompile(`^\d{2,5}x\d{2,5}$`)
	reBitrate    = regexp.MustCompile(`^\d+(\.\d+)?[kKmM]?$`)
)

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	enc := cfg.Encoding

	if enc.SinkAddress == "" {
		add("sink_address", "output sink address is required")
	} else if err := validateAddress(enc.SinkAddress); err != nil {
		add("sink_address", "%v", err)
	}

	if enc.AudioURL == "" {
		add("audio_url", "live audio source is required")
	} else if err := validateAddress(enc.AudioURL); err != nil {
		add("audio_url", "%v", err)
	}

	if enc.FFmpegPath == "" {
		add("ffmpeg_path", "must not be empty")
	}
	if enc.VideoEncoder == "" {
		add("video_encoder", "must not be empty")
	}
	if !reResolution.MatchString(enc.Resolution) {
		add("resolution", "must be WIDTHxHEIGHT (got %q)", enc.Resolution)
	}
	if !reBitrate.MatchString(enc.VideoBitrate) {
		add("video_bitrate", "must look like 4500k or 4.5M (got %q)", enc.VideoBitrate)
	}
	if !reBitrate.MatchString(enc.AudioBitrate) {
		add("audio_bitrate", "must look like 160k (got %q)", enc.AudioBitrate)
	}
	if enc.FPS < 1 {
		add("fps", "must be at least 1")
	}
	if enc.GOPSeconds < 1 {
		add("gop_seconds", "must be at least 1")
	}
	if enc.AudioSampleRate < 8000 {
		add("audio_sample_rate", "must be at least 8000 (got %d)", enc.AudioSampleRate)
	}
	if enc.ThreadQueueSize < 1 {
		add("thread_queue_size", "must be at least 1")
	}
	if enc.VideoFadeIn < 0 || enc.AudioFadeIn < 0 {
		add("fade_in", "must not be negative")
	}
	if enc.Overlap < 0 {
		add("overlap", "must not be negative")
	}
	if enc.MaxRestartAttempts < 0 {
		add("max_restart_attempts", "must not be negative")
	}
	if enc.RestartCooldown < 0 {
		add("restart_cooldown", "must not be negative")
	}

	if cfg.DefaultLoop == "" {
		add("default_loop", "fallback loop file is required")
	}

	positive := []struct {
		field string
		value time.Duration
	}{
		{"startup_timeout", cfg.StartupTimeout},
		{"grace_timeout", cfg.GraceTimeout},
		{"kill_timeout", cfg.KillTimeout},
		{"health_interval", cfg.HealthInterval},
		{"freeze_timeout", cfg.FreezeTimeout},
		{"audio_retry_interval", cfg.AudioRetryInterval},
		{"recovery_window", cfg.RecoveryWindow},
	}
	for _, p := range positive {
		if p.value <= 0 {
			add(p.field, "must be positive")
		}
	}
	if cfg.StartupGrace <= 0 || cfg.StartupGrace > cfg.StartupTimeout {
		add("startup_grace", "must be positive and no longer than startup_timeout")
	}
	if cfg.StabilityWindow < 0 {
		add("stability_window", "must not be negative")
	}

	if cfg.BitrateCollapsePct <= 0 || cfg.BitrateCollapsePct >= 1 {
		add("bitrate_collapse_pct", "must be between 0 and 1 (got %v)", cfg.BitrateCollapsePct)
	}
	if cfg.BaselineSamples < 2 {
		add("baseline_samples", "must be at least 2")
	}
	if cfg.AudioMaxRetries < 0 {
		add("audio_max_retries", "must not be negative")
	}
	if cfg.HistorySize < 1 {
		add("history_size", "must be at least 1")
	}
	if cfg.StatsBufferSize < 1 {
		add("stats_buffer_size", "must be at least 1")
	}
	if cfg.MaxErrorEvents < 1 {
		add("max_error_events", "must be at least 1")
	}

	validFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json', 'text' or 'auto' (got %q)", cfg.LogFormat)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateAddress accepts URLs with a scheme and host (rtmp://, srt://,
// http://) as well as absolute file paths, which FFmpeg also accepts.
func validateAddress(addr string) error {
	if strings.HasPrefix(addr, "/") {
		return nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("address %q must have a scheme or be an absolute path", addr)
	}
	if u.Host == "" && u.Scheme != "file" && u.Scheme != "pipe" {
		return errors.New("address must have a host")
	}
	return nil
}
