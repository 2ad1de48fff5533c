package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// File layout. Durations are expressed in (fractional) seconds. Keys that are
// absent from the file keep their current value.
type fileConfig struct {
	Channel       fileChannel       `toml:"channel" yaml:"channel"`
	Encoding      fileEncoding      `toml:"encoding" yaml:"encoding"`
	Supervisor    fileSupervisor    `toml:"supervisor" yaml:"supervisor"`
	Recovery      fileRecovery      `toml:"recovery" yaml:"recovery"`
	Health        fileHealth        `toml:"health" yaml:"health"`
	Observability fileObservability `toml:"observability" yaml:"observability"`
}

type fileChannel struct {
	LoopDir     string `toml:"loop_dir" yaml:"loop_dir"`
	DefaultLoop string `toml:"default_loop" yaml:"default_loop"`
	LoopExt     string `toml:"loop_ext" yaml:"loop_ext"`
	LockFile    string `toml:"lock_file" yaml:"lock_file"`
}

type fileEncoding struct {
	FFmpegPath         string  `toml:"ffmpeg_path" yaml:"ffmpeg_path"`
	SinkAddress        string  `toml:"sink_address" yaml:"sink_address"`
	AudioURL           string  `toml:"audio_url" yaml:"audio_url"`
	VideoEncoder       string  `toml:"video_encoder" yaml:"video_encoder"`
	Preset             string  `toml:"preset" yaml:"preset"`
	VideoBitrate       string  `toml:"video_bitrate" yaml:"video_bitrate"`
	AudioBitrate       string  `toml:"audio_bitrate" yaml:"audio_bitrate"`
	AudioSampleRate    int     `toml:"audio_sample_rate" yaml:"audio_sample_rate"`
	Resolution         string  `toml:"resolution" yaml:"resolution"`
	FPS                int     `toml:"fps" yaml:"fps"`
	PixelFormat        string  `toml:"pixel_format" yaml:"pixel_format"`
	GOPSeconds         int     `toml:"gop_seconds" yaml:"gop_seconds"`
	OutputFormat       string  `toml:"output_format" yaml:"output_format"`
	VideoFadeIn        float64 `toml:"video_fade_in_seconds" yaml:"video_fade_in_seconds"`
	AudioFadeIn        float64 `toml:"audio_fade_in_seconds" yaml:"audio_fade_in_seconds"`
	Overlap            float64 `toml:"overlap_seconds" yaml:"overlap_seconds"`
	MaxRestartAttempts int     `toml:"max_restart_attempts" yaml:"max_restart_attempts"`
	RestartCooldown    float64 `toml:"restart_cooldown_seconds" yaml:"restart_cooldown_seconds"`
	LogLevel           string  `toml:"log_level" yaml:"log_level"`
	ThreadQueueSize    int     `toml:"thread_queue_size" yaml:"thread_queue_size"`
}

type fileSupervisor struct {
	StartupTimeout float64 `toml:"startup_timeout_seconds" yaml:"startup_timeout_seconds"`
	StartupGrace   float64 `toml:"startup_grace_seconds" yaml:"startup_grace_seconds"`
	GraceTimeout   float64 `toml:"grace_timeout_seconds" yaml:"grace_timeout_seconds"`
	KillTimeout    float64 `toml:"kill_timeout_seconds" yaml:"kill_timeout_seconds"`
}

type fileRecovery struct {
	AutoRecovery       bool    `toml:"auto_recovery" yaml:"auto_recovery"`
	StabilityWindow    float64 `toml:"stability_window_seconds" yaml:"stability_window_seconds"`
	RecoveryWindow     float64 `toml:"recovery_window_seconds" yaml:"recovery_window_seconds"`
	AudioRetryInterval float64 `toml:"audio_retry_interval_seconds" yaml:"audio_retry_interval_seconds"`
	AudioMaxRetries    int     `toml:"audio_max_retries" yaml:"audio_max_retries"`
	HistorySize        int     `toml:"history_size" yaml:"history_size"`
}

type fileHealth struct {
	Interval              float64 `toml:"interval_seconds" yaml:"interval_seconds"`
	FreezeTimeout         float64 `toml:"freeze_timeout_seconds" yaml:"freeze_timeout_seconds"`
	BitrateCollapsePct    float64 `toml:"bitrate_collapse_pct" yaml:"bitrate_collapse_pct"`
	BaselineSamples       int     `toml:"baseline_samples" yaml:"baseline_samples"`
	StatsBufferSize       int     `toml:"stats_buffer_size" yaml:"stats_buffer_size"`
	MaxErrorEvents        int     `toml:"max_error_events" yaml:"max_error_events"`
	DroppedFrameThreshold int64   `toml:"dropped_frame_threshold" yaml:"dropped_frame_threshold"`
}

type fileObservability struct {
	ListenAddr string `toml:"listen_addr" yaml:"listen_addr"`
	LogFormat  string `toml:"log_format" yaml:"log_format"`
	LogLevel   string `toml:"log_level" yaml:"log_level"`
}

// LoadFile decodes the file at path on top of cfg. The format is chosen by
// extension: .toml, .yaml or .yml.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := toFile(cfg)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&fc); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&fc); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config file %s: unsupported extension (want .toml, .yaml or .yml)", path)
	}

	fromFile(cfg, &fc)
	return nil
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func duration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func toFile(cfg *Config) fileConfig {
	enc := cfg.Encoding
	return fileConfig{
		Channel: fileChannel{
			LoopDir:     cfg.LoopDir,
			DefaultLoop: cfg.DefaultLoop,
			LoopExt:     cfg.LoopExt,
			LockFile:    cfg.LockFile,
		},
		Encoding: fileEncoding{
			FFmpegPath:         enc.FFmpegPath,
			SinkAddress:        enc.SinkAddress,
			AudioURL:           enc.AudioURL,
			VideoEncoder:       enc.VideoEncoder,
			Preset:             enc.Preset,
			VideoBitrate:       enc.VideoBitrate,
			AudioBitrate:       enc.AudioBitrate,
			AudioSampleRate:    enc.AudioSampleRate,
			Resolution:         enc.Resolution,
			FPS:                enc.FPS,
			PixelFormat:        enc.PixelFormat,
			GOPSeconds:         enc.GOPSeconds,
			OutputFormat:       enc.OutputFormat,
			VideoFadeIn:        seconds(enc.VideoFadeIn),
			AudioFadeIn:        seconds(enc.AudioFadeIn),
			Overlap:            seconds(enc.Overlap),
			MaxRestartAttempts: enc.MaxRestartAttempts,
			RestartCooldown:    seconds(enc.RestartCooldown),
			LogLevel:           enc.LogLevel,
			ThreadQueueSize:    enc.ThreadQueueSize,
		},
		Supervisor: fileSupervisor{
			StartupTimeout: seconds(cfg.StartupTimeout),
			StartupGrace:   seconds(cfg.StartupGrace),
			GraceTimeout:   seconds(cfg.GraceTimeout),
			KillTimeout:    seconds(cfg.KillTimeout),
		},
		Recovery: fileRecovery{
			AutoRecovery:       cfg.AutoRecovery,
			StabilityWindow:    seconds(cfg.StabilityWindow),
			RecoveryWindow:     seconds(cfg.RecoveryWindow),
			AudioRetryInterval: seconds(cfg.AudioRetryInterval),
			AudioMaxRetries:    cfg.AudioMaxRetries,
			HistorySize:        cfg.HistorySize,
		},
		Health: fileHealth{
			Interval:              seconds(cfg.HealthInterval),
			FreezeTimeout:         seconds(cfg.FreezeTimeout),
			BitrateCollapsePct:    cfg.BitrateCollapsePct,
			BaselineSamples:       cfg.BaselineSamples,
			StatsBufferSize:       cfg.StatsBufferSize,
			MaxErrorEvents:        cfg.MaxErrorEvents,
			DroppedFrameThreshold: cfg.DroppedFrameThreshold,
		},
		Observability: fileObservability{
			ListenAddr: cfg.ListenAddr,
			LogFormat:  cfg.LogFormat,
			LogLevel:   cfg.LogLevel,
		},
	}
}

func fromFile(cfg *Config, fc *fileConfig) {
	cfg.LoopDir = fc.Channel.LoopDir
	cfg.DefaultLoop = fc.Channel.DefaultLoop
	cfg.LoopExt = fc.Channel.LoopExt
	cfg.LockFile = fc.Channel.LockFile

	e := fc.Encoding
	cfg.Encoding = EncodingConfig{
		FFmpegPath:         e.FFmpegPath,
		SinkAddress:        e.SinkAddress,
		AudioURL:           e.AudioURL,
		VideoEncoder:       e.VideoEncoder,
		Preset:             e.Preset,
		VideoBitrate:       e.VideoBitrate,
		AudioBitrate:       e.AudioBitrate,
		AudioSampleRate:    e.AudioSampleRate,
		Resolution:         e.Resolution,
		FPS:                e.FPS,
		PixelFormat:        e.PixelFormat,
		GOPSeconds:         e.GOPSeconds,
		OutputFormat:       e.OutputFormat,
		VideoFadeIn:        duration(e.VideoFadeIn),
		AudioFadeIn:        duration(e.AudioFadeIn),
		Overlap:            duration(e.Overlap),
		MaxRestartAttempts: e.MaxRestartAttempts,
		RestartCooldown:    duration(e.RestartCooldown),
		LogLevel:           e.LogLevel,
		ThreadQueueSize:    e.ThreadQueueSize,
	}

	cfg.StartupTimeout = duration(fc.Supervisor.StartupTimeout)
	cfg.StartupGrace = duration(fc.Supervisor.StartupGrace)
	cfg.GraceTimeout = duration(fc.Supervisor.GraceTimeout)
	cfg.KillTimeout = duration(fc.Supervisor.KillTimeout)

	cfg.AutoRecovery = fc.Recovery.AutoRecovery
	cfg.StabilityWindow = duration(fc.Recovery.StabilityWindow)
	cfg.RecoveryWindow = duration(fc.Recovery.RecoveryWindow)
	cfg.AudioRetryInterval = duration(fc.Recovery.AudioRetryInterval)
	cfg.AudioMaxRetries = fc.Recovery.AudioMaxRetries
	cfg.HistorySize = fc.Recovery.HistorySize

	cfg.HealthInterval = duration(fc.Health.Interval)
	cfg.FreezeTimeout = duration(fc.Health.FreezeTimeout)
	cfg.BitrateCollapsePct = fc.Health.BitrateCollapsePct
	cfg.BaselineSamples = fc.Health.BaselineSamples
	cfg.StatsBufferSize = fc.Health.StatsBufferSize
	cfg.MaxErrorEvents = fc.Health.MaxErrorEvents
	cfg.DroppedFrameThreshold = fc.Health.DroppedFrameThreshold

	cfg.ListenAddr = fc.Observability.ListenAddr
	cfg.LogFormat = fc.Observability.LogFormat
	cfg.LogLevel = fc.Observability.LogLevel
}
