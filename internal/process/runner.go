// Package process builds the FFmpeg invocation for an encoder session.
package process

import (
	"context"
	"errors"
	"os/exec"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
)

// FFmpegRunner turns an encoding config plus per-call parameters into a
// ready-to-start command.
type FFmpegRunner struct{}

// NewFFmpegRunner creates a new FFmpeg runner.
func NewFFmpegRunner() *FFmpegRunner {
	return &FFmpegRunner{}
}

// Name returns "ffmpeg".
func (r *FFmpegRunner) Name() string {
	return "ffmpeg"
}

// BuildCommand creates an exec.Cmd for one encoder session. The command is
// not started.
//
// ctx is only checked for cancellation: the encoder must outlive the request
// that spawned it, so it is not bound to ctx.
func (r *FFmpegRunner) BuildCommand(ctx context.Context, cfg config.EncodingConfig, p Params) (*exec.Cmd, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.FFmpegPath == "" {
		return nil, errors.New("ffmpeg path is empty")
	}
	if p.LoopPath == "" {
		return nil, errors.New("loop path is empty")
	}
	return exec.Command(cfg.FFmpegPath, Build(cfg, p)...), nil
}

// CommandString returns the command that would be executed (for logging).
func (r *FFmpegRunner) CommandString(cfg config.EncodingConfig, p Params) string {
	return CommandString(cfg.FFmpegPath, Build(cfg, p))
}
