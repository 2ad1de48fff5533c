package process

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ProbeResult represents the output of ffprobe -show_streams -show_format.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Stream is one elementary stream reported by ffprobe.
type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Format holds container-level information.
type Format struct {
	Duration string `json:"duration"`
}

// LoopInfo summarizes a loop file.
type LoopInfo struct {
	Codec    string
	Width    int
	Height   int
	Duration time.Duration
}

// ErrNoVideoStream is returned when a loop file has no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// ProbeLoop runs ffprobe on a loop file and returns its first video stream.
func ProbeLoop(ctx context.Context, ffmpegPath, loopPath string) (*LoopInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		loopPath,
	}
	cmd := exec.CommandContext(ctx, FindFFprobe(ffmpegPath), args...)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(output)
}

// parseProbe decodes ffprobe JSON output.
func parseProbe(output []byte) (*LoopInfo, error) {
	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for _, s := range result.Streams {
		if s.CodecType != "video" {
			continue
		}
		info := &LoopInfo{
			Codec:  s.CodecName,
			Width:  s.Width,
			Height: s.Height,
		}
		if secs, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			info.Duration = time.Duration(secs * float64(time.Second))
		}
		return info, nil
	}
	return nil, ErrNoVideoStream
}

// FindFFprobe returns the path to ffprobe.
// It looks in the same directory as ffmpeg, or falls back to PATH.
func FindFFprobe(ffmpegPath string) string {
	const ffmpegSuffix = "ffmpeg"
	if len(ffmpegPath) > len(ffmpegSuffix) && strings.HasSuffix(ffmpegPath, ffmpegSuffix) {
		// e.g., /usr/local/bin/ffmpeg -> /usr/local/bin/ffprobe
		ffprobePath := strings.TrimSuffix(ffmpegPath, ffmpegSuffix) + "ffprobe"
		if _, err := exec.LookPath(ffprobePath); err == nil {
			return ffprobePath
		}
	}
	return "ffprobe"
}

// ProbeAvailable checks if ffprobe is available.
func ProbeAvailable(ffmpegPath string) bool {
	_, err := exec.LookPath(FindFFprobe(ffmpegPath))
	return err == nil
}
