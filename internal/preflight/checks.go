// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/process"
)

// At most two encoders run at once (during a switch overlap).
const maxConcurrentSessions = 2

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what is checked.
type Options struct {
	FFmpegPath   string
	VideoEncoder string
	LoopDir      string
	DefaultLoop  string
	ProbeTimeout time.Duration
}

// FromConfig builds Options from the channel configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		FFmpegPath:   cfg.Encoding.FFmpegPath,
		VideoEncoder: cfg.Encoding.VideoEncoder,
		LoopDir:      cfg.LoopDir,
		DefaultLoop:  cfg.DefaultLoop,
		ProbeTimeout: 10 * time.Second,
	}
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	result.add(checkFileDescriptors())
	result.add(checkProcessLimit("/proc/self/limits"))

	ffmpegCheck := checkFFmpeg(opts.FFmpegPath)
	result.add(ffmpegCheck)
	if ffmpegCheck.Passed && opts.VideoEncoder != "" {
		result.add(checkEncoder(opts.FFmpegPath, opts.VideoEncoder))
	}

	if opts.LoopDir != "" {
		result.add(checkLoopDir(opts.LoopDir))
	}
	result.add(checkDefaultLoop(ctx, opts))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Each FFmpeg needs ~10-20 FDs (sockets, files, pipes)
	// Plus channel overhead (metrics server, output pipes, logging)
	required := maxConcurrentSessions*20 + 100
	actual := int(limit.Cur)
	if limit.Cur > 1<<31 {
		actual = 1 << 31
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkProcessLimit verifies a few process slots are free. The soft limit
// is read from a /proc limits file since RLIMIT_NPROC is not portable.
func checkProcessLimit(limitsPath string) Check {
	required := maxConcurrentSessions*4 + 50

	data, err := os.ReadFile(limitsPath)
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}

	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkFFmpeg verifies FFmpeg is available and working.
func checkFFmpeg(path string) Check {
	cmd := exec.Command(path, "-version")
	output, err := cmd.Output()

	if err != nil {
		return Check{
			Name:    "ffmpeg",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	return Check{
		Name:    "ffmpeg",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, parseVersion(output)),
	}
}

// parseVersion extracts the version from "ffmpeg version 6.1 Copyright ...".
func parseVersion(output []byte) string {
	first, _, _ := strings.Cut(string(output), "\n")
	parts := strings.Fields(first)
	if len(parts) >= 3 {
		return parts[2]
	}
	return "unknown"
}

// checkEncoder verifies the configured video encoder is compiled in.
func checkEncoder(ffmpegPath, encoder string) Check {
	output, err := exec.Command(ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return Check{
			Name:    "video_encoder",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to list encoders: %v", err),
		}
	}
	if !hasEncoder(output, encoder) {
		return Check{
			Name:    "video_encoder",
			Passed:  false,
			Message: fmt.Sprintf("%s not available in this ffmpeg build", encoder),
		}
	}
	return Check{
		Name:    "video_encoder",
		Passed:  true,
		Message: encoder,
	}
}

// hasEncoder scans `ffmpeg -encoders` output. Encoder lines look like
// " V....D libx264   libx264 H.264 / AVC ...".
func hasEncoder(output []byte, encoder string) bool {
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && len(fields[0]) == 6 && fields[1] == encoder {
			return true
		}
	}
	return false
}

// checkLoopDir verifies the track loop directory exists.
func checkLoopDir(dir string) Check {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return Check{Name: "loop_dir", Passed: false, Message: err.Error()}
	case !info.IsDir():
		return Check{Name: "loop_dir", Passed: false, Message: dir + " is not a directory"}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Check{Name: "loop_dir", Passed: false, Message: err.Error()}
	}
	return Check{
		Name:    "loop_dir",
		Passed:  true,
		Warning: len(entries) == 0,
		Message: fmt.Sprintf("%s (%d entries)", dir, len(entries)),
	}
}

// DefaultLoopPath returns the fallback loop, relative to loopDir when it is
// not absolute.
func DefaultLoopPath(loopDir, defaultLoop string) string {
	if defaultLoop == "" || filepath.IsAbs(defaultLoop) || loopDir == "" {
		return defaultLoop
	}
	if _, err := os.Stat(defaultLoop); err == nil {
		return defaultLoop
	}
	return filepath.Join(loopDir, defaultLoop)
}

// checkDefaultLoop verifies the fallback loop is readable and, when ffprobe
// is installed, that it holds a video stream.
func checkDefaultLoop(ctx context.Context, opts Options) Check {
	path := DefaultLoopPath(opts.LoopDir, opts.DefaultLoop)
	if path == "" {
		return Check{Name: "default_loop", Passed: false, Message: "no default loop configured"}
	}

	f, err := os.Open(path)
	if err != nil {
		return Check{Name: "default_loop", Passed: false, Message: err.Error()}
	}
	info, err := f.Stat()
	f.Close()
	if err != nil || !info.Mode().IsRegular() {
		return Check{Name: "default_loop", Passed: false, Message: path + " is not a regular file"}
	}

	if !process.ProbeAvailable(opts.FFmpegPath) {
		return Check{
			Name:    "default_loop",
			Passed:  true,
			Warning: true,
			Message: path + " readable (ffprobe not found, not probed)",
		}
	}

	timeout := opts.ProbeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	loop, err := process.ProbeLoop(probeCtx, opts.FFmpegPath, path)
	if err != nil {
		return Check{Name: "default_loop", Passed: false, Message: fmt.Sprintf("%s: %v", path, err)}
	}
	return Check{
		Name:   "default_loop",
		Passed: true,
		Message: fmt.Sprintf("%s (%s %dx%d, %s)",
			path, loop.Codec, loop.Width, loop.Height, loop.Duration.Round(time.Millisecond)),
	}
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "ffmpeg":
		return "install ffmpeg (apt install ffmpeg / brew install ffmpeg)"
	case "video_encoder":
		return "pick an encoder listed by `ffmpeg -encoders` or install a full ffmpeg build"
	case "loop_dir":
		return "create the loop directory or fix --loop-dir"
	case "default_loop":
		return "point --default-loop at a readable video file"
	default:
		return "see documentation"
	}
}
