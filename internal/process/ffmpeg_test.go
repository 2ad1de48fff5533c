package process

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-loop-channel/internal/config"
)

func testEncoding() config.EncodingConfig {
	cfg := config.DefaultEncodingConfig()
	cfg.SinkAddress = "rtmp://live.example.com/app/key"
	cfg.AudioURL = "http://radio.example.com/stream"
	return cfg
}

// =============================================================================
// Build
// =============================================================================

func TestBuild_DefaultArgs(t *testing.T) {
	cfg := testEncoding()
	got := Build(cfg, Params{LoopPath: "/loops/rain.mp4"})

	want := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "info",
		"-progress", "pipe:1",
		"-stats_period", "1",
		"-stream_loop", "-1",
		"-re",
		"-i", "/loops/rain.mp4",
		"-thread_queue_size", "512",
		"-i", "http://radio.example.com/stream",
		"-map", "0:v:0", "-map", "1:a:0",
		"-vf", "scale=1920:1080,format=yuv420p",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", "4500k",
		"-maxrate", "4500k",
		"-bufsize", "9000k",
		"-r", "30",
		"-g", "60",
		"-c:a", "aac",
		"-b:a", "160k",
		"-ar", "44100",
		"-f", "flv", "rtmp://live.example.com/app/key",
	}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Build() mismatch\n got: %v\nwant: %v", got, want)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	cfg := testEncoding()
	p := Params{LoopPath: "/loops/a.mp4", FadeIn: true}

	first := Build(cfg, p)
	for i := 0; i < 10; i++ {
		if got := Build(cfg, p); !reflect.DeepEqual(got, first) {
			t.Fatalf("Build() call %d differs:\n got: %v\nwant: %v", i, got, first)
		}
	}
}

func TestBuild_FadeIn(t *testing.T) {
	tests := []struct {
		name      string
		fadeIn    bool
		videoFade time.Duration
		audioFade time.Duration
		wantVF    string
		wantAF    string
		wantNoAF  bool
	}{
		{
			name:      "fade disabled",
			fadeIn:    false,
			videoFade: time.Second,
			audioFade: time.Second,
			wantVF:    "scale=1920:1080,format=yuv420p",
			wantNoAF:  true,
		},
		{
			name:      "fade enabled",
			fadeIn:    true,
			videoFade: time.Second,
			audioFade: 1500 * time.Millisecond,
			wantVF:    "fade=t=in:st=0:d=1,scale=1920:1080,format=yuv420p",
			wantAF:    "afade=t=in:st=0:d=1.5",
		},
		{
			name:      "fade requested but durations zero",
			fadeIn:    true,
			videoFade: 0,
			audioFade: 0,
			wantVF:    "scale=1920:1080,format=yuv420p",
			wantNoAF:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEncoding()
			cfg.VideoFadeIn = tt.videoFade
			cfg.AudioFadeIn = tt.audioFade

			args := Build(cfg, Params{LoopPath: "/l.mp4", FadeIn: tt.fadeIn})

			if got := argValue(args, "-vf"); got != tt.wantVF {
				t.Errorf("-vf = %q, want %q", got, tt.wantVF)
			}
			af := argValue(args, "-af")
			if tt.wantNoAF && af != "" {
				t.Errorf("-af = %q, want absent", af)
			}
			if !tt.wantNoAF && af != tt.wantAF {
				t.Errorf("-af = %q, want %q", af, tt.wantAF)
			}
		})
	}
}

func TestBuild_ParamsOverrideConfig(t *testing.T) {
	cfg := testEncoding()

	args := Build(cfg, Params{
		LoopPath:    "/l.mp4",
		AudioURL:    "http://other/audio",
		SinkAddress: "rtmp://other/sink",
	})

	if args[len(args)-1] != "rtmp://other/sink" {
		t.Errorf("sink = %q, want override", args[len(args)-1])
	}
	if !containsPair(args, "-i", "http://other/audio") {
		t.Errorf("audio override missing from %v", args)
	}
	if containsPair(args, "-i", cfg.AudioURL) {
		t.Errorf("configured audio should be replaced: %v", args)
	}
}

func TestBuild_LoopIsFirstInput(t *testing.T) {
	args := Build(testEncoding(), Params{LoopPath: "/loops/x.mp4"})

	idx := indexOf(args, "-i")
	if idx < 0 || args[idx+1] != "/loops/x.mp4" {
		t.Fatalf("first input = %v, want loop file", args)
	}
	// -stream_loop must precede the input it applies to.
	if sl := indexOf(args, "-stream_loop"); sl < 0 || sl > idx {
		t.Errorf("-stream_loop at %d, -i at %d", sl, idx)
	}
}

func TestBuild_GOP(t *testing.T) {
	cfg := testEncoding()
	cfg.FPS = 25
	cfg.GOPSeconds = 4

	args := Build(cfg, Params{LoopPath: "/l.mp4"})
	if got := argValue(args, "-g"); got != "100" {
		t.Errorf("-g = %q, want 100", got)
	}
	if got := argValue(args, "-r"); got != "25" {
		t.Errorf("-r = %q, want 25", got)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestDoubleBitrate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"4500k", "9000k"},
		{"2.5M", "5M"},
		{"128000", "256000"},
		{"", ""},
		{"fast", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := doubleBitrate(tt.in); got != tt.want {
				t.Errorf("doubleBitrate(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{time.Second, "1"},
		{1500 * time.Millisecond, "1.5"},
		{250 * time.Millisecond, "0.25"},
	}

	for _, tt := range tests {
		if got := formatSeconds(tt.d); got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestCommandString_Quoting(t *testing.T) {
	got := CommandString("/usr/bin/ffmpeg", []string{"-i", "/loops/my loop.mp4", "-vf", "fade=t=in", "it's"})
	want := `/usr/bin/ffmpeg -i '/loops/my loop.mp4' -vf fade=t=in 'it'\''s'`
	if got != want {
		t.Errorf("CommandString() = %q, want %q", got, want)
	}
}

func TestCommandString_MatchesBuild(t *testing.T) {
	cfg := testEncoding()
	p := Params{LoopPath: "/loops/a.mp4"}

	r := NewFFmpegRunner()
	s := r.CommandString(cfg, p)

	if !strings.HasPrefix(s, "ffmpeg -hide_banner") {
		t.Errorf("CommandString() = %q", s)
	}
	if len(strings.Fields(s)) != len(Build(cfg, p))+1 {
		t.Errorf("CommandString() field count mismatch: %q", s)
	}
}

// =============================================================================
// FFmpegRunner
// =============================================================================

func TestFFmpegRunner_Name(t *testing.T) {
	if got := NewFFmpegRunner().Name(); got != "ffmpeg" {
		t.Errorf("Name() = %q, want ffmpeg", got)
	}
}

func TestFFmpegRunner_BuildCommand(t *testing.T) {
	cfg := testEncoding()
	cfg.FFmpegPath = "/opt/ffmpeg/bin/ffmpeg"

	cmd, err := NewFFmpegRunner().BuildCommand(context.Background(), cfg, Params{LoopPath: "/l.mp4"})
	if err != nil {
		t.Fatalf("BuildCommand() error = %v", err)
	}
	if cmd.Path != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("cmd.Path = %q", cmd.Path)
	}
	if !reflect.DeepEqual(cmd.Args[1:], Build(cfg, Params{LoopPath: "/l.mp4"})) {
		t.Errorf("cmd.Args differ from Build()")
	}
}

func TestFFmpegRunner_BuildCommand_Errors(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		ctx    context.Context
		ffmpeg string
		loop   string
	}{
		{"cancelled context", cancelled, "ffmpeg", "/l.mp4"},
		{"empty ffmpeg path", context.Background(), "", "/l.mp4"},
		{"empty loop path", context.Background(), "ffmpeg", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testEncoding()
			cfg.FFmpegPath = tt.ffmpeg
			if _, err := NewFFmpegRunner().BuildCommand(tt.ctx, cfg, Params{LoopPath: tt.loop}); err == nil {
				t.Error("BuildCommand() expected error")
			}
		})
	}
}

func argValue(args []string, flag string) string {
	i := indexOf(args, flag)
	if i < 0 || i+1 >= len(args) {
		return ""
	}
	return args[i+1]
}

func indexOf(args []string, s string) int {
	for i, a := range args {
		if a == s {
			return i
		}
	}
	return -1
}

func containsPair(args []string, a, b string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == a && args[i+1] == b {
			return true
		}
	}
	return false
}
