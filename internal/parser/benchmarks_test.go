package parser

import (
	"sync"
	"testing"
)

// =============================================================================
// Pipeline Throughput Benchmarks
// =============================================================================

// BenchmarkPipeline_Feed measures pipeline feed throughput.
func BenchmarkPipeline_Feed(b *testing.B) {
	pipeline := NewPipeline("bench", "progress", 4096, 0.01)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pipeline.RunParser(func(string) {})
	}()

	lines := []string{
		"frame=100",
		"fps=30.00",
		"bitrate=N/A",
		"out_time_us=1000000",
		"speed=1.00x",
		"progress=continue",
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, line := range lines {
			pipeline.FeedLine(line)
		}
	}
	b.StopTimer()

	pipeline.CloseChannel()
	wg.Wait()
}

// =============================================================================
// OutputParser Benchmarks
// =============================================================================

// BenchmarkOutputParser_MixedInput feeds a realistic mix of progress, stats
// and diagnostic lines.
func BenchmarkOutputParser_MixedInput(b *testing.B) {
	p := NewOutputParser(Options{})

	lines := []string{
		"frame=1000",
		"fps=30.00",
		"bitrate=4512.0kbits/s",
		"out_time_us=33333333",
		"speed=1.00x",
		"progress=continue",
		"frame= 1000 fps= 30 q=28.0 size=   18000KiB time=00:00:33.33 bitrate=4424.1kbits/s speed=1.00x",
		"[flv @ 0x5581] Non-monotonous DTS in output stream 0:1; previous: 100, current: 99",
		"Input #0, mov,mp4,m4a,3gp,3g2,mj2, from 'loop.mp4':",
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, line := range lines {
			p.ParseLine(line)
		}
	}
}

// BenchmarkClassify_NoMatch measures the cost of a line that falls through
// the whole table.
func BenchmarkClassify_NoMatch(b *testing.B) {
	line := "  Stream #0:0(und): Video: h264 (High), yuv420p, 1920x1080, 30 fps"

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Classify(DefaultRules, line)
	}
}
