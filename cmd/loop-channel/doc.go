// Command loop-channel runs a never-stopping video channel: a looped video
// file is encoded with a live audio source and published to a streaming
// sink by a supervised FFmpeg process.
//
// Usage:
//
//	loop-channel run --sink rtmp://host/live/key --audio http://radio/stream --default-loop idle.mp4
//	loop-channel status --addr 127.0.0.1:9090
//	loop-channel history --addr 127.0.0.1:9090
//	loop-channel track sunset
//	loop-channel reset
//	loop-channel print-cmd --default-loop idle.mp4 ...
//	loop-channel check
package main
