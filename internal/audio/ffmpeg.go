//go:build !linux

package audio

import "strconv"

// buildFFmpegCaptureArgs constructs FFmpeg arguments for mono S16LE capture to stdout.
func buildFFmpegCaptureArgs(inputFormat, device string, sampleRate int) []string {
	args := []string{
		"-f", inputFormat,
		"-i", device,
	}
	args = append(args, stdinArgs...)
	return append(args,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"pipe:1",
	)
}
