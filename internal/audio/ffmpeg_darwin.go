//go:build darwin

package audio

// stdinArgs keeps FFmpeg from consuming the terminal's input.
var stdinArgs = []string{"-nostdin"}
