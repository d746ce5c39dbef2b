//go:build windows

package audio

// stdinArgs is empty on Windows: the process is stopped by killing it.
var stdinArgs []string
