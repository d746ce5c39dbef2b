package util

import (
	"fmt"
	"log/slog"
	"strings"
)

// maxErrorLineLength is the maximum length for extracted error messages.
const maxErrorLineLength = 200

// WrapError wraps err as "failed to <operation>: <err>". A nil err stays nil.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to %s: %w", operation, err)
}

// ExtractLastError returns the last non-empty line of a capture process's
// stderr, truncated to a loggable length.
func ExtractLastError(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if len(line) > maxErrorLineLength {
			return line[:maxErrorLineLength] + "..."
		}
		return line
	}
	return ""
}

// LogPanic recovers a panic in the calling goroutine and logs it under name.
// It must be deferred directly.
func LogPanic(name string) {
	if r := recover(); r != nil {
		slog.Error("recovered panic", "goroutine", name, "panic", r)
	}
}
