package util

import "log/slog"

// LogNotifyResult runs fn and logs whether the notification of kind went out.
func LogNotifyResult(fn func() error, kind string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", kind, "error", err)
		return
	}
	slog.Info("notification sent", "type", kind)
}
