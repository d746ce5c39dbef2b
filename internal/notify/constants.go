package notify

import "time"

// AppName is the application name used in notifications.
const AppName = "ZuidWest FM Speech Detector"

// timestampUTC formats t in UTC as RFC3339.
func timestampUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
