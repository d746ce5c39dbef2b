package types

// WSCommandResult is the standard response for command execution.
type WSCommandResult struct {
	Type    string `json:"type"`            // "<command>_result"
	Success bool   `json:"success"`         // true if command succeeded
	Error   any    `json:"error,omitempty"` // Message or *ValidationError if failed
	Data    any    `json:"data,omitempty"`  // Optional response data
}

// WSEventLogResult is sent in response to events/view.
type WSEventLogResult struct {
	Type    string `json:"type"` // "events/view_result"
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	EventLogPage
}

// SpeechStatsResponse is returned by GET /api/stats.
type SpeechStatsResponse struct {
	Detector DetectorStatus `json:"detector"`
	Stats    SpeechStats    `json:"stats"`
	Settings SpeechSettings `json:"settings"`
}
