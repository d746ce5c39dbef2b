// Package types provides shared type definitions used across the speech detector.
package types

import (
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
)

// DetectorState represents the current state of the detector.
type DetectorState string

const (
	// StateStopped indicates the detector is not running.
	StateStopped DetectorState = "stopped"
	// StateStarting indicates capture is being started or retried.
	StateStarting DetectorState = "starting"
	// StateRunning indicates audio is being sampled and classified.
	StateRunning DetectorState = "running"
	// StatePaused indicates monitoring is suspended on request.
	StatePaused DetectorState = "paused"
	// StateStopping indicates the detector is shutting down.
	StateStopping DetectorState = "stopping"
)

const (
	// InitialRetryDelay is the starting delay between capture retry attempts.
	InitialRetryDelay = 3000 * time.Millisecond
	// MaxRetryDelay is the maximum delay between capture retry attempts.
	MaxRetryDelay = 60000 * time.Millisecond
	// MaxRetries is the maximum number of consecutive capture retry attempts.
	MaxRetries = 10
	// SuccessThreshold is the capture run time after which the retry count resets.
	SuccessThreshold = 30000 * time.Millisecond
)

// StatusInterval is how often status is pushed to WebSocket clients.
const StatusInterval = 3000 * time.Millisecond

// DetectorStatus contains a summary of the detector's operational state.
type DetectorStatus struct {
	State      DetectorState `json:"state"`                // Current detector state
	Uptime     string        `json:"uptime,omitzero"`      // Time since capture started
	LastError  string        `json:"last_error,omitzero"`  // Most recent capture error
	Device     string        `json:"device"`               // Selected capture device
	Capturing  bool          `json:"capturing"`            // Capture process is producing audio
	RetryCount int           `json:"retry_count,omitzero"` // Capture retry attempts
	MaxRetries int           `json:"max_retries"`          // Max capture retries
}

// SpeechStats is the wire form of the classifier statistics plus meter values.
type SpeechStats struct {
	IsSpeaking       bool    `json:"is_speaking"`
	SpeechDurationMs int64   `json:"speech_duration_ms"`
	Intensity        float64 `json:"intensity"`
	FrequencyRatio   float64 `json:"frequency_ratio"`
	SmoothedVolume   float64 `json:"smoothed_volume"`
	Volume           float64 `json:"volume"`      // Last emitted volume
	VolumePeak       float64 `json:"volume_peak"` // Held volume peak
	VolumeDB         float64 `json:"volume_db"`   // Last volume in dBFS
	Radius           float64 `json:"radius"`      // Attraction radius
}

// SpeechSettings contains the live-tunable detection settings.
type SpeechSettings struct {
	StartThreshold    float64 `json:"start_threshold"`
	EndThreshold      float64 `json:"end_threshold"`
	Sensitivity       float64 `json:"sensitivity"`
	MinSpeechMs       int64   `json:"min_speech_ms"`
	MaxSilenceMs      int64   `json:"max_silence_ms"`
	FrequencyAnalysis bool    `json:"frequency_analysis"`
	UpdateIntervalMs  int64   `json:"update_interval_ms"`
	Input             string  `json:"input"`
}

// LiveEventKind identifies a live event.
type LiveEventKind string

// Live event kinds.
const (
	LiveVolume        LiveEventKind = "volume"
	LiveIntensity     LiveEventKind = "intensity"
	LiveSpeechStarted LiveEventKind = "speech_started"
	LiveSpeechEnded   LiveEventKind = "speech_ended"
)

// LiveEvent is streamed to subscribers as it occurs.
type LiveEvent struct {
	Type       string        `json:"type"` // "live"
	Kind       LiveEventKind `json:"kind"`
	At         time.Time     `json:"at"`
	Value      float64       `json:"value,omitzero"`       // Volume or intensity
	SegmentID  string        `json:"segment_id,omitzero"`  // Speech events only
	DurationMs int64         `json:"duration_ms,omitzero"` // speech_ended only
	Forced     bool          `json:"forced,omitzero"`      // speech_ended only
	Spectrum   []int         `json:"spectrum,omitempty"`   // Coarse spectrum bars, debug only
}

// WSStatusResponse is sent to clients with full detector status.
type WSStatusResponse struct {
	Type            string         `json:"type"`             // Message type identifier
	FFmpegAvailable bool           `json:"ffmpeg_available"` // FFmpeg binary is available
	Platform        string         `json:"platform"`         // Operating system platform
	Detector        DetectorStatus `json:"detector"`         // Detector status
	Stats           SpeechStats    `json:"stats"`            // Current speech statistics
	Settings        SpeechSettings `json:"settings"`         // Current detection settings
	Devices         []audio.Device `json:"devices"`          // Available audio devices
	Version         VersionInfo    `json:"version"`          // Version information
}

// WSTestResult is sent to clients after a test operation completes.
type WSTestResult struct {
	Type     string `json:"type"`            // Message type identifier
	TestType string `json:"test_type"`       // Type of test performed
	Success  bool   `json:"success"`         // Test succeeded
	Error    string `json:"error,omitempty"` // Error message if failed
}

// EventLogEntry represents a single entry in the speech event log.
type EventLogEntry struct {
	Timestamp      string  `json:"timestamp"`                 // RFC3339 timestamp
	Event          string  `json:"event"`                     // Event type
	SegmentID      string  `json:"segment_id,omitempty"`      // Speech segment identifier
	DurationMs     int64   `json:"duration_ms,omitempty"`     // Segment duration (speech_ended only)
	PeakIntensity  float64 `json:"peak_intensity,omitempty"`  // Highest intensity in the segment
	Forced         bool    `json:"forced,omitempty"`          // Segment was ended explicitly
	StartThreshold float64 `json:"start_threshold,omitempty"` // Threshold in effect
	Device         string  `json:"device,omitempty"`          // Capture device (capture events)
	Error          string  `json:"error,omitempty"`           // Error message (failure events)
	ObjectKey      string  `json:"object_key,omitempty"`      // Uploaded object (archive events)
}

// EventLogPage is a page of event log entries, newest first.
type EventLogPage struct {
	Entries []EventLogEntry `json:"entries"`
	HasMore bool            `json:"has_more"`
	Path    string          `json:"path,omitempty"`
}

// VersionInfo contains version comparison data.
type VersionInfo struct {
	Current     string `json:"current"`              // Current version
	Latest      string `json:"latest,omitempty"`     // Latest available version
	UpdateAvail bool   `json:"update_available"`     // Update is available
	Commit      string `json:"commit,omitempty"`     // Git commit hash
	BuildTime   string `json:"build_time,omitempty"` // Build timestamp
	CheckedAt   string `json:"checked_at,omitempty"` // Last successful release check (RFC3339)
}
