// Package eventlog records speech, capture and archive events in a single
// JSON lines file and reads them back for the web interface.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// EventType represents the type of event.
type EventType string

// Speech event types.
const (
	SpeechStarted EventType = "speech_started"
	SpeechEnded   EventType = "speech_ended"
)

// Capture event types.
const (
	CaptureStarted EventType = "capture_started"
	CaptureError   EventType = "capture_error"
	CaptureStopped EventType = "capture_stopped"
)

// Archive event types.
const (
	ArchiveUploaded EventType = "archive_uploaded"
	ArchiveFailed   EventType = "archive_failed"
)

// Event represents a single log entry with type-specific details.
type Event struct {
	Timestamp time.Time       `json:"ts"`
	Type      EventType       `json:"type"`
	Message   string          `json:"msg,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
}

// SpeechDetails contains speech segment details.
type SpeechDetails struct {
	SegmentID      string  `json:"segment_id"`
	DurationMs     int64   `json:"duration_ms,omitempty"`
	PeakIntensity  float64 `json:"peak_intensity,omitempty"`
	Forced         bool    `json:"forced,omitempty"`
	StartThreshold float64 `json:"start_threshold"`
}

// CaptureDetails contains capture lifecycle details.
type CaptureDetails struct {
	Device     string `json:"device,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retry,omitempty"`
	MaxRetries int    `json:"max_retries,omitempty"`
}

// ArchiveDetails contains archive upload details.
type ArchiveDetails struct {
	ObjectKey string `json:"object_key,omitempty"`
	Bytes     int64  `json:"bytes,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Decode unmarshals the event details into v.
func (e *Event) Decode(v any) error {
	if len(e.Details) == 0 {
		return nil
	}
	return json.Unmarshal(e.Details, v)
}

// Logger writes events to a JSON lines file. It is safe for concurrent use.
type Logger struct {
	mu       sync.Mutex
	filePath string
	file     *os.File
	encoder  *json.Encoder
	now      func() time.Time
}

// DefaultLogPath returns the platform-specific log file path.
func DefaultLogPath(port int) string {
	switch runtime.GOOS {
	case "windows":
		programData := os.Getenv("PROGRAMDATA")
		if programData == "" {
			programData = `C:\ProgramData`
		}
		return filepath.Join(programData, "speechdetect", "logs", fmt.Sprintf("%d", port), "events.jsonl")
	default: // linux, darwin
		//nolint:gocritic // Intentional absolute path for Unix systems
		return filepath.Join("/var/log/speechdetect", fmt.Sprintf("%d", port), "events.jsonl")
	}
}

// NewLogger creates an event logger appending to filePath.
func NewLogger(filePath string) (*Logger, error) {
	if err := util.EnsureParentDir(filePath); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return &Logger{
		filePath: filePath,
		file:     file,
		encoder:  json.NewEncoder(file),
		now:      time.Now,
	}, nil
}

// Log writes an event of type t with details at time at. A zero at means now.
func (l *Logger) Log(t EventType, at time.Time, message string, details any) error {
	var raw json.RawMessage
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			return util.WrapError("marshal event details", err)
		}
		raw = data
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if at.IsZero() {
		at = l.now()
	}
	return l.encoder.Encode(&Event{
		Timestamp: at,
		Type:      t,
		Message:   message,
		Details:   raw,
	})
}

// LogSpeech logs a speech event.
func (l *Logger) LogSpeech(t EventType, at time.Time, details *SpeechDetails) error {
	return l.Log(t, at, "", details)
}

// LogCapture logs a capture lifecycle event.
func (l *Logger) LogCapture(t EventType, message string, details *CaptureDetails) error {
	return l.Log(t, time.Time{}, message, details)
}

// LogArchive logs an archive upload result.
func (l *Logger) LogArchive(t EventType, details *ArchiveDetails) error {
	return l.Log(t, time.Time{}, "", details)
}

// ReadFrom returns the file content after offset and the offset of its end.
// If the file shrank below offset, it is read from the start.
func (l *Logger) ReadFrom(offset int64) ([]byte, int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.filePath)
	if err != nil {
		return nil, offset, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	info, err := file.Stat()
	if err != nil {
		return nil, offset, err
	}
	if info.Size() < offset {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, offset, err
	}
	return data, offset + int64(len(data)), nil
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the path to the log file.
func (l *Logger) Path() string {
	return l.filePath
}

// TypeFilter specifies which event types to include when reading.
type TypeFilter string

// Filter constants for ReadLast.
const (
	FilterAll     TypeFilter = ""
	FilterSpeech  TypeFilter = "speech"
	FilterCapture TypeFilter = "capture"
	FilterArchive TypeFilter = "archive"
)

// MaxReadLimit is the maximum number of events that can be read at once.
const MaxReadLimit = 500

// Matches reports whether t passes the filter.
func (f TypeFilter) Matches(t EventType) bool {
	switch f {
	case FilterSpeech:
		return IsSpeechEvent(t)
	case FilterCapture:
		return IsCaptureEvent(t)
	case FilterArchive:
		return IsArchiveEvent(t)
	default:
		return true
	}
}

// ReadLast reads events from the log file with pagination support.
// It returns up to n events after skipping offset matching events, newest
// first, and whether older matching events remain. n is capped at MaxReadLimit.
func ReadLast(filePath string, n, offset int, filter TypeFilter) ([]Event, bool, error) {
	n = min(n, MaxReadLimit)
	if n <= 0 {
		return []Event{}, false, nil
	}
	offset = max(offset, 0)

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []Event{}, false, nil
		}
		return nil, false, err
	}
	defer file.Close() //nolint:errcheck // Read-only operation, close error not critical

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}

	events := make([]Event, 0, n)
	skipped := 0
	for i := len(lines) - 1; i >= 0; i-- {
		var event Event
		if err := json.Unmarshal([]byte(lines[i]), &event); err != nil {
			continue // Skip malformed lines
		}
		if !filter.Matches(event.Type) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		if len(events) == n {
			// One more matching event exists beyond this page.
			return events, true, nil
		}
		events = append(events, event)
	}

	return events, false, nil
}

// IsSpeechEvent reports whether t is a speech event.
func IsSpeechEvent(t EventType) bool {
	return t == SpeechStarted || t == SpeechEnded
}

// IsCaptureEvent reports whether t is a capture lifecycle event.
func IsCaptureEvent(t EventType) bool {
	return t == CaptureStarted || t == CaptureError || t == CaptureStopped
}

// IsArchiveEvent reports whether t is an archive event.
func IsArchiveEvent(t EventType) bool {
	return t == ArchiveUploaded || t == ArchiveFailed
}
