package server

import (
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// handleViewEvents sends a page of the event log.
func (h *CommandHandler) handleViewEvents(cmd WSCommand, send chan<- any) {
	var req EventsViewRequest
	if !DecodeAndValidate(cmd, send, &req) {
		return
	}

	result := types.WSEventLogResult{Type: cmd.Type + "_result"}
	page, err := ReadEventPage(h.eventLogPath, req.Limit, req.Offset, eventlog.TypeFilter(req.Filter))
	if err != nil {
		slog.Error("failed to read event log", "path", h.eventLogPath, "error", err)
		result.Error = err.Error()
	} else {
		result.Success = true
		result.EventLogPage = page
	}
	trySend(send, cmd.Type, result)
}

// ReadEventPage reads a page of the event log at path, newest first.
// A zero limit selects DefaultEventPageSize.
func ReadEventPage(path string, limit, offset int, filter eventlog.TypeFilter) (types.EventLogPage, error) {
	if limit <= 0 {
		limit = DefaultEventPageSize
	}
	events, hasMore, err := eventlog.ReadLast(path, limit, offset, filter)
	if err != nil {
		return types.EventLogPage{}, err
	}

	entries := make([]types.EventLogEntry, 0, len(events))
	for i := range events {
		entries = append(entries, toLogEntry(&events[i]))
	}
	return types.EventLogPage{Entries: entries, HasMore: hasMore, Path: path}, nil
}

// toLogEntry flattens an event and its type-specific details.
func toLogEntry(ev *eventlog.Event) types.EventLogEntry {
	entry := types.EventLogEntry{
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
		Event:     string(ev.Type),
	}

	switch {
	case eventlog.IsSpeechEvent(ev.Type):
		var d eventlog.SpeechDetails
		if err := ev.Decode(&d); err == nil {
			entry.SegmentID = d.SegmentID
			entry.DurationMs = d.DurationMs
			entry.PeakIntensity = d.PeakIntensity
			entry.Forced = d.Forced
			entry.StartThreshold = d.StartThreshold
		}
	case eventlog.IsCaptureEvent(ev.Type):
		var d eventlog.CaptureDetails
		if err := ev.Decode(&d); err == nil {
			entry.Device = d.Device
			entry.Error = d.Error
		}
	case eventlog.IsArchiveEvent(ev.Type):
		var d eventlog.ArchiveDetails
		if err := ev.Decode(&d); err == nil {
			entry.ObjectKey = d.ObjectKey
			entry.Error = d.Error
		}
	}
	if entry.Error == "" && ev.Type == eventlog.CaptureError {
		entry.Error = ev.Message
	}
	return entry
}
