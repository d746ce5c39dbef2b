package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/server"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// API response helpers

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// queryInt parses a non-negative integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// handleHealth reports liveness and the detector state.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	version := s.releases.Info()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"state":            s.detector.Status().State,
		"version":          version.Current,
		"update_available": version.UpdateAvail,
	})
}

// handleStats returns the detector status, speech statistics and settings.
// GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, types.SpeechStatsResponse{
		Detector: s.detector.Status(),
		Stats:    s.detector.Stats(),
		Settings: s.detector.Settings(),
	})
}

// handleEvents returns a page of the event log, newest first.
// GET /api/events?limit=&offset=&filter=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", server.DefaultEventPageSize)
	if !ok || limit > eventlog.MaxReadLimit {
		s.writeError(w, http.StatusBadRequest, "limit must be between 0 and 500")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	filter := eventlog.TypeFilter(r.URL.Query().Get("filter"))
	switch filter {
	case eventlog.FilterAll, eventlog.FilterSpeech, eventlog.FilterCapture, eventlog.FilterArchive:
	default:
		s.writeError(w, http.StatusBadRequest, "filter must be one of: speech capture archive")
		return
	}

	page, err := server.ReadEventPage(s.eventLogPath, limit, offset, filter)
	if err != nil {
		slog.Error("failed to read event log", "path", s.eventLogPath, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

// handleForceEnd ends the current speech segment, if any.
// POST /api/speech/force-end
func (s *Server) handleForceEnd(w http.ResponseWriter, _ *http.Request) {
	s.detector.ForceEnd()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "force_end_requested"})
}
