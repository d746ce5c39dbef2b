package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/metrics"
	"github.com/oszuidwest/zwfm-speechdetect/internal/server"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

const testAPIKey = "test-key-0123456789"

type stubDetector struct {
	mu        sync.Mutex
	forceEnds int
	live      chan types.LiveEvent
}

func (d *stubDetector) Status() types.DetectorStatus {
	return types.DetectorStatus{State: types.StateRunning, Device: "hw:1", MaxRetries: types.MaxRetries}
}

func (d *stubDetector) Stats() types.SpeechStats {
	return types.SpeechStats{IsSpeaking: true, Intensity: 0.6}
}

func (d *stubDetector) Settings() types.SpeechSettings {
	return types.SpeechSettings{StartThreshold: 0.05, EndThreshold: 0.025}
}

func (d *stubDetector) Devices() []audio.Device {
	return nil
}

func (d *stubDetector) SetStartThreshold(float64) {
}

func (d *stubDetector) SetSensitivity(float64) {
}

func (d *stubDetector) SetMinSpeechDuration(time.Duration) {
}

func (d *stubDetector) EnableFrequencyAnalysis(bool) {
}

func (d *stubDetector) SetInterval(time.Duration) {
}

func (d *stubDetector) SetDevice(string) {
}

func (d *stubDetector) Pause() error {
	return nil
}

func (d *stubDetector) Resume() error {
	return nil
}

func (d *stubDetector) ForceEnd() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceEnds++
}

func (d *stubDetector) forced() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forceEnds
}

func (d *stubDetector) Subscribe() (<-chan types.LiveEvent, func()) {
	return d.live, func() {}
}

type testServer struct {
	det     *stubDetector
	srv     *Server
	handler http.Handler
	logPath string
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(filepath.Join(dir, "config.json"))
	require.NoError(t, cfg.Load())
	if apiKey != "" {
		require.NoError(t, cfg.SetAPIKey(apiKey))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SegmentStarted()

	det := &stubDetector{live: make(chan types.LiveEvent, 4)}
	logPath := filepath.Join(dir, "events.jsonl")
	srv := NewServer(cfg, ServerOptions{
		Detector:     det,
		Commands:     server.NewCommandHandler(cfg, det, nil, nil, logPath),
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		EventLogPath: logPath,
	})

	return &testServer{det: det, srv: srv, handler: srv.SetupRoutes(), logPath: logPath}
}

func (ts *testServer) get(path, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, testAPIKey)

	rec := ts.get("/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","state":"running","version":"dev","update_available":false}`, rec.Body.String())
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAPIKeyAuth(t *testing.T) {
	ts := newTestServer(t, testAPIKey)

	assert.Equal(t, http.StatusUnauthorized, ts.get("/api/stats", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.get("/api/stats", "wrong-key-0123456789").Code)
	assert.Equal(t, http.StatusOK, ts.get("/api/stats", testAPIKey).Code)
	assert.Equal(t, http.StatusOK, ts.get("/api/stats?key="+testAPIKey, "").Code)

	open := newTestServer(t, "")
	assert.Equal(t, http.StatusServiceUnavailable, open.get("/api/stats", "anything").Code)
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t, testAPIKey)

	rec := ts.get("/api/stats", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp types.SpeechStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, types.StateRunning, resp.Detector.State)
	assert.True(t, resp.Stats.IsSpeaking)
	assert.InDelta(t, 0.6, resp.Stats.Intensity, 1e-9)
	assert.InDelta(t, 0.025, resp.Settings.EndThreshold, 1e-9)
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, testAPIKey)
	logger, err := eventlog.NewLogger(ts.logPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, logger.LogSpeech(eventlog.SpeechStarted, at, &eventlog.SpeechDetails{SegmentID: id}))
	}

	rec := ts.get("/api/events?limit=2", testAPIKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var page types.EventLogPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "c", page.Entries[0].SegmentID)

	rec = ts.get("/api/events?limit=2&offset=2&filter=speech", testAPIKey)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.False(t, page.HasMore)
	assert.Equal(t, "a", page.Entries[0].SegmentID)

	for _, query := range []string{"limit=-1", "limit=501", "offset=x", "filter=email"} {
		assert.Equal(t, http.StatusBadRequest, ts.get("/api/events?"+query, testAPIKey).Code, query)
	}
}

func TestForceEndEndpoint(t *testing.T) {
	ts := newTestServer(t, testAPIKey)

	req := httptest.NewRequest(http.MethodPost, "/api/speech/force-end", nil)
	req.Header.Set("X-API-Key", testAPIKey)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.det.forced())
	assert.Equal(t, http.StatusMethodNotAllowed, ts.get("/api/speech/force-end", testAPIKey).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, testAPIKey)

	rec := ts.get("/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "speechdetect_segments_started_total 1")
}

func TestWebSocketStatusLiveAndCommands(t *testing.T) {
	ts := newTestServer(t, testAPIKey)
	httpSrv := httptest.NewServer(ts.handler)
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws?key=" + testAPIKey
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = resp.Body.Close()

	readUntil := func(msgType string) map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		for {
			var msg map[string]any
			require.NoError(t, conn.ReadJSON(&msg))
			if msg["type"] == msgType {
				return msg
			}
		}
	}

	status := readUntil("status")
	detector, ok := status["detector"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "running", detector["state"])
	assert.Equal(t, []any{}, status["devices"])

	ts.det.live <- types.LiveEvent{
		Type:      "live",
		Kind:      types.LiveSpeechStarted,
		At:        time.Now(),
		SegmentID: "seg-1",
	}
	live := readUntil("live")
	assert.Equal(t, "speech_started", live["kind"])
	assert.Equal(t, "seg-1", live["segment_id"])

	require.NoError(t, conn.WriteJSON(server.WSCommand{Type: "speech/force-end"}))
	result := readUntil("speech/force-end_result")
	assert.Equal(t, true, result["success"])
	assert.Equal(t, 1, ts.det.forced())
}

func TestWebSocketRequiresKey(t *testing.T) {
	ts := newTestServer(t, testAPIKey)
	httpSrv := httptest.NewServer(ts.handler)
	t.Cleanup(httpSrv.Close)

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	_ = resp.Body.Close()
}
