package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
)

type recorder struct {
	mu       sync.Mutex
	payloads []WebhookPayload
	auth     []string
}

func (r *recorder) handler(w http.ResponseWriter, req *http.Request) {
	var p WebhookPayload
	if err := json.NewDecoder(req.Body).Decode(&p); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.auth = append(r.auth, req.Header.Get("Authorization"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *recorder) events() []WebhookPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]WebhookPayload(nil), r.payloads...)
}

func newConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if body != "" {
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	}
	cfg := config.New(path)
	require.NoError(t, cfg.Load())
	return cfg
}

func segment(start time.Time, d time.Duration) speech.Event {
	return speech.Event{
		ID:            uuid.New(),
		StartedAt:     start,
		EndedAt:       start.Add(d),
		Duration:      d,
		PeakIntensity: 0.8,
	}
}

func TestSpeechNotifierDeliversStartAndEnd(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	cfg := newConfig(t, "")
	require.NoError(t, cfg.SetWebhookURL(srv.URL))

	n := NewSpeechNotifier(cfg)
	ev := segment(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), 1500*time.Millisecond)

	n.HandleStarted(ev)
	n.Wait()
	n.HandleEnded(ev)
	n.Wait()

	got := rec.events()
	require.Len(t, got, 2)
	assert.Equal(t, EventSpeechStarted, got[0].Event)
	assert.Equal(t, ev.ID.String(), got[0].SegmentID)
	assert.Equal(t, "2026-03-01T09:00:00Z", got[0].StartedAt)
	assert.Equal(t, EventSpeechEnded, got[1].Event)
	assert.Equal(t, int64(1500), got[1].DurationMs)
	assert.InDelta(t, 0.8, got[1].PeakIntensity, 1e-9)
	assert.Empty(t, rec.auth[0])
}

func TestSpeechNotifierSkipsUnannouncedEnd(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	cfg := newConfig(t, "")
	n := NewSpeechNotifier(cfg)
	ev := segment(time.Now(), time.Second)

	// No webhook configured at start: nothing is announced.
	n.HandleStarted(ev)
	require.NoError(t, cfg.SetWebhookURL(srv.URL))
	n.HandleEnded(ev)
	n.Wait()
	assert.Empty(t, rec.events())

	// Reset forgets an announced segment.
	ev = segment(time.Now(), time.Second)
	n.HandleStarted(ev)
	n.Wait()
	n.Reset()
	n.HandleEnded(ev)
	n.Wait()
	assert.Len(t, rec.events(), 1)
}

func TestSendTest(t *testing.T) {
	n := NewSpeechNotifier(newConfig(t, ""))
	assert.ErrorIs(t, n.SendTest(context.Background()), ErrWebhookNotConfigured)

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	cfg := newConfig(t, "")
	require.NoError(t, cfg.SetWebhookURL(srv.URL))
	n = NewSpeechNotifier(cfg)
	require.NoError(t, n.SendTest(context.Background()))
	got := rec.events()
	require.Len(t, got, 1)
	assert.Equal(t, EventTest, got[0].Event)
	assert.Contains(t, got[0].Message, AppName)
}

func TestWebhookRetries(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		wantErr  bool
		wantHits int32
	}{
		{"first attempt succeeds", []int{200}, false, 1},
		{"retries server errors", []int{503, 500, 204}, false, 3},
		{"gives up after max attempts", []int{500, 500, 500, 500}, true, maxAttempts},
		{"no retry on client error", []int{400, 200}, true, 1},
		{"retries rate limiting", []int{429, 200}, false, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				i := hits.Add(1) - 1
				w.WriteHeader(tt.statuses[min(int(i), len(tt.statuses)-1)])
			}))
			defer srv.Close()

			var waits []time.Duration
			w := NewWebhook(config.Snapshot{WebhookURL: srv.URL})
			w.wait = func(d time.Duration) { waits = append(waits, d) }

			err := w.Send(context.Background(), &WebhookPayload{Event: EventTest})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantHits, hits.Load())
			assert.Len(t, waits, int(tt.wantHits)-1)
		})
	}
}

func TestWebhookUnconfiguredIsNoop(t *testing.T) {
	w := NewWebhook(config.Snapshot{})
	assert.NoError(t, w.Send(context.Background(), &WebhookPayload{Event: EventTest}))
}

func TestWebhookOAuthClientCredentials(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()

	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	w := NewWebhook(config.Snapshot{
		WebhookURL:          srv.URL,
		WebhookTokenURL:     tokenSrv.URL,
		WebhookClientID:     "speechdetect",
		WebhookClientSecret: "secret",
		WebhookScopes:       []string{"events.write"},
	})
	require.NoError(t, w.Send(context.Background(), &WebhookPayload{Event: EventTest}))
	require.Len(t, rec.auth, 1)
	assert.Equal(t, "Bearer tok", rec.auth[0])
}
