// Package notify delivers speech segment notifications to external systems.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// Webhook event names.
const (
	EventSpeechStarted = "speech_started"
	EventSpeechEnded   = "speech_ended"
	EventTest          = "test"
)

// SpeechNotifier turns speech segment transitions into webhook calls.
// Deliveries run on their own goroutines so callers never block.
type SpeechNotifier struct {
	cfg *config.Config

	// mu protects the cached webhook client.
	mu      sync.Mutex
	webhook *Webhook

	// started tracks segments whose start notification went out, so an end
	// is only reported for a segment that was announced.
	started map[string]struct{}

	wg sync.WaitGroup
}

// NewSpeechNotifier returns a SpeechNotifier reading settings from cfg.
func NewSpeechNotifier(cfg *config.Config) *SpeechNotifier {
	return &SpeechNotifier{
		cfg:     cfg,
		started: make(map[string]struct{}),
	}
}

// Invalidate drops the cached webhook client.
// Call this when webhook configuration changes.
func (n *SpeechNotifier) Invalidate() {
	n.mu.Lock()
	n.webhook = nil
	n.mu.Unlock()
}

// getOrCreateWebhook returns the cached webhook client, creating it if needed.
func (n *SpeechNotifier) getOrCreateWebhook() (*Webhook, config.Snapshot) {
	cfg := n.cfg.Snapshot()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.webhook == nil || n.webhook.URL() != cfg.WebhookURL {
		n.webhook = NewWebhook(cfg)
	}
	return n.webhook, cfg
}

// HandleStarted announces the start of a speech segment.
func (n *SpeechNotifier) HandleStarted(ev speech.Event) {
	webhook, cfg := n.getOrCreateWebhook()
	if !cfg.HasWebhook() {
		return
	}

	id := ev.ID.String()
	n.mu.Lock()
	n.started[id] = struct{}{}
	n.mu.Unlock()

	payload := &WebhookPayload{
		Event:     EventSpeechStarted,
		SegmentID: id,
		StartedAt: timestampUTC(ev.StartedAt),
		Threshold: cfg.StartThreshold,
		Device:    cfg.AudioInput,
		Timestamp: timestampUTC(time.Now()),
	}
	n.dispatch(webhook, payload, "Speech started webhook")
}

// HandleEnded announces the end of a previously announced speech segment.
func (n *SpeechNotifier) HandleEnded(ev speech.Event) {
	id := ev.ID.String()
	n.mu.Lock()
	_, announced := n.started[id]
	delete(n.started, id)
	n.mu.Unlock()
	if !announced {
		return
	}

	webhook, cfg := n.getOrCreateWebhook()
	if !cfg.HasWebhook() {
		return
	}

	payload := &WebhookPayload{
		Event:         EventSpeechEnded,
		SegmentID:     id,
		StartedAt:     timestampUTC(ev.StartedAt),
		EndedAt:       timestampUTC(ev.EndedAt),
		DurationMs:    ev.Duration.Milliseconds(),
		PeakIntensity: ev.PeakIntensity,
		Forced:        ev.Forced,
		Threshold:     cfg.StartThreshold,
		Device:        cfg.AudioInput,
		Timestamp:     timestampUTC(time.Now()),
	}
	n.dispatch(webhook, payload, "Speech ended webhook")
}

// Reset forgets announced segments.
func (n *SpeechNotifier) Reset() {
	n.mu.Lock()
	clear(n.started)
	n.mu.Unlock()
}

// SendTest synchronously sends a test notification.
func (n *SpeechNotifier) SendTest(ctx context.Context) error {
	webhook, cfg := n.getOrCreateWebhook()
	if !cfg.HasWebhook() {
		return ErrWebhookNotConfigured
	}
	return webhook.Send(ctx, &WebhookPayload{
		Event:     EventTest,
		Message:   "This is a test notification from " + AppName,
		Device:    cfg.AudioInput,
		Timestamp: timestampUTC(time.Now()),
	})
}

// Wait blocks until all in-flight deliveries finish.
func (n *SpeechNotifier) Wait() {
	n.wg.Wait()
}

func (n *SpeechNotifier) dispatch(webhook *Webhook, payload *WebhookPayload, kind string) {
	n.wg.Go(func() {
		defer util.LogPanic("notify")
		util.LogNotifyResult(func() error {
			return webhook.Send(context.Background(), payload)
		}, kind)
	})
}
