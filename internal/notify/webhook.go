package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

const (
	// Retry settings.
	maxAttempts      = 3
	initialRetryWait = 500 * time.Millisecond
	maxRetryWait     = 5 * time.Second

	// HTTP client timeout.
	httpTimeout = 10 * time.Second
)

// ErrWebhookNotConfigured is returned when a test is requested without a webhook URL.
var ErrWebhookNotConfigured = errors.New("webhook URL not configured")

// WebhookPayload represents the data sent to webhook endpoints.
type WebhookPayload struct {
	Event         string  `json:"event"`
	SegmentID     string  `json:"segment_id,omitempty"`
	StartedAt     string  `json:"started_at,omitempty"`
	EndedAt       string  `json:"ended_at,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`
	PeakIntensity float64 `json:"peak_intensity,omitempty"`
	Forced        bool    `json:"forced,omitempty"`
	Threshold     float64 `json:"threshold,omitempty"`
	Device        string  `json:"device,omitempty"`
	Message       string  `json:"message,omitempty"`
	Timestamp     string  `json:"timestamp"`
}

// statusError reports a non-2xx webhook response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("webhook returned status %d", e.code)
}

// retryable reports whether a failed delivery may succeed on a later attempt.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return !errors.Is(err, context.Canceled)
}

// Webhook posts JSON payloads to a single endpoint.
type Webhook struct {
	url        string
	httpClient *http.Client
	wait       func(time.Duration)
}

// NewWebhook creates a webhook client from the configuration. When OAuth2
// client credentials are configured, requests carry a bearer token.
//
//nolint:gocritic // hugeParam: called only when the configuration changes
func NewWebhook(cfg config.Snapshot) *Webhook {
	baseClient := &http.Client{Timeout: httpTimeout}
	httpClient := baseClient

	if cfg.HasWebhookOAuth() {
		conf := &clientcredentials.Config{
			ClientID:     cfg.WebhookClientID,
			ClientSecret: cfg.WebhookClientSecret,
			TokenURL:     cfg.WebhookTokenURL,
			Scopes:       cfg.WebhookScopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
		httpClient = conf.Client(ctx)
	}

	return &Webhook{
		url:        cfg.WebhookURL,
		httpClient: httpClient,
		wait:       time.Sleep,
	}
}

// URL returns the endpoint the webhook posts to.
func (w *Webhook) URL() string {
	return w.url
}

// Send delivers payload, retrying transient failures with exponential backoff.
// An unconfigured webhook silently succeeds.
func (w *Webhook) Send(ctx context.Context, payload *WebhookPayload) error {
	if !util.IsConfigured(w.url) {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	backoff := util.NewBackoff(initialRetryWait, maxRetryWait)
	for {
		err = w.post(ctx, body)
		if err == nil || !retryable(err) || backoff.Exhausted(maxAttempts-1) {
			return err
		}
		w.wait(backoff.Next())
	}
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", AppName)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer resp.Body.Close()               //nolint:errcheck // Response body close error is not actionable
	_, _ = io.Copy(io.Discard, resp.Body) // Drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
