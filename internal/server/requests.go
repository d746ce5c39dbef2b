package server

// Request types for WebSocket commands with validation tags.
// These types define the expected input for each command and use
// go-playground/validator struct tags for automatic validation.

// --- Speech settings ---

// SpeechUpdateRequest is the request body for speech/update.
// Omitted fields keep their current value.
type SpeechUpdateRequest struct {
	StartThreshold    *float64 `json:"start_threshold" validate:"omitempty,gt=0,lte=1"`
	Sensitivity       *float64 `json:"sensitivity" validate:"omitempty,gte=0.1,lte=5"`
	MinSpeechMs       *int64   `json:"min_speech_ms" validate:"omitempty,gte=100,lte=60000"`
	FrequencyAnalysis *bool    `json:"frequency_analysis"`
}

// --- Sampler settings ---

// SamplerUpdateRequest is the request body for sampler/update.
type SamplerUpdateRequest struct {
	UpdateIntervalMs *int64  `json:"update_interval_ms" validate:"omitempty,gte=10,lte=10000"`
	Input            *string `json:"input" validate:"omitempty,max=256"`
}

// --- Event log ---

// EventsViewRequest is the request body for events/view.
type EventsViewRequest struct {
	Limit  int    `json:"limit" validate:"gte=0,lte=500"`
	Offset int    `json:"offset" validate:"gte=0"`
	Filter string `json:"filter" validate:"omitempty,oneof=speech capture archive"`
}

// --- Notifications ---

// WebhookUpdateRequest is the request body for notifications/webhook/update.
// An empty URL disables the webhook.
type WebhookUpdateRequest struct {
	URL string `json:"url" validate:"omitempty,url,max=2048"`
}
