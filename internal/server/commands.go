package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// DefaultEventPageSize is the page size used when events/view omits a limit.
const DefaultEventPageSize = 50

// testTimeout bounds archive and webhook test operations.
const testTimeout = 30 * time.Second

// WSCommand is a command received from a WebSocket client.
type WSCommand struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Detector is the part of the speech detector driven by commands.
type Detector interface {
	Status() types.DetectorStatus
	Stats() types.SpeechStats
	Settings() types.SpeechSettings
	Devices() []audio.Device
	SetStartThreshold(v float64)
	SetSensitivity(v float64)
	SetMinSpeechDuration(v time.Duration)
	EnableFrequencyAnalysis(enabled bool)
	SetInterval(v time.Duration)
	SetDevice(device string)
	ForceEnd()
	Pause() error
	Resume() error
}

// Notifier sends webhook notifications.
type Notifier interface {
	SendTest(ctx context.Context) error
	Invalidate()
}

// Archiver uploads the event log to object storage.
type Archiver interface {
	TestConnection(ctx context.Context) error
}

// CommandHandler processes WebSocket commands.
type CommandHandler struct {
	cfg          *config.Config
	detector     Detector
	notifier     Notifier
	archiver     Archiver
	eventLogPath string
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(cfg *config.Config, det Detector, notifier Notifier, archiver Archiver, eventLogPath string) *CommandHandler {
	return &CommandHandler{
		cfg:          cfg,
		detector:     det,
		notifier:     notifier,
		archiver:     archiver,
		eventLogPath: eventLogPath,
	}
}

// Handle processes a WebSocket command and performs the requested action.
// Commands use slash-style format: namespace/action (e.g., "speech/update", "sampler/pause")
func (h *CommandHandler) Handle(cmd WSCommand, send chan<- any, triggerStatusUpdate func()) {
	parts := strings.SplitN(cmd.Type, "/", 3)
	namespace := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	subaction := ""
	if len(parts) > 2 {
		subaction = parts[2]
	}

	switch namespace {
	case "speech":
		h.handleSpeech(action, cmd, send)
	case "sampler":
		h.handleSampler(action, cmd, send)
	case "devices":
		h.handleDevices(action, cmd, send)
	case "events":
		h.handleEvents(action, cmd, send)
	case "notifications":
		h.handleNotifications(action, subaction, cmd, send)
	case "archive":
		h.handleArchive(action, send)
	case "status":
		h.handleStatus(action)
	default:
		slog.Warn("unknown WebSocket command", "type", cmd.Type)
	}

	triggerStatusUpdate()
}

// --- Namespace handlers ---

// handleSpeech routes speech/* commands
func (h *CommandHandler) handleSpeech(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "get":
		SendSuccess(send, cmd.Type, map[string]any{
			"settings": h.detector.Settings(),
			"stats":    h.detector.Stats(),
		})
	case "update":
		HandleCommand(cmd, send, h.updateSpeech)
	case "force-end":
		h.detector.ForceEnd()
		SendSuccess(send, cmd.Type, nil)
	default:
		slog.Warn("unknown speech action", "action", action)
	}
}

// handleSampler routes sampler/* commands
func (h *CommandHandler) handleSampler(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "update":
		HandleCommand(cmd, send, h.updateSampler)
	case "pause":
		h.sendResult(cmd.Type, send, h.detector.Pause())
	case "resume":
		h.sendResult(cmd.Type, send, h.detector.Resume())
	default:
		slog.Warn("unknown sampler action", "action", action)
	}
}

// handleDevices routes devices/* commands
func (h *CommandHandler) handleDevices(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "list":
		SendSuccess(send, cmd.Type, h.detector.Devices())
	default:
		slog.Warn("unknown devices action", "action", action)
	}
}

// handleEvents routes events/* commands
func (h *CommandHandler) handleEvents(action string, cmd WSCommand, send chan<- any) {
	switch action {
	case "view":
		h.handleViewEvents(cmd, send)
	default:
		slog.Warn("unknown events action", "action", action)
	}
}

// handleNotifications routes notifications/*/* commands
func (h *CommandHandler) handleNotifications(action, subaction string, cmd WSCommand, send chan<- any) {
	switch action {
	case "test":
		h.handleTest(send, "webhook", h.notifier.SendTest)
		return
	case "webhook":
	default:
		slog.Warn("unknown notifications action", "action", action)
		return
	}
	switch subaction {
	case "update":
		HandleCommand(cmd, send, h.updateWebhook)
	case "test":
		h.handleTest(send, "webhook", h.notifier.SendTest)
	case "get":
		snap := h.cfg.Snapshot()
		SendSuccess(send, cmd.Type, map[string]any{
			"url":   snap.WebhookURL,
			"oauth": snap.HasWebhookOAuth(),
		})
	default:
		slog.Warn("unknown webhook action", "subaction", subaction)
	}
}

// handleArchive routes archive/* commands
func (h *CommandHandler) handleArchive(action string, send chan<- any) {
	switch action {
	case "test":
		h.handleTest(send, "archive", h.archiver.TestConnection)
	default:
		slog.Warn("unknown archive action", "action", action)
	}
}

// handleStatus routes status/* commands
func (h *CommandHandler) handleStatus(action string) {
	switch action {
	case "get":
		// Status is sent automatically, but explicit get triggers immediate update
		slog.Debug("status/get received, status update will be triggered")
	default:
		slog.Warn("unknown status action", "action", action)
	}
}

func (h *CommandHandler) sendResult(cmdType string, send chan<- any, err error) {
	if err != nil {
		SendError(send, cmdType, err)
		return
	}
	SendSuccess(send, cmdType, nil)
}

// handleTest runs a connectivity test in the background and reports a WSTestResult.
func (h *CommandHandler) handleTest(send chan<- any, testType string, test func(context.Context) error) {
	go func() {
		result := types.WSTestResult{Type: "test_result", TestType: testType}
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in test handler", "test", testType, "panic", r)
				result.Success = false
				result.Error = "internal error"
				trySend(send, testType, result)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()

		if err := test(ctx); err != nil {
			slog.Warn("test failed", "test", testType, "error", err)
			result.Error = err.Error()
		} else {
			result.Success = true
		}
		trySend(send, testType, result)
	}()
}
