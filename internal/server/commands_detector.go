package server

import (
	"log/slog"
	"time"
)

// updateSpeech persists changed speech settings and applies them to the detector.
func (h *CommandHandler) updateSpeech(req *SpeechUpdateRequest) error {
	if req.StartThreshold != nil {
		if err := h.cfg.SetStartThreshold(*req.StartThreshold); err != nil {
			return err
		}
		h.detector.SetStartThreshold(*req.StartThreshold)
	}
	if req.Sensitivity != nil {
		if err := h.cfg.SetSensitivity(*req.Sensitivity); err != nil {
			return err
		}
		h.detector.SetSensitivity(*req.Sensitivity)
	}
	if req.MinSpeechMs != nil {
		if err := h.cfg.SetMinSpeechMs(*req.MinSpeechMs); err != nil {
			return err
		}
		h.detector.SetMinSpeechDuration(time.Duration(*req.MinSpeechMs) * time.Millisecond)
	}
	if req.FrequencyAnalysis != nil {
		if err := h.cfg.SetFrequencyAnalysis(*req.FrequencyAnalysis); err != nil {
			return err
		}
		h.detector.EnableFrequencyAnalysis(*req.FrequencyAnalysis)
	}
	slog.Info("speech settings updated")
	return nil
}

// updateSampler persists sampler settings and applies them to the detector.
func (h *CommandHandler) updateSampler(req *SamplerUpdateRequest) error {
	if req.UpdateIntervalMs != nil {
		if err := h.cfg.SetUpdateIntervalMs(*req.UpdateIntervalMs); err != nil {
			return err
		}
		h.detector.SetInterval(time.Duration(*req.UpdateIntervalMs) * time.Millisecond)
	}
	if req.Input != nil {
		if err := h.cfg.SetAudioInput(*req.Input); err != nil {
			return err
		}
		h.detector.SetDevice(*req.Input)
		slog.Info("audio input changed", "input", *req.Input)
	}
	return nil
}

// updateWebhook persists the webhook URL and drops the cached client.
func (h *CommandHandler) updateWebhook(req *WebhookUpdateRequest) error {
	if err := h.cfg.SetWebhookURL(req.URL); err != nil {
		return err
	}
	h.notifier.Invalidate()
	return nil
}
