package config

import (
	"fmt"

	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// --- Getters for individual settings ---

// AudioInput returns the configured audio input device.
func (c *Config) AudioInput() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Audio.Input
}

// GetFFmpegPath returns the configured FFmpeg binary path.
func (c *Config) GetFFmpegPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.System.FFmpegPath
}

// LogPath returns the configured event log path.
func (c *Config) LogPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notifications.Log.Path
}

// --- Setters for individual settings ---

// SetAudioInput updates the audio input device and saves the configuration.
func (c *Config) SetAudioInput(input string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Audio.Input = input
	return c.saveLocked()
}

// SetUpdateIntervalMs updates the sampler cadence and saves the configuration.
func (c *Config) SetUpdateIntervalMs(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ms < 10 {
		return fmt.Errorf("update interval %dms is below 10ms", ms)
	}
	c.Audio.UpdateIntervalMs = ms
	return c.saveLocked()
}

// SetStartThreshold updates the start threshold, derives the end threshold
// as half of it, and saves the configuration.
func (c *Config) SetStartThreshold(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v <= 0 || v > 1 {
		return fmt.Errorf("start threshold %v must be in (0, 1]", v)
	}
	c.Speech.StartThreshold = v
	c.Speech.EndThreshold = v * EndThresholdRatio
	return c.saveLocked()
}

// SetSensitivity updates the input gain and saves the configuration.
func (c *Config) SetSensitivity(v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Speech.Sensitivity = min(max(v, 0.1), 5)
	return c.saveLocked()
}

// SetMinSpeechMs updates the minimum speech duration and saves the configuration.
func (c *Config) SetMinSpeechMs(ms int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Speech.MinSpeechMs = max(ms, 100)
	return c.saveLocked()
}

// SetFrequencyAnalysis toggles speech-band weighting and saves the configuration.
func (c *Config) SetFrequencyAnalysis(enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Speech.FrequencyAnalysis = enabled
	return c.saveLocked()
}

// SetLogPath updates the event log path and saves the configuration.
func (c *Config) SetLogPath(path string) error {
	if path != "" {
		if err := util.ValidatePath("log path", path); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Log.Path = path
	return c.saveLocked()
}

// SetWebhookURL updates the webhook URL and saves the configuration.
func (c *Config) SetWebhookURL(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Notifications.Webhook.URL = url
	return c.saveLocked()
}

// SetAPIKey updates the API key and saves the configuration.
func (c *Config) SetAPIKey(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.System.APIKey = key
	return c.saveLocked()
}
