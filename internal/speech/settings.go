package speech

import "time"

// SetStartThreshold sets the start threshold and derives the end threshold
// as exactly half of it. Non-positive values are ignored.
func (c *Classifier) SetStartThreshold(v float64) {
	if v <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.StartThreshold = v
	c.cfg.EndThreshold = v * 0.5
}

// Thresholds returns the start and end thresholds.
func (c *Classifier) Thresholds() (start, end float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.StartThreshold, c.cfg.EndThreshold
}

// SetSensitivity sets the input gain, clamped to [MinSensitivity, MaxSensitivity].
func (c *Classifier) SetSensitivity(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Sensitivity = clampSensitivity(v)
}

// SetMinSpeechDuration sets the shortest segment that may end on silence,
// floored at MinSpeechDurationMin.
func (c *Classifier) SetMinSpeechDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MinSpeech = max(d, MinSpeechDurationMin)
}

// SetMaxSilence sets the silence tolerated inside a segment. Non-positive values are ignored.
func (c *Classifier) SetMaxSilence(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.MaxSilence = d
}

// EnableFrequencyAnalysis toggles speech-band weighting. Enabling it starts
// from an empty frequency history.
func (c *Classifier) EnableFrequencyAnalysis(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enabled && !c.cfg.FrequencyAnalysis {
		c.frequency.Reset()
	}
	c.cfg.FrequencyAnalysis = enabled
	if !enabled {
		c.frequencyRatio = 1
		c.lastSpectrum = nil
	}
}

// Configure replaces all tunables. State is kept unless the smoothing window
// size changes, in which case both windows start empty.
func (c *Classifier) Configure(cfg Config) {
	cfg = normalizeConfig(cfg)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.SmoothingWindow != c.volume.Cap() {
		c.volume = newWindow(cfg.SmoothingWindow)
		c.frequency = newWindow(cfg.SmoothingWindow)
	} else if cfg.FrequencyAnalysis && !c.cfg.FrequencyAnalysis {
		c.frequency.Reset()
	}
	if !cfg.FrequencyAnalysis {
		c.frequencyRatio = 1
	}
	c.cfg = cfg
}

// Config returns the current tunables.
func (c *Classifier) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}
