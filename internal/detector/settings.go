package detector

import (
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/sampler"
	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
)

// Live settings are applied on the scheduler goroutine between ticks.

// SetStartThreshold sets the start threshold; the end threshold follows at half.
func (d *Detector) SetStartThreshold(v float64) {
	d.sched.Do(func(time.Time) { d.classifier.SetStartThreshold(v) })
}

// SetSensitivity sets the input gain applied before smoothing.
func (d *Detector) SetSensitivity(v float64) {
	d.sched.Do(func(time.Time) { d.classifier.SetSensitivity(v) })
}

// SetMinSpeechDuration sets the minimum segment duration.
func (d *Detector) SetMinSpeechDuration(v time.Duration) {
	d.sched.Do(func(time.Time) { d.classifier.SetMinSpeechDuration(v) })
}

// EnableFrequencyAnalysis toggles speech-band weighting.
func (d *Detector) EnableFrequencyAnalysis(enabled bool) {
	d.sched.Do(func(time.Time) { d.classifier.EnableFrequencyAnalysis(enabled) })
}

// SetInterval changes the sampler cadence.
func (d *Detector) SetInterval(v time.Duration) {
	d.sched.Do(func(time.Time) { d.sampler.SetInterval(v) })
}

// ForceEnd ends the current speech segment, if any.
func (d *Detector) ForceEnd() {
	d.sched.Do(func(now time.Time) { d.classifier.ForceEnd(now) })
}

// SetDevice selects the capture device. A running detector ends speech in
// progress, drops smoothing history and restarts capture on the new device.
func (d *Detector) SetDevice(device string) {
	d.mu.Lock()
	if device == d.device {
		d.mu.Unlock()
		return
	}
	d.device = device
	d.mu.Unlock()

	slog.Info("capture device changed", "device", device)
	d.onScheduler(func(now time.Time) {
		if d.sampler.IsRunning() {
			d.resetPipeline(now)
		}
		if err := d.sampler.SetDevice(device); err != nil {
			slog.Error("failed to switch capture device", "device", device, "error", err)
		}
	})
}

// ApplyConfig applies reloaded configuration to the running pipeline.
//
//nolint:gocritic // hugeParam: called only when the configuration changes
func (d *Detector) ApplyConfig(snap config.Snapshot) {
	speechCfg := speechConfig(&snap)
	samplerCfg := samplerConfig(&snap)
	minRadius, maxRadius := snap.MinRadius, snap.MaxRadius

	d.sched.Do(func(time.Time) {
		d.classifier.Configure(speechCfg)
		d.sampler.SetInterval(samplerCfg.Interval)
		d.sampler.SetSampleWindow(samplerCfg.SampleWindow)
		d.sampler.SetNormalization(samplerCfg.Normalize, samplerCfg.Gain)
		d.attractor.SetBounds(minRadius, maxRadius)
	})
	d.SetDevice(snap.AudioInput)
}

func speechConfig(snap *config.Snapshot) speech.Config {
	return speech.Config{
		StartThreshold:    snap.StartThreshold,
		EndThreshold:      snap.EndThreshold,
		MinSpeech:         snap.MinSpeech,
		MaxSilence:        snap.MaxSilence,
		GraceFactor:       snap.ShortSpeechGraceFactor,
		Sensitivity:       snap.Sensitivity,
		SmoothingWindow:   snap.SmoothingWindow,
		FrequencyAnalysis: snap.FrequencyAnalysis,
		MinFrequencyHz:    snap.MinFrequencyHz,
		MaxFrequencyHz:    snap.MaxFrequencyHz,
		FFTSize:           snap.FFTSize,
	}
}

func samplerConfig(snap *config.Snapshot) sampler.Config {
	return sampler.Config{
		Interval:     snap.UpdateInterval,
		SampleWindow: snap.SampleWindow,
		Normalize:    snap.Normalize,
		Gain:         snap.NormalizationGain,
	}
}
