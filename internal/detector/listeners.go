package detector

import (
	"context"
	"log/slog"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/sampler"
	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// onVolume refreshes the statistics snapshot after the classifier has
// consumed the sample.
func (d *Detector) onVolume(s sampler.VolumeSample) {
	peak := d.peakHolder.Update(s.Value, s.At)
	if d.metrics != nil {
		d.metrics.ObserveVolume(s.Value)
	}

	st := d.classifier.Stats(s.At)
	stats := types.SpeechStats{
		IsSpeaking:       st.IsSpeaking,
		SpeechDurationMs: st.SpeechDuration.Milliseconds(),
		Intensity:        st.Intensity,
		FrequencyRatio:   st.FrequencyRatio,
		SmoothedVolume:   st.SmoothedVolume,
		VolumePeak:       peak,
		Radius:           d.attractor.Radius(),
	}

	d.mu.Lock()
	d.stats = stats
	d.mu.Unlock()

	d.publish(types.LiveEvent{Kind: types.LiveVolume, At: s.At, Value: s.Value})
}

func (d *Detector) onIntensity(v float64, at time.Time) {
	if d.metrics != nil {
		d.metrics.ObserveIntensity(v)
	}

	ev := types.LiveEvent{Kind: types.LiveIntensity, At: at, Value: v}
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) && d.classifier.Config().FrequencyAnalysis {
		ev.Spectrum = audio.SpectrumBars(d.classifier.LastSpectrum(), spectrumBars)
	}
	d.publish(ev)
}

func (d *Detector) onSpeechStarted(ev speech.Event) {
	if d.metrics != nil {
		d.metrics.SegmentStarted()
	}
	d.logSpeech(eventlog.SpeechStarted, ev.StartedAt, ev)
	if d.notifier != nil {
		d.notifier.HandleStarted(ev)
	}
	d.publish(types.LiveEvent{
		Kind:      types.LiveSpeechStarted,
		At:        ev.StartedAt,
		SegmentID: ev.ID.String(),
	})
}

func (d *Detector) onSpeechEnded(ev speech.Event) {
	if d.metrics != nil {
		d.metrics.SegmentEnded(ev.Duration, ev.PeakIntensity, ev.Forced)
	}
	d.logSpeech(eventlog.SpeechEnded, ev.EndedAt, ev)
	if d.notifier != nil {
		d.notifier.HandleEnded(ev)
	}
	d.publish(types.LiveEvent{
		Kind:       types.LiveSpeechEnded,
		At:         ev.EndedAt,
		Value:      ev.PeakIntensity,
		SegmentID:  ev.ID.String(),
		DurationMs: ev.Duration.Milliseconds(),
		Forced:     ev.Forced,
	})
}

//nolint:gocritic // hugeParam: once per segment transition
func (d *Detector) logSpeech(t eventlog.EventType, at time.Time, ev speech.Event) {
	if d.eventLog == nil {
		return
	}
	start, _ := d.classifier.Thresholds()
	details := &eventlog.SpeechDetails{
		SegmentID:      ev.ID.String(),
		StartThreshold: start,
	}
	if t == eventlog.SpeechEnded {
		details.DurationMs = ev.Duration.Milliseconds()
		details.PeakIntensity = ev.PeakIntensity
		details.Forced = ev.Forced
	}
	if err := d.eventLog.LogSpeech(t, at, details); err != nil {
		slog.Warn("failed to write event log", "event", t, "error", err)
	}
}
