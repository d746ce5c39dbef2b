// Package speech classifies a loudness stream into speech segments.
//
// A Classifier smooths incoming volume, optionally weights it by the share of
// spectral energy in the speech band, and runs a two-threshold state machine
// that emits started and ended events plus a continuous intensity in [0,1].
package speech

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/sampler"
)

// ErrNoAudioSource is returned when a Classifier is created without an audio source.
var ErrNoAudioSource = errors.New("no audio source for speech classifier")

// Tuning limits.
const (
	MinSensitivity       = 0.1
	MaxSensitivity       = 5.0
	MinSpeechDurationMin = 100 * time.Millisecond

	// DefaultShortSpeechGraceFactor scales maxSilence into the silence limit
	// that ends a segment even when it is shorter than minSpeech.
	DefaultShortSpeechGraceFactor = 2.0
)

// SpectrumSource provides magnitude spectra of the live capture.
type SpectrumSource interface {
	Snapshot(bins int) ([]float64, error)
	SampleRate() int
}

// CaptureState reports whether live audio is being captured.
type CaptureState interface {
	Capturing() bool
}

// AudioSource is the capture collaborator a Classifier reads spectra from.
type AudioSource interface {
	SpectrumSource
	CaptureState
}

// State is the classifier state.
type State int

// Classifier states.
const (
	Idle State = iota
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

// Event describes a speech segment. EndedAt, Duration and Forced are only
// set on ended events.
type Event struct {
	ID            uuid.UUID
	StartedAt     time.Time
	EndedAt       time.Time
	Duration      time.Duration
	PeakIntensity float64
	Forced        bool // ended by ForceEnd
}

// Stats is a point-in-time view of the classifier.
type Stats struct {
	IsSpeaking     bool          `json:"is_speaking"`
	SpeechDuration time.Duration `json:"speech_duration"`
	Intensity      float64       `json:"intensity"`
	FrequencyRatio float64       `json:"frequency_ratio"`
	SmoothedVolume float64       `json:"smoothed_volume"`
}

// Config holds the classifier tunables.
type Config struct {
	StartThreshold float64
	// EndThreshold defaults to half of StartThreshold when zero.
	EndThreshold      float64
	MinSpeech         time.Duration
	MaxSilence        time.Duration
	GraceFactor       float64
	Sensitivity       float64
	SmoothingWindow   int
	FrequencyAnalysis bool
	MinFrequencyHz    float64
	MaxFrequencyHz    float64
	FFTSize           int // spectrum bins per snapshot
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		StartThreshold:    0.05,
		EndThreshold:      0.025,
		MinSpeech:         300 * time.Millisecond,
		MaxSilence:        500 * time.Millisecond,
		GraceFactor:       DefaultShortSpeechGraceFactor,
		Sensitivity:       1.0,
		SmoothingWindow:   5,
		FrequencyAnalysis: true,
		MinFrequencyHz:    80,
		MaxFrequencyHz:    8000,
		FFTSize:           1024,
	}
}

func normalizeConfig(cfg Config) Config {
	d := DefaultConfig()
	if cfg.StartThreshold <= 0 {
		cfg.StartThreshold = d.StartThreshold
	}
	if cfg.EndThreshold <= 0 || cfg.EndThreshold >= cfg.StartThreshold {
		cfg.EndThreshold = cfg.StartThreshold / 2
	}
	cfg.MinSpeech = max(cfg.MinSpeech, MinSpeechDurationMin)
	if cfg.MaxSilence <= 0 {
		cfg.MaxSilence = d.MaxSilence
	}
	if cfg.GraceFactor <= 0 {
		cfg.GraceFactor = d.GraceFactor
	}
	if cfg.Sensitivity == 0 {
		cfg.Sensitivity = d.Sensitivity
	}
	cfg.Sensitivity = clampSensitivity(cfg.Sensitivity)
	if cfg.SmoothingWindow <= 0 {
		cfg.SmoothingWindow = d.SmoothingWindow
	}
	if cfg.MaxFrequencyHz <= 0 {
		cfg.MinFrequencyHz, cfg.MaxFrequencyHz = d.MinFrequencyHz, d.MaxFrequencyHz
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = d.FFTSize
	}
	return cfg
}

func clampSensitivity(v float64) float64 {
	return min(max(v, MinSensitivity), MaxSensitivity)
}

// Classifier turns volume samples into speech events. It is safe for
// concurrent use; listeners run on the goroutine that calls Process,
// ForceEnd or Reset. Started and ended listeners must not call back into
// the Classifier.
type Classifier struct {
	src AudioSource

	// order is held from a state change until its events are delivered,
	// so listeners always see started and ended alternate.
	order sync.Mutex

	mu             sync.Mutex
	cfg            Config
	volume         *window
	frequency      *window
	state          State
	segment        uuid.UUID
	startedAt      time.Time
	lastSpeech     time.Time
	intensity      float64
	peakIntensity  float64
	frequencyRatio float64
	lastSpectrum   []float64

	listenerMu  sync.RWMutex
	onStarted   []func(Event)
	onEnded     []func(Event)
	onIntensity []func(float64, time.Time)
}

// New returns an idle Classifier reading spectra from src.
func New(src AudioSource, cfg Config) (*Classifier, error) {
	if src == nil {
		return nil, ErrNoAudioSource
	}
	cfg = normalizeConfig(cfg)
	return &Classifier{
		src:            src,
		cfg:            cfg,
		volume:         newWindow(cfg.SmoothingWindow),
		frequency:      newWindow(cfg.SmoothingWindow),
		frequencyRatio: 1,
	}, nil
}

// OnStarted registers fn for segment starts.
func (c *Classifier) OnStarted(fn func(Event)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onStarted = append(c.onStarted, fn)
}

// OnEnded registers fn for segment ends.
func (c *Classifier) OnEnded(fn func(Event)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onEnded = append(c.onEnded, fn)
}

// OnIntensity registers fn for the per-sample intensity.
func (c *Classifier) OnIntensity(fn func(intensity float64, at time.Time)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.onIntensity = append(c.onIntensity, fn)
}

// outcome collects what a state change must announce once the lock is released.
type outcome struct {
	started *Event
	ended   *Event
}

// Process runs one classification step for sample. Intensity listeners run
// after any started or ended event of the same step.
func (c *Classifier) Process(sample sampler.VolumeSample) {
	now := sample.At

	c.order.Lock()
	c.mu.Lock()
	volume := sample.Value * c.cfg.Sensitivity
	c.volume.Push(volume)
	smoothed := c.volume.Mean()

	score := 1.0
	if c.cfg.FrequencyAnalysis && c.src.Capturing() {
		score = c.frequencyScoreLocked()
		c.frequency.Push(score)
		c.frequencyRatio = c.frequency.Mean()
	} else {
		c.frequencyRatio = 1
	}

	combined := smoothed * score
	intensity := min(max(combined/c.cfg.StartThreshold, 0), 1)
	c.intensity = intensity

	out := c.transitionLocked(combined, now)
	speaking := c.state == Speaking
	c.mu.Unlock()
	c.announce(out)
	c.order.Unlock()

	slog.Debug("speech tick",
		"volume", volume,
		"smoothed", smoothed,
		"frequency_score", score,
		"combined", combined,
		"speaking", speaking,
		"intensity", intensity)

	c.emitIntensity(intensity, now)
}

// frequencyScoreLocked returns the speech-band share of the current spectrum.
// An unavailable or empty spectrum scores 0.
func (c *Classifier) frequencyScoreLocked() float64 {
	spectrum, err := c.src.Snapshot(c.cfg.FFTSize)
	if err != nil {
		slog.Debug("spectrum unavailable", "error", err)
		c.lastSpectrum = nil
		return 0
	}
	c.lastSpectrum = spectrum

	ratio, err := audio.SpeechBandRatio(spectrum, c.src.SampleRate(), c.cfg.MinFrequencyHz, c.cfg.MaxFrequencyHz)
	if err != nil {
		slog.Debug("invalid spectrum", "error", err)
		return 0
	}
	return ratio
}

// transitionLocked advances the state machine with combined at now.
func (c *Classifier) transitionLocked(combined float64, now time.Time) outcome {
	switch c.state {
	case Idle:
		if combined > c.cfg.StartThreshold {
			c.state = Speaking
			c.segment = uuid.New()
			c.startedAt = now
			c.lastSpeech = now
			c.peakIntensity = c.intensity
			return outcome{started: &Event{ID: c.segment, StartedAt: now, PeakIntensity: c.intensity}}
		}
	case Speaking:
		c.peakIntensity = max(c.peakIntensity, c.intensity)
		if combined > c.cfg.EndThreshold {
			c.lastSpeech = now
		}
		silence := now.Sub(c.lastSpeech)
		duration := now.Sub(c.startedAt)

		settled := duration >= c.cfg.MinSpeech &&
			(silence > c.cfg.MaxSilence || combined < c.cfg.EndThreshold)
		abandoned := float64(silence) > c.cfg.GraceFactor*float64(c.cfg.MaxSilence)

		if settled || abandoned {
			return outcome{ended: c.endLocked(now, false)}
		}
	}
	return outcome{}
}

// endLocked returns to Idle and describes the finished segment.
func (c *Classifier) endLocked(now time.Time, forced bool) *Event {
	ev := &Event{
		ID:            c.segment,
		StartedAt:     c.startedAt,
		EndedAt:       now,
		Duration:      now.Sub(c.startedAt),
		PeakIntensity: c.peakIntensity,
		Forced:        forced,
	}
	c.state = Idle
	c.segment = uuid.Nil
	c.startedAt = time.Time{}
	c.lastSpeech = time.Time{}
	c.intensity = 0
	c.peakIntensity = 0
	return ev
}

func (c *Classifier) emitIntensity(v float64, at time.Time) {
	c.listenerMu.RLock()
	listeners := c.onIntensity
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(v, at)
	}
}

func (c *Classifier) announce(out outcome) {
	if out.started == nil && out.ended == nil {
		return
	}

	c.listenerMu.RLock()
	started, ended := c.onStarted, c.onEnded
	c.listenerMu.RUnlock()

	if out.started != nil {
		slog.Info("speech started", "segment", out.started.ID)
		for _, fn := range started {
			fn(*out.started)
		}
	}
	if out.ended != nil {
		slog.Info("speech ended",
			"segment", out.ended.ID,
			"duration_ms", out.ended.Duration.Milliseconds(),
			"forced", out.ended.Forced)
		for _, fn := range ended {
			fn(*out.ended)
		}
	}
}

// ForceEnd ends the current segment without checking duration or silence.
// It does nothing when idle.
func (c *Classifier) ForceEnd(now time.Time) {
	c.order.Lock()
	defer c.order.Unlock()

	c.mu.Lock()
	if c.state != Speaking {
		c.mu.Unlock()
		return
	}
	ev := c.endLocked(now, true)
	c.mu.Unlock()

	c.announce(outcome{ended: ev})
}

// Reset returns to Idle with empty smoothing history. No events are emitted.
func (c *Classifier) Reset() {
	c.order.Lock()
	defer c.order.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Idle
	c.segment = uuid.Nil
	c.startedAt = time.Time{}
	c.lastSpeech = time.Time{}
	c.intensity = 0
	c.peakIntensity = 0
	c.frequencyRatio = 1
	c.lastSpectrum = nil
	c.volume.Reset()
	c.frequency.Reset()
}

// IsSpeaking reports whether a segment is in progress.
func (c *Classifier) IsSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Speaking
}

// State returns the current state.
func (c *Classifier) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Intensity returns the most recent intensity.
func (c *Classifier) Intensity() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intensity
}

// SpeechDuration returns how long the current segment has lasted at now, or 0 when idle.
func (c *Classifier) SpeechDuration(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speechDurationLocked(now)
}

func (c *Classifier) speechDurationLocked(now time.Time) time.Duration {
	if c.state != Speaking {
		return 0
	}
	return now.Sub(c.startedAt)
}

// FrequencyRatio returns the smoothed speech-band share, or 1 when it is not measured.
func (c *Classifier) FrequencyRatio() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frequencyRatio
}

// SmoothedVolume returns the mean of the volume window, or 0 when empty.
func (c *Classifier) SmoothedVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume.Mean()
}

// LastSpectrum returns a copy of the most recent spectrum snapshot, if any.
func (c *Classifier) LastSpectrum() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSpectrum == nil {
		return nil
	}
	return append([]float64(nil), c.lastSpectrum...)
}

// Stats returns a snapshot of the classifier at now.
func (c *Classifier) Stats(now time.Time) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		IsSpeaking:     c.state == Speaking,
		SpeechDuration: c.speechDurationLocked(now),
		Intensity:      c.intensity,
		FrequencyRatio: c.frequencyRatio,
		SmoothedVolume: c.volume.Mean(),
	}
}
