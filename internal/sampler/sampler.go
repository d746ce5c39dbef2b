// Package sampler turns captured audio into a periodic loudness signal.
package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/scheduler"
)

// MinUpdateInterval is the shortest allowed tick cadence.
const MinUpdateInterval = 10 * time.Millisecond

// Default sampling parameters.
const (
	DefaultUpdateInterval = 100 * time.Millisecond
	DefaultSampleWindow   = 128
)

// ErrDeviceUnavailable is returned when capture cannot start on the selected device.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Source is the capture collaborator the sampler reads from.
type Source interface {
	Start(device string, sampleRate, bufferSeconds int) error
	Stop() error
	Capturing() bool
	ReadRecent(count int) ([]float32, error)
	WritePosition() int
	Devices() []audio.Device
}

// VolumeSample is one loudness reading. Value is in [0,1] when normalization
// is enabled and raw RMS otherwise.
type VolumeSample struct {
	Value float64
	At    time.Time
}

// Config holds sampling parameters.
type Config struct {
	Interval     time.Duration
	SampleWindow int     // RMS window length in samples
	Normalize    bool    // map RMS into [0,1]
	Gain         float64 // normalization gain
}

// Sampler reads the most recent capture window on a fixed cadence and emits
// its RMS loudness. It is safe for concurrent use; listeners run on the
// goroutine that calls Tick.
type Sampler struct {
	src   Source
	sched *scheduler.Scheduler

	mu            sync.Mutex
	cfg           Config
	running       bool
	device        string
	sampleRate    int
	bufferSeconds int
	reg           *scheduler.Registration
	last          float64

	listenerMu sync.RWMutex
	listeners  []func(VolumeSample)
}

// New returns a stopped Sampler reading from src and ticking on sched.
func New(src Source, sched *scheduler.Scheduler, cfg Config) *Sampler {
	return &Sampler{
		src:   src,
		sched: sched,
		cfg:   normalizeConfig(cfg),
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultUpdateInterval
	}
	cfg.Interval = max(cfg.Interval, MinUpdateInterval)
	if cfg.SampleWindow <= 0 {
		cfg.SampleWindow = DefaultSampleWindow
	}
	if cfg.Gain <= 0 {
		cfg.Gain = audio.DefaultNormalizationGain
	}
	return cfg
}

// OnVolume registers fn to receive every emitted sample. Listeners run in
// registration order.
func (s *Sampler) OnVolume(fn func(VolumeSample)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start begins capture on device into a buffer of sampleRate*bufferSeconds
// samples and registers the periodic tick. Calling Start while running is a no-op.
func (s *Sampler) Start(device string, sampleRate, bufferSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.src.Start(device, sampleRate, bufferSeconds); err != nil {
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	s.device = device
	s.sampleRate = sampleRate
	s.bufferSeconds = bufferSeconds
	s.running = true
	s.last = 0
	s.reg = s.sched.Every("volume-sampler", s.cfg.Interval, s.Tick)

	slog.Info("volume sampler started", "device", device, "interval", s.cfg.Interval, "window", s.cfg.SampleWindow)
	return nil
}

// Stop halts capture, cancels the periodic tick and resets the emitted
// loudness to 0. Calling Stop while stopped is a no-op.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sampler) stopLocked() {
	if !s.running {
		return
	}
	s.reg.Cancel()
	s.reg = nil
	s.running = false
	s.last = 0
	if err := s.src.Stop(); err != nil {
		slog.Warn("failed to stop audio capture", "error", err)
	}
	slog.Info("volume sampler stopped")
}

// Tick reads the most recent window and emits one VolumeSample stamped now.
func (s *Sampler) Tick(now time.Time) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	v := s.measureLocked()
	s.last = v
	s.mu.Unlock()

	s.emit(VolumeSample{Value: v, At: now})
}

// measureLocked computes the loudness of the newest window. Missing history yields 0.
func (s *Sampler) measureLocked() float64 {
	samples, err := s.src.ReadRecent(s.cfg.SampleWindow)
	if err != nil {
		if !errors.Is(err, audio.ErrInsufficientBuffer) {
			slog.Debug("failed to read capture window", "error", err)
		}
		return 0
	}

	rms := audio.RMS(samples)
	if s.cfg.Normalize {
		return audio.Normalize(rms, s.cfg.Gain)
	}
	return rms
}

func (s *Sampler) emit(sample VolumeSample) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(sample)
	}
}

// CurrentVolume recomputes the loudness from the buffer without waiting for
// the next tick. It returns 0 when stopped.
func (s *Sampler) CurrentVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.measureLocked()
}

// LastVolume returns the most recently emitted loudness.
func (s *Sampler) LastVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// SetInterval changes the tick cadence, clamped to MinUpdateInterval.
// Capture is left untouched; only the periodic registration is replaced.
func (s *Sampler) SetInterval(d time.Duration) {
	d = max(d, MinUpdateInterval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if d == s.cfg.Interval {
		return
	}
	s.cfg.Interval = d
	if !s.running {
		return
	}
	s.reg.Cancel()
	s.reg = s.sched.Every("volume-sampler", d, s.Tick)
	slog.Info("volume sampler interval changed", "interval", d)
}

// Interval returns the tick cadence.
func (s *Sampler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

// SetSampleWindow changes the RMS window length. Non-positive values are ignored.
func (s *Sampler) SetSampleWindow(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.SampleWindow = n
}

// SetNormalization toggles RMS normalization and sets its gain.
// A non-positive gain keeps the current one.
func (s *Sampler) SetNormalization(enabled bool, gain float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Normalize = enabled
	if gain > 0 {
		s.cfg.Gain = gain
	}
}

// SetDevice switches to device. Capture restarts only if the sampler was
// running, so a stopped sampler stays stopped.
func (s *Sampler) SetDevice(device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if device == s.device {
		return nil
	}
	if !s.running {
		s.device = device
		return nil
	}

	sampleRate, bufferSeconds := s.sampleRate, s.bufferSeconds
	s.stopLocked()
	s.device = device

	if err := s.src.Start(device, sampleRate, bufferSeconds); err != nil {
		slog.Error("failed to restart capture on new device", "device", device, "error", err)
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	s.running = true
	s.reg = s.sched.Every("volume-sampler", s.cfg.Interval, s.Tick)
	slog.Info("volume sampler switched device", "device", device)
	return nil
}

// IsRunning reports whether capture and ticking are active.
func (s *Sampler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Device returns the selected device.
func (s *Sampler) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Capturing reports whether the capture collaborator is producing audio.
func (s *Sampler) Capturing() bool {
	return s.src.Capturing()
}

// WritePosition returns the capture write position.
func (s *Sampler) WritePosition() int {
	return s.src.WritePosition()
}

// Devices returns the capture devices available for selection.
func (s *Sampler) Devices() []audio.Device {
	return s.src.Devices()
}
