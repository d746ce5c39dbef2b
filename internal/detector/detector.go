// Package detector provides the speech detection engine. It runs audio
// capture with automatic retry, drives the volume sampler and the speech
// classifier on a single scheduler goroutine, and fans results out to
// metrics, the event log, notifications and live subscribers.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/attraction"
	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/config"
	"github.com/oszuidwest/zwfm-speechdetect/internal/eventlog"
	"github.com/oszuidwest/zwfm-speechdetect/internal/metrics"
	"github.com/oszuidwest/zwfm-speechdetect/internal/notify"
	"github.com/oszuidwest/zwfm-speechdetect/internal/sampler"
	"github.com/oszuidwest/zwfm-speechdetect/internal/scheduler"
	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// Sentinel errors for detector operations.
var (
	ErrAlreadyRunning = errors.New("detector already running")
	ErrNotRunning     = errors.New("detector not running")
	ErrNotPaused      = errors.New("detector not paused")
)

const (
	// subscriberBuffer is the live event backlog per subscriber before events are dropped.
	subscriberBuffer = 64
	// spectrumBars is the number of bars in the live spectrum summary.
	spectrumBars = 16
)

// CaptureSource is the capture collaborator: it feeds the sampler, provides
// spectra to the classifier and reports when the capture process exits.
type CaptureSource interface {
	sampler.Source
	SampleRate() int
	Snapshot(bins int) ([]float64, error)
	Done() <-chan struct{}
	LastError() string
}

// Options holds the optional consumers of detector events. Nil fields are skipped.
type Options struct {
	Metrics  *metrics.Metrics
	EventLog *eventlog.Logger
	Notifier *notify.SpeechNotifier
}

// Detector manages audio capture and speech classification.
type Detector struct {
	config     *config.Config
	capture    CaptureSource
	sched      *scheduler.Scheduler
	sampler    *sampler.Sampler
	classifier *speech.Classifier
	attractor  *attraction.Attractor
	peakHolder *audio.PeakHolder
	metrics    *metrics.Metrics
	eventLog   *eventlog.Logger
	notifier   *notify.SpeechNotifier
	now        func() time.Time
	after      func(time.Duration) <-chan time.Time

	// driving is set while Run owns the scheduler goroutine.
	driveMu sync.Mutex
	driving bool

	mu         sync.RWMutex
	state      types.DetectorState
	device     string
	lastError  string
	startTime  time.Time
	retryCount int
	backoff    *util.Backoff
	stopChan   chan struct{}
	loopDone   chan struct{}
	stats      types.SpeechStats

	subMu       sync.Mutex
	subscribers map[chan types.LiveEvent]struct{}
}

// New creates a stopped Detector reading audio from capture.
func New(cfg *config.Config, capture CaptureSource, opts Options) (*Detector, error) {
	snap := cfg.Snapshot()
	sched := scheduler.New()

	classifier, err := speech.New(capture, speechConfig(&snap))
	if err != nil {
		return nil, fmt.Errorf("create classifier: %w", err)
	}

	d := &Detector{
		config:      cfg,
		capture:     capture,
		sched:       sched,
		sampler:     sampler.New(capture, sched, samplerConfig(&snap)),
		classifier:  classifier,
		attractor:   attraction.New(snap.MinRadius, snap.MaxRadius),
		peakHolder:  audio.NewPeakHolder(),
		metrics:     opts.Metrics,
		eventLog:    opts.EventLog,
		notifier:    opts.Notifier,
		now:         time.Now,
		after:       time.After,
		state:       types.StateStopped,
		device:      snap.AudioInput,
		backoff:     util.NewBackoff(types.InitialRetryDelay, types.MaxRetryDelay),
		stats:       types.SpeechStats{VolumeDB: audio.MinDB},
		subscribers: make(map[chan types.LiveEvent]struct{}),
	}
	d.wire()
	return d, nil
}

// wire connects the pipeline. The classifier consumes each sample before the
// detector snapshots its statistics.
func (d *Detector) wire() {
	d.attractor.Attach(d.classifier)
	d.sampler.OnVolume(d.classifier.Process)
	d.sampler.OnVolume(d.onVolume)
	d.classifier.OnIntensity(d.onIntensity)
	d.classifier.OnStarted(d.onSpeechStarted)
	d.classifier.OnEnded(d.onSpeechEnded)
}

// Run drives the scheduler at scheduler.Resolution until ctx is done.
// Work queued when Run returns is executed before it exits.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(scheduler.Resolution)
	defer ticker.Stop()

	d.driveMu.Lock()
	d.driving = true
	d.driveMu.Unlock()
	defer func() {
		d.driveMu.Lock()
		d.driving = false
		d.driveMu.Unlock()
		d.sched.Flush(d.now())
	}()

	d.sched.Run(ctx, ticker.C)
}

// onScheduler runs fn on the scheduler goroutine and waits for it to finish.
// Without a running scheduler fn runs on the caller. It must not be called
// from the scheduler goroutine.
func (d *Detector) onScheduler(fn func(now time.Time)) {
	d.driveMu.Lock()
	if !d.driving {
		d.driveMu.Unlock()
		fn(d.now())
		return
	}
	done := make(chan struct{})
	d.sched.Do(func(now time.Time) {
		defer close(done)
		fn(now)
	})
	d.driveMu.Unlock()
	<-done
}

// quiesce stops sampling and returns the pipeline to silence: speech in
// progress is force-ended and smoothing history is dropped.
func (d *Detector) quiesce(now time.Time) {
	d.sampler.Stop()
	d.resetPipeline(now)
}

func (d *Detector) resetPipeline(now time.Time) {
	d.classifier.ForceEnd(now)
	d.classifier.Reset()
	d.peakHolder.Reset()

	d.mu.Lock()
	d.stats = types.SpeechStats{VolumeDB: audio.MinDB}
	d.mu.Unlock()
}

// State returns the current detector state.
func (d *Detector) State() types.DetectorState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// IsRunning reports whether the detector is in running state.
func (d *Detector) IsRunning() bool {
	return d.State() == types.StateRunning
}

// Status returns the current detector status.
func (d *Detector) Status() types.DetectorStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	uptime := ""
	if d.state == types.StateRunning {
		uptime = util.FormatDuration(d.now().Sub(d.startTime).Milliseconds())
	}

	return types.DetectorStatus{
		State:      d.state,
		Uptime:     uptime,
		LastError:  d.lastError,
		Device:     d.device,
		Capturing:  d.capture.Capturing(),
		RetryCount: d.retryCount,
		MaxRetries: types.MaxRetries,
	}
}

// Stats returns the statistics captured at the most recent tick. Volume is
// the sampler's last emitted loudness, 0 while capture is stopped.
func (d *Detector) Stats() types.SpeechStats {
	d.mu.RLock()
	stats := d.stats
	d.mu.RUnlock()

	stats.Volume = d.sampler.LastVolume()
	stats.VolumeDB = audio.ToDB(stats.Volume)
	return stats
}

// Settings returns the detection settings currently in effect.
func (d *Detector) Settings() types.SpeechSettings {
	cfg := d.classifier.Config()

	d.mu.RLock()
	device := d.device
	d.mu.RUnlock()

	return types.SpeechSettings{
		StartThreshold:    cfg.StartThreshold,
		EndThreshold:      cfg.EndThreshold,
		Sensitivity:       cfg.Sensitivity,
		MinSpeechMs:       cfg.MinSpeech.Milliseconds(),
		MaxSilenceMs:      cfg.MaxSilence.Milliseconds(),
		FrequencyAnalysis: cfg.FrequencyAnalysis,
		UpdateIntervalMs:  d.sampler.Interval().Milliseconds(),
		Input:             device,
	}
}

// Devices returns the capture devices available for selection.
func (d *Detector) Devices() []audio.Device {
	return d.sampler.Devices()
}

// Start begins audio capture and classification.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == types.StateRunning || d.state == types.StateStarting {
		return ErrAlreadyRunning
	}
	if d.state == types.StateStopping {
		return fmt.Errorf("detector is stopping")
	}

	d.state = types.StateStarting
	d.stopChan = make(chan struct{})
	d.loopDone = make(chan struct{})
	d.retryCount = 0
	d.lastError = ""
	d.backoff.Reset()
	d.peakHolder.Reset()

	go d.runCaptureLoop(d.stopChan, d.loopDone)

	return nil
}

// Stop ends any speech in progress, stops capture and resets the classifier.
func (d *Detector) Stop() error {
	return d.halt(types.StateStopped)
}

// Pause suspends monitoring. Speech in progress is ended.
func (d *Detector) Pause() error {
	state := d.State()
	if state != types.StateRunning && state != types.StateStarting {
		return ErrNotRunning
	}
	return d.halt(types.StatePaused)
}

// Resume restarts monitoring after Pause.
func (d *Detector) Resume() error {
	if d.State() != types.StatePaused {
		return ErrNotPaused
	}
	return d.Start()
}

// halt stops the capture loop and settles in final.
func (d *Detector) halt(final types.DetectorState) error {
	d.mu.Lock()
	switch d.state {
	case types.StateStopped, types.StateStopping:
		d.mu.Unlock()
		return nil
	case types.StatePaused:
		d.state = final
		d.mu.Unlock()
		return nil
	}

	d.state = types.StateStopping
	close(d.stopChan)
	loopDone := d.loopDone
	device := d.device
	d.mu.Unlock()

	var errs []error
	select {
	case <-loopDone:
	case <-time.After(audio.ShutdownTimeout + time.Second):
		errs = append(errs, errors.New("capture loop did not stop in time"))
	}

	d.onScheduler(d.quiesce)
	if d.metrics != nil {
		d.metrics.SetCapturing(false)
	}
	d.logCapture(eventlog.CaptureStopped, "", &eventlog.CaptureDetails{Device: device})

	d.mu.Lock()
	d.state = final
	d.mu.Unlock()

	slog.Info("speech detector halted", "state", final)
	return errors.Join(errs...)
}

// runCaptureLoop keeps capture running, retrying failures with backoff.
func (d *Detector) runCaptureLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer util.LogPanic("capture-loop")

	for {
		select {
		case <-stop:
			return
		default:
		}

		snap := d.config.Snapshot()
		d.mu.RLock()
		device := d.device
		d.mu.RUnlock()

		started := d.now()
		if err := d.sampler.Start(device, snap.SampleRate, snap.RecordingLengthS); err != nil {
			if !d.recordFailure(device, err.Error(), 0) || !d.waitRetry(stop) {
				return
			}
			continue
		}
		d.markRunning(device)

		if !d.watchCapture(stop) {
			return
		}

		// Capture exited on its own.
		d.onScheduler(d.quiesce)

		msg := d.capture.LastError()
		if msg == "" {
			msg = "capture process exited"
		}
		if !d.recordFailure(d.sampler.Device(), msg, d.now().Sub(started)) || !d.waitRetry(stop) {
			return
		}
	}
}

// watchCapture blocks until the capture process exits. A process replaced by
// a device switch is followed to its successor. It returns false on stop.
func (d *Detector) watchCapture(stop <-chan struct{}) bool {
	for {
		exited := d.capture.Done()
		select {
		case <-stop:
			return false
		case <-exited:
		}
		// IsRunning waits for an in-flight device switch to finish.
		if !d.sampler.IsRunning() || d.capture.Done() == exited {
			return true
		}
		d.logCapture(eventlog.CaptureStarted, "", &eventlog.CaptureDetails{Device: d.sampler.Device()})
	}
}

// markRunning records a successful capture start.
func (d *Detector) markRunning(device string) {
	d.mu.Lock()
	if d.state == types.StateStopping {
		d.mu.Unlock()
		return
	}
	d.state = types.StateRunning
	d.startTime = d.now()
	d.lastError = ""
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.SetCapturing(true)
	}
	d.logCapture(eventlog.CaptureStarted, "", &eventlog.CaptureDetails{Device: device})
	slog.Info("speech detector running", "device", device)
}

// recordFailure counts a capture failure and reports whether to retry.
func (d *Detector) recordFailure(device, msg string, runDuration time.Duration) bool {
	d.mu.Lock()
	d.lastError = msg
	if runDuration >= types.SuccessThreshold {
		d.retryCount = 0
		d.backoff.Reset()
	} else {
		d.retryCount++
	}
	retry := d.retryCount

	if d.state == types.StateStopping {
		d.mu.Unlock()
		return false
	}

	if retry >= types.MaxRetries {
		d.state = types.StateStopped
		d.lastError = fmt.Sprintf("Stopped after %d failed attempts: %s", types.MaxRetries, msg)
		d.mu.Unlock()

		slog.Error("audio capture failed, giving up", "attempts", types.MaxRetries, "error", msg)
		if d.metrics != nil {
			d.metrics.SetCapturing(false)
		}
		d.logCapture(eventlog.CaptureError, d.lastErrorSnapshot(), &eventlog.CaptureDetails{
			Device: device, Error: msg, RetryCount: retry, MaxRetries: types.MaxRetries,
		})
		return false
	}

	d.state = types.StateStarting
	d.mu.Unlock()

	slog.Error("audio capture error", "device", device, "error", msg, "attempt", retry, "max_retries", types.MaxRetries)
	if d.metrics != nil {
		d.metrics.SetCapturing(false)
		d.metrics.CaptureRestarts.Inc()
	}
	d.logCapture(eventlog.CaptureError, msg, &eventlog.CaptureDetails{
		Device: device, Error: msg, RetryCount: retry, MaxRetries: types.MaxRetries,
	})
	return true
}

func (d *Detector) lastErrorSnapshot() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastError
}

// waitRetry sleeps for the next backoff delay. It returns false if stopped meanwhile.
func (d *Detector) waitRetry(stop <-chan struct{}) bool {
	delay := d.backoff.Next()
	slog.Info("capture stopped, waiting before restart", "delay", delay)
	select {
	case <-stop:
		return false
	case <-d.after(delay):
		return true
	}
}

func (d *Detector) logCapture(t eventlog.EventType, msg string, details *eventlog.CaptureDetails) {
	if d.eventLog == nil {
		return
	}
	if err := d.eventLog.LogCapture(t, msg, details); err != nil {
		slog.Warn("failed to write event log", "event", t, "error", err)
	}
}
