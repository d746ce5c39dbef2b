// Package metrics exposes Prometheus metrics for the speech detection pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the speech detector.
type Metrics struct {
	// Sampler metrics
	Ticks  prometheus.Counter
	Volume prometheus.Gauge

	// Classifier metrics
	Intensity       prometheus.Gauge
	Speaking        prometheus.Gauge
	SegmentsStarted prometheus.Counter
	SegmentsEnded   *prometheus.CounterVec
	SegmentDuration prometheus.Histogram
	PeakIntensity   prometheus.Histogram

	// Capture metrics
	CaptureRestarts prometheus.Counter
	Capturing       prometheus.Gauge

	// Archive metrics
	ArchiveUploads *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechdetect_sampler_ticks_total",
			Help: "Total number of volume samples produced",
		}),
		Volume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechdetect_volume",
			Help: "Most recent volume sample",
		}),

		Intensity: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechdetect_speech_intensity",
			Help: "Current speech intensity in [0,1]",
		}),
		Speaking: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechdetect_speaking",
			Help: "1 while a speech segment is in progress",
		}),
		SegmentsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechdetect_segments_started_total",
			Help: "Total number of speech segments started",
		}),
		SegmentsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechdetect_segments_ended_total",
			Help: "Total number of speech segments ended, by cause",
		}, []string{"cause"}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechdetect_segment_duration_seconds",
			Help:    "Duration of speech segments",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		PeakIntensity: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "speechdetect_segment_peak_intensity",
			Help:    "Peak intensity reached during speech segments",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10), // 0.1 to 1.0
		}),

		CaptureRestarts: factory.NewCounter(prometheus.CounterOpts{
			Name: "speechdetect_capture_restarts_total",
			Help: "Total number of capture restart attempts",
		}),
		Capturing: factory.NewGauge(prometheus.GaugeOpts{
			Name: "speechdetect_capturing",
			Help: "1 while audio capture is active",
		}),

		ArchiveUploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "speechdetect_archive_uploads_total",
			Help: "Total number of event log uploads, by result",
		}, []string{"result"}),
	}
}

// ObserveVolume records a sampler tick.
func (m *Metrics) ObserveVolume(v float64) {
	m.Ticks.Inc()
	m.Volume.Set(v)
}

// ObserveIntensity records the classifier intensity.
func (m *Metrics) ObserveIntensity(v float64) {
	m.Intensity.Set(v)
}

// SegmentStarted records the start of a speech segment.
func (m *Metrics) SegmentStarted() {
	m.SegmentsStarted.Inc()
	m.Speaking.Set(1)
}

// SegmentEnded records a finished speech segment.
func (m *Metrics) SegmentEnded(d time.Duration, peak float64, forced bool) {
	cause := "silence"
	if forced {
		cause = "forced"
	}
	m.SegmentsEnded.WithLabelValues(cause).Inc()
	m.SegmentDuration.Observe(d.Seconds())
	m.PeakIntensity.Observe(peak)
	m.Speaking.Set(0)
	m.Intensity.Set(0)
}

// SetCapturing records whether capture is active.
func (m *Metrics) SetCapturing(active bool) {
	if active {
		m.Capturing.Set(1)
		return
	}
	m.Capturing.Set(0)
}

// ArchiveResult records an archive upload outcome.
func (m *Metrics) ArchiveResult(err error) {
	if err != nil {
		m.ArchiveUploads.WithLabelValues("failure").Inc()
		return
	}
	m.ArchiveUploads.WithLabelValues("success").Inc()
}
