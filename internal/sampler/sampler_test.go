package sampler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-speechdetect/internal/audio"
	"github.com/oszuidwest/zwfm-speechdetect/internal/scheduler"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeSource is an in-memory capture collaborator.
type fakeSource struct {
	mu        sync.Mutex
	buffer    *audio.RingBuffer
	capturing bool
	starts    []string
	stops     int
	startErr  error
}

func newFakeSource(size int) *fakeSource {
	return &fakeSource{buffer: audio.NewRingBuffer(size)}
}

func (f *fakeSource) Start(device string, _, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, device)
	f.capturing = true
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.capturing = false
	return nil
}

func (f *fakeSource) Capturing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capturing
}

func (f *fakeSource) ReadRecent(count int) ([]float32, error) { return f.buffer.ReadRecent(count) }
func (f *fakeSource) WritePosition() int                      { return f.buffer.WritePosition() }
func (f *fakeSource) Devices() []audio.Device {
	return []audio.Device{{ID: "hw:0,0", Name: "Card 0"}, {ID: "hw:1,0", Name: "Card 1"}}
}

func (f *fakeSource) fill(v float32, n int) {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	f.buffer.Write(samples)
}

func newTestSampler(t *testing.T, cfg Config) (*Sampler, *fakeSource, *scheduler.Scheduler, *[]VolumeSample) {
	t.Helper()
	src := newFakeSource(1024)
	sched := scheduler.New()
	s := New(src, sched, cfg)
	var got []VolumeSample
	s.OnVolume(func(v VolumeSample) { got = append(got, v) })
	return s, src, sched, &got
}

func TestTickEmitsNormalizedRMS(t *testing.T) {
	s, src, sched, got := newTestSampler(t, Config{Interval: 100 * time.Millisecond, SampleWindow: 64, Normalize: true, Gain: 10})
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.05, 64)

	sched.Advance(epoch)
	sched.Advance(epoch.Add(100 * time.Millisecond))

	require.Len(t, *got, 1)
	assert.InDelta(t, 0.5, (*got)[0].Value, 1e-6)
	assert.Equal(t, epoch.Add(100*time.Millisecond), (*got)[0].At)
	assert.InDelta(t, 0.5, s.LastVolume(), 1e-6)
}

func TestNormalizedVolumeIsClamped(t *testing.T) {
	s, src, _, got := newTestSampler(t, Config{SampleWindow: 16, Normalize: true})
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.9, 16)

	s.Tick(epoch)

	require.Len(t, *got, 1)
	assert.Equal(t, 1.0, (*got)[0].Value)
}

func TestRawVolumeIsUnclamped(t *testing.T) {
	s, src, _, got := newTestSampler(t, Config{SampleWindow: 16, Normalize: false})
	require.NoError(t, s.Start("default", 44100, 1))
	// Values beyond full scale model a raw magnitude above 1.
	src.fill(1.5, 16)

	s.Tick(epoch)

	require.Len(t, *got, 1)
	assert.InDelta(t, 1.5, (*got)[0].Value, 1e-6)
}

func TestInsufficientHistoryYieldsZero(t *testing.T) {
	s, src, _, got := newTestSampler(t, Config{SampleWindow: 128, Normalize: true})
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.5, 100)

	s.Tick(epoch)

	require.Len(t, *got, 1)
	assert.Zero(t, (*got)[0].Value)
}

func TestStartFailureReportsDeviceUnavailable(t *testing.T) {
	s, src, sched, _ := newTestSampler(t, Config{})
	src.startErr = audio.ErrNoAudioDevice

	err := s.Start("", 44100, 1)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
	assert.True(t, errors.Is(err, audio.ErrNoAudioDevice))
	assert.False(t, s.IsRunning())
	assert.Zero(t, sched.Len())
}

func TestStartAndStopAreIdempotent(t *testing.T) {
	s, src, sched, _ := newTestSampler(t, Config{})

	require.NoError(t, s.Start("default", 44100, 1))
	require.NoError(t, s.Start("default", 44100, 1))
	assert.Len(t, src.starts, 1)
	assert.Equal(t, 1, sched.Len())

	s.Stop()
	s.Stop()
	assert.Equal(t, 1, src.stops)
	assert.Zero(t, sched.Len())
}

func TestStopResetsVolumeAndHaltsTicks(t *testing.T) {
	s, src, sched, got := newTestSampler(t, Config{Interval: 10 * time.Millisecond, SampleWindow: 16, Normalize: true})
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.05, 16)

	sched.Advance(epoch)
	sched.Advance(epoch.Add(10 * time.Millisecond))
	require.Len(t, *got, 1)
	require.NotZero(t, s.LastVolume())

	s.Stop()
	sched.Advance(epoch.Add(20 * time.Millisecond))
	sched.Advance(epoch.Add(30 * time.Millisecond))

	assert.Len(t, *got, 1)
	assert.Zero(t, s.LastVolume())
	assert.Zero(t, s.CurrentVolume())
}

func TestSetIntervalClampsAndKeepsCapture(t *testing.T) {
	s, src, sched, got := newTestSampler(t, Config{Interval: 100 * time.Millisecond, SampleWindow: 16})
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.1, 16)
	sched.Advance(epoch)

	s.SetInterval(time.Millisecond)

	assert.Equal(t, MinUpdateInterval, s.Interval())
	assert.Equal(t, 1, sched.Len())
	assert.Len(t, src.starts, 1)
	assert.Zero(t, src.stops)

	for i := 1; i <= 5; i++ {
		sched.Advance(epoch.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	assert.Len(t, *got, 5)
}

func TestSetIntervalWhileStopped(t *testing.T) {
	s, _, sched, _ := newTestSampler(t, Config{})

	s.SetInterval(250 * time.Millisecond)

	assert.Equal(t, 250*time.Millisecond, s.Interval())
	assert.Zero(t, sched.Len())
}

func TestSetDevicePreservesRunningState(t *testing.T) {
	t.Run("running restarts capture", func(t *testing.T) {
		s, src, sched, _ := newTestSampler(t, Config{})
		require.NoError(t, s.Start("hw:0,0", 44100, 1))

		require.NoError(t, s.SetDevice("hw:1,0"))

		assert.True(t, s.IsRunning())
		assert.Equal(t, "hw:1,0", s.Device())
		assert.Equal(t, []string{"hw:0,0", "hw:1,0"}, src.starts)
		assert.Equal(t, 1, src.stops)
		assert.Equal(t, 1, sched.Len())
	})

	t.Run("stopped stays stopped", func(t *testing.T) {
		s, src, sched, _ := newTestSampler(t, Config{})

		require.NoError(t, s.SetDevice("hw:1,0"))

		assert.False(t, s.IsRunning())
		assert.Equal(t, "hw:1,0", s.Device())
		assert.Empty(t, src.starts)
		assert.Zero(t, sched.Len())
	})

	t.Run("failed restart stops", func(t *testing.T) {
		s, src, sched, _ := newTestSampler(t, Config{})
		require.NoError(t, s.Start("hw:0,0", 44100, 1))
		src.startErr = audio.ErrNoAudioDevice

		err := s.SetDevice("hw:9,0")

		assert.ErrorIs(t, err, ErrDeviceUnavailable)
		assert.False(t, s.IsRunning())
		assert.Zero(t, sched.Len())
	})
}

func TestCurrentVolumeRecomputes(t *testing.T) {
	s, src, _, got := newTestSampler(t, Config{SampleWindow: 16, Normalize: true})
	require.NoError(t, s.Start("default", 44100, 1))

	src.fill(0.02, 16)

	assert.InDelta(t, 0.2, s.CurrentVolume(), 1e-6)
	assert.Empty(t, *got)
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	s, src, _, _ := newTestSampler(t, Config{SampleWindow: 16})
	var order []int
	s.OnVolume(func(VolumeSample) { order = append(order, 1) })
	s.OnVolume(func(VolumeSample) { order = append(order, 2) })
	require.NoError(t, s.Start("default", 44100, 1))
	src.fill(0.1, 16)

	s.Tick(epoch)

	assert.Equal(t, []int{1, 2}, order)
}

func TestDevicesFromSource(t *testing.T) {
	s, _, _, _ := newTestSampler(t, Config{})
	assert.Equal(t, []string{"hw:0,0", "hw:1,0"}, audio.DeviceIDs(s.Devices()))
}
