package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// Sentinel errors for capture and analysis.
var (
	ErrNoAudioDevice      = errors.New("no audio input device found")
	ErrInsufficientBuffer = errors.New("not enough captured audio")
	ErrInvalidSpectrum    = errors.New("spectrum snapshot is empty")
	ErrNotCapturing       = errors.New("capture is not running")
)

// Capture process tuning.
const (
	// ShutdownTimeout is how long the capture process gets to exit after a graceful signal.
	ShutdownTimeout = 3000 * time.Millisecond
	// readChunkBytes is ~23ms of mono S16LE audio at 44.1kHz.
	readChunkBytes = 2048
)

// CaptureConfig defines platform-specific audio capture configuration.
type CaptureConfig struct {
	// Command is the executable name (e.g., "arecord", "ffmpeg").
	Command string

	// DefaultDevice is used when no device is configured.
	DefaultDevice string

	// UsesFFmpeg indicates if this platform uses FFmpeg for capture.
	UsesFFmpeg bool

	// BuildArgs returns the command arguments for mono S16LE capture at sampleRate.
	BuildArgs func(device string, sampleRate int) []string
}

// BuildCaptureCommand returns the command and arguments for audio capture.
// If device is empty, it falls back to the platform default or the first listed device.
func BuildCaptureCommand(device, ffmpegPath string, sampleRate int) (cmd string, args []string, err error) {
	cfg := getPlatformConfig()

	if device == "" {
		device = cfg.DefaultDevice
	}
	if device == "" {
		devices := cfg.Devices()
		if len(devices) == 0 {
			return "", nil, ErrNoAudioDevice
		}
		device = devices[0].ID
	}

	command := cfg.Command
	if cfg.UsesFFmpeg && ffmpegPath != "" {
		command = ffmpegPath
	}

	return command, cfg.BuildArgs(device, sampleRate), nil
}

// Capture runs the platform capture process and keeps the most recent audio
// in a RingBuffer. It is safe for concurrent use: the capture goroutine is the
// only writer, the sampler and the spectrum path only read.
type Capture struct {
	ffmpegPath string

	mu         sync.RWMutex
	cmd        *exec.Cmd
	cancel     context.CancelFunc
	buffer     *RingBuffer
	device     string
	sampleRate int
	capturing  bool
	done       chan struct{}
	lastError  string

	analyzerMu sync.Mutex
	analyzer   *SpectrumAnalyzer
}

// NewCapture returns a Capture that uses ffmpegPath on FFmpeg-based platforms.
func NewCapture(ffmpegPath string) *Capture {
	return &Capture{ffmpegPath: ffmpegPath}
}

// Start launches the capture process for device into a buffer of
// sampleRate*bufferSeconds samples. Calling Start while capturing is a no-op.
func (c *Capture) Start(device string, sampleRate, bufferSeconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.capturing {
		return nil
	}
	if sampleRate <= 0 || bufferSeconds <= 0 {
		return fmt.Errorf("invalid capture format: %d Hz, %d s", sampleRate, bufferSeconds)
	}

	cmdName, args, err := BuildCaptureCommand(device, c.ffmpegPath, sampleRate)
	if err != nil {
		return err
	}
	if _, err := exec.LookPath(cmdName); err != nil {
		return util.WrapError("locate capture command", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Cancel = func() error {
		return util.GracefulSignal(cmd.Process)
	}
	cmd.WaitDelay = ShutdownTimeout

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return util.WrapError("start capture", err)
	}

	slog.Info("starting audio capture", "command", cmdName, "device", device, "sample_rate", sampleRate)

	buffer := NewRingBuffer(sampleRate * bufferSeconds)
	done := make(chan struct{})

	c.cmd = cmd
	c.cancel = cancel
	c.buffer = buffer
	c.device = device
	c.sampleRate = sampleRate
	c.capturing = true
	c.done = done
	c.lastError = ""

	go c.run(cmd, stdout, stderr, buffer, done)

	return nil
}

// run pumps PCM from the process into buffer until the process exits.
func (c *Capture) run(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, buffer *RingBuffer, done chan struct{}) {
	defer close(done)

	if err := pump(stdout, buffer); err != nil {
		slog.Debug("capture stream ended", "error", err)
	}
	err := cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd != cmd {
		// Stop already detached this process.
		return
	}
	c.capturing = false
	c.cmd = nil
	c.cancel = nil
	if err != nil {
		msg := util.ExtractLastError(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		c.lastError = msg
		slog.Error("audio capture exited", "device", c.device, "error", msg)
	}
}

// Stop terminates the capture process. Calling Stop while stopped is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	done := c.done
	c.capturing = false
	c.cmd = nil
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		slog.Info("audio capture stopped")
		return nil
	case <-time.After(ShutdownTimeout + time.Second):
		return errors.New("capture shutdown timeout")
	}
}

// Capturing reports whether the capture process is running.
func (c *Capture) Capturing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capturing
}

// Done returns a channel closed when the current capture process exits.
// It returns nil if capture was never started.
func (c *Capture) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// LastError returns the last error reported by the capture process.
func (c *Capture) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

// SampleRate returns the sample rate of the running capture.
func (c *Capture) SampleRate() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sampleRate
}

// ReadRecent returns the count most recent samples ending at the write position.
func (c *Capture) ReadRecent(count int) ([]float32, error) {
	c.mu.RLock()
	buffer := c.buffer
	c.mu.RUnlock()

	if buffer == nil {
		return nil, ErrInsufficientBuffer
	}
	return buffer.ReadRecent(count)
}

// WritePosition returns the current write index in the capture buffer.
func (c *Capture) WritePosition() int {
	c.mu.RLock()
	buffer := c.buffer
	c.mu.RUnlock()

	if buffer == nil {
		return 0
	}
	return buffer.WritePosition()
}

// Devices returns the capture devices available on this platform.
func (c *Capture) Devices() []Device {
	return Devices()
}

// Snapshot returns a magnitude spectrum of bins bins over the most recent
// 2*bins captured samples.
func (c *Capture) Snapshot(bins int) ([]float64, error) {
	if !c.Capturing() {
		return nil, ErrNotCapturing
	}
	if bins <= 0 {
		return nil, ErrInvalidSpectrum
	}

	samples, err := c.ReadRecent(2 * bins)
	if err != nil {
		return nil, err
	}

	c.analyzerMu.Lock()
	defer c.analyzerMu.Unlock()
	if c.analyzer == nil || c.analyzer.Bins() != bins {
		c.analyzer = NewSpectrumAnalyzer(bins)
	}
	return c.analyzer.Magnitudes(samples)
}

// pump decodes mono S16LE PCM from r into buffer until r is exhausted.
func pump(r io.Reader, buffer *RingBuffer) error {
	raw := make([]byte, readChunkBytes+1)
	samples := make([]float32, 0, readChunkBytes/2)
	carry := 0

	for {
		n, err := r.Read(raw[carry : carry+readChunkBytes])
		total := carry + n
		even := total &^ 1
		if even > 0 {
			samples = DecodeS16LE(raw[:even], samples[:0])
			buffer.Write(samples)
		}
		carry = total - even
		if carry > 0 {
			raw[0] = raw[even]
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
