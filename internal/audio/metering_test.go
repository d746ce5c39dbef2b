package audio

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSUniformWindow(t *testing.T) {
	for _, v := range []float32{0, 0.001, 0.1, -0.25, 0.5, -1, 1.5} {
		window := make([]float32, 128)
		for i := range window {
			window[i] = v
		}
		assert.InDelta(t, math.Abs(float64(v)), RMS(window), 1e-9, "v=%v", v)
	}
}

func TestRMSKnownValues(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.InDelta(t, math.Sqrt(0.5), RMS([]float32{1, -1, 0, 0}), 1e-12)
	assert.InDelta(t, 5.0/math.Sqrt(2), RMS([]float32{3, 4}), 1e-6)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		rms  float64
		gain float64
		want float64
	}{
		{"silence", 0, 10, 0},
		{"mid range", 0.05, 10, 0.5},
		{"clamped high", 0.5, 10, 1},
		{"custom gain", 0.05, 4, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Normalize(tt.rms, tt.gain), 1e-12)
		})
	}
}

func TestDecodeS16LE(t *testing.T) {
	var buf bytes.Buffer
	for _, s := range []int16{0, 16384, -32768, 32767} {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, s))
	}
	buf.WriteByte(0x7f) // trailing odd byte

	got := DecodeS16LE(buf.Bytes(), nil)
	require.Len(t, got, 4)
	assert.InDelta(t, 0, got[0], 1e-9)
	assert.InDelta(t, 0.5, got[1], 1e-9)
	assert.InDelta(t, -1, got[2], 1e-9)
	assert.InDelta(t, 32767.0/32768.0, got[3], 1e-6)
}

func TestToDB(t *testing.T) {
	assert.Equal(t, MinDB, ToDB(0))
	assert.InDelta(t, 0, ToDB(1), 1e-12)
	assert.InDelta(t, -6.0206, ToDB(0.5), 1e-3)
	assert.Equal(t, MinDB, ToDB(1e-9))
}

func TestPumpSplitsOddReads(t *testing.T) {
	var pcm bytes.Buffer
	for i := range 10 {
		require.NoError(t, binary.Write(&pcm, binary.LittleEndian, int16(i*1000)))
	}

	buffer := NewRingBuffer(16)
	require.NoError(t, pump(&oddReader{data: pcm.Bytes()}, buffer))

	got, err := buffer.ReadRecent(10)
	require.NoError(t, err)
	for i, s := range got {
		assert.InDelta(t, float64(i*1000)/MaxSampleValue, s, 1e-6)
	}
}

// oddReader returns at most 3 bytes per Read to split samples across reads.
type oddReader struct {
	data []byte
}

func (r *oddReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), 3)], r.data)
	r.data = r.data[n:]
	return n, nil
}
