// Package audio provides the capture collaborator for speech detection: a
// capture process feeding a circular sample buffer, RMS metering, and
// magnitude spectra for frequency-band scoring.
package audio

import (
	"encoding/binary"
	"math"
)

const (
	// MinDB is the minimum dB level (silence).
	MinDB = -60.0
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// DefaultNormalizationGain maps typical speech RMS into [0,1].
	DefaultNormalizationGain = 10.0
)

// DecodeS16LE converts mono S16LE PCM into samples in [-1, 1) appended to dst.
// A trailing odd byte is ignored.
func DecodeS16LE(buf []byte, dst []float32) []float32 {
	for i := 0; i+1 < len(buf); i += 2 {
		s := int16(binary.LittleEndian.Uint16(buf[i:]))
		dst = append(dst, float32(s)/MaxSampleValue)
	}
	return dst
}

// RMS returns the root mean square of samples, or 0 for an empty window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Normalize maps an RMS magnitude to [0,1] using gain.
func Normalize(rms, gain float64) float64 {
	return min(max(rms*gain, 0), 1)
}

// ToDB converts a linear magnitude in [0,1] to dBFS, floored at MinDB.
func ToDB(v float64) float64 {
	if v <= 0 {
		return MinDB
	}
	return max(20*math.Log10(v), MinDB)
}
