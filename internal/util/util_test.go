package util

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(3*time.Second, 20*time.Second)

	assert.Equal(t, 3*time.Second, b.Next())
	assert.Equal(t, 6*time.Second, b.Next())
	assert.Equal(t, 12*time.Second, b.Next())
	assert.Equal(t, 20*time.Second, b.Next())
	assert.Equal(t, 20*time.Second, b.Current())
	assert.Equal(t, 4, b.Attempts())
	assert.True(t, b.Exhausted(4))
	assert.False(t, b.Exhausted(5))

	b.Reset()
	assert.Equal(t, 3*time.Second, b.Current())
	assert.Zero(t, b.Attempts())
}

func TestWrapError(t *testing.T) {
	assert.NoError(t, WrapError("start capture", nil))

	base := errors.New("exec: not found")
	err := WrapError("start capture", base)
	assert.EqualError(t, err, "failed to start capture: exec: not found")
	assert.ErrorIs(t, err, base)
}

func TestExtractLastError(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{"empty", "", ""},
		{"single line", "arecord: main:830: audio open error: No such file or directory", "arecord: main:830: audio open error: No such file or directory"},
		{"trailing blank lines", "first\nsecond\n\n  \n", "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractLastError(tt.stderr))
		})
	}

	long := ExtractLastError(strings.Repeat("x", 300))
	assert.Len(t, long, maxErrorLineLength+3)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		ms   int64
		want string
	}{
		{-5, "0ms"},
		{850, "850ms"},
		{45_000, "45s"},
		{154_000, "2m 34s"},
		{4_980_000, "1h 23m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.ms), "ms=%d", tt.ms)
	}
}

func TestFormatHumanTime(t *testing.T) {
	assert.Equal(t, "unknown", FormatHumanTime(""))
	assert.Equal(t, "not-a-time", FormatHumanTime("not-a-time"))
	assert.NotEqual(t, "unknown", FormatHumanTime("2026-01-01T12:00:00Z"))
}

func TestValidatePath(t *testing.T) {
	require.NoError(t, ValidatePath("log", "/var/log/speech.jsonl"))
	assert.Error(t, ValidatePath("log", ""))
	assert.Error(t, ValidatePath("log", "../etc/passwd"))
	assert.Error(t, ValidatePath("log", "/var/../etc"))
}

func TestIsConfigured(t *testing.T) {
	assert.True(t, IsConfigured("a", "b"))
	assert.False(t, IsConfigured("a", ""))
	assert.True(t, IsConfigured())
}

func TestEnsureParentDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, EnsureParentDir(filepath.Join(dir, "nested", "deeper", "events.jsonl")))
	assert.DirExists(t, filepath.Join(dir, "nested", "deeper"))
	assert.NoError(t, EnsureParentDir("events.jsonl"))
}

func TestLogPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer LogPanic("test")
		panic("boom")
	})
}
