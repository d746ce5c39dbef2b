package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)

	require.NoError(t, cfg.Load())
	require.FileExists(t, path)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultWebPort, snap.WebPort)
	assert.Equal(t, DefaultSampleRate, snap.SampleRate)
	assert.Equal(t, 100*time.Millisecond, snap.UpdateInterval)
	assert.Equal(t, DefaultSampleWindow, snap.SampleWindow)
	assert.True(t, snap.Normalize)
	assert.Equal(t, DefaultNormalizationGain, snap.NormalizationGain)
	assert.Equal(t, DefaultStartThreshold, snap.StartThreshold)
	assert.InDelta(t, 0.025, snap.EndThreshold, 1e-12)
	assert.Equal(t, 300*time.Millisecond, snap.MinSpeech)
	assert.Equal(t, 500*time.Millisecond, snap.MaxSilence)
	assert.Equal(t, DefaultShortSpeechGraceFactor, snap.ShortSpeechGraceFactor)
	assert.True(t, snap.FrequencyAnalysis)
	assert.Equal(t, DefaultFFTSize, snap.FFTSize)
	assert.Equal(t, DefaultMaxRadius, snap.MaxRadius)
	assert.Equal(t, DefaultArchiveSchedule, snap.ArchiveSchedule)
}

func TestLoadPartialJSONKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"audio": {"input": "hw:1,0", "normalize": false},
		"speech": {"start_threshold": 0.2, "frequency_analysis": false}
	}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, "hw:1,0", snap.AudioInput)
	assert.False(t, snap.Normalize)
	assert.Equal(t, 0.2, snap.StartThreshold)
	assert.InDelta(t, 0.1, snap.EndThreshold, 1e-12, "unset end threshold follows start")
	assert.False(t, snap.FrequencyAnalysis)
	assert.Equal(t, DefaultSensitivity, snap.Sensitivity)
	assert.Equal(t, DefaultSampleRate, snap.SampleRate)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
system:
  port: 9090
speech:
  start_threshold: 0.08
  end_threshold: 0.03
  max_silence_ms: 700
notifications:
  webhook:
    url: https://hooks.example.com/speech
    scopes: [events.write]
`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, 9090, snap.WebPort)
	assert.Equal(t, 0.08, snap.StartThreshold)
	assert.Equal(t, 0.03, snap.EndThreshold)
	assert.Equal(t, 700*time.Millisecond, snap.MaxSilence)
	assert.True(t, snap.HasWebhook())
	assert.Equal(t, []string{"events.write"}, snap.WebhookScopes)
}

func TestSaveYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	cfg := New(path)
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetAudioInput("plughw:2,0"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "plughw:2,0")

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "plughw:2,0", reloaded.AudioInput())
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"port out of range", `{"system": {"port": 70000}}`, "system.port"},
		{"end above start", `{"speech": {"start_threshold": 0.05, "end_threshold": 0.2}}`, "speech.end_threshold"},
		{"sensitivity too high", `{"speech": {"sensitivity": 9}}`, "speech.sensitivity"},
		{"interval too short", `{"audio": {"update_interval_ms": 5}}`, "audio.update_interval_ms"},
		{"window exceeds buffer", `{"audio": {"sample_rate": 8000, "sample_window": 9000}}`, "audio.sample_window"},
		{"bad webhook url", `{"notifications": {"webhook": {"url": "not a url"}}}`, "notifications.webhook.url"},
		{"archive without bucket", `{"archive": {"enabled": true}}`, "archive.bucket"},
		{"archive bad schedule", `{"archive": {"enabled": true, "bucket": "b", "schedule": "every tuesday"}}`, "archive.schedule"},
		{"log path traversal", `{"notifications": {"log": {"path": "../events.jsonl"}}}`, "notifications.log.path"},
		{"inverted radius", `{"attraction": {"min_radius": 8, "max_radius": 4}}`, "attraction.max_radius"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))

			err := New(path).Load()

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSetStartThresholdDerivesEnd(t *testing.T) {
	cfg := New(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetStartThreshold(0.3))
	snap := cfg.Snapshot()
	assert.Equal(t, 0.3, snap.StartThreshold)
	assert.Equal(t, 0.15, snap.EndThreshold)

	assert.Error(t, cfg.SetStartThreshold(0))
	assert.Error(t, cfg.SetStartThreshold(1.5))
}

func TestSettersClampAndPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	require.NoError(t, cfg.SetSensitivity(12))
	require.NoError(t, cfg.SetMinSpeechMs(20))
	require.NoError(t, cfg.SetFrequencyAnalysis(false))
	require.NoError(t, cfg.SetUpdateIntervalMs(40))
	assert.Error(t, cfg.SetUpdateIntervalMs(5))
	assert.Error(t, cfg.SetLogPath("../x.jsonl"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	snap := reloaded.Snapshot()
	assert.Equal(t, 5.0, snap.Sensitivity)
	assert.Equal(t, 100*time.Millisecond, snap.MinSpeech)
	assert.False(t, snap.FrequencyAnalysis)
	assert.Equal(t, 40*time.Millisecond, snap.UpdateInterval)
}

func TestEnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvAPIKey, "env-api-key-0123456789")
	t.Setenv(EnvS3AccessKeyID, "AKIAENV")
	t.Setenv(EnvS3SecretAccessKey, "env-secret")
	t.Setenv(EnvWebhookClientSecret, "env-client-secret")

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"system": {"api_key": "file-api-key-0123456789"},
		"archive": {"access_key_id": "AKIAFILE"}
	}`), 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, "env-api-key-0123456789", snap.APIKey)
	assert.Equal(t, "AKIAENV", snap.ArchiveAccessKeyID)
	assert.Equal(t, "env-secret", snap.ArchiveSecretAccessKey)
	assert.Equal(t, "env-client-secret", snap.WebhookClientSecret)

	// Overrides are not written back to the file.
	require.NoError(t, cfg.SetAudioInput("default"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "env-secret")
	assert.Contains(t, string(data), "file-api-key-0123456789")
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("SPEECHDETECT_TEST_ONLY=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SPEECHDETECT_TEST_ONLY") })

	require.NoError(t, LoadEnvFile(envPath))
	assert.Equal(t, "from-file", os.Getenv("SPEECHDETECT_TEST_ONLY"))

	assert.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
	assert.NoError(t, LoadEnvFile(""))
}

func TestReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	changed, err := cfg.Reload()
	require.NoError(t, err)
	assert.False(t, changed, "own write must not count as a change")

	require.NoError(t, os.WriteFile(path, []byte(`{"speech": {"sensitivity": 2}}`), 0o600))
	changed, err = cfg.Reload()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 2.0, cfg.Snapshot().Sensitivity)

	require.NoError(t, os.WriteFile(path, []byte(`{"speech": {"sensitivity": 99}}`), 0o600))
	_, err = cfg.Reload()
	assert.Error(t, err)
	assert.Equal(t, 2.0, cfg.Snapshot().Sensitivity)
}

func TestWatchAppliesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Snapshot, 4)
	done := make(chan error, 1)
	go func() { done <- cfg.Watch(ctx, func(s Snapshot) { changes <- s }) }()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"speech": {"start_threshold": 0.3, "end_threshold": 0.1}}`), 0o600))

	select {
	case snap := <-changes:
		assert.Equal(t, 0.3, snap.StartThreshold)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after external edit")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
	assert.Regexp(t, `^[A-Za-z0-9]+$`, key)
}
