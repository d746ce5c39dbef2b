package config

import (
	"cmp"
	"slices"
	"time"
)

// Snapshot is a point-in-time copy of configuration values with
// environment overrides applied.
type Snapshot struct {
	// System
	FFmpegPath string
	WebPort    int
	APIKey     string

	// Audio
	AudioInput        string
	SampleRate        int
	RecordingLengthS  int
	UpdateInterval    time.Duration
	SampleWindow      int
	Normalize         bool
	NormalizationGain float64

	// Speech
	StartThreshold         float64
	EndThreshold           float64
	MinSpeech              time.Duration
	MaxSilence             time.Duration
	ShortSpeechGraceFactor float64
	Sensitivity            float64
	SmoothingWindow        int
	FrequencyAnalysis      bool
	MinFrequencyHz         float64
	MaxFrequencyHz         float64
	FFTSize                int

	// Attraction
	MinRadius float64
	MaxRadius float64

	// Notifications
	WebhookURL          string
	WebhookTokenURL     string
	WebhookClientID     string
	WebhookClientSecret string
	WebhookScopes       []string
	LogPath             string

	// Archive
	ArchiveEnabled         bool
	ArchiveSchedule        string
	ArchiveEndpoint        string
	ArchiveBucket          string
	ArchivePrefix          string
	ArchiveAccessKeyID     string
	ArchiveSecretAccessKey string
}

// Snapshot returns a point-in-time copy of all configuration values.
func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		// System
		FFmpegPath: c.System.FFmpegPath,
		WebPort:    cmp.Or(c.System.Port, DefaultWebPort),
		APIKey:     cmp.Or(c.env.apiKey, c.System.APIKey),

		// Audio (with defaults)
		AudioInput:        c.Audio.Input,
		SampleRate:        cmp.Or(c.Audio.SampleRate, DefaultSampleRate),
		RecordingLengthS:  cmp.Or(c.Audio.RecordingLengthS, DefaultRecordingLengthS),
		UpdateInterval:    time.Duration(cmp.Or(c.Audio.UpdateIntervalMs, DefaultUpdateIntervalMs)) * time.Millisecond,
		SampleWindow:      cmp.Or(c.Audio.SampleWindow, DefaultSampleWindow),
		Normalize:         c.Audio.Normalize,
		NormalizationGain: cmp.Or(c.Audio.NormalizationGain, DefaultNormalizationGain),

		// Speech (with defaults)
		StartThreshold:         cmp.Or(c.Speech.StartThreshold, DefaultStartThreshold),
		EndThreshold:           c.Speech.EndThreshold,
		MinSpeech:              time.Duration(cmp.Or(c.Speech.MinSpeechMs, DefaultMinSpeechMs)) * time.Millisecond,
		MaxSilence:             time.Duration(cmp.Or(c.Speech.MaxSilenceMs, DefaultMaxSilenceMs)) * time.Millisecond,
		ShortSpeechGraceFactor: cmp.Or(c.Speech.ShortSpeechGraceFactor, DefaultShortSpeechGraceFactor),
		Sensitivity:            cmp.Or(c.Speech.Sensitivity, DefaultSensitivity),
		SmoothingWindow:        cmp.Or(c.Speech.SmoothingWindow, DefaultSmoothingWindow),
		FrequencyAnalysis:      c.Speech.FrequencyAnalysis,
		MinFrequencyHz:         c.Speech.MinFrequencyHz,
		MaxFrequencyHz:         cmp.Or(c.Speech.MaxFrequencyHz, DefaultMaxFrequencyHz),
		FFTSize:                cmp.Or(c.Speech.FFTSize, DefaultFFTSize),

		// Attraction
		MinRadius: c.Attraction.MinRadius,
		MaxRadius: cmp.Or(c.Attraction.MaxRadius, DefaultMaxRadius),

		// Notifications
		WebhookURL:          c.Notifications.Webhook.URL,
		WebhookTokenURL:     c.Notifications.Webhook.TokenURL,
		WebhookClientID:     c.Notifications.Webhook.ClientID,
		WebhookClientSecret: cmp.Or(c.env.webhookClientSecret, c.Notifications.Webhook.ClientSecret),
		WebhookScopes:       slices.Clone(c.Notifications.Webhook.Scopes),
		LogPath:             c.Notifications.Log.Path,

		// Archive
		ArchiveEnabled:         c.Archive.Enabled,
		ArchiveSchedule:        cmp.Or(c.Archive.Schedule, DefaultArchiveSchedule),
		ArchiveEndpoint:        c.Archive.Endpoint,
		ArchiveBucket:          c.Archive.Bucket,
		ArchivePrefix:          c.Archive.Prefix,
		ArchiveAccessKeyID:     cmp.Or(c.env.s3AccessKeyID, c.Archive.AccessKeyID),
		ArchiveSecretAccessKey: cmp.Or(c.env.s3SecretAccessKey, c.Archive.SecretAccessKey),
	}
}

// HasWebhook reports whether a webhook URL is configured.
func (s *Snapshot) HasWebhook() bool {
	return s.WebhookURL != ""
}

// HasWebhookOAuth reports whether webhook calls use OAuth2 client credentials.
func (s *Snapshot) HasWebhookOAuth() bool {
	return s.WebhookTokenURL != "" && s.WebhookClientID != "" && s.WebhookClientSecret != ""
}

// HasLogPath reports whether an event log path is configured.
func (s *Snapshot) HasLogPath() bool {
	return s.LogPath != ""
}

// HasArchive reports whether archiving is enabled and fully configured.
func (s *Snapshot) HasArchive() bool {
	return s.ArchiveEnabled && s.ArchiveBucket != "" &&
		s.ArchiveAccessKeyID != "" && s.ArchiveSecretAccessKey != ""
}

// BufferSamples returns the capture buffer size in samples.
func (s *Snapshot) BufferSamples() int {
	return s.SampleRate * s.RecordingLengthS
}
