// Package config provides application configuration management.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/oszuidwest/zwfm-speechdetect/internal/util"
)

// Configuration defaults are used when values are not specified.
const (
	DefaultWebPort = 8080

	DefaultSampleRate        = 44100
	DefaultRecordingLengthS  = 1
	DefaultUpdateIntervalMs  = 100
	DefaultSampleWindow      = 128
	DefaultNormalizationGain = 10.0

	DefaultStartThreshold         = 0.05
	DefaultMinSpeechMs            = 300
	DefaultMaxSilenceMs           = 500
	DefaultShortSpeechGraceFactor = 2.0
	DefaultSensitivity            = 1.0
	DefaultSmoothingWindow        = 5
	DefaultMinFrequencyHz         = 80.0
	DefaultMaxFrequencyHz         = 8000.0
	DefaultFFTSize                = 1024

	DefaultMinRadius = 2.0
	DefaultMaxRadius = 10.0

	DefaultArchiveSchedule = "@hourly"
	DefaultArchivePrefix   = "speechdetect"
)

// EndThresholdRatio derives the end threshold from the start threshold
// when end_threshold is not set.
const EndThresholdRatio = 0.5

// Environment variables that override secrets from the config file.
const (
	EnvAPIKey              = "SPEECHDETECT_API_KEY"
	EnvS3AccessKeyID       = "SPEECHDETECT_S3_ACCESS_KEY_ID"
	EnvS3SecretAccessKey   = "SPEECHDETECT_S3_SECRET_ACCESS_KEY"
	EnvWebhookClientSecret = "SPEECHDETECT_WEBHOOK_CLIENT_SECRET"
)

// SystemConfig holds system-level settings that require restart.
type SystemConfig struct {
	FFmpegPath string `json:"ffmpeg_path" yaml:"ffmpeg_path"`                                // Path to FFmpeg binary (empty = use PATH)
	Port       int    `json:"port" yaml:"port" validate:"gte=1,lte=65535"`                   // HTTP server port
	APIKey     string `json:"api_key" yaml:"api_key" validate:"omitempty,min=16,printascii"` // Key for /ws and /api
}

// AudioConfig holds capture and sampling settings.
type AudioConfig struct {
	Input             string  `json:"input" yaml:"input"`                                                       // Audio input device identifier
	SampleRate        int     `json:"sample_rate" yaml:"sample_rate" validate:"gte=8000,lte=192000"`            // Capture sample rate in Hz
	RecordingLengthS  int     `json:"recording_length_s" yaml:"recording_length_s" validate:"gte=1,lte=60"`     // Capture buffer length in seconds
	UpdateIntervalMs  int64   `json:"update_interval_ms" yaml:"update_interval_ms" validate:"gte=10,lte=10000"` // Sampler tick cadence
	SampleWindow      int     `json:"sample_window" yaml:"sample_window" validate:"gte=16,lte=65536"`           // RMS window in samples
	Normalize         bool    `json:"normalize" yaml:"normalize"`                                               // Map RMS into [0,1]
	NormalizationGain float64 `json:"normalization_gain" yaml:"normalization_gain" validate:"gt=0,lte=1000"`    // RMS gain before clamping
}

// SpeechConfig holds classifier settings.
type SpeechConfig struct {
	StartThreshold         float64 `json:"start_threshold" yaml:"start_threshold" validate:"gt=0,lte=1"`
	EndThreshold           float64 `json:"end_threshold" yaml:"end_threshold" validate:"gte=0,ltfield=StartThreshold"`
	MinSpeechMs            int64   `json:"min_speech_ms" yaml:"min_speech_ms" validate:"gte=100,lte=60000"`
	MaxSilenceMs           int64   `json:"max_silence_ms" yaml:"max_silence_ms" validate:"gte=10,lte=60000"`
	ShortSpeechGraceFactor float64 `json:"short_speech_grace_factor" yaml:"short_speech_grace_factor" validate:"gte=1,lte=10"`
	Sensitivity            float64 `json:"sensitivity" yaml:"sensitivity" validate:"gte=0.1,lte=5"`
	SmoothingWindow        int     `json:"smoothing_window" yaml:"smoothing_window" validate:"gte=1,lte=100"`
	FrequencyAnalysis      bool    `json:"frequency_analysis" yaml:"frequency_analysis"`
	MinFrequencyHz         float64 `json:"min_frequency_hz" yaml:"min_frequency_hz" validate:"gte=0"`
	MaxFrequencyHz         float64 `json:"max_frequency_hz" yaml:"max_frequency_hz" validate:"gtfield=MinFrequencyHz"`
	FFTSize                int     `json:"fft_size" yaml:"fft_size" validate:"gte=16,lte=16384"`
}

// AttractionConfig holds the intensity-to-radius mapping.
type AttractionConfig struct {
	MinRadius float64 `json:"min_radius" yaml:"min_radius" validate:"gte=0"`
	MaxRadius float64 `json:"max_radius" yaml:"max_radius" validate:"gtfield=MinRadius"`
}

// WebhookConfig holds webhook notification settings.
type WebhookConfig struct {
	URL          string   `json:"url" yaml:"url" validate:"omitempty,url"`             // Webhook URL for speech events
	TokenURL     string   `json:"token_url" yaml:"token_url" validate:"omitempty,url"` // OAuth2 token endpoint
	ClientID     string   `json:"client_id" yaml:"client_id"`                          // OAuth2 client ID
	ClientSecret string   `json:"client_secret" yaml:"client_secret"`                  // OAuth2 client secret
	Scopes       []string `json:"scopes" yaml:"scopes"`                                // OAuth2 scopes
}

// LogConfig holds event log settings.
type LogConfig struct {
	Path string `json:"path" yaml:"path"` // Event log file path
}

// NotificationsConfig holds all notification channel settings.
type NotificationsConfig struct {
	Webhook WebhookConfig `json:"webhook" yaml:"webhook"` // Webhook settings
	Log     LogConfig     `json:"log" yaml:"log"`         // Event log settings
}

// ArchiveConfig holds event log archiving settings.
type ArchiveConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	Schedule        string `json:"schedule" yaml:"schedule"`
	Endpoint        string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Bucket          string `json:"bucket" yaml:"bucket" validate:"required_if=Enabled true"`
	Prefix          string `json:"prefix" yaml:"prefix"`
	AccessKeyID     string `json:"access_key_id" yaml:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key" yaml:"secret_access_key"`
}

// Config holds all application configuration. It is safe for concurrent use.
type Config struct {
	System        SystemConfig        `json:"system" yaml:"system"`
	Audio         AudioConfig         `json:"audio" yaml:"audio"`
	Speech        SpeechConfig        `json:"speech" yaml:"speech"`
	Attraction    AttractionConfig    `json:"attraction" yaml:"attraction"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications"`
	Archive       ArchiveConfig       `json:"archive" yaml:"archive"`

	mu          sync.RWMutex
	filePath    string
	lastWritten []byte
	env         envOverrides
}

// envOverrides holds secrets read from the environment. They are never persisted.
type envOverrides struct {
	apiKey              string
	s3AccessKeyID       string
	s3SecretAccessKey   string
	webhookClientSecret string
}

// validate is the shared validator instance for config validation.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// New creates a new Config with default values.
func New(filePath string) *Config {
	c := &Config{filePath: filePath}
	c.setDefaults()
	c.applyDefaults()
	return c
}

// setDefaults fills every section with its default values.
func (c *Config) setDefaults() {
	c.System = SystemConfig{Port: DefaultWebPort}
	c.Audio = AudioConfig{
		SampleRate:        DefaultSampleRate,
		RecordingLengthS:  DefaultRecordingLengthS,
		UpdateIntervalMs:  DefaultUpdateIntervalMs,
		SampleWindow:      DefaultSampleWindow,
		Normalize:         true,
		NormalizationGain: DefaultNormalizationGain,
	}
	c.Speech = SpeechConfig{
		StartThreshold:         DefaultStartThreshold,
		MinSpeechMs:            DefaultMinSpeechMs,
		MaxSilenceMs:           DefaultMaxSilenceMs,
		ShortSpeechGraceFactor: DefaultShortSpeechGraceFactor,
		Sensitivity:            DefaultSensitivity,
		SmoothingWindow:        DefaultSmoothingWindow,
		FrequencyAnalysis:      true,
		MinFrequencyHz:         DefaultMinFrequencyHz,
		MaxFrequencyHz:         DefaultMaxFrequencyHz,
		FFTSize:                DefaultFFTSize,
	}
	c.Attraction = AttractionConfig{MinRadius: DefaultMinRadius, MaxRadius: DefaultMaxRadius}
	c.Notifications = NotificationsConfig{}
	c.Archive = ArchiveConfig{Schedule: DefaultArchiveSchedule, Prefix: DefaultArchivePrefix}
}

// Path returns the configuration file path.
func (c *Config) Path() string {
	return c.filePath
}

// Load reads config from file, creating a default if none exists.
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.filePath)
	if os.IsNotExist(err) {
		c.loadEnvLocked()
		return c.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := c.decodeLocked(data); err != nil {
		return err
	}
	c.lastWritten = data
	c.loadEnvLocked()
	return nil
}

// decodeLocked parses data over the defaults, applies defaults for zeroed
// values and validates the result. Caller must hold c.mu.
func (c *Config) decodeLocked(data []byte) error {
	c.setDefaults()
	if err := unmarshal(c.filePath, data, c); err != nil {
		return util.WrapError("parse config", err)
	}
	c.applyDefaults()
	return c.validate()
}

// isYAML reports whether path names a YAML file.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func unmarshal(path string, data []byte, c *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func marshal(path string, c *Config) ([]byte, error) {
	if isYAML(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return json.MarshalIndent(c, "", "  ")
}

// applyDefaults sets default values for zero-value fields.
func (c *Config) applyDefaults() {
	if c.System.Port == 0 {
		c.System.Port = DefaultWebPort
	}
	// Audio defaults
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = DefaultSampleRate
	}
	if c.Audio.RecordingLengthS == 0 {
		c.Audio.RecordingLengthS = DefaultRecordingLengthS
	}
	if c.Audio.UpdateIntervalMs == 0 {
		c.Audio.UpdateIntervalMs = DefaultUpdateIntervalMs
	}
	if c.Audio.SampleWindow == 0 {
		c.Audio.SampleWindow = DefaultSampleWindow
	}
	if c.Audio.NormalizationGain == 0 {
		c.Audio.NormalizationGain = DefaultNormalizationGain
	}
	// Speech defaults
	if c.Speech.StartThreshold == 0 {
		c.Speech.StartThreshold = DefaultStartThreshold
	}
	if c.Speech.EndThreshold == 0 {
		c.Speech.EndThreshold = c.Speech.StartThreshold * EndThresholdRatio
	}
	if c.Speech.MinSpeechMs == 0 {
		c.Speech.MinSpeechMs = DefaultMinSpeechMs
	}
	if c.Speech.MaxSilenceMs == 0 {
		c.Speech.MaxSilenceMs = DefaultMaxSilenceMs
	}
	if c.Speech.ShortSpeechGraceFactor == 0 {
		c.Speech.ShortSpeechGraceFactor = DefaultShortSpeechGraceFactor
	}
	if c.Speech.Sensitivity == 0 {
		c.Speech.Sensitivity = DefaultSensitivity
	}
	if c.Speech.SmoothingWindow == 0 {
		c.Speech.SmoothingWindow = DefaultSmoothingWindow
	}
	if c.Speech.MaxFrequencyHz == 0 {
		c.Speech.MaxFrequencyHz = DefaultMaxFrequencyHz
	}
	if c.Speech.FFTSize == 0 {
		c.Speech.FFTSize = DefaultFFTSize
	}
	// Attraction defaults
	if c.Attraction.MaxRadius == 0 {
		c.Attraction.MaxRadius = DefaultMaxRadius
	}
	// Archive defaults
	if c.Archive.Schedule == "" {
		c.Archive.Schedule = DefaultArchiveSchedule
	}
}

// validate checks all configuration fields for correctness.
func (c *Config) validate() error {
	var errs []error

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return util.WrapError("validate config", err)
		}
		for _, e := range verrs {
			errs = append(errs, fmt.Errorf("invalid %s: failed %q", fieldPath(e), tagWithParam(e)))
		}
	}

	if c.Audio.SampleWindow > c.Audio.SampleRate*c.Audio.RecordingLengthS {
		errs = append(errs, fmt.Errorf("invalid audio.sample_window %d: exceeds capture buffer of %d samples",
			c.Audio.SampleWindow, c.Audio.SampleRate*c.Audio.RecordingLengthS))
	}
	if 2*c.Speech.FFTSize > c.Audio.SampleRate*c.Audio.RecordingLengthS {
		errs = append(errs, fmt.Errorf("invalid speech.fft_size %d: needs %d samples of capture buffer",
			c.Speech.FFTSize, 2*c.Speech.FFTSize))
	}
	if c.Notifications.Log.Path != "" {
		if err := util.ValidatePath("notifications.log.path", c.Notifications.Log.Path); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("invalid archive.schedule %q: %w", c.Archive.Schedule, err))
		}
	}

	return errors.Join(errs...)
}

// fieldPath returns the dotted JSON path of a validation error without the root type.
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func tagWithParam(e validator.FieldError) string {
	if e.Param() == "" {
		return e.Tag()
	}
	return e.Tag() + "=" + e.Param()
}

// loadEnvLocked reads secret overrides from the environment. Caller must hold c.mu.
func (c *Config) loadEnvLocked() {
	c.env = envOverrides{
		apiKey:              os.Getenv(EnvAPIKey),
		s3AccessKeyID:       os.Getenv(EnvS3AccessKeyID),
		s3SecretAccessKey:   os.Getenv(EnvS3SecretAccessKey),
		webhookClientSecret: os.Getenv(EnvWebhookClientSecret),
	}
}

// saveLocked persists configuration. Caller must hold c.mu.
func (c *Config) saveLocked() error {
	data, err := marshal(c.filePath, c)
	if err != nil {
		return util.WrapError("marshal config", err)
	}

	if err := util.EnsureParentDir(c.filePath); err != nil {
		return util.WrapError("create config directory", err)
	}

	if err := os.WriteFile(c.filePath, data, 0o600); err != nil {
		return util.WrapError("write config", err)
	}
	c.lastWritten = data

	return nil
}

// GenerateAPIKey generates a new random 32-character alphanumeric API key.
func GenerateAPIKey() (string, error) {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 32
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		result[i] = chars[n.Int64()]
	}
	return string(result), nil
}
