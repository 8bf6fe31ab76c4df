package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Koot5958/translation-live/internal/caption"
)

// Config represents the complete service configuration
type Config struct {
	Languages   LanguagesConfig   `yaml:"languages"`
	Audio       AudioConfig       `yaml:"audio"`
	Capture     CaptureConfig     `yaml:"capture"`
	Segment     SegmentConfig     `yaml:"segment"`
	Caption     CaptionConfig     `yaml:"caption"`
	Session     SessionConfig     `yaml:"session"`
	Recognizer  RecognizerConfig  `yaml:"recognizer"`
	Translation TranslationConfig `yaml:"translation"`
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`

	// Credentials are read from the environment, never from the file.
	Credentials Credentials `yaml:"-"`
}

// LanguagesConfig contains the spoken and the caption language
type LanguagesConfig struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
}

// AudioConfig contains ring buffer and loudness parameters
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	RingCapacity       float64 `yaml:"ring_capacity"` // seconds
	SilenceThresholdDB float64 `yaml:"silence_threshold_db"`
	LevelWindow        float64 `yaml:"level_window"` // seconds
}

// CaptureConfig selects and configures the audio source
type CaptureConfig struct {
	Source          string `yaml:"source"` // microphone, file or udp
	FramesPerBuffer int    `yaml:"frames_per_buffer"`

	File     string `yaml:"file"`
	Realtime bool   `yaml:"realtime"`
	Loop     bool   `yaml:"loop"`

	BindAddress string `yaml:"bind_address"`
	UDPPort     int    `yaml:"udp_port"`
	BufferSize  int    `yaml:"buffer_size"`
	MaxGap      int    `yaml:"max_gap"` // packets
}

// SegmentConfig contains window segmentation parameters
type SegmentConfig struct {
	OverlapPast   float64 `yaml:"overlap_past"`
	OverlapFuture float64 `yaml:"overlap_future"`
	Step          float64 `yaml:"step"`         // seconds
	MinDuration   float64 `yaml:"min_duration"` // seconds
}

// CaptionConfig contains stabilization parameters
type CaptionConfig struct {
	StabilityMargin int     `yaml:"stability_margin"` // tokens
	SentenceGap     float64 `yaml:"sentence_gap"`     // seconds
	PrefixTTL       float64 `yaml:"prefix_ttl"`       // seconds, defaults to sentence_gap
	LineLength      int     `yaml:"line_length"`      // tokens per rendered line
}

// SessionConfig contains recognition session lifecycle parameters
type SessionConfig struct {
	TimeLimit      float64 `yaml:"time_limit"`      // seconds
	RestartBackoff float64 `yaml:"restart_backoff"` // seconds
	DrainTimeout   float64 `yaml:"drain_timeout"`   // seconds
	StopTimeout    float64 `yaml:"stop_timeout"`    // seconds
}

// RecognizerConfig selects the speech recognizer
type RecognizerConfig struct {
	Provider        string `yaml:"provider"` // yandex or http
	Endpoint        string `yaml:"endpoint"`
	Model           string `yaml:"model"`
	ProfanityFilter bool   `yaml:"profanity_filter"`

	// http provider only
	Timeout       int `yaml:"timeout"` // seconds
	MaxRetries    int `yaml:"max_retries"`
	MaxConcurrent int `yaml:"max_concurrent"`
}

// TranslationConfig contains translation stage parameters
type TranslationConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	PollInterval float64 `yaml:"poll_interval"` // seconds
	MaxInFlight  int     `yaml:"max_in_flight"`
	MinChars     int     `yaml:"min_chars"`
	Timeout      float64 `yaml:"timeout"` // seconds
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Credentials for the recognition and translation services
type Credentials struct {
	IAMToken string
	APIKey   string
	FolderID string

	// TranscriptionAPIKey authenticates the http recognizer.
	TranscriptionAPIKey string
}

// Environment variables read by LoadCredentials.
const (
	EnvIAMToken            = "YANDEX_IAM_TOKEN"
	EnvAPIKey              = "YANDEX_API_KEY"
	EnvFolderID            = "YANDEX_FOLDER_ID"
	EnvTranscriptionAPIKey = "TRANSCRIPTION_API_KEY"
)

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Languages: LanguagesConfig{Source: "fr-FR", Target: "en-US"},
		Audio: AudioConfig{
			SampleRate:         16000,
			RingCapacity:       2,
			SilenceThresholdDB: -40,
			LevelWindow:        0.5,
		},
		Capture: CaptureConfig{
			Source:          "microphone",
			FramesPerBuffer: 1600,
			Realtime:        true,
			BindAddress:     "0.0.0.0",
			UDPPort:         4444,
			BufferSize:      65536,
			MaxGap:          20,
		},
		Segment: SegmentConfig{
			OverlapPast:   0.5,
			OverlapFuture: 0.2,
			Step:          1,
			MinDuration:   0.1,
		},
		Caption: CaptionConfig{
			StabilityMargin: 3,
			SentenceGap:     4,
			LineLength:      10,
		},
		Session: SessionConfig{
			TimeLimit:      290,
			RestartBackoff: 0.25,
			DrainTimeout:   2,
			StopTimeout:    2,
		},
		Recognizer: RecognizerConfig{
			Provider:      "yandex",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 4,
		},
		Translation: TranslationConfig{
			Enabled:      true,
			PollInterval: 0.1,
			MaxInFlight:  2,
			MinChars:     4,
			Timeout:      10,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, loads credentials
// from the environment and validates the result. An empty path uses the
// defaults only.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	creds, err := LoadCredentials()
	if err != nil {
		return nil, err
	}
	config.Credentials = creds

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadCredentials reads credentials from the environment after loading a
// .env file from the working directory, if there is one. Variables already
// set take precedence over the file.
func LoadCredentials() (Credentials, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Credentials{}, fmt.Errorf("failed to load .env: %w", err)
	}

	return Credentials{
		IAMToken:            os.Getenv(EnvIAMToken),
		APIKey:              os.Getenv(EnvAPIKey),
		FolderID:            os.Getenv(EnvFolderID),
		TranscriptionAPIKey: os.Getenv(EnvTranscriptionAPIKey),
	}, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Languages.Validate(); err != nil {
		return fmt.Errorf("languages config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Segment.Validate(); err != nil {
		return fmt.Errorf("segment config: %w", err)
	}

	if err := c.Caption.Validate(); err != nil {
		return fmt.Errorf("caption config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Recognizer.Validate(c.Credentials); err != nil {
		return fmt.Errorf("recognizer config: %w", err)
	}

	if err := c.Translation.Validate(c.Credentials); err != nil {
		return fmt.Errorf("translation config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the language tags
func (l *LanguagesConfig) Validate() error {
	if _, err := caption.Lookup(l.Source); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if _, err := caption.Lookup(l.Target); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	return nil
}

// GetSource returns the spoken language. Call after Validate.
func (l *LanguagesConfig) GetSource() caption.Language {
	return caption.MustLookup(l.Source)
}

// GetTarget returns the caption language. Call after Validate.
func (l *LanguagesConfig) GetTarget() caption.Language {
	return caption.MustLookup(l.Target)
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.RingCapacity <= 0 {
		return fmt.Errorf("ring_capacity must be positive, got %f", a.RingCapacity)
	}

	if a.GetRingCapacitySamples() < 1 {
		return fmt.Errorf("ring_capacity of %f seconds holds no samples", a.RingCapacity)
	}

	if a.SilenceThresholdDB > 0 {
		return fmt.Errorf("silence_threshold_db must not be positive, got %f", a.SilenceThresholdDB)
	}

	if a.LevelWindow < 0 {
		return fmt.Errorf("level_window cannot be negative, got %f", a.LevelWindow)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case "microphone":
		if c.FramesPerBuffer < 1 {
			return fmt.Errorf("frames_per_buffer must be at least 1, got %d", c.FramesPerBuffer)
		}
	case "file":
		if c.File == "" {
			return fmt.Errorf("file cannot be empty for the file source")
		}
	case "udp":
		if c.UDPPort < 0 || c.UDPPort > 65535 {
			return fmt.Errorf("udp_port must be between 0 and 65535, got %d", c.UDPPort)
		}
		if c.BufferSize < 1024 {
			return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", c.BufferSize)
		}
		if c.MaxGap < 1 {
			return fmt.Errorf("max_gap must be at least 1, got %d", c.MaxGap)
		}
	default:
		return fmt.Errorf("source must be one of [microphone, file, udp], got '%s'", c.Source)
	}

	return nil
}

// Validate validates segmentation parameters
func (s *SegmentConfig) Validate() error {
	if s.OverlapPast < 0 || s.OverlapPast > 1 {
		return fmt.Errorf("overlap_past must be between 0 and 1, got %f", s.OverlapPast)
	}

	if s.OverlapFuture < 0 || s.OverlapFuture >= 1 {
		return fmt.Errorf("overlap_future must be between 0 and 1 (exclusive), got %f", s.OverlapFuture)
	}

	if s.Step <= 0 {
		return fmt.Errorf("step must be positive, got %f", s.Step)
	}

	if s.MinDuration < 0 {
		return fmt.Errorf("min_duration cannot be negative, got %f", s.MinDuration)
	}

	return nil
}

// Validate validates stabilization parameters
func (c *CaptionConfig) Validate() error {
	if c.StabilityMargin < 0 {
		return fmt.Errorf("stability_margin cannot be negative, got %d", c.StabilityMargin)
	}

	if c.SentenceGap <= 0 {
		return fmt.Errorf("sentence_gap must be positive, got %f", c.SentenceGap)
	}

	if c.PrefixTTL < 0 {
		return fmt.Errorf("prefix_ttl cannot be negative, got %f", c.PrefixTTL)
	}

	if c.LineLength < 1 {
		return fmt.Errorf("line_length must be at least 1, got %d", c.LineLength)
	}

	return nil
}

// Validate validates session parameters
func (s *SessionConfig) Validate() error {
	if s.TimeLimit <= 0 {
		return fmt.Errorf("time_limit must be positive, got %f", s.TimeLimit)
	}

	if s.RestartBackoff < 0 {
		return fmt.Errorf("restart_backoff cannot be negative, got %f", s.RestartBackoff)
	}

	if s.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout cannot be negative, got %f", s.DrainTimeout)
	}

	if s.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %f", s.StopTimeout)
	}

	return nil
}

// Validate validates the recognizer selection against the credentials
func (r *RecognizerConfig) Validate(creds Credentials) error {
	switch r.Provider {
	case "yandex":
		if creds.IAMToken == "" && creds.APIKey == "" {
			return fmt.Errorf("yandex provider requires %s or %s", EnvIAMToken, EnvAPIKey)
		}
	case "http":
		if r.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http provider")
		}
		if r.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", r.Timeout)
		}
		if r.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
		}
		if r.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", r.MaxConcurrent)
		}
	default:
		return fmt.Errorf("provider must be 'yandex' or 'http', got '%s'", r.Provider)
	}

	return nil
}

// Validate validates translation configuration
func (t *TranslationConfig) Validate(creds Credentials) error {
	if !t.Enabled {
		return nil
	}

	if creds.IAMToken == "" && creds.APIKey == "" {
		return fmt.Errorf("translation requires %s or %s", EnvIAMToken, EnvAPIKey)
	}

	if t.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %f", t.PollInterval)
	}

	if t.MaxInFlight < 1 {
		return fmt.Errorf("max_in_flight must be at least 1, got %d", t.MaxInFlight)
	}

	if t.MinChars < 0 {
		return fmt.Errorf("min_chars cannot be negative, got %d", t.MinChars)
	}

	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %f", t.Timeout)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output is a file path
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// GetRingCapacitySamples returns the ring capacity in samples
func (a *AudioConfig) GetRingCapacitySamples() int {
	return int(a.RingCapacity * float64(a.SampleRate))
}

// GetLevelWindowSamples returns the loudness window in samples
func (a *AudioConfig) GetLevelWindowSamples() int {
	return int(a.LevelWindow * float64(a.SampleRate))
}

// GetStepDuration returns the drain cadence as a time.Duration
func (s *SegmentConfig) GetStepDuration() time.Duration {
	return seconds(s.Step)
}

// GetMinDuration returns the minimum window duration as a time.Duration
func (s *SegmentConfig) GetMinDuration() time.Duration {
	return seconds(s.MinDuration)
}

// GetSentenceGapDuration returns the sentence gap as a time.Duration
func (c *CaptionConfig) GetSentenceGapDuration() time.Duration {
	return seconds(c.SentenceGap)
}

// GetPrefixTTLDuration returns the prefix time-to-live as a time.Duration
func (c *CaptionConfig) GetPrefixTTLDuration() time.Duration {
	return seconds(c.PrefixTTL)
}

// GetTimeLimitDuration returns the session time limit as a time.Duration
func (s *SessionConfig) GetTimeLimitDuration() time.Duration {
	return seconds(s.TimeLimit)
}

// GetRestartBackoffDuration returns the restart backoff as a time.Duration
func (s *SessionConfig) GetRestartBackoffDuration() time.Duration {
	return seconds(s.RestartBackoff)
}

// GetDrainTimeoutDuration returns the drain timeout as a time.Duration
func (s *SessionConfig) GetDrainTimeoutDuration() time.Duration {
	return seconds(s.DrainTimeout)
}

// GetStopTimeoutDuration returns the pipeline stop timeout as a time.Duration
func (s *SessionConfig) GetStopTimeoutDuration() time.Duration {
	return seconds(s.StopTimeout)
}

// GetTimeoutDuration returns the http recognizer timeout as a time.Duration
func (r *RecognizerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(r.Timeout) * time.Second
}

// GetPollIntervalDuration returns the translation poll interval as a time.Duration
func (t *TranslationConfig) GetPollIntervalDuration() time.Duration {
	return seconds(t.PollInterval)
}

// GetTimeoutDuration returns the translation call timeout as a time.Duration
func (t *TranslationConfig) GetTimeoutDuration() time.Duration {
	return seconds(t.Timeout)
}
