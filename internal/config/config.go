package config

import (
	"errors"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
)

type Config struct {
	ListenAddr            string
	UpstreamBaseURL       string
	UpstreamAPIKey        string
	TranscriptionModel    string
	GenerationModel       string
	GenerationTemperature float64
	GenerationMaxTokens   int
	RequestTimeout        time.Duration
	TranscriptionTimeout  time.Duration
	GenerationTimeout     time.Duration
	HandoffTimeout        time.Duration
	PersistenceBaseURL    string
	QuizMaxAttempts       int
	RetryBackoff          time.Duration
	CanonicalSampleRate   int
	BandPassLowHz         float64
	BandPassHighHz        float64
	MaxUploadBytes        int64
	LogLevel              string
}

type envConfig struct {
	ListenAddr                  string  `env:"LISTEN_ADDR" envDefault:":8080"`
	UpstreamBaseURL             string  `env:"UPSTREAM_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	UpstreamAPIKey              string  `env:"UPSTREAM_API_KEY"`
	TranscriptionModel          string  `env:"TRANSCRIPTION_MODEL" envDefault:"whisper-large-v3"`
	GenerationModel             string  `env:"GENERATION_MODEL" envDefault:"llama3-8b-8192"`
	GenerationTemperature       float64 `env:"GENERATION_TEMPERATURE" envDefault:"0.4"`
	GenerationMaxTokens         int     `env:"GENERATION_MAX_TOKENS" envDefault:"1024"`
	RequestTimeoutSeconds       int     `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"150"`
	TranscriptionTimeoutSeconds int     `env:"TRANSCRIPTION_TIMEOUT_SECONDS" envDefault:"120"`
	GenerationTimeoutSeconds    int     `env:"GENERATION_TIMEOUT_SECONDS" envDefault:"30"`
	HandoffTimeoutSeconds       int     `env:"HANDOFF_TIMEOUT_SECONDS" envDefault:"10"`
	PersistenceBaseURL          string  `env:"PERSISTENCE_BASE_URL" envDefault:"http://localhost:1000"`
	QuizMaxAttempts             int     `env:"QUIZ_MAX_ATTEMPTS" envDefault:"10"`
	RetryBackoffMS              int     `env:"GENERATION_RETRY_BACKOFF_MS" envDefault:"0"`
	CanonicalSampleRate         int     `env:"CANONICAL_SAMPLE_RATE" envDefault:"16000"`
	BandPassLowHz               float64 `env:"BANDPASS_LOW_HZ" envDefault:"80"`
	BandPassHighHz              float64 `env:"BANDPASS_HIGH_HZ" envDefault:"8000"`
	MaxUploadBytes              int64   `env:"MAX_UPLOAD_BYTES" envDefault:"104857600"`
	LogLevel                    string  `env:"LOG_LEVEL" envDefault:"info"`
}

func Load() (Config, error) {
	var raw envConfig
	if err := cenv.Parse(&raw); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:            strings.TrimSpace(raw.ListenAddr),
		UpstreamBaseURL:       strings.TrimRight(strings.TrimSpace(raw.UpstreamBaseURL), "/"),
		UpstreamAPIKey:        strings.TrimSpace(raw.UpstreamAPIKey),
		TranscriptionModel:    strings.TrimSpace(raw.TranscriptionModel),
		GenerationModel:       strings.TrimSpace(raw.GenerationModel),
		GenerationTemperature: raw.GenerationTemperature,
		GenerationMaxTokens:   raw.GenerationMaxTokens,
		RequestTimeout:        time.Duration(raw.RequestTimeoutSeconds) * time.Second,
		TranscriptionTimeout:  time.Duration(raw.TranscriptionTimeoutSeconds) * time.Second,
		GenerationTimeout:     time.Duration(raw.GenerationTimeoutSeconds) * time.Second,
		HandoffTimeout:        time.Duration(raw.HandoffTimeoutSeconds) * time.Second,
		PersistenceBaseURL:    strings.TrimRight(strings.TrimSpace(raw.PersistenceBaseURL), "/"),
		QuizMaxAttempts:       raw.QuizMaxAttempts,
		RetryBackoff:          time.Duration(raw.RetryBackoffMS) * time.Millisecond,
		CanonicalSampleRate:   raw.CanonicalSampleRate,
		BandPassLowHz:         raw.BandPassLowHz,
		BandPassHighHz:        raw.BandPassHighHz,
		MaxUploadBytes:        raw.MaxUploadBytes,
		LogLevel:              strings.ToLower(strings.TrimSpace(raw.LogLevel)),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("LISTEN_ADDR must not be empty")
	}
	if c.UpstreamBaseURL == "" {
		return errors.New("UPSTREAM_BASE_URL must not be empty")
	}
	if c.TranscriptionModel == "" {
		return errors.New("TRANSCRIPTION_MODEL must not be empty")
	}
	if c.GenerationModel == "" {
		return errors.New("GENERATION_MODEL must not be empty")
	}
	if c.GenerationTemperature < 0 || c.GenerationTemperature > 2 {
		return errors.New("GENERATION_TEMPERATURE must be within [0, 2]")
	}
	if c.GenerationMaxTokens <= 0 {
		return errors.New("GENERATION_MAX_TOKENS must be > 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT_SECONDS must be > 0")
	}
	if c.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT_SECONDS must be > 0")
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT_SECONDS must be > 0")
	}
	if c.HandoffTimeout <= 0 {
		return errors.New("HANDOFF_TIMEOUT_SECONDS must be > 0")
	}
	if c.PersistenceBaseURL == "" {
		return errors.New("PERSISTENCE_BASE_URL must not be empty")
	}
	if c.QuizMaxAttempts <= 0 {
		return errors.New("QUIZ_MAX_ATTEMPTS must be > 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("GENERATION_RETRY_BACKOFF_MS must be >= 0")
	}
	if c.CanonicalSampleRate <= 0 {
		return errors.New("CANONICAL_SAMPLE_RATE must be > 0")
	}
	if c.BandPassLowHz <= 0 || c.BandPassHighHz <= c.BandPassLowHz {
		return errors.New("BANDPASS_LOW_HZ must be > 0 and below BANDPASS_HIGH_HZ")
	}
	if c.BandPassLowHz >= float64(c.CanonicalSampleRate)/2 {
		return errors.New("BANDPASS_LOW_HZ must be below the Nyquist frequency of CANONICAL_SAMPLE_RATE")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	return nil
}
