package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/hyperifyio/goquiz/internal/extract"
	"github.com/hyperifyio/goquiz/internal/fetch"
	"github.com/hyperifyio/goquiz/internal/pipeline"
	"github.com/hyperifyio/goquiz/internal/quizgen"
	"github.com/hyperifyio/goquiz/internal/server"
)

// Defaults shared by flags, file config and env layering.
const (
	DefaultListenAddr      = "127.0.0.1:8787"
	DefaultDataDir         = ".goquiz"
	DefaultCacheDir        = ".goquiz-cache"
	DefaultCORSOrigin      = "*"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultCacheMaxEntries = 500
	// DefaultRelayMaxConcurrent bounds in-flight relay and parse fetches.
	DefaultRelayMaxConcurrent = 16
)

// Config holds runtime configuration for the application.
type Config struct {
	// Server
	ListenAddr string `validate:"required,hostname_port"`
	CORSOrigin string `validate:"required"`
	// RelayMaxConcurrent caps in-flight fetches of the relay and parse
	// endpoints. Zero means unlimited.
	RelayMaxConcurrent int `validate:"gte=0"`

	// Extraction tiers
	RelayURL          string        `validate:"omitempty,url"`
	ProxyURLs         []string      `validate:"dive,url"`
	FetchTimeout      time.Duration `validate:"gte=10s,lte=30s"`
	FetchMaxRedirects int           `validate:"gte=2,lte=3"`
	FetchMaxBytes     int64         `validate:"gt=0,lte=20971520"`
	UserAgent         string
	ContentMaxChars   int           `validate:"gte=0"`
	ExtractMode       string        `validate:"omitempty,oneof=selector readability"`
	PipelineTimeout   time.Duration `validate:"gte=0"`
	ParseTimeout      time.Duration `validate:"gte=10s,lte=30s"`
	ParseMaxRedirects int           `validate:"gte=2,lte=3"`

	// LLM
	LLMBaseURL     string `validate:"omitempty,url"`
	LLMModel       string `validate:"required"`
	LLMAPIKey      string
	LLMTemperature float32 `validate:"gte=0,lte=2"`
	LLMMaxTokens   int     `validate:"gte=0"`
	Questions      int     `validate:"gte=1,lte=50"`
	LLMCacheOnly   bool

	// Local stores
	DataDir     string `validate:"required"`
	StrictPerms bool

	// LLM response cache
	CacheDir      string
	CacheMaxAge   time.Duration `validate:"gte=0"`
	CacheClear    bool
	CacheMaxCount int   `validate:"gte=0"`
	CacheMaxBytes int64 `validate:"gte=0"`

	// Logging
	LogLevel  string `validate:"required,oneof=trace debug info warn error fatal"`
	LogFormat string `validate:"required,oneof=console json"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		ListenAddr:         DefaultListenAddr,
		CORSOrigin:         DefaultCORSOrigin,
		RelayMaxConcurrent: DefaultRelayMaxConcurrent,
		ProxyURLs:          append([]string(nil), fetch.DefaultProxies...),
		FetchTimeout:       fetch.DefaultTimeout,
		FetchMaxRedirects:  fetch.DefaultMaxRedirects,
		FetchMaxBytes:      fetch.DefaultMaxBytes,
		UserAgent:          fetch.DefaultUserAgent,
		ContentMaxChars:    extract.DefaultMaxChars,
		ExtractMode:        extract.ModeSelector,
		PipelineTimeout:    pipeline.DefaultTimeout,
		ParseTimeout:       server.DefaultParseTimeout,
		ParseMaxRedirects:  server.DefaultParseRedirects,
		LLMModel:           quizgen.DefaultModel,
		LLMTemperature:     quizgen.DefaultTemperature,
		LLMMaxTokens:       quizgen.DefaultMaxTokens,
		Questions:          quizgen.DefaultQuestions,
		DataDir:            DefaultDataDir,
		CacheDir:           DefaultCacheDir,
		CacheMaxCount:      DefaultCacheMaxEntries,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
	}
}

// LLMConfigured reports whether quiz generation can reach a model. A local
// OpenAI-compatible server needs only a base URL.
func (c Config) LLMConfigured() bool {
	return strings.TrimSpace(c.LLMAPIKey) != "" || strings.TrimSpace(c.LLMBaseURL) != ""
}

var configValidator = validator.New()

// ValidateConfig checks the final layered configuration.
func ValidateConfig(cfg Config) error {
	err := configValidator.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.StructNamespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", fe.StructNamespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}

// LoadConfig layers defaults, the optional config file and the environment
// (after loading envFiles). Flags are applied by the caller on top and the
// result checked with ValidateConfig.
func LoadConfig(configPath string, envFiles []string) (Config, error) {
	cfg := DefaultConfig()
	if err := LoadEnvFiles(envFiles...); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(configPath) != "" {
		fc, err := LoadConfigFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		ApplyFileConfig(&cfg, fc)
	}
	ec, err := LoadEnvConfig()
	if err != nil {
		return cfg, err
	}
	ApplyEnvOverrides(&cfg, ec)
	return cfg, nil
}
