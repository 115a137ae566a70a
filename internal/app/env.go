package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// LoadEnvFiles loads dotenv files into the process environment. Later files
// override earlier ones; missing files are skipped.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Overload(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load env file %s: %w", p, err)
		}
	}
	return nil
}

// envBool distinguishes an unset variable from an explicit false.
type envBool struct {
	set   bool
	value bool
}

func (b *envBool) Decode(s string) error {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	b.set, b.value = true, v
	return nil
}

// envFloat distinguishes an unset variable from an explicit zero.
type envFloat struct {
	set   bool
	value float32
}

func (f *envFloat) Decode(s string) error {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return err
	}
	f.set, f.value = true, float32(v)
	return nil
}

// EnvConfig is the environment view of Config. Zero values mean "not set".
type EnvConfig struct {
	ListenAddr string `env:"GOQUIZ_LISTEN"`
	CORSOrigin string `env:"CORS_ORIGIN"`
	// RelayMaxConcurrent bounds in-flight server-side fetches.
	RelayMaxConcurrent int `env:"RELAY_MAX_CONCURRENT,strict"`

	RelayURL          string        `env:"RELAY_URL"`
	ProxyURLs         []string      `env:"PROXY_URLS"`
	FetchTimeout      time.Duration `env:"FETCH_TIMEOUT,strict"`
	FetchMaxRedirects int           `env:"FETCH_MAX_REDIRECTS,strict"`
	FetchMaxBytes     int64         `env:"FETCH_MAX_BYTES,strict"`
	UserAgent         string        `env:"FETCH_USER_AGENT"`
	ContentMaxChars   int           `env:"CONTENT_MAX_CHARS,strict"`
	ExtractMode       string        `env:"EXTRACT_MODE"`
	PipelineTimeout   time.Duration `env:"EXTRACT_TIMEOUT,strict"`
	ParseTimeout      time.Duration `env:"PARSE_TIMEOUT,strict"`
	ParseMaxRedirects int           `env:"PARSE_MAX_REDIRECTS,strict"`

	LLMBaseURL     string   `env:"LLM_BASE_URL"`
	LLMModel       string   `env:"LLM_MODEL"`
	LLMAPIKey      string   `env:"LLM_API_KEY"`
	OpenAIAPIKey   string   `env:"OPENAI_API_KEY"`
	LLMTemperature envFloat `env:"LLM_TEMPERATURE"`
	LLMMaxTokens   int      `env:"LLM_MAX_TOKENS,strict"`
	Questions      int      `env:"QUIZ_QUESTIONS,strict"`
	LLMCacheOnly   envBool  `env:"LLM_CACHE_ONLY"`

	DataDir     string  `env:"DATA_DIR"`
	StrictPerms envBool `env:"STRICT_PERMS"`

	CacheDir      string        `env:"CACHE_DIR"`
	CacheMaxAge   time.Duration `env:"CACHE_MAX_AGE,strict"`
	CacheClear    envBool       `env:"CACHE_CLEAR"`
	CacheMaxCount int           `env:"CACHE_MAX_COUNT,strict"`
	CacheMaxBytes int64         `env:"CACHE_MAX_BYTES,strict"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

// LoadEnvConfig decodes the process environment. No variable being set is
// not an error.
func LoadEnvConfig() (EnvConfig, error) {
	var ec EnvConfig
	if err := envdecode.Decode(&ec); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return ec, fmt.Errorf("decode env: %w", err)
	}
	return ec, nil
}

// ApplyEnvOverrides overrides cfg with every variable that is set. Env takes
// precedence over the config file; flags still win over both.
func ApplyEnvOverrides(cfg *Config, ec EnvConfig) {
	if cfg == nil {
		return
	}
	setString(&cfg.ListenAddr, ec.ListenAddr)
	setString(&cfg.CORSOrigin, ec.CORSOrigin)
	setPositive(&cfg.RelayMaxConcurrent, ec.RelayMaxConcurrent)

	setString(&cfg.RelayURL, ec.RelayURL)
	if len(ec.ProxyURLs) > 0 {
		cfg.ProxyURLs = append([]string(nil), ec.ProxyURLs...)
	}
	setPositive(&cfg.FetchTimeout, ec.FetchTimeout)
	setPositive(&cfg.FetchMaxRedirects, ec.FetchMaxRedirects)
	setPositive(&cfg.FetchMaxBytes, ec.FetchMaxBytes)
	setString(&cfg.UserAgent, ec.UserAgent)
	setPositive(&cfg.ContentMaxChars, ec.ContentMaxChars)
	setString(&cfg.ExtractMode, ec.ExtractMode)
	setPositive(&cfg.PipelineTimeout, ec.PipelineTimeout)
	setPositive(&cfg.ParseTimeout, ec.ParseTimeout)
	setPositive(&cfg.ParseMaxRedirects, ec.ParseMaxRedirects)

	setString(&cfg.LLMBaseURL, ec.LLMBaseURL)
	setString(&cfg.LLMModel, ec.LLMModel)
	setString(&cfg.LLMAPIKey, ec.OpenAIAPIKey)
	setString(&cfg.LLMAPIKey, ec.LLMAPIKey)
	if ec.LLMTemperature.set {
		cfg.LLMTemperature = ec.LLMTemperature.value
	}
	setPositive(&cfg.LLMMaxTokens, ec.LLMMaxTokens)
	setPositive(&cfg.Questions, ec.Questions)
	setBool(&cfg.LLMCacheOnly, ec.LLMCacheOnly)

	setString(&cfg.DataDir, ec.DataDir)
	setBool(&cfg.StrictPerms, ec.StrictPerms)

	setString(&cfg.CacheDir, ec.CacheDir)
	setPositive(&cfg.CacheMaxAge, ec.CacheMaxAge)
	setBool(&cfg.CacheClear, ec.CacheClear)
	setPositive(&cfg.CacheMaxCount, ec.CacheMaxCount)
	setPositive(&cfg.CacheMaxBytes, ec.CacheMaxBytes)

	setString(&cfg.LogLevel, ec.LogLevel)
	setString(&cfg.LogFormat, ec.LogFormat)
}

func setBool(dst *bool, v envBool) {
	if v.set {
		*dst = v.value
	}
}
