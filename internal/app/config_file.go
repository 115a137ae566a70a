package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
// Nested sections map onto the flag and env names.
type FileConfig struct {
	Server struct {
		Listen        string `yaml:"listen" json:"listen"`
		CORSOrigin    string `yaml:"corsOrigin" json:"corsOrigin"`
		MaxConcurrent int    `yaml:"maxConcurrent" json:"maxConcurrent"`
	} `yaml:"server" json:"server"`

	Relay struct {
		URL string `yaml:"url" json:"url"`
	} `yaml:"relay" json:"relay"`

	Proxies []string `yaml:"proxies" json:"proxies"`

	Fetch struct {
		Timeout      Duration `yaml:"timeout" json:"timeout"`
		MaxRedirects int      `yaml:"maxRedirects" json:"maxRedirects"`
		MaxBytes     int64    `yaml:"maxBytes" json:"maxBytes"`
		UserAgent    string   `yaml:"userAgent" json:"userAgent"`
	} `yaml:"fetch" json:"fetch"`

	Extract struct {
		MaxChars int      `yaml:"maxChars" json:"maxChars"`
		Mode     string   `yaml:"mode" json:"mode"`
		Timeout  Duration `yaml:"timeout" json:"timeout"`
	} `yaml:"extract" json:"extract"`

	Parse struct {
		Timeout      Duration `yaml:"timeout" json:"timeout"`
		MaxRedirects int      `yaml:"maxRedirects" json:"maxRedirects"`
	} `yaml:"parse" json:"parse"`

	LLM struct {
		BaseURL     string   `yaml:"base" json:"base"`
		Model       string   `yaml:"model" json:"model"`
		APIKey      string   `yaml:"key" json:"key"`
		Temperature *float32 `yaml:"temperature" json:"temperature"`
		MaxTokens   int      `yaml:"maxTokens" json:"maxTokens"`
		Questions   int      `yaml:"questions" json:"questions"`
		CacheOnly   bool     `yaml:"cacheOnly" json:"cacheOnly"`
	} `yaml:"llm" json:"llm"`

	Data struct {
		Dir         string `yaml:"dir" json:"dir"`
		StrictPerms bool   `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"data" json:"data"`

	Cache struct {
		Dir      string   `yaml:"dir" json:"dir"`
		MaxAge   Duration `yaml:"maxAge" json:"maxAge"`
		Clear    bool     `yaml:"clear" json:"clear"`
		MaxCount int      `yaml:"maxCount" json:"maxCount"`
		MaxBytes int64    `yaml:"maxBytes" json:"maxBytes"`
	} `yaml:"cache" json:"cache"`

	Log struct {
		Level  string `yaml:"level" json:"level"`
		Format string `yaml:"format" json:"format"`
	} `yaml:"log" json:"log"`
}

// Duration decodes "15s"-style strings in both YAML and JSON. A bare
// number is taken as nanoseconds, like time.Duration.
type Duration time.Duration

func parseDuration(s string) (Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	v, err := parseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %s: %w", b, err)
	}
	*d = v
	return nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("duration %q: %w", n.Value, err)
	}
	*d = v
	return nil
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. It runs on
// top of DefaultConfig and below env and flags.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setString(&cfg.ListenAddr, fc.Server.Listen)
	setString(&cfg.CORSOrigin, fc.Server.CORSOrigin)
	setPositive(&cfg.RelayMaxConcurrent, fc.Server.MaxConcurrent)

	setString(&cfg.RelayURL, fc.Relay.URL)
	if len(fc.Proxies) > 0 {
		cfg.ProxyURLs = append([]string(nil), fc.Proxies...)
	}

	setPositive(&cfg.FetchTimeout, time.Duration(fc.Fetch.Timeout))
	setPositive(&cfg.FetchMaxRedirects, fc.Fetch.MaxRedirects)
	setPositive(&cfg.FetchMaxBytes, fc.Fetch.MaxBytes)
	setString(&cfg.UserAgent, fc.Fetch.UserAgent)

	setPositive(&cfg.ContentMaxChars, fc.Extract.MaxChars)
	setString(&cfg.ExtractMode, fc.Extract.Mode)
	setPositive(&cfg.PipelineTimeout, time.Duration(fc.Extract.Timeout))

	setPositive(&cfg.ParseTimeout, time.Duration(fc.Parse.Timeout))
	setPositive(&cfg.ParseMaxRedirects, fc.Parse.MaxRedirects)

	setString(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	setString(&cfg.LLMModel, fc.LLM.Model)
	setString(&cfg.LLMAPIKey, fc.LLM.APIKey)
	// Temperature 0 is a meaningful setting, so the file uses a pointer.
	if fc.LLM.Temperature != nil {
		cfg.LLMTemperature = *fc.LLM.Temperature
	}
	setPositive(&cfg.LLMMaxTokens, fc.LLM.MaxTokens)
	setPositive(&cfg.Questions, fc.LLM.Questions)
	if fc.LLM.CacheOnly {
		cfg.LLMCacheOnly = true
	}

	setString(&cfg.DataDir, fc.Data.Dir)
	if fc.Data.StrictPerms {
		cfg.StrictPerms = true
	}

	setString(&cfg.CacheDir, fc.Cache.Dir)
	setPositive(&cfg.CacheMaxAge, time.Duration(fc.Cache.MaxAge))
	if fc.Cache.Clear {
		cfg.CacheClear = true
	}
	setPositive(&cfg.CacheMaxCount, fc.Cache.MaxCount)
	setPositive(&cfg.CacheMaxBytes, fc.Cache.MaxBytes)

	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPositive[T ~int | ~int64](dst *T, v T) {
	if v > 0 {
		*dst = v
	}
}
