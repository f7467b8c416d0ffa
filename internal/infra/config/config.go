// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server  ServerConfig            `yaml:"server"`
	Audio   AudioConfig             `yaml:"audio"`
	Gate    GateConfig              `yaml:"gate"`
	Fetch   FetchConfig             `yaml:"fetch"`
	Player  PlayerConfig            `yaml:"player"`
	Presets map[string]PresetConfig `yaml:"presets" validate:"dive"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr" default:":8080" validate:"required"`
	// Token protects the RPC surface. Empty disables authentication.
	Token string      `yaml:"token"`
	Hooks HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AudioConfig selects the output backend.
type AudioConfig struct {
	Backend  string         `yaml:"backend" default:"headless" validate:"oneof=headless oto"`
	Settings map[string]any `yaml:"settings"`
}

// GateConfig represents the interaction gate.
type GateConfig struct {
	Enabled *bool    `yaml:"enabled" default:"true"`
	Events  []string `yaml:"events" validate:"dive,oneof=pointerdown pointerup keydown keyup click touchstart"`
	// Terminal treats a keypress on the controlling terminal as an interaction.
	Terminal bool `yaml:"terminal"`
}

// FetchConfig represents asset fetching.
type FetchConfig struct {
	TimeoutMs         int         `yaml:"timeout_ms" default:"30000" validate:"gte=100,lte=600000"`
	RequestsPerMinute int         `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int         `yaml:"burst" default:"1" validate:"gte=1"`
	BearerToken       string      `yaml:"bearer_token"`
	UserAgent         string      `yaml:"user_agent"`
	// AllowLocal permits file:// URLs and plain paths as sources.
	AllowLocal *bool `yaml:"allow_local" default:"true"`
	// LocalRoot confines local sources to a directory.
	LocalRoot string      `yaml:"local_root"`
	Cache     CacheConfig `yaml:"cache"`
}

// CacheConfig represents the on-disk byte cache. An empty dir disables it.
type CacheConfig struct {
	Dir              string `yaml:"dir"`
	CompressionLevel int    `yaml:"compression_level" default:"3" validate:"gte=1,lte=22"`
	MaxBytes         int64  `yaml:"max_bytes" validate:"gte=0"`
}

// PlayerConfig holds defaults for created players.
type PlayerConfig struct {
	Loop        bool     `yaml:"loop"`
	Volume      *float64 `yaml:"volume" default:"1" validate:"omitempty,gte=0,lte=1"`
	Autoplay    bool     `yaml:"autoplay"`
	PauseOnBlur bool     `yaml:"pause_on_blur"`
}

// PresetConfig represents a named player template.
type PresetConfig struct {
	Src         string   `yaml:"src" validate:"required"`
	Loop        bool     `yaml:"loop"`
	Volume      *float64 `yaml:"volume" validate:"omitempty,gte=0,lte=1"`
	Autoplay    bool     `yaml:"autoplay"`
	PauseOnBlur bool     `yaml:"pause_on_blur"`
	Prefetch    bool     `yaml:"prefetch"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("CUEBOX_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("CUEBOX_FETCH_TOKEN"); v != "" {
		c.Fetch.BearerToken = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	return nil
}

// GateEnabled reports whether players wait for a user interaction.
func (c *Config) GateEnabled() bool {
	return c.Gate.Enabled == nil || *c.Gate.Enabled
}

// Timeout returns the fetch timeout.
func (c *FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// LocalAllowed reports whether local files may be used as sources.
func (c *FetchConfig) LocalAllowed() bool {
	return c.AllowLocal == nil || *c.AllowLocal
}

// PrefetchCount returns the number of presets marked for prefetch.
func (c *Config) PrefetchCount() int {
	n := 0
	for _, p := range c.Presets {
		if p.Prefetch {
			n++
		}
	}
	return n
}
