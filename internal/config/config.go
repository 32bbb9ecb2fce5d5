// Package config handles configuration loading for voyager.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/voyagerhq/voyager/internal/gateway"
	"github.com/voyagerhq/voyager/pkg/models"
)

// Config holds all configuration for voyager.
type Config struct {
	Anthropic AnthropicConfig        `mapstructure:"anthropic"`
	Storage   StorageConfig          `mapstructure:"storage"`
	Dispatch  DispatchConfig         `mapstructure:"dispatch"`
	Agents    map[string]AgentConfig `mapstructure:"agents"`
}

// AnthropicConfig holds model provider settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	// UseBedrock routes calls through AWS Bedrock instead of the Anthropic API.
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database file. Empty means the XDG default.
	DBPath string `mapstructure:"db_path"`
}

// DispatchConfig holds scheduler settings.
type DispatchConfig struct {
	// PollInterval is how often the dispatcher rescans backoff timers.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// AgentConfig holds per-agent-type overrides, flattened for YAML ergonomics.
type AgentConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	BackoffBase     time.Duration `mapstructure:"backoff_base"`
	MaxBackoff      time.Duration `mapstructure:"max_backoff"`
	RetryValidation bool          `mapstructure:"retry_validation"`
	Tier            string        `mapstructure:"tier"`
	FallbackTier    string        `mapstructure:"fallback_tier"`
}

// Load loads configuration with the following precedence (highest first):
// environment variables (ANTHROPIC_API_KEY), project config (.voyager.yaml
// in the current directory or a parent), user config
// (~/.config/voyager/config.yaml), built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// Gateway converts the provider settings for the gateway constructor.
func (c *Config) Gateway() gateway.AnthropicConfig {
	return gateway.AnthropicConfig{
		APIKey:        c.Anthropic.APIKey,
		UseAWSBedrock: c.Anthropic.UseBedrock,
		AWSRegion:     c.Anthropic.AWSRegion,
		AWSProfile:    c.Anthropic.AWSProfile,
	}
}

// DBPath returns the configured database path, or the XDG default.
func (c *Config) DBPath(defaultPath string) string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return defaultPath
}

// Descriptors builds the per-agent-type descriptor table: built-in defaults
// overlaid with any configured overrides. Zero-valued override fields keep
// the default.
func (c *Config) Descriptors() map[models.AgentType]models.AgentDescriptor {
	descriptors := DefaultDescriptors()
	for name, override := range c.Agents {
		at := models.AgentType(name)
		if !at.Valid() {
			continue
		}
		desc := descriptors[at]
		if override.Capacity > 0 {
			desc.Capacity = override.Capacity
		}
		if override.Timeout > 0 {
			desc.Timeout = override.Timeout
		}
		if override.MaxAttempts > 0 {
			desc.Retry.MaxAttempts = override.MaxAttempts
		}
		if override.BackoffBase > 0 {
			desc.Retry.BackoffBase = override.BackoffBase
		}
		if override.MaxBackoff > 0 {
			desc.Retry.MaxBackoff = override.MaxBackoff
		}
		if override.RetryValidation {
			desc.Retry.RetryValidation = true
		}
		if tier := models.ModelTier(override.Tier); tier.Valid() {
			desc.Tier = tier
		}
		if fallback := models.ModelTier(override.FallbackTier); fallback.Valid() {
			desc.FallbackTier = fallback
		}
		descriptors[at] = desc
	}
	return descriptors
}

// DefaultDescriptors returns the built-in per-agent-type configuration.
// The itinerary skeleton gets the premium tier since everything else hangs
// off its quality; bulk enrichment work runs on cheaper tiers.
func DefaultDescriptors() map[models.AgentType]models.AgentDescriptor {
	defaultRetry := models.RetryPolicy{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		MaxBackoff:  60 * time.Second,
	}

	return map[models.AgentType]models.AgentDescriptor{
		models.AgentPlanning: {
			Type:         models.AgentPlanning,
			Capacity:     1,
			Timeout:      120 * time.Second,
			Retry:        defaultRetry,
			Tier:         models.TierPremium,
			FallbackTier: models.TierStandard,
		},
		models.AgentTransport: {
			Type:         models.AgentTransport,
			Capacity:     2,
			Timeout:      90 * time.Second,
			Retry:        defaultRetry,
			Tier:         models.TierStandard,
			FallbackTier: models.TierEconomy,
		},
		models.AgentLocation: {
			Type:     models.AgentLocation,
			Capacity: 3,
			Timeout:  60 * time.Second,
			Retry:    defaultRetry,
			Tier:     models.TierStandard,
		},
		models.AgentAccommodation: {
			Type:     models.AgentAccommodation,
			Capacity: 3,
			Timeout:  90 * time.Second,
			Retry:    defaultRetry,
			Tier:     models.TierStandard,
		},
		models.AgentActivity: {
			Type:     models.AgentActivity,
			Capacity: 3,
			Timeout:  60 * time.Second,
			Retry:    defaultRetry,
			Tier:     models.TierEconomy,
		},
		models.AgentBudget: {
			Type:     models.AgentBudget,
			Capacity: 1,
			Timeout:  60 * time.Second,
			Retry:    defaultRetry,
			Tier:     models.TierStandard,
		},
		models.AgentWeather: {
			Type:     models.AgentWeather,
			Capacity: 4,
			Timeout:  30 * time.Second,
			Retry:    defaultRetry,
			Tier:     models.TierEconomy,
		},
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Dispatch: DispatchConfig{PollInterval: 25 * time.Millisecond},
	}
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("storage.db_path", "")
	v.SetDefault("dispatch.poll_interval", "25ms")
}

// getUserConfigDir returns the XDG config directory for voyager.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "voyager")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "voyager")
	}
	return filepath.Join(home, ".config", "voyager")
}

// findProjectConfig searches for .voyager.yaml in the current directory and
// parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".voyager.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}
