// Package config loads the application configuration from a YAML
// file, with defaults for every key so a missing file is usable
// as-is.  The generation-service API key is only ever read from the
// environment, never from the file.
package config

import (
	"os"
	"path/filepath"

	"github.com/mverdier/mailtriage/internal/homedir"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// OpenAI holds the generation-service settings.  An empty APIKey
// selects the deterministic reply fallback.
type OpenAI struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type Config struct {
	// LookbackDays bounds the fetch window: messages received
	// within [now - days, now].
	LookbackDays int `mapstructure:"lookback_days"`

	// Language for generated and templated replies.
	Language string `mapstructure:"language"`

	// MinScore filters rendering; messages scoring below it are
	// hidden.
	MinScore int `mapstructure:"min_score"`

	// BulkTopN is how many top-scored messages bulk reply mode
	// composes for.
	BulkTopN int `mapstructure:"bulk_top_n"`

	// Compose requests the draft-creation scope during
	// authentication.
	Compose bool `mapstructure:"compose"`

	CredentialsPath string `mapstructure:"credentials_path"`
	TokenPath       string `mapstructure:"token_path"`
	MarkersPath     string `mapstructure:"markers_path"`

	OpenAI OpenAI `mapstructure:"openai"`
}

// DefaultPath returns ~/.config/mailtriage/config.yaml.
func DefaultPath() string {
	return filepath.Join(homedir.Get(), ".config", "mailtriage", "config.yaml")
}

// Load reads the configuration at path.  A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("lookback_days", 14)
	v.SetDefault("language", "French")
	v.SetDefault("min_score", 0)
	v.SetDefault("bulk_top_n", 3)
	v.SetDefault("compose", true)
	v.SetDefault("credentials_path", "credentials.json")
	v.SetDefault("token_path", "token.json")
	v.SetDefault("markers_path", filepath.Join(homedir.Get(), ".mailtriage.db"))
	v.SetDefault("openai.model", "gpt-4o-mini")

	if err := v.BindEnv("openai.api_key", "OPENAI_API_KEY"); err != nil {
		return nil, errors.Wrap(err, "binding OPENAI_API_KEY")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); !ok {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrapf(err, "reading config %s", path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	if cfg.LookbackDays < 1 {
		cfg.LookbackDays = 14
	}
	return cfg, nil
}
