// Package config loads and validates host configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	opregerrors "github.com/alexisbeaulieu97/opreg/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by the host.
const EnvPrefix = "OPREG"

// Config is the host configuration.
type Config struct {
	LogLevel      string `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	HumanReadable bool   `mapstructure:"human_readable"`
	// Workers bounds concurrent type extraction. Zero uses GOMAXPROCS.
	Workers   int    `mapstructure:"workers" validate:"gte=0"`
	ModuleDir string `mapstructure:"module_dir"`
}

// NewViper returns a viper instance with defaults, environment binding and
// the standard config search paths.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("log_level", "info")
	v.SetDefault("human_readable", true)
	v.SetDefault("workers", 0)
	v.SetDefault("module_dir", ".")

	v.SetConfigName("opreg")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/opreg")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file and returns the validated configuration.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, opregerrors.NewParseError(v.ConfigFileUsed(), 0, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return opregerrors.NewValidationError("config", "configuration is nil", nil)
	}
	return ConvertValidationError("config", validatorInstance().Struct(cfg))
}
