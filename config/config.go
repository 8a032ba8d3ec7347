// Package config holds the settings a client or gateway is built from.
//
// A Config is a plain value: load it once at startup and pass it down. Sources,
// lowest precedence first:
//
//	defaults → file section "common" → file section "<env>" → MINIWS_* env vars → bound flags
//
// The two file sections are merged key by key, so an env section only needs the
// keys it changes.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "MINIWS"

type Config struct {
	URL               string        `mapstructure:"url"`
	Gateway           Gateway       `mapstructure:"gateway"`
	Registry          Registry      `mapstructure:"registry"`
	ReceiveInit       bool          `mapstructure:"receive_init"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" validate:"gt=0"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout" validate:"gte=0"`
	RateLimit         RateLimit     `mapstructure:"rate_limit"`
	Log               Log           `mapstructure:"log"`
}

// Gateway selects a gateway from the registry when URL is empty.
type Gateway struct {
	Service  string `mapstructure:"service"`
	Balancer string `mapstructure:"balancer" validate:"omitempty,oneof=round_robin weighted_random consistent_hash"`
	HashKey  string `mapstructure:"hash_key"`
}

type Registry struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"gte=0"`
}

// RateLimit caps outbound requests per second. Rate 0 disables it.
type RateLimit struct {
	Rate  float64 `mapstructure:"rate" validate:"gte=0"`
	Burst int     `mapstructure:"burst" validate:"gte=0"`
}

type Log struct {
	Level       string `mapstructure:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
	Development bool   `mapstructure:"development"`
}

// defaults is also the list of keys viper resolves from the environment.
var defaults = map[string]any{
	"url":                   "",
	"gateway.service":       "",
	"gateway.balancer":      "round_robin",
	"gateway.hash_key":      "",
	"registry.endpoints":    []string{},
	"registry.dial_timeout": 5 * time.Second,
	"receive_init":          false,
	"timeout":               5 * time.Second,
	"heartbeat_interval":    7 * time.Second,
	"handshake_timeout":     10 * time.Second,
	"rate_limit.rate":       0.0,
	"rate_limit.burst":      0,
	"log.level":             "info",
	"log.development":       false,
}

// Default returns the built-in configuration. It has no URL or gateway
// service, so ValidateClient rejects it until one is set.
func Default() Config {
	return Config{
		Gateway:           Gateway{Balancer: "round_robin"},
		Registry:          Registry{DialTimeout: 5 * time.Second},
		Timeout:           5 * time.Second,
		HeartbeatInterval: 7 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		Log:               Log{Level: "info"},
	}
}

// Option adjusts the viper instance before the config is decoded.
type Option func(v *viper.Viper) error

// WithFlags binds command-line flags to config keys. Only flags the user set
// take precedence over the file and environment.
func WithFlags(flags *pflag.FlagSet, keyToFlag map[string]string) Option {
	return func(v *viper.Viper) error {
		for key, name := range keyToFlag {
			f := flags.Lookup(name)
			if f == nil {
				return fmt.Errorf("flag --%s not defined", name)
			}
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
		return nil
	}
}

// Load reads path (YAML), merges section common with section env, applies
// environment overrides and options, then runs Validate. An empty path skips the
// file; a path that does not exist is an error.
func Load(path, env string, opts ...Option) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("config file %s does not exist: %w", path, err)
			}
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		if err := v.MergeConfigMap(file.GetStringMap("common")); err != nil {
			return Config{}, fmt.Errorf("merge common section: %w", err)
		}
		if env != "" {
			if !file.IsSet(env) {
				return Config{}, fmt.Errorf("config %s has no %q section", path, env)
			}
			if err := v.MergeConfigMap(file.GetStringMap(env)); err != nil {
				return Config{}, fmt.Errorf("merge %s section: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and option combinations.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Gateway.Balancer == "consistent_hash" && cfg.Gateway.HashKey == "" {
		return errors.New("invalid config: consistent_hash balancer needs gateway.hash_key")
	}
	return nil
}

// ValidateClient additionally requires a way to locate the gateway.
func ValidateClient(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if cfg.URL == "" && cfg.Gateway.Service == "" {
		return errors.New("invalid config: either url or gateway.service must be set")
	}
	return nil
}
