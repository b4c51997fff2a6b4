// Package config loads the server configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	envVarPrefix = "TETHER"
	fileName     = "tether"
)

// Config contains every option of the tether server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	TimeSync  TimeSyncConfig  `mapstructure:"time_sync"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
}

type ServerConfig struct {
	// Address on which the HTTP server listens, e.g. ":8080".
	Addr string `mapstructure:"addr"`
	// HTTP path accepting WebSocket upgrades.
	Path string `mapstructure:"path"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type LogConfig struct {
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	FilePath string `mapstructure:"file_path"`
}

type TimeSyncConfig struct {
	// Interval between time sync broadcasts. Zero disables time sync.
	Interval time.Duration `mapstructure:"interval"`
}

type ScriptsConfig struct {
	// Lua file whose handlers are registered on start. Blank registers none.
	Handlers string `mapstructure:"handlers"`
}

var defaults = map[string]any{
	"server.addr":                    ":8080",
	"server.path":                    "/ws",
	"rate_limit.enabled":             true,
	"rate_limit.messages_per_second": 100.0,
	"rate_limit.burst":               200,
	"log.level":                      "info",
	"log.file_path":                  "",
	"time_sync.interval":             "0s",
	"scripts.handlers":               "",
}

// Load reads tether.yaml from configPath and applies environment overrides.
// An empty configPath skips the file and uses defaults and the environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(envVarPrefix)
	v.AutomaticEnv()

	if configPath != "" {
		v.AddConfigPath(configPath)
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) {
				return nil, fmt.Errorf("no config file in path %s", configPath)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// Nested options can be set through environment variables, e.g. server.addr
	// through TETHER_SERVER_ADDR.
	for _, k := range v.AllKeys() {
		envVar := envVarPrefix + "_" + strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVar); err != nil {
			return nil, fmt.Errorf("binding %s to %s: %w", k, envVar, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// NewLogger returns a logger writing at the configured level to stdout or the log file.
func NewLogger(cfg *Config) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	var w io.Writer = os.Stdout
	if cfg.Log.FilePath != "" {
		f, err := os.OpenFile(cfg.Log.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}

	return &logrus.Logger{
		Out: w,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			DisableSorting:  true,
		},
		Hooks: make(logrus.LevelHooks),
		Level: lvl,
	}, nil
}
