package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TILLSYNC"

// Load reads configuration from an optional file, layered under TILLSYNC_*
// environment overrides and built-in defaults. An empty path searches the
// usual locations; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tillsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tillsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.user_agent", "tillsync/1.0")

	v.SetDefault("realtime.url", "ws://localhost:8080/ws")
	v.SetDefault("realtime.ping_interval", 30*time.Second)
	v.SetDefault("realtime.pong_timeout", 10*time.Second)
	v.SetDefault("realtime.buffer", 100)

	v.SetDefault("storage.data_dir", ".tillsync")
	v.SetDefault("storage.db_file", "tillsync.db")

	v.SetDefault("sync.interval", time.Minute)
	v.SetDefault("sync.backoff_base", 2*time.Second)
	v.SetDefault("sync.backoff_max", 5*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")

	v.SetDefault("device.id", "")
}
