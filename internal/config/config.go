package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Cfg is the configuration loaded by LoadConfig.
var Cfg *Config

// DefaultDataDir returns ~/.huddle.
func DefaultDataDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".huddle")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.ws_url", "ws://localhost:8080/ws/websocket")
	v.SetDefault("server.timeout", "10s")
	v.SetDefault("server.retries", 2)

	v.SetDefault("stomp.heartbeat", "20s")
	v.SetDefault("stomp.connect_timeout", "10s")
	v.SetDefault("stomp.reconnect_min", "1s")
	v.SetDefault("stomp.reconnect_max", "30s")

	v.SetDefault("chat.dedup_window", "2s")
	v.SetDefault("chat.preview_length", 100)
	v.SetDefault("chat.optimistic_send", true)
	v.SetDefault("chat.event_buffer", 256)

	v.SetDefault("storage.data_dir", DefaultDataDir())

	v.SetDefault("log.file", filepath.Join(DefaultDataDir(), "huddle.log"))
	v.SetDefault("log.level", 2)
}

// LoadConfig reads config.yaml from path (a file or directory), ./configs or
// ~/.huddle, applies HUDDLE_* environment overrides and stores the result in
// Cfg. A missing file is not an error; defaults are used.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if info, err := os.Stat(path); path != "" && err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath("./configs")
		v.AddConfigPath(DefaultDataDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Chat.PreviewLength <= 0 {
		cfg.Chat.PreviewLength = 100
	}
	if cfg.Chat.EventBuffer <= 0 {
		cfg.Chat.EventBuffer = 256
	}

	Cfg = &cfg

	return &cfg, nil
}
