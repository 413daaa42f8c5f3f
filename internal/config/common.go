package config

import "time"

// Config is the root of config.yaml.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Stomp   StompConfig   `mapstructure:"stomp"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	WSURL   string        `mapstructure:"ws_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type StompConfig struct {
	Heartbeat      time.Duration `mapstructure:"heartbeat"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectMin   time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max"`
}

type ChatConfig struct {
	DedupWindow    time.Duration `mapstructure:"dedup_window"`
	PreviewLength  int           `mapstructure:"preview_length"`
	OptimisticSend bool          `mapstructure:"optimistic_send"`
	EventBuffer    int           `mapstructure:"event_buffer"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level int    `mapstructure:"level"`
}
