package config

import (
	"fmt"
	"time"

	"github.com/appforge/runnerd/internal/logger"
	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Listen          string          `toml:"listen" mapstructure:"listen"`
	BasePath        string          `toml:"base_path" mapstructure:"base_path"`
	BasePort        int             `toml:"base_port" mapstructure:"base_port"`
	MaxPortAttempts int             `toml:"max_port_attempts" mapstructure:"max_port_attempts"`
	CaptureWindow   time.Duration   `toml:"capture_window" mapstructure:"capture_window"`
	HealthAttempts  int             `toml:"health_attempts" mapstructure:"health_attempts"`
	StopTimeout     time.Duration   `toml:"stop_timeout" mapstructure:"stop_timeout"`
	Log             *LogConfig      `toml:"log" mapstructure:"log"`
	Store           *StoreConfig    `toml:"store" mapstructure:"store"`
	History         *HistoryConfig  `toml:"history" mapstructure:"history"`
	Registry        *RegistryConfig `toml:"registry" mapstructure:"registry"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// StoreConfig selects the state store. An empty DSN disables persistence.
type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryConfig struct {
	Sinks []HistorySink `toml:"sinks" mapstructure:"sinks"`
}

type HistorySink struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// RegistryConfig overrides the environment-driven registry client settings.
type RegistryConfig struct {
	BaseURL      string `toml:"base_url" mapstructure:"base_url"`
	SharedSecret string `toml:"shared_secret" mapstructure:"shared_secret"`
	RunnerID     string `toml:"runner_id" mapstructure:"runner_id"`
}

const (
	DefaultListen          = "127.0.0.1:8240"
	DefaultBasePath        = "/api"
	DefaultBasePort        = 3001
	DefaultMaxPortAttempts = 100
)

// Load reads a TOML file and fills in defaults for anything unset.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Default returns the configuration used when no file is given.
func Default() *FileConfig {
	fc := &FileConfig{}
	fc.applyDefaults()
	return fc
}

func (fc *FileConfig) applyDefaults() {
	if fc.Listen == "" {
		fc.Listen = DefaultListen
	}
	if fc.BasePath == "" {
		fc.BasePath = DefaultBasePath
	}
	if fc.BasePort == 0 {
		fc.BasePort = DefaultBasePort
	}
	if fc.MaxPortAttempts == 0 {
		fc.MaxPortAttempts = DefaultMaxPortAttempts
	}
}

func (fc *FileConfig) validate() error {
	if fc.BasePort < 1 || fc.BasePort > 65535 {
		return fmt.Errorf("base_port %d out of range", fc.BasePort)
	}
	if fc.MaxPortAttempts < 1 {
		return fmt.Errorf("max_port_attempts must be positive, got %d", fc.MaxPortAttempts)
	}
	if fc.History != nil {
		for i, s := range fc.History.Sinks {
			if s.DSN == "" {
				return fmt.Errorf("history sink %d has empty dsn", i)
			}
		}
	}
	return nil
}

// LoggerConfig converts the log section to the per-project writer config.
func (fc *FileConfig) LoggerConfig() logger.Config {
	if fc.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        fc.Log.Dir,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}

// LogLevel returns the configured daemon log level, defaulting to info.
func (fc *FileConfig) LogLevel() string {
	if fc.Log == nil || fc.Log.Level == "" {
		return "info"
	}
	return fc.Log.Level
}

// HistoryDSNs returns the configured history sink DSNs in order.
func (fc *FileConfig) HistoryDSNs() []string {
	if fc.History == nil {
		return nil
	}
	out := make([]string, 0, len(fc.History.Sinks))
	for _, s := range fc.History.Sinks {
		out = append(out, s.DSN)
	}
	return out
}
