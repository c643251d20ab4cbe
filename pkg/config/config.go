// Package config loads the feed server configuration.
//
// Values come from defaults, an optional YAML file and FEED_* environment
// variables, in increasing precedence. Nested keys map to variables with
// underscores: source.url is FEED_SOURCE_URL.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/scrollfeed/pkg/logging"
	"github.com/Sternrassler/scrollfeed/pkg/source"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "FEED"

var validate = validator.New()

// Config holds all server configuration.
// Batch size and reveal delay are fixed and deliberately absent.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Source SourceConfig `mapstructure:"source"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig contains HTTP host settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	MaxSessions     int           `mapstructure:"max_sessions" validate:"gt=0"`
	SessionIdleTTL  time.Duration `mapstructure:"session_idle_ttl" validate:"gt=0"`
}

// SourceConfig contains upstream settings.
type SourceConfig struct {
	URL          string        `mapstructure:"url" validate:"required,http_url"`
	UserAgent    string        `mapstructure:"user_agent" validate:"required"`
	Timeout      time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn warning error"`
	Pretty bool   `mapstructure:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	src := source.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			MaxSessions:     1000,
			SessionIdleTTL:  15 * time.Minute,
		},
		Source: SourceConfig{
			URL:          src.URL,
			UserAgent:    src.UserAgent,
			Timeout:      src.Timeout,
			MaxBodyBytes: src.MaxBodyBytes,
		},
		Log: LogConfig{
			Level:  string(logging.LevelInfo),
			Pretty: false,
		},
	}
}

// Load reads the configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(fields, ", "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// SourceConfig converts the source section for source.New.
func (c *Config) SourceConfig() source.Config {
	return source.Config{
		URL:          c.Source.URL,
		UserAgent:    c.Source.UserAgent,
		Timeout:      c.Source.Timeout,
		MaxBodyBytes: c.Source.MaxBodyBytes,
	}
}

// LoggingConfig converts the log section for logging.Setup.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// setDefaults registers every key so AutomaticEnv can bind it on Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_sessions", d.Server.MaxSessions)
	v.SetDefault("server.session_idle_ttl", d.Server.SessionIdleTTL)

	v.SetDefault("source.url", d.Source.URL)
	v.SetDefault("source.user_agent", d.Source.UserAgent)
	v.SetDefault("source.timeout", d.Source.Timeout)
	v.SetDefault("source.max_body_bytes", d.Source.MaxBodyBytes)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
}
