// Package config loads the configuration shared by the pubnub command-line
// tools: defaults, then a YAML file, then PUBNUB_* environment variables.
// Command-line flags are applied last by the commands themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/pubnub-go/internal/httpengine"
	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/internal/mockservice"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "PUBNUB_"

// Config represents the complete command-line configuration
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Retry   RetryConfig   `yaml:"retry"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Mock    MockConfig    `yaml:"mock"`
}

// ClientConfig contains service and request settings
type ClientConfig struct {
	Origin           string        `yaml:"origin"`
	PublishKey       string        `yaml:"publish_key"`
	SubscribeKey     string        `yaml:"subscribe_key"`
	UUID             string        `yaml:"uuid"`
	AuthKey          string        `yaml:"auth_key"`
	Timeout          time.Duration `yaml:"timeout"`
	SubscribeTimeout time.Duration `yaml:"subscribe_timeout"`
	PublishPost      bool          `yaml:"publish_post"`
}

// RetryConfig contains the long-poll retry policy. When disabled failed
// polls are retried immediately.
type RetryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	Multiplier      float64       `yaml:"multiplier"`
}

// EngineConfig contains transfer engine settings
type EngineConfig struct {
	MaxTransfers int    `yaml:"max_transfers"`
	UserAgent    string `yaml:"user_agent"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	IncludeCaller bool   `yaml:"include_caller"`
}

// MetricsConfig contains metrics settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MockConfig contains mock service settings
type MockConfig struct {
	Addr            string        `yaml:"addr"`
	PublishKey      string        `yaml:"publish_key"`
	SubscribeKey    string        `yaml:"subscribe_key"`
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	PresenceTimeout time.Duration `yaml:"presence_timeout"`
	Retention       int           `yaml:"retention"`
	AuthSecret      string        `yaml:"auth_secret"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Origin:           pubnub.DefaultOrigin,
			PublishKey:       "demo",
			SubscribeKey:     "demo",
			Timeout:          pubnub.DefaultTimeout,
			SubscribeTimeout: pubnub.DefaultSubscribeTimeout,
		},
		Retry: RetryConfig{
			Enabled:         true,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
			Multiplier:      2,
		},
		Engine: EngineConfig{
			MaxTransfers: httpengine.DefaultMaxTransfers,
			UserAgent:    httpengine.DefaultUserAgent,
		},
		Logging: LoggingConfig{
			Level:  string(logging.LevelWarn),
			Format: string(logging.FormatConsole),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9102",
		},
		Mock: MockConfig{
			Addr:            mockservice.DefaultAddr,
			PollTimeout:     mockservice.DefaultPollTimeout,
			PresenceTimeout: mockservice.DefaultPresenceTimeout,
			Retention:       mockservice.DefaultRetention,
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file over the defaults
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// Load loads configuration from the optional file and the environment
func Load(configFile string) (*Config, error) {
	config := DefaultConfig()
	if configFile != "" {
		loaded, err := LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) error {
	strs := map[string]*string{
		"ORIGIN":             &config.Client.Origin,
		"PUBLISH_KEY":        &config.Client.PublishKey,
		"SUBSCRIBE_KEY":      &config.Client.SubscribeKey,
		"UUID":               &config.Client.UUID,
		"AUTH_KEY":           &config.Client.AuthKey,
		"LOG_LEVEL":          &config.Logging.Level,
		"LOG_FORMAT":         &config.Logging.Format,
		"METRICS_ADDR":       &config.Metrics.Addr,
		"MOCK_ADDR":          &config.Mock.Addr,
		"MOCK_PUBLISH_KEY":   &config.Mock.PublishKey,
		"MOCK_SUBSCRIBE_KEY": &config.Mock.SubscribeKey,
		"MOCK_AUTH_SECRET":   &config.Mock.AuthSecret,
	}
	for name, field := range strs {
		if value := os.Getenv(EnvPrefix + name); value != "" {
			*field = value
		}
	}

	durations := map[string]*time.Duration{
		"TIMEOUT":           &config.Client.Timeout,
		"SUBSCRIBE_TIMEOUT": &config.Client.SubscribeTimeout,
		"MOCK_POLL_TIMEOUT": &config.Mock.PollTimeout,
	}
	var errs []error
	for name, field := range durations {
		value := os.Getenv(EnvPrefix + name)
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*field = d
	}

	bools := map[string]*bool{
		"PUBLISH_POST":    &config.Client.PublishPost,
		"RETRY_ENABLED":   &config.Retry.Enabled,
		"METRICS_ENABLED": &config.Metrics.Enabled,
	}
	for name, field := range bools {
		value := os.Getenv(EnvPrefix + name)
		if value == "" {
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			continue
		}
		*field = b
	}

	return errors.Join(errs...)
}

// ClientConfig converts the file configuration to a pubnub.Config.
// The result is validated by pubnub.New.
func (c *Config) ClientConfig() pubnub.Config {
	return pubnub.Config{
		Origin:           c.Client.Origin,
		PublishKey:       c.Client.PublishKey,
		SubscribeKey:     c.Client.SubscribeKey,
		UUID:             c.Client.UUID,
		AuthKey:          c.Client.AuthKey,
		Timeout:          c.Client.Timeout,
		SubscribeTimeout: c.Client.SubscribeTimeout,
		PublishPost:      c.Client.PublishPost,
		RetryBackOff:     c.Retry.BackOff(),
	}
}

// EngineConfig converts the file configuration to an httpengine.Config
func (c *Config) EngineConfig() httpengine.Config {
	return httpengine.Config{
		MaxTransfers: c.Engine.MaxTransfers,
		UserAgent:    c.Engine.UserAgent,
	}
}

// LoggingConfig converts the file configuration to a logging.Config
func (c *Config) LoggingConfig() logging.Config {
	config := logging.DefaultConfig()
	config.Level = logging.LogLevel(c.Logging.Level)
	config.Format = logging.LogFormat(c.Logging.Format)
	config.IncludeCaller = c.Logging.IncludeCaller
	return config
}

// MockConfig converts the file configuration to a mockservice.Config
func (c *Config) MockConfig() mockservice.Config {
	return mockservice.Config{
		Addr:            c.Mock.Addr,
		PublishKey:      c.Mock.PublishKey,
		SubscribeKey:    c.Mock.SubscribeKey,
		PollTimeout:     c.Mock.PollTimeout,
		PresenceTimeout: c.Mock.PresenceTimeout,
		Retention:       c.Mock.Retention,
		AuthSecret:      c.Mock.AuthSecret,
	}
}

// BackOff builds the retry policy. A zero MaxElapsedTime retries forever.
func (r RetryConfig) BackOff() backoff.BackOff {
	if !r.Enabled {
		return &backoff.ZeroBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	if r.Multiplier > 0 {
		b.Multiplier = r.Multiplier
	}
	b.MaxElapsedTime = r.MaxElapsedTime
	b.Reset()
	return b
}
