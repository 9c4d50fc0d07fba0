package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pubnub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, pubnub.DefaultOrigin, cfg.Client.Origin)
	assert.Equal(t, "demo", cfg.Client.PublishKey)
	assert.Equal(t, pubnub.DefaultSubscribeTimeout, cfg.Client.SubscribeTimeout)
	assert.True(t, cfg.Retry.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `client:
  origin: "http://localhost:8090"
  publish_key: "pub-c-1"
  timeout: 3s
retry:
  enabled: false
logging:
  level: "debug"
mock:
  poll_timeout: 5s
`)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8090", cfg.Client.Origin)
	assert.Equal(t, "pub-c-1", cfg.Client.PublishKey)
	assert.Equal(t, 3*time.Second, cfg.Client.Timeout)
	assert.False(t, cfg.Retry.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.Mock.PollTimeout)

	// Unspecified fields keep their defaults
	assert.Equal(t, "demo", cfg.Client.SubscribeKey)
	assert.Equal(t, pubnub.DefaultSubscribeTimeout, cfg.Client.SubscribeTimeout)

	t.Run("missing_file_uses_defaults", func(t *testing.T) {
		cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("invalid_yaml", func(t *testing.T) {
		_, err := LoadConfigFromFile(writeConfig(t, "client: [unclosed"))
		assert.Error(t, err)
	})
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, `client:
  origin: "http://from-file:1"
  subscribe_key: "file-key"
`)

	t.Setenv("PUBNUB_ORIGIN", "http://from-env:2")
	t.Setenv("PUBNUB_SUBSCRIBE_TIMEOUT", "45s")
	t.Setenv("PUBNUB_PUBLISH_POST", "true")
	t.Setenv("PUBNUB_MOCK_ADDR", ":7000")
	t.Setenv("PUBNUB_AUTH_KEY", "token")
	t.Setenv("PUBNUB_MOCK_AUTH_SECRET", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://from-env:2", cfg.Client.Origin)
	assert.Equal(t, "file-key", cfg.Client.SubscribeKey)
	assert.Equal(t, 45*time.Second, cfg.Client.SubscribeTimeout)
	assert.True(t, cfg.Client.PublishPost)
	assert.Equal(t, ":7000", cfg.Mock.Addr)
	assert.Equal(t, "token", cfg.ClientConfig().AuthKey)
	assert.Equal(t, "secret", cfg.MockConfig().AuthSecret)

	t.Run("invalid_values", func(t *testing.T) {
		t.Setenv("PUBNUB_TIMEOUT", "soon")
		t.Setenv("PUBNUB_RETRY_ENABLED", "maybe")

		_, err := Load("")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PUBNUB_TIMEOUT")
		assert.Contains(t, err.Error(), "PUBNUB_RETRY_ENABLED")
	})
}

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.UUID = "fixed"
	cfg.Logging.Level = "debug"
	cfg.Mock.SubscribeKey = "sub"

	client := cfg.ClientConfig()
	assert.Equal(t, "fixed", client.UUID)
	assert.Equal(t, cfg.Client.Origin, client.Origin)
	assert.NoError(t, client.Validate())

	assert.Equal(t, cfg.Engine.MaxTransfers, cfg.EngineConfig().MaxTransfers)
	assert.Equal(t, logging.LevelDebug, cfg.LoggingConfig().Level)
	assert.Equal(t, "sub", cfg.MockConfig().SubscribeKey)
}

func TestRetryConfig_BackOff(t *testing.T) {
	t.Run("disabled_retries_immediately", func(t *testing.T) {
		b := RetryConfig{Enabled: false}.BackOff()
		assert.Equal(t, time.Duration(0), b.NextBackOff())
	})

	t.Run("exponential", func(t *testing.T) {
		b := RetryConfig{
			Enabled:         true,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			Multiplier:      2,
		}.BackOff()
		exp, ok := b.(*backoff.ExponentialBackOff)
		require.True(t, ok)
		assert.Equal(t, 100*time.Millisecond, exp.InitialInterval)
		assert.Zero(t, exp.MaxElapsedTime, "zero elapsed limit retries forever")

		first := b.NextBackOff()
		assert.Greater(t, first, time.Duration(0))
		assert.LessOrEqual(t, first, 150*time.Millisecond)
	})

	t.Run("gives_up_after_max_elapsed", func(t *testing.T) {
		b := RetryConfig{Enabled: true, MaxElapsedTime: time.Nanosecond}.BackOff()
		time.Sleep(time.Millisecond)
		assert.Equal(t, backoff.Stop, b.NextBackOff())
	})
}
