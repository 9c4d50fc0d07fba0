package pubnub

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/eventbridge"
)

const (
	// DefaultOrigin is the public service endpoint.
	DefaultOrigin = "http://pubsub.pubnub.com"

	// DefaultTimeout bounds publish, history, here-now, leave and time requests.
	DefaultTimeout = 10 * time.Second

	// DefaultSubscribeTimeout bounds one long-poll. The service holds a
	// subscribe request open for up to 300 seconds.
	DefaultSubscribeTimeout = 310 * time.Second

	// DefaultHistoryLimit is used when History is called with limit <= 0.
	DefaultHistoryLimit = 100
)

var (
	// ErrEmptyOrigin is returned when the origin is empty
	ErrEmptyOrigin = errors.New("origin cannot be empty")
	// ErrEmptyPublishKey is returned when the publish key is empty
	ErrEmptyPublishKey = errors.New("publish key cannot be empty")
	// ErrEmptySubscribeKey is returned when the subscribe key is empty
	ErrEmptySubscribeKey = errors.New("subscribe key cannot be empty")
)

// Config holds client configuration
type Config struct {
	// Origin is the scheme and host of the service (e.g., "http://pubsub.pubnub.com")
	Origin string

	// PublishKey and SubscribeKey identify the account
	PublishKey   string
	SubscribeKey string

	// UUID identifies this client to presence. Generated when empty.
	UUID string

	// AuthKey is sent as the auth query parameter when set
	AuthKey string

	// Timeout is the default per-request timeout for one-shot operations
	Timeout time.Duration

	// SubscribeTimeout is the default per-request timeout for long-polls
	SubscribeTimeout time.Duration

	// PublishPost sends publish payloads as a POST body instead of a path segment
	PublishPost bool

	// RetryBackOff spaces re-issued long-polls after retryable failures.
	// Defaults to retrying immediately; backoff.Stop ends the loop.
	RetryBackOff backoff.BackOff

	// Logger defaults to the "pubnub" component logger
	Logger *zerolog.Logger

	// Metrics is optional; nil records nothing
	Metrics Recorder
}

// Recorder receives client instrumentation. The bridge counters are part of
// it, so one recorder covers the whole client.
type Recorder interface {
	eventbridge.Recorder
	TransferStarted(kind string)
	TransferCompleted(kind, outcome string, elapsed time.Duration)
	SubscribePoll(n int)
	SubscribeRetry(errorKind string)
}

type nopRecorder struct{}

func (nopRecorder) SocketRegistered() {}
func (nopRecorder) SocketDeregistered() {}
func (nopRecorder) TimerArmed() {}
func (nopRecorder) TransferStarted(string) {}
func (nopRecorder) TransferCompleted(string, string, time.Duration) {}
func (nopRecorder) SubscribePoll(int) {}
func (nopRecorder) SubscribeRetry(string) {}

// NewConfig creates a configuration for the given keys with safe defaults
func NewConfig(publishKey, subscribeKey string) *Config {
	config := &Config{
		PublishKey:   publishKey,
		SubscribeKey: subscribeKey,
	}
	config.SetDefaults()
	return config
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Origin == "" {
		c.Origin = DefaultOrigin
	}
	c.Origin = strings.TrimRight(c.Origin, "/")
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.SubscribeTimeout <= 0 {
		c.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if c.RetryBackOff == nil {
		c.RetryBackOff = &backoff.ZeroBackOff{}
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Origin == "" {
		return ErrEmptyOrigin
	}
	origin, err := url.Parse(c.Origin)
	if err != nil {
		return fmt.Errorf("invalid origin: %w", err)
	}
	if origin.Scheme != "http" && origin.Scheme != "https" {
		return fmt.Errorf("invalid origin %q: scheme must be http or https", c.Origin)
	}
	if origin.Host == "" {
		return fmt.Errorf("invalid origin %q: missing host", c.Origin)
	}
	if c.PublishKey == "" {
		return ErrEmptyPublishKey
	}
	if c.SubscribeKey == "" {
		return ErrEmptySubscribeKey
	}
	return nil
}
