package pubnub

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/channelset"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/eventbridge"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

var (
	// ErrClosed is returned by operations on a closed client
	ErrClosed = errors.New("client is closed")
	// ErrOccupied is returned when an operation of the same kind is in flight
	ErrOccupied = errors.New("operation already in progress")
	// ErrEmptyChannel is returned when a channel name is empty
	ErrEmptyChannel = errors.New("channel name cannot be empty")
	// ErrNoChannels is returned when an operation is given no channels
	ErrNoChannels = errors.New("no channels given")
	// ErrPublishRejected is delivered when the service refuses a publish
	ErrPublishRejected = errors.New("publish rejected")
)

// Client is the per-connection context: configuration, the subscribed
// channel set, the event bridge, the subscribe loop and at most one
// outstanding request of each one-shot kind.
//
// A Client is not safe for concurrent use. All methods, and every callback,
// run on the goroutine that drives the host loop.
type Client struct {
	config  Config
	engine  transfer.Engine
	bridge  *eventbridge.Bridge
	logger  zerolog.Logger
	metrics Recorder

	channels channelset.Set
	slots    map[transfer.Kind]*transfer.Slot
	sub      *subscribeLoop
	closed   bool
}

// New creates a client that runs its requests on engine and reports socket
// interest to host. The engine is bound to the client's event bridge and is
// closed by Close.
func New(config Config, engine transfer.Engine, host eventbridge.Host) (*Client, error) {
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if engine == nil {
		return nil, errors.New("engine is required")
	}
	if host == nil {
		return nil, errors.New("host is required")
	}

	logger := log.With().Str("component", "pubnub").Logger()
	if config.Logger != nil {
		logger = *config.Logger
	}

	c := &Client{
		config:  config,
		engine:  engine,
		logger:  logger,
		metrics: nopRecorder{},
		slots:   make(map[transfer.Kind]*transfer.Slot),
	}
	var options []eventbridge.Option
	if config.Metrics != nil {
		c.metrics = config.Metrics
		options = append(options, eventbridge.WithMetrics(config.Metrics))
	}
	if config.Logger != nil {
		options = append(options, eventbridge.WithLogger(logger))
	}
	c.bridge = eventbridge.New(engine, host, options...)
	c.sub = newSubscribeLoop(c)

	c.logger.Debug().
		Str("origin", config.Origin).
		Str("uuid", config.UUID).
		Msg("client created")
	return c, nil
}

// UUID returns the client identifier sent to presence.
func (c *Client) UUID() string {
	return c.config.UUID
}

// Channels returns the currently subscribed channel names in subscription order.
func (c *Client) Channels() []string {
	return c.channels.Names()
}

// Pending returns the number of requests in flight, long-poll included.
func (c *Client) Pending() int {
	return c.bridge.Pending()
}

// CancelConnection aborts every outstanding request, including the long-poll.
// No callback fires for the aborted requests. The channel set is kept, so a
// later Subscribe resumes from the last continuation token.
func (c *Client) CancelConnection() {
	if c.closed {
		return
	}
	c.logger.Debug().Int("pending", c.bridge.Pending()).Msg("cancel connection")
	c.cancelAll()
}

// Close cancels every outstanding request, releases the host registrations
// and closes the engine. It is safe to call more than once.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.cancelAll()
	c.closed = true
	c.bridge.Close()
	c.channels.Reset()

	if err := c.engine.Close(); err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	c.logger.Debug().Msg("client closed")
	return nil
}

func (c *Client) cancelAll() {
	c.sub.cancel()
	for _, kind := range transfer.Kinds {
		if slot, ok := c.slots[kind]; ok {
			if err := slot.Cancel(); err != nil {
				c.logger.Warn().Err(err).Stringer("kind", kind).Msg("failed to cancel transfer")
			}
			delete(c.slots, kind)
		}
	}
}

// timeout resolves a per-call timeout; <= 0 selects the configured default.
func (c *Client) timeout(timeout, fallback time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	return fallback
}

// startOneShot runs req as the single outstanding request of kind. Errors
// returned here mean nothing was started and done will not be called.
func (c *Client) startOneShot(kind transfer.Kind, req transfer.Request, done transfer.CompletionFunc) error {
	if c.closed {
		return ErrClosed
	}
	if slot, ok := c.slots[kind]; ok && slot.Live() {
		return fmt.Errorf("%s: %w", kind, ErrOccupied)
	}

	var slot *transfer.Slot
	slot, err := transfer.NewSlot(c.engine, c.bridge, kind, func(resp transfer.Response, err error) {
		if c.slots[kind] == slot {
			delete(c.slots, kind)
		}
		c.observe(slot, err)
		done(resp, err)
	})
	if err != nil {
		return err
	}
	if err := slot.Start(req); err != nil {
		return err
	}

	c.slots[kind] = slot
	c.metrics.TransferStarted(kind.String())
	c.logger.Debug().Stringer("kind", kind).Str("url", req.URL).Msg("request started")

	c.bridge.Wait()
	return nil
}

// observe records a finished transfer.
func (c *Client) observe(slot *transfer.Slot, err error) {
	outcome := "ok"
	var transferErr *transfer.Error
	if errors.As(err, &transferErr) {
		outcome = transferErr.Kind.String()
	}
	c.metrics.TransferCompleted(slot.Kind().String(), outcome, time.Since(slot.Started()))

	if err != nil {
		c.logger.Debug().Err(err).Stringer("kind", slot.Kind()).Msg("request failed")
	}
}

// validateChannels rejects empty lists and empty names.
func validateChannels(channels []string) error {
	if len(channels) == 0 {
		return ErrNoChannels
	}
	for _, channel := range channels {
		if channel == "" {
			return ErrEmptyChannel
		}
	}
	return nil
}
