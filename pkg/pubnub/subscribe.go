package pubnub

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/channelset"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// initialToken asks the service for a fresh continuation token.
const initialToken = "0"

type subscribeState int

const (
	stateIdle subscribeState = iota
	stateRequesting
	stateAwaiting
	stateDelivering
	stateCancelled
)

func (s subscribeState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRequesting:
		return "requesting"
	case stateAwaiting:
		return "awaiting"
	case stateDelivering:
		return "delivering"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// subscribeLoop keeps exactly one long-poll in flight while the client has
// channels, re-issuing it with the token from each response.
type subscribeLoop struct {
	client *Client
	logger zerolog.Logger

	state subscribeState
	token string
	// polled is the channel set of the most recent request.
	polled channelset.Set
	slot   *transfer.Slot

	fn      SubscribeFunc
	timeout time.Duration
	backOff backoff.BackOff
}

func newSubscribeLoop(c *Client) *subscribeLoop {
	return &subscribeLoop{
		client:  c,
		logger:  c.logger.With().Str("loop", "subscribe").Logger(),
		token:   initialToken,
		backOff: c.config.RetryBackOff,
	}
}

// Subscribe adds channel to the subscribed set and starts the long-poll loop
// if it is not running. See SubscribeMulti.
func (c *Client) Subscribe(channel string, timeout time.Duration, fn SubscribeFunc) error {
	return c.SubscribeMulti([]string{channel}, timeout, fn)
}

// SubscribeMulti adds channels to the subscribed set and starts the long-poll
// loop if it is not running. While a poll is in flight the new names are
// picked up by the next poll. fn replaces any previous subscribe callback and
// receives every non-empty batch of messages until the loop is cancelled or
// stops on a non-retryable error. A timeout <= 0 uses Config.SubscribeTimeout.
func (c *Client) SubscribeMulti(channels []string, timeout time.Duration, fn SubscribeFunc) error {
	if c.closed {
		return ErrClosed
	}
	if err := validateChannels(channels); err != nil {
		return err
	}

	added := c.channels.Add(channels...)
	c.logger.Debug().
		Strs("channels", channels).
		Int("added", added).
		Stringer("state", c.sub.state).
		Msg("subscribe")

	return c.sub.subscribe(c.timeout(timeout, c.config.SubscribeTimeout), fn)
}

func (l *subscribeLoop) subscribe(timeout time.Duration, fn SubscribeFunc) error {
	l.fn = fn
	l.timeout = timeout

	switch l.state {
	case stateIdle, stateCancelled:
	default:
		// The running loop picks up the new names on its next poll.
		return nil
	}

	if !l.polled.Equal(&l.client.channels) {
		l.token = initialToken
	}
	l.backOff.Reset()
	if err := l.issue(0); err != nil {
		return err
	}
	l.client.bridge.Wait()
	return nil
}

// issue starts the next poll. On error nothing is in flight and the loop is
// idle.
func (l *subscribeLoop) issue(delay time.Duration) error {
	c := l.client
	l.state = stateRequesting

	var slot *transfer.Slot
	slot, err := transfer.NewSlot(c.engine, c.bridge, transfer.KindSubscribe, func(resp transfer.Response, err error) {
		l.complete(slot, resp, err)
	})
	if err != nil {
		l.state = stateIdle
		return err
	}

	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.subscribeURL(&c.channels, l.token),
		Timeout: l.timeout,
		Delay:   delay,
	}
	if err := slot.Start(req); err != nil {
		l.state = stateIdle
		return err
	}

	l.slot = slot
	l.polled.Reset()
	l.polled.Union(&c.channels)
	l.state = stateAwaiting
	c.metrics.TransferStarted(transfer.KindSubscribe.String())

	l.logger.Debug().
		Str("token", l.token).
		Dur("delay", delay).
		Str("channels", c.channels.String()).
		Msg("poll started")
	return nil
}

func (l *subscribeLoop) complete(slot *transfer.Slot, resp transfer.Response, err error) {
	if slot != l.slot {
		return
	}
	l.slot = nil
	l.client.observe(slot, err)

	if err != nil {
		l.fail(err)
		return
	}

	reply, err := parseSubscribe(resp.Body)
	if err != nil {
		l.stop(transfer.Malformed(transfer.KindSubscribe, err))
		return
	}

	l.backOff.Reset()
	l.token = reply.token
	l.client.metrics.SubscribePoll(len(reply.messages))

	l.state = stateDelivering
	if len(reply.messages) > 0 && l.fn != nil {
		l.fn(l.messages(reply), nil)
	}
	if l.state != stateDelivering {
		// The callback cancelled the loop, restarted it or closed the client.
		return
	}
	l.next(0)
}

// next re-issues the poll unless there is nothing left to poll for.
func (l *subscribeLoop) next(delay time.Duration) {
	if l.client.channels.Len() == 0 {
		l.state = stateIdle
		return
	}
	if err := l.issue(delay); err != nil {
		l.deliverError(err)
	}
}

// fail re-issues the poll after a retryable error, or stops the loop.
func (l *subscribeLoop) fail(err error) {
	if !transfer.Retryable(err) {
		l.stop(err)
		return
	}
	delay := l.backOff.NextBackOff()
	if delay == backoff.Stop {
		l.stop(err)
		return
	}

	var transferErr *transfer.Error
	kind := "unknown"
	if errors.As(err, &transferErr) {
		kind = transferErr.Kind.String()
	}
	l.client.metrics.SubscribeRetry(kind)
	l.logger.Warn().Err(err).Dur("delay", delay).Str("token", l.token).Msg("poll failed, retrying")

	l.next(delay)
}

// stop ends the loop on a terminal error and reports it once.
func (l *subscribeLoop) stop(err error) {
	l.logger.Warn().Err(err).Msg("subscribe loop stopped")
	l.deliverError(err)
}

func (l *subscribeLoop) deliverError(err error) {
	l.state = stateIdle
	if l.fn != nil {
		l.fn(nil, err)
	}
}

// cancel aborts the poll in flight. No callback fires for it.
func (l *subscribeLoop) cancel() {
	if l.slot != nil {
		if err := l.slot.Cancel(); err != nil {
			l.logger.Warn().Err(err).Msg("failed to cancel poll")
		}
		l.slot = nil
	}
	if l.state != stateIdle {
		l.state = stateCancelled
	}
}

// messages pairs payloads with their channels.
func (l *subscribeLoop) messages(reply subscribeReply) []Message {
	var fallback string
	if l.polled.Len() == 1 {
		fallback = l.polled.Names()[0]
	}

	messages := make([]Message, len(reply.messages))
	for i, payload := range reply.messages {
		messages[i] = Message{Channel: fallback, Payload: payload}
		if len(reply.channels) == len(reply.messages) {
			messages[i].Channel = reply.channels[i]
		}
	}
	return messages
}
