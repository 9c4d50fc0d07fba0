package pubnub

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/channelset"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// Publish sends message, encoded as JSON, to channel. A timeout <= 0 uses
// Config.Timeout. fn receives the acknowledgement; a refusal by the service
// is reported as ErrPublishRejected.
func (c *Client) Publish(channel string, message any, timeout time.Duration, fn PublishFunc) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.publishURL(channel, payload),
		Timeout: c.timeout(timeout, c.config.Timeout),
	}
	if c.config.PublishPost {
		req.Method = http.MethodPost
		req.URL = c.publishURL(channel, nil)
		req.Body = payload
	}

	return c.startOneShot(transfer.KindPublish, req, func(resp transfer.Response, err error) {
		var result PublishResult
		if err == nil {
			result, err = parsePublish(resp.Body)
			if err != nil && !errors.Is(err, ErrPublishRejected) {
				err = transfer.Malformed(transfer.KindPublish, err)
			}
		}
		if fn != nil {
			fn(result, err)
		}
	})
}

// History fetches up to limit of the most recent messages on channel,
// oldest first. limit <= 0 uses DefaultHistoryLimit.
func (c *Client) History(channel string, limit int, timeout time.Duration, fn HistoryFunc) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.historyURL(channel, limit),
		Timeout: c.timeout(timeout, c.config.Timeout),
	}
	return c.startOneShot(transfer.KindHistory, req, func(resp transfer.Response, err error) {
		var messages []json.RawMessage
		if err == nil {
			if messages, err = parseHistory(resp.Body); err != nil {
				err = transfer.Malformed(transfer.KindHistory, err)
			}
		}
		if fn != nil {
			fn(messages, err)
		}
	})
}

// HereNow lists the clients currently subscribed to channel.
func (c *Client) HereNow(channel string, timeout time.Duration, fn HereNowFunc) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.hereNowURL(channel),
		Timeout: c.timeout(timeout, c.config.Timeout),
	}
	return c.startOneShot(transfer.KindHereNow, req, func(resp transfer.Response, err error) {
		var result HereNowResult
		if err == nil {
			if result, err = parseHereNow(resp.Body); err != nil {
				err = transfer.Malformed(transfer.KindHereNow, err)
			}
		}
		if fn != nil {
			fn(result, err)
		}
	})
}

// Time fetches the current service timetoken.
func (c *Client) Time(timeout time.Duration, fn TimeFunc) error {
	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.timeURL(),
		Timeout: c.timeout(timeout, c.config.Timeout),
	}
	return c.startOneShot(transfer.KindTime, req, func(resp transfer.Response, err error) {
		var token string
		if err == nil {
			if token, err = parseTime(resp.Body); err != nil {
				err = transfer.Malformed(transfer.KindTime, err)
			}
		}
		if fn != nil {
			fn(token, err)
		}
	})
}

// Unsubscribe removes channels from the subscribed set and returns how many
// were actually removed. Removing the last channel cancels the long-poll in
// flight. When anything was removed a presence leave is sent for the removed
// names and fn receives its outcome; the returned error is the leave's
// initiation error, the set has been updated regardless.
func (c *Client) Unsubscribe(channels []string, timeout time.Duration, fn LeaveFunc) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if err := validateChannels(channels); err != nil {
		return 0, err
	}

	var removed channelset.Set
	for _, channel := range channels {
		if c.channels.Contains(channel) {
			removed.Add(channel)
		}
	}
	n := c.channels.Subtract(&removed)
	if n == 0 {
		return 0, nil
	}

	c.logger.Debug().
		Strs("channels", removed.Names()).
		Int("remaining", c.channels.Len()).
		Msg("unsubscribe")

	if c.channels.Len() == 0 {
		c.sub.cancel()
	}

	req := transfer.Request{
		Method:  http.MethodGet,
		URL:     c.leaveURL(&removed),
		Timeout: c.timeout(timeout, c.config.Timeout),
	}
	err := c.startOneShot(transfer.KindLeave, req, func(resp transfer.Response, err error) {
		if err == nil {
			if err = parseLeave(resp.Body); err != nil {
				err = transfer.Malformed(transfer.KindLeave, err)
			}
		}
		if fn != nil {
			fn(err)
		}
	})
	return n, err
}
