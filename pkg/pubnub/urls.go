package pubnub

import (
	"strconv"
	"strings"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/channelset"
)

// endpoint joins the origin and the escaped path segments.
func (c *Client) endpoint(segments ...string) string {
	var b strings.Builder
	b.WriteString(c.config.Origin)
	for _, segment := range segments {
		b.WriteByte('/')
		b.WriteString(segment)
	}
	return b.String()
}

// query carries the uuid on presence-bearing requests and the auth key on
// every keyed request.
func (c *Client) query(withUUID bool) string {
	var params []string
	if withUUID {
		params = append(params, "uuid="+channelset.Escape(c.config.UUID))
	}
	if c.config.AuthKey != "" {
		params = append(params, "auth="+channelset.Escape(c.config.AuthKey))
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + strings.Join(params, "&")
}

// publishURL builds /publish/{pub}/{sub}/0/{channel}/0[/{message}]. The
// message segment is omitted in POST mode.
func (c *Client) publishURL(channel string, message []byte) string {
	segments := []string{
		"publish",
		channelset.Escape(c.config.PublishKey),
		channelset.Escape(c.config.SubscribeKey),
		"0",
		channelset.Escape(channel),
		"0",
	}
	if message != nil {
		segments = append(segments, channelset.Escape(string(message)))
	}
	return c.endpoint(segments...) + c.query(false)
}

// subscribeURL builds /subscribe/{sub}/{channels}/0/{token}?uuid={uuid}.
func (c *Client) subscribeURL(channels *channelset.Set, token string) string {
	return c.endpoint(
		"subscribe",
		channelset.Escape(c.config.SubscribeKey),
		channels.Encoded(),
		"0",
		channelset.Escape(token),
	) + c.query(true)
}

// historyURL builds /history/{sub}/{channel}/0/{limit}.
func (c *Client) historyURL(channel string, limit int) string {
	return c.endpoint(
		"history",
		channelset.Escape(c.config.SubscribeKey),
		channelset.Escape(channel),
		"0",
		strconv.Itoa(limit),
	) + c.query(false)
}

// hereNowURL builds /v2/presence/sub-key/{sub}/channel/{channel}.
func (c *Client) hereNowURL(channel string) string {
	return c.endpoint(
		"v2", "presence", "sub-key",
		channelset.Escape(c.config.SubscribeKey),
		"channel",
		channelset.Escape(channel),
	) + c.query(false)
}

// leaveURL builds /v2/presence/sub-key/{sub}/channel/{channels}/leave?uuid={uuid}.
func (c *Client) leaveURL(channels *channelset.Set) string {
	return c.endpoint(
		"v2", "presence", "sub-key",
		channelset.Escape(c.config.SubscribeKey),
		"channel",
		channels.Encoded(),
		"leave",
	) + c.query(true)
}

// timeURL builds /time/0.
func (c *Client) timeURL() string {
	return c.endpoint("time", "0")
}
