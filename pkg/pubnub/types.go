package pubnub

import "encoding/json"

// Message is one message delivered by the subscribe loop.
type Message struct {
	// Channel the message was published to. Empty when the service did not
	// say and more than one channel is subscribed.
	Channel string
	// Payload is the message as published, undecoded.
	Payload json.RawMessage
}

// PublishResult is the service acknowledgement of a publish.
type PublishResult struct {
	Description string
	Timetoken   string
}

// HereNowResult lists the clients present on a channel.
type HereNowResult struct {
	UUIDs     []string `json:"uuids"`
	Occupancy int      `json:"occupancy"`
}

// Callbacks receive the outcome of an operation. They run on the host loop
// and may call back into the client.
type (
	PublishFunc   func(result PublishResult, err error)
	SubscribeFunc func(messages []Message, err error)
	HistoryFunc   func(messages []json.RawMessage, err error)
	HereNowFunc   func(result HereNowResult, err error)
	TimeFunc      func(timetoken string, err error)
	LeaveFunc     func(err error)
)
