package pubnub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// decode unmarshals body into v, keeping numbers as json.Number so 17-digit
// timetokens survive.
func decode(body []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

// timetoken reads a token sent either as a JSON string or a JSON number.
func timetoken(raw json.RawMessage) (string, error) {
	var value any
	if err := decode(raw, &value); err != nil {
		return "", err
	}
	switch token := value.(type) {
	case string:
		if token == "" {
			return "", errors.New("empty timetoken")
		}
		return token, nil
	case json.Number:
		return token.String(), nil
	default:
		return "", fmt.Errorf("timetoken has type %T", value)
	}
}

// parsePublish reads [1,"Sent","tt"]. A first element other than 1 is a
// refusal by the service.
func parsePublish(body []byte) (PublishResult, error) {
	var reply []json.RawMessage
	if err := decode(body, &reply); err != nil {
		return PublishResult{}, err
	}
	if len(reply) < 2 {
		return PublishResult{}, fmt.Errorf("publish reply has %d elements", len(reply))
	}

	var status json.Number
	if err := decode(reply[0], &status); err != nil {
		return PublishResult{}, fmt.Errorf("publish status: %w", err)
	}
	var result PublishResult
	if err := decode(reply[1], &result.Description); err != nil {
		return PublishResult{}, fmt.Errorf("publish description: %w", err)
	}
	if status.String() != "1" {
		return result, fmt.Errorf("%w: %s", ErrPublishRejected, result.Description)
	}
	if len(reply) > 2 {
		token, err := timetoken(reply[2])
		if err != nil {
			return PublishResult{}, fmt.Errorf("publish timetoken: %w", err)
		}
		result.Timetoken = token
	}
	return result, nil
}

// subscribeReply is a decoded long-poll response.
type subscribeReply struct {
	messages []json.RawMessage
	token    string
	// channels holds one channel per message when the service sent them.
	channels []string
}

// parseSubscribe reads [[msgs...],"tt"] or [[msgs...],"tt","ch1,ch2"].
func parseSubscribe(body []byte) (subscribeReply, error) {
	var reply []json.RawMessage
	if err := decode(body, &reply); err != nil {
		return subscribeReply{}, err
	}
	if len(reply) < 2 {
		return subscribeReply{}, fmt.Errorf("subscribe reply has %d elements", len(reply))
	}

	var parsed subscribeReply
	if err := decode(reply[0], &parsed.messages); err != nil {
		return subscribeReply{}, fmt.Errorf("subscribe messages: %w", err)
	}
	token, err := timetoken(reply[1])
	if err != nil {
		return subscribeReply{}, fmt.Errorf("subscribe timetoken: %w", err)
	}
	parsed.token = token

	if len(reply) > 2 {
		var channels string
		if err := decode(reply[2], &channels); err != nil {
			return subscribeReply{}, fmt.Errorf("subscribe channels: %w", err)
		}
		if channels != "" {
			parsed.channels = strings.Split(channels, ",")
		}
	}
	return parsed, nil
}

// parseHistory reads [msg, msg, ...].
func parseHistory(body []byte) ([]json.RawMessage, error) {
	var messages []json.RawMessage
	if err := decode(body, &messages); err != nil {
		return nil, err
	}
	if messages == nil {
		return nil, errors.New("history reply is not an array")
	}
	return messages, nil
}

// parseHereNow reads {"uuids":[...],"occupancy":n}.
func parseHereNow(body []byte) (HereNowResult, error) {
	var reply struct {
		UUIDs     []string `json:"uuids"`
		Occupancy *int     `json:"occupancy"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return HereNowResult{}, err
	}
	if reply.Occupancy == nil {
		return HereNowResult{}, errors.New("here-now reply has no occupancy")
	}
	return HereNowResult{UUIDs: reply.UUIDs, Occupancy: *reply.Occupancy}, nil
}

// parseTime reads [tt].
func parseTime(body []byte) (string, error) {
	var reply []json.RawMessage
	if err := decode(body, &reply); err != nil {
		return "", err
	}
	if len(reply) != 1 {
		return "", fmt.Errorf("time reply has %d elements", len(reply))
	}
	return timetoken(reply[0])
}

// parseLeave accepts any JSON object.
func parseLeave(body []byte) error {
	var reply map[string]any
	if err := decode(body, &reply); err != nil {
		return err
	}
	if reply == nil {
		return errors.New("leave reply is not an object")
	}
	return nil
}
