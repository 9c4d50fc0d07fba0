package mockservice

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultRetention is the number of messages kept per channel
	DefaultRetention = 100
)

var (
	// ErrLogClosed is returned by every operation after Close
	ErrLogClosed = errors.New("channel log is closed")
	// ErrNegativeCount is returned when a negative max count or limit is provided
	ErrNegativeCount = errors.New("count cannot be negative")
	// ErrInvalidPayload is returned when a payload is not a JSON value
	ErrInvalidPayload = errors.New("payload is not valid JSON")
)

// Record is a published message with the timetoken assigned by the log.
type Record struct {
	Channel   string
	Timetoken int64
	Payload   json.RawMessage
}

// ChannelLog stores published messages per channel. Timetokens are 100ns
// ticks since the Unix epoch and strictly increase across all channels, so a
// subscriber holding a timetoken can ask for everything after it.
// It is safe for concurrent use.
type ChannelLog struct {
	mu        sync.RWMutex
	byChannel map[string][]Record
	last      int64
	retention int
	changed   chan struct{}
	closed    bool
	now       func() time.Time
}

// NewChannelLog creates a log keeping at most retention messages per channel.
func NewChannelLog(retention int) *ChannelLog {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &ChannelLog{
		byChannel: make(map[string][]Record),
		retention: retention,
		changed:   make(chan struct{}),
		now:       time.Now,
	}
}

// Append stores payload on channel and wakes everything waiting on Changed.
func (log *ChannelLog) Append(ctx context.Context, channel string, payload json.RawMessage) (Record, error) {
	if !json.Valid(payload) {
		return Record{}, ErrInvalidPayload
	}

	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	default:
	}

	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return Record{}, ErrLogClosed
	}

	record := Record{
		Channel:   channel,
		Timetoken: log.tick(),
		Payload:   append(json.RawMessage(nil), payload...),
	}
	records := append(log.byChannel[channel], record)
	if len(records) > log.retention {
		records = records[len(records)-log.retention:]
	}
	log.byChannel[channel] = records

	close(log.changed)
	log.changed = make(chan struct{})
	return record, nil
}

// ReadAfter returns up to maxCount messages on any of channels whose timetoken
// is greater than after, oldest first.
func (log *ChannelLog) ReadAfter(ctx context.Context, channels []string, after int64, maxCount int) ([]Record, error) {
	if maxCount < 0 {
		return nil, ErrNegativeCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return nil, ErrLogClosed
	}

	results := make([]Record, 0)
	seen := make(map[string]struct{}, len(channels))
	for _, channel := range channels {
		if _, dup := seen[channel]; dup {
			continue
		}
		seen[channel] = struct{}{}
		records := log.byChannel[channel]
		start := sort.Search(len(records), func(i int) bool { return records[i].Timetoken > after })
		results = append(results, records[start:]...)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Timetoken < results[j].Timetoken })
	if len(results) > maxCount {
		results = results[:maxCount]
	}
	return results, nil
}

// Latest returns the newest limit messages on channel, oldest first.
func (log *ChannelLog) Latest(ctx context.Context, channel string, limit int) ([]Record, error) {
	if limit < 0 {
		return nil, ErrNegativeCount
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	log.mu.RLock()
	defer log.mu.RUnlock()

	if log.closed {
		return nil, ErrLogClosed
	}

	records := log.byChannel[channel]
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return append([]Record(nil), records...), nil
}

// Timetoken hands out the current timetoken. Every message appended later
// gets a greater one.
func (log *ChannelLog) Timetoken() int64 {
	log.mu.Lock()
	defer log.mu.Unlock()

	if now := log.now().UnixNano() / 100; now > log.last {
		log.last = now
	}
	return log.last
}

// Changed returns a channel that is closed by the next Append or by Close.
// Callers must fetch it before reading so no append is missed.
func (log *ChannelLog) Changed() <-chan struct{} {
	log.mu.RLock()
	defer log.mu.RUnlock()
	return log.changed
}

// Close drops every message and releases all waiters.
func (log *ChannelLog) Close() error {
	log.mu.Lock()
	defer log.mu.Unlock()

	if log.closed {
		return nil
	}
	log.closed = true
	log.byChannel = make(map[string][]Record)
	close(log.changed)
	return nil
}

// tick assigns the next timetoken. Must be called with mu held.
func (log *ChannelLog) tick() int64 {
	next := log.now().UnixNano() / 100
	if next <= log.last {
		next = log.last + 1
	}
	log.last = next
	return next
}
