package mockservice

import (
	"sort"
	"sync"
	"time"
)

// DefaultPresenceTimeout is how long a subscriber stays present without polling.
const DefaultPresenceTimeout = 60 * time.Second

// Presence tracks which subscriber UUIDs are on which channel. A subscriber
// is present from its first subscribe poll until it leaves or stops polling
// for longer than the timeout.
// It is safe for concurrent use.
type Presence struct {
	mu        sync.Mutex
	byChannel map[string]map[string]time.Time // channel -> uuid -> last seen
	timeout   time.Duration
	now       func() time.Time
}

// NewPresence creates an empty registry.
func NewPresence(timeout time.Duration) *Presence {
	if timeout <= 0 {
		timeout = DefaultPresenceTimeout
	}
	return &Presence{
		byChannel: make(map[string]map[string]time.Time),
		timeout:   timeout,
		now:       time.Now,
	}
}

// Touch marks uuid as present on channels. An empty uuid is ignored.
func (p *Presence) Touch(uuid string, channels ...string) {
	if uuid == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for _, channel := range channels {
		members, ok := p.byChannel[channel]
		if !ok {
			members = make(map[string]time.Time)
			p.byChannel[channel] = members
		}
		members[uuid] = now
	}
}

// Leave removes uuid from channels and returns how many it was present on.
func (p *Presence) Leave(uuid string, channels ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	left := 0
	for _, channel := range channels {
		members := p.byChannel[channel]
		if _, ok := members[uuid]; !ok {
			continue
		}
		delete(members, uuid)
		left++
		if len(members) == 0 {
			delete(p.byChannel, channel)
		}
	}
	return left
}

// Here returns the sorted UUIDs present on channel, expiring stale ones.
func (p *Presence) Here(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	members := p.byChannel[channel]
	cutoff := p.now().Add(-p.timeout)
	uuids := make([]string, 0, len(members))
	for uuid, seen := range members {
		if seen.Before(cutoff) {
			delete(members, uuid)
			continue
		}
		uuids = append(uuids, uuid)
	}
	if len(members) == 0 {
		delete(p.byChannel, channel)
	}
	sort.Strings(uuids)
	return uuids
}
