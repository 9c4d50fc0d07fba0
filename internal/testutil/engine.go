// Package testutil provides spy collaborators for exercising the event bridge
// and client without real sockets: a scripted transfer engine and a host that
// records every callback it receives.
package testutil

import (
	"errors"
	"net/url"
	"sort"
	"time"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// ErrTimedOut is the transport error FakeEngine reports for expired transfers.
var ErrTimedOut = errors.New("operation timed out")

// FakeHandle is the engine-native handle of FakeEngine.
type FakeHandle struct {
	ID      int
	Method  string
	Body    []byte
	Timeout time.Duration
	Delay   time.Duration

	// Socket is assigned when the handle is added to the engine.
	Socket transfer.Socket

	url      string
	interest transfer.Interest
	deadline time.Time
	result   *transfer.Completion
}

// SetURL implements transfer.Handle.
func (h *FakeHandle) SetURL(rawURL string) error {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return err
	}
	h.url = rawURL
	return nil
}

// SetMethodBody implements transfer.Handle.
func (h *FakeHandle) SetMethodBody(method string, body []byte) {
	h.Method = method
	h.Body = body
}

// SetTimeout implements transfer.Handle.
func (h *FakeHandle) SetTimeout(d time.Duration) { h.Timeout = d }

// SetDelay implements transfer.Handle.
func (h *FakeHandle) SetDelay(d time.Duration) { h.Delay = d }

// URL implements transfer.Handle.
func (h *FakeHandle) URL() string { return h.url }

// FakeEngine is a scripted transfer.Engine. Added transfers register a
// socket for writing (connect); the first Step on that socket switches it to
// reading; a Step on a socket whose handle has a queued result completes it.
type FakeEngine struct {
	// CreateErr, AddErr and RemoveErr make the next CreateHandle, Add or
	// Remove fail.
	CreateErr error
	AddErr    error
	RemoveErr error

	// FlushAll makes every Step return all queued results, not only the one
	// for the stepped socket.
	FlushAll bool

	// Now is the engine clock. Defaults to time.Now.
	Now func() time.Time

	Handles []*FakeHandle
	Events  []transfer.Event
	Removed []*FakeHandle
	Closed  bool

	notifier   transfer.Notifier
	active     map[*FakeHandle]bool
	bySocket   map[transfer.Socket]*FakeHandle
	nextSocket transfer.Socket
	armed      time.Time
}

// NewFakeEngine creates an empty scripted engine.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Now:        time.Now,
		active:     make(map[*FakeHandle]bool),
		bySocket:   make(map[transfer.Socket]*FakeHandle),
		nextSocket: 10,
	}
}

// Bind implements transfer.Engine.
func (e *FakeEngine) Bind(n transfer.Notifier) { e.notifier = n }

// CreateHandle implements transfer.Engine.
func (e *FakeEngine) CreateHandle() (transfer.Handle, error) {
	if e.CreateErr != nil {
		return nil, e.CreateErr
	}
	h := &FakeHandle{ID: len(e.Handles) + 1}
	e.Handles = append(e.Handles, h)
	return h, nil
}

// Add implements transfer.Engine.
func (e *FakeEngine) Add(th transfer.Handle) error {
	if e.AddErr != nil {
		return e.AddErr
	}
	h := th.(*FakeHandle)
	if h.url == "" {
		return errors.New("handle has no url")
	}

	h.Socket = e.nextSocket
	e.nextSocket++
	h.interest = transfer.Writable
	if h.Timeout > 0 {
		h.deadline = e.Now().Add(h.Delay + h.Timeout)
	}

	e.active[h] = true
	e.bySocket[h.Socket] = h
	e.notifier.RegisterSocket(h.Socket, h.interest)
	e.rearm()
	return nil
}

// Remove implements transfer.Engine.
func (e *FakeEngine) Remove(th transfer.Handle) error {
	if e.RemoveErr != nil {
		return e.RemoveErr
	}
	h := th.(*FakeHandle)
	if !e.active[h] {
		return nil
	}
	e.Removed = append(e.Removed, h)
	e.detach(h)
	return nil
}

// Step implements transfer.Engine.
func (e *FakeEngine) Step(ev transfer.Event) []transfer.Completion {
	e.Events = append(e.Events, ev)

	var completions []transfer.Completion
	if ev.Timer {
		// The host timer is one-shot; whatever is still pending is re-requested.
		e.armed = time.Time{}
		now := e.Now()
		for _, h := range e.activeHandles() {
			if !h.deadline.IsZero() && !h.deadline.After(now) {
				e.detach(h)
				completions = append(completions, transfer.Completion{Handle: h, Err: ErrTimedOut})
			}
		}
	} else if h, ok := e.bySocket[ev.Socket]; ok {
		if h.interest == transfer.Writable {
			h.interest = transfer.Readable
			e.notifier.RegisterSocket(h.Socket, h.interest)
		}
		if h.result != nil {
			completions = append(completions, e.finish(h))
		}
	}

	if e.FlushAll {
		for _, h := range e.activeHandles() {
			if h.result != nil {
				completions = append(completions, e.finish(h))
			}
		}
	}
	e.rearm()
	return completions
}

// Close implements transfer.Engine.
func (e *FakeEngine) Close() error {
	for _, h := range e.activeHandles() {
		e.detach(h)
	}
	e.Closed = true
	return nil
}

// Respond queues a response for h, delivered on its next Step.
func (e *FakeEngine) Respond(h *FakeHandle, status int, body string) {
	h.result = &transfer.Completion{
		Handle:   h,
		Response: transfer.Response{StatusCode: status, Body: []byte(body)},
	}
}

// Fail queues a transport failure for h, delivered on its next Step.
func (e *FakeEngine) Fail(h *FakeHandle, err error) {
	h.result = &transfer.Completion{Handle: h, Err: err}
}

// Latest returns the most recently created handle, or nil.
func (e *FakeEngine) Latest() *FakeHandle {
	if len(e.Handles) == 0 {
		return nil
	}
	return e.Handles[len(e.Handles)-1]
}

// Active reports whether h is currently added to the engine.
func (e *FakeEngine) Active(h *FakeHandle) bool {
	return e.active[h]
}

// ActiveCount returns the number of transfers in flight.
func (e *FakeEngine) ActiveCount() int {
	return len(e.active)
}

func (e *FakeEngine) finish(h *FakeHandle) transfer.Completion {
	completion := *h.result
	h.result = nil
	e.detach(h)
	return completion
}

func (e *FakeEngine) detach(h *FakeHandle) {
	delete(e.active, h)
	delete(e.bySocket, h.Socket)
	e.notifier.DeregisterSocket(h.Socket)
	e.rearm()
}

// activeHandles returns the active handles in creation order.
func (e *FakeEngine) activeHandles() []*FakeHandle {
	handles := make([]*FakeHandle, 0, len(e.active))
	for h := range e.active {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID < handles[j].ID })
	return handles
}

func (e *FakeEngine) rearm() {
	var earliest time.Time
	for h := range e.active {
		if h.deadline.IsZero() {
			continue
		}
		if earliest.IsZero() || h.deadline.Before(earliest) {
			earliest = h.deadline
		}
	}
	if !earliest.Equal(e.armed) {
		e.armed = earliest
		e.notifier.RequestTimer(earliest)
	}
}

var _ transfer.Engine = (*FakeEngine)(nil)
