package transfer

import (
	"errors"
	"fmt"
	"time"
)

// ErrSlotState is returned when Start is called on a slot that was already
// started, completed or cancelled.
var ErrSlotState = errors.New("slot already started")

// CompletionFunc receives the outcome of a transfer. err is nil or an *Error.
type CompletionFunc func(resp Response, err error)

type slotState int

const (
	slotNew slotState = iota
	slotStarted
	slotDone
	slotCancelled
)

// Slot owns one outstanding transfer: its engine handle, operation kind and
// completion func. A slot is started at most once and finishes exactly once,
// either by Complete or by Cancel.
type Slot struct {
	kind     Kind
	engine   Engine
	registry Registry
	handle   Handle
	done     CompletionFunc
	state    slotState
	started  time.Time
}

// NewSlot allocates an engine handle for a transfer of the given kind.
func NewSlot(engine Engine, registry Registry, kind Kind, done CompletionFunc) (*Slot, error) {
	handle, err := engine.CreateHandle()
	if err != nil {
		return nil, &Error{Kind: EngineRejected, Op: kind, Err: err}
	}
	return &Slot{
		kind:     kind,
		engine:   engine,
		registry: registry,
		handle:   handle,
		done:     done,
	}, nil
}

// Kind returns the operation kind of the slot.
func (s *Slot) Kind() Kind {
	return s.kind
}

// Handle returns the engine handle owned by the slot.
func (s *Slot) Handle() Handle {
	return s.handle
}

// Started returns when the transfer was added to the engine.
func (s *Slot) Started() time.Time {
	return s.started
}

// Live reports whether the transfer is started and not yet finished.
func (s *Slot) Live() bool {
	return s.state == slotStarted
}

// Cancelled reports whether the slot was cancelled.
func (s *Slot) Cancelled() bool {
	return s.state == slotCancelled
}

// Start configures the handle from req and adds it to the engine.
// It returns immediately; the outcome is delivered to the completion func.
func (s *Slot) Start(req Request) error {
	if s.state != slotNew {
		return ErrSlotState
	}

	if err := s.handle.SetURL(req.URL); err != nil {
		s.state = slotDone
		return &Error{Kind: EngineRejected, Op: s.kind, Err: fmt.Errorf("invalid url: %w", err)}
	}
	s.handle.SetMethodBody(req.Method, req.Body)
	s.handle.SetTimeout(req.Timeout)
	s.handle.SetDelay(req.Delay)

	// The handle must be tracked before any Step can report it.
	s.registry.Track(s.handle, s)
	if err := s.engine.Add(s.handle); err != nil {
		s.registry.Untrack(s.handle)
		s.state = slotDone
		return &Error{Kind: EngineRejected, Op: s.kind, Err: err}
	}

	s.state = slotStarted
	s.started = time.Now()
	return nil
}

// Cancel aborts the transfer. Its sockets are deregistered before Cancel
// returns and the completion func is never invoked afterwards. Cancelling a
// slot that is not live is a no-op.
//
// The slot is cancelled even when the engine fails to remove the handle; the
// returned *Error reports that failure.
func (s *Slot) Cancel() error {
	switch s.state {
	case slotNew:
		s.state = slotCancelled
	case slotStarted:
		s.state = slotCancelled
		s.registry.Untrack(s.handle)
		if err := s.engine.Remove(s.handle); err != nil {
			return &Error{Kind: EngineRejected, Op: s.kind, Err: fmt.Errorf("remove: %w", err)}
		}
	}
	return nil
}

// Complete delivers the transfer outcome. It is called by the event bridge,
// at most once; later calls and calls after Cancel are ignored.
func (s *Slot) Complete(resp Response, err error) {
	if s.state != slotStarted {
		return
	}
	s.state = slotDone
	s.registry.Untrack(s.handle)

	switch {
	case err != nil:
		var transferErr *Error
		if !errors.As(err, &transferErr) {
			err = &Error{Kind: TransportFailure, Op: s.kind, Err: err}
		}
	case resp.StatusCode >= 400:
		err = &Error{Kind: HTTPStatus, Op: s.kind, Status: resp.StatusCode}
	}

	if s.done != nil {
		s.done(resp, err)
	}
}
