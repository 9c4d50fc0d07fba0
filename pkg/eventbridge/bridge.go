package eventbridge

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// Recorder receives the bridge's socket and timer instrumentation.
type Recorder interface {
	SocketRegistered()
	SocketDeregistered()
	TimerArmed()
}

type nopRecorder struct{}

func (nopRecorder) SocketRegistered() {}
func (nopRecorder) SocketDeregistered() {}
func (nopRecorder) TimerArmed() {}

// Bridge keeps a host loop's socket registrations in lockstep with what a
// transfer engine asked for, and drives the engine when the host reports
// readiness or timer expiry.
//
// Bridge implements transfer.Notifier (engine side) and transfer.Registry
// (slot side). It is not safe for concurrent use.
type Bridge struct {
	engine transfer.Engine
	host   Host
	logger zerolog.Logger

	// sockets mirrors the host registrations: socket -> last interest sent.
	sockets map[transfer.Socket]transfer.Interest
	// deadline is the single pending timer; zero when disarmed.
	deadline time.Time
	// slots routes engine completions back to their owner.
	slots map[transfer.Handle]*transfer.Slot

	metrics Recorder
	closed  bool
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics sets the recorder the bridge reports to. Nil records nothing.
func WithMetrics(r Recorder) Option {
	return func(b *Bridge) {
		if r != nil {
			b.metrics = r
		}
	}
}

// New creates a bridge between engine and host and binds the engine to it.
func New(engine transfer.Engine, host Host, options ...Option) *Bridge {
	b := &Bridge{
		engine:  engine,
		host:    host,
		logger:  log.With().Str("component", "eventbridge").Logger(),
		sockets: make(map[transfer.Socket]transfer.Interest),
		slots:   make(map[transfer.Handle]*transfer.Slot),
		metrics: nopRecorder{},
	}
	for _, option := range options {
		option(b)
	}

	engine.Bind(b)
	return b
}

// RegisterSocket records interest for s and forwards it to the host.
// An unchanged interest is not re-sent.
func (b *Bridge) RegisterSocket(s transfer.Socket, interest transfer.Interest) {
	if b.closed {
		return
	}

	previous, tracked := b.sockets[s]
	if tracked && previous == interest {
		return
	}
	b.sockets[s] = interest

	b.logger.Debug().
		Int("socket", int(s)).
		Stringer("interest", interest).
		Bool("replace", tracked).
		Msg("register socket")

	if !tracked {
		b.metrics.SocketRegistered()
	}
	b.host.AddSocket(s, interest, b.OnSocketReady)
}

// DeregisterSocket forgets s and tells the host, exactly once per tracked
// socket. Untracked sockets are ignored.
func (b *Bridge) DeregisterSocket(s transfer.Socket) {
	if _, tracked := b.sockets[s]; !tracked {
		return
	}
	delete(b.sockets, s)

	b.logger.Debug().Int("socket", int(s)).Msg("deregister socket")
	b.metrics.SocketDeregistered()
	b.host.RemoveSocket(s)
}

// RequestTimer replaces the pending timer with deadline. A zero deadline
// disarms it.
func (b *Bridge) RequestTimer(deadline time.Time) {
	if b.closed || deadline.Equal(b.deadline) {
		return
	}
	b.deadline = deadline

	if deadline.IsZero() {
		b.logger.Debug().Msg("disarm timer")
		b.host.Timeout(time.Time{}, nil)
		return
	}

	b.logger.Debug().Time("deadline", deadline).Msg("arm timer")
	b.metrics.TimerArmed()
	b.host.Timeout(deadline, b.OnTimer)
}

// Track associates a started handle with its slot.
func (b *Bridge) Track(h transfer.Handle, s *transfer.Slot) {
	b.slots[h] = s
}

// Untrack forgets a handle. Completions the engine still reports for it are
// dropped.
func (b *Bridge) Untrack(h transfer.Handle) {
	delete(b.slots, h)
}

// OnSocketReady is called by the host when s is ready. Every completion the
// engine produces is delivered before it returns.
func (b *Bridge) OnSocketReady(s transfer.Socket, ready transfer.Interest) {
	if b.closed {
		return
	}
	if _, tracked := b.sockets[s]; !tracked {
		// Stale readiness for a socket the engine already released.
		return
	}
	b.dispatch(b.engine.Step(transfer.Event{Socket: s, Ready: ready}))
}

// OnTimer is called by the host when the pending deadline is reached.
func (b *Bridge) OnTimer() {
	if b.closed {
		return
	}
	b.deadline = time.Time{}
	b.dispatch(b.engine.Step(transfer.Event{Timer: true}))
}

func (b *Bridge) dispatch(completions []transfer.Completion) {
	for _, completion := range completions {
		// A callback earlier in this batch may have cancelled this slot.
		slot, ok := b.slots[completion.Handle]
		if !ok {
			continue
		}
		delete(b.slots, completion.Handle)
		slot.Complete(completion.Response, completion.Err)
	}
}

// Sockets returns a copy of the current registrations.
func (b *Bridge) Sockets() map[transfer.Socket]transfer.Interest {
	out := make(map[transfer.Socket]transfer.Interest, len(b.sockets))
	for s, interest := range b.sockets {
		out[s] = interest
	}
	return out
}

// Deadline returns the pending timer deadline, zero when disarmed.
func (b *Bridge) Deadline() time.Time {
	return b.deadline
}

// Pending returns the number of tracked transfers.
func (b *Bridge) Pending() int {
	return len(b.slots)
}

// Wait forwards to the host's Wait.
func (b *Bridge) Wait() {
	if b.closed {
		return
	}
	b.host.Wait()
}

// Close deregisters every socket still tracked and disarms the timer.
// Slots should be cancelled before Close; Close does not cancel them.
func (b *Bridge) Close() {
	if b.closed {
		return
	}
	for s := range b.sockets {
		b.DeregisterSocket(s)
	}
	if !b.deadline.IsZero() {
		b.RequestTimer(time.Time{})
	}
	b.slots = make(map[transfer.Handle]*transfer.Slot)
	b.closed = true
}
