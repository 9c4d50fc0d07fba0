//go:build unix

// Package pollloop is an eventbridge.Host built on poll(2). It runs on the
// caller's goroutine: Run drives it until the context is done, RunOnce does a
// single iteration, and in synchronous mode Wait drives it until there is
// nothing left to wait for.
package pollloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/eventbridge"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// ErrClosed is returned by RunOnce and Run after Close.
var ErrClosed = errors.New("loop is closed")

type registration struct {
	interest transfer.Interest
	resume   eventbridge.SocketFunc
}

// Loop dispatches socket readiness and timer expiry to the callbacks
// registered through the eventbridge.Host methods. Only Interrupt may be
// called from another goroutine.
type Loop struct {
	logger zerolog.Logger
	now    func() time.Time
	sync   bool

	sockets  map[transfer.Socket]registration
	deadline time.Time
	timer    eventbridge.TimerFunc

	wakeR, wakeW *os.File
	wakeFd       int32
	wakeWFd      int
	interrupted  atomic.Bool
	running      bool
	waiting      bool
	closed       bool
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithSync makes Wait run the loop until it is idle or interrupted. Without
// it Wait returns immediately and the loop is driven by Run or RunOnce.
func WithSync() Option {
	return func(l *Loop) {
		l.sync = true
	}
}

// WithClock sets the clock used for timer deadlines.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// New creates a loop with its wake-up pipe.
func New(options ...Option) (*Loop, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}
	fd, err := descriptor(r)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	wfd, err := descriptor(w)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}

	l := &Loop{
		logger:  logging.Component("pollloop"),
		now:     time.Now,
		sockets: make(map[transfer.Socket]registration),
		wakeR:   r,
		wakeW:   w,
		wakeFd:  fd,
		wakeWFd: int(wfd),
	}
	for _, option := range options {
		option(l)
	}
	return l, nil
}

// AddSocket implements eventbridge.Host. Registering a socket again replaces
// its interest and callback.
func (l *Loop) AddSocket(s transfer.Socket, interest transfer.Interest, resume eventbridge.SocketFunc) {
	l.sockets[s] = registration{interest: interest, resume: resume}
}

// RemoveSocket implements eventbridge.Host.
func (l *Loop) RemoveSocket(s transfer.Socket) {
	delete(l.sockets, s)
}

// Timeout implements eventbridge.Host. A zero deadline disarms the timer.
func (l *Loop) Timeout(deadline time.Time, resume eventbridge.TimerFunc) {
	if deadline.IsZero() {
		l.deadline = time.Time{}
		l.timer = nil
		return
	}
	l.deadline = deadline
	l.timer = resume
}

// Wait implements eventbridge.Host. In synchronous mode it runs the loop
// until no socket or timer is registered or Interrupt is called; nested
// calls from callbacks return immediately. An Interrupt seen inside a Wait
// nested in Run also ends that Run.
func (l *Loop) Wait() {
	if !l.sync || l.waiting || l.closed {
		return
	}
	l.waiting = true
	defer func() { l.waiting = false }()
	if !l.running {
		l.resetInterrupt()
	}

	for !l.Idle() {
		if err := l.RunOnce(-1); err != nil {
			l.logger.Error().Err(err).Msg("wait aborted")
			return
		}
		if l.interrupted.Swap(false) {
			if l.running {
				l.interrupted.Store(true)
			}
			return
		}
	}
}

// Idle reports whether nothing is registered.
func (l *Loop) Idle() bool {
	return len(l.sockets) == 0 && l.timer == nil
}

// Len returns the number of registered sockets.
func (l *Loop) Len() int {
	return len(l.sockets)
}

// Interrupt wakes the loop and makes the current Run or Wait return. It is
// safe to call from any goroutine until Close. An Interrupt that arrives
// while nothing is running is discarded by the next Run or Wait.
func (l *Loop) Interrupt() {
	l.interrupted.Store(true)
	l.wake()
}

// wake unblocks poll without interrupting.
func (l *Loop) wake() {
	// EAGAIN means the pipe is full, which already guarantees a wake-up.
	_, _ = unix.Write(l.wakeWFd, []byte{0})
}

// resetInterrupt drops interrupts and wake-ups left over from earlier runs.
func (l *Loop) resetInterrupt() {
	l.interrupted.Store(false)
	if !l.closed {
		l.drainWake()
	}
}

// Run drives the loop until ctx is done or Interrupt is called. It returns
// ctx.Err(), which is nil when Interrupt ended the run.
func (l *Loop) Run(ctx context.Context) error {
	l.resetInterrupt()
	l.running = true
	defer func() { l.running = false }()

	// Cancellation only wakes poll; the ctx check below ends the run.
	stop := context.AfterFunc(ctx, l.wake)
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.RunOnce(-1); err != nil {
			return err
		}
		if l.interrupted.Swap(false) {
			return ctx.Err()
		}
	}
}

// RunOnce waits at most maxWait (forever if negative, bounded by the armed
// timer) and dispatches what became ready.
func (l *Loop) RunOnce(maxWait time.Duration) error {
	if l.closed {
		return ErrClosed
	}

	fds := make([]unix.PollFd, 0, len(l.sockets)+1)
	fds = append(fds, unix.PollFd{Fd: l.wakeFd, Events: unix.POLLIN})
	sockets := make([]transfer.Socket, 0, len(l.sockets))
	for s, reg := range l.sockets {
		fds = append(fds, unix.PollFd{Fd: int32(s), Events: events(reg.interest)})
		sockets = append(sockets, s)
	}

	n, err := unix.Poll(fds, l.pollTimeout(maxWait))
	if err != nil && !errors.Is(err, unix.EINTR) {
		return fmt.Errorf("poll: %w", err)
	}

	if n > 0 && fds[0].Revents != 0 {
		l.drainWake()
	}

	for i, s := range sockets {
		revents := fds[i+1].Revents
		if revents == 0 {
			continue
		}
		// An earlier callback may have removed or replaced this socket.
		reg, ok := l.sockets[s]
		if !ok {
			continue
		}
		ready := readiness(revents, reg.interest)
		l.logger.Debug().Int("socket", int(s)).Stringer("ready", ready).Msg("socket ready")
		reg.resume(s, ready)
	}

	if l.timer != nil && !l.now().Before(l.deadline) {
		resume := l.timer
		l.timer = nil
		l.deadline = time.Time{}
		l.logger.Debug().Msg("timer fired")
		resume()
	}
	return nil
}

// Close releases the wake-up pipe. Registrations are dropped.
func (l *Loop) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.sockets = make(map[transfer.Socket]registration)
	l.timer = nil
	l.deadline = time.Time{}
	return errors.Join(l.wakeR.Close(), l.wakeW.Close())
}

// pollTimeout converts maxWait and the armed timer into poll(2) milliseconds.
func (l *Loop) pollTimeout(maxWait time.Duration) int {
	wait := maxWait
	if l.timer != nil {
		until := l.deadline.Sub(l.now())
		if until < 0 {
			until = 0
		}
		if wait < 0 || until < wait {
			wait = until
		}
	}
	if wait < 0 {
		return -1
	}
	// Round up so the loop does not spin just short of the deadline.
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

func (l *Loop) drainWake() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(int(l.wakeFd), buf)
		if n < len(buf) || err != nil {
			return
		}
	}
}

func events(interest transfer.Interest) int16 {
	var ev int16
	if interest.Has(transfer.Readable) {
		ev |= unix.POLLIN
	}
	if interest.Has(transfer.Writable) {
		ev |= unix.POLLOUT
	}
	return ev
}

// readiness maps poll results onto interest. Errors and hang-ups are reported
// as every registered direction so the owner observes them.
func readiness(revents int16, interest transfer.Interest) transfer.Interest {
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return interest
	}
	var ready transfer.Interest
	if revents&unix.POLLIN != 0 {
		ready |= transfer.Readable
	}
	if revents&unix.POLLOUT != 0 {
		ready |= transfer.Writable
	}
	return ready
}

func descriptor(f *os.File) (int32, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("failed to access wake pipe: %w", err)
	}
	var fd uintptr
	if err := raw.Control(func(s uintptr) { fd = s }); err != nil {
		return 0, fmt.Errorf("failed to access wake pipe: %w", err)
	}
	return int32(fd), nil
}

var _ eventbridge.Host = (*Loop)(nil)
