// Package httpengine is a transfer.Engine that runs each transfer on
// net/http in its own goroutine and reports it to the host loop through the
// read end of a per-transfer pipe. The pipe becomes readable when the
// transfer has finished; results are only collected inside Step, on the host
// loop's goroutine.
package httpengine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/pubnub-go/internal/logging"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

const (
	// DefaultMaxTransfers bounds the transfers in flight at once.
	DefaultMaxTransfers = 64
	// DefaultMaxBodyBytes bounds a response body.
	DefaultMaxBodyBytes = 8 << 20
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "pubnub-go/1.0"
)

var (
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("engine is closed")
	// ErrTooManyTransfers is returned by Add when MaxTransfers are in flight.
	ErrTooManyTransfers = errors.New("too many transfers in flight")
	// ErrTimeout is reported for transfers whose deadline passed.
	ErrTimeout = errors.New("transfer timed out")
	// ErrBodyTooLarge is reported when a response exceeds MaxBodyBytes.
	ErrBodyTooLarge = errors.New("response body too large")
	// ErrForeignHandle is returned for handles created by another engine.
	ErrForeignHandle = errors.New("handle does not belong to this engine")
)

// Config holds engine configuration
type Config struct {
	// Client performs the requests. Its Timeout should be zero; transfer
	// deadlines are enforced through the host timer.
	Client *http.Client

	// MaxTransfers bounds concurrent transfers
	MaxTransfers int

	// MaxBodyBytes bounds response bodies
	MaxBodyBytes int64

	// UserAgent header value
	UserAgent string

	// Logger defaults to the "httpengine" component logger
	Logger *zerolog.Logger

	// Now is the engine clock, used for transfer deadlines
	Now func() time.Time
}

// SetDefaults sets reasonable default values for the config
func (c *Config) SetDefaults() {
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	if c.MaxTransfers <= 0 {
		c.MaxTransfers = DefaultMaxTransfers
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// handle is the engine-native transfer handle.
type handle struct {
	engine *Engine
	id     uint64

	url     string
	method  string
	body    []byte
	timeout time.Duration
	delay   time.Duration

	// Set by Add.
	socket   transfer.Socket
	signal   *os.File
	cancel   context.CancelFunc
	deadline time.Time

	// result is written by the transfer goroutine under Engine.mu.
	result *transfer.Completion
}

func (h *handle) SetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	h.url = rawURL
	return nil
}

func (h *handle) SetMethodBody(method string, body []byte) {
	h.method = method
	h.body = body
}

func (h *handle) SetTimeout(d time.Duration) { h.timeout = d }
func (h *handle) SetDelay(d time.Duration)   { h.delay = d }
func (h *handle) URL() string                { return h.url }

// Engine runs transfers on net/http. Its transfer.Engine methods must be
// called from one goroutine, the one driving the host loop.
type Engine struct {
	config   Config
	logger   zerolog.Logger
	notifier transfer.Notifier

	mu     sync.Mutex
	wg     sync.WaitGroup
	nextID uint64

	active   map[*handle]struct{}
	bySocket map[transfer.Socket]*handle
	armed    time.Time
	closed   bool
}

// New creates an engine.
func New(config Config) *Engine {
	config.SetDefaults()
	logger := logging.Component("httpengine")
	if config.Logger != nil {
		logger = *config.Logger
	}
	return &Engine{
		config:   config,
		logger:   logger,
		active:   make(map[*handle]struct{}),
		bySocket: make(map[transfer.Socket]*handle),
	}
}

// Bind implements transfer.Engine.
func (e *Engine) Bind(n transfer.Notifier) {
	e.notifier = n
}

// CreateHandle implements transfer.Engine.
func (e *Engine) CreateHandle() (transfer.Handle, error) {
	if e.closed {
		return nil, ErrClosed
	}
	e.nextID++
	return &handle{engine: e, id: e.nextID, method: http.MethodGet}, nil
}

// Add implements transfer.Engine. The transfer starts after its delay; its
// socket is registered for reading before Add returns.
func (e *Engine) Add(th transfer.Handle) error {
	h, err := e.own(th)
	if err != nil {
		return err
	}
	switch {
	case e.closed:
		return ErrClosed
	case e.notifier == nil:
		return errors.New("engine is not bound to a notifier")
	case h.url == "":
		return errors.New("handle has no url")
	case h.signal != nil:
		return errors.New("handle already added")
	case len(e.active) >= e.config.MaxTransfers:
		return ErrTooManyTransfers
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create signal pipe: %w", err)
	}
	socket, err := descriptor(r)
	if err != nil {
		r.Close()
		w.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.socket = socket
	h.signal = r
	h.cancel = cancel
	if h.timeout > 0 {
		h.deadline = e.config.Now().Add(h.delay + h.timeout)
	}

	e.active[h] = struct{}{}
	e.bySocket[socket] = h
	e.notifier.RegisterSocket(socket, transfer.Readable)
	e.rearm()

	e.logger.Debug().
		Uint64("transfer", h.id).
		Str("method", h.method).
		Str("url", h.url).
		Dur("delay", h.delay).
		Dur("timeout", h.timeout).
		Msg("transfer added")

	e.wg.Add(1)
	go e.run(ctx, h, w)
	return nil
}

// Remove implements transfer.Engine. The transfer is aborted and its socket
// deregistered before Remove returns. Handles that already finished, or were
// never added, are left alone.
func (e *Engine) Remove(th transfer.Handle) error {
	h, err := e.own(th)
	if err != nil {
		return err
	}
	if _, ok := e.active[h]; !ok {
		return nil
	}
	e.logger.Debug().Uint64("transfer", h.id).Msg("transfer removed")
	e.detach(h)
	return nil
}

// Step implements transfer.Engine. It returns every finished transfer, not
// only the one whose socket was reported, and on a timer event every transfer
// whose deadline has passed.
func (e *Engine) Step(ev transfer.Event) []transfer.Completion {
	var completions []transfer.Completion

	if ev.Timer {
		// The host timer is one-shot; anything still pending is re-requested.
		e.armed = time.Time{}
		now := e.config.Now()
		for _, h := range e.sorted() {
			if h.deadline.IsZero() || now.Before(h.deadline) {
				continue
			}
			e.logger.Debug().Uint64("transfer", h.id).Msg("transfer timed out")
			e.detach(h)
			completions = append(completions, transfer.Completion{Handle: h, Err: ErrTimeout})
		}
	}

	for _, h := range e.sorted() {
		e.mu.Lock()
		result := h.result
		e.mu.Unlock()
		if result == nil {
			continue
		}
		e.detach(h)
		completions = append(completions, *result)
	}

	e.rearm()
	return completions
}

// Close aborts every transfer and waits for their goroutines to exit.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	for _, h := range e.sorted() {
		e.detach(h)
	}
	e.wg.Wait()
	return nil
}

// Active returns the number of transfers in flight.
func (e *Engine) Active() int {
	return len(e.active)
}

func (e *Engine) own(th transfer.Handle) (*handle, error) {
	h, ok := th.(*handle)
	if !ok || h.engine != e {
		return nil, ErrForeignHandle
	}
	return h, nil
}

// detach aborts h, deregisters its socket and closes the read end of its
// signal pipe.
func (e *Engine) detach(h *handle) {
	delete(e.active, h)
	delete(e.bySocket, h.socket)
	h.cancel()
	e.notifier.DeregisterSocket(h.socket)
	h.signal.Close()
	e.rearm()
}

// sorted returns the active handles in creation order.
func (e *Engine) sorted() []*handle {
	handles := make([]*handle, 0, len(e.active))
	for h := range e.active {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i].id < handles[j].id })
	return handles
}

// rearm requests the host timer for the earliest transfer deadline.
func (e *Engine) rearm() {
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

// run performs the request and signals completion on w.
func (e *Engine) run(ctx context.Context, h *handle, w *os.File) {
	defer e.wg.Done()
	defer w.Close()

	resp, err := e.do(ctx, h)

	e.mu.Lock()
	h.result = &transfer.Completion{Handle: h, Response: resp, Err: err}
	e.mu.Unlock()

	// The read end is already closed if the transfer was removed.
	_, _ = w.Write([]byte{1})
}

func (e *Engine) do(ctx context.Context, h *handle) (transfer.Response, error) {
	if h.delay > 0 {
		timer := time.NewTimer(h.delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return transfer.Response{}, ctx.Err()
		}
	}

	var body io.Reader
	if h.body != nil {
		body = bytes.NewReader(h.body)
	}
	req, err := http.NewRequestWithContext(ctx, h.method, h.url, body)
	if err != nil {
		return transfer.Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if h.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.config.Client.Do(req)
	if err != nil {
		return transfer.Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.config.MaxBodyBytes+1))
	if err != nil {
		return transfer.Response{}, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > e.config.MaxBodyBytes {
		return transfer.Response{}, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, e.config.MaxBodyBytes)
	}
	return transfer.Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// descriptor returns the OS descriptor of f as a host socket.
func descriptor(f *os.File) (transfer.Socket, error) {
	raw, err := f.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("failed to access signal pipe: %w", err)
	}
	var fd uintptr
	if err := raw.Control(func(s uintptr) { fd = s }); err != nil {
		return 0, fmt.Errorf("failed to access signal pipe: %w", err)
	}
	return transfer.Socket(fd), nil
}

var _ transfer.Engine = (*Engine)(nil)
