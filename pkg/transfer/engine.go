package transfer

import (
	"io"
	"time"
)

// Socket is an opaque descriptor handle the engine asks the host to watch.
type Socket int

// Interest is the readiness a socket is watched for.
type Interest int

const (
	// Readable asks to be told when the socket can be read.
	Readable Interest = iota + 1
	// Writable asks to be told when the socket can be written.
	Writable
	// ReadWrite asks for both.
	ReadWrite
)

// String returns the interest name used in logs.
func (i Interest) String() string {
	switch i {
	case Readable:
		return "read"
	case Writable:
		return "write"
	case ReadWrite:
		return "read_write"
	default:
		return "none"
	}
}

// Has reports whether i includes other.
func (i Interest) Has(other Interest) bool {
	switch i {
	case ReadWrite:
		return other == Readable || other == Writable || other == ReadWrite
	default:
		return i == other
	}
}

// Event is one host notification to drive the engine with: either a ready
// socket or an expired timer.
type Event struct {
	Socket Socket
	Ready  Interest
	Timer  bool
}

// Request describes one HTTP transfer.
type Request struct {
	URL    string
	Method string
	Body   []byte

	// Timeout bounds the transfer once it has started. Zero means no limit.
	Timeout time.Duration

	// Delay postpones the start of the transfer. Used for retry back-off.
	Delay time.Duration
}

// Response is the raw outcome of a finished transfer.
type Response struct {
	StatusCode int
	Body       []byte
}

// Completion reports one finished transfer from Engine.Step.
// Err is set for transport-level failures only; HTTP status is left to the
// caller to interpret.
type Completion struct {
	Handle   Handle
	Response Response
	Err      error
}

// Handle is an engine-native transfer handle. Implementations must be
// comparable (pointer types) since handles are used as map keys.
type Handle interface {
	// SetURL sets the target URL.
	SetURL(rawURL string) error

	// SetMethodBody sets the HTTP method and optional body.
	SetMethodBody(method string, body []byte)

	// SetTimeout bounds the transfer. Zero means no limit.
	SetTimeout(d time.Duration)

	// SetDelay postpones the start of the transfer.
	SetDelay(d time.Duration)

	// URL returns the effective URL the transfer targets.
	URL() string
}

// Notifier receives the engine's socket and timer requests.
// The event bridge implements it.
type Notifier interface {
	// RegisterSocket asks for s to be watched for interest. Registering an
	// already watched socket replaces its interest.
	RegisterSocket(s Socket, interest Interest)

	// DeregisterSocket asks for s to no longer be watched.
	DeregisterSocket(s Socket)

	// RequestTimer asks for Step to be called with a timer Event at deadline,
	// replacing any earlier request. A zero deadline disarms.
	RequestTimer(deadline time.Time)
}

// Engine is a non-blocking multi-transfer HTTP engine.
//
// All methods must be called from the goroutine that drives the host loop.
// Add, Remove and Step may call back into the bound Notifier synchronously.
type Engine interface {
	io.Closer

	// Bind installs the notifier. It must be called once, before Add.
	Bind(n Notifier)

	// CreateHandle allocates a new, unconfigured handle.
	CreateHandle() (Handle, error)

	// Add starts the configured transfer and returns immediately.
	Add(h Handle) error

	// Remove aborts a transfer and releases its sockets. Removing a handle
	// that is not active, including one whose completion Step already
	// returned, is a no-op and returns nil. An error means the engine could
	// not release the handle at all.
	Remove(h Handle) error

	// Step drives the engine for one host notification and returns the
	// transfers that finished during the call.
	Step(ev Event) []Completion
}

// Registry routes completions back to their slots.
type Registry interface {
	Track(h Handle, s *Slot)
	Untrack(h Handle)
}
