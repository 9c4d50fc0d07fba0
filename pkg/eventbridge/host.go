package eventbridge

import (
	"time"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// SocketFunc is handed to the host with each socket registration. The host
// calls it, from its loop goroutine, when the socket becomes ready.
type SocketFunc func(s transfer.Socket, ready transfer.Interest)

// TimerFunc is handed to the host with each timer request. The host calls it,
// from its loop goroutine, once the deadline is reached.
type TimerFunc func()

// Host is the callback table a host event loop supplies. Every method is
// required and is invoked on the goroutine that drives the loop.
//
// Implementations adapt a concrete loop (poll, epoll, a runtime-specific
// reactor) to the bridge; see internal/pollloop for the poll(2) one.
type Host interface {
	// AddSocket watches s for interest. Adding an already watched socket
	// overwrites its interest and resume func rather than duplicating it.
	AddSocket(s transfer.Socket, interest transfer.Interest, resume SocketFunc)

	// RemoveSocket stops watching s.
	RemoveSocket(s transfer.Socket)

	// Timeout arms the single loop timer for deadline, replacing any
	// previous one. A zero deadline disarms it.
	Timeout(deadline time.Time, resume TimerFunc)

	// Wait is called after a request has been started. Asynchronous hosts
	// return immediately; synchronous embeddings run their loop here.
	Wait()
}
