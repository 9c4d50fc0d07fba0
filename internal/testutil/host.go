package testutil

import (
	"time"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/eventbridge"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

// RecordingHost is an eventbridge.Host that records every callback and lets a
// test fire readiness and timer expiry by hand.
type RecordingHost struct {
	// Sockets holds the current registrations.
	Sockets map[transfer.Socket]transfer.Interest

	// AddCalls and RemoveCalls list every AddSocket / RemoveSocket call in order.
	AddCalls    []transfer.Socket
	RemoveCalls []transfer.Socket

	// Deadline is the armed timer, zero when disarmed.
	Deadline     time.Time
	TimeoutCalls int

	Waits int
	// OnWait, when set, runs inside Wait.
	OnWait func()

	resumes     map[transfer.Socket]eventbridge.SocketFunc
	timerResume eventbridge.TimerFunc
}

// NewRecordingHost creates a host with no registrations.
func NewRecordingHost() *RecordingHost {
	return &RecordingHost{
		Sockets: make(map[transfer.Socket]transfer.Interest),
		resumes: make(map[transfer.Socket]eventbridge.SocketFunc),
	}
}

// AddSocket implements eventbridge.Host.
func (h *RecordingHost) AddSocket(s transfer.Socket, interest transfer.Interest, resume eventbridge.SocketFunc) {
	h.AddCalls = append(h.AddCalls, s)
	h.Sockets[s] = interest
	h.resumes[s] = resume
}

// RemoveSocket implements eventbridge.Host.
func (h *RecordingHost) RemoveSocket(s transfer.Socket) {
	h.RemoveCalls = append(h.RemoveCalls, s)
	delete(h.Sockets, s)
	delete(h.resumes, s)
}

// Timeout implements eventbridge.Host.
func (h *RecordingHost) Timeout(deadline time.Time, resume eventbridge.TimerFunc) {
	h.TimeoutCalls++
	h.Deadline = deadline
	h.timerResume = resume
	if deadline.IsZero() {
		h.timerResume = nil
	}
}

// Wait implements eventbridge.Host.
func (h *RecordingHost) Wait() {
	h.Waits++
	if h.OnWait != nil {
		h.OnWait()
	}
}

// Fire reports s ready with its registered interest. It returns false if s
// is not registered.
func (h *RecordingHost) Fire(s transfer.Socket) bool {
	interest, ok := h.Sockets[s]
	if !ok {
		return false
	}
	h.resumes[s](s, interest)
	return true
}

// FireTimer runs the armed timer. It returns false if none is armed.
func (h *RecordingHost) FireTimer() bool {
	if h.timerResume == nil {
		return false
	}
	resume := h.timerResume
	h.timerResume = nil
	h.Deadline = time.Time{}
	resume()
	return true
}

// Leaked returns every socket that was added and never removed.
func (h *RecordingHost) Leaked() []transfer.Socket {
	removed := make(map[transfer.Socket]int)
	for _, s := range h.RemoveCalls {
		removed[s]++
	}
	var leaked []transfer.Socket
	seen := make(map[transfer.Socket]bool)
	for _, s := range h.AddCalls {
		if seen[s] {
			continue
		}
		seen[s] = true
		if removed[s] == 0 {
			leaked = append(leaked, s)
		}
	}
	return leaked
}

var _ eventbridge.Host = (*RecordingHost)(nil)
