// Package transfer defines the contract between the client and a non-blocking,
// socket-multiplexing HTTP transfer engine, and the Slot type that owns one
// outstanding transfer for its whole lifetime.
//
// The package provides:
//   - Engine and Handle: the collaborator interfaces an engine implementation
//     satisfies (see internal/httpengine for the net/http-backed one)
//   - Notifier: how an engine asks for sockets to be watched and timers armed
//   - Slot: one started transfer, its Kind tag and its completion func
//   - Error: the error taxonomy shared by every layer above the engine
//
// An engine never blocks and never invokes completions on its own. Work is
// driven by Step, which the event bridge calls when the host loop reports a
// ready socket or an expired timer; Step returns the transfers that finished
// during that call:
//
//	completions := engine.Step(transfer.Event{Socket: s, Ready: transfer.Readable})
//	for _, c := range completions {
//		slot := slots[c.Handle]
//		slot.Complete(c.Response, c.Err)
//	}
//
// Slot guarantees its completion func runs at most once, never before Start
// returns and never after Cancel returns.
package transfer
