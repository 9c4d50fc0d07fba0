// Package eventbridge connects a transfer engine to a host event loop that the
// embedding application owns.
//
// The engine reports which sockets it needs watched and when it next wants to
// be woken; the Bridge forwards those requests to a Host and keeps its own
// record so each socket is registered once and deregistered exactly once.
// When the host reports a ready socket or an expired timer, the bridge steps
// the engine and delivers every finished transfer to the slot that started it:
//
//	bridge := eventbridge.New(engine, loop,
//		eventbridge.WithLogger(logger),
//		eventbridge.WithMetrics(recorder))
//	slot, err := transfer.NewSlot(engine, bridge, transfer.KindTime, done)
//
// All Host callbacks and all Bridge methods run on the goroutine that drives
// the host loop. Nothing in this package takes a lock.
package eventbridge
