package eventbridge_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pubnub-go/internal/metrics"
	"github.com/rmacdonaldsmith/pubnub-go/internal/testutil"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/eventbridge"
	"github.com/rmacdonaldsmith/pubnub-go/pkg/transfer"
)

type harness struct {
	engine *testutil.FakeEngine
	host   *testutil.RecordingHost
	bridge *eventbridge.Bridge
	now    time.Time
}

func newHarness(t *testing.T, options ...eventbridge.Option) *harness {
	t.Helper()
	h := &harness{
		engine: testutil.NewFakeEngine(),
		host:   testutil.NewRecordingHost(),
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine.Now = func() time.Time { return h.now }
	h.bridge = eventbridge.New(h.engine, h.host, options...)
	return h
}

func (h *harness) start(t *testing.T, timeout time.Duration, done transfer.CompletionFunc) (*transfer.Slot, *testutil.FakeHandle) {
	t.Helper()
	slot, err := transfer.NewSlot(h.engine, h.bridge, transfer.KindTime, done)
	require.NoError(t, err)
	require.NoError(t, slot.Start(transfer.Request{
		URL:     "http://pubsub.pubnub.com/time/0",
		Method:  http.MethodGet,
		Timeout: timeout,
	}))
	return slot, h.engine.Latest()
}

// assertLockstep checks that the host holds exactly what the bridge tracks.
func (h *harness) assertLockstep(t *testing.T) {
	t.Helper()
	assert.Equal(t, h.bridge.Sockets(), h.host.Sockets)
	assert.True(t, h.bridge.Deadline().Equal(h.host.Deadline),
		"bridge deadline %v, host deadline %v", h.bridge.Deadline(), h.host.Deadline)
}

func TestBridge_SocketLifecycle(t *testing.T) {
	t.Run("register_switch_interest_and_release", func(t *testing.T) {
		h := newHarness(t)
		var calls int
		_, handle := h.start(t, 0, func(transfer.Response, error) { calls++ })

		assert.Equal(t, transfer.Writable, h.host.Sockets[handle.Socket])
		h.assertLockstep(t)

		// Connected: the engine switches to read interest.
		require.True(t, h.host.Fire(handle.Socket))
		assert.Equal(t, transfer.Readable, h.host.Sockets[handle.Socket])
		assert.Len(t, h.host.AddCalls, 2)
		h.assertLockstep(t)

		h.engine.Respond(handle, http.StatusOK, "[15000000000000000]")
		require.True(t, h.host.Fire(handle.Socket))

		assert.Equal(t, 1, calls)
		assert.Empty(t, h.host.Sockets)
		assert.Empty(t, h.host.Leaked())
		assert.Zero(t, h.bridge.Pending())
		h.assertLockstep(t)
	})

	t.Run("unchanged_interest_is_not_resent", func(t *testing.T) {
		h := newHarness(t)
		h.bridge.RegisterSocket(5, transfer.Readable)
		h.bridge.RegisterSocket(5, transfer.Readable)
		assert.Len(t, h.host.AddCalls, 1)

		h.bridge.RegisterSocket(5, transfer.ReadWrite)
		assert.Len(t, h.host.AddCalls, 2)
		assert.Equal(t, transfer.ReadWrite, h.host.Sockets[5])
	})

	t.Run("deregister_is_exactly_once", func(t *testing.T) {
		h := newHarness(t)
		h.bridge.RegisterSocket(5, transfer.Readable)
		h.bridge.DeregisterSocket(5)
		h.bridge.DeregisterSocket(5)
		h.bridge.DeregisterSocket(6)
		assert.Equal(t, []transfer.Socket{5}, h.host.RemoveCalls)
	})

	t.Run("stale_readiness_is_ignored", func(t *testing.T) {
		h := newHarness(t)
		eventsBefore := len(h.engine.Events)
		h.bridge.OnSocketReady(99, transfer.Readable)
		assert.Len(t, h.engine.Events, eventsBefore)
	})
}

func TestBridge_Timer(t *testing.T) {
	t.Run("replaces_not_stacks", func(t *testing.T) {
		h := newHarness(t)
		first := h.now.Add(time.Second)
		second := h.now.Add(2 * time.Second)

		h.bridge.RequestTimer(first)
		h.bridge.RequestTimer(second)
		h.bridge.RequestTimer(second)

		assert.Equal(t, 2, h.host.TimeoutCalls)
		assert.True(t, h.host.Deadline.Equal(second))
		assert.True(t, h.bridge.Deadline().Equal(second))

		h.bridge.RequestTimer(time.Time{})
		assert.True(t, h.host.Deadline.IsZero())
		assert.False(t, h.host.FireTimer())
	})

	t.Run("expiry_times_out_transfer", func(t *testing.T) {
		h := newHarness(t)
		var got error
		_, handle := h.start(t, 5*time.Second, func(_ transfer.Response, err error) { got = err })

		assert.True(t, h.host.Deadline.Equal(h.now.Add(5*time.Second)))
		h.assertLockstep(t)

		h.now = h.now.Add(6 * time.Second)
		require.True(t, h.host.FireTimer())

		require.Error(t, got)
		assert.True(t, transfer.IsKind(got, transfer.TransportFailure))
		assert.ErrorIs(t, got, testutil.ErrTimedOut)
		assert.NotContains(t, h.host.Sockets, handle.Socket)
		assert.True(t, h.host.Deadline.IsZero())
		h.assertLockstep(t)
	})

	t.Run("timer_rearmed_for_remaining_transfer", func(t *testing.T) {
		h := newHarness(t)
		var shortErr, longErr error
		h.start(t, time.Second, func(_ transfer.Response, err error) { shortErr = err })
		h.start(t, 10*time.Second, func(_ transfer.Response, err error) { longErr = err })

		h.now = h.now.Add(2 * time.Second)
		require.True(t, h.host.FireTimer())

		assert.Error(t, shortErr)
		assert.NoError(t, longErr)
		assert.True(t, h.host.Deadline.Equal(h.now.Add(8*time.Second)))
		h.assertLockstep(t)
	})

	t.Run("early_timer_completes_nothing", func(t *testing.T) {
		h := newHarness(t)
		var calls int
		h.start(t, 5*time.Second, func(transfer.Response, error) { calls++ })

		require.True(t, h.host.FireTimer())
		assert.Zero(t, calls)
		assert.False(t, h.host.Deadline.IsZero(), "pending deadline must be re-armed")
		h.assertLockstep(t)
	})
}

func TestBridge_Cancellation(t *testing.T) {
	t.Run("cancel_removes_sockets_synchronously", func(t *testing.T) {
		h := newHarness(t)
		var calls int
		slot, handle := h.start(t, 5*time.Second, func(transfer.Response, error) { calls++ })

		slot.Cancel()
		assert.NotContains(t, h.host.Sockets, handle.Socket)
		assert.Empty(t, h.host.Leaked())
		assert.True(t, h.host.Deadline.IsZero())
		h.assertLockstep(t)

		// Readiness that was already queued by the host is dropped.
		h.bridge.OnSocketReady(handle.Socket, transfer.Readable)
		assert.Zero(t, calls)
	})

	t.Run("cancel_inside_batch_suppresses_later_completion", func(t *testing.T) {
		h := newHarness(t)
		h.engine.FlushAll = true

		var order []string
		var second *transfer.Slot
		_, firstHandle := h.start(t, 0, func(transfer.Response, error) {
			order = append(order, "first")
			second.Cancel()
		})
		second, secondHandle := h.start(t, 0, func(transfer.Response, error) {
			order = append(order, "second")
		})

		h.engine.Respond(firstHandle, http.StatusOK, "[]")
		h.engine.Respond(secondHandle, http.StatusOK, "[]")
		require.True(t, h.host.Fire(firstHandle.Socket))

		assert.Equal(t, []string{"first"}, order)
		assert.True(t, second.Cancelled())
		assert.Empty(t, h.host.Leaked())
	})

	t.Run("callback_may_start_new_transfer", func(t *testing.T) {
		h := newHarness(t)
		var followUp *testutil.FakeHandle
		_, handle := h.start(t, 0, func(transfer.Response, error) {
			_, followUp = h.start(t, 0, nil)
		})

		h.engine.Respond(handle, http.StatusOK, "[]")
		require.True(t, h.host.Fire(handle.Socket))

		require.NotNil(t, followUp)
		assert.Contains(t, h.host.Sockets, followUp.Socket)
		assert.Equal(t, 1, h.bridge.Pending())
		h.assertLockstep(t)
	})

	t.Run("transport_error_is_delivered", func(t *testing.T) {
		h := newHarness(t)
		var got error
		_, handle := h.start(t, 0, func(_ transfer.Response, err error) { got = err })

		h.engine.Fail(handle, errors.New("connection reset"))
		require.True(t, h.host.Fire(handle.Socket))
		assert.True(t, transfer.IsKind(got, transfer.TransportFailure))
	})
}

func TestBridge_Close(t *testing.T) {
	h := newHarness(t)
	slot, _ := h.start(t, 5*time.Second, nil)
	h.start(t, 5*time.Second, nil)

	slot.Cancel()
	h.bridge.Close()

	assert.Empty(t, h.host.Sockets)
	assert.Empty(t, h.host.Leaked())
	assert.True(t, h.host.Deadline.IsZero())
	assert.Zero(t, h.bridge.Pending())

	// Closed bridges ignore further traffic.
	h.bridge.RegisterSocket(42, transfer.Readable)
	assert.NotContains(t, h.host.Sockets, transfer.Socket(42))
	waits := h.host.Waits
	h.bridge.Wait()
	assert.Equal(t, waits, h.host.Waits)
}

func TestBridge_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := newHarness(t, eventbridge.WithMetrics(m))

	_, handle := h.start(t, 5*time.Second, nil)
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.SocketsRegistered))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(m.TimersArmed))

	h.engine.Respond(handle, http.StatusOK, "[]")
	require.True(t, h.host.Fire(handle.Socket))
	assert.Equal(t, float64(0), promtestutil.ToFloat64(m.SocketsRegistered))
}
