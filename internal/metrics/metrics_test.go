package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/pubnub-go/pkg/pubnub"
)

var _ pubnub.Recorder = (*Metrics)(nil)

func TestGetMetrics(t *testing.T) {
	metrics := GetMetrics()
	assert.NotNil(t, metrics, "Metrics should not be nil")

	// Call again to test singleton behavior
	metrics2 := GetMetrics()
	assert.Same(t, metrics, metrics2, "GetMetrics should return the same instance")
}

func TestAllMetricsInitialized(t *testing.T) {
	m := New(nil)

	assert.NotNil(t, m.TransfersStarted, "TransfersStarted should be initialized")
	assert.NotNil(t, m.TransfersCompleted, "TransfersCompleted should be initialized")
	assert.NotNil(t, m.TransferDuration, "TransferDuration should be initialized")
	assert.NotNil(t, m.SocketsRegistered, "SocketsRegistered should be initialized")
	assert.NotNil(t, m.TimersArmed, "TimersArmed should be initialized")
	assert.NotNil(t, m.SubscribePolls, "SubscribePolls should be initialized")
	assert.NotNil(t, m.SubscribeMessages, "SubscribeMessages should be initialized")
	assert.NotNil(t, m.SubscribeRetries, "SubscribeRetries should be initialized")
}

func TestMetricsOperations(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.TransferStarted("publish")
	m.TransferStarted("publish")
	m.TransferCompleted("publish", "ok", 20*time.Millisecond)
	m.SocketRegistered()
	m.SocketRegistered()
	m.SocketDeregistered()
	m.TimerArmed()
	m.SubscribePoll(3)
	m.SubscribePoll(0)
	m.SubscribeRetry("transport_failure")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TransfersStarted.WithLabelValues("publish")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransfersCompleted.WithLabelValues("publish", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SocketsRegistered))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TimersArmed))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.SubscribePolls))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SubscribeMessages))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SubscribeRetries.WithLabelValues("transport_failure")))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.TransferStarted("time")
		m.TransferCompleted("time", "ok", time.Second)
		m.SocketRegistered()
		m.SocketDeregistered()
		m.TimerArmed()
		m.SubscribePoll(1)
		m.SubscribeRetry("http_status")
	})
}
