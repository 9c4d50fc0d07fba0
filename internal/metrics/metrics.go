package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// singleton instance
	instance *Metrics
	once     sync.Once
)

// Metrics holds Prometheus metrics for the client.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// Transfer metrics
	TransfersStarted   *prometheus.CounterVec
	TransfersCompleted *prometheus.CounterVec
	TransferDuration   *prometheus.HistogramVec

	// Event bridge metrics
	SocketsRegistered prometheus.Gauge
	TimersArmed       prometheus.Counter

	// Subscribe loop metrics
	SubscribePolls    prometheus.Counter
	SubscribeMessages prometheus.Counter
	SubscribeRetries  *prometheus.CounterVec
}

// GetMetrics returns the metrics singleton, registered with the default
// Prometheus registry.
func GetMetrics() *Metrics {
	once.Do(func() {
		instance = New(prometheus.DefaultRegisterer)
	})
	return instance
}

// New creates metrics registered with reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.TransfersStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubnub_transfers_started_total",
			Help: "Total number of transfers handed to the engine",
		},
		[]string{"kind"},
	)

	m.TransfersCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubnub_transfers_completed_total",
			Help: "Total number of finished transfers by outcome",
		},
		[]string{"kind", "outcome"},
	)

	m.TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pubnub_transfer_duration_seconds",
			Help:    "Transfer duration in seconds, from engine add to completion",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 17), // from 5ms to ~5.5min
		},
		[]string{"kind"},
	)

	m.SocketsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pubnub_bridge_sockets_registered",
			Help: "Number of sockets currently registered with the host loop",
		},
	)

	m.TimersArmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pubnub_bridge_timers_armed_total",
			Help: "Total number of host timer arm requests",
		},
	)

	m.SubscribePolls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pubnub_subscribe_polls_total",
			Help: "Total number of successful long-poll responses",
		},
	)

	m.SubscribeMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pubnub_subscribe_messages_total",
			Help: "Total number of messages delivered by the subscribe loop",
		},
	)

	m.SubscribeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubnub_subscribe_retries_total",
			Help: "Total number of silently retried long-poll failures",
		},
		[]string{"error_kind"},
	)

	if reg != nil {
		reg.MustRegister(
			m.TransfersStarted,
			m.TransfersCompleted,
			m.TransferDuration,
			m.SocketsRegistered,
			m.TimersArmed,
			m.SubscribePolls,
			m.SubscribeMessages,
			m.SubscribeRetries,
		)
	}

	return m
}

// TransferStarted counts a transfer of kind handed to the engine.
func (m *Metrics) TransferStarted(kind string) {
	if m == nil {
		return
	}
	m.TransfersStarted.WithLabelValues(kind).Inc()
}

// TransferCompleted records the outcome and duration of a transfer.
func (m *Metrics) TransferCompleted(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TransfersCompleted.WithLabelValues(kind, outcome).Inc()
	m.TransferDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// SocketRegistered increments the registered socket gauge.
func (m *Metrics) SocketRegistered() {
	if m == nil {
		return
	}
	m.SocketsRegistered.Inc()
}

// SocketDeregistered decrements the registered socket gauge.
func (m *Metrics) SocketDeregistered() {
	if m == nil {
		return
	}
	m.SocketsRegistered.Dec()
}

// TimerArmed counts a host timer arm request.
func (m *Metrics) TimerArmed() {
	if m == nil {
		return
	}
	m.TimersArmed.Inc()
}

// SubscribePoll records one successful poll carrying n messages.
func (m *Metrics) SubscribePoll(n int) {
	if m == nil {
		return
	}
	m.SubscribePolls.Inc()
	m.SubscribeMessages.Add(float64(n))
}

// SubscribeRetry counts a retried poll failure.
func (m *Metrics) SubscribeRetry(errorKind string) {
	if m == nil {
		return
	}
	m.SubscribeRetries.WithLabelValues(errorKind).Inc()
}
