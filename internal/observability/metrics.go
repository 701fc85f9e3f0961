// Package observability exposes Prometheus metrics for the bridge.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callbridge"

// Metrics groups every collector the bridge records.
// Pass a dedicated registry in tests; production uses prometheus.DefaultRegisterer.
// All methods are no-ops on a nil receiver.
type Metrics struct {
	// ActiveCalls is the number of call sessions currently relaying.
	ActiveCalls prometheus.Gauge

	// CallsTotal counts finished call sessions.
	// Labels: outcome (completed|provider_connect_failed|context_failed)
	CallsTotal *prometheus.CounterVec

	// CallDuration measures call length in seconds.
	CallDuration prometheus.Histogram

	// CallsRejected counts inbound calls turned away by the concurrency cap.
	CallsRejected prometheus.Counter

	// FramesTotal counts relayed frames.
	// Labels: direction (edge_in|edge_out|provider_in|provider_out), type
	FramesTotal *prometheus.CounterVec

	// FunctionCalls counts provider function calls.
	// Labels: name, outcome (success|failure|error)
	FunctionCalls *prometheus.CounterVec

	// Bookings counts appointment create attempts.
	// Labels: outcome (created|conflict|invalid|error)
	Bookings *prometheus.CounterVec

	// DashboardSubscribers is the live event-subscriber count.
	DashboardSubscribers prometheus.Gauge

	// SubscribersDropped counts subscribers removed for a full queue.
	SubscribersDropped prometheus.Counter

	// ProviderConnectDuration measures provider dial + configure latency.
	// Labels: provider
	ProviderConnectDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Call sessions currently relaying audio.",
		}),
		CallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished call sessions by outcome.",
		}, []string{"outcome"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call session duration.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		CallsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Inbound calls rejected by the concurrency cap.",
		}),
		FramesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Relayed duplex frames by direction and type.",
		}, []string{"direction", "type"}),
		FunctionCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "function_calls_total",
			Help:      "Provider function calls by name and outcome.",
		}, []string{"name", "outcome"}),
		Bookings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Appointment create attempts by outcome.",
		}, []string{"outcome"}),
		DashboardSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dashboard_subscribers",
			Help:      "Live event subscribers.",
		}),
		SubscribersDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_dropped_total",
			Help:      "Subscribers removed because their queue was full.",
		}),
		ProviderConnectDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_connect_seconds",
			Help:      "Voice provider connect and configure latency.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"provider"}),
	}
}

// CallStarted and CallFinished bracket one call session.
func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
}

func (m *Metrics) CallFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.Observe(d.Seconds())
}

func (m *Metrics) Frame(direction, typ string) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(direction, typ).Inc()
}

func (m *Metrics) FunctionCall(name, outcome string) {
	if m == nil {
		return
	}
	m.FunctionCalls.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) Booking(outcome string) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ProviderConnected(provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.ProviderConnectDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.DashboardSubscribers.Set(float64(n))
}

func (m *Metrics) SubscriberDropped() {
	if m == nil {
		return
	}
	m.SubscribersDropped.Inc()
}

func (m *Metrics) CallRejected() {
	if m == nil {
		return
	}
	m.CallsRejected.Inc()
}
