// Package metrics exposes the terminal's prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pos"

type Metrics struct {
	registry *prometheus.Registry

	checkouts      *prometheus.CounterVec
	pendingOrders  prometheus.Gauge
	syncedOrders   *prometheus.CounterVec
	syncRuns       prometheus.Counter
	syncRejected   prometheus.Counter
	hubState       *prometheus.GaugeVec
	hubReconnects  prometheus.Counter
	eventsReceived *prometheus.CounterVec
	listenerErrors *prometheus.CounterVec
}

// New registers all collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkouts by outcome (submitted, queued, rejected, invalid).",
		}, []string{"outcome"}),
		pendingOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_orders",
			Help:      "Orders waiting in the offline queue.",
		}),
		syncedOrders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_orders_total",
			Help:      "Pending order submissions during sync by result.",
		}, []string{"result"}),
		syncRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_runs_total",
			Help:      "Queue drains started.",
		}),
		syncRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_rejected_total",
			Help:      "Pending orders the backend refused during sync. They stay queued.",
		}),
		hubState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "hub_connection_state",
			Help:      "1 for the event hub's current connection state, 0 otherwise.",
		}, []string{"state"}),
		hubReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_reconnect_attempts_total",
			Help:      "Event hub reconnect attempts.",
		}),
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_events_total",
			Help:      "Inbound events dispatched by type.",
		}, []string{"event"}),
		listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_listener_errors_total",
			Help:      "Listener failures (errors and panics) by event type.",
		}, []string{"event"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.checkouts,
		m.pendingOrders,
		m.syncedOrders,
		m.syncRuns,
		m.syncRejected,
		m.hubState,
		m.hubReconnects,
		m.eventsReceived,
		m.listenerErrors,
	)
	return m
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Checkout(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingOrders(n int) {
	if m == nil {
		return
	}
	m.pendingOrders.Set(float64(n))
}

func (m *Metrics) SyncRun() {
	if m == nil {
		return
	}
	m.syncRuns.Inc()
}

func (m *Metrics) SyncedOrder(ok bool) {
	if m == nil {
		return
	}
	result := "failed"
	if ok {
		result = "synced"
	}
	m.syncedOrders.WithLabelValues(result).Inc()
}

// SyncRejected counts a queued order the backend answered with a 4xx
func (m *Metrics) SyncRejected() {
	if m == nil {
		return
	}
	m.syncRejected.Inc()
}

// HubState marks state as the only active connection state
func (m *Metrics) HubState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.hubState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) HubReconnect() {
	if m == nil {
		return
	}
	m.hubReconnects.Inc()
}

func (m *Metrics) EventReceived(event string) {
	if m == nil {
		return
	}
	m.eventsReceived.WithLabelValues(event).Inc()
}

func (m *Metrics) ListenerError(event string) {
	if m == nil {
		return
	}
	m.listenerErrors.WithLabelValues(event).Inc()
}
