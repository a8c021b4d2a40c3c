package obsv

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process's own operational instruments. All components
// accept a nil *Metrics and skip instrumentation, so tests can pass nil.
type Metrics struct {
	reg *prometheus.Registry

	NodesTotal  prometheus.Gauge
	NodesOnline prometheus.Gauge
	WSClients   prometheus.Gauge

	BroadcastsTotal prometheus.Counter
	AlertsFired     prometheus.Counter
	AlertsRecovered prometheus.Counter
	NotifyFailures  *prometheus.CounterVec
}

// New creates a Metrics set on a private registry so tests never collide on
// the global default registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		NodesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gpuhot_nodes_total",
			Help: "Number of configured fleet nodes.",
		}),
		NodesOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gpuhot_nodes_online",
			Help: "Number of fleet nodes currently online.",
		}),
		WSClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gpuhot_ws_clients",
			Help: "Number of connected dashboard WebSocket clients.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpuhot_broadcasts_total",
			Help: "Telemetry broadcast ticks delivered to subscribers.",
		}),
		AlertsFired: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpuhot_alerts_fired_total",
			Help: "Alert messages dispatched to notification channels.",
		}),
		AlertsRecovered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gpuhot_alerts_recovered_total",
			Help: "Recovery messages dispatched to notification channels.",
		}),
		NotifyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gpuhot_notify_failures_total",
			Help: "Notification sends that failed, by channel type.",
		}, []string{"channel"}),
	}
}

// Handler returns the /metrics HTTP handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SetFleet records the derived fleet counts.
func (m *Metrics) SetFleet(total, online int) {
	if m == nil {
		return
	}
	m.NodesTotal.Set(float64(total))
	m.NodesOnline.Set(float64(online))
}

// AddWSClients adjusts the connected-subscriber gauge by delta.
func (m *Metrics) AddWSClients(delta int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(delta))
}

// IncBroadcasts counts one broadcast tick.
func (m *Metrics) IncBroadcasts() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

// IncAlertsFired counts one dispatched alert message.
func (m *Metrics) IncAlertsFired() {
	if m == nil {
		return
	}
	m.AlertsFired.Inc()
}

// IncAlertsRecovered counts one dispatched recovery message.
func (m *Metrics) IncAlertsRecovered() {
	if m == nil {
		return
	}
	m.AlertsRecovered.Inc()
}

// IncNotifyFailure counts one failed channel send.
func (m *Metrics) IncNotifyFailure(channel string) {
	if m == nil {
		return
	}
	m.NotifyFailures.WithLabelValues(channel).Inc()
}
