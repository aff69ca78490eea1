package rendezvous

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "brpunch"

// Join results, used as the "result" label.
const (
	joinSent       = "sent"
	joinBadRequest = "bad_request"
	joinUnknown    = "unknown_target"
	joinSendFailed = "send_failed"
)

// Metrics holds the service's Prometheus collectors. Each server owns its
// own registry so tests can run servers side by side.
type Metrics struct {
	registry *prometheus.Registry

	Hosts         prometheus.GaugeFunc
	Registrations prometheus.Counter
	Displaced     prometheus.Counter
	Rejected      prometheus.Counter
	Stale         prometheus.Counter
	Joins         *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors. The host gauge reads
// registry on scrape.
func NewMetrics(registry *Registry) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Hosts: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "hosts_registered",
			Help:      "Hosts currently registered.",
		}, func() float64 { return float64(registry.Count()) }),
		Registrations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_registrations_total",
			Help:      "Successful host registrations.",
		}),
		Displaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_displacements_total",
			Help:      "Sessions replaced by a newer registration of the same fingerprint.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_rejections_total",
			Help:      "Host sessions closed for a malformed registration.",
		}),
		Stale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "host_stale_removals_total",
			Help:      "Sessions removed by the stale cleanup loop.",
		}),
		Joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "join_requests_total",
			Help:      "Join requests by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.Hosts, m.Registrations, m.Displaced, m.Rejected, m.Stale, m.Joins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
