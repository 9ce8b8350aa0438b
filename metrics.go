package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/galadrimteam/goodfriend-relay/internal/config"
	"github.com/galadrimteam/goodfriend-relay/internal/guard"
)

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	published  *prometheus.CounterVec
	lagged     *prometheus.CounterVec
	rejections *prometheus.CounterVec
	reloads    prometheus.Counter
}

// NewMetrics registers the relay collectors on registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goodfriend_events_published_total",
				Help: "Number of events published per topic.",
			},
			[]string{"topic"},
		),
		lagged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goodfriend_events_lagged_total",
				Help: "Number of events skipped by stream clients that fell behind, per topic.",
			},
			[]string{"topic"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goodfriend_guard_rejections_total",
				Help: "Number of requests rejected before reaching their handler, per rejection code.",
			},
			[]string{"code"},
		),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goodfriend_config_reloads_total",
			Help: "Number of configuration snapshots swapped in after the config file changed.",
		}),
	}
	registry.MustRegister(m.published, m.lagged, m.rejections, m.reloads)
	return m
}

// trackConnections exports count as the number of clients connected to the
// topic's stream.
func (m *Metrics) trackConnections(topic string, count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        "goodfriend_connected_clients",
			Help:        "The number of clients currently connected to a topic stream.",
			ConstLabels: prometheus.Labels{"topic": topic},
		},
		func() float64 { return float64(count()) },
	))
}

func (m *Metrics) observeRejection(_ *http.Request, err error) {
	code := "InternalError"
	if rej, ok := guard.AsRejection(err); ok {
		code = rej.Code
	}
	m.rejections.WithLabelValues(code).Inc()
}

func (m *Metrics) observeConfigReload(_ *config.Snapshot) {
	m.reloads.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
