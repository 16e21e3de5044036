package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "line_relay"

// Metrics counts relay activity. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	events   *prometheus.CounterVec
	upstream *prometheus.CounterVec
	replies  *prometheus.CounterVec
}

// New registers the relay collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Text message events dispatched, by branch.",
		}, []string{"branch"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Failed calls to downstream services, by dependency.",
		}, []string{"dependency"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Reply API calls, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.events, m.upstream, m.replies)
	return m
}

func (m *Metrics) EventDispatched(branch string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(branch).Inc()
}

func (m *Metrics) UpstreamFailed(dependency string) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(dependency).Inc()
}

func (m *Metrics) ReplySent(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.replies.WithLabelValues(outcome).Inc()
}
