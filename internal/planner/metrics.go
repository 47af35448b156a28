package planner

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts transaction outcomes, fetched bytes and subprocess
// failures on a private registry — nothing in this module starts an HTTP
// server to scrape it, but an embedding binary can (spec.md §8).
type Metrics struct {
	Registry *prometheus.Registry

	transactionsTotal      *prometheus.CounterVec
	fetchBytesTotal        prometheus.Counter
	subprocessFailureTotal prometheus.Counter
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		transactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "opkg_transactions_total",
			Help: "Completed transactions by verb and outcome.",
		}, []string{"verb", "outcome"}),
		fetchBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opkg_fetch_bytes_total",
			Help: "Bytes downloaded through the fetcher.",
		}),
		subprocessFailureTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "opkg_subprocess_failures_total",
			Help: "Failed pkg_add/pkg_delete invocations.",
		}),
	}
	reg.MustRegister(m.transactionsTotal, m.fetchBytesTotal, m.subprocessFailureTotal)
	return m
}

func (m *Metrics) transaction(verb, outcome string) {
	m.transactionsTotal.WithLabelValues(verb, outcome).Inc()
}

func (m *Metrics) fetchedBytes(n int64) {
	if n > 0 {
		m.fetchBytesTotal.Add(float64(n))
	}
}

func (m *Metrics) subprocessFailure() {
	m.subprocessFailureTotal.Inc()
}
