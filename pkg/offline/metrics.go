package offline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Response sources, used both as metric labels and SourceHeader values.
const (
	SourceNetwork     = "network"
	SourceCache       = "cache"
	SourceShell       = "shell"
	SourceSynthesized = "synthesized"
	SourcePassthrough = "passthrough"
)

// Metrics counts how intercepted requests were answered. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	requests      *prometheus.CounterVec
	writeFailures prometheus.Counter
	evicted       prometheus.Counter
}

// NewMetrics registers the controller's collectors on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mimi",
			Subsystem: "offline",
			Name:      "requests_total",
			Help:      "Requests handled by the offline cache controller by strategy and answer source.",
		}, []string{"strategy", "source"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mimi",
			Subsystem: "offline",
			Name:      "cache_write_failures_total",
			Help:      "Best-effort cache writes that failed.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mimi",
			Subsystem: "offline",
			Name:      "generations_evicted_total",
			Help:      "Stale cache generations deleted during activation.",
		}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.writeFailures, m.evicted} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(strategy, source string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(strategy, source).Inc()
}

func (m *Metrics) writeFailed() {
	if m == nil {
		return
	}
	m.writeFailures.Inc()
}

func (m *Metrics) evictedN(n int) {
	if m == nil {
		return
	}
	m.evicted.Add(float64(n))
}
