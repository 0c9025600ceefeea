package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"sessiond/internal/manager"
)

// StatsFunc reports the current memory snapshot for gauge collection.
type StatsFunc func() manager.MemoryStats

// Metrics is an EventPublisher that maintains sessiond_* series. Counters are
// driven by events; memory gauges are read from stats at scrape time.
type Metrics struct {
	admitted     *prometheus.CounterVec
	rejected     prometheus.Counter
	evicted      *prometheus.CounterVec
	closed       prometheus.Counter
	loadFailures prometheus.Counter
	generations  *prometheus.CounterVec
	tokens       prometheus.Counter
	tps          prometheus.Histogram
	ttft         prometheus.Histogram
}

// NewMetrics registers the series on reg. stats may be nil, in which case no
// memory gauges are exported.
func NewMetrics(reg prometheus.Registerer, stats StatsFunc) (*Metrics, error) {
	m := &Metrics{
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "sessions", Name: "admitted_total",
			Help: "Sessions admitted, by admission outcome",
		}, []string{"outcome"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "sessions", Name: "rejected_total",
			Help: "Sessions rejected by admission control",
		}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "sessions", Name: "evicted_total",
			Help: "Sessions evicted, by cause",
		}, []string{"cause"}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "sessions", Name: "closed_total",
			Help: "Sessions closed by request",
		}),
		loadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "sessions", Name: "load_failures_total",
			Help: "Model loads that failed after admission",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "generation", Name: "finished_total",
			Help: "Finished generations, by finish reason",
		}, []string{"finish_reason"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sessiond", Subsystem: "generation", Name: "tokens_total",
			Help: "Completion tokens generated",
		}),
		tps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sessiond", Subsystem: "generation", Name: "tokens_per_second",
			Help:    "Decode throughput per generation",
			Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
		}),
		ttft: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sessiond", Subsystem: "generation", Name: "time_to_first_token_seconds",
			Help:    "Latency from request start to the first decoded token",
			Buckets: prometheus.DefBuckets,
		}),
	}
	cs := []prometheus.Collector{m.admitted, m.rejected, m.evicted, m.closed, m.loadFailures, m.generations, m.tokens, m.tps, m.ttft}
	if stats != nil {
		cs = append(cs,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "sessiond", Subsystem: "memory", Name: "used_bytes",
				Help: "Estimated bytes held by resident sessions",
			}, func() float64 { return float64(stats().TotalBytes) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "sessiond", Subsystem: "memory", Name: "budget_bytes",
				Help: "Configured memory budget",
			}, func() float64 { return float64(stats().BudgetBytes) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "sessiond", Subsystem: "sessions", Name: "active",
				Help: "Sessions in ready or generating state",
			}, func() float64 { return float64(stats().ActiveSessions) }),
		)
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Publish(e manager.Event) {
	switch e.Name {
	case manager.EventSessionAdmitted:
		m.admitted.WithLabelValues(str(e.Fields["outcome"], "admitted")).Inc()
	case manager.EventAdmissionRejected:
		m.rejected.Inc()
	case manager.EventSessionEvicted:
		m.evicted.WithLabelValues(str(e.Fields["cause"], "unspecified")).Inc()
	case manager.EventSessionClosed:
		m.closed.Inc()
	case manager.EventSessionLoadFailed:
		m.loadFailures.Inc()
	case manager.EventGenerationCompleted, manager.EventGenerationError:
		m.generations.WithLabelValues(str(e.Fields["finish_reason"], "error")).Inc()
		if n, ok := e.Fields["completion_tokens"].(int); ok {
			m.tokens.Add(float64(n))
		}
		if tps, ok := e.Fields["tokens_per_second"].(float64); ok && tps > 0 {
			m.tps.Observe(tps)
		}
	case manager.EventGenerationFirstToken:
		if ms, ok := e.Fields["latency_ms"].(int64); ok {
			m.ttft.Observe(float64(ms) / 1000)
		}
	}
}

func str(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}
