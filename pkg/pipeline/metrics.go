package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by an Engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
	stageCalls    *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	guardRejects  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "runs_total",
			Help:      "Top-level graph runs by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pipegraph",
			Name:      "run_duration_seconds",
			Help:      "Wall time of top-level graph runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		stageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "stage_calls_total",
			Help:      "Stage transform invocations per node.",
		}, []string{"node"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "stage_failures_total",
			Help:      "Stage transform failures per node.",
		}, []string{"node"}),
		guardRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pipegraph",
			Name:      "guard_rejections_total",
			Help:      "Inputs passed through unchanged because the node's guard rejected them.",
		}, []string{"node"}),
	}
	for _, c := range []prometheus.Collector{m.runs, m.runDuration, m.stageCalls, m.stageFailures, m.guardRejects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeRun(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(result).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) stageProcessed(node string, err error) {
	if m == nil {
		return
	}
	m.stageCalls.WithLabelValues(node).Inc()
	if err != nil {
		m.stageFailures.WithLabelValues(node).Inc()
	}
}

func (m *Metrics) guardRejected(node string) {
	if m == nil {
		return
	}
	m.guardRejects.WithLabelValues(node).Inc()
}
