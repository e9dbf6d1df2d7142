package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SchedulerMetrics exposes the scheduler's Prometheus-compatible
// instrumentation, namespaced "flowsched". It is safe for concurrent use:
// every update is a single atomic operation on the underlying collector.
type SchedulerMetrics struct {
	runningFlows   prometheus.Gauge
	readyQueue     prometheus.Gauge
	flowLatency    *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	deadlocks      prometheus.Counter
	cascadeSkips   *prometheus.CounterVec
	checkpointsHit prometheus.Counter
}

// NewSchedulerMetrics registers the scheduler's metrics with registry. A nil
// registry uses prometheus.DefaultRegisterer.
func NewSchedulerMetrics(registry prometheus.Registerer) *SchedulerMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &SchedulerMetrics{
		runningFlows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowsched",
			Name:      "running_flows",
			Help:      "Current number of flows executing concurrently",
		}),
		readyQueue: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowsched",
			Name:      "ready_queue_depth",
			Help:      "Number of flows currently ready to start but waiting for a slot",
		}),
		flowLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowsched",
			Name:      "flow_latency_ms",
			Help:      "Flow execution duration in milliseconds, labeled by outcome",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"flow_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsched",
			Name:      "retries_total",
			Help:      "Cumulative retry attempts across all flows",
		}, []string{"flow_id"}),
		deadlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsched",
			Name:      "deadlocks_total",
			Help:      "Runs that terminated in a detected deadlock",
		}),
		cascadeSkips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowsched",
			Name:      "cascade_skips_total",
			Help:      "Flows skipped or cascade-failed because of a dependency outcome",
		}, []string{"flow_id", "reason"}),
		checkpointsHit: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "flowsched",
			Name:      "checkpoints_written_total",
			Help:      "Checkpoints successfully persisted during a run",
		}),
	}
}

func (m *SchedulerMetrics) setRunning(n int) {
	if m == nil {
		return
	}
	m.runningFlows.Set(float64(n))
}

func (m *SchedulerMetrics) setReady(n int) {
	if m == nil {
		return
	}
	m.readyQueue.Set(float64(n))
}

func (m *SchedulerMetrics) observeLatency(flowID, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.flowLatency.WithLabelValues(flowID, status).Observe(float64(d.Milliseconds()))
}

func (m *SchedulerMetrics) incRetry(flowID string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(flowID).Inc()
}

func (m *SchedulerMetrics) incDeadlock() {
	if m == nil {
		return
	}
	m.deadlocks.Inc()
}

func (m *SchedulerMetrics) incCascade(flowID, reason string) {
	if m == nil {
		return
	}
	m.cascadeSkips.WithLabelValues(flowID, reason).Inc()
}

func (m *SchedulerMetrics) incCheckpoint() {
	if m == nil {
		return
	}
	m.checkpointsHit.Inc()
}
