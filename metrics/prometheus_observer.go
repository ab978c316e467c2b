// Package metrics provides a Prometheus-backed Observer implementation,
// grounded in the counter/histogram vector style the corpus's own
// service-shaped repos use for their scheduler/IO metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/swstarlab-infolab/taskgraph"
)

// PrometheusObserver records per-node-kind, per-domain counts and
// durations. One instance should be installed per Executor.
type PrometheusObserver struct {
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	inFlight    *prometheus.GaugeVec

	starts map[int]map[string]time.Time // workerID -> node name -> start; only touched from that worker's goroutine between OnEntry/OnExit
}

// NewPrometheusObserver registers its metrics under reg (use
// prometheus.DefaultRegisterer if nil) with the given namespace.
func NewPrometheusObserver(reg prometheus.Registerer, namespace string) *PrometheusObserver {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusObserver{
		invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_invocations_total",
			Help:      "Total number of task invocations, by domain and kind.",
		}, []string{"domain", "kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task callable duration, by domain and kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain", "kind"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_in_flight",
			Help:      "Tasks currently between OnEntry and OnExit, by domain and kind.",
		}, []string{"domain", "kind"}),
		starts: make(map[int]map[string]time.Time),
	}
}

// SetUp allocates one start-time map per worker, which OnEntry/OnExit
// use to measure task durations; satisfies taskgraph.Observer.
func (o *PrometheusObserver) SetUp(numWorkers int) {
	for i := 0; i < numWorkers; i++ {
		o.starts[i] = make(map[string]time.Time)
	}
}

func (o *PrometheusObserver) OnEntry(workerID int, task taskgraph.TaskView) {
	domain := task.Domain.String()
	kind := task.Kind.String()
	o.invocations.WithLabelValues(domain, kind).Inc()
	o.inFlight.WithLabelValues(domain, kind).Inc()

	if m, ok := o.starts[workerID]; ok {
		m[task.Name] = time.Now()
	}
}

func (o *PrometheusObserver) OnExit(workerID int, task taskgraph.TaskView) {
	domain := task.Domain.String()
	kind := task.Kind.String()
	o.inFlight.WithLabelValues(domain, kind).Dec()

	if m, ok := o.starts[workerID]; ok {
		if start, ok := m[task.Name]; ok {
			o.duration.WithLabelValues(domain, kind).Observe(time.Since(start).Seconds())
			delete(m, task.Name)
		}
	}
}
