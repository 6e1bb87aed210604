// Package metrics holds the Prometheus collectors the scheduler and the
// core-limit rebalancer report through. Registration
// happens once in Register so tests that construct more than one scheduler
// in the same process don't panic on duplicate registration.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zoe_scheduler_queue_length",
		Help: "Number of executions currently pending placement.",
	})

	RunningLength = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zoe_scheduler_running_length",
		Help: "Number of executions currently placed and running.",
	})

	TerminationThreadsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zoe_scheduler_termination_threads_in_flight",
		Help: "Number of asynchronous termination tasks the scheduler is reaping.",
	})

	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoe_scheduler_round_duration_seconds",
		Help:    "Wall-clock time of one scheduler wake-up, including all inner placement iterations.",
		Buckets: prometheus.DefBuckets,
	})

	InnerIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoe_scheduler_inner_iterations",
		Help:    "Number of inner placement iterations a round ran before converging.",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	StartEssentialTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zoe_scheduler_start_essential_total",
		Help: "Results of backend.StartEssential calls by outcome.",
	}, []string{"result"})

	RequeueTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoe_scheduler_requeue_total",
		Help: "Total number of executions re-queued after a transient failure.",
	})

	FatalTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoe_scheduler_fatal_total",
		Help: "Total number of executions dropped after an unrecoverable start error.",
	})

	DeadEssentialTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoe_scheduler_dead_essential_total",
		Help: "Total number of executions terminated because an essential service died.",
	})

	DeadElasticTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoe_scheduler_dead_elastic_total",
		Help: "Total number of elastic services rescheduled after dying.",
	})

	RebalanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoe_rebalancer_cycle_duration_seconds",
		Help:    "Time taken for one core-limit rebalance cycle.",
		Buckets: prometheus.DefBuckets,
	})

	RebalanceEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "zoe_rebalancer_events_total",
		Help: "Total number of core-limit rebalance cycles executed.",
	})

	CoresAssigned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "zoe_rebalancer_cores_assigned",
		Help:    "Distribution of per-service core limits issued by the rebalancer.",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})
)

var registerOnce sync.Once

// Register installs every collector into reg. Safe to call more than once
// per process; only the first call takes effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			QueueLength,
			RunningLength,
			TerminationThreadsInFlight,
			RoundDuration,
			InnerIterations,
			StartEssentialTotal,
			RequeueTotal,
			FatalTotal,
			DeadEssentialTotal,
			DeadElasticTotal,
			RebalanceDuration,
			RebalanceEventsTotal,
			CoresAssigned,
		)
	})
}

// Handler returns the Prometheus scrape handler for cmd/zoed to mount.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports it to a histogram on ObserveDuration.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
