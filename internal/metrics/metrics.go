// Package metrics exposes the control plane's Prometheus metrics and
// implements jobmanager.Recorder so the Job Manager can report into it
// without importing it back.
//
// The collector shapes (CounterVec/GaugeVec, a private registry,
// promhttp.HandlerFor) are grounded on
// mattcburns-shoal-provision's internal/provisioner/metrics/metrics.go,
// the only pack example with Prometheus wired in, restructured from that
// file's package-level globals into an explicitly constructed value (no
// package-level mutable state), matching this repo's convention of
// passing collaborators in rather than reaching for globals.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/makr-code/loraforge/internal/domain"
)

// Metrics is the Prometheus collector set for one running service. It
// implements jobmanager.Recorder.
type Metrics struct {
	registry *prometheus.Registry

	jobsSubmittedTotal    *prometheus.CounterVec
	jobsTerminalTotal     *prometheus.CounterVec
	queueDepth            prometheus.Gauge
	workersBusy           prometheus.Gauge
	progressEventsTotal   prometheus.Counter
	subscribersActive     prometheus.Gauge
	slowConsumerEvictions prometheus.Counter
}

// New constructs a Metrics with its own private registry, so multiple
// instances (e.g. one per cmd/ binary under test) never collide on the
// default global registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	jobsSubmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loraforge",
		Name:      "jobs_submitted_total",
		Help:      "Total jobs submitted, grouped by trainer kind.",
	}, []string{"trainer_kind"})

	jobsTerminal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loraforge",
		Name:      "jobs_terminal_total",
		Help:      "Total jobs reaching a terminal status, grouped by status.",
	}, []string{"status"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "loraforge",
		Name:      "queue_depth",
		Help:      "Current number of jobs waiting in the priority queue.",
	})

	workersBusy := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "loraforge",
		Name:      "workers_busy",
		Help:      "Current number of workers actively running a job.",
	})

	progressEvents := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "loraforge",
		Name:      "progress_events_total",
		Help:      "Total progress events published through the hub.",
	})

	subscribersActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "loraforge",
		Name:      "subscribers_active",
		Help:      "Current number of live progress-hub subscriptions.",
	})

	slowConsumerEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "loraforge",
		Name:      "slow_consumer_evictions_total",
		Help:      "Total subscriptions evicted for falling behind their buffer.",
	})

	registry.MustRegister(
		jobsSubmitted, jobsTerminal, queueDepth, workersBusy,
		progressEvents, subscribersActive, slowConsumerEvictions,
	)

	return &Metrics{
		registry:              registry,
		jobsSubmittedTotal:    jobsSubmitted,
		jobsTerminalTotal:     jobsTerminal,
		queueDepth:            queueDepth,
		workersBusy:           workersBusy,
		progressEventsTotal:   progressEvents,
		subscribersActive:     subscribersActive,
		slowConsumerEvictions: slowConsumerEvictions,
	}
}

// Handler returns an HTTP handler that exposes metrics in Prometheus
// exposition format, for mounting at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobSubmitted(kind domain.TrainerKind) {
	m.jobsSubmittedTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) JobTerminal(status domain.JobStatus) {
	m.jobsTerminalTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) QueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) WorkersBusy(delta int) {
	m.workersBusy.Add(float64(delta))
}

func (m *Metrics) ProgressEventPublished() {
	m.progressEventsTotal.Inc()
}

func (m *Metrics) SubscribersActive(n int) {
	m.subscribersActive.Set(float64(n))
}

func (m *Metrics) SlowConsumerEvicted() {
	m.slowConsumerEvictions.Inc()
}
