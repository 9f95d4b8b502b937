// Package metrics exposes Prometheus collectors for the poller, the pass
// pipeline and the workflow state machine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quill"

// Metrics holds every quill collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	pollFetches      *prometheus.CounterVec
	pollOutcomes     *prometheus.CounterVec
	pollsActive      prometheus.Gauge
	passDuration     *prometheus.HistogramVec
	passFailures     *prometheus.CounterVec
	pipelineRuns     *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	scoreCacheLookup *prometheus.CounterVec
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global Prometheus registry.
// Collectors are created once so repeated construction does not panic.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNew(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNew registers quill's collectors with reg and panics on any
// registration error other than AlreadyRegistered, in which case the
// existing collector is reused.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		pollFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetches_total",
			Help:      "Status fetches issued by job pollers.",
		}, []string{"result"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "outcomes_total",
			Help:      "How poll loops ended.",
		}, []string{"outcome"}),
		pollsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "active",
			Help:      "Poll loops currently running.",
		}),
		passDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pass_duration_seconds",
			Help:      "Time spent in each applyPass call.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"pass", "status"}),
		passFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "pass_failures_total",
			Help:      "Passes that halted a pipeline run.",
		}, []string{"pass"}),
		pipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow state transitions by edge.",
		}, []string{"from", "to"}),
		scoreCacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "cache_lookups_total",
			Help:      "Score cache lookups by result.",
		}, []string{"result"}),
	}

	m.pollFetches = register(reg, m.pollFetches)
	m.pollOutcomes = register(reg, m.pollOutcomes)
	m.pollsActive = register(reg, m.pollsActive)
	m.passDuration = register(reg, m.passDuration)
	m.passFailures = register(reg, m.passFailures)
	m.pipelineRuns = register(reg, m.pipelineRuns)
	m.transitions = register(reg, m.transitions)
	m.scoreCacheLookup = register(reg, m.scoreCacheLookup)

	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Handler returns the HTTP handler serving the given gatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// PollStarted marks a poll loop as running.
func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.pollsActive.Inc()
}

// PollFetched counts one status fetch.
func (m *Metrics) PollFetched(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.pollFetches.WithLabelValues(result).Inc()
}

// PollFinished records how a poll loop ended: "terminal", "error_threshold", "canceled" or "invalid".
func (m *Metrics) PollFinished(outcome string) {
	if m == nil {
		return
	}
	m.pollsActive.Dec()
	m.pollOutcomes.WithLabelValues(outcome).Inc()
}

// PassObserved records one applyPass call.
func (m *Metrics) PassObserved(pass string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.passFailures.WithLabelValues(pass).Inc()
	}
	m.passDuration.WithLabelValues(pass, status).Observe(d.Seconds())
}

// PipelineFinished counts a pipeline run by outcome.
func (m *Metrics) PipelineFinished(outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(outcome).Inc()
}

// Transition counts one workflow edge.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// ScoreCacheLookup counts a score cache hit or miss.
func (m *Metrics) ScoreCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.scoreCacheLookup.WithLabelValues(result).Inc()
}
