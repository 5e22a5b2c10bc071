// Package metrics exposes recipe completion counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder owns a private registry so tests and multiple servers in one
// process do not collide. A nil *Recorder records nothing.
type Recorder struct {
	registry     *prometheus.Registry
	completions  *prometheus.CounterVec
	depleted     prometheus.Counter
	shortfalls   prometheus.Counter
	planDuration prometheus.Histogram
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		completions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "larder",
				Name:      "completions_total",
				Help:      "Recipe completion requests by outcome",
			},
			[]string{"outcome"},
		),
		depleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "records_depleted_total",
			Help:      "Inventory records deleted after reaching zero",
		}),
		shortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "larder",
			Name:      "shortfall_candidates_total",
			Help:      "Shopping-list candidates produced by applied completions",
		}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "larder",
			Name:      "plan_duration_seconds",
			Help:      "Time spent parsing, matching, converting and planning a request",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	registry.MustRegister(
		r.completions,
		r.depleted,
		r.shortfalls,
		r.planDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObservePlanDuration records how long planning took.
func (r *Recorder) ObservePlanDuration(d time.Duration) {
	if r == nil {
		return
	}
	r.planDuration.Observe(d.Seconds())
}

// ObserveCompletion counts one completion request by outcome.
func (r *Recorder) ObserveCompletion(outcome string) {
	if r == nil {
		return
	}
	r.completions.WithLabelValues(outcome).Inc()
}

// ObserveDepleted counts records deleted by a completion.
func (r *Recorder) ObserveDepleted(records int) {
	if r == nil || records <= 0 {
		return
	}
	r.depleted.Add(float64(records))
}

// ObserveShortfalls counts shortfall candidates of a completion.
func (r *Recorder) ObserveShortfalls(candidates int) {
	if r == nil || candidates <= 0 {
		return
	}
	r.shortfalls.Add(float64(candidates))
}

// Handler serves the registry in the prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
