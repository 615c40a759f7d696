// Package metrics exposes Prometheus instrumentation for module runs, the
// progress feed and the provider circuit breaker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "soundguard"

// Recorder owns a private registry. A nil *Recorder records nothing.
type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	runSeconds  *prometheus.HistogramVec
	subscribers prometheus.Gauge
	dropped     prometheus.Counter
	breaker     *prometheus.GaugeVec
}

// New creates a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "module_runs_total",
			Help:      "Module runs by outcome.",
		}, []string{"module", "status"}),
		runSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "module_run_seconds",
			Help:      "Time spent in the analysis provider per module run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"module"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_subscribers",
			Help:      "Connected progress feed observers.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_dropped_total",
			Help:      "Progress events dropped because an observer was not keeping up.",
		}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_breaker_state",
			Help:      "1 for the current provider circuit breaker state.",
		}, []string{"state"}),
	}
	r.registry.MustRegister(
		r.runs,
		r.runSeconds,
		r.subscribers,
		r.dropped,
		r.breaker,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.BreakerState("closed")
	return r
}

// ObserveRun records one finished module run. status is "complete" or "error".
func (r *Recorder) ObserveRun(module, status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(module, status).Inc()
	r.runSeconds.WithLabelValues(module).Observe(elapsed.Seconds())
}

// SubscriberAdded increments the observer gauge.
func (r *Recorder) SubscriberAdded() {
	if r == nil {
		return
	}
	r.subscribers.Inc()
}

// SubscriberRemoved decrements the observer gauge.
func (r *Recorder) SubscriberRemoved() {
	if r == nil {
		return
	}
	r.subscribers.Dec()
}

// EventDropped counts one event not delivered to a slow observer.
func (r *Recorder) EventDropped() {
	if r == nil {
		return
	}
	r.dropped.Inc()
}

// BreakerState marks state as current.
func (r *Recorder) BreakerState(state string) {
	if r == nil {
		return
	}
	for _, s := range []string{"closed", "open", "half-open"} {
		v := 0.0
		if s == state {
			v = 1
		}
		r.breaker.WithLabelValues(s).Set(v)
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
