// Package metrics exposes provisioning and activation counters on a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "worlds"

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	// ResultInstallerFailed marks a provisioning run whose installer or updater exited non-zero.
	ResultInstallerFailed = "installer_failed"
	ResultRejected        = "rejected"
)

// Recorder owns the registry and the instruments.
type Recorder struct {
	registry *prometheus.Registry

	provisionTotal     *prometheus.CounterVec
	provisionDuration  prometheus.Histogram
	activationTotal    *prometheus.CounterVec
	activationDuration *prometheus.HistogramVec
}

// New registers the instruments plus Go runtime and process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		provisionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provision_total",
			Help:      "Provisioning runs by result.",
		}, []string{"result"}),
		provisionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provision_duration_seconds",
			Help:      "Wall time of provisioning runs, including installer subprocesses.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		activationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_total",
			Help:      "World activations by operation and result.",
		}, []string{"operation", "result"}),
		activationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activation_duration_seconds",
			Help:      "Wall time of world activations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	r.registry.MustRegister(
		r.provisionTotal,
		r.provisionDuration,
		r.activationTotal,
		r.activationDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveProvision records one provisioning run.
func (r *Recorder) ObserveProvision(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.provisionTotal.WithLabelValues(result).Inc()
	r.provisionDuration.Observe(elapsed.Seconds())
}

// ObserveActivation records one activation.
func (r *Recorder) ObserveActivation(operation, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.activationTotal.WithLabelValues(operation, result).Inc()
	r.activationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
