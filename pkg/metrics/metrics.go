// Package metrics records archive generation counters for the node exporter
// textfile collector. The generator is a short-lived process, so nothing is
// served over HTTP; the registry is flushed to a file on exit.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "thermobaric"

// Recorder owns a private registry with the generator's metrics.
type Recorder struct {
	registry   *prometheus.Registry
	archives   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	advisories *prometheus.CounterVec
	entries    *prometheus.CounterVec
	logical    *prometheus.CounterVec
	compressed *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
}

// New creates a Recorder with all collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_generated_total",
			Help:      "Archives committed, by strategy.",
		}, []string{"strategy"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_failures_total",
			Help:      "Generations that ended in an error, by strategy.",
		}, []string{"strategy"}),
		advisories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_advisories_total",
			Help:      "Non-fatal resource advisories raised, by strategy.",
		}, []string{"strategy"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entries_written_total",
			Help:      "Archive members written, by strategy.",
		}, []string{"strategy"}),
		logical: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logical_bytes_total",
			Help:      "Uncompressed bytes a full extraction would produce, by strategy.",
		}, []string{"strategy"}),
		compressed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_size_bytes",
			Help:      "Size of the most recent archive on disk, by strategy.",
		}, []string{"strategy"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Wall time spent building one archive, by strategy.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"strategy"}),
	}

	r.registry.MustRegister(r.archives, r.failures, r.advisories, r.entries, r.logical, r.compressed, r.duration)
	return r
}

// Registry exposes the underlying gatherer.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Completed records a committed archive.
func (r *Recorder) Completed(strategy string, logicalBytes uint64, archiveBytes int64, elapsed time.Duration) {
	r.archives.WithLabelValues(strategy).Inc()
	r.logical.WithLabelValues(strategy).Add(float64(logicalBytes))
	r.compressed.WithLabelValues(strategy).Set(float64(archiveBytes))
	r.duration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// Failed records a generation that returned an error.
func (r *Recorder) Failed(strategy string) {
	r.failures.WithLabelValues(strategy).Inc()
}

// Advisory records a resource advisory.
func (r *Recorder) Advisory(strategy string) {
	r.advisories.WithLabelValues(strategy).Inc()
}

// EntryWritten records one archive member.
func (r *Recorder) EntryWritten(strategy string) {
	r.entries.WithLabelValues(strategy).Inc()
}

// WriteTextfile atomically writes the registry in text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("metrics: textfile path is required")
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
