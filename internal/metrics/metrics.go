// Package metrics collects per-run counters and writes them in the
// node_exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sendgrab/sendgrab/internal/failure"
)

const namespace = "sendgrab"

// Metrics holds the run's collectors on a private registry, so several runs
// in one process (tests) never collide.
type Metrics struct {
	registry *prometheus.Registry

	filesTotal      *prometheus.CounterVec
	linksTotal      *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	bytesDownloaded prometheus.Counter
	runDuration     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		filesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Files processed, by outcome.",
			},
			[]string{"outcome"},
		),
		linksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "links_total",
				Help:      "Package links processed, by result.",
			},
			[]string{"result"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors, by failure kind.",
			},
			[]string{"kind"},
		),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Decrypted bytes written to the destination directory.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}

	m.registry.MustRegister(
		m.filesTotal,
		m.linksTotal,
		m.errorsTotal,
		m.bytesDownloaded,
		m.runDuration,
	)
	return m
}

// RecordFile counts one file outcome; bytes only counts for downloads.
func (m *Metrics) RecordFile(outcome string, bytes int64) {
	m.filesTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		m.bytesDownloaded.Add(float64(bytes))
	}
}

// RecordLink counts one processed link as "ok" or "failed".
func (m *Metrics) RecordLink(err error) {
	if err != nil {
		m.linksTotal.WithLabelValues("failed").Inc()
		return
	}
	m.linksTotal.WithLabelValues("ok").Inc()
}

// RecordError counts err under its failure kind.
func (m *Metrics) RecordError(err error) {
	if err == nil {
		return
	}
	m.errorsTotal.WithLabelValues(failure.KindOf(err).String()).Inc()
}

// ObserveRun records the run's wall time.
func (m *Metrics) ObserveRun(d time.Duration) {
	m.runDuration.Set(d.Seconds())
}

// WriteTextfile writes every collector to path, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
