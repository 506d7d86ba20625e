// Package metrics holds the Prometheus instruments of an ingestion process.
// Each Recorder owns its registry, so tests and repeated runs never collide
// on the global default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "graphvault"

// Recorder collects run metrics. A nil *Recorder is valid and records
// nothing.
type Recorder struct {
	registry *prometheus.Registry

	partitions    *prometheus.CounterVec
	nodesUpserted prometheus.Counter
	nodeFailures  prometheus.Counter
	nodesRemoved  prometheus.Counter
	filesSkipped  prometheus.Counter
	runDuration   prometheus.Histogram
}

// New creates a Recorder with all instruments registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      "Partitions processed, by outcome status.",
		}, []string{"status"}),
		nodesUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_upserted_total",
			Help:      "Node documents written to a version collection.",
		}),
		nodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_failures_total",
			Help:      "Node documents that could not be written.",
		}),
		nodesRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_removed_total",
			Help:      "Stale node documents deleted after their partition was rewritten.",
		}),
		filesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_skipped_total",
			Help:      "Export files whose hash matched the previous run.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one file's processing run.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
	}
	r.registry.MustRegister(r.partitions, r.nodesUpserted, r.nodeFailures, r.nodesRemoved, r.filesSkipped, r.runDuration)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Partition counts one partition outcome.
func (r *Recorder) Partition(status string) {
	if r == nil {
		return
	}
	r.partitions.WithLabelValues(status).Inc()
}

// NodesUpserted adds n written documents.
func (r *Recorder) NodesUpserted(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.nodesUpserted.Add(float64(n))
}

// NodeFailures adds n failed documents.
func (r *Recorder) NodeFailures(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.nodeFailures.Add(float64(n))
}

// NodesRemoved adds n deleted stale documents.
func (r *Recorder) NodesRemoved(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.nodesRemoved.Add(float64(n))
}

// FileSkipped counts one unchanged export file.
func (r *Recorder) FileSkipped() {
	if r == nil {
		return
	}
	r.filesSkipped.Inc()
}

// ObserveRun records the duration of one run.
func (r *Recorder) ObserveRun(d time.Duration) {
	if r == nil {
		return
	}
	r.runDuration.Observe(d.Seconds())
}

// WriteTextfile writes the registry in the text exposition format for the
// node-exporter textfile collector. The write is atomic.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
