// Package export writes partitions into a version collection: it builds node
// documents, splits them into batches and size-bounded fragments, and turns
// per-document write failures into partition outcomes.
package export

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"graphvault/internal/metrics"
	"graphvault/internal/partition"
	"graphvault/internal/state"
	"graphvault/internal/store"
)

const (
	// DefaultBatchSize is the number of documents per write transaction.
	DefaultBatchSize = 1000
	// DefaultMaxWriteBytes is the per-write serialized size limit.
	DefaultMaxWriteBytes = 16 << 20
)

// GraphStore is the subset of *store.DB the exporter writes through.
type GraphStore interface {
	EnsureIndexes(ctx context.Context, version string) error
	UpsertBatch(ctx context.Context, version string, docs []store.EncodedDocument) (store.BatchResult, error)
	PruneStale(ctx context.Context, version, partitionID string, keep []string) (int, error)
	DropVersion(ctx context.Context, version string) error
}

// Config tunes batching.
type Config struct {
	BatchSize     int
	MaxWriteBytes int64
}

// NodeWriteError describes one node document that was not persisted.
type NodeWriteError struct {
	Partition string
	Key       string
	SourceID  string
	Err       error
}

func (e *NodeWriteError) Error() string {
	return fmt.Sprintf("partition %s: node %s (%s): %v", e.Partition, e.SourceID, e.Key, e.Err)
}

func (e *NodeWriteError) Unwrap() error { return e.Err }

// Result is the outcome of writing one partition.
type Result struct {
	Status    state.Status
	Written   int
	Removed   int
	Failures  []*NodeWriteError
	Fragments int
	Bytes     int64
	Message   string
}

// Exporter writes partitions for one run. Indexes of a version are ensured
// once per Exporter, before its first write to that version.
type Exporter struct {
	store   GraphStore
	cfg     Config
	logger  logrus.FieldLogger
	metrics *metrics.Recorder
	ensured map[string]bool
}

// New creates an Exporter. Zero config values fall back to the defaults.
func New(gs GraphStore, cfg Config, logger logrus.FieldLogger, rec *metrics.Recorder) *Exporter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxWriteBytes <= 0 {
		cfg.MaxWriteBytes = DefaultMaxWriteBytes
	}
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	return &Exporter{
		store:   gs,
		cfg:     cfg,
		logger:  logger,
		metrics: rec,
		ensured: make(map[string]bool),
	}
}

// Reset drops a version's collection. The next write recreates it with its
// indexes.
func (e *Exporter) Reset(ctx context.Context, version string) error {
	if err := e.store.DropVersion(ctx, version); err != nil {
		return fmt.Errorf("dropping version %s: %w", version, err)
	}
	delete(e.ensured, version)
	e.logger.WithField("version", version).Info("dropped version collection")
	return nil
}

func (e *Exporter) ensure(ctx context.Context, version string) error {
	if e.ensured[version] {
		return nil
	}
	if err := e.store.EnsureIndexes(ctx, version); err != nil {
		return fmt.Errorf("ensuring indexes for version %s: %w", version, err)
	}
	e.ensured[version] = true
	return nil
}

// WritePartition persists one partition. status is the classification that
// led to the write (New or Updated) and is returned unchanged on success.
// The error is reserved for conditions that end the run: cancellation and a
// store that cannot be prepared.
func (e *Exporter) WritePartition(ctx context.Context, version string, p *partition.Partition, status state.Status) (*Result, error) {
	docs := BuildDocuments(p.Nodes, p.Edges, version, p.ID)
	return e.write(ctx, version, p.ID, docs, status)
}

// WriteShared persists the shared partition (see partition.SharedPartition):
// solution and layer nodes and nodes without a project. With no nodes it
// only removes the shared documents of earlier runs.
func (e *Exporter) WriteShared(ctx context.Context, version string, p *partition.Partition) (*Result, error) {
	docs := BuildDocuments(p.Nodes, p.Edges, version, p.ID)
	return e.write(ctx, version, p.ID, docs, state.StatusUpdated)
}

func (e *Exporter) write(ctx context.Context, version, partID string, docs []*store.NodeDocument, status state.Status) (*Result, error) {
	if err := e.ensure(ctx, version); err != nil {
		return nil, err
	}
	log := e.logger.WithFields(logrus.Fields{"partition": partID, "version": version})
	res := &Result{Status: status}

	encoded := make([]store.EncodedDocument, 0, len(docs))
	for _, d := range docs {
		ed, err := store.Encode(d)
		if err != nil {
			res.Failures = append(res.Failures, &NodeWriteError{Partition: partID, Key: d.Key, SourceID: d.SourceID, Err: err})
			continue
		}
		if int64(len(ed.Data)) > e.cfg.MaxWriteBytes {
			res.Failures = append(res.Failures, &NodeWriteError{
				Partition: partID, Key: d.Key, SourceID: d.SourceID,
				Err: fmt.Errorf("document of %d bytes exceeds write limit of %d bytes", len(ed.Data), e.cfg.MaxWriteBytes),
			})
			continue
		}
		res.Bytes += int64(len(ed.Data))
		encoded = append(encoded, ed)
	}

	groups := e.group(encoded)
	fragmented := res.Bytes > e.cfg.MaxWriteBytes

	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		br, err := e.store.UpsertBatch(ctx, version, g)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			for _, ed := range g {
				res.Failures = append(res.Failures, &NodeWriteError{Partition: partID, Key: ed.Doc.Key, SourceID: ed.Doc.SourceID, Err: err})
			}
			continue
		}
		res.Written += br.Written
		for _, f := range br.Failures {
			res.Failures = append(res.Failures, &NodeWriteError{Partition: partID, Key: f.Key, SourceID: f.SourceID, Err: f.Err})
		}
	}

	for _, f := range res.Failures {
		log.WithError(f.Err).WithField("node", f.SourceID).Warn("node write failed")
	}
	e.metrics.NodesUpserted(res.Written)
	e.metrics.NodeFailures(len(res.Failures))

	// Only a complete write knows the partition's full key set.
	var pruneErr error
	if len(res.Failures) == 0 {
		keep := make([]string, 0, len(docs))
		for _, d := range docs {
			keep = append(keep, d.Key)
		}
		removed, err := e.store.PruneStale(ctx, version, partID, keep)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			pruneErr = err
		} else {
			res.Removed = removed
			e.metrics.NodesRemoved(removed)
		}
	}

	if fragmented {
		res.Fragments = len(groups)
	}
	switch {
	case len(res.Failures) > 0:
		res.Status = state.StatusFailed
		res.Message = failureMessage(res.Failures, len(docs))
	case pruneErr != nil:
		res.Status = state.StatusFailed
		res.Message = fmt.Sprintf("removing stale documents: %v", pruneErr)
	case fragmented:
		res.Status = state.StatusFragmented
		res.Message = fmt.Sprintf("written in %d fragments: %d bytes exceeds write limit of %d bytes",
			res.Fragments, res.Bytes, e.cfg.MaxWriteBytes)
	}

	log.WithFields(logrus.Fields{
		"status":  res.Status,
		"written": res.Written,
		"removed": res.Removed,
		"failed":  len(res.Failures),
	}).Debug("partition written")
	return res, nil
}

// group splits documents into write groups bounded by both BatchSize and
// MaxWriteBytes, preserving order.
func (e *Exporter) group(docs []store.EncodedDocument) [][]store.EncodedDocument {
	var groups [][]store.EncodedDocument
	var cur []store.EncodedDocument
	var size int64
	for _, ed := range docs {
		n := int64(len(ed.Data))
		if len(cur) > 0 && (len(cur) >= e.cfg.BatchSize || size+n > e.cfg.MaxWriteBytes) {
			groups = append(groups, cur)
			cur, size = nil, 0
		}
		cur = append(cur, ed)
		size += n
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

func failureMessage(failures []*NodeWriteError, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d node documents failed", len(failures), total)
	if len(failures) > 0 {
		fmt.Fprintf(&b, "; first: %s: %v", failures[0].SourceID, failures[0].Err)
	}
	return b.String()
}
