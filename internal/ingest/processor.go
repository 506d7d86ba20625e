// Package ingest runs the incremental ingestion of one export file: file
// hash check, partitioning, change classification, export of changed
// partitions and the two-phase processing state save.
package ingest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"graphvault/internal/detect"
	"graphvault/internal/export"
	"graphvault/internal/gitio"
	"graphvault/internal/graph"
	"graphvault/internal/metrics"
	"graphvault/internal/partition"
	"graphvault/internal/state"
	"graphvault/internal/store"
)

// DocumentReader parses an export file.
type DocumentReader interface {
	Read(ctx context.Context, path string) (*graph.Document, error)
	ReadMetadata(ctx context.Context, path string) (graph.Metadata, error)
}

// GraphStore is the versioned node store the processor writes to and
// manages versions in.
type GraphStore interface {
	export.GraphStore
	ListVersions(ctx context.Context) ([]store.VersionInfo, error)
}

// Options controls a single run.
type Options struct {
	// Clean drops the version collection first and rewrites every partition.
	Clean bool
	// Version overrides version resolution.
	Version string
}

// Config holds processor settings.
type Config struct {
	Export         export.Config
	DefaultVersion string
}

// Processor runs ingestion for export files. It is not safe for concurrent
// use on the same file and version.
type Processor struct {
	reader   DocumentReader
	states   state.Store
	graph    GraphStore
	cfg      Config
	logger   logrus.FieldLogger
	metrics  *metrics.Recorder
	revision func(path string) (string, error)
}

// New creates a Processor.
func New(r DocumentReader, states state.Store, gs GraphStore, cfg Config, logger logrus.FieldLogger, rec *metrics.Recorder) *Processor {
	return &Processor{
		reader:   r,
		states:   states,
		graph:    gs,
		cfg:      cfg,
		logger:   logger,
		metrics:  rec,
		revision: gitio.HeadRevision,
	}
}

// Process ingests one export file.
func (p *Processor) Process(ctx context.Context, path string, opts Options) (*Summary, error) {
	start := time.Now().UTC()
	sourceFile, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	log := p.logger.WithField("file", sourceFile)

	// The whole-file hash always comes before any partition work.
	fileHash, err := detect.FileHash(sourceFile)
	if err != nil {
		return nil, err
	}

	version, err := p.resolveVersion(ctx, sourceFile, opts)
	if err != nil {
		return nil, err
	}
	log = log.WithField("version", version)

	prior, err := p.states.Get(ctx, sourceFile, version)
	if err != nil {
		return nil, fmt.Errorf("loading processing state: %w", err)
	}

	sum := &Summary{
		RunID:      uuid.NewString(),
		SourceFile: sourceFile,
		Version:    version,
		FileHash:   fileHash,
		Clean:      opts.Clean,
		StartedAt:  start,
	}
	defer func() {
		sum.Duration = time.Since(start)
		p.metrics.ObserveRun(sum.Duration)
	}()

	if !opts.Clean {
		if dec := detect.CheckFile(fileHash, prior); !dec.Changed {
			if err := p.skipFile(ctx, prior, dec, sum); err != nil {
				return nil, err
			}
			log.Info("export unchanged, skipping")
			return sum, nil
		}
	}
	force := opts.Clean
	if prior.RunStatus == state.RunInProgress {
		log.Warn("previous run did not complete, rewriting every partition")
		force = true
	}

	doc, err := p.reader.Read(ctx, sourceFile)
	if err != nil {
		return nil, err
	}
	sum.Warnings = len(doc.Warnings)

	parts := partition.Split(doc)
	for _, part := range parts {
		part.RunID = sum.RunID
	}
	classes := detect.Classify(parts, prior, force)

	shared := partition.SharedPartition(doc)
	if shared.NodeCount() > 0 {
		shared.ContentHash = detect.ContentHash(shared)
	}
	priorShared := prior.SharedHash

	rev, err := p.revision(sourceFile)
	if err != nil {
		log.WithError(err).Warn("reading source revision")
	}
	sum.SourceRevision = rev

	// Phase one: mark the run as started. The recorded file hash stays the
	// previous one until phase two so an interrupted run is retried.
	st := prior
	st.RunStatus = state.RunInProgress
	st.SourceRevision = rev
	st.StartedAt = start
	st.CompletedAt = time.Time{}
	st.TotalProjects = len(parts)
	if err := p.states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("saving processing state: %w", err)
	}

	exp := export.New(p.graph, p.cfg.Export, log, p.metrics)
	if opts.Clean {
		if err := exp.Reset(ctx, version); err != nil {
			return nil, err
		}
	}

	var counters state.Counters
	for _, c := range classes {
		part := c.Partition
		plog := log.WithField("partition", part.ID)

		outcome := PartitionOutcome{
			ID:        part.ID,
			Project:   part.Project,
			NodeCount: part.NodeCount(),
			EdgeCount: part.EdgeCount(),
		}
		info := &state.ProjectProcessingInfo{
			ContentHash:   part.ContentHash,
			LastProcessed: time.Now().UTC(),
			NodeCount:     part.NodeCount(),
			EdgeCount:     part.EdgeCount(),
		}

		if !c.NeedsWrite() {
			if old := prior.Projects[part.ID]; old != nil {
				info.LastProcessed = old.LastProcessed
			}
			info.Status = state.StatusSkipped
		} else {
			res, err := exp.WritePartition(ctx, version, part, c.Status)
			if err != nil {
				return nil, err
			}
			info.Status = res.Status
			info.Fragments = res.Fragments
			info.Message = res.Message
			if res.Status == state.StatusFailed {
				// No hash: the next run classifies it as Updated.
				info.ContentHash = ""
			}
			outcome.Written = res.Written
			outcome.Removed = res.Removed
			outcome.Failed = len(res.Failures)
			outcome.Fragments = res.Fragments
			sum.NodesWritten += res.Written
			sum.NodesRemoved += res.Removed
			sum.NodeFailures += len(res.Failures)
		}

		outcome.Status = info.Status
		outcome.Message = info.Message
		st.SetProject(part.ID, info)
		counters.Add(info.Status)
		p.metrics.Partition(string(info.Status))
		sum.Partitions = append(sum.Partitions, outcome)

		plog.WithField("status", info.Status).Info("partition processed")
	}

	// Shared nodes have their own hash: an export whose only change is a
	// solution or layer node still rewrites them. An emptied shared set
	// removes the documents of earlier runs.
	sharedFailed := false
	if shared.ContentHash != priorShared || (force && shared.NodeCount() > 0) {
		res, err := exp.WriteShared(ctx, version, shared)
		if err != nil {
			return nil, err
		}
		sum.SharedNodes = res.Written
		sum.NodesWritten += res.Written
		sum.NodesRemoved += res.Removed
		sum.NodeFailures += len(res.Failures)
		sharedFailed = res.Status == state.StatusFailed
		if sharedFailed {
			log.WithField("partition", shared.ID).Warn(res.Message)
		}
	}

	// Phase two: final hashes and counters.
	st.FileHash = fileHash
	st.SharedHash = shared.ContentHash
	if sharedFailed {
		// Any value other than the current hash makes the next run retry.
		st.SharedHash = ""
		if shared.ContentHash == "" {
			st.SharedHash = priorShared
		}
	}
	if counters.Failed > 0 || sharedFailed {
		// Keep the file classified as changed until every node is stored.
		st.FileHash = ""
	}
	st.Counters = counters
	st.RunStatus = state.RunCompleted
	st.CompletedAt = time.Now().UTC()
	if err := p.states.Save(ctx, st); err != nil {
		return nil, fmt.Errorf("saving processing state: %w", err)
	}

	sum.TotalProjects = len(parts)
	sum.Counters = counters
	log.WithFields(logrus.Fields{
		"new":        counters.New,
		"updated":    counters.Updated,
		"skipped":    counters.Skipped,
		"failed":     counters.Failed,
		"fragmented": counters.Fragmented,
		"removed":    sum.NodesRemoved,
	}).Info("export processed")
	return sum, nil
}

// skipFile records an unchanged export: every known partition is Skipped and
// nothing is read or written beyond the state record.
func (p *Processor) skipFile(ctx context.Context, st *state.ProcessingState, dec detect.FileDecision, sum *Summary) error {
	sum.FileUnchanged = true

	var counters state.Counters
	for _, id := range dec.Skipped {
		info := *st.Projects[id]
		info.Status = state.StatusSkipped
		info.Message = ""
		st.SetProject(id, &info)
		counters.Add(state.StatusSkipped)
		p.metrics.Partition(string(state.StatusSkipped))
		sum.Partitions = append(sum.Partitions, PartitionOutcome{
			ID:        id,
			Status:    state.StatusSkipped,
			NodeCount: info.NodeCount,
			EdgeCount: info.EdgeCount,
		})
	}
	p.metrics.FileSkipped()

	st.Counters = counters
	st.TotalProjects = len(dec.Skipped)
	st.RunStatus = state.RunCompleted
	st.CompletedAt = time.Now().UTC()
	if err := p.states.Save(ctx, st); err != nil {
		return fmt.Errorf("saving processing state: %w", err)
	}

	sum.TotalProjects = len(dec.Skipped)
	sum.Counters = counters
	sum.SourceRevision = st.SourceRevision
	return nil
}

func (p *Processor) resolveVersion(ctx context.Context, sourceFile string, opts Options) (string, error) {
	if opts.Version != "" {
		return ResolveVersion(opts.Version, "", sourceFile, p.cfg.DefaultVersion), nil
	}
	meta, err := p.reader.ReadMetadata(ctx, sourceFile)
	if err != nil {
		return "", err
	}
	return ResolveVersion("", meta.GraphVersion, sourceFile, p.cfg.DefaultVersion), nil
}

// Status returns the recorded processing state of an export file.
func (p *Processor) Status(ctx context.Context, path, version string) (*state.ProcessingState, error) {
	sourceFile, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}
	if version == "" {
		if version, err = p.resolveVersion(ctx, sourceFile, Options{}); err != nil {
			return nil, err
		}
	}
	return p.states.Get(ctx, sourceFile, version)
}

// ListVersions returns every stored graph version.
func (p *Processor) ListVersions(ctx context.Context) ([]store.VersionInfo, error) {
	return p.graph.ListVersions(ctx)
}

// DeleteVersion drops a version's collection and forgets every processing
// state recorded for it, so the next run of any export rebuilds it. It
// returns the number of state records removed.
func (p *Processor) DeleteVersion(ctx context.Context, version string) (int, error) {
	if err := p.graph.DropVersion(ctx, version); err != nil {
		return 0, fmt.Errorf("dropping version %s: %w", version, err)
	}
	n, err := p.states.DeleteVersion(ctx, version)
	if err != nil {
		return 0, err
	}
	p.logger.WithFields(logrus.Fields{"version": version, "states": n}).Info("version deleted")
	return n, nil
}
