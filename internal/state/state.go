// Package state persists what each run learned about an export, so the next
// run can tell which partitions changed.
package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrStoreUnavailable wraps failures to open or reach the state backend.
var ErrStoreUnavailable = errors.New("processing state store unavailable")

// Status is the outcome recorded for one partition.
type Status string

const (
	StatusNew        Status = "New"
	StatusUpdated    Status = "Updated"
	StatusSkipped    Status = "Skipped"
	StatusFailed     Status = "Failed"
	StatusFragmented Status = "Fragmented"
)

// Statuses lists every partition status in summary order.
var Statuses = []Status{StatusNew, StatusUpdated, StatusSkipped, StatusFailed, StatusFragmented}

// RunStatus tracks whether the final save of a run happened.
type RunStatus string

const (
	RunInProgress RunStatus = "InProgress"
	RunCompleted  RunStatus = "Completed"
)

// ProjectProcessingInfo is the recorded outcome for one partition.
type ProjectProcessingInfo struct {
	ContentHash   string    `json:"contentHash"`
	Status        Status    `json:"status"`
	LastProcessed time.Time `json:"lastProcessed"`
	NodeCount     int       `json:"nodeCount"`
	EdgeCount     int       `json:"edgeCount"`
	Fragments     int       `json:"fragments,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// Counters aggregates partition outcomes of one run.
type Counters struct {
	New        int `json:"new"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
	Fragmented int `json:"fragmented"`
}

// Add counts one partition outcome.
func (c *Counters) Add(s Status) {
	switch s {
	case StatusNew:
		c.New++
	case StatusUpdated:
		c.Updated++
	case StatusSkipped:
		c.Skipped++
	case StatusFailed:
		c.Failed++
	case StatusFragmented:
		c.Fragmented++
	}
}

// Get returns the count for one status.
func (c Counters) Get(s Status) int {
	switch s {
	case StatusNew:
		return c.New
	case StatusUpdated:
		return c.Updated
	case StatusSkipped:
		return c.Skipped
	case StatusFailed:
		return c.Failed
	case StatusFragmented:
		return c.Fragmented
	}
	return 0
}

// ProcessingState is the record kept per (source file, version).
type ProcessingState struct {
	ID             string    `json:"id"`
	SourceFile     string    `json:"sourceFile"`
	Version        string    `json:"version"`
	FileHash       string    `json:"fileHash"`
	SharedHash     string    `json:"sharedHash,omitempty"`
	SourceRevision string    `json:"sourceRevision,omitempty"`
	RunStatus      RunStatus `json:"runStatus,omitempty"`
	TotalProjects  int       `json:"totalProjects"`
	Counters       Counters  `json:"counters"`
	StartedAt      time.Time `json:"startedAt"`
	CompletedAt    time.Time `json:"completedAt,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`

	Projects map[string]*ProjectProcessingInfo `json:"projects"`
}

// New returns the default empty state for a key.
func New(sourceFile, version string) *ProcessingState {
	return &ProcessingState{
		SourceFile: sourceFile,
		Version:    version,
		Projects:   make(map[string]*ProjectProcessingInfo),
	}
}

// Exists reports whether the state was loaded from the store.
func (s *ProcessingState) Exists() bool {
	return s != nil && s.ID != ""
}

// SetProject replaces the entry for one partition. Entries for partitions not
// touched by the current run are never removed.
func (s *ProcessingState) SetProject(id string, info *ProjectProcessingInfo) {
	if s.Projects == nil {
		s.Projects = make(map[string]*ProjectProcessingInfo)
	}
	s.Projects[id] = info
}

// Store is the durable home of ProcessingState records.
type Store interface {
	// Get returns the state for the key, or a default empty one.
	Get(ctx context.Context, sourceFile, version string) (*ProcessingState, error)
	// Save upserts by (SourceFile, Version). An existing record's id is kept
	// and written back into st, so repeated saves update in place.
	Save(ctx context.Context, st *ProcessingState) error
	// List returns every record ordered by version then source file.
	List(ctx context.Context) ([]*ProcessingState, error)
	// DeleteVersion removes all records of a version and reports how many.
	DeleteVersion(ctx context.Context, version string) (int, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Open opens the named backend at path.
func Open(backend, path string, logger logrus.FieldLogger) (Store, error) {
	switch strings.ToLower(backend) {
	case "", BackendSQLite:
		return OpenSQLite(path)
	case BackendBadger:
		return OpenBadger(BadgerConfig{Path: path, SyncWrites: true, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
