package ingest

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"graphvault/internal/state"
)

// OutputFormat selects how a summary is printed.
type OutputFormat int

const (
	// FormatText prints counts and one row per partition
	FormatText OutputFormat = iota
	// FormatJSON prints the summary as indented JSON
	FormatJSON
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, fmt.Errorf("unknown output format %q (want text or json)", s)
	}
}

// PartitionOutcome is the per-partition row of a summary.
type PartitionOutcome struct {
	ID        string       `json:"id"`
	Project   string       `json:"project,omitempty"`
	Status    state.Status `json:"status"`
	NodeCount int          `json:"nodeCount"`
	EdgeCount int          `json:"edgeCount"`
	Written   int          `json:"written"`
	Removed   int          `json:"removed,omitempty"`
	Failed    int          `json:"failed,omitempty"`
	Fragments int          `json:"fragments,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Summary is the printable result of one run.
type Summary struct {
	RunID          string             `json:"runId"`
	SourceFile     string             `json:"sourceFile"`
	Version        string             `json:"version"`
	FileHash       string             `json:"fileHash"`
	SourceRevision string             `json:"sourceRevision,omitempty"`
	FileUnchanged  bool               `json:"fileUnchanged"`
	Clean          bool               `json:"clean,omitempty"`
	TotalProjects  int                `json:"totalProjects"`
	Counters       state.Counters     `json:"counters"`
	NodesWritten   int                `json:"nodesWritten"`
	NodesRemoved   int                `json:"nodesRemoved"`
	NodeFailures   int                `json:"nodeFailures"`
	SharedNodes    int                `json:"sharedNodes"`
	Warnings       int                `json:"warnings"`
	Partitions     []PartitionOutcome `json:"partitions"`
	StartedAt      time.Time          `json:"startedAt"`
	Duration       time.Duration      `json:"durationNs"`
}

// HasFailures reports whether any partition failed.
func (s *Summary) HasFailures() bool {
	return s.Counters.Failed > 0 || s.NodeFailures > 0
}

// WriteSummaries prints one or more run summaries.
func WriteSummaries(w io.Writer, sums []*Summary, format OutputFormat) error {
	if format == FormatJSON {
		if sums == nil {
			sums = []*Summary{}
		}
		for _, s := range sums {
			if s.Partitions == nil {
				s.Partitions = []PartitionOutcome{}
			}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sums)
	}

	for i, s := range sums {
		if i > 0 {
			fmt.Fprintln(w)
		}
		writeText(w, s)
	}
	return nil
}

func writeText(w io.Writer, s *Summary) {
	fmt.Fprintf(w, "%s (version %s)\n", s.SourceFile, s.Version)
	if s.FileUnchanged {
		fmt.Fprintf(w, "  unchanged since last run, %d partitions skipped\n", s.Counters.Skipped)
		return
	}

	var counts []string
	for _, st := range state.Statuses {
		if n := s.Counters.Get(st); n > 0 {
			counts = append(counts, fmt.Sprintf("%d %s", n, strings.ToLower(string(st))))
		}
	}
	if len(counts) == 0 {
		counts = append(counts, "no partitions")
	}
	fmt.Fprintf(w, "  %d partitions: %s\n", s.TotalProjects, strings.Join(counts, ", "))
	fmt.Fprintf(w, "  %d nodes written", s.NodesWritten)
	if s.NodeFailures > 0 {
		fmt.Fprintf(w, ", %d failed", s.NodeFailures)
	}
	if s.NodesRemoved > 0 {
		fmt.Fprintf(w, ", %d stale removed", s.NodesRemoved)
	}
	if s.Warnings > 0 {
		fmt.Fprintf(w, ", %d records skipped", s.Warnings)
	}
	fmt.Fprintln(w)

	for _, p := range s.Partitions {
		fmt.Fprintf(w, "  %-10s %s", p.Status, p.ID)
		if p.Status != state.StatusSkipped {
			fmt.Fprintf(w, " (%d nodes)", p.Written)
		}
		if p.Message != "" {
			fmt.Fprintf(w, ": %s", p.Message)
		}
		fmt.Fprintln(w)
	}
}

// WriteState prints a recorded processing state.
func WriteState(w io.Writer, st *state.ProcessingState, format OutputFormat) error {
	if format == FormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	if !st.Exists() {
		fmt.Fprintf(w, "%s (version %s): never processed\n", st.SourceFile, st.Version)
		return nil
	}
	fmt.Fprintf(w, "%s (version %s)\n", st.SourceFile, st.Version)
	fmt.Fprintf(w, "  run:      %s", st.RunStatus)
	if !st.CompletedAt.IsZero() {
		fmt.Fprintf(w, " at %s", st.CompletedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	if st.SourceRevision != "" {
		fmt.Fprintf(w, "  revision: %s\n", st.SourceRevision)
	}
	hash := st.FileHash
	if hash == "" {
		hash = "(none, will reprocess)"
	}
	fmt.Fprintf(w, "  hash:     %s\n", hash)

	ids := make([]string, 0, len(st.Projects))
	for id := range st.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		info := st.Projects[id]
		fmt.Fprintf(w, "  %-10s %s (%d nodes, %d edges)", info.Status, id, info.NodeCount, info.EdgeCount)
		if info.Message != "" {
			fmt.Fprintf(w, ": %s", info.Message)
		}
		fmt.Fprintln(w)
	}
	return nil
}
