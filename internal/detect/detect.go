// Package detect decides what changed between an export and the state
// recorded by the previous run: first for the whole file, then per partition.
package detect

import (
	"fmt"
	"sort"

	"graphvault/internal/cas"
	"graphvault/internal/graph"
	"graphvault/internal/partition"
	"graphvault/internal/state"
)

// FileHash hashes the raw bytes of an export. An error here is fatal for the
// run: without a file hash no comparison is safe.
func FileHash(path string) (string, error) {
	digest, err := cas.HashFile(path)
	if err != nil {
		return "", fmt.Errorf("computing file hash: %w", err)
	}
	return digest, nil
}

type nodeFingerprint struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Kind          graph.NodeKind `json:"kind"`
	Accessibility string         `json:"accessibility"`
}

type edgeFingerprint struct {
	ID           string             `json:"id"`
	Source       string             `json:"source"`
	Target       string             `json:"target"`
	Relationship graph.Relationship `json:"relationship"`
}

type partitionFingerprint struct {
	ProjectName string            `json:"projectName"`
	NodeCount   int               `json:"nodeCount"`
	EdgeCount   int               `json:"edgeCount"`
	Nodes       []nodeFingerprint `json:"nodes"`
	Edges       []edgeFingerprint `json:"edges"`
}

// ContentHash hashes a canonical, order-independent view of a partition.
// Fingerprints are sorted by id (remaining fields break ties) so the analyzer's
// emission order never changes the result.
func ContentHash(p *partition.Partition) string {
	fp := partitionFingerprint{
		ProjectName: p.Project,
		NodeCount:   len(p.Nodes),
		EdgeCount:   len(p.Edges),
		Nodes:       make([]nodeFingerprint, 0, len(p.Nodes)),
		Edges:       make([]edgeFingerprint, 0, len(p.Edges)),
	}
	for _, n := range p.Nodes {
		fp.Nodes = append(fp.Nodes, nodeFingerprint{
			ID:            n.ID,
			Name:          n.Name,
			Kind:          n.Kind,
			Accessibility: n.Accessibility,
		})
	}
	for _, e := range p.Edges {
		fp.Edges = append(fp.Edges, edgeFingerprint{
			ID:           e.ID,
			Source:       e.Source,
			Target:       e.Target,
			Relationship: e.Relationship,
		})
	}

	sort.Slice(fp.Nodes, func(i, j int) bool {
		a, b := fp.Nodes[i], fp.Nodes[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Accessibility < b.Accessibility
	})
	sort.Slice(fp.Edges, func(i, j int) bool {
		a, b := fp.Edges[i], fp.Edges[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Relationship < b.Relationship
	})

	// Only strings, ints and slices of plain structs: marshalling cannot fail.
	data, _ := cas.CanonicalJSON(fp)
	return cas.Blake3HashHex(data)
}

// FileDecision is the outcome of the file-level check.
type FileDecision struct {
	Changed bool
	// Skipped lists every partition the prior state knows about when the
	// file is unchanged.
	Skipped []string
}

// CheckFile compares the file hash with the prior state. With no prior state,
// an empty recorded hash, a different hash or a run that never reached its
// final save, the file is changed.
func CheckFile(fileHash string, prior *state.ProcessingState) FileDecision {
	if prior == nil || prior.FileHash == "" || prior.FileHash != fileHash || prior.RunStatus == state.RunInProgress {
		return FileDecision{Changed: true}
	}
	ids := make([]string, 0, len(prior.Projects))
	for id := range prior.Projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return FileDecision{Changed: false, Skipped: ids}
}

// Classification is the decision for one partition.
type Classification struct {
	Partition *partition.Partition
	Status    state.Status
}

// Classify computes each partition's content hash and decides New, Updated
// or Skipped against the prior state. A previously failed partition has no
// recorded hash and therefore comes back as Updated. With force set nothing
// is Skipped.
func Classify(parts []*partition.Partition, prior *state.ProcessingState, force bool) []Classification {
	out := make([]Classification, 0, len(parts))
	for _, p := range parts {
		p.ContentHash = ContentHash(p)

		var info *state.ProjectProcessingInfo
		if prior != nil {
			info = prior.Projects[p.ID]
		}

		var status state.Status
		switch {
		case info == nil:
			status = state.StatusNew
		case info.ContentHash == p.ContentHash && !force:
			status = state.StatusSkipped
		default:
			status = state.StatusUpdated
		}
		out = append(out, Classification{Partition: p, Status: status})
	}
	return out
}

// NeedsWrite reports whether a classification leads to store writes.
func (c Classification) NeedsWrite() bool {
	return c.Status == state.StatusNew || c.Status == state.StatusUpdated
}
