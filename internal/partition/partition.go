// Package partition splits a parsed export into per-project subgraphs.
package partition

import (
	"path/filepath"
	"sort"
	"strings"

	"graphvault/internal/graph"
)

// Separator joins a project name and its discriminator in a partition id.
const Separator = "::"

// SharedID prefixes the partition id of the nodes Split leaves out.
const SharedID = "_shared"

// Partition is the project-scoped slice of one export. It is transient: only
// the node documents derived from it are ever persisted.
type Partition struct {
	ID            string
	Project       string
	Discriminator string
	Layer         string
	Nodes         []*graph.Node
	Edges         []*graph.Edge
	ContentHash   string
	RunID         string
}

// NodeCount returns the number of nodes in the partition.
func (p *Partition) NodeCount() int { return len(p.Nodes) }

// EdgeCount returns the number of edges touching the partition.
func (p *Partition) EdgeCount() int { return len(p.Edges) }

// ID builds a partition id from a project name and optional discriminator.
func ID(project, discriminator string) string {
	if discriminator == "" {
		return project
	}
	return project + Separator + discriminator
}

// Split groups the document's nodes by project. Structural nodes and nodes
// without a project are left out (see Shared). Each partition receives every
// edge whose source or target is one of its nodes, so an edge crossing two
// projects belongs to both. Partitions are returned sorted by id.
func Split(doc *graph.Document) []*Partition {
	disc := Discriminator(doc.SourcePath)

	groups := make(map[string][]*graph.Node)
	for _, n := range doc.Nodes {
		if !belongsToProject(n) {
			continue
		}
		groups[n.Project] = append(groups[n.Project], n)
	}

	// Index edges by endpoint once instead of scanning all edges per project.
	owner := make(map[string]string, len(doc.Nodes))
	for project, nodes := range groups {
		for _, n := range nodes {
			owner[n.ID] = project
		}
	}
	edges := make(map[string][]*graph.Edge)
	for _, e := range doc.Edges {
		src, srcOK := owner[e.Source]
		dst, dstOK := owner[e.Target]
		if srcOK {
			edges[src] = append(edges[src], e)
		}
		if dstOK && (!srcOK || dst != src) {
			edges[dst] = append(edges[dst], e)
		}
	}

	parts := make([]*Partition, 0, len(groups))
	for project, nodes := range groups {
		if len(nodes) == 0 {
			continue
		}
		parts = append(parts, &Partition{
			ID:            ID(project, disc),
			Project:       project,
			Discriminator: disc,
			Layer:         dominantLayer(nodes),
			Nodes:         nodes,
			Edges:         edges[project],
		})
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })
	return parts
}

// Shared returns the nodes Split leaves out: solution and layer nodes, and
// nodes that name no project.
func Shared(doc *graph.Document) []*graph.Node {
	var shared []*graph.Node
	for _, n := range doc.Nodes {
		if !belongsToProject(n) {
			shared = append(shared, n)
		}
	}
	return shared
}

// SharedPartition groups the shared nodes with every edge touching one of
// them, the same way Split builds a project partition, so the shared set can
// be hashed and change-detected like any other partition. Its id is scoped to
// the export file: solution nodes of two exports never share a partition.
func SharedPartition(doc *graph.Document) *Partition {
	nodes := Shared(doc)
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}
	var edges []*graph.Edge
	for _, e := range doc.Edges {
		if ids[e.Source] || ids[e.Target] {
			edges = append(edges, e)
		}
	}
	return &Partition{
		ID:            ID(SharedID, exportBase(doc.SourcePath)),
		Discriminator: Discriminator(doc.SourcePath),
		Nodes:         nodes,
		Edges:         edges,
	}
}

func belongsToProject(n *graph.Node) bool {
	return !n.Kind.IsStructural() && strings.TrimSpace(n.Project) != ""
}

// dominantLayer picks the most common layer among nodes, ties broken by name.
func dominantLayer(nodes []*graph.Node) string {
	counts := make(map[string]int)
	for _, n := range nodes {
		if n.Layer != "" {
			counts[n.Layer]++
		}
	}
	best, bestCount := "", 0
	for layer, c := range counts {
		if c > bestCount || (c == bestCount && layer < best) {
			best, bestCount = layer, c
		}
	}
	return best
}

// Suffixes recognised on the directory holding an export.
var dirSuffixes = []string{"-graphs", "_graphs", "-graph", "_graph", ".graph", "-export", "_export"}

// Suffixes recognised on an export's base name once extensions are removed.
var fileSuffixes = []string{"-graph", "_graph", ".graph", "-export", "_export"}

var exportExtensions = []string{".zst", ".jsonl", ".ndjson", ".json"}

// Discriminator extracts the repository/version discriminator from an export
// path: the parent directory name when it carries a well-known suffix,
// otherwise the file base name when it does, otherwise "". The discriminator
// keeps two snapshots of the same project from sharing processing history.
func Discriminator(sourcePath string) string {
	if sourcePath == "" {
		return ""
	}
	clean := filepath.Clean(sourcePath)

	dir := filepath.Base(filepath.Dir(clean))
	if d, ok := trimSuffix(dir, dirSuffixes); ok {
		return d
	}

	if d, ok := trimSuffix(exportBase(clean), fileSuffixes); ok {
		return d
	}
	return ""
}

// exportBase returns the file name of an export without its extensions.
func exportBase(sourcePath string) string {
	if sourcePath == "" {
		return ""
	}
	base := filepath.Base(filepath.Clean(sourcePath))
	for changed := true; changed; {
		changed = false
		for _, ext := range exportExtensions {
			if strings.HasSuffix(strings.ToLower(base), ext) {
				base = base[:len(base)-len(ext)]
				changed = true
			}
		}
	}
	return base
}

func trimSuffix(name string, suffixes []string) (string, bool) {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s) && len(name) > len(s) {
			return name[:len(name)-len(s)], true
		}
	}
	return "", false
}
