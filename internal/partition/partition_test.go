package partition

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphvault/internal/graph"
)

func node(id, project string, kind graph.NodeKind) *graph.Node {
	return &graph.Node{ID: id, Name: id, Kind: kind, Project: project}
}

func sampleDocument(path string) *graph.Document {
	return &graph.Document{
		SourcePath: path,
		Nodes: []*graph.Node{
			node("solution:Acme", "", graph.KindSolution),
			node("layer:Domain", "ProjA", graph.KindLayer),
			node("project:ProjA", "ProjA", graph.KindProject),
			node("class:ProjA.Invoice", "ProjA", graph.KindClass),
			node("method:ProjA.Invoice.Send", "ProjA", graph.KindMethod),
			node("interface:ProjB.ISendable", "ProjB", graph.KindInterface),
			node("namespace:Loose", "", graph.KindNamespace),
		},
		Edges: []*graph.Edge{
			{ID: "e1", Source: "class:ProjA.Invoice", Target: "method:ProjA.Invoice.Send", Relationship: graph.RelHasMember},
			{ID: "e2", Source: "class:ProjA.Invoice", Target: "interface:ProjB.ISendable", Relationship: graph.RelImplements},
			{ID: "e3", Source: "solution:Acme", Target: "project:ProjA", Relationship: graph.RelContains},
			{ID: "e4", Source: "class:External.Thing", Target: "class:Other.Thing", Relationship: graph.RelUses},
		},
	}
}

func byID(parts []*Partition) map[string]*Partition {
	m := make(map[string]*Partition)
	for _, p := range parts {
		m[p.ID] = p
	}
	return m
}

func TestSplitGroupsByProject(t *testing.T) {
	parts := Split(sampleDocument(filepath.Join("exports", "acme.jsonl")))
	require.Len(t, parts, 2)
	assert.Equal(t, "ProjA", parts[0].ID)
	assert.Equal(t, "ProjB", parts[1].ID)

	a := parts[0]
	assert.Equal(t, 3, a.NodeCount(), "layer node is structural and excluded")
	var edgeIDs []string
	for _, e := range a.Edges {
		edgeIDs = append(edgeIDs, e.ID)
	}
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, edgeIDs)

	b := parts[1]
	assert.Equal(t, 1, b.NodeCount())
	require.Len(t, b.Edges, 1)
	assert.Equal(t, "e2", b.Edges[0].ID, "cross-project edge belongs to both sides")
}

func TestSplitIntraProjectEdgeOnce(t *testing.T) {
	parts := byID(Split(sampleDocument("acme.jsonl")))
	count := 0
	for _, e := range parts["ProjA"].Edges {
		if e.ID == "e1" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestShared(t *testing.T) {
	shared := Shared(sampleDocument("acme.jsonl"))
	var ids []string
	for _, n := range shared {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"solution:Acme", "layer:Domain", "namespace:Loose"}, ids)
}

func TestSharedPartition(t *testing.T) {
	p := SharedPartition(sampleDocument(filepath.Join("exports", "acme.jsonl.zst")))
	assert.Equal(t, "_shared::acme", p.ID)
	assert.Empty(t, p.Project)
	assert.Equal(t, 3, p.NodeCount())
	require.Len(t, p.Edges, 1)
	assert.Equal(t, "e3", p.Edges[0].ID)

	empty := SharedPartition(&graph.Document{})
	assert.Equal(t, SharedID, empty.ID)
	assert.Zero(t, empty.NodeCount())
	assert.Empty(t, empty.Edges)
}

func TestSplitDropsEmptyAndEmitsNothingForEmptyDocument(t *testing.T) {
	doc := &graph.Document{Nodes: []*graph.Node{node("solution:Acme", "", graph.KindSolution)}}
	assert.Empty(t, Split(doc))
	assert.Empty(t, Split(&graph.Document{}))
}

func TestDominantLayer(t *testing.T) {
	nodes := []*graph.Node{
		{ID: "a", Layer: "Domain"},
		{ID: "b", Layer: "Application"},
		{ID: "c", Layer: "Domain"},
		{ID: "d"},
	}
	assert.Equal(t, "Domain", dominantLayer(nodes))
	assert.Equal(t, "Application", dominantLayer(nodes[:2]), "ties broken by name")
	assert.Equal(t, "", dominantLayer(nodes[3:]))
}

func TestDiscriminator(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{filepath.Join("exports", "Banking-6.7.5_graph", "solution.jsonl"), "Banking-6.7.5"},
		{filepath.Join("exports", "Banking-6.7.5-graphs", "solution.jsonl"), "Banking-6.7.5"},
		{filepath.Join("exports", "Banking-7.0.0-graph.jsonl"), "Banking-7.0.0"},
		{filepath.Join("exports", "Banking-7.0.0_graph.jsonl.zst"), "Banking-7.0.0"},
		{filepath.Join("exports", "Banking.graph.json"), "Banking"},
		{filepath.Join("exports", "solution.jsonl"), ""},
		{filepath.Join("exports", "_graph", "solution.jsonl"), ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Discriminator(tt.path))
		})
	}
}

func TestDiscriminatorDisambiguatesPartitionIDs(t *testing.T) {
	first := Split(sampleDocument(filepath.Join("exports", "Banking-6.7.5_graph", "solution.jsonl")))
	second := Split(sampleDocument(filepath.Join("exports", "Banking-7.0.0_graph", "solution.jsonl")))

	require.NotEmpty(t, first)
	require.NotEmpty(t, second)
	assert.Equal(t, "ProjA::Banking-6.7.5", first[0].ID)
	assert.Equal(t, "ProjA::Banking-7.0.0", second[0].ID)
	assert.Equal(t, first[0].Project, second[0].Project)
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestID(t *testing.T) {
	assert.Equal(t, "ProjA", ID("ProjA", ""))
	assert.Equal(t, "ProjA::v2", ID("ProjA", "v2"))
}
