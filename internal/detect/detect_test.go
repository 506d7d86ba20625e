package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphvault/internal/graph"
	"graphvault/internal/partition"
	"graphvault/internal/state"
)

func sample(project string) *partition.Partition {
	a := &graph.Node{ID: "class:" + project + ".A", Name: "A", Kind: graph.KindClass, Project: project, Accessibility: "public"}
	b := &graph.Node{ID: "method:" + project + ".A.Run", Name: "Run", Kind: graph.KindMethod, Project: project, Accessibility: "public"}
	return &partition.Partition{
		ID:      project,
		Project: project,
		Nodes:   []*graph.Node{a, b},
		Edges: []*graph.Edge{
			{ID: graph.EdgeID(a.ID, graph.RelHasMember, b.ID), Source: a.ID, Target: b.ID, Relationship: graph.RelHasMember},
			{ID: graph.EdgeID(b.ID, graph.RelCalls, "method:Ext.Log"), Source: b.ID, Target: "method:Ext.Log", Relationship: graph.RelCalls},
		},
	}
}

func TestContentHashIgnoresOrder(t *testing.T) {
	p := sample("ProjA")
	want := ContentHash(p)

	reordered := sample("ProjA")
	reordered.Nodes[0], reordered.Nodes[1] = reordered.Nodes[1], reordered.Nodes[0]
	reordered.Edges[0], reordered.Edges[1] = reordered.Edges[1], reordered.Edges[0]

	assert.Equal(t, want, ContentHash(reordered))
	assert.Len(t, want, 64)
}

func TestContentHashSensitivity(t *testing.T) {
	base := ContentHash(sample("ProjA"))

	renamed := sample("ProjA")
	renamed.Nodes[0].Name = "B"
	assert.NotEqual(t, base, ContentHash(renamed))

	access := sample("ProjA")
	access.Nodes[1].Accessibility = "internal"
	assert.NotEqual(t, base, ContentHash(access))

	extraEdge := sample("ProjA")
	extraEdge.Edges = append(extraEdge.Edges, &graph.Edge{ID: "x", Source: "a", Target: "b", Relationship: graph.RelUses})
	assert.NotEqual(t, base, ContentHash(extraEdge))

	assert.NotEqual(t, base, ContentHash(sample("ProjB")))

	// Location is not part of the fingerprint.
	moved := sample("ProjA")
	moved.Nodes[0].Location = &graph.Location{RelativePath: "src/A.cs", StartLine: 10}
	assert.Equal(t, base, ContentHash(moved))
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0644))

	h1, err := FileHash(path)
	require.NoError(t, err)
	h2, err := FileHash(path)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
}

func TestCheckFile(t *testing.T) {
	prior := state.New("/exports/acme.jsonl", "1.0")
	prior.FileHash = "abc"
	prior.SetProject("ProjB", &state.ProjectProcessingInfo{ContentHash: "hb"})
	prior.SetProject("ProjA", &state.ProjectProcessingInfo{ContentHash: "ha"})

	interrupted := state.New("/exports/acme.jsonl", "1.0")
	interrupted.FileHash = "abc"
	interrupted.RunStatus = state.RunInProgress

	tests := []struct {
		name    string
		hash    string
		prior   *state.ProcessingState
		changed bool
	}{
		{"no prior state", "abc", nil, true},
		{"empty prior state", "abc", state.New("/exports/acme.jsonl", "1.0"), true},
		{"different hash", "xyz", prior, true},
		{"same hash", "abc", prior, false},
		{"interrupted run", "abc", interrupted, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := CheckFile(tt.hash, tt.prior)
			assert.Equal(t, tt.changed, d.Changed)
			if !tt.changed {
				assert.Equal(t, []string{"ProjA", "ProjB"}, d.Skipped)
			} else {
				assert.Empty(t, d.Skipped)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	a, b, c := sample("ProjA"), sample("ProjB"), sample("ProjC")

	prior := state.New("/exports/acme.jsonl", "1.0")
	prior.SetProject("ProjA", &state.ProjectProcessingInfo{ContentHash: "stale"})
	prior.SetProject("ProjB", &state.ProjectProcessingInfo{ContentHash: ContentHash(sample("ProjB"))})
	// A failed partition is recorded without a hash.
	prior.SetProject("ProjC", &state.ProjectProcessingInfo{Status: state.StatusFailed})

	got := Classify([]*partition.Partition{a, b, c}, prior, false)
	require.Len(t, got, 3)
	assert.Equal(t, state.StatusUpdated, got[0].Status)
	assert.Equal(t, state.StatusSkipped, got[1].Status)
	assert.Equal(t, state.StatusUpdated, got[2].Status)

	assert.True(t, got[0].NeedsWrite())
	assert.False(t, got[1].NeedsWrite())
	assert.NotEmpty(t, a.ContentHash)
}

func TestClassifyNewAndForce(t *testing.T) {
	parts := []*partition.Partition{sample("ProjA"), sample("ProjB")}
	prior := state.New("/exports/acme.jsonl", "1.0")
	prior.SetProject("ProjA", &state.ProjectProcessingInfo{ContentHash: ContentHash(sample("ProjA"))})

	got := Classify(parts, prior, true)
	assert.Equal(t, state.StatusUpdated, got[0].Status)
	assert.Equal(t, state.StatusNew, got[1].Status)

	for _, c := range Classify(parts, nil, false) {
		assert.Equal(t, state.StatusNew, c.Status)
	}
}

func TestDiscriminatedPartitionsAreIndependent(t *testing.T) {
	core := sample("Shared")
	core.ID = partition.ID("Shared", "core")
	web := sample("Shared")
	web.ID = partition.ID("Shared", "web")

	prior := state.New("/exports/core-graph.jsonl", "1.0")
	prior.SetProject(core.ID, &state.ProjectProcessingInfo{ContentHash: ContentHash(sample("Shared"))})

	got := Classify([]*partition.Partition{core, web}, prior, false)
	assert.Equal(t, state.StatusSkipped, got[0].Status)
	assert.Equal(t, state.StatusNew, got[1].Status)
}
