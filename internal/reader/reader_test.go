package reader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphvault/internal/graph"
)

const sampleJSONL = `{"type":"metadata","generatedAt":"2025-03-01T10:00:00Z","solutionPath":"C:/src/Acme.sln","toolVersion":"2.4.0","totalNodes":3,"totalEdges":2}
{"id":"class:Acme.Billing.Invoice","name":"Invoice","fullyQualifiedName":"Acme.Billing.Invoice","kind":"Class","project":"Acme.Billing","accessibility":"public","hasMember":["method:Acme.Billing.Invoice.Send"],"implements":["interface:Acme.Contracts.ISendable"]}
{"id":"method:Acme.Billing.Invoice.Send","name":"Send","fullyQualifiedName":"Acme.Billing.Invoice.Send","kind":"method","project":"Acme.Billing","location":{"relativePath":"Billing/Invoice.cs","startLine":10,"endLine":20}}
{"id":"interface:Acme.Contracts.ISendable","name":"ISendable","fullyQualifiedName":"Acme.Contracts.ISendable","kind":"interface","project":"Acme.Contracts","isAbstract":true}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestReader() (*Reader, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return New(logger), hook
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path       string
		format     Format
		compressed bool
		wantErr    bool
	}{
		{"a/export.jsonl", FormatJSONL, false, false},
		{"a/export.NDJSON", FormatJSONL, false, false},
		{"a/export.json", FormatJSON, false, false},
		{"a/export.jsonl.zst", FormatJSONL, true, false},
		{"a/export.json.zst", FormatJSON, true, false},
		{"a/export.xml", "", false, true},
		{"a/export.zst", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			format, compressed, err := DetectFormat(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				assert.False(t, Supported(tt.path))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, tt.compressed, compressed)
		})
	}
}

func TestReadJSONL(t *testing.T) {
	r, _ := newTestReader()
	path := writeFile(t, "acme.jsonl", sampleJSONL)

	doc, err := r.Read(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, doc.SourcePath)
	assert.Equal(t, "2.4.0", doc.Metadata.ToolVersion)
	assert.Equal(t, "C:/src/Acme.sln", doc.Metadata.SolutionPath)
	assert.Equal(t, 2025, doc.Metadata.GeneratedAt.Year())
	require.Len(t, doc.Nodes, 3)
	assert.Empty(t, doc.Warnings)

	invoice := doc.Nodes[0]
	assert.Equal(t, graph.KindClass, invoice.Kind, "kinds are normalized")
	assert.Equal(t, "public", invoice.Accessibility)

	send := doc.Nodes[1]
	require.NotNil(t, send.Location)
	assert.Equal(t, 10, send.Location.StartLine)
	assert.True(t, doc.Nodes[2].IsAbstract)

	require.Len(t, doc.Edges, 2)
	rels := map[graph.Relationship]*graph.Edge{}
	for _, e := range doc.Edges {
		rels[e.Relationship] = e
	}
	require.Contains(t, rels, graph.RelHasMember)
	assert.Equal(t, "class:Acme.Billing.Invoice", rels[graph.RelHasMember].Source)
	assert.Equal(t, "method:Acme.Billing.Invoice.Send", rels[graph.RelHasMember].Target)
	assert.Equal(t, graph.EdgeID("class:Acme.Billing.Invoice", graph.RelImplements, "interface:Acme.Contracts.ISendable"), rels[graph.RelImplements].ID)
}

func TestReadJSONL_MalformedSecondLineIsSkipped(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(sampleJSONL), "\n")
	content := strings.Join([]string{lines[0], `{"id": "class:Broken", "name": `, lines[1], lines[2], lines[3]}, "\n")

	r, hook := newTestReader()
	doc, err := r.Read(context.Background(), writeFile(t, "broken.jsonl", content))
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 3)
	for _, n := range doc.Nodes {
		assert.NotEqual(t, "class:Broken", n.ID)
	}
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, 2, doc.Warnings[0].Line)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
			assert.Equal(t, 2, e.Data["line"])
		}
	}
	assert.True(t, warned)
}

func TestReadJSONL_SkipsInvalidRecords(t *testing.T) {
	content := `{"type":"metadata","toolVersion":"1"}

{"name":"NoID","kind":"class"}
{"type":"comment","id":"x"}
{"id":"class:A","name":"A","kind":"class","project":"P"}
{"id":"class:A","name":"A again","kind":"class","project":"P"}
{"type":"edge","source":"class:A","target":"class:B","relationship":"Overrides"}
{"type":"edge","source":"class:A","target":"class:B","relationship":"inherits"}
`
	r, _ := newTestReader()
	doc, err := r.Read(context.Background(), writeFile(t, "mixed.jsonl", content))
	require.NoError(t, err)

	require.Len(t, doc.Nodes, 1)
	assert.Equal(t, "A", doc.Nodes[0].Name, "first occurrence wins")
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, graph.RelInherits, doc.Edges[0].Relationship)
	assert.Len(t, doc.Warnings, 4)
}

func TestReadJSONL_BadMetadataIsFatal(t *testing.T) {
	tests := map[string]string{
		"invalid json":  "{not json\n" + `{"id":"class:A","kind":"class"}` + "\n",
		"node first":    `{"id":"class:A","kind":"class"}` + "\n",
		"wrong type":    `{"type":"edge","source":"a","target":"b"}` + "\n",
		"empty file":    "",
		"only blank":    "\n\n",
		"bad timestamp": `{"type":"metadata","generatedAt":"yesterday"}` + "\n",
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			r, _ := newTestReader()
			_, err := r.Read(context.Background(), writeFile(t, "bad.jsonl", content))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedInput)

			var mie *MalformedInputError
			assert.True(t, errors.As(err, &mie))
		})
	}
}

func TestReadJSONL_ZonelessGeneratedAt(t *testing.T) {
	r, _ := newTestReader()
	content := `{"type":"metadata","generatedAt":"2025-03-01T10:00:00.1234567","graphVersion":"6.7.5"}
{"id":"class:Acme.A","name":"A","kind":"class","project":"Acme"}
`
	path := writeFile(t, "acme.jsonl", content)

	doc, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	want := time.Date(2025, 3, 1, 10, 0, 0, 123456700, time.UTC)
	assert.True(t, want.Equal(doc.Metadata.GeneratedAt.Time), "got %s", doc.Metadata.GeneratedAt)
	assert.Len(t, doc.Nodes, 1)

	meta, err := r.ReadMetadata(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "6.7.5", meta.GraphVersion)
}

func TestReadJSONDocument(t *testing.T) {
	content := `{
  "metadata": {"generatedAt": "2025-03-01T10:00:00Z", "toolVersion": "2.4.0", "graphVersion": "6.7.5"},
  "nodes": [
    {"id": "class:Acme.A", "name": "A", "kind": "class", "project": "Acme"},
    "not-an-object",
    {"id": "class:Acme.B", "name": "B", "kind": "class", "project": "Acme", "uses": ["class:Acme.A"]}
  ],
  "edges": [
    {"id": "e1", "source": "class:Acme.B", "target": "class:Acme.A", "relationship": "Inherits"},
    {"source": "class:Acme.B", "target": "class:Acme.A", "relationship": "Uses"},
    {"source": "class:Acme.B", "relationship": "Uses"}
  ]
}`
	r, _ := newTestReader()
	doc, err := r.Read(context.Background(), writeFile(t, "acme.json", content))
	require.NoError(t, err)

	assert.Equal(t, "6.7.5", doc.Metadata.GraphVersion)
	require.Len(t, doc.Nodes, 2)
	// The inline "uses" and the explicit Uses edge collapse into one.
	require.Len(t, doc.Edges, 2)
	assert.Len(t, doc.Warnings, 2)

	var ids []string
	for _, e := range doc.Edges {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, "e1")
}

func TestReadJSONDocument_MissingMetadata(t *testing.T) {
	r, _ := newTestReader()
	_, err := r.Read(context.Background(), writeFile(t, "acme.json", `{"nodes": []}`))
	assert.ErrorIs(t, err, ErrMalformedInput)

	_, err = r.Read(context.Background(), writeFile(t, "garbage.json", `[1,2`))
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestReadCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "acme.jsonl.zst")
	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(sampleJSONL))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	r, _ := newTestReader()
	doc, err := r.Read(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 3)
	assert.Len(t, doc.Edges, 2)
}

func TestReadDoesNotModifyFile(t *testing.T) {
	path := writeFile(t, "acme.jsonl", sampleJSONL)
	before, err := os.Stat(path)
	require.NoError(t, err)

	r, _ := newTestReader()
	_, err = r.Read(context.Background(), path)
	require.NoError(t, err)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
	assert.Equal(t, before.Size(), after.Size())
}

func TestReadUnsupportedAndMissing(t *testing.T) {
	r, _ := newTestReader()
	_, err := r.Read(context.Background(), writeFile(t, "acme.xml", "<graph/>"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = r.Read(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedInput)
}

func TestReadHonorsCancellation(t *testing.T) {
	var sb strings.Builder
	sb.WriteString(`{"type":"metadata"}` + "\n")
	for i := 0; i < 3*cancelCheckEvery; i++ {
		sb.WriteString(`{"id":"class:N","kind":"class"}` + "\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, _ := newTestReader()
	_, err := r.Read(ctx, writeFile(t, "big.jsonl", sb.String()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadMetadata(t *testing.T) {
	r, _ := newTestReader()
	ctx := context.Background()

	jsonl := writeFile(t, "acme.jsonl", `{"type":"metadata","graphVersion":"6.7.5","toolVersion":"2.4.0"}
this line is never read
`)
	meta, err := r.ReadMetadata(ctx, jsonl)
	require.NoError(t, err)
	assert.Equal(t, "6.7.5", meta.GraphVersion)
	assert.Equal(t, "2.4.0", meta.ToolVersion)

	doc := writeFile(t, "acme.json", `{"nodes":[],"metadata":{"graphVersion":"7.0.0"}}`)
	meta, err = r.ReadMetadata(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "7.0.0", meta.GraphVersion)

	empty := writeFile(t, "empty.jsonl", "\n\n")
	_, err = r.ReadMetadata(ctx, empty)
	assert.ErrorIs(t, err, ErrMalformedInput)
}
