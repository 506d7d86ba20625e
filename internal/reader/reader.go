// Package reader parses graph exports into an in-memory graph.Document.
//
// Two layouts are understood, chosen by file extension:
//
//	.jsonl / .ndjson   one record per line; the first record is run metadata,
//	                   every following record is one node with its outgoing
//	                   relationship arrays inline
//	.json              {"metadata": {...}, "nodes": [...], "edges": [...]}
//
// Either may carry a trailing .zst and is then decompressed on the fly.
package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"graphvault/internal/graph"
)

// Format identifies the record layout of an export.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// cancelCheckEvery is how many records are decoded between context checks.
const cancelCheckEvery = 1000

// DetectFormat picks the layout from the file name. compressed reports a
// trailing .zst.
func DetectFormat(path string) (format Format, compressed bool, err error) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".zst") {
		compressed = true
		name = strings.TrimSuffix(name, ".zst")
	}

	switch filepath.Ext(name) {
	case ".jsonl", ".ndjson":
		return FormatJSONL, compressed, nil
	case ".json":
		return FormatJSON, compressed, nil
	default:
		return "", false, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Supported reports whether path has an extension Read accepts.
func Supported(path string) bool {
	_, _, err := DetectFormat(path)
	return err == nil
}

// Reader decodes exports. The zero value is not usable; call New.
type Reader struct {
	logger logrus.FieldLogger
}

// New creates a reader that logs skipped records to logger.
func New(logger logrus.FieldLogger) *Reader {
	return &Reader{logger: logger}
}

// Read parses the export at path. Corrupt individual records are skipped and
// listed in Document.Warnings; an unreadable metadata record fails the whole
// file with a *MalformedInputError. The file is only read, never modified.
func (r *Reader) Read(ctx context.Context, path string) (*graph.Document, error) {
	src, format, closeFn, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	b := newBuilder(path)
	switch format {
	case FormatJSONL:
		err = r.readLines(ctx, src, b)
	case FormatJSON:
		err = r.readWhole(ctx, src, b)
	}
	if err != nil {
		return nil, err
	}

	doc := b.document()
	for _, w := range doc.Warnings {
		r.logger.WithFields(logrus.Fields{
			"file": path,
			"line": w.Line,
		}).Warnf("skipping record: %s", w.Reason)
	}
	r.logger.WithFields(logrus.Fields{
		"file":     path,
		"nodes":    len(doc.Nodes),
		"edges":    len(doc.Edges),
		"warnings": len(doc.Warnings),
	}).Debug("export read")

	return doc, nil
}

// ReadMetadata decodes only the metadata of an export. A line-oriented
// export is read up to its first record.
func (r *Reader) ReadMetadata(ctx context.Context, path string) (graph.Metadata, error) {
	src, format, closeFn, err := open(path)
	if err != nil {
		return graph.Metadata{}, err
	}
	defer closeFn()

	if err := ctx.Err(); err != nil {
		return graph.Metadata{}, err
	}
	switch format {
	case FormatJSONL:
		return firstMetadata(src, path)
	default:
		var head struct {
			Metadata json.RawMessage `json:"metadata"`
		}
		if err := json.NewDecoder(src).Decode(&head); err != nil {
			return graph.Metadata{}, &MalformedInputError{Path: path, Err: err}
		}
		if len(head.Metadata) == 0 || string(head.Metadata) == "null" {
			return graph.Metadata{}, &MalformedInputError{Path: path, Err: errors.New("no metadata object")}
		}
		meta, err := decodeMetadata(head.Metadata)
		if err != nil {
			return graph.Metadata{}, &MalformedInputError{Path: path, Err: err}
		}
		return meta, nil
	}
}

// open returns a decompressed stream over the export and its format.
func open(path string) (io.Reader, Format, func(), error) {
	format, compressed, err := DetectFormat(path)
	if err != nil {
		return nil, "", nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("opening export: %w", err)
	}
	if !compressed {
		return f, format, func() { f.Close() }, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, "", nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return dec, format, func() {
		dec.Close()
		f.Close()
	}, nil
}

// record is one node or edge entry as it appears in an export.
type record struct {
	Type string `json:"type,omitempty"`
	graph.Node

	// Explicit edge records.
	Source       string `json:"source,omitempty"`
	Target       string `json:"target,omitempty"`
	Relationship string `json:"relationship,omitempty"`

	// Inline outgoing relationships of a node record.
	Calls        []string `json:"calls,omitempty"`
	CallsVia     []string `json:"callsVia,omitempty"`
	IndirectCall []string `json:"indirectCall,omitempty"`
	Implements   []string `json:"implements,omitempty"`
	Inherits     []string `json:"inherits,omitempty"`
	Uses         []string `json:"uses,omitempty"`
	Contains     []string `json:"contains,omitempty"`
	HasMember    []string `json:"hasMember,omitempty"`
}

func (rec *record) inline() map[graph.Relationship][]string {
	return map[graph.Relationship][]string{
		graph.RelCalls:        rec.Calls,
		graph.RelCallsVia:     rec.CallsVia,
		graph.RelIndirectCall: rec.IndirectCall,
		graph.RelImplements:   rec.Implements,
		graph.RelInherits:     rec.Inherits,
		graph.RelUses:         rec.Uses,
		graph.RelContains:     rec.Contains,
		graph.RelHasMember:    rec.HasMember,
	}
}

// metadataRecord is the first record of a line-oriented export.
type metadataRecord struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	graph.Metadata
}

func decodeMetadata(data []byte) (graph.Metadata, error) {
	var m metadataRecord
	if err := json.Unmarshal(data, &m); err != nil {
		return graph.Metadata{}, err
	}
	if m.Type != "" && m.Type != "metadata" {
		return graph.Metadata{}, fmt.Errorf("first record has type %q, want metadata", m.Type)
	}
	if m.ID != "" {
		return graph.Metadata{}, fmt.Errorf("first record is node %q, want metadata", m.ID)
	}
	return m.Metadata, nil
}

// builder accumulates records into a Document, collapsing duplicates.
type builder struct {
	doc      *graph.Document
	nodeSeen map[string]bool
	edgeSeen map[string]bool
}

func newBuilder(path string) *builder {
	return &builder{
		doc:      &graph.Document{SourcePath: path},
		nodeSeen: make(map[string]bool),
		edgeSeen: make(map[string]bool),
	}
}

func (b *builder) warn(line int, format string, args ...any) {
	b.doc.Warnings = append(b.doc.Warnings, RecordParseWarning{
		Line:   line,
		Reason: fmt.Sprintf(format, args...),
	})
}

// add validates one decoded record and appends what it describes.
func (b *builder) add(line int, rec *record) {
	if rec.Type == "edge" || (rec.Type == "" && rec.Source != "" && rec.Target != "") {
		b.addEdgeRecord(line, rec)
		return
	}
	if rec.Type != "" && rec.Type != "node" {
		b.warn(line, "unknown record type %q", rec.Type)
		return
	}
	if strings.TrimSpace(rec.ID) == "" {
		b.warn(line, "node record has no id")
		return
	}
	if b.nodeSeen[rec.ID] {
		b.warn(line, "duplicate node id %q", rec.ID)
		return
	}

	node := rec.Node
	node.Kind = graph.NormalizeKind(string(node.Kind))
	b.nodeSeen[node.ID] = true
	b.doc.Nodes = append(b.doc.Nodes, &node)

	inline := rec.inline()
	for _, rel := range graph.Relationships {
		for _, target := range inline[rel] {
			if target == "" {
				continue
			}
			b.addEdge(&graph.Edge{Source: node.ID, Target: target, Relationship: rel})
		}
	}
}

func (b *builder) addEdgeRecord(line int, rec *record) {
	rel, ok := graph.ParseRelationship(rec.Relationship)
	if !ok {
		b.warn(line, "edge has unknown relationship %q", rec.Relationship)
		return
	}
	if rec.Source == "" || rec.Target == "" {
		b.warn(line, "edge record needs source and target")
		return
	}
	b.addEdge(&graph.Edge{ID: rec.ID, Source: rec.Source, Target: rec.Target, Relationship: rel})
}

func (b *builder) addEdge(e *graph.Edge) {
	if e.ID == "" {
		e.ID = graph.EdgeID(e.Source, e.Relationship, e.Target)
	}
	if b.edgeSeen[e.ID] {
		return
	}
	b.edgeSeen[e.ID] = true
	b.doc.Edges = append(b.doc.Edges, e)
}

func (b *builder) document() *graph.Document {
	return b.doc
}
