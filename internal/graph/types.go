// Package graph provides the code-graph types shared by the ingestion
// pipeline: nodes, edges, the parsed document and its metadata.
package graph

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NodeKind represents the type of a code entity.
type NodeKind string

const (
	KindClass     NodeKind = "class"
	KindInterface NodeKind = "interface"
	KindMethod    NodeKind = "method"
	KindProperty  NodeKind = "property"
	KindField     NodeKind = "field"
	KindEnum      NodeKind = "enum"
	KindStruct    NodeKind = "struct"
	KindProject   NodeKind = "project"
	KindLayer     NodeKind = "layer"
	KindSolution  NodeKind = "solution"
	KindFile      NodeKind = "file"
	KindNamespace NodeKind = "namespace"
)

// NormalizeKind lower-cases and trims a kind read from an export.
func NormalizeKind(s string) NodeKind {
	return NodeKind(strings.ToLower(strings.TrimSpace(s)))
}

// IsStructural reports whether nodes of this kind sit above projects and so
// belong to no single project.
func (k NodeKind) IsStructural() bool {
	return k == KindSolution || k == KindLayer
}

// Relationship is the type of a directed edge between two nodes.
type Relationship string

const (
	RelCalls        Relationship = "Calls"
	RelCallsVia     Relationship = "CallsVia"
	RelIndirectCall Relationship = "IndirectCall"
	RelImplements   Relationship = "Implements"
	RelInherits     Relationship = "Inherits"
	RelUses         Relationship = "Uses"
	RelContains     Relationship = "Contains"
	RelHasMember    Relationship = "HasMember"
)

// Relationships lists every relationship in a fixed order.
var Relationships = []Relationship{
	RelCalls,
	RelCallsVia,
	RelIndirectCall,
	RelImplements,
	RelInherits,
	RelUses,
	RelContains,
	RelHasMember,
}

// Field returns the document field a relationship is folded into
// (Calls -> "calls", IndirectCall -> "indirectCall").
func (r Relationship) Field() string {
	if r == "" {
		return ""
	}
	s := string(r)
	return strings.ToLower(s[:1]) + s[1:]
}

// ParseRelationship accepts either the relationship name or its field name,
// case-insensitively.
func ParseRelationship(s string) (Relationship, bool) {
	for _, r := range Relationships {
		if strings.EqualFold(s, string(r)) {
			return r, true
		}
	}
	return "", false
}

// Location is an optional source position of a node.
type Location struct {
	RelativePath string `json:"relativePath,omitempty"`
	StartLine    int    `json:"startLine,omitempty"`
	EndLine      int    `json:"endLine,omitempty"`
}

// Node is one code entity as emitted by the analyzer.
type Node struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	FullyQualifiedName string    `json:"fullyQualifiedName,omitempty"`
	Kind               NodeKind  `json:"kind"`
	Project            string    `json:"project,omitempty"`
	Namespace          string    `json:"namespace,omitempty"`
	Accessibility      string    `json:"accessibility,omitempty"`
	IsAbstract         bool      `json:"isAbstract,omitempty"`
	IsStatic           bool      `json:"isStatic,omitempty"`
	IsSealed           bool      `json:"isSealed,omitempty"`
	Layer              string    `json:"layer,omitempty"`
	Location           *Location `json:"location,omitempty"`
}

// QualifiedName is the name that identifies the node across runs: the
// fully-qualified name, or the plain name for structural nodes and nodes
// that carry none.
func (n *Node) QualifiedName() string {
	if n.FullyQualifiedName != "" && !n.Kind.IsStructural() {
		return n.FullyQualifiedName
	}
	return n.Name
}

// Edge is a directed relationship between two node ids.
type Edge struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Target       string       `json:"target"`
	Relationship Relationship `json:"relationship"`
}

// EdgeID derives the deterministic id used for edges the export did not
// name explicitly.
func EdgeID(source string, rel Relationship, target string) string {
	return source + "|" + string(rel) + "|" + target
}

// Metadata describes the run that produced an export.
type Metadata struct {
	GeneratedAt  Timestamp `json:"generatedAt"`
	SolutionPath string    `json:"solutionPath,omitempty"`
	ToolVersion  string    `json:"toolVersion,omitempty"`
	GraphVersion string    `json:"graphVersion,omitempty"`
	TotalNodes   int       `json:"totalNodes,omitempty"`
	TotalEdges   int       `json:"totalEdges,omitempty"`
}

// timestampLayouts are tried in order. Analyzers on .NET often write local
// times without an offset; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Timestamp is a metadata time that accepts RFC 3339 as well as ISO 8601
// forms without a zone offset. Fractional seconds of any precision are
// allowed. A null or empty value is the zero time.
type Timestamp struct {
	time.Time
}

// ParseTimestamp parses s with the accepted layouts.
func ParseTimestamp(s string) (Timestamp, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t}, nil
		}
	}
	return Timestamp{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(time.RFC3339Nano))
}

// RecordWarning describes one record that was skipped while reading.
type RecordWarning struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Document is one fully parsed export.
type Document struct {
	SourcePath string
	Metadata   Metadata
	Nodes      []*Node
	Edges      []*Edge
	Warnings   []RecordWarning
}

// NodeIndex returns the document's nodes keyed by id.
func (d *Document) NodeIndex() map[string]*Node {
	idx := make(map[string]*Node, len(d.Nodes))
	for _, n := range d.Nodes {
		idx[n.ID] = n
	}
	return idx
}
