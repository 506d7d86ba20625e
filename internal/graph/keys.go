package graph

import (
	"regexp"
	"strings"

	"graphvault/internal/cas"
)

// versionSuffix matches a trailing "@6.7.5" or "@v6.7.5" on a node id.
var versionSuffix = regexp.MustCompile(`@v?\d+(\.\d+)*$`)

// StripVersion removes a trailing version suffix from a node id so stored
// references stay version-agnostic.
func StripVersion(id string) string {
	return versionSuffix.ReplaceAllString(id, "")
}

// Ref is an analyzer node id split into its kind prefix and qualified name.
type Ref struct {
	Kind          NodeKind
	QualifiedName string
}

// ParseRef splits an id of the form "<kind>:<qualifiedName>". An id without
// a recognised kind prefix is treated as a bare qualified name.
func ParseRef(id string) Ref {
	id = StripVersion(strings.TrimSpace(id))
	if i := strings.IndexByte(id, ':'); i > 0 {
		kind := NormalizeKind(id[:i])
		if isKnownKind(kind) {
			return Ref{Kind: kind, QualifiedName: id[i+1:]}
		}
	}
	return Ref{QualifiedName: id}
}

func isKnownKind(k NodeKind) bool {
	switch k {
	case KindClass, KindInterface, KindMethod, KindProperty, KindField,
		KindEnum, KindStruct, KindProject, KindLayer, KindSolution,
		KindFile, KindNamespace:
		return true
	}
	return false
}

// KeyFor is the single authoritative document key scheme: a truncated
// BLAKE3 digest of the lower-cased kind and the qualified name. The project
// is stored as a separate field and never participates in the key.
func KeyFor(kind NodeKind, qualifiedName string) string {
	return cas.KeyHex(strings.ToLower(string(kind)), qualifiedName)
}

// RefKey resolves a reference id to the key of the document it points at.
// The target does not need to be present in the current batch.
func RefKey(id string) string {
	r := ParseRef(id)
	return KeyFor(r.Kind, r.QualifiedName)
}

// NodeKey returns the document key for a node. It is derived from the node's
// id, so RefKey(n.ID) == NodeKey(n) for every node with an id.
func NodeKey(n *Node) string {
	r := ParseRef(n.ID)
	if r.Kind == "" && r.QualifiedName == "" {
		return KeyFor(n.Kind, n.QualifiedName())
	}
	return KeyFor(r.Kind, r.QualifiedName)
}
