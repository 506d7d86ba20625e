package store

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"graphvault/internal/graph"
)

// NodeDocument is the persisted form of one node inside a version
// collection. Outgoing relationships are folded in as arrays of document
// keys; ContainedIn is the key of the node's container.
type NodeDocument struct {
	Key                string          `json:"_id"`
	SourceID           string          `json:"sourceId"`
	Name               string          `json:"name"`
	FullyQualifiedName string          `json:"fullyQualifiedName,omitempty"`
	Kind               graph.NodeKind  `json:"kind"`
	Project            string          `json:"project,omitempty"`
	Namespace          string          `json:"namespace,omitempty"`
	Accessibility      string          `json:"accessibility,omitempty"`
	IsAbstract         bool            `json:"isAbstract,omitempty"`
	IsStatic           bool            `json:"isStatic,omitempty"`
	IsSealed           bool            `json:"isSealed,omitempty"`
	Layer              string          `json:"layer,omitempty"`
	Location           *graph.Location `json:"location,omitempty"`
	Version            string          `json:"version"`
	PartitionID        string          `json:"partitionId,omitempty"`

	Calls        []string `json:"calls,omitempty"`
	CallsVia     []string `json:"callsVia,omitempty"`
	IndirectCall []string `json:"indirectCall,omitempty"`
	Implements   []string `json:"implements,omitempty"`
	Inherits     []string `json:"inherits,omitempty"`
	Uses         []string `json:"uses,omitempty"`
	Contains     []string `json:"contains,omitempty"`
	HasMember    []string `json:"hasMember,omitempty"`
	ContainedIn  string   `json:"containedIn,omitempty"`
}

// ContainedInField is the reference field seeded by Contains edges.
const ContainedInField = "containedIn"

// Relationship returns a pointer to the array field holding rel.
func (d *NodeDocument) Relationship(rel graph.Relationship) *[]string {
	switch rel {
	case graph.RelCalls:
		return &d.Calls
	case graph.RelCallsVia:
		return &d.CallsVia
	case graph.RelIndirectCall:
		return &d.IndirectCall
	case graph.RelImplements:
		return &d.Implements
	case graph.RelInherits:
		return &d.Inherits
	case graph.RelUses:
		return &d.Uses
	case graph.RelContains:
		return &d.Contains
	case graph.RelHasMember:
		return &d.HasMember
	}
	return nil
}

// References lists every (field, target key) pair the document points at.
func (d *NodeDocument) References() [][2]string {
	var refs [][2]string
	for _, rel := range graph.Relationships {
		for _, target := range *d.Relationship(rel) {
			refs = append(refs, [2]string{rel.Field(), target})
		}
	}
	if d.ContainedIn != "" {
		refs = append(refs, [2]string{ContainedInField, d.ContainedIn})
	}
	return refs
}

// EncodedDocument pairs a document with its serialized bytes so size checks
// and writes share one encoding.
type EncodedDocument struct {
	Doc  *NodeDocument
	Data []byte
}

// Encode serializes a document for storage.
func Encode(doc *NodeDocument) (EncodedDocument, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return EncodedDocument{}, fmt.Errorf("encoding node %s: %w", doc.Key, err)
	}
	return EncodedDocument{Doc: doc, Data: data}, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// CollectionName maps a version string to its collection (table) name:
// "nodes_" plus the lower-cased version with every run of non-alphanumeric
// characters replaced by "_". The read side relies on this mapping.
func CollectionName(version string) string {
	s := strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(version), "_"), "_")
	if s == "" {
		s = "default"
	}
	return "nodes_" + s
}

func refsTable(collection string) string {
	return collection + "_refs"
}
