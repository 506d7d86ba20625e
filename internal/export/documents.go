package export

import (
	"sort"

	"graphvault/internal/graph"
	"graphvault/internal/store"
)

// BuildDocuments converts nodes into node documents for one version.
// Edges whose source is among nodes are folded into the source's document as
// relationship arrays of target keys, deduplicated and sorted. A Contains
// edge whose target is among nodes also sets the target's ContainedIn.
// Edges touching no node in the set are ignored.
func BuildDocuments(nodes []*graph.Node, edges []*graph.Edge, version, partitionID string) []*store.NodeDocument {
	docs := make([]*store.NodeDocument, 0, len(nodes))
	byID := make(map[string]*store.NodeDocument, len(nodes))
	for _, n := range nodes {
		d := &store.NodeDocument{
			Key:                graph.NodeKey(n),
			SourceID:           graph.StripVersion(n.ID),
			Name:               n.Name,
			FullyQualifiedName: n.FullyQualifiedName,
			Kind:               n.Kind,
			Project:            n.Project,
			Namespace:          n.Namespace,
			Accessibility:      n.Accessibility,
			IsAbstract:         n.IsAbstract,
			IsStatic:           n.IsStatic,
			IsSealed:           n.IsSealed,
			Layer:              n.Layer,
			Location:           n.Location,
			Version:            version,
			PartitionID:        partitionID,
		}
		docs = append(docs, d)
		byID[n.ID] = d
	}

	type fold struct {
		doc *store.NodeDocument
		rel graph.Relationship
	}
	targets := make(map[fold]map[string]struct{})

	for _, e := range edges {
		if src, ok := byID[e.Source]; ok {
			if arr := src.Relationship(e.Relationship); arr != nil {
				k := fold{src, e.Relationship}
				if targets[k] == nil {
					targets[k] = make(map[string]struct{})
				}
				targets[k][graph.RefKey(e.Target)] = struct{}{}
			}
		}
		if e.Relationship == graph.RelContains {
			if dst, ok := byID[e.Target]; ok {
				container := graph.RefKey(e.Source)
				// Lowest key wins when several containers claim one node.
				if dst.ContainedIn == "" || container < dst.ContainedIn {
					dst.ContainedIn = container
				}
			}
		}
	}

	for k, set := range targets {
		keys := make([]string, 0, len(set))
		for key := range set {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		*k.doc.Relationship(k.rel) = keys
	}
	return docs
}
