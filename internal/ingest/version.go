package ingest

import (
	"regexp"
	"strings"

	"graphvault/internal/partition"
)

// FallbackVersion is used when nothing else names a version.
const FallbackVersion = "default"

var discriminatorVersion = regexp.MustCompile(`\d+(\.\d+)+`)

// ResolveVersion picks the graph version for a run: the explicit option,
// then the export's own graphVersion, then a dotted version number found in
// the path discriminator, then the configured default.
func ResolveVersion(explicit, graphVersion, sourcePath, configured string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if v := strings.TrimSpace(graphVersion); v != "" {
		return v
	}
	if v := discriminatorVersion.FindString(partition.Discriminator(sourcePath)); v != "" {
		return v
	}
	if v := strings.TrimSpace(configured); v != "" {
		return v
	}
	return FallbackVersion
}
