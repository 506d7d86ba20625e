// Package inputs turns command-line arguments into the list of export files
// to process.
package inputs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"graphvault/internal/reader"
)

// IsPattern reports whether arg contains glob metacharacters.
func IsPattern(arg string) bool {
	return strings.ContainsAny(arg, "*?[{")
}

// Expand resolves plain paths and ** glob patterns. Plain paths are kept as
// given (a missing file is an error). Pattern matches are narrowed to files
// with a supported export extension. Directories expand to every supported
// export beneath them. The result is absolute, deduplicated and sorted.
func Expand(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) error {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", p, err)
		}
		if !seen[abs] {
			seen[abs] = true
			out = append(out, abs)
		}
		return nil
	}

	for _, arg := range args {
		if IsPattern(arg) {
			matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("expanding %q: %w", arg, err)
			}
			for _, m := range matches {
				if reader.Supported(m) {
					if err := add(m); err != nil {
						return nil, err
					}
				}
			}
			continue
		}

		fi, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}
		if fi.IsDir() {
			matches, err := doublestar.FilepathGlob(filepath.Join(arg, "**", "*"), doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("walking %s: %w", arg, err)
			}
			for _, m := range matches {
				if reader.Supported(m) {
					if err := add(m); err != nil {
						return nil, err
					}
				}
			}
			continue
		}
		if err := add(arg); err != nil {
			return nil, err
		}
	}

	sort.Strings(out)
	return out, nil
}
