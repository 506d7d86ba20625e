package reader

import (
	"errors"
	"fmt"

	"graphvault/internal/graph"
)

var (
	// ErrMalformedInput marks an export that cannot be used at all.
	ErrMalformedInput = errors.New("malformed input")
	// ErrUnsupportedFormat is returned for file extensions no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// MalformedInputError reports why a whole file was rejected.
type MalformedInputError struct {
	Path string
	Line int
	Err  error
}

func (e *MalformedInputError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed input %s (line %d): %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("malformed input %s: %v", e.Path, e.Err)
}

func (e *MalformedInputError) Unwrap() error { return e.Err }

// Is lets callers match with errors.Is(err, ErrMalformedInput).
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// RecordParseWarning is a single skipped record; it never aborts a read.
type RecordParseWarning = graph.RecordWarning
