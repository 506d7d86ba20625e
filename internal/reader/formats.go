package reader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"graphvault/internal/graph"
)

// readLines decodes a line-oriented export. Lines are read without a length
// cap so a single huge node record does not fail the file.
func (r *Reader) readLines(ctx context.Context, src io.Reader, b *builder) error {
	br := bufio.NewReaderSize(src, 256*1024)
	lineNo := 0
	sawMetadata := false

	for {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading %s: %w", b.doc.SourcePath, readErr)
		}

		if len(line) > 0 {
			lineNo++
			if lineNo%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}

			trimmed := bytes.TrimSpace(line)
			switch {
			case len(trimmed) == 0:
				// blank
			case !sawMetadata:
				meta, err := decodeMetadata(trimmed)
				if err != nil {
					return &MalformedInputError{Path: b.doc.SourcePath, Line: lineNo, Err: err}
				}
				b.doc.Metadata = meta
				sawMetadata = true
			default:
				var rec record
				if err := json.Unmarshal(trimmed, &rec); err != nil {
					b.warn(lineNo, "invalid JSON: %v", err)
				} else {
					b.add(lineNo, &rec)
				}
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
	}

	if !sawMetadata {
		return &MalformedInputError{Path: b.doc.SourcePath, Err: errors.New("no metadata record")}
	}
	return nil
}

// firstMetadata decodes the first non-empty line of a line-oriented export.
func firstMetadata(src io.Reader, path string) (graph.Metadata, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	lineNo := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return graph.Metadata{}, fmt.Errorf("reading %s: %w", path, readErr)
		}
		if len(line) > 0 {
			lineNo++
			if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
				meta, err := decodeMetadata(trimmed)
				if err != nil {
					return graph.Metadata{}, &MalformedInputError{Path: path, Line: lineNo, Err: err}
				}
				return meta, nil
			}
		}
		if errors.Is(readErr, io.EOF) {
			return graph.Metadata{}, &MalformedInputError{Path: path, Err: errors.New("no metadata record")}
		}
	}
}

// documentFile is the whole-document layout.
type documentFile struct {
	Metadata json.RawMessage   `json:"metadata"`
	Nodes    []json.RawMessage `json:"nodes"`
	Edges    []json.RawMessage `json:"edges"`
}

// readWhole decodes a whole-document export. Warning line numbers refer to
// the 1-based position of the entry within its array.
func (r *Reader) readWhole(ctx context.Context, src io.Reader, b *builder) error {
	var file documentFile
	if err := json.NewDecoder(src).Decode(&file); err != nil {
		return &MalformedInputError{Path: b.doc.SourcePath, Err: err}
	}
	if len(file.Metadata) == 0 || string(file.Metadata) == "null" {
		return &MalformedInputError{Path: b.doc.SourcePath, Err: errors.New("no metadata object")}
	}
	meta, err := decodeMetadata(file.Metadata)
	if err != nil {
		return &MalformedInputError{Path: b.doc.SourcePath, Err: err}
	}
	b.doc.Metadata = meta

	for i, raw := range file.Nodes {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			b.warn(i+1, "invalid node entry: %v", err)
			continue
		}
		if rec.Type == "edge" {
			b.warn(i+1, "edge entry in nodes array")
			continue
		}
		b.add(i+1, &rec)
	}

	for i, raw := range file.Edges {
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			b.warn(i+1, "invalid edge entry: %v", err)
			continue
		}
		b.addEdgeRecord(i+1, &rec)
	}
	return nil
}
