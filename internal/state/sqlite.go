package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processing_state (
	source_file TEXT NOT NULL,
	version TEXT NOT NULL,
	id TEXT NOT NULL,
	payload TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (source_file, version)
);
CREATE INDEX IF NOT EXISTS idx_processing_state_version ON processing_state(version);
`

// SQLiteStore keeps processing state in a SQLite table, one JSON payload per
// (source file, version).
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLite opens or creates the state database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrStoreUnavailable, path, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, path, err)
	}

	// Wait up to 5s on lock instead of failing immediately
	conn.Exec("PRAGMA busy_timeout=5000")
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := conn.Exec(sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying state schema: %w", err)
	}

	return &SQLiteStore{conn: conn}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// Get returns the stored state or a default empty one.
func (s *SQLiteStore) Get(ctx context.Context, sourceFile, version string) (*ProcessingState, error) {
	var payload string
	err := s.conn.QueryRowContext(ctx,
		`SELECT payload FROM processing_state WHERE source_file = ? AND version = ?`,
		sourceFile, version,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return New(sourceFile, version), nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying processing state: %w", err)
	}
	return decodeState(payload)
}

// Save upserts the record, keeping the id already stored for the key.
func (s *SQLiteStore) Save(ctx context.Context, st *ProcessingState) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM processing_state WHERE source_file = ? AND version = ?`,
		st.SourceFile, st.Version,
	).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
	case err != nil:
		return fmt.Errorf("querying processing state id: %w", err)
	default:
		st.ID = existingID
	}

	st.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshaling processing state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO processing_state (source_file, version, id, payload, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_file, version) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, st.SourceFile, st.Version, st.ID, string(payload), st.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("saving processing state: %w", err)
	}

	return tx.Commit()
}

// List returns every stored record.
func (s *SQLiteStore) List(ctx context.Context) ([]*ProcessingState, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT payload FROM processing_state ORDER BY version, source_file`)
	if err != nil {
		return nil, fmt.Errorf("querying processing state: %w", err)
	}
	defer rows.Close()

	var states []*ProcessingState
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		st, err := decodeState(payload)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// DeleteVersion removes every record of a version.
func (s *SQLiteStore) DeleteVersion(ctx context.Context, version string) (int, error) {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM processing_state WHERE version = ?`, version)
	if err != nil {
		return 0, fmt.Errorf("deleting processing state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func decodeState(payload string) (*ProcessingState, error) {
	var st ProcessingState
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return nil, fmt.Errorf("unmarshaling processing state: %w", err)
	}
	if st.Projects == nil {
		st.Projects = make(map[string]*ProjectProcessingInfo)
	}
	return &st, nil
}
