// Package store provides the SQLite-backed versioned node store: one table
// ("collection") per graph version, upserted by stable document key.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"graphvault/internal/cas"
)

var (
	// ErrStoreUnavailable wraps failures to open or reach the database.
	ErrStoreUnavailable = errors.New("graph store unavailable")
	// ErrNodeNotFound is returned by GetNode for unknown keys.
	ErrNodeNotFound = errors.New("node not found")
	// ErrVersionNotFound is returned when a version has no collection.
	ErrVersionNotFound = errors.New("version not found")
	// ErrCollectionConflict is returned when two versions map to one
	// collection name (e.g. "6.7.5" and "6-7-5").
	ErrCollectionConflict = errors.New("collection name already used by another version")
)

const catalogSchema = `
CREATE TABLE IF NOT EXISTS versions (
	version TEXT PRIMARY KEY,
	collection TEXT NOT NULL UNIQUE,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// DB wraps the SQLite connection holding all version collections.
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the graph database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrStoreUnavailable, path, err)
	}

	// Fail early if connection is bad
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", ErrStoreUnavailable, path, err)
	}

	// Wait up to 5s on lock instead of failing immediately
	conn.Exec("PRAGMA busy_timeout=5000")
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: enabling WAL mode: %v", ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(catalogSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying catalog schema: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// NodeFailure records one document that could not be written.
type NodeFailure struct {
	Key      string
	SourceID string
	Err      error
}

// BatchResult summarizes one UpsertBatch call.
type BatchResult struct {
	Written  int
	Failures []NodeFailure
}

// UpsertBatch replaces or inserts every document of the batch in one
// transaction. Each document is wrapped in a savepoint, so a failing document
// is rolled back alone and reported in Failures while the rest commit. The
// returned error is reserved for transaction-level failures, in which case
// nothing in the batch was written.
//
// The collection must exist; call EnsureIndexes first.
func (db *DB) UpsertBatch(ctx context.Context, version string, docs []EncodedDocument) (BatchResult, error) {
	var res BatchResult
	if len(docs) == 0 {
		return res, nil
	}
	coll := CollectionName(version)
	refs := refsTable(coll)
	now := cas.NowMs()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %q (id, kind, name, fqn, project, namespace, partition_id, doc, size, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			fqn = excluded.fqn,
			project = excluded.project,
			namespace = excluded.namespace,
			partition_id = excluded.partition_id,
			doc = excluded.doc,
			size = excluded.size,
			updated_at = excluded.updated_at
	`, coll))
	if err != nil {
		return res, fmt.Errorf("preparing upsert: %w", err)
	}
	defer upsert.Close()

	clearRefs, err := tx.PrepareContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE node_id = ?`, refs))
	if err != nil {
		return res, fmt.Errorf("preparing reference cleanup: %w", err)
	}
	defer clearRefs.Close()

	insertRef, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %q (node_id, field, target_id) VALUES (?, ?, ?)`, refs))
	if err != nil {
		return res, fmt.Errorf("preparing reference insert: %w", err)
	}
	defer insertRef.Close()

	for _, ed := range docs {
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT node"); err != nil {
			return BatchResult{}, fmt.Errorf("creating savepoint: %w", err)
		}

		if err := writeOne(ctx, upsert, clearRefs, insertRef, ed, now); err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO node"); rbErr != nil {
				return BatchResult{}, fmt.Errorf("rolling back node %s: %w", ed.Doc.Key, rbErr)
			}
			res.Failures = append(res.Failures, NodeFailure{Key: ed.Doc.Key, SourceID: ed.Doc.SourceID, Err: err})
		} else {
			res.Written++
		}

		if _, err := tx.ExecContext(ctx, "RELEASE node"); err != nil {
			return BatchResult{}, fmt.Errorf("releasing savepoint: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE versions SET updated_at = ? WHERE version = ?`, now, version); err != nil {
		return BatchResult{}, fmt.Errorf("touching version catalog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return BatchResult{}, fmt.Errorf("committing batch: %w", err)
	}
	return res, nil
}

func writeOne(ctx context.Context, upsert, clearRefs, insertRef *sql.Stmt, ed EncodedDocument, now int64) error {
	d := ed.Doc
	if d.Key == "" {
		return errors.New("document has no key")
	}
	if _, err := upsert.ExecContext(ctx,
		d.Key, string(d.Kind), d.Name, d.FullyQualifiedName, d.Project, d.Namespace,
		d.PartitionID, string(ed.Data), len(ed.Data), now,
	); err != nil {
		return fmt.Errorf("upserting node: %w", err)
	}
	if _, err := clearRefs.ExecContext(ctx, d.Key); err != nil {
		return fmt.Errorf("clearing references: %w", err)
	}
	for _, ref := range d.References() {
		if _, err := insertRef.ExecContext(ctx, d.Key, ref[0], ref[1]); err != nil {
			return fmt.Errorf("indexing reference: %w", err)
		}
	}
	return nil
}

// PruneStale deletes the documents of a partition whose keys are not in keep,
// together with their reference rows, and returns how many were removed.
// Documents that moved to another partition carry that partition's id and
// are left alone.
func (db *DB) PruneStale(ctx context.Context, version, partitionID string, keep []string) (int, error) {
	coll := CollectionName(version)
	refs := refsTable(coll)

	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %q WHERE partition_id = ?`, coll), partitionID)
	if err != nil {
		return 0, fmt.Errorf("querying partition documents: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning row: %w", err)
		}
		if !keepSet[id] {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(stale) == 0 {
		return 0, nil
	}

	for _, id := range stale {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE node_id = ?`, refs), id); err != nil {
			return 0, fmt.Errorf("deleting references of %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, coll), id); err != nil {
			return 0, fmt.Errorf("deleting node %s: %w", id, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE versions SET updated_at = ? WHERE version = ?`, cas.NowMs(), version); err != nil {
		return 0, fmt.Errorf("touching version catalog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return len(stale), nil
}

// DropVersion removes a version's collection, its reference index and its
// catalog entry. Dropping an unknown version is not an error.
func (db *DB) DropVersion(ctx context.Context, version string) error {
	coll := CollectionName(version)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{refsTable(coll), coll} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE version = ?`, version); err != nil {
		return fmt.Errorf("deleting catalog entry: %w", err)
	}
	return tx.Commit()
}

// VersionInfo describes one stored version.
type VersionInfo struct {
	Version    string    `json:"version"`
	Collection string    `json:"collection"`
	NodeCount  int       `json:"nodeCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// ListVersions returns every version in the catalog with its node count.
func (db *DB) ListVersions(ctx context.Context) ([]VersionInfo, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT version, collection, created_at, updated_at FROM versions ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}

	var infos []VersionInfo
	for rows.Next() {
		var v VersionInfo
		var created, updated int64
		if err := rows.Scan(&v.Version, &v.Collection, &created, &updated); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		v.CreatedAt = time.UnixMilli(created).UTC()
		v.UpdatedAt = time.UnixMilli(updated).UTC()
		infos = append(infos, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range infos {
		n, err := db.countCollection(ctx, infos[i].Collection)
		if err != nil {
			return nil, err
		}
		infos[i].NodeCount = n
	}
	return infos, nil
}

// CountNodes returns the number of documents in a version's collection.
func (db *DB) CountNodes(ctx context.Context, version string) (int, error) {
	exists, err := db.collectionExists(ctx, CollectionName(version))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrVersionNotFound
	}
	return db.countCollection(ctx, CollectionName(version))
}

func (db *DB) countCollection(ctx context.Context, coll string) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %q`, coll)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", coll, err)
	}
	return n, nil
}

func (db *DB) collectionExists(ctx context.Context, coll string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, coll,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking collection: %w", err)
	}
	return n > 0, nil
}

// GetNode loads one document by key.
func (db *DB) GetNode(ctx context.Context, version, key string) (*NodeDocument, error) {
	coll := CollectionName(version)
	exists, err := db.collectionExists(ctx, coll)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrVersionNotFound
	}

	var raw string
	err = db.conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT doc FROM %q WHERE id = ?`, coll), key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}

	var doc NodeDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling node: %w", err)
	}
	return &doc, nil
}

// Referrers returns the keys of documents whose field references target,
// e.g. Referrers(ctx, v, "implements", key) lists the implementers of key.
func (db *DB) Referrers(ctx context.Context, version, field, target string) ([]string, error) {
	refs := refsTable(CollectionName(version))
	exists, err := db.collectionExists(ctx, refs)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrVersionNotFound
	}

	rows, err := db.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT node_id FROM %q WHERE field = ? AND target_id = ? ORDER BY node_id`, refs),
		field, target)
	if err != nil {
		return nil, fmt.Errorf("querying referrers: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
