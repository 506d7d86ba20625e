package store

import (
	"context"
	"database/sql"
	"fmt"

	"graphvault/internal/cas"
)

// indexedColumns are the lookup fields of a version collection.
var indexedColumns = []struct {
	suffix string
	column string
}{
	{"name", "name"},
	{"fqn", "fqn"},
	{"kind", "kind"},
	{"project", "project"},
	{"namespace", "namespace"},
	{"partition", "partition_id"},
}

// EnsureIndexes creates a version's collection, its reference index table
// and every lookup index if they are missing, and registers the version in
// the catalog. It is idempotent.
func (db *DB) EnsureIndexes(ctx context.Context, version string) error {
	coll := CollectionName(version)
	refs := refsTable(coll)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM versions WHERE collection = ? AND version <> ?`, coll, version,
	).Scan(&owner)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s maps to %s, owned by version %q", ErrCollectionConflict, version, coll, owner)
	case err != sql.ErrNoRows:
		return fmt.Errorf("checking version catalog: %w", err)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			fqn TEXT,
			project TEXT,
			namespace TEXT,
			partition_id TEXT,
			doc TEXT NOT NULL,
			size INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`, coll),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			node_id TEXT NOT NULL,
			field TEXT NOT NULL,
			target_id TEXT NOT NULL,
			PRIMARY KEY (node_id, field, target_id)
		)`, refs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(field, target_id)`, "idx_"+refs+"_target", refs),
	}
	for _, ic := range indexedColumns {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q(%s)`,
			"idx_"+coll+"_"+ic.suffix, coll, ic.column))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating indexes for %s: %w", coll, err)
		}
	}

	now := cas.NowMs()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO versions (version, collection, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(version) DO NOTHING
	`, version, coll, now, now); err != nil {
		return fmt.Errorf("registering version %s: %w", version, err)
	}

	return tx.Commit()
}

// Indexes lists the index names present on a version's collection and its
// reference table.
func (db *DB) Indexes(ctx context.Context, version string) ([]string, error) {
	coll := CollectionName(version)
	rows, err := db.conn.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'index' AND tbl_name IN (?, ?) AND name LIKE 'idx_%'
		ORDER BY name
	`, coll, refsTable(coll))
	if err != nil {
		return nil, fmt.Errorf("querying indexes: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
