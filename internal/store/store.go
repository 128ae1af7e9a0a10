// Package store provides the per-collection-key metadata store: a
// SQLite-backed table of (id, source, content) rows and a companion
// segments table binding each id to the on-disk ANN shard it lives in.
//
// Each collection key gets its own *Store over its own <K>.db file — there
// is no process-wide singleton. A Store acquires an internal lock for the
// duration of every operation; callers must treat it as single-threaded for
// writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/localdex/localdex/internal/ingesterr"
)

// Row is a single metadata record: the segment id, its source document
// path, and the chunk text stored under that id.
type Row struct {
	ID      int64
	Source  string
	Content string
}

// Store is a single-writer, multi-reader metadata table for one collection
// key. It is safe for concurrent use; all operations serialize on an
// internal mutex.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the metadata database at path and ensures its
// schema exists. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist. Table and column
// names are load-bearing for on-disk compatibility and must not be renamed.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS metadata (id INTEGER PRIMARY KEY, source TEXT, content TEXT);
CREATE TABLE IF NOT EXISTS segments (id INTEGER PRIMARY KEY, deleteBit INTEGER, content TEXT);
CREATE INDEX IF NOT EXISTS idx_metadata_source ON metadata (source);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// InsertMany inserts rows into metadata in a single transaction: either all
// rows commit or none do.
func (s *Store) InsertMany(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert_many: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metadata (id, source, content) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert_many: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.ID, r.Source, r.Content); err != nil {
			return fmt.Errorf("store: insert_many: exec id=%d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert_many: commit: %w", err)
	}
	return nil
}

// InsertSegments records one segments row per id, binding it to the on-disk
// shard file it was just dumped into with deleteBit=1 (live).
func (s *Store) InsertSegments(ctx context.Context, ids []int64, indexFile string) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert_segments: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments (id, deleteBit, content) VALUES (?, 1, ?)`)
	if err != nil {
		return fmt.Errorf("store: insert_segments: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, indexFile); err != nil {
			return fmt.Errorf("store: insert_segments: exec id=%d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert_segments: commit: %w", err)
	}
	return nil
}

// IsDuplicate reports whether source already has a live metadata row: one
// whose segments row has deleteBit=1. A metadata row with no segments row
// is not counted.
func (s *Store) IsDuplicate(ctx context.Context, source string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists bool
	const q = `
SELECT EXISTS(
  SELECT 1 FROM metadata m
  JOIN segments s ON s.id = m.id
  WHERE m.source = ? AND s.deleteBit = 1
)`
	if err := s.db.QueryRowContext(ctx, q, source).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: is_duplicate: %w", err)
	}
	return exists, nil
}

// IDsForSource returns the ids of every live metadata row for source.
func (s *Store) IDsForSource(ctx context.Context, source string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `
SELECT m.id FROM metadata m
JOIN segments s ON s.id = m.id
WHERE m.source = ? AND s.deleteBit = 1`

	rows, err := s.db.QueryContext(ctx, q, source)
	if err != nil {
		return nil, fmt.Errorf("store: ids_for_source: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: ids_for_source: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Restore reverses Tombstone, marking ids live again. Used to roll back a
// delete-then-insert update when the insert half fails.
func (s *Store) Restore(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: restore: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE segments SET deleteBit = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: restore: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("store: restore: exec id=%d: %w", id, err)
		}
	}

	return tx.Commit()
}

// MaxID returns the highest id present in metadata, or -1 if the table is
// empty (so callers computing next = max_id()+1 start at 0).
func (s *Store) MaxID(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id sql.NullInt64
	const q = `SELECT MAX(id) FROM metadata`
	if err := s.db.QueryRowContext(ctx, q).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: max_id: %w", err)
	}
	if !id.Valid {
		return -1, nil
	}
	return id.Int64, nil
}

// Fetch returns the metadata row for id, or ok=false if no live row exists
// for it (tombstoned or never persisted).
func (s *Store) Fetch(ctx context.Context, id int64) (row Row, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `
SELECT m.id, m.source, m.content FROM metadata m
JOIN segments s ON s.id = m.id
WHERE m.id = ? AND s.deleteBit = 1`

	var r Row
	scanErr := s.db.QueryRowContext(ctx, q, id).Scan(&r.ID, &r.Source, &r.Content)
	if scanErr == sql.ErrNoRows {
		return Row{}, false, nil
	}
	if scanErr != nil {
		return Row{}, false, fmt.Errorf("store: fetch id=%d: %w", id, scanErr)
	}
	return r, true, nil
}

// ListSources returns every distinct live source path in this collection.
func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `
SELECT DISTINCT m.source FROM metadata m
JOIN segments s ON s.id = m.id
WHERE s.deleteBit = 1
ORDER BY m.source`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list_sources: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("store: list_sources: scan: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Tombstone marks ids as deleted (deleteBit=0) without removing their rows.
func (s *Store) Tombstone(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: tombstone: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE segments SET deleteBit = 0 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: tombstone: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("store: tombstone: exec id=%d: %w", id, err)
		}
	}

	return tx.Commit()
}

// PurgeTombstoned permanently removes metadata and segments rows for every
// id currently marked deleteBit=0. No compaction of the ANN shard files
// themselves happens here — see DESIGN.md's note on shard fragmentation.
func (s *Store) PurgeTombstoned(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: purge_tombstoned: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE id IN (SELECT id FROM segments WHERE deleteBit = 0)`); err != nil {
		return fmt.Errorf("store: purge_tombstoned: metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE deleteBit = 0`); err != nil {
		return fmt.Errorf("store: purge_tombstoned: segments: %w", err)
	}

	return tx.Commit()
}

// SegmentFile returns the index filename an id is bound to, and whether the
// id is currently live.
func (s *Store) SegmentFile(ctx context.Context, id int64) (file string, live bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const q = `SELECT deleteBit, content FROM segments WHERE id = ?`
	var bit int
	scanErr := s.db.QueryRowContext(ctx, q, id).Scan(&bit, &file)
	if scanErr == sql.ErrNoRows {
		return "", false, nil
	}
	if scanErr != nil {
		return "", false, fmt.Errorf("%w: segment_file id=%d: %v", ingesterr.ErrDBLocked, id, scanErr)
	}
	return file, bit == 1, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
