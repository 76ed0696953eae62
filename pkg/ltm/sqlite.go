package ltm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteSnapshotStore persists snapshots in a SQLite database, for callers
// that already route their run bookkeeping through a relational store. One
// row per memory plus one row per access-history entry; each snapshot save
// replaces the previous one.
type SQLiteSnapshotStore struct {
	db *sql.DB
}

// NewSQLiteSnapshotStore opens (or creates) a SQLite-backed snapshot store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func NewSQLiteSnapshotStore(dbPath string) (*SQLiteSnapshotStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteSnapshotStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the snapshot tables if they don't exist.
func (s *SQLiteSnapshotStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		memory_id TEXT PRIMARY KEY,
		memory_type TEXT NOT NULL,
		created_at REAL NOT NULL,
		record TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);

	CREATE TABLE IF NOT EXISTS access_history (
		memory_id TEXT PRIMARY KEY,
		access_times TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the stored snapshot with snap inside one transaction.
func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memories"); err != nil {
		return fmt.Errorf("failed to clear memories: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM access_history"); err != nil {
		return fmt.Errorf("failed to clear access history: %w", err)
	}

	memStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO memories (memory_id, memory_type, created_at, record) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare memory stmt: %w", err)
	}
	defer memStmt.Close()

	for _, rec := range snap.Memories {
		recordJSON, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal memory %s: %w", shortID(rec.MemoryID), err)
		}
		if _, err := memStmt.ExecContext(ctx, rec.MemoryID, rec.MemoryType, rec.CreatedAt, recordJSON); err != nil {
			return fmt.Errorf("failed to insert memory %s: %w", shortID(rec.MemoryID), err)
		}
	}

	histStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO access_history (memory_id, access_times) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare history stmt: %w", err)
	}
	defer histStmt.Close()

	for memoryID, times := range snap.AccessHistory {
		timesJSON, err := json.Marshal(times)
		if err != nil {
			return fmt.Errorf("failed to marshal access history: %w", err)
		}
		if _, err := histStmt.ExecContext(ctx, memoryID, timesJSON); err != nil {
			return fmt.Errorf("failed to insert access history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. An empty database yields (nil, nil).
func (s *SQLiteSnapshotStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		AccessHistory: make(map[string][]float64),
	}

	rows, err := s.db.QueryContext(ctx, "SELECT record FROM memories")
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var recordJSON []byte
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		var rec SnapshotRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory: %w", err)
		}
		snap.Memories = append(snap.Memories, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memories: %w", err)
	}

	histRows, err := s.db.QueryContext(ctx, "SELECT memory_id, access_times FROM access_history")
	if err != nil {
		return nil, fmt.Errorf("failed to query access history: %w", err)
	}
	defer histRows.Close()

	for histRows.Next() {
		var memoryID string
		var timesJSON []byte
		if err := histRows.Scan(&memoryID, &timesJSON); err != nil {
			return nil, fmt.Errorf("failed to scan access history: %w", err)
		}
		var times []float64
		if err := json.Unmarshal(timesJSON, &times); err != nil {
			return nil, fmt.Errorf("failed to unmarshal access history: %w", err)
		}
		snap.AccessHistory[memoryID] = times
	}
	if err := histRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access history: %w", err)
	}

	if len(snap.Memories) == 0 {
		return nil, nil
	}
	return snap, nil
}

// Close closes the underlying database.
func (s *SQLiteSnapshotStore) Close() error {
	return s.db.Close()
}

// Compile-time interface checks
var (
	_ SnapshotStore = (*FileSnapshotStore)(nil)
	_ SnapshotStore = (*SQLiteSnapshotStore)(nil)
)
