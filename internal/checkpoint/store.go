package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists checkpoint blobs keyed by (request, cycle) so shards can
// restore mid-trace without holding every snapshot in memory.
type Store struct {
	db     *sql.DB
	dbPath string
}

// ErrNotFound is returned when no checkpoint exists at or below the
// requested cycle.
var ErrNotFound = errors.New("checkpoint not found")

// NewStore creates or opens a checkpoint store. An empty path selects an
// in-memory database, used by tests and calibration dry-runs.
func NewStore(dbPath string) (*Store, error) {
	dsn := ":memory:"
	if dbPath == ":memory:" {
		dbPath = ""
	}
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == "" {
		// In-memory SQLite loses its schema if the sole connection is
		// recycled.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		request_id TEXT NOT NULL,
		cycle      INTEGER NOT NULL,
		blob       BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (request_id, cycle)
	);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_request
		ON checkpoints(request_id, cycle DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save persists one checkpoint, replacing any prior blob at the same cycle.
func (s *Store) Save(requestID string, state *State) error {
	blob, err := state.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO checkpoints (request_id, cycle, blob, created_at) VALUES (?, ?, ?, ?)`,
		requestID, int64(state.Cycle), blob, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load fetches the checkpoint captured at exactly the given cycle.
func (s *Store) Load(requestID string, cycle uint64) (*State, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT blob FROM checkpoints WHERE request_id = ? AND cycle = ?`,
		requestID, int64(cycle),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s cycle %d: %w", requestID, cycle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return Decode(blob)
}

// LoadNearest fetches the latest checkpoint at or below maxCycle.
func (s *Store) LoadNearest(requestID string, maxCycle uint64) (*State, error) {
	var blob []byte
	err := s.db.QueryRow(
		`SELECT blob FROM checkpoints WHERE request_id = ? AND cycle <= ? ORDER BY cycle DESC LIMIT 1`,
		requestID, int64(maxCycle),
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("request %s cycle <= %d: %w", requestID, maxCycle, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return Decode(blob)
}

// DeleteRequest drops all checkpoints for a completed or aborted request.
func (s *Store) DeleteRequest(requestID string) error {
	_, err := s.db.Exec(`DELETE FROM checkpoints WHERE request_id = ?`, requestID)
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
