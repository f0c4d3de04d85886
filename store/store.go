// Package store keeps named snapshots in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/cellcore/snapshot"
)

var log = commonlog.GetLogger("cellcore.store")

// ErrNotFound indicates no snapshot is stored under the requested name.
var ErrNotFound = errors.New("store: snapshot not found")

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	name       TEXT PRIMARY KEY,
	id         TEXT NOT NULL,
	checksum   INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	cells      INTEGER NOT NULL,
	data       BLOB NOT NULL
)`

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store is a snapshot database. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Entry describes a stored snapshot without decoding it.
type Entry struct {
	Name     string
	ID       uuid.UUID
	Checksum uint64
	Created  time.Time
	Cells    int
	Size     int
}

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	log.Infof("opened snapshot store %s", path)
	return &Store{db: db, path: path}, nil
}

// DefaultPath returns $CELLCORE_DB, or ~/.cellcore/snapshots.db.
func DefaultPath() (string, error) {
	if p := os.Getenv("CELLCORE_DB"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".cellcore", "snapshots.db"), nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save encodes snap and stores it under name, replacing any previous entry.
func (s *Store) Save(ctx context.Context, name string, snap *snapshot.Snapshot, opts snapshot.Options) error {
	if name == "" {
		return errors.New("store: empty snapshot name")
	}
	data, err := snapshot.Marshal(snap, opts)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (name, id, checksum, created_at, cells, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, snap.ID.String(), int64(snap.Checksum), snap.Created.UnixNano(), snap.Cells(), data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", name, err)
	}
	log.Debugf("saved snapshot %q (%s, %d bytes)", name, snap.ID, len(data))
	return nil
}

// Load reads and verifies the snapshot stored under name.
func (s *Store) Load(ctx context.Context, name string) (*snapshot.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM snapshots WHERE name = ?", name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("querying snapshot %q: %w", name, err)
	}
	snap, err := snapshot.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decoding snapshot %q: %w", name, err)
	}
	return snap, nil
}

// List returns every stored snapshot ordered by name.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, id, checksum, created_at, cells, length(data) FROM snapshots ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			id       string
			checksum int64
			created  int64
		)
		if err := rows.Scan(&e.Name, &id, &checksum, &created, &e.Cells, &e.Size); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("snapshot %q: bad id: %w", e.Name, err)
		}
		e.Checksum = uint64(checksum)
		e.Created = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete removes the snapshot stored under name.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM snapshots WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}
