// Package state persists the last-applied sync record per service. It is
// the single source of truth for "has this service's desired state changed
// since we last acted", independent of what is physically on disk.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion is compared against the persisted version on open. Any
// mismatch discards the stored records wholesale; a partial migration
// could leave us acting on ambiguous state.
const SchemaVersion = "1.0.0"

// Record is the persisted sync state for one service.
type Record struct {
	Service  string
	Digest   string
	VarCount int
	Path     string
	SyncedAt time.Time
}

// Store keeps sync records in sqlite and mirrors them in memory for cheap
// comparisons. The in-memory map is mutated under its own lock; sqlite
// transactions make the durable side all-or-nothing.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	records map[string]Record
}

// Open opens (or creates) the state database under dir, resetting it if
// the persisted schema version does not match SchemaVersion.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "state.db"))
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set state db busy timeout: %w", err)
	}

	s := &Store{db: db, records: make(map[string]Record)}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("initialize meta schema: %w", err)
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		stored = ""
	case err != nil:
		return fmt.Errorf("query schema version: %w", err)
	}

	if stored != "" && stored != SchemaVersion {
		// Incompatible state is worthless; start over rather than guess.
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS service_state`); err != nil {
			return fmt.Errorf("reset incompatible state: %w", err)
		}
	}

	if _, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS service_state (
	service TEXT PRIMARY KEY,
	digest TEXT NOT NULL,
	var_count INTEGER NOT NULL,
	path TEXT NOT NULL,
	synced_at TEXT NOT NULL
)`); err != nil {
		return fmt.Errorf("initialize service state schema: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		SchemaVersion,
	); err != nil {
		return fmt.Errorf("persist schema version: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT service, digest, var_count, path, synced_at FROM service_state ORDER BY service`)
	if err != nil {
		return fmt.Errorf("load service state: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		var syncedAt string
		if err := rows.Scan(&rec.Service, &rec.Digest, &rec.VarCount, &rec.Path, &syncedAt); err != nil {
			return fmt.Errorf("scan service state row: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, syncedAt); err == nil {
			rec.SyncedAt = t
		}
		s.records[rec.Service] = rec
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate service state rows: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the record for a service. found=false when the service has
// never completed a successful apply.
func (s *Store) Get(service string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[service]
	return rec, ok
}

// List returns all records sorted by service name.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// HasChanged reports whether digest disagrees with the recorded digest for
// the service. A service with no record is always changed.
func (s *Store) HasChanged(service, digest string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[service]
	if !ok {
		return true
	}
	return rec.Digest != digest
}

// Update durably records a successful apply, then refreshes the in-memory
// map. Callers invoke this only after the container has been recreated.
func (s *Store) Update(service, path, digest string, varCount int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO service_state (service, digest, var_count, path, synced_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(service) DO UPDATE SET
		 digest = excluded.digest,
		 var_count = excluded.var_count,
		 path = excluded.path,
		 synced_at = excluded.synced_at`,
		service, digest, varCount, path, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("persist state for service %q: %w", service, err)
	}

	s.mu.Lock()
	s.records[service] = Record{Service: service, Digest: digest, VarCount: varCount, Path: path, SyncedAt: now}
	s.mu.Unlock()
	return nil
}

// Reset discards every record, durably and in memory.
func (s *Store) Reset() error {
	if _, err := s.db.Exec(`DELETE FROM service_state`); err != nil {
		return fmt.Errorf("reset service state: %w", err)
	}
	s.mu.Lock()
	s.records = make(map[string]Record)
	s.mu.Unlock()
	return nil
}
