// Package cache persists processing artifacts keyed by artifact kind and
// source identity. Entries survive restarts; invalidation is driven by the
// source watcher or an explicit clear.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Metadata accompanies a cached artifact.
type Metadata struct {
	ProcessingStrategy string `json:"processingStrategy"`
	TextLength         int    `json:"textLength"`
}

// Stats summarizes cache contents.
type Stats struct {
	TotalEntries int       `json:"total_entries"`
	TotalSizeKB  int64     `json:"total_size_kb"`
	OldestEntry  time.Time `json:"oldest_entry,omitzero"`
}

// Cache is a SQLite-backed key/value store with one entry per
// (kind, source id) pair. Summary and outline artifacts for the same source
// are cached independently.
type Cache struct {
	db   *sql.DB
	log  *slog.Logger
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	kind       TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	artifact   TEXT NOT NULL,
	metadata   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (kind, source_id)
);`

// New opens (creating if needed) the cache database under dataDir. An empty
// dataDir defaults to ~/.docpilot/data.
func New(dataDir string, log *slog.Logger) (*Cache, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".docpilot", "data")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "cache.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Cache{db: db, log: log, path: dbPath}, nil
}

// Get is a pure lookup: no freshness check beyond what the watcher enforces.
// Rows with unreadable or incomplete metadata count as a miss.
func (c *Cache) Get(kind, sourceID string) (string, Metadata, bool, error) {
	var artifact, rawMeta string
	err := c.db.QueryRow(
		`SELECT artifact, metadata FROM entries WHERE kind = ? AND source_id = ?`,
		kind, sourceID,
	).Scan(&artifact, &rawMeta)
	if errors.Is(err, sql.ErrNoRows) {
		return "", Metadata{}, false, nil
	}
	if err != nil {
		return "", Metadata{}, false, fmt.Errorf("cache get: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal([]byte(rawMeta), &meta); err != nil || meta.ProcessingStrategy == "" {
		c.log.Warn("cache entry has unreadable metadata, treating as miss", "kind", kind, "source", sourceID)
		return "", Metadata{}, false, nil
	}
	return artifact, meta, true, nil
}

// Set stores or overwrites the artifact for (kind, sourceID).
func (c *Cache) Set(kind, sourceID, artifact string, meta Metadata) error {
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	_, err = c.db.Exec(`
		INSERT INTO entries (kind, source_id, artifact, metadata, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, source_id) DO UPDATE SET
			artifact = excluded.artifact,
			metadata = excluded.metadata,
			created_at = excluded.created_at`,
		kind, sourceID, artifact, string(rawMeta), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops every kind's entry for a source.
func (c *Cache) Invalidate(sourceID string) error {
	res, err := c.db.Exec(`DELETE FROM entries WHERE source_id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		c.log.Info("cache invalidated", "source", sourceID, "entries", n)
	}
	return nil
}

// CacheStats reports entry count, total artifact size, and the oldest entry.
func (c *Cache) CacheStats() (Stats, error) {
	var count int
	var sizeBytes int64
	var oldestMs sql.NullInt64
	err := c.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(artifact) + LENGTH(metadata)), 0), MIN(created_at)
		FROM entries`).Scan(&count, &sizeBytes, &oldestMs)
	if err != nil {
		return Stats{}, fmt.Errorf("cache stats: %w", err)
	}
	s := Stats{TotalEntries: count, TotalSizeKB: sizeBytes / 1024}
	if oldestMs.Valid {
		s.OldestEntry = time.UnixMilli(oldestMs.Int64)
	}
	return s, nil
}

// Clear removes every entry.
func (c *Cache) Clear() error {
	if _, err := c.db.Exec(`DELETE FROM entries`); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (c *Cache) Path() string { return c.path }

func (c *Cache) Close() error { return c.db.Close() }
