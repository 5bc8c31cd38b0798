package fetch

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Cache stores raw API responses for reuse. Historical data never changes,
// so the same request key always maps to the same response; forecast
// requests must bypass the cache entirely. The cache is passed into the
// Client explicitly; there is no global instance.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, body []byte) error
}

// SQLiteCache is a durable response cache backed by a local SQLite file.
// Entries older than the TTL are treated as misses and evicted.
type SQLiteCache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenSQLiteCache opens or creates the cache database at path.
// A ttl of 0 disables expiry.
func OpenSQLiteCache(path string, ttl time.Duration) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		key        TEXT PRIMARY KEY,
		body       BLOB NOT NULL,
		fetched_at INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteCache{db: db, ttl: ttl}, nil
}

// Get returns the cached body for key, or a miss if absent or expired.
func (c *SQLiteCache) Get(key string) ([]byte, bool, error) {
	var body []byte
	var fetchedAt int64
	err := c.db.QueryRow(
		`SELECT body, fetched_at FROM responses WHERE key = ?`, key,
	).Scan(&body, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	if c.ttl > 0 && time.Since(time.Unix(fetchedAt, 0)) > c.ttl {
		_, _ = c.db.Exec(`DELETE FROM responses WHERE key = ?`, key)
		return nil, false, nil
	}
	return body, true, nil
}

// Put stores the body under key, replacing any prior entry.
func (c *SQLiteCache) Put(key string, body []byte) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO responses (key, body, fetched_at) VALUES (?, ?, ?)`,
		key, body, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
