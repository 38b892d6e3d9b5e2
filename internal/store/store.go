// Package store persists per-page translation caches in SQLite.
//
// Every page identity (the full page URL) owns one row whose value is the
// JSON encoding of an internal.PageCache: language pair → fragment list.
// Writers go through Update, which re-reads the row and writes the whole
// merged value back while holding the page's lock.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/valpere/pagetran/internal"
)

type Store struct {
	db    *sql.DB
	locks keyedMutex
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps read-modify-write transactions from racing
	// SQLITE_BUSY across pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	PRAGMA journal_mode = WAL;
	PRAGMA busy_timeout = 10000;
	PRAGMA synchronous = NORMAL;

	CREATE TABLE IF NOT EXISTS page_cache (
		page_id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_page_cache_updated ON page_cache(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get returns the cache stored for pageID, or an empty cache when there is
// none.
func (s *Store) Get(ctx context.Context, pageID string) (internal.PageCache, error) {
	return s.get(ctx, s.db, pageID)
}

// Set replaces the whole cache stored for pageID.
func (s *Store) Set(ctx context.Context, pageID string, cache internal.PageCache) error {
	unlock := s.locks.lock(pageID)
	defer unlock()
	return s.put(ctx, s.db, pageID, cache)
}

// Update runs fn against the current cache for pageID and persists the
// result in the same transaction. fn must not call back into the Store.
func (s *Store) Update(ctx context.Context, pageID string, fn func(internal.PageCache) error) error {
	unlock := s.locks.lock(pageID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	cache, err := s.get(ctx, tx, pageID)
	if err != nil {
		return err
	}
	if err := fn(cache); err != nil {
		return err
	}
	if err := s.put(ctx, tx, pageID, cache); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes the cache for pageID. Removing an unknown page is not an
// error.
func (s *Store) Remove(ctx context.Context, pageID string) error {
	unlock := s.locks.lock(pageID)
	defer unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM page_cache WHERE page_id = ?`, pageID)
	return err
}

// ClearAll removes every cached page.
func (s *Store) ClearAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM page_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) get(ctx context.Context, q queryer, pageID string) (internal.PageCache, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM page_cache WHERE page_id = ?`, pageID).Scan(&data)
	if err == sql.ErrNoRows {
		return internal.PageCache{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *Store) put(ctx context.Context, q queryer, pageID string, cache internal.PageCache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	now := time.Now().UTC()
	_, err = q.ExecContext(ctx,
		`INSERT INTO page_cache (page_id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(page_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		pageID, string(data), now, now)
	return err
}

func decode(data string) (internal.PageCache, error) {
	cache := internal.PageCache{}
	if err := json.Unmarshal([]byte(data), &cache); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return cache, nil
}

// PageEntry summarises one cached page.
type PageEntry struct {
	PageID     string    `json:"pageId" yaml:"pageId"`
	Pairs      []string  `json:"pairs" yaml:"pairs"`
	Fragments  int       `json:"fragments" yaml:"fragments"`
	Translated int       `json:"translated" yaml:"translated"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// CacheStats summarises the whole cache.
type CacheStats struct {
	Pages      int `json:"pages" yaml:"pages"`
	Pairs      int `json:"pairs" yaml:"pairs"`
	Fragments  int `json:"fragments" yaml:"fragments"`
	Translated int `json:"translated" yaml:"translated"`
	Pending    int `json:"pending" yaml:"pending"`
}

// List returns every cached page ordered by most recently updated.
func (s *Store) List(ctx context.Context) ([]PageEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_id, data, updated_at FROM page_cache ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []PageEntry
	for rows.Next() {
		var (
			e    PageEntry
			data string
		)
		if err := rows.Scan(&e.PageID, &data, &e.UpdatedAt); err != nil {
			return nil, err
		}
		cache, err := decode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.PageID, err)
		}
		summarise(&e, cache)
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics over all cached pages.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &CacheStats{Pages: len(entries)}
	for _, e := range entries {
		stats.Pairs += len(e.Pairs)
		stats.Fragments += e.Fragments
		stats.Translated += e.Translated
	}
	stats.Pending = stats.Fragments - stats.Translated
	return stats, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func summarise(e *PageEntry, cache internal.PageCache) {
	for pair, seq := range cache {
		e.Pairs = append(e.Pairs, pair)
		e.Fragments += len(seq)
		e.Translated += len(seq) - len(seq.Pending())
	}
	sort.Strings(e.Pairs)
}
