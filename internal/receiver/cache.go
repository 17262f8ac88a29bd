package receiver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLiteStateCache implements StateCache on the cached_states table.
// Entries are JSON so the schema does not change with CachedState.
type SQLiteStateCache struct {
	db *sql.DB
}

// NewSQLiteStateCache creates a cache over an open, migrated database.
func NewSQLiteStateCache(db *sql.DB) *SQLiteStateCache {
	return &SQLiteStateCache{db: db}
}

// Get returns the cached entry for id, ErrNotCached if there is none,
// or ErrCorruptCacheEntry if the stored JSON cannot be decoded.
func (c *SQLiteStateCache) Get(ctx context.Context, id string) (CachedState, error) {
	var raw string
	err := c.db.QueryRowContext(ctx,
		"SELECT state FROM cached_states WHERE receiver_id = ?", id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedState{}, ErrNotCached
	}
	if err != nil {
		return CachedState{}, fmt.Errorf("reading cached state: %w", err)
	}

	var state CachedState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return CachedState{}, fmt.Errorf("%w: %s: %w", ErrCorruptCacheEntry, id, err)
	}
	return state, nil
}

// Put stores state for id, replacing any previous entry.
func (c *SQLiteStateCache) Put(ctx context.Context, id string, state CachedState) error {
	if id == "" {
		return fmt.Errorf("receiver id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling cached state: %w", err)
	}

	_, err = c.db.ExecContext(ctx,
		`INSERT INTO cached_states (receiver_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(receiver_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		id, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing cached state: %w", err)
	}
	return nil
}

// MemoryStateCache is an in-process StateCache. Contents are lost on restart.
type MemoryStateCache struct {
	mu      sync.RWMutex
	entries map[string]CachedState
}

// NewMemoryStateCache creates an empty in-memory cache.
func NewMemoryStateCache() *MemoryStateCache {
	return &MemoryStateCache{entries: make(map[string]CachedState)}
}

// Get returns the entry for id or ErrNotCached.
func (c *MemoryStateCache) Get(_ context.Context, id string) (CachedState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.entries[id]
	if !ok {
		return CachedState{}, ErrNotCached
	}
	return s, nil
}

// Put stores state for id.
func (c *MemoryStateCache) Put(_ context.Context, id string, state CachedState) error {
	c.mu.Lock()
	c.entries[id] = state
	c.mu.Unlock()
	return nil
}
