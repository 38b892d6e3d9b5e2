package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/valpere/pagetran/internal"
)

// Memory is a process-local cache with the same semantics as Store. Values
// are kept JSON-encoded so callers never share slices with the cache.
type Memory struct {
	mu    sync.Mutex
	pages map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{pages: make(map[string][]byte)}
}

func (m *Memory) Get(ctx context.Context, pageID string) (internal.PageCache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(pageID)
}

func (m *Memory) Set(ctx context.Context, pageID string, cache internal.PageCache) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(pageID, cache)
}

func (m *Memory) Update(ctx context.Context, pageID string, fn func(internal.PageCache) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cache, err := m.get(pageID)
	if err != nil {
		return err
	}
	if err := fn(cache); err != nil {
		return err
	}
	return m.put(pageID, cache)
}

func (m *Memory) Remove(ctx context.Context, pageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pages, pageID)
	return nil
}

func (m *Memory) get(pageID string) (internal.PageCache, error) {
	data, ok := m.pages[pageID]
	if !ok {
		return internal.PageCache{}, nil
	}
	cache := internal.PageCache{}
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("decode cache: %w", err)
	}
	return cache, nil
}

func (m *Memory) put(pageID string, cache internal.PageCache) error {
	data, err := json.Marshal(cache)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	m.pages[pageID] = data
	return nil
}
