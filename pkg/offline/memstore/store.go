package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/xpanvictor/mimi/pkg/offline"
)

type memStorage struct {
	mu   sync.RWMutex
	gens map[string]map[string]*offline.Entry
}

type memCache struct {
	s    *memStorage
	name string
}

// Open implements offline.Storage.
func (m *memStorage) Open(ctx context.Context, name string) (offline.Cache, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[name] == nil {
		m.gens[name] = make(map[string]*offline.Entry)
	}
	return &memCache{s: m, name: name}, nil
}

// Has implements offline.Storage.
func (m *memStorage) Has(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.gens[name]
	return ok, nil
}

// Keys implements offline.Storage.
func (m *memStorage) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.gens))
	for name := range m.gens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements offline.Storage.
func (m *memStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gens[name]; !ok {
		return false, nil
	}
	delete(m.gens, name)
	return true, nil
}

// Match implements offline.Cache. A generation deleted after Open behaves
// as empty.
func (c *memCache) Match(ctx context.Context, key string) (*offline.Entry, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	if e := c.s.gens[c.name][key]; e != nil {
		return e, nil
	}
	return nil, offline.ErrCacheMiss
}

// Put implements offline.Cache.
func (c *memCache) Put(ctx context.Context, key string, entry *offline.Entry) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.gens[c.name] == nil {
		c.s.gens[c.name] = make(map[string]*offline.Entry)
	}
	c.s.gens[c.name][key] = entry
	return nil
}

func New() offline.Storage {
	return &memStorage{
		gens: make(map[string]map[string]*offline.Entry),
	}
}
