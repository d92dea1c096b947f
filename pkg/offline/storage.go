package offline

import (
	"context"
	"errors"
)

// ErrCacheMiss is returned by Cache.Match when no entry exists for a key.
var ErrCacheMiss = errors.New("offline: cache miss")

// Storage is the origin-wide cache store holding every named generation.
// Implementations must be safe for concurrent use; writes to the same key
// resolve last-write-wins.
type Storage interface {
	// Open returns the generation with the given name, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	// Has reports whether a generation exists.
	Has(ctx context.Context, name string) (bool, error)
	// Keys lists the names of every existing generation.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a generation and all its entries. It reports whether
	// anything was removed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single generation of stored responses.
type Cache interface {
	Match(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry *Entry) error
}
