// Package redisstore keeps cache generations in Redis so they survive
// restarts and are shared by every replica serving the same origin.
//
// Layout:
//
//	<prefix>:generations      set of generation names
//	<prefix>:gen:<name>       hash of cache key -> JSON entry
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/mimi/pkg/offline"
)

type redisStorage struct {
	rc     *redis.Client
	prefix string
}

type redisCache struct {
	s    *redisStorage
	name string
}

func New(rc *redis.Client, prefix string) offline.Storage {
	if prefix == "" {
		prefix = "mimi:offline"
	}
	return &redisStorage{rc: rc, prefix: prefix}
}

func (r *redisStorage) setKey() string {
	return r.prefix + ":generations"
}

func (r *redisStorage) genKey(name string) string {
	return r.prefix + ":gen:" + name
}

// Open implements offline.Storage.
func (r *redisStorage) Open(ctx context.Context, name string) (offline.Cache, error) {
	if err := r.rc.WithContext(ctx).SAdd(r.setKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("register generation %s: %w", name, err)
	}
	return &redisCache{s: r, name: name}, nil
}

// Has implements offline.Storage.
func (r *redisStorage) Has(ctx context.Context, name string) (bool, error) {
	return r.rc.WithContext(ctx).SIsMember(r.setKey(), name).Result()
}

// Keys implements offline.Storage.
func (r *redisStorage) Keys(ctx context.Context) ([]string, error) {
	names, err := r.rc.WithContext(ctx).SMembers(r.setKey()).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Delete implements offline.Storage.
func (r *redisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := r.rc.WithContext(ctx).TxPipelined(func(p redis.Pipeliner) error {
		p.Del(r.genKey(name))
		removed = p.SRem(r.setKey(), name)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

// Match implements offline.Cache.
func (c *redisCache) Match(ctx context.Context, key string) (*offline.Entry, error) {
	raw, err := c.s.rc.WithContext(ctx).HGet(c.s.genKey(c.name), key).Bytes()
	if err == redis.Nil {
		return nil, offline.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var entry offline.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &entry, nil
}

// Put implements offline.Cache.
func (c *redisCache) Put(ctx context.Context, key string, entry *offline.Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", key, err)
	}
	return c.s.rc.WithContext(ctx).HSet(c.s.genKey(c.name), key, data).Err()
}
