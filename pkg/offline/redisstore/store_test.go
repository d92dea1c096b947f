package redisstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/xpanvictor/mimi/pkg/offline"
	"github.com/xpanvictor/mimi/pkg/offline/redisstore"
)

func newStore(t *testing.T) (offline.Storage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return redisstore.New(rc, "test"), mr
}

func TestStorageGenerations(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	v1, err := store.Open(ctx, "v1")
	if err != nil {
		t.Fatalf("open v1: %v", err)
	}
	if err := v1.Put(ctx, "GET http://app.test/", &offline.Entry{Status: 200, Body: []byte("one")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Open(ctx, "v2"); err != nil {
		t.Fatalf("open v2: %v", err)
	}

	names, err := store.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(names) != 2 || names[0] != "v1" || names[1] != "v2" {
		t.Fatalf("unexpected generations %v", names)
	}
	if ok, err := store.Has(ctx, "v2"); err != nil || !ok {
		t.Fatalf("v2 should exist: ok=%v err=%v", ok, err)
	}

	removed, err := store.Delete(ctx, "v1")
	if err != nil || !removed {
		t.Fatalf("delete v1: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "v1")
	if err != nil || removed {
		t.Fatalf("second delete should be a no-op: removed=%v err=%v", removed, err)
	}

	if mr.Exists("test:gen:v1") {
		t.Error("entries of a deleted generation must be removed")
	}
	if ok, _ := store.Has(ctx, "v1"); ok {
		t.Error("v1 should be gone")
	}
	if _, err := v1.Match(ctx, "GET http://app.test/"); !errors.Is(err, offline.ErrCacheMiss) {
		t.Errorf("expected miss on deleted generation, got %v", err)
	}
}

func TestEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	cache, _ := store.Open(ctx, "v1")

	stored := &offline.Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": {"text/html"}, "Cache-Control": {"no-cache"}},
		Body:     []byte("<html>shell</html>"),
		StoredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := cache.Put(ctx, "k", stored); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := cache.Match(ctx, "k")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got.Status != stored.Status || !bytes.Equal(got.Body, stored.Body) || !got.StoredAt.Equal(stored.StoredAt) {
		t.Fatalf("entry changed in storage: %+v", got)
	}
	if got.Header.Get("Content-Type") != "text/html" || got.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("headers lost: %v", got.Header)
	}

	_ = cache.Put(ctx, "k", &offline.Entry{Status: http.StatusOK, Body: []byte("new")})
	if got, _ := cache.Match(ctx, "k"); got == nil || string(got.Body) != "new" {
		t.Errorf("expected last write to win, got %+v", got)
	}

	if _, err := cache.Match(ctx, "missing"); !errors.Is(err, offline.ErrCacheMiss) {
		t.Errorf("expected ErrCacheMiss, got %v", err)
	}
}

func TestMatchCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	cache, _ := store.Open(ctx, "v1")

	mr.HSet("test:gen:v1", "k", "not json")
	_, err := cache.Match(ctx, "k")
	if err == nil || errors.Is(err, offline.ErrCacheMiss) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestStorageErrors(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)
	mr.Close()

	if _, err := store.Open(ctx, "v1"); err == nil {
		t.Error("open should fail without redis")
	}
	if _, err := store.Delete(ctx, "v1"); err == nil {
		t.Error("delete should fail without redis")
	}
}

func TestActivateEvictsThroughRedis(t *testing.T) {
	ctx := context.Background()
	store, mr := newStore(t)

	old, _ := store.Open(ctx, "mimi-v0")
	_ = old.Put(ctx, "GET http://app.test/", &offline.Entry{Status: http.StatusOK, Body: []byte("stale")})
	_, _ = store.Open(ctx, "unrelated")

	var down atomic.Bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>fresh</html>")
	}))
	defer upstream.Close()
	target, _ := url.Parse(upstream.URL)
	appOrigin, _ := url.Parse("http://app.test")

	network := &offline.Upstream{Origin: appOrigin, Target: target, Base: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if down.Load() {
			return nil, errors.New("connection refused")
		}
		return http.DefaultTransport.RoundTrip(req)
	})}
	ctrl, err := offline.New(store, network, offline.Options{
		Origin:     appOrigin,
		Generation: "mimi-v1",
		Manifest:   []string{"/"},
		ShellPath:  "/",
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	if err := ctrl.Install(ctx); err != nil {
		t.Fatalf("install: %v", err)
	}
	deleted, err := ctrl.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if strings.Join(deleted, ",") != "mimi-v0,unrelated" {
		t.Fatalf("unexpected evictions %v", deleted)
	}
	if names, _ := store.Keys(ctx); len(names) != 1 || names[0] != "mimi-v1" {
		t.Fatalf("only the current generation should remain, got %v", names)
	}
	if mr.Exists("test:gen:mimi-v0") {
		t.Error("old generation entries still in redis")
	}

	down.Store(true)
	req, _ := http.NewRequest(http.MethodGet, "http://app.test/", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	resp, err := ctrl.RoundTrip(req)
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "<html>fresh</html>" {
		t.Fatalf("expected installed shell from redis, got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get(offline.SourceHeader) != offline.SourceCache {
		t.Errorf("expected cache source, got %q", resp.Header.Get(offline.SourceHeader))
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
