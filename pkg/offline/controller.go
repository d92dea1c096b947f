// Package offline decides, per outbound request of the app shell, whether to
// answer from a versioned local cache, from the network, or from both, while
// keeping exactly one cache generation current.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/xpanvictor/mimi/pkg/Logger"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNotInstalled is returned by Activate before a successful Install.
	ErrNotInstalled = errors.New("offline: generation not installed")
	// errNetworkStatus marks a response the policy treats as a network failure.
	errNetworkStatus = errors.New("offline: network response not ok")
)

// StatusError reports a manifest asset that answered with a non-2xx status.
type StatusError struct {
	Path   string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("offline: precache %s: status %d", e.Path, e.Status)
}

// Options configures a Controller.
type Options struct {
	// Origin is the app's own origin. Requests elsewhere are not intercepted.
	Origin *url.URL
	// Generation names the current cache generation. Bump it to invalidate.
	Generation string
	// Manifest lists the paths precached on install.
	Manifest []string
	// ShellPath is the document served when a navigation cannot be answered.
	ShellPath string
	// Selector picks the sub-resource strategy. Defaults to CacheFirst.
	Selector Selector
	Logger   *Logger.Logger
	Metrics  *Metrics
}

// Controller intercepts same-origin GETs of the app shell. It implements
// http.RoundTripper: intercepted requests always get a response and never an
// error; everything else is forwarded to the network untouched.
type Controller struct {
	storage    Storage
	network    http.RoundTripper
	origin     *url.URL
	generation string
	manifest   []string
	shellKey   string
	selector   Selector
	logger     *Logger.Logger
	metrics    *Metrics

	installed   atomic.Bool
	controlling atomic.Bool
}

// New validates opts and builds a controller. The controller does not
// intercept anything until Install and Activate have completed.
func New(storage Storage, network http.RoundTripper, opts Options) (*Controller, error) {
	if storage == nil {
		return nil, errors.New("offline: storage is required")
	}
	if network == nil {
		network = http.DefaultTransport
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("offline: absolute origin is required")
	}
	if opts.Generation == "" {
		return nil, errors.New("offline: generation name is required")
	}
	if opts.ShellPath == "" {
		return nil, errors.New("offline: shell path is required")
	}
	if !contains(opts.Manifest, opts.ShellPath) {
		return nil, fmt.Errorf("offline: shell path %s is not in the manifest", opts.ShellPath)
	}
	selector := opts.Selector
	if selector == nil {
		selector = StaticSelector(CacheFirst)
	}

	c := &Controller{
		storage:    storage,
		network:    network,
		origin:     &url.URL{Scheme: opts.Origin.Scheme, Host: opts.Origin.Host},
		generation: opts.Generation,
		manifest:   append([]string(nil), opts.Manifest...),
		selector:   selector,
		logger:     Logger.OrNop(opts.Logger).Named("offline"),
		metrics:    opts.Metrics,
	}
	c.shellKey = Key(c.resolve(opts.ShellPath))
	return c, nil
}

// Generation returns the name of the generation this controller installs.
func (c *Controller) Generation() string { return c.generation }

// Controlling reports whether Activate has completed.
func (c *Controller) Controlling() bool { return c.controlling.Load() }

// Install fetches every manifest asset and stores them in the current
// generation. It is all-or-nothing: if any asset fails nothing is written,
// and if a write fails the generation is removed.
func (c *Controller) Install(ctx context.Context) error {
	entries := make([]*Entry, len(c.manifest))
	keys := make([]string, len(c.manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, path := range c.manifest {
		i, path := i, path
		g.Go(func() error {
			u := c.resolve(path)
			req, err := http.NewRequestWithContext(gctx, http.MethodGet, u.String(), nil)
			if err != nil {
				return fmt.Errorf("offline: precache %s: %w", path, err)
			}
			resp, err := c.network.RoundTrip(req)
			if err != nil {
				return fmt.Errorf("offline: precache %s: %w", path, err)
			}
			if !ok(resp.StatusCode) {
				resp.Body.Close()
				return &StatusError{Path: path, Status: resp.StatusCode}
			}
			entry, err := capture(resp)
			if err != nil {
				return fmt.Errorf("offline: precache %s: %w", path, err)
			}
			entries[i] = entry
			keys[i] = Key(u)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Errorf("install of %s aborted: %v", c.generation, err)
		return err
	}

	cache, err := c.storage.Open(ctx, c.generation)
	if err != nil {
		return fmt.Errorf("offline: open generation %s: %w", c.generation, err)
	}
	for i, entry := range entries {
		if err := cache.Put(ctx, keys[i], entry); err != nil {
			if _, delErr := c.storage.Delete(ctx, c.generation); delErr != nil {
				c.logger.Errorf("failed to discard partial generation %s: %v", c.generation, delErr)
			}
			return fmt.Errorf("offline: store %s: %w", keys[i], err)
		}
	}

	c.installed.Store(true)
	c.logger.Infof("installed generation %s with %d assets", c.generation, len(entries))
	return nil
}

// Activate deletes every generation except the current one and starts
// intercepting immediately. It returns the names it deleted.
func (c *Controller) Activate(ctx context.Context) ([]string, error) {
	if !c.installed.Load() {
		return nil, ErrNotInstalled
	}
	names, err := c.storage.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("offline: list generations: %w", err)
	}

	var deleted []string
	for _, name := range names {
		if name == c.generation {
			continue
		}
		removed, err := c.storage.Delete(ctx, name)
		if err != nil {
			c.metrics.evictedN(len(deleted))
			return deleted, fmt.Errorf("offline: delete generation %s: %w", name, err)
		}
		if removed {
			deleted = append(deleted, name)
		}
	}
	c.metrics.evictedN(len(deleted))

	c.controlling.Store(true)
	c.logger.Infof("activated generation %s, evicted %v", c.generation, deleted)
	return deleted, nil
}

// RoundTrip implements http.RoundTripper.
func (c *Controller) RoundTrip(req *http.Request) (*http.Response, error) {
	if !c.intercepts(req) {
		c.metrics.observe("none", SourcePassthrough)
		return c.network.RoundTrip(req)
	}
	if IsNavigation(req) {
		return c.navigate(req), nil
	}

	switch strategy := c.selector.Select(req); strategy {
	case NetworkFirstNoCache:
		return c.networkFirst(req), nil
	case NetworkFirstWithFallback:
		return c.navigate(req), nil
	default:
		return c.cacheFirst(req), nil
	}
}

func (c *Controller) intercepts(req *http.Request) bool {
	if !c.controlling.Load() || req.Method != http.MethodGet || req.URL == nil {
		return false
	}
	return c.sameOrigin(req.URL)
}

// navigate: network first; success refreshes the cache; failure falls back to
// the exact entry, then the shell.
func (c *Controller) navigate(req *http.Request) *http.Response {
	const label = "network_first_with_fallback"
	ctx := req.Context()

	resp, err := c.network.RoundTrip(req)
	if err == nil && resp.StatusCode < http.StatusInternalServerError {
		if ok(resp.StatusCode) {
			c.store(ctx, req.URL, resp)
		}
		c.metrics.observe(label, SourceNetwork)
		return resp
	}
	if err != nil {
		c.logger.Debugf("navigation %s failed: %v", req.URL, err)
	}

	if entry := c.match(ctx, Key(req.URL)); entry != nil {
		closeBody(resp)
		c.metrics.observe(label, SourceCache)
		return entry.Response(req, SourceCache)
	}
	if entry := c.match(ctx, c.shellKey); entry != nil {
		closeBody(resp)
		c.metrics.observe(label, SourceShell)
		return entry.Response(req, SourceShell)
	}
	if resp != nil {
		c.metrics.observe(label, SourceNetwork)
		return resp
	}
	c.metrics.observe(label, SourceSynthesized)
	return synthesize(req)
}

// networkFirst: any non-ok status counts as failure; ok responses are cached
// without further checks; failure falls back to the exact entry only.
func (c *Controller) networkFirst(req *http.Request) *http.Response {
	const label = "network_first_no_cache"
	ctx := req.Context()

	resp, err := c.network.RoundTrip(req)
	if err == nil && !ok(resp.StatusCode) {
		closeBody(resp)
		err = fmt.Errorf("%w: %d", errNetworkStatus, resp.StatusCode)
	}
	if err == nil {
		c.store(ctx, req.URL, resp)
		c.metrics.observe(label, SourceNetwork)
		return resp
	}
	c.logger.Debugf("network-first %s failed: %v", req.URL, err)

	if entry := c.match(ctx, Key(req.URL)); entry != nil {
		c.metrics.observe(label, SourceCache)
		return entry.Response(req, SourceCache)
	}
	c.metrics.observe(label, SourceSynthesized)
	return synthesize(req)
}

// cacheFirst: a hit answers with no network round trip. Only basic 200
// responses are stored.
func (c *Controller) cacheFirst(req *http.Request) *http.Response {
	const label = "cache_first"
	ctx := req.Context()

	if entry := c.match(ctx, Key(req.URL)); entry != nil {
		c.metrics.observe(label, SourceCache)
		return entry.Response(req, SourceCache)
	}

	resp, err := c.network.RoundTrip(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK && c.basic(resp) {
			c.store(ctx, req.URL, resp)
		}
		c.metrics.observe(label, SourceNetwork)
		return resp
	}
	c.logger.Debugf("cache-first %s failed: %v", req.URL, err)

	if acceptsHTML(req) {
		if entry := c.match(ctx, c.shellKey); entry != nil {
			c.metrics.observe(label, SourceShell)
			return entry.Response(req, SourceShell)
		}
	}
	c.metrics.observe(label, SourceSynthesized)
	return synthesize(req)
}

// basic reports whether resp is a same-origin response whose contents can be
// inspected. Responses that ended up on another origin are opaque to us.
func (c *Controller) basic(resp *http.Response) bool {
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return c.sameOrigin(resp.Request.URL)
}

func (c *Controller) match(ctx context.Context, key string) *Entry {
	cache, err := c.storage.Open(ctx, c.generation)
	if err != nil {
		c.logger.Warnf("open generation %s: %v", c.generation, err)
		return nil
	}
	entry, err := cache.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Warnf("cache lookup %s: %v", key, err)
		}
		return nil
	}
	return entry
}

// store copies resp into the current generation. Failures are logged and
// never affect the response returned to the caller.
func (c *Controller) store(ctx context.Context, u *url.URL, resp *http.Response) {
	entry, err := capture(resp)
	if err != nil {
		c.metrics.writeFailed()
		c.logger.Warnf("cache capture %s: %v", u, err)
		return
	}
	cache, err := c.storage.Open(ctx, c.generation)
	if err == nil {
		err = cache.Put(ctx, Key(u), entry)
	}
	if err != nil {
		c.metrics.writeFailed()
		c.logger.Warnf("cache write %s: %v", u, err)
	}
}

func (c *Controller) resolve(path string) *url.URL {
	ref, err := url.Parse(path)
	if err != nil {
		ref = &url.URL{Path: path}
	}
	return c.origin.ResolveReference(ref)
}

func (c *Controller) sameOrigin(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, c.origin.Scheme) && strings.EqualFold(u.Host, c.origin.Host)
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
