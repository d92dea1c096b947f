package offline

import (
	"fmt"
	"net/http"
	"strings"
)

// Strategy is the fetch policy applied to an intercepted request.
type Strategy int

const (
	// CacheFirst answers from cache when possible and only stores basic 200s.
	CacheFirst Strategy = iota
	// NetworkFirstNoCache always goes to the network first and falls back to
	// the exact cached entry. Used for clients whose fetch stack conflicts
	// with concurrent cache population.
	NetworkFirstNoCache
	// NetworkFirstWithFallback is the navigation policy: network, then the
	// exact entry, then the shell document.
	NetworkFirstWithFallback
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache_first"
	case NetworkFirstNoCache:
		return "network_first_no_cache"
	case NetworkFirstWithFallback:
		return "network_first_with_fallback"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cache_first", "cache-first":
		return CacheFirst, nil
	case "network_first_no_cache", "network-first-no-cache":
		return NetworkFirstNoCache, nil
	case "network_first_with_fallback", "network-first-with-fallback":
		return NetworkFirstWithFallback, nil
	default:
		return CacheFirst, fmt.Errorf("offline: unknown strategy %q", s)
	}
}

// Selector picks the strategy for a same-origin, non-navigation GET.
type Selector interface {
	Select(req *http.Request) Strategy
}

// SelectorFunc adapts a function to Selector.
type SelectorFunc func(req *http.Request) Strategy

func (f SelectorFunc) Select(req *http.Request) Strategy { return f(req) }

// StaticSelector always returns the same strategy.
type StaticSelector Strategy

func (s StaticSelector) Select(*http.Request) Strategy { return Strategy(s) }

// AgentSelector routes clients whose User-Agent contains one of Patterns to
// NetworkFirstNoCache. Everything else is CacheFirst.
type AgentSelector struct {
	Patterns []string
}

func (a AgentSelector) Select(req *http.Request) Strategy {
	ua := req.Header.Get("User-Agent")
	if ua == "" {
		return CacheFirst
	}
	for _, p := range a.Patterns {
		if p != "" && strings.Contains(ua, p) {
			return NetworkFirstNoCache
		}
	}
	return CacheFirst
}

// IsNavigation reports whether req loads a top-level document.
func IsNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return req.Header.Get("Sec-Fetch-Dest") == "document"
}

func acceptsHTML(req *http.Request) bool {
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
