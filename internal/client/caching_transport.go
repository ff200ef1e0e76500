// Package client builds the outbound HTTP clients used to talk to identity providers.
package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// DefaultTimeout bounds every identity provider round trip.
const DefaultTimeout = 10 * time.Second

// Config holds outbound HTTP client configuration.
type Config struct {
	// Timeout for the whole request. Default: 10s
	Timeout time.Duration

	// CacheDir enables a disk cache for discovery documents and JWKS.
	// Empty means an in-memory cache.
	CacheDir string
}

// NewCachingHTTPClient creates an HTTP client that honours Cache-Control on
// responses, used for OIDC discovery and key set fetches.
func NewCachingHTTPClient(cfg Config) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cfg.CacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cfg.CacheDir)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   timeout(cfg.Timeout),
	}
}

// NewHTTPClient creates a non caching HTTP client with a bounded timeout,
// used for server to server calls that must never be served from cache.
func NewHTTPClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout: timeout(cfg.Timeout),
	}
}

func timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}
