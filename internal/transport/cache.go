package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/listforge/listforge/internal/pipeline"
)

// CacheEntry is one cached HTML response. Entries are read-only after
// creation and expire by wall-clock TTL.
type CacheEntry struct {
	URL        string
	Content    []byte
	StatusCode int
	ExpiresAt  time.Time
}

// CacheStats summarizes cache occupancy for observability.
type CacheStats struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// ResponseCache is a TTL cache of successful HTML fetches keyed by URL.
// There is no LRU eviction; expired entries are dropped at read time or via
// Purge. Unbounded growth is an accepted tradeoff at this scope.
type ResponseCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	ttl     time.Duration
	clock   pipeline.Clock
}

// NewResponseCache builds a cache with the given TTL.
func NewResponseCache(ttl time.Duration, clock pipeline.Clock) *ResponseCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ResponseCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

// Get returns the entry for url if present and unexpired. An expired entry
// is deleted and reported as absent.
func (c *ResponseCache) Get(url string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[url]
	if !ok {
		return CacheEntry{}, false
	}
	if !c.clock.Now().Before(entry.ExpiresAt) {
		delete(c.entries, url)
		return CacheEntry{}, false
	}
	return entry, true
}

// Set stores the response if the status is 2xx and the content type indicates
// HTML. Everything else is silently ignored.
func (c *ResponseCache) Set(url string, statusCode int, contentType string, body []byte) {
	if statusCode < 200 || statusCode > 299 {
		return
	}
	if !isHTMLContentType(contentType) {
		return
	}
	content := append([]byte(nil), body...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = CacheEntry{
		URL:        url,
		Content:    content,
		StatusCode: statusCode,
		ExpiresAt:  c.clock.Now().Add(c.ttl),
	}
}

// Stats reports total, active, and expired entry counts.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	stats := CacheStats{Total: len(c.entries)}
	for _, entry := range c.entries {
		if now.Before(entry.ExpiresAt) {
			stats.Active++
		} else {
			stats.Expired++
		}
	}
	return stats
}

// Purge removes all expired entries and returns the count removed.
func (c *ResponseCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	removed := 0
	for url, entry := range c.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

func isHTMLContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}
