// Package transport performs resilient HTTP fetches: per-host concurrency
// limits, retry with jittered backoff, scored proxy rotation, and a TTL
// cache-aside read path for HTML GETs.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/metrics"
	"github.com/listforge/listforge/internal/pipeline"
)

// Request describes one fetch through the coordinator.
type Request struct {
	URL      string
	Method   string
	Headers  http.Header
	Body     []byte
	UseCache bool
}

// Response is the result of a completed fetch.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	FromCache  bool
}

// Config controls Coordinator behavior.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxPerHost     int
	HostRPS        float64
	HostBurst      int
	CacheTTL       time.Duration
	Proxies        []string
}

// Coordinator owns a ResponseCache and ProxyPool scoped to its lifetime and
// serializes all mutating access to both.
type Coordinator struct {
	cfg     Config
	fetcher attemptFetcher
	cache   *ResponseCache
	proxies *ProxyPool
	policy  RetryPolicy
	pacer   *hostPacer
	logger  *zap.Logger

	semMu sync.Mutex
	sems  map[string]chan struct{}

	// sleep is swapped for a fake in tests so backoff never blocks them.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewCoordinator builds a Coordinator from config.
func NewCoordinator(cfg Config, clock pipeline.Clock, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPerHost <= 0 {
		cfg.MaxPerHost = 2
	}
	policy := NewRetryPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.BackoffInitial > 0 {
		policy.BaseDelay = cfg.BackoffInitial
	}
	if cfg.BackoffMax > 0 {
		policy.MaxDelay = cfg.BackoffMax
	}
	pool := NewProxyPool(0)
	for _, addr := range cfg.Proxies {
		pool.Add(addr)
	}
	return &Coordinator{
		cfg:     cfg,
		fetcher: newCollyFetcher(cfg.UserAgent, cfg.Timeout),
		cache:   NewResponseCache(cfg.CacheTTL, clock),
		proxies: pool,
		policy:  policy,
		pacer:   newHostPacer(cfg.HostRPS, cfg.HostBurst),
		logger:  logger,
		sems:    make(map[string]chan struct{}),
		sleep:   sleepContext,
	}
}

// Get fetches a URL with GET and the cache enabled.
func (c *Coordinator) Get(ctx context.Context, rawURL string, headers http.Header) (Response, error) {
	return c.Fetch(ctx, Request{
		URL:      rawURL,
		Method:   http.MethodGet,
		Headers:  headers,
		UseCache: true,
	})
}

// Fetch executes a request with caching, per-host limits, retries, and proxy
// rotation. Non-retryable statuses surface immediately as a *StatusError;
// retryable ones surface only after the retry budget is exhausted.
func (c *Coordinator) Fetch(ctx context.Context, req Request) (Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	u, err := url.Parse(req.URL)
	if err != nil || u.Host == "" {
		return Response{}, fmt.Errorf("invalid url %q", req.URL)
	}
	host := u.Hostname()

	// Cache is consulted only for GET; other methods always hit the wire.
	if method == http.MethodGet && req.UseCache {
		if entry, ok := c.cache.Get(req.URL); ok {
			metrics.ObserveCacheLookup(true)
			c.logger.Debug("cache hit", zap.String("url", req.URL))
			return Response{
				URL:        entry.URL,
				StatusCode: entry.StatusCode,
				Body:       append([]byte(nil), entry.Content...),
				FromCache:  true,
			}, nil
		}
		metrics.ObserveCacheLookup(false)
	}

	release, err := c.acquireHost(ctx, host)
	if err != nil {
		return Response{}, err
	}
	defer release()

	return c.fetchWithRetries(ctx, method, host, req)
}

func (c *Coordinator) fetchWithRetries(
	ctx context.Context,
	method, host string,
	req Request,
) (Response, error) {
	proxyAddr, _ := c.proxies.Pick()

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.pacer.wait(ctx, host); err != nil {
			return Response{}, err
		}

		resp, err := c.fetcher.do(ctx, method, req.URL, req.Headers, req.Body, proxyAddr)
		retryable, failure := c.classify(ctx, method, req, resp, err, proxyAddr)
		if failure == nil {
			return resp, nil
		}
		lastErr = failure
		if !retryable || attempt >= c.policy.MaxRetries {
			return Response{}, lastErr
		}

		// Network-level failures rotate to a different proxy before retrying.
		if err != nil && c.proxies.Len() > 1 {
			if next, ok := c.proxies.PickOther(proxyAddr); ok {
				proxyAddr = next
			}
		}

		delay := c.policy.Backoff(attempt)
		metrics.ObserveFetchRetry(host)
		c.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(lastErr),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return Response{}, err
		}
	}
}

// classify maps one attempt's outcome to (retryable, failure). A nil failure
// means the attempt succeeded and side effects (cache write, proxy credit)
// have been applied.
func (c *Coordinator) classify(
	_ context.Context,
	method string,
	req Request,
	resp Response,
	err error,
	proxyAddr string,
) (bool, error) {
	if err != nil {
		if proxyAddr != "" {
			c.proxies.ReportFailure(proxyAddr, err.Error())
			metrics.ObserveProxyOutcome(false)
		}
		metrics.ObserveFetch(req.URL, "error", 0)
		return c.policy.RetryableError(err), err
	}

	// Any HTTP response means the proxy path itself worked.
	if proxyAddr != "" {
		c.proxies.ReportSuccess(proxyAddr)
		metrics.ObserveProxyOutcome(true)
	}
	metrics.ObserveFetch(req.URL, strconv.Itoa(resp.StatusCode), len(resp.Body))

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if method == http.MethodGet {
			c.cache.Set(req.URL, resp.StatusCode, resp.Headers.Get("Content-Type"), resp.Body)
		}
		return false, nil
	}
	return c.policy.RetryableStatus(resp.StatusCode), &StatusError{Code: resp.StatusCode, URL: req.URL}
}

func (c *Coordinator) acquireHost(ctx context.Context, host string) (func(), error) {
	c.semMu.Lock()
	sem, ok := c.sems[host]
	if !ok {
		sem = make(chan struct{}, c.cfg.MaxPerHost)
		c.sems[host] = sem
	}
	c.semMu.Unlock()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire host slot for %s: %w", host, ctx.Err())
	}
}

// AddProxy registers an outbound proxy address.
func (c *Coordinator) AddProxy(address string) {
	c.proxies.Add(address)
}

// ProxyStats exposes the proxy pool's per-proxy reputation.
func (c *Coordinator) ProxyStats() []ProxyStats {
	return c.proxies.Stats()
}

// CacheStats exposes response cache occupancy.
func (c *Coordinator) CacheStats() CacheStats {
	return c.cache.Stats()
}

// ClearCache purges expired entries and returns the count removed.
func (c *Coordinator) ClearCache() int {
	return c.cache.Purge()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
