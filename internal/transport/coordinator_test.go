package transport

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCoordinator(t *testing.T, fetcher attemptFetcher, proxies ...string) *Coordinator {
	t.Helper()
	c := NewCoordinator(Config{
		MaxRetries: 2,
		MaxPerHost: 2,
		CacheTTL:   time.Minute,
		Proxies:    proxies,
	}, newFakeClock(time.Unix(1700000000, 0).UTC()), zap.NewNop())
	c.fetcher = fetcher
	c.sleep = noSleep
	return c
}

func TestCoordinatorRetriesRateLimitThenSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusTooManyRequests, "slow down")},
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusServiceUnavailable, "maintenance")},
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusOK, "<html>product</html>")},
	}}
	c := newTestCoordinator(t, fetcher)

	resp, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, fetcher.callCount())
}

func TestCoordinatorDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/p/404", http.StatusNotFound, "gone")},
	}}
	c := newTestCoordinator(t, fetcher)

	_, err := c.Get(context.Background(), "https://shop.example.com/p/404", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.Code)
	require.Equal(t, 1, fetcher.callCount(), "4xx other than 429 is never retried")
}

func TestCoordinatorExhaustsRetryBudget(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusServiceUnavailable, "down")},
	}}
	c := newTestCoordinator(t, fetcher)

	_, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	require.Equal(t, 3, fetcher.callCount(), "initial attempt plus two retries")
}

func TestCoordinatorRotatesProxyOnNetworkError(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{err: errors.New("dial tcp: i/o timeout")},
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusOK, "<html>ok</html>")},
	}}
	c := newTestCoordinator(t, fetcher, "http://proxy-a:8080", "http://proxy-b:8080")

	resp, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	used := fetcher.proxiesUsed()
	require.Len(t, used, 2)
	require.NotEqual(t, used[0], used[1], "timeout must rotate to a different proxy")
}

func TestCoordinatorCachesHTMLGets(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusOK, "<html>cached</html>")},
	}}
	c := newTestCoordinator(t, fetcher)

	first, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Body, second.Body)
	require.Equal(t, 1, fetcher.callCount(), "second read must be served from cache")
}

func TestCoordinatorSkipsCacheForNonGet(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/publish", http.StatusCreated, "<html>made</html>")},
	}}
	c := newTestCoordinator(t, fetcher)

	for range 2 {
		resp, err := c.Fetch(context.Background(), Request{
			URL:      "https://shop.example.com/publish",
			Method:   http.MethodPost,
			Body:     []byte(`{"title":"x"}`),
			UseCache: true,
		})
		require.NoError(t, err)
		require.False(t, resp.FromCache)
	}
	require.Equal(t, 2, fetcher.callCount())
}

func TestCoordinatorDoesNotCacheJSON(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: Response{
			URL:        "https://shop.example.com/api",
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": {"application/json"}},
			Body:       []byte(`{"ok":true}`),
		}},
	}}
	c := newTestCoordinator(t, fetcher)

	for range 2 {
		resp, err := c.Get(context.Background(), "https://shop.example.com/api", nil)
		require.NoError(t, err)
		require.False(t, resp.FromCache)
	}
	require.Equal(t, 2, fetcher.callCount())
}

func TestCoordinatorRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, &scriptedFetcher{script: []scriptedResult{{}}})
	_, err := c.Get(context.Background(), "::not-a-url", nil)
	require.Error(t, err)
}

func TestCoordinatorClearCache(t *testing.T) {
	t.Parallel()

	clock := newFakeClock(time.Unix(1700000000, 0).UTC())
	fetcher := &scriptedFetcher{script: []scriptedResult{
		{resp: htmlResponse("https://shop.example.com/p/1", http.StatusOK, "<html>x</html>")},
	}}
	c := NewCoordinator(Config{MaxRetries: 1, CacheTTL: 30 * time.Second}, clock, zap.NewNop())
	c.fetcher = fetcher
	c.sleep = noSleep

	_, err := c.Get(context.Background(), "https://shop.example.com/p/1", nil)
	require.NoError(t, err)
	require.Equal(t, 0, c.ClearCache())

	clock.Advance(time.Minute)
	require.Equal(t, 1, c.ClearCache())
	require.Equal(t, CacheStats{}, c.CacheStats())
}
