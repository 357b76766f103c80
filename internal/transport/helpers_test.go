package transport

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// fakeClock is a manually advanced clock for TTL and scheduling tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedResult is one pre-programmed attempt outcome.
type scriptedResult struct {
	resp Response
	err  error
}

// scriptedFetcher returns canned results in order and records every attempt.
type scriptedFetcher struct {
	mu      sync.Mutex
	script  []scriptedResult
	calls   int
	proxies []string
}

func (f *scriptedFetcher) do(
	_ context.Context,
	_, _ string,
	_ http.Header,
	_ []byte,
	proxyURL string,
) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.proxies = append(f.proxies, proxyURL)
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	result := f.script[idx]
	return result.resp, result.err
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) proxiesUsed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.proxies...)
}

func htmlResponse(url string, status int, body string) Response {
	return Response{
		URL:        url,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(body),
	}
}

// noSleep replaces the coordinator's backoff sleep so tests never wait.
func noSleep(context.Context, time.Duration) error {
	return nil
}
