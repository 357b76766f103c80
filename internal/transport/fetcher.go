package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// attemptFetcher executes exactly one HTTP attempt. Retries, backoff, proxy
// rotation, and caching all live above it in the Coordinator.
type attemptFetcher interface {
	do(ctx context.Context, method, url string, headers http.Header, body []byte, proxyURL string) (Response, error)
}

// collyFetcher implements attemptFetcher using a Colly collector per attempt.
type collyFetcher struct {
	base      *colly.Collector
	userAgent string
	timeout   time.Duration
}

func newCollyFetcher(userAgent string, timeout time.Duration) *collyFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	return &collyFetcher{
		base:      c,
		userAgent: userAgent,
		timeout:   timeout,
	}
}

// do runs one attempt. A response with any HTTP status is returned without
// error; only transport-level failures (DNS, reset, timeout) produce an error.
func (f *collyFetcher) do(
	ctx context.Context,
	method, url string,
	headers http.Header,
	body []byte,
	proxyURL string,
) (Response, error) {
	collector := f.base.Clone()
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	if f.userAgent != "" {
		collector.UserAgent = f.userAgent
	}
	collector.SetRequestTimeout(f.timeout)
	if proxyURL != "" {
		if err := collector.SetProxy(proxyURL); err != nil {
			return Response{}, fmt.Errorf("set proxy %s: %w", proxyURL, err)
		}
	}

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// An HTTP status arrived; surface it as a response so the
			// coordinator classifies it instead of treating it as a timeout.
			result = Response{
				URL:        url,
				StatusCode: r.StatusCode,
				Headers:    cloneHeaders(r.Headers),
				Body:       append([]byte(nil), r.Body...),
				Duration:   time.Since(start),
			}
			return
		}
		fetchErr = err
	})

	runErr := f.run(ctx, collector, method, url, headers, body)
	// Colly reports non-2xx statuses through both OnError and the Request
	// return value; a captured status always wins over the duplicate error.
	if result.StatusCode > 0 {
		return result, nil
	}
	if runErr != nil {
		return Response{}, runErr
	}
	if fetchErr != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	return result, nil
}

func (f *collyFetcher) run(
	ctx context.Context,
	collector *colly.Collector,
	method, url string,
	headers http.Header,
	body []byte,
) error {
	done := make(chan error, 1)
	go func() {
		var reqBody io.Reader
		if len(body) > 0 {
			reqBody = bytes.NewReader(body)
		}
		done <- collector.Request(method, url, reqBody, nil, headers)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("request %s %s: %w", method, url, err)
		}
		return nil
	}
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
