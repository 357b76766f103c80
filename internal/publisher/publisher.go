// Package publisher contains the storefront-specific publish adapters. Each
// adapter maps a ProductRecord onto one storefront API and returns a terminal
// PublishResult; transient upstream retries happen inside the transport
// coordinator, never in the caller.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/listforge/listforge/internal/transport"
)

// Doer is the slice of the transport coordinator publishers need.
type Doer interface {
	Fetch(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Config holds the connection settings for one storefront adapter.
type Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	APIKey    string `mapstructure:"api_key"`
	APISecret string `mapstructure:"api_secret"`
}

// send executes an API write and folds HTTP-level rejections into the
// response instead of an error, so adapters can report them as terminal
// publish failures. Only transport-level failures come back as errors.
func send(ctx context.Context, doer Doer, req transport.Request) (transport.Response, error) {
	resp, err := doer.Fetch(ctx, req)
	if err != nil {
		var statusErr *transport.StatusError
		if errors.As(err, &statusErr) {
			return transport.Response{URL: statusErr.URL, StatusCode: statusErr.Code}, nil
		}
		return transport.Response{}, fmt.Errorf("store request: %w", err)
	}
	return resp, nil
}

func transportRequest(url, method string, body []byte, headers map[string]string) transport.Request {
	return transport.Request{
		URL:     url,
		Method:  method,
		Headers: jsonHeaders(headers),
		Body:    body,
	}
}

func jsonHeaders(extra map[string]string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	for k, v := range extra {
		h.Set(k, v)
	}
	return h
}
