// Package memory contains a scriptable in-memory store publisher for tests
// and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/listforge/listforge/internal/pipeline"
)

// PublishCall records one Publish invocation.
type PublishCall struct {
	Product        pipeline.ProductRecord
	IdempotencyKey string
}

// Publisher accepts every product and remembers what was published. Result
// and Err override the default success outcome when set.
type Publisher struct {
	storeID string

	Result *pipeline.PublishResult
	Err    error

	mu    sync.Mutex
	calls []PublishCall
}

// New returns a memory publisher for the given store ID.
func New(storeID string) *Publisher {
	return &Publisher{storeID: storeID}
}

// StoreID implements pipeline.StorePublisher.
func (p *Publisher) StoreID() string { return p.storeID }

// Publish records the call and returns the scripted or default result.
func (p *Publisher) Publish(_ context.Context, product pipeline.ProductRecord, idempotencyKey string) (pipeline.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, PublishCall{Product: product, IdempotencyKey: idempotencyKey})
	if p.Err != nil {
		return pipeline.PublishResult{}, p.Err
	}
	if p.Result != nil {
		return *p.Result, nil
	}
	return pipeline.PublishResult{
		Success:    true,
		StatusCode: 201,
		ExternalID: fmt.Sprintf("%s-%d", p.storeID, len(p.calls)),
	}, nil
}

// Calls returns the recorded publishes.
func (p *Publisher) Calls() []PublishCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishCall, len(p.calls))
	copy(out, p.calls)
	return out
}
