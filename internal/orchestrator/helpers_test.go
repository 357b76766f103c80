package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/listforge/listforge/internal/pipeline"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// fakeStorePublisher returns scripted results and records every call.
type fakeStorePublisher struct {
	storeID string
	result  pipeline.PublishResult
	err     error

	mu    sync.Mutex
	calls int
}

func (p *fakeStorePublisher) StoreID() string { return p.storeID }

func (p *fakeStorePublisher) Publish(_ context.Context, _ pipeline.ProductRecord, _ string) (pipeline.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.result, p.err
}

func (p *fakeStorePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// gatedStorePublisher blocks inside Publish until released, letting tests
// hold a publish in flight while other workers run.
type gatedStorePublisher struct {
	storeID string
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedStorePublisher(storeID string) *gatedStorePublisher {
	return &gatedStorePublisher{
		storeID: storeID,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (p *gatedStorePublisher) StoreID() string { return p.storeID }

func (p *gatedStorePublisher) Publish(_ context.Context, _ pipeline.ProductRecord, _ string) (pipeline.PublishResult, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.started <- struct{}{}
	<-p.release
	return pipeline.PublishResult{Success: true, StatusCode: 201, ExternalID: "prod-1"}, nil
}

func (p *gatedStorePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// seqIDGen hands out deterministic IDs for stable assertions.
type seqIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n), nil
}

// erroringIdemStore fails every lookup, simulating a backing-store outage.
type erroringIdemStore struct{}

func (erroringIdemStore) IsDuplicate(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("idempotency backend unavailable")
}

func (erroringIdemStore) RecordSuccess(context.Context, string, string) error {
	return fmt.Errorf("idempotency backend unavailable")
}

func validProduct(signature string) pipeline.ProductRecord {
	return pipeline.ProductRecord{
		Title:           "Stainless Steel Travel Mug 16oz",
		DescriptionHTML: "<p>Vacuum insulated travel mug that keeps drinks hot for twelve hours.</p>",
		Price:           &pipeline.Price{Amount: 24.99, Currency: "USD"},
		Images: []pipeline.ProductImage{
			{URL: "https://cdn.example.com/mug-front.jpg", Alt: "Travel mug front view"},
		},
		SourceURL:        "https://supplier.example.com/products/travel-mug",
		PayloadSignature: signature,
		ConfidenceScore:  0.92,
		Status:           pipeline.RecordComplete,
	}
}

func taskAt(storeID, signature string, priority int) *pipeline.PublishTask {
	return &pipeline.PublishTask{
		TaskID:   fmt.Sprintf("%s-%s", storeID, signature),
		StoreID:  storeID,
		Product:  validProduct(signature),
		Priority: priority,
		Status:   pipeline.TaskStatusPending,
	}
}
