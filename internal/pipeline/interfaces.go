package pipeline

import (
	"context"
	"time"
)

// StorePublisher performs the remote write for one storefront. Implementations
// may retry transient upstream errors internally but must return a terminal
// result; the orchestrator never retries a publish.
type StorePublisher interface {
	StoreID() string
	Publish(ctx context.Context, product ProductRecord, idempotencyKey string) (PublishResult, error)
}

// Extractor turns a source URL into a ProductRecord.
type Extractor interface {
	Extract(ctx context.Context, url string) (ProductRecord, error)
}

// IdempotencyStore guarantees at most one successful publish per
// (store, payload signature) pair for the lifetime of its backing store.
type IdempotencyStore interface {
	IsDuplicate(ctx context.Context, storeID, signature string) (bool, error)
	RecordSuccess(ctx context.Context, storeID, signature string) error
}

// Publisher pushes result events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for signatures and archived page names.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task and batch IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
