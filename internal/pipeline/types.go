// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// PlaceholderImageURL is substituted when extraction finds no usable image.
// Records carrying it are marked RecordIncompleteMedia and never count as
// having a real image for guardrail purposes.
const PlaceholderImageURL = "https://static.listforge.io/assets/placeholder-product.png"

// RecordStatus describes the completeness of an extracted product.
type RecordStatus string

// Record status values set by the extraction pipeline.
const (
	RecordComplete        RecordStatus = "complete"
	RecordIncompleteMedia RecordStatus = "incomplete_media"
	RecordIncompletePrice RecordStatus = "incomplete_price"
)

// Price is an optional product price with an ISO 4217 currency code.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// ProductImage is one image attached to a ProductRecord.
type ProductImage struct {
	URL    string `json:"url"`
	Alt    string `json:"alt"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// IsPlaceholder reports whether the image is the system placeholder.
func (i ProductImage) IsPlaceholder() bool {
	return i.URL == PlaceholderImageURL
}

// ProductRecord is the canonical scraped product. It is created once by the
// extraction pipeline and immutable thereafter; orchestration only reads it.
type ProductRecord struct {
	Title            string            `json:"title"`
	DescriptionHTML  string            `json:"description_html"`
	Price            *Price            `json:"price,omitempty"`
	Images           []ProductImage    `json:"images"`
	SourceURL        string            `json:"source_url"`
	Attributes       map[string]string `json:"attributes,omitempty"`
	PayloadSignature string            `json:"payload_signature"`
	ConfidenceScore  float64           `json:"confidence_score"`
	BlobURI          string            `json:"blob_uri,omitempty"`
	ExtractedAt      time.Time         `json:"extracted_at"`
	Status           RecordStatus      `json:"status"`
}

// Validate enforces the construction invariants of a ProductRecord.
func (r ProductRecord) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title must be non-empty after trimming")
	}
	if utf8.RuneCountInString(r.Title) > 500 {
		return errors.New("title exceeds 500 characters")
	}
	if len(r.Images) == 0 {
		return errors.New("record requires at least one image")
	}
	for _, img := range r.Images {
		if !strings.HasPrefix(img.URL, "https://") {
			return errors.New("image URLs must use https")
		}
		if strings.TrimSpace(img.Alt) == "" {
			return errors.New("image alt text must be non-empty")
		}
		if img.Width < 0 || img.Height < 0 {
			return errors.New("image dimensions must be positive when set")
		}
	}
	if !strings.HasPrefix(r.SourceURL, "https://") {
		return errors.New("source URL must use https")
	}
	if r.Price != nil {
		if r.Price.Amount < 0 {
			return errors.New("price amount must be non-negative")
		}
		if len(r.Price.Currency) != 3 {
			return errors.New("price currency must be an ISO 4217 code")
		}
	}
	for key := range r.Attributes {
		if key != strings.ToLower(key) {
			return errors.New("attribute keys must be lower-cased")
		}
	}
	if r.PayloadSignature == "" {
		return errors.New("payload signature must be non-empty")
	}
	return nil
}

// HasRealImage reports whether at least one non-placeholder image is present.
func (r ProductRecord) HasRealImage() bool {
	for _, img := range r.Images {
		if !img.IsPlaceholder() {
			return true
		}
	}
	return false
}

// TaskStatus represents the lifecycle state of a publish task.
type TaskStatus string

// Task status values. Pending is re-entrant: a scheduling deferral returns
// the task to pending, every other transition out of processing is terminal.
const (
	TaskStatusPending          TaskStatus = "pending"
	TaskStatusProcessing       TaskStatus = "processing"
	TaskStatusSuccess          TaskStatus = "success"
	TaskStatusFailed           TaskStatus = "failed"
	TaskStatusSkippedGuardrail TaskStatus = "skipped_guardrail"
	TaskStatusSkippedDuplicate TaskStatus = "skipped_duplicate"
)

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed, TaskStatusSkippedGuardrail, TaskStatusSkippedDuplicate:
		return true
	default:
		return false
	}
}

// PublishTask couples a product with a destination store. Tasks are mutated
// only by the orchestrator's single-task processing step and retained for
// stats and audit after reaching a terminal status.
type PublishTask struct {
	TaskID        string            `json:"task_id"`
	StoreID       string            `json:"store_id"`
	Product       ProductRecord     `json:"product"`
	Priority      int               `json:"priority"`
	Status        TaskStatus        `json:"status"`
	ResultData    map[string]string `json:"result_data,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
}

// Batch groups tasks enqueued together.
type Batch struct {
	BatchID    string   `json:"batch_id"`
	TaskIDs    []string `json:"task_ids"`
	TotalTasks int      `json:"total_tasks"`
}

// PublishResult is the terminal outcome of one StorePublisher call.
type PublishResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// GuardrailResult reports publish-readiness for a product.
type GuardrailResult struct {
	Passed  bool     `json:"passed"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}
