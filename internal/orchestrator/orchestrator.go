// Package orchestrator composes scheduling, guardrails, idempotency, and the
// publish queue into one dequeue-evaluate-publish cycle.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/metrics"
	"github.com/listforge/listforge/internal/pipeline"
)

// EnqueueRequest is one product/store pairing submitted for publication.
type EnqueueRequest struct {
	Product  pipeline.ProductRecord
	StoreID  string
	Priority int
}

// StoreStats tracks terminal outcomes per store.
type StoreStats struct {
	Succeeded        int `json:"succeeded"`
	Failed           int `json:"failed"`
	SkippedGuardrail int `json:"skipped_guardrail"`
	SkippedDuplicate int `json:"skipped_duplicate"`
	Deferred         int `json:"deferred"`
}

// Stats aggregates counters across all stores.
type Stats struct {
	TotalProcessed   int                   `json:"total_processed"`
	Succeeded        int                   `json:"succeeded"`
	Failed           int                   `json:"failed"`
	SkippedGuardrail int                   `json:"skipped_guardrail"`
	SkippedDuplicate int                   `json:"skipped_duplicate"`
	Deferred         int                   `json:"deferred"`
	QueueDepth       int                   `json:"queue_depth"`
	Stores           map[string]StoreStats `json:"stores"`
}

// Health is the orchestrator's liveness report.
type Health struct {
	Status     string                  `json:"status"`
	QueueDepth int                     `json:"queue_depth"`
	Publishers []string                `json:"publishers"`
	Stores     map[string]StoreSummary `json:"stores"`
}

// Orchestrator owns the queue and every task on it. A task is handed to
// exactly one WorkOnce call at a time; that cycle mutates it under the queue
// lock, and every task leaving the orchestrator is a snapshot.
type Orchestrator struct {
	queue       *PublishQueue
	scheduler   *Scheduler
	guardrails  *Guardrails
	idempotency pipeline.IdempotencyStore
	publishers  map[string]pipeline.StorePublisher
	events      pipeline.Publisher
	eventTopic  string
	clock       pipeline.Clock
	idGen       pipeline.IDGenerator
	logger      *zap.Logger

	stats statsTable

	// inFlight holds (store, signature) pairs currently being published, so
	// two workers can never publish the same payload to the same store.
	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// New constructs an Orchestrator.
func New(
	queue *PublishQueue,
	scheduler *Scheduler,
	guardrails *Guardrails,
	idempotency pipeline.IdempotencyStore,
	publishers []pipeline.StorePublisher,
	events pipeline.Publisher,
	eventTopic string,
	clock pipeline.Clock,
	idGen pipeline.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	table := make(map[string]pipeline.StorePublisher, len(publishers))
	for _, p := range publishers {
		table[p.StoreID()] = p
	}
	return &Orchestrator{
		queue:       queue,
		scheduler:   scheduler,
		guardrails:  guardrails,
		idempotency: idempotency,
		publishers:  table,
		events:      events,
		eventTopic:  eventTopic,
		clock:       clock,
		idGen:       idGen,
		logger:      logger,
		inFlight:    make(map[string]struct{}),
	}
}

// Enqueue validates the product and queues a publish task for the store.
func (o *Orchestrator) Enqueue(req EnqueueRequest) (string, error) {
	if _, ok := o.publishers[req.StoreID]; !ok {
		return "", fmt.Errorf("no publisher registered for store %q", req.StoreID)
	}
	if err := req.Product.Validate(); err != nil {
		return "", fmt.Errorf("invalid product: %w", err)
	}
	id, err := o.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	task := &pipeline.PublishTask{
		TaskID:     fmt.Sprintf("%s-%s", req.StoreID, id),
		StoreID:    req.StoreID,
		Product:    req.Product,
		Priority:   req.Priority,
		Status:     pipeline.TaskStatusPending,
		EnqueuedAt: o.clock.Now(),
	}
	taskID := o.queue.Enqueue(task)
	metrics.SetQueueDepth(o.queue.Depth())
	o.logger.Debug("task enqueued",
		zap.String("task_id", taskID),
		zap.String("store_id", req.StoreID),
		zap.Int("priority", req.Priority),
	)
	return taskID, nil
}

// EnqueueBatch queues several tasks and groups them under one batch ID.
// The batch fails atomically on the first invalid request.
func (o *Orchestrator) EnqueueBatch(reqs []EnqueueRequest) (pipeline.Batch, error) {
	for i, req := range reqs {
		if _, ok := o.publishers[req.StoreID]; !ok {
			return pipeline.Batch{}, fmt.Errorf("request %d: no publisher registered for store %q", i, req.StoreID)
		}
		if err := req.Product.Validate(); err != nil {
			return pipeline.Batch{}, fmt.Errorf("request %d: invalid product: %w", i, err)
		}
	}
	batchID, err := o.idGen.NewID()
	if err != nil {
		return pipeline.Batch{}, fmt.Errorf("generate batch id: %w", err)
	}
	taskIDs := make([]string, 0, len(reqs))
	for _, req := range reqs {
		taskID, err := o.Enqueue(req)
		if err != nil {
			return pipeline.Batch{}, err
		}
		taskIDs = append(taskIDs, taskID)
	}
	return pipeline.Batch{
		BatchID:    batchID,
		TaskIDs:    taskIDs,
		TotalTasks: len(taskIDs),
	}, nil
}

// WorkOnce runs one dequeue-evaluate-publish cycle. It returns nil when the
// queue is empty; a task still pending when the scheduler deferred it; and a
// task in a terminal status otherwise. Safe for concurrent callers: each task
// is handed to exactly one of them.
func (o *Orchestrator) WorkOnce(ctx context.Context) (*pipeline.PublishTask, error) {
	task, ok := o.queue.DequeueNext()
	metrics.SetQueueDepth(o.queue.Depth())
	if !ok {
		return nil, nil
	}

	// The reservation holds a slot against the store's trailing-hour cap for
	// the rest of this cycle; every exit path below settles it.
	if !o.scheduler.TryReserve(task.StoreID) {
		return o.deferTask(task, "task deferred by scheduler"), nil
	}

	o.queue.MarkProcessing(task, o.clock.Now())

	cfg := o.scheduler.ConfigFor(task.StoreID)
	if verdict := o.guardrails.Evaluate(task.Product, cfg.MinConfidenceScore); !verdict.Passed {
		o.scheduler.ReleaseReservation(task.StoreID)
		return o.finalize(ctx, task, pipeline.TaskStatusSkippedGuardrail, strings.Join(verdict.Reasons, "; "), nil), nil
	}

	if !o.claim(task.StoreID, task.Product.PayloadSignature) {
		// Another worker is publishing this payload right now. Come back
		// once its outcome has landed in the idempotency store.
		o.scheduler.ReleaseReservation(task.StoreID)
		return o.deferTask(task, "task deferred behind in-flight publish"), nil
	}
	defer o.release(task.StoreID, task.Product.PayloadSignature)

	dup, err := o.idempotency.IsDuplicate(ctx, task.StoreID, task.Product.PayloadSignature)
	if err != nil {
		// Infrastructure failure, not a task failure: give the task back.
		o.scheduler.ReleaseReservation(task.StoreID)
		o.queue.Requeue(task)
		metrics.SetQueueDepth(o.queue.Depth())
		snap := o.queue.Snapshot(task)
		return &snap, fmt.Errorf("idempotency check: %w", err)
	}
	if dup {
		o.scheduler.ReleaseReservation(task.StoreID)
		return o.finalize(ctx, task, pipeline.TaskStatusSkippedDuplicate, "payload already published to store", nil), nil
	}

	publisher := o.publishers[task.StoreID]
	result, err := publisher.Publish(ctx, task.Product, task.Product.PayloadSignature)
	if err != nil {
		o.scheduler.ReleaseReservation(task.StoreID)
		return o.finalize(ctx, task, pipeline.TaskStatusFailed, err.Error(), nil), nil
	}
	if !result.Success {
		o.scheduler.ReleaseReservation(task.StoreID)
		return o.finalize(ctx, task, pipeline.TaskStatusFailed, result.Message, nil), nil
	}

	if err := o.idempotency.RecordSuccess(ctx, task.StoreID, task.Product.PayloadSignature); err != nil {
		o.logger.Error("record idempotency failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}
	o.scheduler.RecordPublication(task.StoreID)
	return o.finalize(ctx, task, pipeline.TaskStatusSuccess, "", map[string]string{
		"external_id": result.ExternalID,
		"status_code": strconv.Itoa(result.StatusCode),
	}), nil
}

// deferTask sends a task back to its tier and returns a snapshot of it.
func (o *Orchestrator) deferTask(task *pipeline.PublishTask, reason string) *pipeline.PublishTask {
	o.queue.Requeue(task)
	metrics.SetQueueDepth(o.queue.Depth())
	o.stats.deferred(task.StoreID)
	o.logger.Debug(reason,
		zap.String("task_id", task.TaskID),
		zap.String("store_id", task.StoreID),
	)
	snap := o.queue.Snapshot(task)
	return &snap
}

func (o *Orchestrator) claim(storeID, signature string) bool {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	key := storeID + "\x00" + signature
	if _, held := o.inFlight[key]; held {
		return false
	}
	o.inFlight[key] = struct{}{}
	return true
}

func (o *Orchestrator) release(storeID, signature string) {
	o.inFlightMu.Lock()
	defer o.inFlightMu.Unlock()
	delete(o.inFlight, storeID+"\x00"+signature)
}

func (o *Orchestrator) finalize(
	ctx context.Context,
	task *pipeline.PublishTask,
	status pipeline.TaskStatus,
	message string,
	resultData map[string]string,
) *pipeline.PublishTask {
	o.queue.Finalize(task, status, message, resultData)
	o.stats.terminal(task.StoreID, status)
	metrics.ObservePublish(task.StoreID, string(status))

	switch status {
	case pipeline.TaskStatusSuccess:
		o.logger.Info("task published",
			zap.String("task_id", task.TaskID),
			zap.String("store_id", task.StoreID),
			zap.String("external_id", resultData["external_id"]),
		)
	default:
		o.logger.Warn("task finished without publish",
			zap.String("task_id", task.TaskID),
			zap.String("store_id", task.StoreID),
			zap.String("status", string(status)),
			zap.String("reason", message),
		)
	}
	o.emitEvent(ctx, task)
	snap := o.queue.Snapshot(task)
	return &snap
}

func (o *Orchestrator) emitEvent(ctx context.Context, task *pipeline.PublishTask) {
	if o.events == nil || o.eventTopic == "" {
		return
	}
	payload := map[string]any{
		"task_id":   task.TaskID,
		"store_id":  task.StoreID,
		"status":    string(task.Status),
		"signature": task.Product.PayloadSignature,
		"timestamp": o.clock.Now().Format(time.RFC3339),
	}
	if id, ok := task.ResultData["external_id"]; ok {
		payload["external_id"] = id
	}
	if task.ErrorMessage != "" {
		payload["error"] = task.ErrorMessage
	}
	if _, err := o.events.Publish(ctx, o.eventTopic, payload); err != nil {
		o.logger.Error("result event publish failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}
}

// Task returns a snapshot of any known task by ID.
func (o *Orchestrator) Task(taskID string) (pipeline.PublishTask, bool) {
	return o.queue.Task(taskID)
}

// Stats returns aggregate and per-store counters plus the queue depth.
func (o *Orchestrator) Stats() Stats {
	stats := o.stats.snapshot()
	stats.QueueDepth = o.queue.Depth()
	return stats
}

// StoreSummary reports one store's scheduling state.
func (o *Orchestrator) StoreSummary(storeID string) StoreSummary {
	return o.scheduler.StoreSummary(storeID)
}

// HealthCheck aggregates queue depth, registered publishers, and per-store
// scheduling summaries.
func (o *Orchestrator) HealthCheck() Health {
	publishers := make([]string, 0, len(o.publishers))
	stores := make(map[string]StoreSummary, len(o.publishers))
	for storeID := range o.publishers {
		publishers = append(publishers, storeID)
		stores[storeID] = o.scheduler.StoreSummary(storeID)
	}
	sort.Strings(publishers)
	return Health{
		Status:     "ok",
		QueueDepth: o.queue.Depth(),
		Publishers: publishers,
		Stores:     stores,
	}
}
