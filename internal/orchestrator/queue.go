package orchestrator

import (
	"container/heap"
	"sync"
	"time"

	"github.com/listforge/listforge/internal/pipeline"
)

// PublishQueue is an ordered, priority-aware holding area for pending tasks.
// Lower priority values dispatch sooner; within a tier, tasks leave in FIFO
// order. Tasks are never deleted: terminal tasks stay in the index for stats
// and audit.
type PublishQueue struct {
	mu    sync.Mutex
	heap  taskHeap
	tasks map[string]*pipeline.PublishTask
	seq   uint64
}

// NewPublishQueue constructs an empty queue.
func NewPublishQueue() *PublishQueue {
	return &PublishQueue{
		tasks: make(map[string]*pipeline.PublishTask),
	}
}

// Enqueue registers the task and makes it dispatchable. Returns the task ID.
func (q *PublishQueue) Enqueue(task *pipeline.PublishTask) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[task.TaskID] = task
	q.push(task)
	return task.TaskID
}

// Requeue returns a deferred task to the back of its priority tier in pending
// status. The task keeps its identity and enqueue timestamp but loses its
// original slot, so a temporarily ineligible store cannot block the head of
// the queue.
func (q *PublishQueue) Requeue(task *pipeline.PublishTask) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = pipeline.TaskStatusPending
	q.push(task)
}

// MarkProcessing stamps the task as picked up by a worker.
func (q *PublishQueue) MarkProcessing(task *pipeline.PublishTask, at time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = pipeline.TaskStatusProcessing
	task.LastAttemptAt = &at
}

// Finalize records a terminal status with its message and result data.
func (q *PublishQueue) Finalize(
	task *pipeline.PublishTask,
	status pipeline.TaskStatus,
	message string,
	resultData map[string]string,
) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task.Status = status
	task.ErrorMessage = message
	task.ResultData = resultData
}

// Snapshot copies the task under the queue lock so callers can read it while
// workers keep mutating the live entry.
func (q *PublishQueue) Snapshot(task *pipeline.PublishTask) pipeline.PublishTask {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *task
}

func (q *PublishQueue) push(task *pipeline.PublishTask) {
	q.seq++
	heap.Push(&q.heap, &queuedTask{task: task, seq: q.seq})
}

// DequeueNext pops the lowest-priority pending task, FIFO within a tier.
// It returns false when no task is dispatchable.
func (q *PublishQueue) DequeueNext() (*pipeline.PublishTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*queuedTask)
		if item.task.Status == pipeline.TaskStatusPending {
			return item.task, true
		}
		// Stale heap entry for a task that already reached a terminal
		// status through another path; drop it.
	}
	return nil, false
}

// Depth reports the number of queued (dispatchable) entries.
func (q *PublishQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Task looks up any known task by ID, pending or terminal. It returns a copy
// taken under the queue lock; the live entry stays private to its worker.
func (q *PublishQueue) Task(taskID string) (pipeline.PublishTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.tasks[taskID]
	if !ok {
		return pipeline.PublishTask{}, false
	}
	return *task, true
}

// StatusCounts tallies every known task by status.
func (q *PublishQueue) StatusCounts() map[pipeline.TaskStatus]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := make(map[pipeline.TaskStatus]int)
	for _, task := range q.tasks {
		counts[task.Status]++
	}
	return counts
}

type queuedTask struct {
	task *pipeline.PublishTask
	seq  uint64
}

type taskHeap []*queuedTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.Priority != h[j].task.Priority {
		return h[i].task.Priority < h[j].task.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*queuedTask)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
