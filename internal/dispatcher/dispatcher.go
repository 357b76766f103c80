// Package dispatcher manages worker fan-out over the publish queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/listforge/listforge/internal/metrics"
	"github.com/listforge/listforge/internal/pipeline"
)

// Worker is the slice of the orchestrator the dispatcher drives.
type Worker interface {
	WorkOnce(ctx context.Context) (*pipeline.PublishTask, error)
}

// Config controls Dispatcher behavior.
type Config struct {
	// Workers is the number of concurrent publish loops.
	Workers int
	// PollInterval is how long an idle worker waits before checking the
	// queue again. Deferred tasks also wait one interval so a closed store
	// window cannot spin the loop.
	PollInterval time.Duration
}

// Dispatcher fans publish work out to a fixed pool of workers. Each worker
// repeatedly runs one dequeue-evaluate-publish cycle; task-level mutual
// exclusion lives in the orchestrator, not here.
type Dispatcher struct {
	worker Worker
	cfg    Config
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(worker Worker, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		worker: worker,
		cfg:    cfg,
		logger: logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) runWorker(ctx context.Context, id int) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	logger := d.logger.With(zap.Int("worker", id))
	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopped")
			return
		}

		task, err := d.worker.WorkOnce(ctx)
		switch {
		case err != nil:
			logger.Error("publish cycle failed", zap.Error(err))
			if !d.wait(ctx) {
				return
			}
		case task == nil:
			// Empty queue.
			if !d.wait(ctx) {
				return
			}
		case task.Status == pipeline.TaskStatusPending:
			// Scheduler deferral; the task went back on the queue.
			if !d.wait(ctx) {
				return
			}
		default:
			// Terminal outcome; look for the next task immediately.
		}
	}
}

func (d *Dispatcher) wait(ctx context.Context) bool {
	timer := time.NewTimer(d.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
