package replicator

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/metrics"
)

// Storage task kinds executed off the service's I/O goroutines.
const (
	taskWrite = "write"
	taskApply = "apply"
)

// storageTask is one storage engine operation waiting for a worker. The
// submitter blocks on done, so a leader write and the batch applies of a
// pull loop keep their synchronous semantics while the engine work itself
// runs on the executor.
type storageTask struct {
	kind string
	db   string
	fn   func() error
	done chan error
}

// storageExecutor is the host's CPU executor for storage writes and batch
// applies. Tasks queue in a bounded buffer (four per worker); when that
// buffer is full the submitting goroutine runs the task itself: a saturated
// executor degrades to inline execution rather than rejecting writes or
// stalling a pull loop behind an unbounded queue.
type storageExecutor struct {
	tasks   chan storageTask
	metrics *metrics.Metrics
	logger  *zap.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func newStorageExecutor(workers int, m *metrics.Metrics, logger *zap.Logger) *storageExecutor {
	if workers <= 0 {
		workers = minExecutorThreads
	}

	e := &storageExecutor{
		tasks:   make(chan storageTask, workers*4),
		metrics: m,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	logger.Info("Storage executor started", zap.Int("workers", workers))
	return e
}

func (e *storageExecutor) worker() {
	defer e.wg.Done()

	for {
		select {
		case <-e.stopCh:
			// Drain what was queued before the stop so no submitter is
			// left blocked on its result.
			for {
				select {
				case task := <-e.tasks:
					task.done <- e.run(task)
				default:
					return
				}
			}
		case task := <-e.tasks:
			task.done <- e.run(task)
		}
	}
}

// run executes one task, converting a storage engine panic into an error
// so a poisoned batch cannot take down the host or a write path caller.
func (e *storageExecutor) run(task storageTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Internal(
				fmt.Sprintf("storage %s panicked for db %s: %v", task.kind, task.db, r), nil)
			e.logger.Error("Storage task panicked",
				zap.String("kind", task.kind),
				zap.String("db", task.db),
				zap.Any("panic", r))
		}
	}()
	return task.fn()
}

// Do runs fn for db on a worker and waits for the result. kind is taskWrite
// or taskApply and drives the per-kind accounting.
func (e *storageExecutor) Do(kind, db string, fn func() error) error {
	e.metrics.StorageTasksTotal.WithLabelValues(kind).Inc()
	task := storageTask{kind: kind, db: db, fn: fn, done: make(chan error, 1)}

	select {
	case <-e.stopCh:
	default:
		select {
		case e.tasks <- task:
			return <-task.done
		default:
		}
	}

	// Queue full, or the executor already stopped during shutdown; the
	// caller's goroutine does the work.
	e.metrics.StorageTasksInline.Inc()
	e.logger.Debug("Storage executor saturated, running task inline",
		zap.String("kind", kind),
		zap.String("db", db))
	return e.run(task)
}

// Stop drains the workers, waiting up to timeout for in-flight tasks.
func (e *storageExecutor) Stop(timeout time.Duration) error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopCh)

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("storage executor stop timeout after %v", timeout)
		}
	})
	return err
}
