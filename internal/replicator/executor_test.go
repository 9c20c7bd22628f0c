package replicator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/metrics"
)

func newTestExecutor(t *testing.T, workers int) *storageExecutor {
	t.Helper()
	executor := newStorageExecutor(workers, metrics.New(), zap.NewNop())
	t.Cleanup(func() { executor.Stop(time.Second) })
	return executor
}

func TestExecutorRunsTasksAndReturnsResults(t *testing.T) {
	executor := newTestExecutor(t, 2)

	var mu sync.Mutex
	ran := 0
	for i := 0; i < 20; i++ {
		err := executor.Do(taskWrite, "shard1", func() error {
			mu.Lock()
			ran++
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 20, ran)

	wantErr := errors.WriteError("disk full", nil)
	err := executor.Do(taskApply, "shard1", func() error { return wantErr })
	assert.Same(t, wantErr, err)
}

func TestExecutorRunsInlineWhenSaturated(t *testing.T) {
	executor := newTestExecutor(t, 1)

	block := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the single worker with a blocked apply.
	wg.Add(1)
	go func() {
		defer wg.Done()
		executor.Do(taskApply, "shard1", func() error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// Now fill the queue behind it.
	for i := 0; i < cap(executor.tasks); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			executor.Do(taskApply, "shard1", func() error {
				<-block
				return nil
			})
		}()
	}
	require.Eventually(t, func() bool {
		return len(executor.tasks) == cap(executor.tasks)
	}, time.Second, time.Millisecond)

	// A saturated executor must not block a leader write.
	done := make(chan error, 1)
	go func() {
		done <- executor.Do(taskWrite, "shard1", func() error { return nil })
	}()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write was queued behind blocked tasks instead of running inline")
	}

	close(block)
	wg.Wait()
}

func TestExecutorConvertsPanicsToErrors(t *testing.T) {
	executor := newTestExecutor(t, 1)

	err := executor.Do(taskApply, "shard1", func() error { panic("poisoned batch") })
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.GetCode(err))
	assert.Contains(t, err.Error(), "poisoned batch")

	// The worker survives the panic.
	assert.NoError(t, executor.Do(taskWrite, "shard1", func() error { return nil }))
}

func TestExecutorRunsInlineAfterStop(t *testing.T) {
	executor := newStorageExecutor(1, metrics.New(), zap.NewNop())
	require.NoError(t, executor.Stop(time.Second))

	ran := false
	err := executor.Do(taskWrite, "shard1", func() error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}
