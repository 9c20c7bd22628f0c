package replicator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/client"
	"github.com/devrev/replicator/internal/config"
	"github.com/devrev/replicator/internal/metrics"
	"github.com/devrev/replicator/internal/model"
	"github.com/devrev/replicator/internal/resolver"
	"github.com/devrev/replicator/internal/storage"
)

// newDetachedDB builds a leader db that is not wired to any host; good
// enough for registry bookkeeping tests.
func newDetachedDB(t *testing.T, name string) *ReplicatedDB {
	t.Helper()
	cfg := config.Default()
	m := metrics.New()
	executor := newStorageExecutor(1, m, zap.NewNop())
	t.Cleanup(func() { executor.Stop(time.Second) })
	return newReplicatedDB(name, storage.NewMemStore(), model.RoleLeader, "", dbDeps{
		cfg:      &cfg.Replication,
		pool:     client.NewPool(1, zap.NewNop()),
		resolver: resolver.Noop{},
		executor: executor,
		metrics:  m,
		logger:   zap.NewNop(),
	})
}

func TestRegistryAddIsExclusive(t *testing.T) {
	registry := NewRegistry()
	first := newDetachedDB(t, "db1")
	second := newDetachedDB(t, "db1")

	require.True(t, registry.Add(first))
	require.False(t, registry.Add(second))

	got, ok := registry.Get("db1")
	require.True(t, ok)
	assert.Same(t, first, got, "the incumbent must not be overwritten")
}

func TestRegistryRemove(t *testing.T) {
	registry := NewRegistry()
	db := newDetachedDB(t, "db1")
	require.True(t, registry.Add(db))

	removed, ok := registry.Remove("db1")
	require.True(t, ok)
	assert.Same(t, db, removed)

	_, ok = registry.Get("db1")
	assert.False(t, ok)
	_, ok = registry.Remove("db1")
	assert.False(t, ok)

	// The name is free again.
	assert.True(t, registry.Add(newDetachedDB(t, "db1")))
}

func TestRegistryConcurrentAdds(t *testing.T) {
	registry := NewRegistry()

	const names = 20
	const contenders = 8
	var wg sync.WaitGroup
	wins := make(chan string, names*contenders)

	for i := 0; i < names; i++ {
		name := fmt.Sprintf("db%d", i)
		for j := 0; j < contenders; j++ {
			wg.Add(1)
			db := newDetachedDB(t, name)
			go func() {
				defer wg.Done()
				if registry.Add(db) {
					wins <- db.Name()
				}
			}()
		}
	}
	wg.Wait()
	close(wins)

	counts := make(map[string]int)
	for name := range wins {
		counts[name]++
	}
	assert.Equal(t, names, registry.Len())
	for name, count := range counts {
		assert.Equal(t, 1, count, "name %s won more than once", name)
	}
}
