package replicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/client"
	"github.com/devrev/replicator/internal/metrics"
)

func TestSweeperExpiresAcksAndIdleClients(t *testing.T) {
	registry := NewRegistry()
	db := newDetachedDB(t, "shard1")
	require.True(t, registry.Add(db))

	// One waiter long past its deadline, one still live.
	db.acks.add(1, time.Now().Add(-time.Minute))
	live := db.acks.add(2, time.Now().Add(time.Minute))

	pool := client.NewPool(1, zap.NewNop())
	pool.Release(pool.Get("127.0.0.1:9091"))

	sweeper := NewSweeper(registry, pool, metrics.New(),
		10*time.Millisecond, 0, zap.NewNop())
	sweeper.Start()
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return db.acks.size() == 1 && pool.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.False(t, isClosed(live.done))
}
