package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  node_id: test-node
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9091, cfg.Server.ReplicatorPort)
	assert.Equal(t, 8, cfg.Server.IOThreads)
	assert.Equal(t, 32, cfg.Server.ExecutorThreads)
	assert.Equal(t, 1, cfg.Replication.Mode)
	assert.Equal(t, 2*time.Second, cfg.Replication.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Replication.TimeoutDegraded)
	assert.Equal(t, 30, cfg.Replication.AckTimeoutsBeforeDegradation)
	assert.Equal(t, time.Second, cfg.Replication.MaxServerWaitTime)
	assert.Equal(t, time.Second, cfg.Replication.ClientServerTimeoutDifference)
	assert.Equal(t, time.Second, cfg.Replication.PullDelayOnError)
	assert.False(t, cfg.Replication.ResetUpstreamOnEmptyUpdatesFromNonLeader)
	assert.Equal(t, 10, cfg.Replication.MaxConsecutiveNoUpdatesBeforeUpstreamReset)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  replicator_port: 19091
replication:
  mode: 2
  timeout: 100ms
  timeout_degraded: 5ms
  ack_timeouts_before_degradation: 3
  reset_upstream_on_empty_updates_from_non_leader: true
  max_consecutive_no_updates_before_upstream_reset: 1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 19091, cfg.Server.ReplicatorPort)
	assert.Equal(t, 2, cfg.Replication.Mode)
	assert.Equal(t, 100*time.Millisecond, cfg.Replication.Timeout)
	assert.Equal(t, 5*time.Millisecond, cfg.Replication.TimeoutDegraded)
	assert.Equal(t, 3, cfg.Replication.AckTimeoutsBeforeDegradation)
	assert.True(t, cfg.Replication.ResetUpstreamOnEmptyUpdatesFromNonLeader)
	assert.Equal(t, 1, cfg.Replication.MaxConsecutiveNoUpdatesBeforeUpstreamReset)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad mode",
			content: `
replication:
  mode: 3
`,
		},
		{
			name: "degraded exceeds normal",
			content: `
replication:
  timeout: 100ms
  timeout_degraded: 200ms
`,
		},
		{
			name: "follower without upstream",
			content: `
databases:
  - name: shard1
    role: FOLLOWER
`,
		},
		{
			name: "bad role",
			content: `
databases:
  - name: shard1
    role: PRIMARY
    upstream_addr: 127.0.0.1:9091
`,
		},
		{
			name: "database without name",
			content: `
databases:
  - role: LEADER
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
