package replicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveTimeoutDegradesAfterThreshold(t *testing.T) {
	at := newAdaptiveTimeout(100*time.Millisecond, 5*time.Millisecond, 3)
	assert.Equal(t, 100*time.Millisecond, at.current())

	assert.False(t, at.noteTimeout())
	assert.False(t, at.noteTimeout())
	assert.Equal(t, 100*time.Millisecond, at.current())

	assert.True(t, at.noteTimeout())
	assert.Equal(t, 5*time.Millisecond, at.current())

	// Already degraded; further timeouts do not re-trigger.
	assert.False(t, at.noteTimeout())
	assert.Equal(t, 5*time.Millisecond, at.current())
}

func TestAdaptiveTimeoutRecoversOnSuccess(t *testing.T) {
	at := newAdaptiveTimeout(100*time.Millisecond, 5*time.Millisecond, 2)
	at.noteTimeout()
	at.noteTimeout()
	assert.Equal(t, 5*time.Millisecond, at.current())

	at.noteSuccess()
	assert.Equal(t, 100*time.Millisecond, at.current())

	// The streak restarts from zero after a success.
	assert.False(t, at.noteTimeout())
	assert.Equal(t, 100*time.Millisecond, at.current())
}

func TestAdaptiveTimeoutSuccessResetsStreakBeforeThreshold(t *testing.T) {
	at := newAdaptiveTimeout(100*time.Millisecond, 5*time.Millisecond, 3)
	at.noteTimeout()
	at.noteTimeout()
	at.noteSuccess()
	at.noteTimeout()
	at.noteTimeout()
	assert.Equal(t, 100*time.Millisecond, at.current())
}
