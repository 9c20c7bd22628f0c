package replicator

import (
	"time"

	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/client"
	"github.com/devrev/replicator/internal/metrics"
)

// Sweeper periodically garbage-collects expired in-flight state: pending
// ack waiters whose writers already timed out, and client connections
// nobody has used for a while.
type Sweeper struct {
	registry *Registry
	pool     *client.Pool
	metrics  *metrics.Metrics
	logger   *zap.Logger

	interval   time.Duration
	clientIdle time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a sweeper over the given registry and client pool.
func NewSweeper(registry *Registry, pool *client.Pool, m *metrics.Metrics,
	interval, clientIdle time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry:   registry,
		pool:       pool,
		metrics:    m,
		logger:     logger,
		interval:   interval,
		clientIdle: clientIdle,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

func (s *Sweeper) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	now := time.Now()
	expired := 0
	s.registry.Range(func(db *ReplicatedDB) bool {
		expired += db.acks.expire(now)
		return true
	})
	if expired > 0 {
		s.metrics.ExpiredAcks.Add(float64(expired))
		s.logger.Debug("Expired pending acks", zap.Int("count", expired))
	}

	if closed := s.pool.CloseIdle(s.clientIdle); closed > 0 {
		s.metrics.IdleClientsClosed.Add(float64(closed))
		s.logger.Debug("Released idle client connections", zap.Int("count", closed))
	}
}

// Stop terminates the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
