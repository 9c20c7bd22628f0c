// Package replicator implements log-shipping replication between hosts of
// embedded, sequence-numbered databases. Each database is replicated
// independently: leaders accept writes and serve update batches, followers
// and observers continuously pull from an upstream and apply what they
// receive.
package replicator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/client"
	"github.com/devrev/replicator/internal/config"
	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/metrics"
	"github.com/devrev/replicator/internal/model"
	"github.com/devrev/replicator/internal/resolver"
	"github.com/devrev/replicator/internal/storage"
)

const (
	// ModeAsync returns from leader writes as soon as storage commits.
	ModeAsync = 1
	// ModeWaitOneAck blocks leader writes until one non-observer peer acks.
	ModeWaitOneAck = 2

	// maxBatchesPerPull bounds the number of batches served per call.
	maxBatchesPerPull = 64

	upstreamResolveTimeout = time.Second
)

// dbDeps carries the host-owned collaborators every database shares.
type dbDeps struct {
	cfg      *config.ReplicationConfig
	pool     *client.Pool
	resolver resolver.Resolver
	executor *storageExecutor
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// ReplicatedDB is the per-database replication state machine. It owns the
// storage handle, the pull loop for non-leader roles, the pending-ack
// table and the adaptive write timeout for leaders.
type ReplicatedDB struct {
	name  string
	role  model.Role
	store storage.Adapter
	deps  dbDeps

	mu       sync.Mutex
	upstream string
	notifyCh chan struct{}

	curSeq  atomic.Uint64
	refs    atomic.Int32
	removed atomic.Bool
	failed  atomic.Bool

	acks    *pendingAckTable
	timeout *adaptiveTimeout

	noUpdateStreak atomic.Int32
	resetAttempts  atomic.Int32

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newReplicatedDB(name string, store storage.Adapter, role model.Role, upstreamAddr string, deps dbDeps) *ReplicatedDB {
	d := &ReplicatedDB{
		name:     name,
		role:     role,
		store:    store,
		deps:     deps,
		upstream: upstreamAddr,
		notifyCh: make(chan struct{}),
		acks:     newPendingAckTable(),
		timeout: newAdaptiveTimeout(
			deps.cfg.Timeout,
			deps.cfg.TimeoutDegraded,
			deps.cfg.AckTimeoutsBeforeDegradation),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	d.curSeq.Store(store.LatestSeq())
	return d
}

// start launches the pull loop for non-leader roles. It runs after the
// database is registered so inbound requests never observe a pulling but
// unregistered database.
func (d *ReplicatedDB) start() {
	if d.role == model.RoleLeader {
		close(d.doneCh)
		return
	}
	go d.pullLoop()
}

// Name returns the database name.
func (d *ReplicatedDB) Name() string { return d.name }

// Role returns the database role.
func (d *ReplicatedDB) Role() model.Role { return d.role }

// CurSeq returns the latest locally committed sequence number.
func (d *ReplicatedDB) CurSeq() uint64 { return d.curSeq.Load() }

// CurrentTimeoutMs returns the write-ack timeout currently in effect.
func (d *ReplicatedDB) CurrentTimeoutMs() int64 { return d.timeout.current().Milliseconds() }

// ResetUpstreamAttempts returns how often this database asked the resolver
// for a fresh upstream.
func (d *ReplicatedDB) ResetUpstreamAttempts() int { return int(d.resetAttempts.Load()) }

// NoUpdateStreak returns the current run of empty pull responses from a
// non-leader upstream.
func (d *ReplicatedDB) NoUpdateStreak() int { return int(d.noUpdateStreak.Load()) }

func (d *ReplicatedDB) acquire() { d.refs.Add(1) }
func (d *ReplicatedDB) release() { d.refs.Add(-1) }

func (d *ReplicatedDB) upstreamAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upstream
}

func (d *ReplicatedDB) setUpstream(addr string) {
	d.mu.Lock()
	d.upstream = addr
	d.mu.Unlock()
}

// advanceTo raises curSeq to seq; concurrent writers may finish out of
// order, so curSeq only ever moves forward.
func (d *ReplicatedDB) advanceTo(seq uint64) {
	for {
		cur := d.curSeq.Load()
		if seq <= cur {
			return
		}
		if d.curSeq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// notify wakes every serve-pull call blocked on new data.
func (d *ReplicatedDB) notify() {
	d.mu.Lock()
	close(d.notifyCh)
	d.notifyCh = make(chan struct{})
	d.mu.Unlock()
}

func (d *ReplicatedDB) waitChan() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.notifyCh
}

// Write commits a batch on a leader. In mode 2 it blocks until one
// non-observer peer acks the assigned sequence or the current timeout
// elapses.
func (d *ReplicatedDB) Write(opts model.WriteOptions, batch *model.Batch) (uint64, error) {
	if d.removed.Load() {
		return 0, errors.DBNotFound(d.name)
	}
	if d.role != model.RoleLeader {
		d.deps.metrics.WritesTotal.WithLabelValues("write_to_slave").Inc()
		return 0, errors.WriteToSlave(d.name)
	}

	start := time.Now()
	var seq uint64
	err := d.deps.executor.Do(taskWrite, d.name, func() error {
		var werr error
		seq, werr = d.store.Write(batch)
		return werr
	})
	if err != nil {
		d.deps.metrics.WritesTotal.WithLabelValues("error").Inc()
		return 0, errors.WriteError(fmt.Sprintf("storage write failed for db %s", d.name), err)
	}

	d.advanceTo(seq)

	if d.deps.cfg.Mode != ModeWaitOneAck {
		d.notify()
		d.deps.metrics.WritesTotal.WithLabelValues("ok").Inc()
		d.deps.metrics.WriteDuration.Observe(time.Since(start).Seconds())
		return seq, nil
	}

	timeout := d.timeout.current()
	waiter := d.acks.add(seq, time.Now().Add(timeout))
	d.notify()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter.done:
		d.timeout.noteSuccess()
		d.deps.metrics.WritesTotal.WithLabelValues("ok").Inc()
		d.deps.metrics.WriteDuration.Observe(time.Since(start).Seconds())
		return seq, nil
	case <-timer.C:
		d.acks.remove(waiter)
		d.deps.metrics.WritesTotal.WithLabelValues("ack_timeout").Inc()
		d.deps.metrics.WriteAckTimeouts.Inc()
		d.deps.metrics.WriteDuration.Observe(time.Since(start).Seconds())
		if d.timeout.noteTimeout() {
			d.deps.logger.Warn("Write-ack timeout degraded",
				zap.String("db", d.name),
				zap.Duration("degraded_timeout", d.deps.cfg.TimeoutDegraded))
		}
		return seq, errors.AckTimeout()
	case <-d.stopCh:
		d.acks.remove(waiter)
		return seq, errors.DBNotFound(d.name)
	}
}

// ServePull answers one inbound pull request. It serves whatever is
// available at FromSeq, long-polling up to the server wait budget when the
// caller is already caught up, and resolves pending acks the request
// piggybacks.
func (d *ReplicatedDB) ServePull(ctx context.Context, req *model.PullRequest) *model.PullResponse {
	resp := &model.PullResponse{ServerRole: d.role.String(), NextSeq: req.FromSeq}

	if d.removed.Load() {
		resp.Status = model.PullStatusDBNotFound
		return resp
	}
	if d.failed.Load() {
		resp.Status = model.PullStatusServerError
		return resp
	}
	if req.FromSeq == 0 {
		resp.Status = model.PullStatusServerError
		return resp
	}

	if peerRole, err := model.ParseRole(req.PeerRole); err == nil &&
		peerRole == model.RoleFollower && req.IncludeAckSeq > 0 {
		if n := d.acks.resolveUpTo(req.IncludeAckSeq); n > 0 {
			d.deps.logger.Debug("Resolved pending acks",
				zap.String("db", d.name),
				zap.Uint64("ack_seq", req.IncludeAckSeq),
				zap.Int("released", n))
		}
	}

	maxWait := time.Duration(req.MaxWaitMs) * time.Millisecond
	if maxWait > d.deps.cfg.MaxServerWaitTime {
		maxWait = d.deps.cfg.MaxServerWaitTime
	}
	deadline := time.Now().Add(maxWait)

	for {
		cur := d.curSeq.Load()
		if req.FromSeq <= cur {
			updates, next, err := d.store.UpdatesSince(req.FromSeq, maxBatchesPerPull)
			if err != nil {
				d.deps.logger.Error("Failed to read updates",
					zap.String("db", d.name),
					zap.Uint64("from_seq", req.FromSeq),
					zap.Error(err))
				resp.Status = model.PullStatusServerError
				return resp
			}
			if len(updates) > 0 {
				resp.Status = model.PullStatusOK
				resp.Batches = updates
				resp.NextSeq = next
				d.deps.metrics.PullBatchesServed.Add(float64(len(updates)))
				return resp
			}
		}

		// Nothing to serve at FromSeq. A non-leader with no local progress
		// (or one the peer is ahead of) must not long-poll: it is itself
		// waiting on its upstream and the caller should retry.
		if d.role != model.RoleLeader && (cur == 0 || req.FromSeq > cur+1) {
			resp.Status = model.PullStatusWaitingOnUpstream
			return resp
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			resp.Status = model.PullStatusOK
			return resp
		}

		select {
		case <-d.waitChan():
		case <-time.After(remaining):
			resp.Status = model.PullStatusOK
			return resp
		case <-ctx.Done():
			resp.Status = model.PullStatusOK
			return resp
		case <-d.stopCh:
			resp.Status = model.PullStatusDBNotFound
			return resp
		}
	}
}

// pullLoop continuously pulls ordered batches from the upstream and applies
// them. It never terminates on error; only removal or a fatal apply
// mismatch stops it.
func (d *ReplicatedDB) pullLoop() {
	defer close(d.doneCh)

	logger := d.deps.logger.With(zap.String("db", d.name), zap.String("role", d.role.String()))
	logger.Info("Pull loop started")

	for {
		select {
		case <-d.stopCh:
			logger.Info("Pull loop stopped")
			return
		default:
		}

		addr := d.upstreamAddr()
		if addr == "" {
			if !d.sleepInterruptible(d.deps.cfg.PullDelayOnError) {
				return
			}
			continue
		}

		resp, err := d.pullOnce(addr)
		if err != nil {
			d.deps.metrics.PullErrorsTotal.Inc()
			logger.Warn("Pull failed", zap.String("upstream", addr), zap.Error(err))
			if !d.sleepInterruptible(d.deps.cfg.PullDelayOnError) {
				return
			}
			continue
		}

		switch resp.Status {
		case model.PullStatusOK:
			if len(resp.Batches) == 0 {
				// The upstream long-polled the full budget; go right back.
				d.handleEmptyResponse(resp.ServerRole)
				continue
			}
			if fatal := d.applyBatches(resp.Batches, logger); fatal {
				logger.Error("Pull loop halted by apply mismatch; remove and re-add the db to recover")
				return
			}
		case model.PullStatusWaitingOnUpstream:
			d.handleEmptyResponse(resp.ServerRole)
			if !d.sleepInterruptible(d.deps.cfg.PullDelayOnError) {
				return
			}
		case model.PullStatusDBNotFound:
			logger.Warn("Upstream does not host this db", zap.String("upstream", addr))
			if !d.sleepInterruptible(d.deps.cfg.PullDelayOnError) {
				return
			}
		default:
			d.deps.metrics.PullErrorsTotal.Inc()
			logger.Warn("Upstream reported server error", zap.String("upstream", addr))
			if !d.sleepInterruptible(d.deps.cfg.PullDelayOnError) {
				return
			}
		}
	}
}

// pullOnce issues one pull call against addr. The client-side timeout
// exceeds the server wait budget by the configured slack.
func (d *ReplicatedDB) pullOnce(addr string) (*model.PullResponse, error) {
	serverWait := d.deps.cfg.Timeout
	if serverWait > d.deps.cfg.MaxServerWaitTime {
		serverWait = d.deps.cfg.MaxServerWaitTime
	}

	cur := d.curSeq.Load()
	req := &model.PullRequest{
		DBName:        d.name,
		FromSeq:       cur + 1,
		MaxWaitMs:     uint32(serverWait.Milliseconds()),
		IncludeAckSeq: cur,
		PeerRole:      d.role.String(),
	}

	conn := d.deps.pool.Get(addr)
	defer d.deps.pool.Release(conn)

	ctx, cancel := context.WithTimeout(context.Background(),
		serverWait+d.deps.cfg.ClientServerTimeoutDifference)
	defer cancel()

	return conn.PullUpdates(ctx, req)
}

// applyBatches applies pulled batches in order. Returns true when the
// database hit a fatal sequence mismatch and must stop pulling.
func (d *ReplicatedDB) applyBatches(batches []model.Update, logger *zap.Logger) bool {
	for _, update := range batches {
		expected := d.curSeq.Load() + 1
		if update.Seq != expected {
			d.failDB(expected, update.Seq, logger)
			return true
		}

		err := d.deps.executor.Do(taskApply, d.name, func() error {
			return d.store.Apply(update.Payload, update.Seq)
		})
		if err != nil {
			if errors.IsCode(err, errors.ErrCodeApplyMismatch) {
				d.failDB(expected, update.Seq, logger)
				return true
			}
			d.deps.metrics.PullErrorsTotal.Inc()
			logger.Warn("Failed to apply batch",
				zap.Uint64("seq", update.Seq),
				zap.Error(err))
			d.sleepInterruptible(d.deps.cfg.PullDelayOnError)
			return false
		}

		d.advanceTo(d.store.LatestSeq())
		d.notify()
		d.deps.metrics.BatchesApplied.Inc()
	}
	d.noUpdateStreak.Store(0)
	return false
}

func (d *ReplicatedDB) failDB(expected, got uint64, logger *zap.Logger) {
	d.failed.Store(true)
	logger.Error("Apply sequence mismatch",
		zap.Uint64("expected_seq", expected),
		zap.Uint64("got_seq", got))
}

// handleEmptyResponse accounts one update-free response. Streaks of empty
// answers from a non-leader upstream indicate a self-loop or a
// follower-follower cycle: a correctly rooted replication tree cannot
// sustain them once writes are flowing.
func (d *ReplicatedDB) handleEmptyResponse(serverRole string) {
	if serverRole == model.RoleLeader.String() {
		d.noUpdateStreak.Store(0)
		return
	}

	streak := d.noUpdateStreak.Add(1)
	cfg := d.deps.cfg
	if !cfg.ResetUpstreamOnEmptyUpdatesFromNonLeader {
		return
	}
	if int(streak) <= cfg.MaxConsecutiveNoUpdatesBeforeUpstreamReset {
		return
	}

	d.noUpdateStreak.Store(0)
	attempts := d.resetAttempts.Add(1)
	d.deps.metrics.UpstreamResetsTotal.Inc()
	d.deps.logger.Warn("Requesting upstream reset",
		zap.String("db", d.name),
		zap.String("upstream", d.upstreamAddr()),
		zap.Int32("attempts", attempts))

	ctx, cancel := context.WithTimeout(context.Background(), upstreamResolveTimeout)
	defer cancel()
	addr, err := d.deps.resolver.Resolve(ctx, d.name)
	if err != nil {
		d.deps.logger.Warn("Upstream resolver has no fresh address",
			zap.String("db", d.name),
			zap.Error(err))
		return
	}
	if addr != "" && addr != d.upstreamAddr() {
		d.deps.logger.Info("Switching upstream",
			zap.String("db", d.name),
			zap.String("new_upstream", addr))
		d.setUpstream(addr)
	}
}

// sleepInterruptible sleeps for dur unless the database is being removed.
// Returns false when interrupted.
func (d *ReplicatedDB) sleepInterruptible(dur time.Duration) bool {
	select {
	case <-d.stopCh:
		return false
	case <-time.After(dur):
		return true
	}
}

// close marks the database removed, stops the pull loop and waits for it
// to exit. Idempotent.
func (d *ReplicatedDB) close() {
	d.stopOnce.Do(func() {
		d.removed.Store(true)
		close(d.stopCh)
	})
	<-d.doneCh
}

// Introspect renders the externally observable state of the database. The
// field labels, including the trailing underscore on the timeout, are a
// stable contract consumed by operator tooling.
func (d *ReplicatedDB) Introspect() string {
	upstream := d.upstreamAddr()
	if upstream == "" {
		upstream = "uninitialized_addr"
	}
	return fmt.Sprintf(
		"ReplicatedDB:\n  name: %s\n  ReplicaRole: %s\n  upstream_addr: %s\n  cur_seq_no: %d\n  current_replicator_timeout_ms_: %d\n",
		d.name, d.role, upstream, d.curSeq.Load(), d.CurrentTimeoutMs())
}
