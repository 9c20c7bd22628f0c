package replicator

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/client"
	"github.com/devrev/replicator/internal/config"
	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/handler"
	"github.com/devrev/replicator/internal/metrics"
	"github.com/devrev/replicator/internal/model"
	"github.com/devrev/replicator/internal/resolver"
	"github.com/devrev/replicator/internal/storage"
)

const (
	// minExecutorThreads floors the CPU executor size.
	minExecutorThreads = 16

	// removeDBRefWait is how long remove waits between reference polls.
	removeDBRefWait = 200 * time.Millisecond

	shutdownTimeout = 5 * time.Second
)

// Replicator hosts the replicated databases of one process: the registry,
// the CPU executor, the shared client pool, the cleanup sweeper and the
// inbound pull service.
type Replicator struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Metrics
	registry *Registry
	pool     *client.Pool
	executor *storageExecutor
	resolver resolver.Resolver
	sweeper  *Sweeper

	httpServer *http.Server
	listener   net.Listener
	addr       string

	closeOnce sync.Once
}

// New wires a replicator host from its configuration and starts serving
// inbound pulls. A nil res falls back to resolver.Noop: upstream reset
// attempts are still counted, but the upstream is never switched.
func New(cfg *config.Config, res resolver.Resolver, logger *zap.Logger) (*Replicator, error) {
	if res == nil {
		res = resolver.Noop{}
	}

	executorThreads := cfg.Server.ExecutorThreads
	if executorThreads < minExecutorThreads {
		executorThreads = minExecutorThreads
	}

	m := metrics.New()
	r := &Replicator{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		registry: NewRegistry(),
		pool:     client.NewPool(cfg.Server.IOThreads, logger),
		resolver: res,
		executor: newStorageExecutor(executorThreads, m, logger),
	}

	listener, err := net.Listen("tcp",
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.ReplicatorPort))
	if err != nil {
		r.executor.Stop(shutdownTimeout)
		return nil, fmt.Errorf("failed to listen for replicator service: %w", err)
	}
	r.listener = listener
	r.addr = listener.Addr().String()

	router := mux.NewRouter()
	handler.NewReplicatorHandler(r, logger).RegisterRoutes(router)

	// No read/write timeouts: pull requests long-poll up to the server
	// wait budget and must not be cut off by the HTTP layer.
	r.httpServer = &http.Server{
		Handler:     router,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("Starting replicator server", zap.String("addr", r.addr))
		if err := r.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.Error("Replicator server failed", zap.Error(err))
		}
	}()

	r.sweeper = NewSweeper(r.registry, r.pool, r.metrics,
		cfg.Replication.SweepInterval, cfg.Replication.ClientIdleTimeout, logger)
	r.sweeper.Start()

	return r, nil
}

// Addr returns the address the replicator service is bound to.
func (r *Replicator) Addr() string {
	return r.addr
}

// Metrics returns the host's metrics set.
func (r *Replicator) Metrics() *metrics.Metrics {
	return r.metrics
}

// AddDatabase registers a database and, for non-leader roles, starts its
// pull loop.
func (r *Replicator) AddDatabase(name string, store storage.Adapter, role model.Role, upstreamAddr string) error {
	db := newReplicatedDB(name, store, role, upstreamAddr, dbDeps{
		cfg:      &r.cfg.Replication,
		pool:     r.pool,
		resolver: r.resolver,
		executor: r.executor,
		metrics:  r.metrics,
		logger:   r.logger,
	})

	if !r.registry.Add(db) {
		return errors.DBPreExist(name)
	}
	db.start()

	r.metrics.Databases.Inc()
	r.metrics.DatabasesByRole.WithLabelValues(role.String()).Inc()
	if g, ok := r.resolver.(*resolver.Gossip); ok && role == model.RoleLeader {
		g.SetLeading(name, true)
	}

	r.logger.Info("Database added",
		zap.String("db", name),
		zap.String("role", role.String()),
		zap.String("upstream", upstreamAddr))
	return nil
}

// RemoveDatabase unregisters a database and blocks until its pull loop has
// exited and no shared references remain. After it returns there is no
// further network or storage activity for the database.
func (r *Replicator) RemoveDatabase(name string) error {
	db, ok := r.registry.Remove(name)
	if !ok {
		return errors.DBNotFound(name)
	}

	if g, ok := r.resolver.(*resolver.Gossip); ok && db.Role() == model.RoleLeader {
		g.SetLeading(name, false)
	}

	db.close()
	for db.refs.Load() != 0 {
		r.logger.Info("Database is still held by others, waiting",
			zap.String("db", name),
			zap.Duration("wait", removeDBRefWait))
		time.Sleep(removeDBRefWait)
	}

	r.metrics.Databases.Dec()
	r.metrics.DatabasesByRole.WithLabelValues(db.Role().String()).Dec()
	r.logger.Info("Database removed", zap.String("db", name))
	return nil
}

// Write applies a batch to the named database through the leader write
// path.
func (r *Replicator) Write(name string, opts model.WriteOptions, batch *model.Batch) (uint64, error) {
	db, ok := r.registry.Get(name)
	if !ok {
		return 0, errors.DBNotFound(name)
	}
	db.acquire()
	defer db.release()
	return db.Write(opts, batch)
}

// ServePull dispatches an inbound pull request to the named database.
func (r *Replicator) ServePull(ctx context.Context, req *model.PullRequest) *model.PullResponse {
	db, ok := r.registry.Get(req.DBName)
	if !ok {
		r.metrics.PullRequestsTotal.WithLabelValues(string(model.PullStatusDBNotFound)).Inc()
		return &model.PullResponse{Status: model.PullStatusDBNotFound, NextSeq: req.FromSeq}
	}
	db.acquire()
	defer db.release()

	resp := db.ServePull(ctx, req)
	r.metrics.PullRequestsTotal.WithLabelValues(string(resp.Status)).Inc()
	return resp
}

// Introspect renders the state of the named database.
func (r *Replicator) Introspect(name string) (string, error) {
	db, ok := r.registry.Get(name)
	if !ok {
		return "", errors.DBNotFound(name)
	}
	return db.Introspect(), nil
}

// GetDB returns the named database handle without extending its lifetime,
// for embedding processes that need direct access.
func (r *Replicator) GetDB(name string) (*ReplicatedDB, bool) {
	return r.registry.Get(name)
}

// Close removes every database, stops the sweeper and the service, and
// shuts the executor down.
func (r *Replicator) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.sweeper.Stop()

		var names []string
		r.registry.Range(func(db *ReplicatedDB) bool {
			names = append(names, db.Name())
			return true
		})
		for _, name := range names {
			if rerr := r.RemoveDatabase(name); rerr != nil {
				r.logger.Warn("Failed to remove database on close",
					zap.String("db", name),
					zap.Error(rerr))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := r.httpServer.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("replicator server shutdown failed: %w", serr)
		}

		if perr := r.executor.Stop(shutdownTimeout); perr != nil && err == nil {
			err = perr
		}
		r.pool.CloseAll()
		r.logger.Info("Replicator host closed")
	})
	return err
}
