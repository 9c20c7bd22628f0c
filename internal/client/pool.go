// Package client maintains the outbound side of the pull protocol: one
// shared connection per peer address, handed out as time-bounded call
// handles to the pull loops.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/errors"
	"github.com/devrev/replicator/internal/model"
)

// Conn is a shared, reference-counted connection to one peer address.
type Conn struct {
	addr     string
	client   *resty.Client
	refs     int32
	lastUsed int64 // unix nanos
}

// Addr returns the peer address this connection is bound to.
func (c *Conn) Addr() string {
	return c.addr
}

// PullUpdates issues one pull call. The context carries the client-side
// deadline; the server-side wait budget travels in the request itself.
func (c *Conn) PullUpdates(ctx context.Context, req *model.PullRequest) (*model.PullResponse, error) {
	atomic.StoreInt64(&c.lastUsed, time.Now().UnixNano())

	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/v1/pull")
	if err != nil {
		return nil, errors.UpstreamUnavailable(req.DBName, err)
	}

	var pr model.PullResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return nil, errors.Internal(
			fmt.Sprintf("malformed pull response from %s (http %d)", c.addr, resp.StatusCode()), err)
	}
	if pr.Status == "" {
		return nil, errors.Internal(
			fmt.Sprintf("pull response from %s missing status (http %d)", c.addr, resp.StatusCode()), nil)
	}
	return &pr, nil
}

// Pool opens and reuses one connection per peer address.
type Pool struct {
	mu        sync.Mutex
	conns     map[string]*Conn
	ioThreads int
	logger    *zap.Logger
}

// NewPool creates an empty connection pool. ioThreads bounds the
// concurrent transport streams per peer.
func NewPool(ioThreads int, logger *zap.Logger) *Pool {
	if ioThreads <= 0 {
		ioThreads = 8
	}
	return &Pool{
		conns:     make(map[string]*Conn),
		ioThreads: ioThreads,
		logger:    logger,
	}
}

// Get returns the shared connection for addr, creating it lazily. The
// caller must Release it when the call finishes.
func (p *Pool) Get(addr string) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, ok := p.conns[addr]
	if !ok {
		transport := &http.Transport{
			MaxIdleConnsPerHost: p.ioThreads,
			MaxConnsPerHost:     p.ioThreads,
		}
		conn = &Conn{
			addr:     addr,
			client:   resty.New().SetBaseURL("http://" + addr).SetTransport(transport),
			lastUsed: time.Now().UnixNano(),
		}
		p.conns[addr] = conn
		p.logger.Debug("Opened client connection", zap.String("addr", addr))
	}
	atomic.AddInt32(&conn.refs, 1)
	return conn
}

// Release returns a connection handle obtained from Get.
func (p *Pool) Release(conn *Conn) {
	atomic.AddInt32(&conn.refs, -1)
}

// CloseIdle drops connections with no holders that have not been used for
// idleFor. Returns the number of connections released.
func (p *Pool) CloseIdle(idleFor time.Duration) int {
	cutoff := time.Now().Add(-idleFor).UnixNano()

	p.mu.Lock()
	defer p.mu.Unlock()

	closed := 0
	for addr, conn := range p.conns {
		if atomic.LoadInt32(&conn.refs) > 0 {
			continue
		}
		if atomic.LoadInt64(&conn.lastUsed) > cutoff {
			continue
		}
		delete(p.conns, addr)
		closed++
		p.logger.Debug("Released idle client connection", zap.String("addr", addr))
	}
	return closed
}

// CloseAll drops every connection regardless of holders.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns = make(map[string]*Conn)
}

// Len returns the number of open connections.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
