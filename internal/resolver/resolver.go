// Package resolver answers "who is the authoritative upstream for this
// database right now". Production hosts back it with cluster gossip; unit
// tests use the no-op implementation and assert that reset attempts were
// recorded without one.
package resolver

import (
	"context"

	"github.com/devrev/replicator/internal/errors"
)

// Resolver looks up the current authoritative upstream for a database.
type Resolver interface {
	// Resolve returns the replicator address of the database's current
	// leader, or an error when no authority is known.
	Resolve(ctx context.Context, dbName string) (string, error)
}

// Noop knows no upstreams. It is the default when cluster membership is
// not configured.
type Noop struct{}

// Resolve always reports the upstream as unknown.
func (Noop) Resolve(_ context.Context, dbName string) (string, error) {
	return "", errors.UpstreamUnavailable(dbName, nil)
}
