package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/memberlist"
	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/errors"
)

// nodeMeta is what each member advertises through gossip: its replicator
// address and the databases it currently leads.
type nodeMeta struct {
	ReplicatorAddr string   `json:"replicator_addr"`
	Leads          []string `json:"leads,omitempty"`
}

// GossipConfig holds gossip resolver configuration
type GossipConfig struct {
	NodeID    string
	BindPort  int
	SeedNodes []string
}

// Gossip resolves upstreams from cluster membership metadata.
type Gossip struct {
	memberlist *memberlist.Memberlist
	logger     *zap.Logger

	mu   sync.Mutex
	meta nodeMeta
}

// NewGossip joins the gossip cluster and starts advertising replicatorAddr.
func NewGossip(cfg *GossipConfig, replicatorAddr string, logger *zap.Logger) (*Gossip, error) {
	g := &Gossip{
		logger: logger,
		meta:   nodeMeta{ReplicatorAddr: replicatorAddr},
	}

	mlConfig := memberlist.DefaultLocalConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = g

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}
	g.memberlist = ml

	if len(cfg.SeedNodes) > 0 {
		if _, err := ml.Join(cfg.SeedNodes); err != nil {
			logger.Warn("Failed to join some seed nodes", zap.Error(err))
		}
	}

	return g, nil
}

// Resolve returns the advertised leader address for dbName.
func (g *Gossip) Resolve(_ context.Context, dbName string) (string, error) {
	for _, member := range g.memberlist.Members() {
		if len(member.Meta) == 0 {
			continue
		}
		var meta nodeMeta
		if err := json.Unmarshal(member.Meta, &meta); err != nil {
			g.logger.Warn("Malformed gossip metadata",
				zap.String("node_id", member.Name),
				zap.Error(err))
			continue
		}
		i := sort.SearchStrings(meta.Leads, dbName)
		if i < len(meta.Leads) && meta.Leads[i] == dbName {
			return meta.ReplicatorAddr, nil
		}
	}
	return "", errors.UpstreamUnavailable(dbName, nil)
}

// SetLeading updates whether this node advertises leadership of dbName.
func (g *Gossip) SetLeading(dbName string, leading bool) {
	g.mu.Lock()
	i := sort.SearchStrings(g.meta.Leads, dbName)
	present := i < len(g.meta.Leads) && g.meta.Leads[i] == dbName
	switch {
	case leading && !present:
		g.meta.Leads = append(g.meta.Leads, "")
		copy(g.meta.Leads[i+1:], g.meta.Leads[i:])
		g.meta.Leads[i] = dbName
	case !leading && present:
		g.meta.Leads = append(g.meta.Leads[:i], g.meta.Leads[i+1:]...)
	}
	g.mu.Unlock()

	if err := g.memberlist.UpdateNode(0); err != nil {
		g.logger.Warn("Failed to broadcast node metadata", zap.Error(err))
	}
}

// NodeMeta implements memberlist.Delegate
func (g *Gossip) NodeMeta(limit int) []byte {
	g.mu.Lock()
	data, _ := json.Marshal(g.meta)
	g.mu.Unlock()
	if len(data) > limit {
		g.logger.Warn("Gossip metadata truncated", zap.Int("limit", limit))
		return data[:limit]
	}
	return data
}

// NotifyMsg implements memberlist.Delegate
func (g *Gossip) NotifyMsg([]byte) {}

// GetBroadcasts implements memberlist.Delegate
func (g *Gossip) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

// LocalState implements memberlist.Delegate
func (g *Gossip) LocalState(join bool) []byte {
	return nil
}

// MergeRemoteState implements memberlist.Delegate
func (g *Gossip) MergeRemoteState(buf []byte, join bool) {}

// Shutdown leaves the gossip cluster.
func (g *Gossip) Shutdown() error {
	return g.memberlist.Shutdown()
}
