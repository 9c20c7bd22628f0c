package model

import "fmt"

// Role describes what a database does in its replication group.
type Role int

const (
	// RoleLeader accepts writes and serves updates to its followers.
	RoleLeader Role = iota
	// RoleFollower replicates from an upstream and counts toward the
	// mode-2 ack quorum.
	RoleFollower
	// RoleObserver replicates from an upstream but never acks.
	RoleObserver
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "LEADER"
	case RoleFollower:
		return "FOLLOWER"
	case RoleObserver:
		return "OBSERVER"
	default:
		return "UNKNOWN"
	}
}

// ParseRole parses a wire role name.
func ParseRole(s string) (Role, error) {
	switch s {
	case "LEADER":
		return RoleLeader, nil
	case "FOLLOWER":
		return RoleFollower, nil
	case "OBSERVER":
		return RoleObserver, nil
	default:
		return RoleLeader, fmt.Errorf("unknown replica role %q", s)
	}
}

// WriteOptions mirrors the storage engine's per-write options.
type WriteOptions struct {
	Sync bool
}
