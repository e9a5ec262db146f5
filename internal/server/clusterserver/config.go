package clusterserver

import (
	"errors"
	"time"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// Config configures a cluster node.
type Config struct {
	// NodeID identifies this node in Raft and in gossip.
	NodeID string

	// RaftBindAddr is the Raft transport address.
	RaftBindAddr string

	// RaftDataDir holds the Raft log and snapshots.
	RaftDataDir string

	// RPCAddr serves the cluster RPC (request forwarding and join).
	RPCAddr string

	GossipBindAddr string
	GossipBindPort int

	// Bootstrap forms a new single-voter cluster when no state exists.
	Bootstrap bool

	// SeedNodes are gossip addresses of existing members.
	SeedNodes []string

	// ApplyTimeout bounds a single Raft apply.
	ApplyTimeout time.Duration

	Logger logger.Logger
}

func (c *Config) validate() error {
	switch {
	case c.NodeID == "":
		return errors.New("node id is required")
	case c.RaftBindAddr == "":
		return errors.New("raft bind address is required")
	case c.RaftDataDir == "":
		return errors.New("raft data dir is required")
	case c.RPCAddr == "":
		return errors.New("rpc address is required")
	case !c.Bootstrap && len(c.SeedNodes) == 0:
		return errors.New("either bootstrap or seed nodes must be set")
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logger.Default()
	}
	return nil
}
