package config

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// NodeIDPrefix prefixes generated node IDs.
const NodeIDPrefix = "snode-"

// ToClusterConfig converts ServerConfig to clusterserver.Config.
//
// This handles default value population, NodeID generation, and field mapping.
func ToClusterConfig(cfg *ServerConfig, log logger.Logger) (clusterserver.Config, error) {
	if cfg == nil {
		return clusterserver.Config{}, fmt.Errorf("server config is nil")
	}
	if log == nil {
		log = logger.Default()
	}

	nodeID := cfg.Cluster.NodeID
	if nodeID == "" {
		nodeID = GenerateNodeID()
		log.Info("generated cluster node ID", "node_id", nodeID)
	}

	dataDir := cfg.Cluster.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(cfg.Storage.DataDir, "raft")
	}

	return clusterserver.Config{
		NodeID:         nodeID,
		RaftBindAddr:   cfg.Cluster.RaftAddr,
		RaftDataDir:    dataDir,
		RPCAddr:        cfg.Cluster.RPCAddr,
		GossipBindAddr: cfg.Cluster.GossipAddr,
		GossipBindPort: cfg.Cluster.GossipPort,
		Bootstrap:      cfg.Cluster.Bootstrap,
		SeedNodes:      append([]string(nil), cfg.Cluster.Seeds...),
		ApplyTimeout:   cfg.Cluster.ApplyTimeout,
		Logger:         log,
	}, nil
}

// GenerateNodeID returns a random node identifier.
//
// Format: snode-<uuid> (e.g., "snode-6ba7b810-9dad-11d1-80b4-00c04fd430c8")
func GenerateNodeID() string {
	return NodeIDPrefix + uuid.NewString()
}
