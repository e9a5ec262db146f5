package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// ErrNotLeader is returned when a write reaches a follower.
var ErrNotLeader = errors.New("raft: not the leader")

const (
	logStoreFile    = "raft-log.db"
	stableStoreFile = "raft-stable.db"
)

// RaftConfig configures the Raft node.
type RaftConfig struct {
	NodeID   string
	BindAddr string

	// AdvertiseAddr is the address peers dial. Defaults to the bound
	// listener address.
	AdvertiseAddr string

	DataDir string

	// Bootstrap forms a one-voter cluster when DataDir holds no state.
	Bootstrap bool

	// SnapshotRetain is how many Raft snapshots are kept. Default: 3
	SnapshotRetain int

	Logger logger.Logger
}

// raftStores are the on-disk pieces of a node. BoltDB holds the log and
// the stable store; snapshots are files next to them.
type raftStores struct {
	log       *raftboltdb.BoltStore
	stable    *raftboltdb.BoltStore
	snapshots raft.SnapshotStore
}

func openRaftStores(dir string, retain int, hl hclog.Logger) (*raftStores, error) {
	st := &raftStores{}
	var err error
	if st.log, err = raftboltdb.NewBoltStore(filepath.Join(dir, logStoreFile)); err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	if st.stable, err = raftboltdb.NewBoltStore(filepath.Join(dir, stableStoreFile)); err != nil {
		st.close()
		return nil, fmt.Errorf("open stable store: %w", err)
	}
	if st.snapshots, err = raft.NewFileSnapshotStoreWithLogger(dir, retain, hl); err != nil {
		st.close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return st, nil
}

func (st *raftStores) hasState() (bool, error) {
	return raft.HasExistingState(st.log, st.stable, st.snapshots)
}

// close releases the BoltDB files. The file snapshot store holds nothing
// open between snapshots.
func (st *raftStores) close() error {
	var errs []error
	if st.stable != nil {
		errs = append(errs, st.stable.Close())
	}
	if st.log != nil {
		errs = append(errs, st.log.Close())
	}
	return errors.Join(errs...)
}

// RaftNode is one replica of the subnet log.
type RaftNode struct {
	raft      *raft.Raft
	transport *raft.NetworkTransport
	stores    *raftStores
	logger    logger.Logger

	hadState bool
	leaderCh chan bool
}

// NewRaftNode opens the stores in cfg.DataDir and starts Raft over fsm.
func NewRaftNode(cfg RaftConfig, fsm *FSM) (*RaftNode, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("raft: data_dir is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.SnapshotRetain <= 0 {
		cfg.SnapshotRetain = 3
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	hl := newHCLogger(cfg.Logger, "raft")

	var advertise net.Addr
	if cfg.AdvertiseAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", cfg.AdvertiseAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve advertise addr: %w", err)
		}
		advertise = addr
	}

	transport, err := raft.NewTCPTransportWithLogger(cfg.BindAddr, advertise, 3, 10*time.Second, hl.Named("transport"))
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	stores, err := openRaftStores(cfg.DataDir, cfg.SnapshotRetain, hl.Named("snapshot"))
	if err != nil {
		transport.Close()
		return nil, err
	}
	hadState, err := stores.hasState()
	if err != nil {
		stores.close()
		transport.Close()
		return nil, fmt.Errorf("check existing state: %w", err)
	}

	n := &RaftNode{
		transport: transport,
		stores:    stores,
		logger:    cfg.Logger,
		hadState:  hadState,
		leaderCh:  make(chan bool, 10),
	}

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.NodeID)
	rc.Logger = hl
	rc.NotifyCh = n.leaderCh
	rc.HeartbeatTimeout = time.Second
	rc.ElectionTimeout = time.Second
	rc.LeaderLeaseTimeout = 500 * time.Millisecond
	rc.CommitTimeout = 50 * time.Millisecond

	n.raft, err = raft.NewRaft(rc, fsm, stores.log, stores.stable, stores.snapshots, transport)
	if err != nil {
		stores.close()
		transport.Close()
		return nil, fmt.Errorf("create raft: %w", err)
	}

	if cfg.Bootstrap && !hadState {
		if err := n.bootstrap(cfg.NodeID); err != nil {
			n.Close()
			return nil, err
		}
	}

	cfg.Logger.Info("raft node started",
		"node_id", cfg.NodeID,
		"raft_addr", n.Addr(),
		"bootstrap", cfg.Bootstrap,
		"existing_state", hadState)
	return n, nil
}

func (n *RaftNode) bootstrap(nodeID string) error {
	self := raft.Server{
		Suffrage: raft.Voter,
		ID:       raft.ServerID(nodeID),
		Address:  n.transport.LocalAddr(),
	}
	err := n.raft.BootstrapCluster(raft.Configuration{Servers: []raft.Server{self}}).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		return fmt.Errorf("bootstrap cluster: %w", err)
	}
	n.logger.Info("raft cluster bootstrapped", "node_id", nodeID)
	return nil
}

// HasExistingState reports whether dataDir holds Raft logs or snapshots.
// It must run before NewRaftNode opens the same stores.
func HasExistingState(dataDir string) (bool, error) {
	if _, err := os.Stat(filepath.Join(dataDir, logStoreFile)); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	stores, err := openRaftStores(dataDir, 1, hclog.NewNullLogger())
	if err != nil {
		return false, err
	}
	defer stores.close()
	return stores.hasState()
}

// Apply replicates one log entry and returns the state machine's reply
// once it is applied here. The error is a replication failure, never a
// management reject.
func (n *RaftNode) Apply(data []byte, timeout time.Duration) (*service.Reply, error) {
	f := n.raft.Apply(data, timeout)
	if err := f.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return nil, fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	reply, ok := f.Response().(*service.Reply)
	if !ok {
		return nil, fmt.Errorf("raft apply: unexpected response %T", f.Response())
	}
	return reply, nil
}

// HadExistingState reports whether Raft found logs or snapshots on disk at
// startup.
func (n *RaftNode) HadExistingState() bool { return n.hadState }

// Addr returns the advertised Raft address.
func (n *RaftNode) Addr() string { return string(n.transport.LocalAddr()) }

func (n *RaftNode) IsLeader() bool { return n.raft.State() == raft.Leader }

// LeaderID returns the current leader's node id, or "" during an election.
func (n *RaftNode) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// WaitForLeader blocks until some node is leader or ctx is done.
func (n *RaftNode) WaitForLeader(ctx context.Context) error {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for n.LeaderID() == "" {
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for leader: %w", ctx.Err())
		case <-tick.C:
		}
	}
	return nil
}

// AddVoter adds a voting member. Only the leader can do this.
func (n *RaftNode) AddVoter(nodeID, addr string, timeout time.Duration) error {
	if err := n.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(addr), 0, timeout).Error(); err != nil {
		return fmt.Errorf("add voter %s: %w", nodeID, err)
	}
	return nil
}

// HasServer reports whether nodeID is in the latest configuration.
func (n *RaftNode) HasServer(nodeID string) bool {
	f := n.raft.GetConfiguration()
	if f.Error() != nil {
		return false
	}
	for _, s := range f.Configuration().Servers {
		if string(s.ID) == nodeID {
			return true
		}
	}
	return false
}

// Snapshot compacts the log. Having nothing new to snapshot is not an
// error.
func (n *RaftNode) Snapshot() error {
	if err := n.raft.Snapshot().Error(); err != nil && !errors.Is(err, raft.ErrNothingNewToSnapshot) {
		return fmt.Errorf("snapshot: %w", err)
	}
	return nil
}

// LeaderCh delivers true when this node becomes leader and false when it
// steps down.
func (n *RaftNode) LeaderCh() <-chan bool { return n.leaderCh }

// Close shuts Raft down, then closes the stores and the transport. Errors
// are logged; shutdown always runs to the end.
func (n *RaftNode) Close() error {
	if err := n.raft.Shutdown().Error(); err != nil {
		n.logger.Error("raft shutdown failed", "error", err)
	}
	if err := n.stores.close(); err != nil {
		n.logger.Error("close raft stores failed", "error", err)
	}
	if err := n.transport.Close(); err != nil {
		n.logger.Error("close raft transport failed", "error", err)
	}
	n.logger.Info("raft node stopped")
	return nil
}
