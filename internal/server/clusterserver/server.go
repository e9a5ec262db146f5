package clusterserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// ErrNoLeader is returned when a request arrives while no leader is known.
var ErrNoLeader = errors.New("no cluster leader")

// Node executes requests against the replicated subnet state. Server and
// LocalNode implement it.
type Node interface {
	// Submit replicates a request and returns its reply. Rejected
	// requests are replies; the error reports replication failures.
	Submit(ctx context.Context, in *service.Ingress) (*service.Reply, error)

	// Query runs a read-only method against the local replica.
	Query(ctx context.Context, in *service.Ingress) *service.Reply

	// EndRound closes the current execution round.
	EndRound(ctx context.Context, batchTime uint64) (*service.Reply, error)

	IsLeader() bool
	Status() NodeStatus
	FSM() *FSM
}

// NodeStatus summarizes a node for the admin API.
type NodeStatus struct {
	NodeID       string        `json:"node_id"`
	Leader       bool          `json:"leader"`
	LeaderID     string        `json:"leader_id,omitempty"`
	AppliedIndex uint64        `json:"applied_index"`
	Members      int           `json:"members"`
	State        service.Stats `json:"state"`
}

// Server is a cluster member. It runs Raft over the subnet state machine,
// gossips membership, and serves the cluster RPC used to forward requests
// to the leader.
type Server struct {
	cfg    Config
	fsm    *FSM
	logger logger.Logger

	raft      *RaftNode
	discovery *Discovery
	client    *rpcClient

	listener net.Listener
	http     *http.Server

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewServer creates a cluster server around fsm. Call Start to join.
func NewServer(cfg Config, fsm *FSM) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid cluster config: %w", err)
	}
	if fsm == nil {
		return nil, errors.New("fsm is required")
	}
	return &Server{
		cfg:    cfg,
		fsm:    fsm,
		logger: cfg.Logger.With("component", "cluster", "node_id", cfg.NodeID),
		client: newRPCClient(cfg.ApplyTimeout),
		stopCh: make(chan struct{}),
	}, nil
}

// Start brings up Raft, the RPC listener and gossip, then joins the
// cluster through the seed nodes.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("cluster server already started")
	}

	rn, err := NewRaftNode(RaftConfig{
		NodeID:    s.cfg.NodeID,
		BindAddr:  s.cfg.RaftBindAddr,
		DataDir:   s.cfg.RaftDataDir,
		Bootstrap: s.cfg.Bootstrap,
		Logger:    s.cfg.Logger,
	}, s.fsm)
	if err != nil {
		return err
	}
	s.raft = rn

	ln, err := net.Listen("tcp", s.cfg.RPCAddr)
	if err != nil {
		s.raft.Close()
		s.raft = nil
		return fmt.Errorf("listen rpc %s: %w", s.cfg.RPCAddr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           newRPCMux(s, s.logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("cluster rpc server stopped", "error", err)
		}
	}()

	d, err := NewDiscovery(DiscoveryConfig{
		NodeID:   s.cfg.NodeID,
		BindAddr: s.cfg.GossipBindAddr,
		BindPort: s.cfg.GossipBindPort,
		Meta:     NodeMeta{RaftAddr: rn.Addr(), RPCAddr: ln.Addr().String()},
		OnJoin:   s.onMemberJoin,
		Logger:   s.cfg.Logger,
	})
	if err != nil {
		s.shutdownTransport()
		return err
	}
	s.discovery = d

	if _, err := d.Join(s.cfg.SeedNodes); err != nil {
		if !s.cfg.Bootstrap {
			s.shutdownTransport()
			return err
		}
		s.logger.Warn("seed nodes unreachable, continuing as bootstrap node", "error", err)
	}

	s.wg.Add(1)
	go s.leadershipLoop()

	if !s.cfg.Bootstrap && !rn.HadExistingState() {
		s.wg.Add(1)
		go s.joinLoop(ctx)
	}

	s.started = true
	s.logger.Info("cluster server started",
		"raft_addr", rn.Addr(),
		"rpc_addr", ln.Addr().String(),
		"bootstrap", s.cfg.Bootstrap)
	return nil
}

// Stop leaves the gossip pool and shuts down Raft and the RPC listener.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.discovery != nil {
			_ = s.discovery.Leave()
		}
		if s.http != nil {
			if e := s.http.Shutdown(ctx); e != nil {
				err = errors.Join(err, e)
			}
		}
		if s.discovery != nil {
			err = errors.Join(err, s.discovery.Shutdown())
		}
		if s.raft != nil {
			err = errors.Join(err, s.raft.Close())
		}
		s.wg.Wait()
	})
	return err
}

// shutdownTransport undoes a partial Start.
func (s *Server) shutdownTransport() {
	if s.http != nil {
		_ = s.http.Close()
		s.http = nil
	}
	if s.discovery != nil {
		_ = s.discovery.Shutdown()
		s.discovery = nil
	}
	_ = s.raft.Close()
	s.raft = nil
}

// Submit replicates in through the leader. A follower forwards the
// request over the cluster RPC.
func (s *Server) Submit(ctx context.Context, in *service.Ingress) (*service.Reply, error) {
	if s.raft == nil {
		return nil, ErrNoLeader
	}
	if s.raft.IsLeader() {
		return s.applyLocal(ctx, in)
	}

	_, addr := s.leaderInfo()
	if addr == "" {
		return nil, ErrNoLeader
	}
	return s.client.Submit(ctx, addr, in)
}

// Query reads from the local replica. Followers may lag the leader.
func (s *Server) Query(ctx context.Context, in *service.Ingress) *service.Reply {
	return s.fsm.Query(ctx, in)
}

// EndRound replicates an end_round entry.
func (s *Server) EndRound(ctx context.Context, batchTime uint64) (*service.Reply, error) {
	return s.Submit(ctx, &service.Ingress{Method: management.MethodEndRound, BatchTime: batchTime})
}

// IsLeader reports whether this node is the Raft leader.
func (s *Server) IsLeader() bool {
	return s.raft != nil && s.raft.IsLeader()
}

// FSM returns the local state machine.
func (s *Server) FSM() *FSM { return s.fsm }

// Raft returns the Raft node. It is nil before Start.
func (s *Server) Raft() *RaftNode { return s.raft }

// Status returns the node summary.
func (s *Server) Status() NodeStatus {
	st := NodeStatus{
		NodeID:       s.cfg.NodeID,
		AppliedIndex: s.fsm.AppliedIndex(),
		State:        s.fsm.Stats(),
	}
	if s.raft != nil {
		st.Leader = s.raft.IsLeader()
		st.LeaderID = s.raft.LeaderID()
	}
	if s.discovery != nil {
		st.Members = len(s.discovery.Members())
	}
	return st
}

func (s *Server) applyLocal(_ context.Context, in *service.Ingress) (*service.Reply, error) {
	var (
		data []byte
		err  error
	)
	if in.Method == management.MethodEndRound && len(in.Sender) == 0 {
		data, err = EncodeEndRound(in.BatchTime)
	} else {
		data, err = EncodeIngress(in)
	}
	if err != nil {
		return nil, err
	}
	return s.raft.Apply(data, s.cfg.ApplyTimeout)
}

// leaderInfo returns the leader's node ID and cluster RPC address.
func (s *Server) leaderInfo() (string, string) {
	id := s.raft.LeaderID()
	if id == "" {
		return "", ""
	}
	if id == s.cfg.NodeID {
		return id, s.listener.Addr().String()
	}
	if s.discovery != nil {
		if meta, ok := s.discovery.Peer(id); ok {
			return id, meta.RPCAddr
		}
	}
	return id, ""
}

func (s *Server) addVoter(nodeID, raftAddr, _ string) error {
	if s.raft.HasServer(nodeID) {
		return nil
	}
	return s.raft.AddVoter(nodeID, raftAddr, s.cfg.ApplyTimeout)
}

// onMemberJoin adds gossiped members to Raft when this node leads.
func (s *Server) onMemberJoin(nodeID string, meta NodeMeta) {
	if nodeID == s.cfg.NodeID || s.raft == nil || !s.raft.IsLeader() {
		return
	}
	if err := s.addVoter(nodeID, meta.RaftAddr, meta.RPCAddr); err != nil {
		s.logger.Warn("failed to add gossiped member as voter",
			"member", nodeID,
			"error", err)
	}
}

// leadershipLoop drains leadership notifications. A new leader
// reconciles gossip membership into the Raft configuration.
func (s *Server) leadershipLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case isLeader := <-s.raft.LeaderCh():
			if !isLeader {
				s.logger.Info("lost leadership")
				continue
			}
			s.logger.Info("gained leadership")
			if s.discovery == nil {
				continue
			}
			for id, meta := range s.discovery.Peers() {
				s.onMemberJoin(id, meta)
			}
		}
	}
}

// joinLoop asks known members to add this node until one leader accepts.
func (s *Server) joinLoop(ctx context.Context) {
	defer s.wg.Done()

	req := &JoinRequest{
		NodeID:   s.cfg.NodeID,
		RaftAddr: s.raft.Addr(),
		RPCAddr:  s.listener.Addr().String(),
	}
	backoff := 500 * time.Millisecond
	attempts := 0

	for {
		if s.raft.HasServer(s.cfg.NodeID) && s.raft.LeaderID() != "" {
			s.logger.Info("joined raft cluster", "attempts", attempts)
			return
		}
		attempts++

		for id, meta := range s.discovery.Peers() {
			if id == s.cfg.NodeID || meta.RPCAddr == "" {
				continue
			}
			resp, err := s.client.Join(ctx, meta.RPCAddr, req)
			if err != nil {
				s.logger.Debug("join attempt failed", "peer", id, "error", err)
				continue
			}
			if resp.Accepted {
				break
			}
			if resp.LeaderRPCAddr != "" {
				if resp, err := s.client.Join(ctx, resp.LeaderRPCAddr, req); err == nil && resp.Accepted {
					break
				}
			}
		}

		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

// LocalNode runs the state machine in-process without Raft. It serves
// single-node deployments and tests.
type LocalNode struct {
	mu    sync.Mutex
	fsm   *FSM
	index uint64
	id    string
}

// NewLocalNode wraps fsm.
func NewLocalNode(nodeID string, fsm *FSM) *LocalNode {
	return &LocalNode{fsm: fsm, id: nodeID}
}

// Submit applies in directly, in the same encoding Raft would carry.
func (n *LocalNode) Submit(_ context.Context, in *service.Ingress) (*service.Reply, error) {
	data, err := EncodeIngress(in)
	if err != nil {
		return nil, err
	}
	return n.apply(data), nil
}

func (n *LocalNode) apply(data []byte) *service.Reply {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.index++
	return n.fsm.Apply(&raft.Log{Index: n.index, Term: 1, Type: raft.LogCommand, Data: data}).(*service.Reply)
}

// Query runs a read-only method.
func (n *LocalNode) Query(ctx context.Context, in *service.Ingress) *service.Reply {
	return n.fsm.Query(ctx, in)
}

// EndRound closes the current round.
func (n *LocalNode) EndRound(_ context.Context, batchTime uint64) (*service.Reply, error) {
	data, err := EncodeEndRound(batchTime)
	if err != nil {
		return nil, err
	}
	return n.apply(data), nil
}

// IsLeader is always true for a local node.
func (n *LocalNode) IsLeader() bool { return true }

// FSM returns the state machine.
func (n *LocalNode) FSM() *FSM { return n.fsm }

// Status returns the node summary.
func (n *LocalNode) Status() NodeStatus {
	return NodeStatus{
		NodeID:       n.id,
		Leader:       true,
		LeaderID:     n.id,
		AppliedIndex: n.fsm.AppliedIndex(),
		Members:      1,
		State:        n.fsm.Stats(),
	}
}

var (
	_ Node = (*Server)(nil)
	_ Node = (*LocalNode)(nil)
)
