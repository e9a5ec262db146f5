package clusterserver

import (
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// NodeMeta is what a node gossips about itself: where to reach its Raft
// transport and its cluster RPC.
type NodeMeta struct {
	RaftAddr string `json:"raft_addr"`
	RPCAddr  string `json:"rpc_addr"`
}

// DiscoveryConfig configures gossip membership.
type DiscoveryConfig struct {
	NodeID   string
	BindAddr string
	BindPort int
	Meta     NodeMeta

	// OnJoin runs on the memberlist goroutine for every member seen,
	// including members that rejoin.
	OnJoin func(nodeID string, meta NodeMeta)

	Logger logger.Logger
}

// Discovery tracks subnet members over memberlist. Raft membership is
// separate; the server turns gossip joins into AddVoter calls.
type Discovery struct {
	nodeID string
	meta   []byte
	onJoin func(string, NodeMeta)
	logger logger.Logger
	ml     *memberlist.Memberlist

	mu      sync.RWMutex
	peers   map[string]NodeMeta
	stopped bool
}

// NewDiscovery starts the gossip listener. Call Join to contact seeds.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	d, err := newDiscovery(cfg)
	if err != nil {
		return nil, err
	}

	mc := memberlist.DefaultLANConfig()
	mc.Name = cfg.NodeID
	mc.BindAddr = cfg.BindAddr
	mc.BindPort = cfg.BindPort
	mc.Delegate = d
	mc.Events = d
	mc.LogOutput = &logWriter{logger: d.logger.With("component", "memberlist")}

	if d.ml, err = memberlist.Create(mc); err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	return d, nil
}

// newDiscovery builds the membership table without a gossip listener.
func newDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	meta, err := json.Marshal(cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode node meta: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node meta is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
	}
	return &Discovery{
		nodeID: cfg.NodeID,
		meta:   meta,
		onJoin: cfg.OnJoin,
		logger: cfg.Logger,
		peers:  make(map[string]NodeMeta),
	}, nil
}

// Join contacts the seeds and returns how many answered. A bootstrap node
// passes no seeds and waits to be joined.
func (d *Discovery) Join(seeds []string) (int, error) {
	if len(seeds) == 0 {
		d.logger.Info("gossip started without seeds", "node_id", d.nodeID)
		return 0, nil
	}
	n, err := d.ml.Join(seeds)
	if err != nil {
		return n, fmt.Errorf("join seed nodes: %w", err)
	}
	d.logger.Info("joined gossip", "node_id", d.nodeID, "seeds", seeds, "reached", n)
	return n, nil
}

// Members returns the live gossip members, this node included.
func (d *Discovery) Members() []*memberlist.Node {
	if d.ml == nil {
		return nil
	}
	return d.ml.Members()
}

// Peer returns the gossiped metadata of a member.
func (d *Discovery) Peer(nodeID string) (NodeMeta, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	m, ok := d.peers[nodeID]
	return m, ok
}

// Peers returns a copy of all member metadata keyed by node id.
func (d *Discovery) Peers() map[string]NodeMeta {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return maps.Clone(d.peers)
}

// Leave announces departure so peers stop probing this node.
func (d *Discovery) Leave() error {
	if d.ml == nil {
		return nil
	}
	if err := d.ml.Leave(0); err != nil {
		return fmt.Errorf("leave gossip: %w", err)
	}
	return nil
}

// Shutdown stops gossip. Calling it twice is safe.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	if d.stopped || d.ml == nil {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	if err := d.ml.Shutdown(); err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	return nil
}

// decodeMeta parses gossiped metadata. A node without metadata is assumed
// to run Raft on its gossip address.
func decodeMeta(node *memberlist.Node) (NodeMeta, error) {
	var meta NodeMeta
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			return NodeMeta{}, err
		}
	}
	if meta.RaftAddr == "" {
		meta.RaftAddr = net.JoinHostPort(node.Addr.String(), strconv.Itoa(int(node.Port)))
	}
	return meta, nil
}

// remember stores a member's metadata and reports whether it decoded.
func (d *Discovery) remember(node *memberlist.Node) (NodeMeta, bool) {
	meta, err := decodeMeta(node)
	if err != nil {
		d.logger.Warn("ignoring member with bad metadata", "node_id", node.Name, "error", err)
		return NodeMeta{}, false
	}
	d.mu.Lock()
	d.peers[node.Name] = meta
	d.mu.Unlock()
	return meta, true
}

// NotifyJoin implements memberlist.EventDelegate.
func (d *Discovery) NotifyJoin(node *memberlist.Node) {
	meta, ok := d.remember(node)
	if !ok {
		return
	}
	d.logger.Info("member joined", "node_id", node.Name, "raft_addr", meta.RaftAddr, "rpc_addr", meta.RPCAddr)
	if d.onJoin != nil {
		d.onJoin(node.Name, meta)
	}
}

// NotifyLeave implements memberlist.EventDelegate. The member stays in
// the Raft configuration; a restarted node rejoins with the same id.
func (d *Discovery) NotifyLeave(node *memberlist.Node) {
	d.mu.Lock()
	delete(d.peers, node.Name)
	d.mu.Unlock()
	d.logger.Info("member left", "node_id", node.Name)
}

// NotifyUpdate implements memberlist.EventDelegate.
func (d *Discovery) NotifyUpdate(node *memberlist.Node) {
	d.remember(node)
}

// NodeMeta implements memberlist.Delegate.
func (d *Discovery) NodeMeta(limit int) []byte {
	if len(d.meta) > limit {
		return nil
	}
	return d.meta
}

// The rest of memberlist.Delegate is unused: all replicated state travels
// through Raft.

func (d *Discovery) NotifyMsg([]byte)                           {}
func (d *Discovery) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (d *Discovery) LocalState(join bool) []byte                { return nil }
func (d *Discovery) MergeRemoteState(buf []byte, join bool)     {}

var (
	_ memberlist.Delegate      = (*Discovery)(nil)
	_ memberlist.EventDelegate = (*Discovery)(nil)
)
