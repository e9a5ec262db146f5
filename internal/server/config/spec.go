package config

import "time"

// ServerConfig is the root configuration for snapmesh-server.
type ServerConfig struct {
	Server   ServerSection   `koanf:"server"`
	Storage  StorageSection  `koanf:"storage"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Subnet   SubnetSection   `koanf:"subnet"`
	Security SecuritySection `koanf:"security"`
	Log      LogSection      `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// RateLimit is the per-client request rate in requests per second.
	// Zero disables throttling.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`

	// AdminAllowList restricts /admin/ to these IPs or CIDR blocks.
	// Empty allows every client.
	AdminAllowList []string `koanf:"admin_allow_list"`

	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// StorageSection configures on-disk state.
type StorageSection struct {
	DataDir string `koanf:"data_dir"`

	// CheckpointIntervalRounds writes a checkpoint every N completed rounds.
	// Zero writes checkpoints only on shutdown and on demand.
	CheckpointIntervalRounds uint64 `koanf:"checkpoint_interval_rounds"`

	// CheckpointKeep is how many checkpoint files are retained.
	CheckpointKeep int `koanf:"checkpoint_keep"`

	// Mirror enables the Badger snapshot mirror under data_dir/mirror.
	Mirror bool `koanf:"mirror"`
}

// ClusterSection configures Raft replication.
type ClusterSection struct {
	// Enabled runs the state machine behind Raft. When false the node
	// applies requests locally.
	Enabled bool `koanf:"enabled"`

	// NodeID is the unique identifier for this node.
	// If empty, a random ID is generated at startup.
	NodeID string `koanf:"node_id"`

	// RaftAddr is the Raft TCP bind address (e.g., "192.168.1.10:5343").
	RaftAddr string `koanf:"raft_addr"`

	// RPCAddr serves leader forwarding and join requests.
	RPCAddr string `koanf:"rpc_addr"`

	// GossipAddr is the Gossip TCP/UDP bind address (e.g., "192.168.1.10").
	GossipAddr string `koanf:"gossip_addr"`

	// GossipPort is the Gossip bind port (e.g., 5344).
	GossipPort int `koanf:"gossip_port"`

	// Bootstrap indicates if this node bootstraps a new cluster.
	// Mutually exclusive with Seeds.
	Bootstrap bool `koanf:"bootstrap"`

	// Seeds are gossip addresses of existing members.
	Seeds []string `koanf:"seeds"`

	// DataDir is the directory for Raft log and snapshot storage.
	DataDir string `koanf:"data_dir"`

	// ApplyTimeout bounds how long a request waits for commit.
	ApplyTimeout time.Duration `koanf:"apply_timeout"`
}

// SubnetSection holds the replicated execution parameters. Every replica
// must run with the same values.
type SubnetSection struct {
	MaxSnapshotsPerCanister int `koanf:"max_snapshots_per_canister"`

	// HeapDeltaRateLimit is the per-canister heap delta allowance per round.
	HeapDeltaRateLimit uint64 `koanf:"heap_delta_rate_limit"`

	// SubnetHeapDeltaCapacity caps heap delta per round subnet-wide.
	// Zero disables the subnet check.
	SubnetHeapDeltaCapacity uint64 `koanf:"subnet_heap_delta_capacity"`

	MemoryCapacity               uint64 `koanf:"memory_capacity"`
	ReservationThreshold         uint64 `koanf:"reservation_threshold"`
	ReservationCyclesPerByte     uint64 `koanf:"reservation_cycles_per_byte"`
	SnapshotBaselineInstructions uint64 `koanf:"snapshot_baseline_instructions"`
	ExecutionBaseFee             uint64 `koanf:"execution_base_fee"`
	CyclesPerInstruction         uint64 `koanf:"cycles_per_instruction"`
	MaxHistoryEntries            int    `koanf:"max_history_entries"`
}

// SecuritySection configures checkpoint sealing.
type SecuritySection struct {
	// EncryptionKey is the hex master key for sealing checkpoints.
	// Empty writes checkpoints in the clear.
	EncryptionKey string `koanf:"encryption_key"`

	// SealAlgorithm is "chacha20-poly1305" (default) or "aes-gcm".
	SealAlgorithm string `koanf:"seal_algorithm"`
}

// LogSection configures logging.
type LogSection struct {
	Level   string `koanf:"level"`
	Format  string `koanf:"format"`
	Backend string `koanf:"backend"`
}
