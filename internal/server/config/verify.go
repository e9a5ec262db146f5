package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"

	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
)

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	if err := verifySubnet(&cfg.Subnet); err != nil {
		return err
	}
	if err := verifySecurity(&cfg.Security); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyServer(cfg *ServerSection) error {
	if err := verifyAddr("server.http.addr", cfg.HTTP.Addr); err != nil {
		return err
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	for _, f := range []string{cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("server.http: %w", err)
		}
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	if cfg.HTTP.RateLimit > 0 && cfg.HTTP.Burst < 1 {
		return errors.New("server.http.burst must be at least 1 when rate_limit is set")
	}
	for _, entry := range cfg.HTTP.AdminAllowList {
		if strings.Contains(entry, "/") {
			if _, err := netip.ParsePrefix(entry); err != nil {
				return fmt.Errorf("server.http.admin_allow_list: %w", err)
			}
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("server.http.admin_allow_list: %w", err)
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	if cfg.CheckpointKeep < 1 {
		return errors.New("storage.checkpoint_keep must be at least 1")
	}

	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if !cfg.Enabled {
		return nil
	}
	if err := verifyAddr("cluster.raft_addr", cfg.RaftAddr); err != nil {
		return err
	}
	if err := verifyAddr("cluster.rpc_addr", cfg.RPCAddr); err != nil {
		return err
	}
	if cfg.Bootstrap && len(cfg.Seeds) > 0 {
		return errors.New("cluster.bootstrap and cluster.seeds are mutually exclusive")
	}
	if cfg.GossipPort < 0 || cfg.GossipPort > 65535 {
		return fmt.Errorf("cluster.gossip_port %d out of range", cfg.GossipPort)
	}
	if cfg.ApplyTimeout <= 0 {
		return errors.New("cluster.apply_timeout must be positive")
	}
	return nil
}

func verifySubnet(cfg *SubnetSection) error {
	if cfg.MemoryCapacity == 0 {
		return errors.New("subnet.memory_capacity must be positive")
	}
	if cfg.ReservationThreshold > cfg.MemoryCapacity {
		return fmt.Errorf("subnet.reservation_threshold (%d) exceeds memory_capacity (%d)",
			cfg.ReservationThreshold, cfg.MemoryCapacity)
	}
	if cfg.MaxSnapshotsPerCanister < 1 {
		return errors.New("subnet.max_snapshots_per_canister must be at least 1")
	}
	if cfg.HeapDeltaRateLimit == 0 {
		return errors.New("subnet.heap_delta_rate_limit must be positive")
	}
	if cfg.MaxHistoryEntries < 1 {
		return errors.New("subnet.max_history_entries must be at least 1")
	}
	return nil
}

func verifySecurity(cfg *SecuritySection) error {
	switch cfg.SealAlgorithm {
	case "", checkpoint.AlgChaCha20Poly1305, checkpoint.AlgAESGCM:
	default:
		return fmt.Errorf("security.seal_algorithm %q is not supported", cfg.SealAlgorithm)
	}
	if cfg.EncryptionKey == "" {
		return nil
	}
	if _, err := checkpoint.ParseKey(cfg.EncryptionKey); err != nil {
		return fmt.Errorf("security.encryption_key: %w", err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not supported", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
	default:
		return fmt.Errorf("log.format %q is not supported", cfg.Format)
	}
	switch cfg.Backend {
	case "", "slog", "zap":
	default:
		return fmt.Errorf("log.backend %q is not supported", cfg.Backend)
	}
	return nil
}

func verifyAddr(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}
