package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/server/config"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
	"github.com/yndnr/snapmesh-go/internal/telemetry/metric"
)

var alice = domain.PrincipalID([]byte{0xa1, 0x1c, 0xe0})

func newTestCheckpointer(t *testing.T, interval uint64) (*checkpointer, *clusterserver.LocalNode) {
	t.Helper()
	mgr, err := checkpoint.NewManager(checkpoint.Config{Dir: t.TempDir(), NodeID: "test"})
	require.NoError(t, err)

	metrics := metric.NewRegistry()
	cp := &checkpointer{
		mgr:      mgr,
		metrics:  metrics,
		interval: interval,
		logger:   logger.NewNop(),
		rounds:   make(chan struct{}, 1),
	}
	cp.fsm = clusterserver.NewFSM(config.ToStateConfig(config.Default()),
		clusterserver.WithFSMLogger(logger.NewNop()),
		clusterserver.WithObserver(roundObserver{Observer: metrics, onRound: cp.notify}),
	)
	return cp, clusterserver.NewLocalNode("test", cp.fsm)
}

func createCanister(t *testing.T, node clusterserver.Node) {
	t.Helper()
	reply, err := node.Submit(context.Background(), &service.Ingress{
		Sender:    alice,
		Method:    management.MethodCreateCanister,
		Payload:   (&management.CreateCanisterArgs{Cycles: 1_000_000_000_000}).Marshal(),
		BatchTime: 1,
	})
	require.NoError(t, err)
	require.NoError(t, reply.Err())
}

func TestCheckpointer_Checkpoint(t *testing.T) {
	cp, node := newTestCheckpointer(t, 0)
	createCanister(t, node)

	info, err := cp.Checkpoint()
	require.NoError(t, err)
	if info.CanisterCount != 1 || info.Size == 0 {
		t.Errorf("info = %+v", info)
	}

	infos, err := cp.mgr.List()
	require.NoError(t, err)
	if len(infos) != 1 {
		t.Errorf("checkpoints = %d, want 1", len(infos))
	}
}

func TestCheckpointer_Due(t *testing.T) {
	tests := []struct {
		interval, last, round uint64
		want                  bool
	}{
		{0, 0, 100, false},
		{5, 0, 4, false},
		{5, 0, 5, true},
		{5, 10, 14, false},
		{5, 10, 16, true},
	}
	for _, tt := range tests {
		cp := &checkpointer{interval: tt.interval, lastRound: tt.last}
		if got := cp.due(tt.round); got != tt.want {
			t.Errorf("due(%d) with interval %d last %d = %v, want %v", tt.round, tt.interval, tt.last, got, tt.want)
		}
	}
}

type countingObserver struct{ applied int }

func (o *countingObserver) ObserveApply(string, string, time.Duration) { o.applied++ }
func (o *countingObserver) ObserveSnapshotOp(string)                   {}
func (o *countingObserver) ObserveFlushError()                         {}

func TestRoundObserver(t *testing.T) {
	inner := &countingObserver{}
	var rounds int
	o := roundObserver{Observer: inner, onRound: func() { rounds++ }}

	o.ObserveApply(management.MethodEndRound, "", time.Millisecond)
	o.ObserveApply(management.MethodEndRound, domain.CodeCanisterRejectedMessage, time.Millisecond)
	o.ObserveApply(management.MethodCreateCanister, "", time.Millisecond)

	if inner.applied != 3 {
		t.Errorf("inner applied = %d, want 3", inner.applied)
	}
	if rounds != 1 {
		t.Errorf("rounds = %d, want 1", rounds)
	}
}

func TestCheckpointer_RunEveryInterval(t *testing.T) {
	cp, node := newTestCheckpointer(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cp.run(ctx)

	for i := uint64(1); i <= 2; i++ {
		reply, err := node.EndRound(ctx, i*10)
		require.NoError(t, err)
		require.NoError(t, reply.Err())
	}

	require.Eventually(t, func() bool {
		infos, err := cp.mgr.List()
		return err == nil && len(infos) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.lastRound != 2 {
		t.Errorf("lastRound = %d, want 2", cp.lastRound)
	}
}

func TestRestoreCheckpoint(t *testing.T) {
	cp, node := newTestCheckpointer(t, 0)

	fresh := clusterserver.NewFSM(config.ToStateConfig(config.Default()), clusterserver.WithFSMLogger(logger.NewNop()))
	require.NoError(t, restoreCheckpoint(cp.mgr, fresh, logger.NewNop()))
	if fresh.Stats().Canisters != 0 {
		t.Error("no checkpoint should leave the state empty")
	}

	createCanister(t, node)
	_, err := cp.Checkpoint()
	require.NoError(t, err)

	require.NoError(t, restoreCheckpoint(cp.mgr, fresh, logger.NewNop()))
	if got, want := fresh.Stats(), cp.fsm.Stats(); got != want {
		t.Errorf("restored stats = %+v, want %+v", got, want)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.yaml")
	yaml := "storage:\n  data_dir: " + filepath.Join(dir, "data") + "\nlog:\n  level: warn\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	t.Setenv("SNAPMESH_SUBNET__MAX_SNAPSHOTS_PER_CANISTER", "4")
	t.Setenv("SNAPMESH_SERVER__HTTP__ADMIN_ALLOW_LIST", "10.0.0.1,192.168.0.0/16")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Subnet.MaxSnapshotsPerCanister != 4 {
		t.Errorf("MaxSnapshotsPerCanister = %d, want 4", cfg.Subnet.MaxSnapshotsPerCanister)
	}
	require.Equal(t, []string{"10.0.0.1", "192.168.0.0/16"}, cfg.Server.HTTP.AdminAllowList)

	require.NoError(t, os.WriteFile(path, []byte(yaml+"server:\n  http:\n    addr: nope\n"), 0600))
	if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("loadConfig(bad addr) = %v", err)
	}

	require.NoError(t, os.WriteFile(path, []byte(yaml+"subnet:\n  max_snapshot_per_canister: 3\n"), 0600))
	if _, err := loadConfig(path); err == nil || !strings.Contains(err.Error(), "subnet.max_snapshot_per_canister") {
		t.Errorf("loadConfig(typo) = %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf

	require.NoError(t, app.Run([]string{"snapmesh-server", "version", "--json"}))
	var info buildinfo.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &info))
	if info.Version != buildinfo.Version || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestCheckpointCommands(t *testing.T) {
	cp, node := newTestCheckpointer(t, 0)
	createCanister(t, node)
	info, err := cp.Checkpoint()
	require.NoError(t, err)

	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf

	require.NoError(t, app.Run([]string{"snapmesh-server", "checkpoint", "inspect", info.Path}))
	var got checkpoint.Info
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	if got.Fingerprint != info.Fingerprint || got.CanisterCount != 1 {
		t.Errorf("inspect = %+v, want fingerprint %s", got, info.Fingerprint)
	}

	buf.Reset()
	require.NoError(t, app.Run([]string{"snapmesh-server", "checkpoint", "list", filepath.Dir(info.Path)}))
	if !strings.Contains(buf.String(), info.ID) {
		t.Errorf("list output missing %s:\n%s", info.ID, buf.String())
	}
}
