package clusterserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// captureLogger records messages by level.
type captureLogger struct {
	mu    *sync.Mutex
	lines map[string][]string
	args  []any
}

func newCaptureLogger() *captureLogger {
	return &captureLogger{mu: &sync.Mutex{}, lines: make(map[string][]string)}
}

func (c *captureLogger) record(level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[level] = append(c.lines[level], msg)
}

func (c *captureLogger) count(level string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines[level])
}

func (c *captureLogger) Debug(msg string, args ...any) { c.record("debug", msg) }
func (c *captureLogger) Info(msg string, args ...any)  { c.record("info", msg) }
func (c *captureLogger) Warn(msg string, args ...any)  { c.record("warn", msg) }
func (c *captureLogger) Error(msg string, args ...any) { c.record("error", msg) }

func (c *captureLogger) With(args ...any) logger.Logger {
	return &captureLogger{mu: c.mu, lines: c.lines, args: append(append([]any(nil), c.args...), args...)}
}

func (c *captureLogger) WithContext(ctx context.Context) logger.Logger { return c }

func TestHCLogger_Levels(t *testing.T) {
	capture := newCaptureLogger()
	l := newHCLogger(capture, "raft")

	l.Trace("trace")
	l.Debug("debug")
	l.Info("info")
	l.Warn("warn")
	l.Error("error")
	l.Log(hclog.Off, "dropped")

	tests := []struct {
		level string
		want  int
	}{
		{"debug", 2},
		{"info", 1},
		{"warn", 1},
		{"error", 1},
	}
	for _, tt := range tests {
		if got := capture.count(tt.level); got != tt.want {
			t.Errorf("%s lines = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestHCLogger_Naming(t *testing.T) {
	var l hclog.Logger = newHCLogger(newCaptureLogger(), "raft")

	if got := l.Named("transport").Name(); got != "raft.transport" {
		t.Errorf("Named = %q, want raft.transport", got)
	}
	if got := l.ResetNamed("snapshot").Name(); got != "snapshot" {
		t.Errorf("ResetNamed = %q, want snapshot", got)
	}

	w := l.With("peer", "n2")
	if got := w.ImpliedArgs(); len(got) != 2 || got[0] != "peer" {
		t.Errorf("ImpliedArgs = %v", got)
	}
	if len(l.ImpliedArgs()) != 0 {
		t.Error("With must not modify the parent logger")
	}
}

func TestHCLogger_FollowsGlobalLevel(t *testing.T) {
	prev := logger.GetLevel()
	t.Cleanup(func() { logger.SetLevel(prev) })

	l := newHCLogger(newCaptureLogger(), "raft")

	logger.SetLevel("warn")
	if l.IsInfo() {
		t.Error("IsInfo should be false at warn level")
	}
	if !l.IsWarn() {
		t.Error("IsWarn should be true at warn level")
	}

	logger.SetLevel("debug")
	if !l.IsDebug() {
		t.Error("IsDebug should be true at debug level")
	}
}

func TestLogWriter(t *testing.T) {
	capture := newCaptureLogger()
	w := &logWriter{logger: capture}

	lines := []string{
		"[ERR] memberlist: failed to send",
		"[WARN] memberlist: refuting suspect",
		"[INFO] memberlist: marking node dead",
		"[DEBUG] memberlist: stream connection",
	}
	for _, line := range lines {
		n, err := w.Write([]byte(line + "\n"))
		if err != nil || n != len(line)+1 {
			t.Errorf("Write(%q) = %d, %v", line, n, err)
		}
	}

	for _, level := range []string{"error", "warn", "info", "debug"} {
		if got := capture.count(level); got != 1 {
			t.Errorf("%s lines = %d, want 1", level, got)
		}
	}
}

func TestNewRaftNode_RequiresDataDir(t *testing.T) {
	if _, err := NewRaftNode(RaftConfig{NodeID: "n1", BindAddr: "127.0.0.1:0"}, newTestFSM()); err == nil {
		t.Error("expected error for empty data dir")
	}
}

func TestHasExistingState_EmptyDir(t *testing.T) {
	had, err := HasExistingState(t.TempDir())
	if err != nil || had {
		t.Errorf("HasExistingState = %v, %v, want false, nil", had, err)
	}
}

func TestRaftNode_SingleNodeBootstrap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft election in short mode")
	}

	dir := t.TempDir()
	fsm := newTestFSM()
	node, err := NewRaftNode(RaftConfig{
		NodeID:    "n1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   dir,
		Bootstrap: true,
		Logger:    logger.NewNop(),
	}, fsm)
	if err != nil {
		t.Fatalf("NewRaftNode: %v", err)
	}
	closed := false
	t.Cleanup(func() {
		if !closed {
			node.Close()
		}
	})

	if node.HadExistingState() {
		t.Error("fresh data dir should have no state")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := node.WaitForLeader(ctx); err != nil {
		t.Fatalf("WaitForLeader: %v", err)
	}
	if !node.IsLeader() || node.LeaderID() != "n1" {
		t.Fatalf("IsLeader = %v, LeaderID = %q", node.IsLeader(), node.LeaderID())
	}
	if !node.HasServer("n1") {
		t.Error("configuration should contain n1")
	}

	data, err := EncodeIngress(&service.Ingress{
		Sender:    alice,
		Method:    management.MethodCreateCanister,
		Payload:   (&management.CreateCanisterArgs{Cycles: 1_000_000}).Marshal(),
		BatchTime: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	reply, err := node.Apply(data, 5*time.Second)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := reply.Err(); err != nil {
		t.Fatalf("create_canister: %v", err)
	}
	if fsm.Stats().Canisters != 1 {
		t.Error("canister should exist after apply")
	}

	if err := node.Snapshot(); err != nil {
		t.Errorf("Snapshot: %v", err)
	}
	closed = true
	if err := node.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	had, err := HasExistingState(dir)
	if err != nil || !had {
		t.Errorf("HasExistingState after run = %v, %v, want true, nil", had, err)
	}
}
