package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/ledger"
	"github.com/yndnr/snapmesh-go/internal/core/ratelimit"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

var (
	alice = domain.PrincipalID([]byte{0xa1, 0x1c, 0xe0})
	bob   = domain.PrincipalID([]byte{0xb0, 0xb0})
)

func testStateConfig() service.StateConfig {
	return service.StateConfig{
		Manager: service.ManagerConfig{
			MaxSnapshotsPerCanister: 3,
			BaselineInstructions:    100,
		},
		Ledger: ledger.Config{
			MemoryCapacity:       1 << 30,
			ReservationThreshold: 1 << 30,
			Costs: &ledger.DefaultCostSchedule{
				ExecutionBaseFee:         1000,
				CyclesPerInstruction:     1,
				ReservationCyclesPerByte: 1,
			},
		},
		Limiter: ratelimit.Config{PerCanisterLimit: 1 << 40},
	}
}

// testHandler returns a handler over a single-node FSM with a fixed clock.
func testHandler(cp Checkpointer) (*Handler, *clusterserver.LocalNode) {
	fsm := clusterserver.NewFSM(testStateConfig(), clusterserver.WithFSMLogger(logger.NewNop()))
	node := clusterserver.NewLocalNode("local", fsm)
	h := New(node, cp, logger.NewNop())
	var tick int64
	h.now = func() time.Time {
		tick++
		return time.Unix(0, 1_000_000+tick)
	}
	return h, node
}

type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func do(t *testing.T, h http.Handler, method, path string, sender domain.PrincipalID, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req = httptest.NewRequest(method, path, &buf)
	}
	if !sender.IsEmpty() {
		req.Header.Set(SenderHeader, sender.String())
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "body: %s", rec.Body.String())
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

// installedCanister creates a canister owned by alice with a 64-byte heap.
func installedCanister(t *testing.T, h http.Handler) string {
	t.Helper()
	rec, env := do(t, h, "POST", "/admin/v1/canisters", alice, CreateCanisterRequest{Cycles: 1_000_000_000})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	id := decodeData[CreateCanisterResponse](t, env).CanisterID

	rec, env = do(t, h, "PUT", "/admin/v1/canisters/"+id+"/state", alice, InstallStateRequest{
		Binary: []byte("\x00asm"),
		Heap:   make([]byte, 64),
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	return id
}

func TestHandler_Health(t *testing.T) {
	h, _ := testHandler(nil)

	rec, env := do(t, h, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK || env.Code != "OK" {
		t.Errorf("GET /health = %d %s", rec.Code, env.Code)
	}
	if got := decodeData[map[string]string](t, env)["status"]; got != "healthy" {
		t.Errorf("status = %q, want healthy", got)
	}

	rec, _ = do(t, h, "GET", "/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", rec.Code)
	}
}

// leaderlessNode is a node that has lost its leader.
type leaderlessNode struct {
	*clusterserver.LocalNode
}

func (n leaderlessNode) Submit(context.Context, *service.Ingress) (*service.Reply, error) {
	return nil, clusterserver.ErrNoLeader
}

func (n leaderlessNode) EndRound(context.Context, uint64) (*service.Reply, error) {
	return nil, clusterserver.ErrNoLeader
}

func (n leaderlessNode) IsLeader() bool { return false }

func (n leaderlessNode) Status() clusterserver.NodeStatus {
	st := n.LocalNode.Status()
	st.Leader = false
	st.LeaderID = ""
	return st
}

func TestHandler_NoLeader(t *testing.T) {
	fsm := clusterserver.NewFSM(testStateConfig(), clusterserver.WithFSMLogger(logger.NewNop()))
	h := New(leaderlessNode{clusterserver.NewLocalNode("n2", fsm)}, nil, logger.NewNop())

	rec, _ := do(t, h, "GET", "/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready = %d, want 503", rec.Code)
	}

	rec, env := do(t, h, "POST", "/admin/v1/canisters", alice, CreateCanisterRequest{Cycles: 1})
	if rec.Code != http.StatusServiceUnavailable || env.Code != domain.ErrNotLeader.Code {
		t.Errorf("create = %d %s, want 503 %s", rec.Code, env.Code, domain.ErrNotLeader.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After should be set")
	}

	rec, _ = do(t, h, "POST", "/admin/v1/rounds", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("end round = %d, want 503", rec.Code)
	}
}

func TestHandler_SnapshotLifecycle(t *testing.T) {
	h, _ := testHandler(nil)
	id := installedCanister(t, h)
	base := "/v1/canisters/" + id + "/snapshots"

	rec, env := do(t, h, "POST", base, alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	taken := decodeData[SnapshotResponse](t, env)
	if taken.ID == "" || taken.TakenAtNs == 0 || taken.TotalSize == 0 {
		t.Errorf("take = %+v", taken)
	}

	rec, env = do(t, h, "GET", base, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	list := decodeData[ListSnapshotsResponse](t, env)
	if len(list.Items) != 1 || list.Items[0] != taken {
		t.Errorf("list = %+v, want [%+v]", list.Items, taken)
	}

	rec, env = do(t, h, "GET", base+"/"+taken.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	md := decodeData[SnapshotMetadataResponse](t, env)
	if md.Source != "taken_from_canister" || md.WasmMemorySize != 64 || md.TakenAtNs != taken.TakenAtNs {
		t.Errorf("metadata = %+v", md)
	}

	// Replacing keeps a single snapshot.
	rec, env = do(t, h, "POST", base, alice, TakeSnapshotRequest{ReplaceSnapshot: taken.ID})
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	replaced := decodeData[SnapshotResponse](t, env)
	if replaced.ID == taken.ID {
		t.Error("replacement should get a fresh id")
	}

	rec, env = do(t, h, "POST", base+"/"+replaced.ID+"/load", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	if v := decodeData[CanisterVersionResponse](t, env).CanisterVersion; v == 0 {
		t.Error("load should bump the canister version")
	}

	rec, env = do(t, h, "DELETE", base+"/"+replaced.ID, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)

	rec, env = do(t, h, "GET", base+"/"+replaced.ID, alice, nil)
	if rec.Code != http.StatusNotFound || env.Code != domain.CodeCanisterSnapshotNotFound {
		t.Errorf("read deleted = %d %s, want 404 %s", rec.Code, env.Code, domain.CodeCanisterSnapshotNotFound)
	}
}

func TestHandler_Errors(t *testing.T) {
	h, _ := testHandler(nil)
	id := installedCanister(t, h)
	base := "/v1/canisters/" + id + "/snapshots"

	rec, env := do(t, h, "POST", base, alice, nil)
	require.Equal(t, http.StatusCreated, rec.Code, env.Message)
	snap := base + "/" + decodeData[SnapshotResponse](t, env).ID

	tests := []struct {
		name       string
		method     string
		path       string
		sender     domain.PrincipalID
		body       any
		wantStatus int
		wantCode   string
	}{
		{"missing sender", "POST", base, "", nil, http.StatusBadRequest, domain.ErrBadRequest.Code},
		{"bad canister id", "GET", "/v1/canisters/0OIl/snapshots", alice, nil, http.StatusBadRequest, domain.ErrBadRequest.Code},
		{"bad snapshot id", "GET", base + "/zz", alice, nil, http.StatusBadRequest, domain.ErrBadRequest.Code},
		{"bad replace id", "POST", base, alice, TakeSnapshotRequest{ReplaceSnapshot: "zz"}, http.StatusBadRequest, domain.ErrBadRequest.Code},
		{"unknown field", "POST", base, alice, map[string]any{"bogus": 1}, http.StatusBadRequest, domain.ErrBadRequest.Code},
		{"take by non-controller", "POST", base, bob, nil, http.StatusForbidden, domain.CodeCanisterRejectedMessage},
		{"delete by non-controller", "DELETE", snap, bob, nil, http.StatusForbidden, domain.CodeCanisterRejectedMessage},
		{"metadata by non-controller", "GET", snap, bob, nil, http.StatusForbidden, domain.CodeCanisterInvalidController},
		{"unknown canister", "GET", "/v1/canisters/" + bob.String() + "/snapshots", alice, nil, http.StatusNotFound, domain.CodeCanisterNotFound},
		{"bad controller", "POST", "/admin/v1/canisters", alice, CreateCanisterRequest{Controllers: []string{"0OIl"}}, http.StatusBadRequest, domain.ErrBadRequest.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, h, tt.method, tt.path, tt.sender, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, env.Message)
			}
			if env.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", env.Code, tt.wantCode)
			}
			if rec.Header().Get("X-Error-Code") != tt.wantCode {
				t.Errorf("X-Error-Code = %q", rec.Header().Get("X-Error-Code"))
			}
		})
	}
}

func TestHandler_DeleteCanister(t *testing.T) {
	h, node := testHandler(nil)
	id := installedCanister(t, h)

	rec, env := do(t, h, "DELETE", "/admin/v1/canisters/"+id, alice, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	if node.Status().State.Canisters != 0 {
		t.Error("canister should be gone")
	}
}

func TestHandler_EndRoundAndStatus(t *testing.T) {
	h, _ := testHandler(nil)
	installedCanister(t, h)

	rec, env := do(t, h, "POST", "/admin/v1/rounds", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	if round := decodeData[EndRoundResponse](t, env).Round; round != 1 {
		t.Errorf("round = %d, want 1", round)
	}

	rec, env = do(t, h, "GET", "/admin/v1/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Message)
	st := decodeData[StatusResponse](t, env)
	if !st.Node.Leader || st.Node.State.Round != 1 || st.Node.State.Canisters != 1 {
		t.Errorf("node = %+v", st.Node)
	}
	if st.Fingerprint == "" || st.Build.Version == "" {
		t.Errorf("status = %+v", st)
	}

	// Same state, same fingerprint.
	_, env = do(t, h, "GET", "/admin/v1/status", "", nil)
	if again := decodeData[StatusResponse](t, env).Fingerprint; again != st.Fingerprint {
		t.Errorf("fingerprint changed without writes: %s != %s", again, st.Fingerprint)
	}
}

type fakeCheckpointer struct {
	info *checkpoint.Info
	err  error
}

func (f fakeCheckpointer) Checkpoint() (*checkpoint.Info, error) { return f.info, f.err }

func TestHandler_CreateCheckpoint(t *testing.T) {
	tests := []struct {
		name       string
		cp         Checkpointer
		wantStatus int
	}{
		{"disabled", nil, http.StatusNotImplemented},
		{"ok", fakeCheckpointer{info: &checkpoint.Info{ID: "cp-1"}}, http.StatusCreated},
		{"failure", fakeCheckpointer{err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := testHandler(tt.cp)
			rec, env := do(t, h, "POST", "/admin/v1/checkpoints", "", nil)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, env.Message)
			}
		})
	}
}

func TestResponse_Envelope(t *testing.T) {
	resp := NewResponse("req-123", map[string]string{"key": "value"})
	if resp.Code != "OK" || resp.Message != "Success" || resp.RequestID != "req-123" {
		t.Errorf("success response = %+v", resp)
	}
	if resp.Timestamp == 0 || resp.Data == nil {
		t.Error("timestamp and data should be set")
	}

	resp = NewErrorResponse("req-456", domain.ErrBadRequest.Code, "error message")
	if resp.Code != domain.ErrBadRequest.Code || resp.Message != "error message" || resp.RequestID != "req-456" {
		t.Errorf("error response = %+v", resp)
	}
	if resp.Data != nil {
		t.Error("error response should carry no data")
	}
}

func TestRejectCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.CodeCanisterNotFound, http.StatusNotFound},
		{domain.CodeInvalidManagementPayload, http.StatusBadRequest},
		{domain.CodeCanisterInvalidController, http.StatusForbidden},
		{domain.CodeSubnetOversubscribed, http.StatusConflict},
		{domain.CodeCanisterHeapDeltaRateLimited, http.StatusTooManyRequests},
		{domain.ErrNotLeader.Code, http.StatusServiceUnavailable},
		{"something-else", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := rejectCodeToHTTPStatus(tt.code); got != tt.want {
			t.Errorf("rejectCodeToHTTPStatus(%q) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
