package clusterserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"

	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// Cluster RPC procedures.
const (
	SubmitProcedure = "/snapmesh.cluster.v1.ClusterService/Submit"
	JoinProcedure   = "/snapmesh.cluster.v1.ClusterService/Join"
)

// SubmitRequest forwards a request from a follower to the leader.
type SubmitRequest struct {
	Ingress *service.Ingress `json:"ingress"`
}

// SubmitResponse carries the reply computed by the state machine.
type SubmitResponse struct {
	Reply *service.Reply `json:"reply"`
}

// JoinRequest asks the leader to add a node as a Raft voter.
type JoinRequest struct {
	NodeID   string `json:"node_id"`
	RaftAddr string `json:"raft_addr"`
	RPCAddr  string `json:"rpc_addr"`
}

// JoinResponse reports whether the node was added. A follower answers
// with the leader it knows about.
type JoinResponse struct {
	Accepted      bool   `json:"accepted"`
	LeaderID      string `json:"leader_id,omitempty"`
	LeaderRPCAddr string `json:"leader_rpc_addr,omitempty"`
}

// jsonCodec encodes cluster messages as plain JSON. It replaces connect's
// built-in json codec, which only handles protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// rpcBackend is what the RPC handlers need from a node.
type rpcBackend interface {
	IsLeader() bool
	leaderInfo() (id, rpcAddr string)
	applyLocal(ctx context.Context, in *service.Ingress) (*service.Reply, error)
	addVoter(nodeID, raftAddr, rpcAddr string) error
}

// rpcHandler implements the cluster service.
type rpcHandler struct {
	backend rpcBackend
	logger  logger.Logger
}

// newRPCMux routes the cluster service procedures.
func newRPCMux(b rpcBackend, l logger.Logger) *http.ServeMux {
	h := &rpcHandler{backend: b, logger: l}
	opts := []connect.HandlerOption{
		connect.WithCodec(jsonCodec{}),
		connect.WithInterceptors(rpcInterceptors(l)...),
	}

	mux := http.NewServeMux()
	mux.Handle(SubmitProcedure, connect.NewUnaryHandler(SubmitProcedure, h.Submit, opts...))
	mux.Handle(JoinProcedure, connect.NewUnaryHandler(JoinProcedure, h.Join, opts...))
	return mux
}

// Submit applies a forwarded request. Only the leader accepts it; the
// forwarding node retries against the new leader.
func (h *rpcHandler) Submit(
	ctx context.Context,
	req *connect.Request[SubmitRequest],
) (*connect.Response[SubmitResponse], error) {
	if req.Msg.Ingress == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("ingress is required"))
	}
	if !h.backend.IsLeader() {
		return nil, connect.NewError(connect.CodeUnavailable, ErrNotLeader)
	}

	reply, err := h.backend.applyLocal(ctx, req.Msg.Ingress)
	if err != nil {
		if errors.Is(err, ErrNotLeader) {
			return nil, connect.NewError(connect.CodeUnavailable, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&SubmitResponse{Reply: reply}), nil
}

// Join adds the calling node as a voter.
func (h *rpcHandler) Join(
	ctx context.Context,
	req *connect.Request[JoinRequest],
) (*connect.Response[JoinResponse], error) {
	msg := req.Msg
	if msg.NodeID == "" || msg.RaftAddr == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("node_id and raft_addr are required"))
	}

	leaderID, leaderRPC := h.backend.leaderInfo()
	if !h.backend.IsLeader() {
		h.logger.Info("join request rejected - not leader",
			"requester", msg.NodeID,
			"leader_id", leaderID)
		return connect.NewResponse(&JoinResponse{
			Accepted:      false,
			LeaderID:      leaderID,
			LeaderRPCAddr: leaderRPC,
		}), nil
	}

	if err := h.backend.addVoter(msg.NodeID, msg.RaftAddr, msg.RPCAddr); err != nil {
		h.logger.Error("failed to add voter",
			"node_id", msg.NodeID,
			"error", err)
		return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("add voter: %w", err))
	}

	h.logger.Info("join request accepted", "node_id", msg.NodeID, "raft_addr", msg.RaftAddr)
	return connect.NewResponse(&JoinResponse{
		Accepted:      true,
		LeaderID:      leaderID,
		LeaderRPCAddr: leaderRPC,
	}), nil
}

// rpcClient calls the cluster service on other nodes.
type rpcClient struct {
	http    *http.Client
	timeout time.Duration
}

func newRPCClient(timeout time.Duration) *rpcClient {
	return &rpcClient{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "http://" + addr
}

// Submit forwards in to the node at addr.
func (c *rpcClient) Submit(ctx context.Context, addr string, in *service.Ingress) (*service.Reply, error) {
	client := connect.NewClient[SubmitRequest, SubmitResponse](
		c.http, baseURL(addr)+SubmitProcedure, connect.WithCodec(jsonCodec{}))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.CallUnary(ctx, connect.NewRequest(&SubmitRequest{Ingress: in}))
	if err != nil {
		if connect.CodeOf(err) == connect.CodeUnavailable {
			return nil, fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		return nil, err
	}
	if resp.Msg.Reply == nil {
		return nil, errors.New("empty reply from leader")
	}
	return resp.Msg.Reply, nil
}

// Join asks the node at addr to add this node.
func (c *rpcClient) Join(ctx context.Context, addr string, req *JoinRequest) (*JoinResponse, error) {
	client := connect.NewClient[JoinRequest, JoinResponse](
		c.http, baseURL(addr)+JoinProcedure, connect.WithCodec(jsonCodec{}))

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
