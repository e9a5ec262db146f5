package handler

import (
	"time"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// TakeSnapshotRequest is the body of POST /v1/canisters/{id}/snapshots.
type TakeSnapshotRequest struct {
	// ReplaceSnapshot is the hex id of a snapshot to replace.
	ReplaceSnapshot       string  `json:"replace_snapshot,omitempty"`
	SenderCanisterVersion *uint64 `json:"sender_canister_version,omitempty"`
}

// SnapshotResponse describes one snapshot.
type SnapshotResponse struct {
	ID        string `json:"id"`
	TakenAtNs uint64 `json:"taken_at_ns"`
	TotalSize uint64 `json:"total_size"`
}

func newSnapshotResponse(id domain.SnapshotID, takenAt, size uint64) SnapshotResponse {
	return SnapshotResponse{ID: id.Hex(), TakenAtNs: takenAt, TotalSize: size}
}

// ListSnapshotsResponse is the body of GET /v1/canisters/{id}/snapshots.
type ListSnapshotsResponse struct {
	Items []SnapshotResponse `json:"items"`
}

// SnapshotMetadataResponse is the body of GET /v1/canisters/{id}/snapshots/{sid}.
type SnapshotMetadataResponse struct {
	Source           string             `json:"source"`
	TakenAtNs        uint64             `json:"taken_at_ns"`
	WasmModuleSize   uint64             `json:"wasm_module_size"`
	Globals          []domain.Global    `json:"globals"`
	WasmMemorySize   uint64             `json:"wasm_memory_size"`
	StableMemorySize uint64             `json:"stable_memory_size"`
	ChunkHashes      []string           `json:"wasm_chunk_store"`
	CanisterVersion  uint64             `json:"canister_version"`
	CertifiedData    []byte             `json:"certified_data"`
	GlobalTimer      domain.GlobalTimer `json:"global_timer"`
	OnLowWasmMemory  string             `json:"on_low_wasm_memory_hook_status"`
}

func newSnapshotMetadataResponse(md *domain.SnapshotMetadata) SnapshotMetadataResponse {
	globals := md.Globals
	if globals == nil {
		globals = []domain.Global{}
	}
	hashes := md.ChunkHashes
	if hashes == nil {
		hashes = []string{}
	}
	return SnapshotMetadataResponse{
		Source:           md.Source.String(),
		TakenAtNs:        md.TakenAt,
		WasmModuleSize:   md.WasmModuleSize,
		Globals:          globals,
		WasmMemorySize:   md.WasmMemorySize,
		StableMemorySize: md.StableMemorySize,
		ChunkHashes:      hashes,
		CanisterVersion:  md.CanisterVersion,
		CertifiedData:    md.CertifiedData,
		GlobalTimer:      md.GlobalTimer,
		OnLowWasmMemory:  md.HookStatus.String(),
	}
}

// LoadSnapshotRequest is the body of POST .../snapshots/{sid}/load.
type LoadSnapshotRequest struct {
	SenderCanisterVersion *uint64 `json:"sender_canister_version,omitempty"`
}

// CanisterVersionResponse reports a canister version after a change.
type CanisterVersionResponse struct {
	CanisterVersion uint64 `json:"canister_version"`
}

// CreateCanisterRequest is the body of POST /admin/v1/canisters.
// Controllers are base58 principals; the sender is added when empty.
type CreateCanisterRequest struct {
	Controllers []string        `json:"controllers,omitempty"`
	Cycles      uint64          `json:"cycles"`
	Settings    domain.Settings `json:"settings"`
}

// CreateCanisterResponse is the body returned by POST /admin/v1/canisters.
type CreateCanisterResponse struct {
	CanisterID string `json:"canister_id"`
}

// InstallStateRequest is the body of PUT /admin/v1/canisters/{id}/state.
// Byte fields are base64 in JSON.
type InstallStateRequest struct {
	Binary                []byte          `json:"binary"`
	Heap                  []byte          `json:"heap,omitempty"`
	Stable                []byte          `json:"stable,omitempty"`
	Globals               []domain.Global `json:"globals,omitempty"`
	Chunks                [][]byte        `json:"chunks,omitempty"`
	CertifiedData         []byte          `json:"certified_data,omitempty"`
	SenderCanisterVersion *uint64         `json:"sender_canister_version,omitempty"`
}

// EndRoundResponse is the body returned by POST /admin/v1/rounds.
type EndRoundResponse struct {
	Round uint64 `json:"round"`
}

// StatusResponse is the body of GET /admin/v1/status.
type StatusResponse struct {
	Node        clusterserver.NodeStatus `json:"node"`
	Fingerprint string                   `json:"fingerprint"`
	Build       buildinfo.Info           `json:"build"`
}
