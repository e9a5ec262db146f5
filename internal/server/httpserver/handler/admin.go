package handler

import (
	"net/http"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
)

// handleAdminStatus handles GET /admin/v1/status.
//
// The fingerprint hashes the encoded local state; replicas at the same
// applied index report the same value.
func (h *Handler) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	data, err := checkpoint.EncodeImage(h.node.FSM().Export())
	if err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, StatusResponse{
		Node:        h.node.Status(),
		Fingerprint: checkpoint.Fingerprint(data),
		Build:       buildinfo.Get(),
	})
}

// handleCreateCanister handles POST /admin/v1/canisters.
func (h *Handler) handleCreateCanister(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	var req CreateCanisterRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	args := &management.CreateCanisterArgs{
		Cycles:   domain.Cycles(req.Cycles),
		Settings: req.Settings,
	}
	for _, raw := range req.Controllers {
		p, err := domain.ParsePrincipal(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid controller: "+err.Error())
			return
		}
		args.Controllers = append(args.Controllers, p)
	}

	reply := h.submit(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodCreateCanister,
		Payload: args.Marshal(),
	})
	if reply == nil {
		return
	}

	var res management.CanisterIDResult
	if err := res.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, CreateCanisterResponse{CanisterID: res.CanisterID.String()})
}

// handleInstallState handles PUT /admin/v1/canisters/{id}/state.
func (h *Handler) handleInstallState(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	canisterID, ok := h.canisterID(w, r)
	if !ok {
		return
	}
	var req InstallStateRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	reply := h.submit(w, r, &service.Ingress{
		Sender: sender,
		Method: management.MethodInstallExecutionState,
		Payload: (&management.InstallExecutionStateArgs{
			CanisterID:            canisterID,
			Binary:                req.Binary,
			Heap:                  req.Heap,
			Stable:                req.Stable,
			Globals:               req.Globals,
			Chunks:                req.Chunks,
			CertifiedData:         req.CertifiedData,
			SenderCanisterVersion: req.SenderCanisterVersion,
		}).Marshal(),
	})
	if reply == nil {
		return
	}

	var res management.Uint64Result
	if err := res.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, CanisterVersionResponse{CanisterVersion: res.Value})
}

// handleDeleteCanister handles DELETE /admin/v1/canisters/{id}.
func (h *Handler) handleDeleteCanister(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	canisterID, ok := h.canisterID(w, r)
	if !ok {
		return
	}

	reply := h.submit(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodDeleteCanister,
		Payload: (&management.CanisterArgs{CanisterID: canisterID}).Marshal(),
	})
	if reply == nil {
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"deleted": canisterID.String()})
}

// handleEndRound handles POST /admin/v1/rounds.
func (h *Handler) handleEndRound(w http.ResponseWriter, r *http.Request) {
	reply, err := h.node.EndRound(r.Context(), uint64(h.now().UnixNano()))
	if err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	if reply.Rejected() {
		h.writeReject(w, r, reply)
		return
	}

	var res management.Uint64Result
	if err := res.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, EndRoundResponse{Round: res.Value})
}

// handleCreateCheckpoint handles POST /admin/v1/checkpoints.
func (h *Handler) handleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.checkpointer == nil {
		h.writeError(w, r, http.StatusNotImplemented, domain.ErrServiceUnavailable.Code, "checkpoints are disabled")
		return
	}
	info, err := h.checkpointer.Checkpoint()
	if err != nil {
		h.logger.WithContext(r.Context()).Error("checkpoint failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "checkpoint failed: "+err.Error())
		return
	}
	h.writeJSON(w, r, http.StatusCreated, info)
}
