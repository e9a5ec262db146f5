package handler

import (
	"net/http"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
)

// handleListSnapshots handles GET /v1/canisters/{id}/snapshots.
func (h *Handler) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	canisterID, ok := h.canisterID(w, r)
	if !ok {
		return
	}

	reply := h.query(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodListCanisterSnapshots,
		Payload: (&management.CanisterArgs{CanisterID: canisterID}).Marshal(),
	})
	if reply == nil {
		return
	}

	var list management.SnapshotSummaries
	if err := list.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	items := make([]SnapshotResponse, 0, len(list))
	for _, s := range list {
		items = append(items, newSnapshotResponse(s.ID, s.TakenAt, s.TotalSize))
	}
	h.writeJSON(w, r, http.StatusOK, ListSnapshotsResponse{Items: items})
}

// handleTakeSnapshot handles POST /v1/canisters/{id}/snapshots.
func (h *Handler) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	canisterID, ok := h.canisterID(w, r)
	if !ok {
		return
	}
	var req TakeSnapshotRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	args := &management.TakeCanisterSnapshotArgs{
		CanisterID:            canisterID,
		SenderCanisterVersion: req.SenderCanisterVersion,
	}
	if req.ReplaceSnapshot != "" {
		sid, err := domain.ParseSnapshotIDHex(req.ReplaceSnapshot)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid replace_snapshot: "+err.Error())
			return
		}
		args.ReplaceSnapshot = &sid
	}

	reply := h.submit(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodTakeCanisterSnapshot,
		Payload: args.Marshal(),
	})
	if reply == nil {
		return
	}

	var res management.TakeCanisterSnapshotResult
	if err := res.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, newSnapshotResponse(res.ID, res.TakenAtNs, res.TotalSize))
}

// handleReadSnapshotMetadata handles GET /v1/canisters/{id}/snapshots/{sid}.
func (h *Handler) handleReadSnapshotMetadata(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	args, ok := h.snapshotArgs(w, r)
	if !ok {
		return
	}

	reply := h.query(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodReadCanisterSnapshotMetadata,
		Payload: args.Marshal(),
	})
	if reply == nil {
		return
	}

	var res management.SnapshotMetadataResult
	if err := res.Unmarshal(reply.Payload); err != nil {
		h.handleSubmitError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newSnapshotMetadataResponse(&res.SnapshotMetadata))
}

// handleDeleteSnapshot handles DELETE /v1/canisters/{id}/snapshots/{sid}.
func (h *Handler) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	args, ok := h.snapshotArgs(w, r)
	if !ok {
		return
	}

	reply := h.submit(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodDeleteCanisterSnapshot,
		Payload: args.Marshal(),
	})
	if reply == nil {
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{"deleted": args.SnapshotID.Hex()})
}

// handleLoadSnapshot handles POST /v1/canisters/{id}/snapshots/{sid}/load.
func (h *Handler) handleLoadSnapshot(w http.ResponseWriter, r *http.Request) {
	sender, ok := h.sender(w, r)
	if !ok {
		return
	}
	args, ok := h.snapshotArgs(w, r)
	if !ok {
		return
	}
	var req LoadSnapshotRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	args.SenderCanisterVersion = req.SenderCanisterVersion

	reply := h.submit(w, r, &service.Ingress{
		Sender:  sender,
		Method:  management.MethodLoadCanisterSnapshot,
		Payload: args.Marshal(),
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

func (h *Handler) snapshotArgs(w http.ResponseWriter, r *http.Request) (*management.SnapshotArgs, bool) {
	canisterID, ok := h.canisterID(w, r)
	if !ok {
		return nil, false
	}
	sid, ok := h.snapshotID(w, r)
	if !ok {
		return nil, false
	}
	return &management.SnapshotArgs{CanisterID: canisterID, SnapshotID: sid}, true
}
