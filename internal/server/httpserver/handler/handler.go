package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/server/clusterserver"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// SenderHeader carries the base58 principal of the caller.
const SenderHeader = "X-Sender-Principal"

// maxBodyBytes bounds request bodies. Install bodies carry whole heaps.
const maxBodyBytes = 256 << 20

// Checkpointer writes a checkpoint on demand.
type Checkpointer interface {
	Checkpoint() (*checkpoint.Info, error)
}

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	node         clusterserver.Node
	checkpointer Checkpointer
	logger       logger.Logger
	mux          *http.ServeMux

	// now stamps batch times on replicated requests.
	now func() time.Time
}

// New creates a Handler. checkpointer may be nil, which disables
// POST /admin/v1/checkpoints.
func New(node clusterserver.Node, checkpointer Checkpointer, l logger.Logger) *Handler {
	if l == nil {
		l = logger.Default()
	}
	h := &Handler{
		node:         node,
		checkpointer: checkpointer,
		logger:       l,
		mux:          http.NewServeMux(),
		now:          time.Now,
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)

	// Snapshot endpoints
	h.mux.HandleFunc("GET /v1/canisters/{id}/snapshots", h.handleListSnapshots)
	h.mux.HandleFunc("POST /v1/canisters/{id}/snapshots", h.handleTakeSnapshot)
	h.mux.HandleFunc("GET /v1/canisters/{id}/snapshots/{sid}", h.handleReadSnapshotMetadata)
	h.mux.HandleFunc("DELETE /v1/canisters/{id}/snapshots/{sid}", h.handleDeleteSnapshot)
	h.mux.HandleFunc("POST /v1/canisters/{id}/snapshots/{sid}/load", h.handleLoadSnapshot)

	// Admin endpoints
	h.mux.HandleFunc("POST /admin/v1/canisters", h.handleCreateCanister)
	h.mux.HandleFunc("PUT /admin/v1/canisters/{id}/state", h.handleInstallState)
	h.mux.HandleFunc("DELETE /admin/v1/canisters/{id}", h.handleDeleteCanister)
	h.mux.HandleFunc("GET /admin/v1/status", h.handleAdminStatus)
	h.mux.HandleFunc("POST /admin/v1/rounds", h.handleEndRound)
	h.mux.HandleFunc("POST /admin/v1/checkpoints", h.handleCreateCheckpoint)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := getRequestID(r)
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.WithContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID := getRequestID(r)
	response := NewErrorResponse(requestID, code, message)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// getRequestID reads the request ID set by the RequestID middleware.
func getRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-ID")
}

// writeReject converts a reply reject to an HTTP error.
func (h *Handler) writeReject(w http.ResponseWriter, r *http.Request, reply *service.Reply) {
	h.writeError(w, r, rejectCodeToHTTPStatus(reply.RejectCode), reply.RejectCode, reply.RejectMessage)
}

// handleSubmitError converts a replication failure to an HTTP error.
func (h *Handler) handleSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, clusterserver.ErrNotLeader), errors.Is(err, clusterserver.ErrNoLeader):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, r, http.StatusServiceUnavailable, domain.ErrNotLeader.Code, err.Error())
	case domain.IsDomainError(err, ""):
		code := domain.GetErrorCode(err)
		h.writeError(w, r, rejectCodeToHTTPStatus(code), code, err.Error())
	default:
		h.logger.WithContext(r.Context()).Error("replication failed", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, "internal server error")
	}
}

// rejectCodeToHTTPStatus maps reject codes to HTTP status codes.
func rejectCodeToHTTPStatus(code string) int {
	switch code {
	case domain.CodeCanisterNotFound, domain.CodeCanisterSnapshotNotFound, domain.CodeCanisterMethodNotFound:
		return http.StatusNotFound
	case domain.CodeDestinationInvalid, domain.CodeInvalidManagementPayload, domain.ErrBadRequest.Code:
		return http.StatusBadRequest
	case domain.CodeCanisterRejectedMessage, domain.CodeCanisterInvalidController:
		return http.StatusForbidden
	case domain.CodeSubnetOversubscribed, domain.CodeInsufficientCyclesInMemoryGrow, domain.CodeCanisterAlreadyExists:
		return http.StatusConflict
	case domain.CodeCanisterHeapDeltaRateLimited, domain.ErrRateLimited.Code:
		return http.StatusTooManyRequests
	case domain.ErrServiceUnavailable.Code, domain.ErrNotLeader.Code:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sender parses the caller principal. It writes the error response and
// returns false when the header is missing or invalid.
func (h *Handler) sender(w http.ResponseWriter, r *http.Request) (domain.PrincipalID, bool) {
	raw := r.Header.Get(SenderHeader)
	if raw == "" {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, SenderHeader+" header is required")
		return "", false
	}
	p, err := domain.ParsePrincipal(raw)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid sender principal: "+err.Error())
		return "", false
	}
	return p, true
}

// canisterID parses the {id} path value.
func (h *Handler) canisterID(w http.ResponseWriter, r *http.Request) (domain.CanisterID, bool) {
	id, err := domain.ParsePrincipal(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid canister id: "+err.Error())
		return "", false
	}
	return id, true
}

// snapshotID parses the {sid} path value.
func (h *Handler) snapshotID(w http.ResponseWriter, r *http.Request) (domain.SnapshotID, bool) {
	sid, err := domain.ParseSnapshotIDHex(r.PathValue("sid"))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid snapshot id: "+err.Error())
		return domain.SnapshotID{}, false
	}
	return sid, true
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		h.writeError(w, r, http.StatusBadRequest, domain.ErrBadRequest.Code, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// submit replicates a request stamped with the current time. It writes
// the error response and returns nil on failure or reject.
func (h *Handler) submit(w http.ResponseWriter, r *http.Request, in *service.Ingress) *service.Reply {
	in.BatchTime = uint64(h.now().UnixNano())
	reply, err := h.node.Submit(r.Context(), in)
	if err != nil {
		h.handleSubmitError(w, r, err)
		return nil
	}
	if reply.Rejected() {
		h.writeReject(w, r, reply)
		return nil
	}
	return reply
}

// query runs a read-only request against the local replica.
func (h *Handler) query(w http.ResponseWriter, r *http.Request, in *service.Ingress) *service.Reply {
	reply := h.node.Query(r.Context(), in)
	if reply.Rejected() {
		h.writeReject(w, r, reply)
		return nil
	}
	return reply
}
