package service

import (
	"context"
	"errors"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/management"
)

// Ingress is one management request as it appears in the replicated log.
type Ingress struct {
	Sender    domain.PrincipalID `json:"sender"`
	Method    string             `json:"method"`
	Payload   []byte             `json:"payload,omitempty"`
	BatchTime uint64             `json:"batch_time_ns"`
}

// Reply is the outcome of a management request: an encoded result, or a
// reject code with its message.
type Reply struct {
	Payload       []byte `json:"payload,omitempty"`
	RejectCode    string `json:"reject_code,omitempty"`
	RejectMessage string `json:"reject_message,omitempty"`
}

// Err returns the reject as a *domain.DomainError, or nil on success.
// errors.Is against the domain sentinels works on the result.
func (r *Reply) Err() error {
	if r.RejectCode == "" {
		return nil
	}
	return domain.NewDomainError(r.RejectCode, r.RejectMessage).WithDetails(r.RejectMessage)
}

// Rejected reports whether the request was rejected.
func (r *Reply) Rejected() bool { return r.RejectCode != "" }

func replyOK(payload []byte) *Reply {
	return &Reply{Payload: payload}
}

// replyErr converts an error into a reject. Non-domain errors become
// internal errors; the manager never returns them for valid state.
func replyErr(err error) *Reply {
	var de *domain.DomainError
	if !errors.As(err, &de) {
		de = domain.ErrInternalServer.WithCause(err)
	}
	return &Reply{RejectCode: de.Code, RejectMessage: de.RejectMessage()}
}

// Dispatcher decodes management payloads and routes them to the manager.
type Dispatcher struct {
	state *ReplicatedState
}

// NewDispatcher creates a dispatcher over the replicated state.
func NewDispatcher(state *ReplicatedState) *Dispatcher {
	return &Dispatcher{state: state}
}

// Execute runs one replicated request. Decode failures and unknown methods
// are rejects; Execute never panics on bad input.
func (d *Dispatcher) Execute(ctx context.Context, in *Ingress) *Reply {
	d.state.AdvanceTime(in.BatchTime)
	call := Call{Sender: in.Sender, Time: d.state.BatchTime}
	m := d.state.Manager

	switch in.Method {
	case management.MethodTakeCanisterSnapshot:
		var args management.TakeCanisterSnapshotArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		call.SenderCanisterVersion = args.SenderCanisterVersion
		resp, err := m.TakeSnapshot(ctx, &TakeSnapshotRequest{
			Call: call, CanisterID: args.CanisterID, Replace: args.ReplaceSnapshot,
		})
		if err != nil {
			return replyErr(err)
		}
		out := management.TakeCanisterSnapshotResult{ID: resp.ID, TakenAtNs: resp.TakenAt, TotalSize: resp.TotalSize}
		return replyOK(out.Marshal())

	case management.MethodDeleteCanisterSnapshot:
		var args management.SnapshotArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		call.SenderCanisterVersion = args.SenderCanisterVersion
		if err := m.DeleteSnapshot(ctx, &DeleteSnapshotRequest{
			Call: call, CanisterID: args.CanisterID, SnapshotID: args.SnapshotID,
		}); err != nil {
			return replyErr(err)
		}
		return replyOK(nil)

	case management.MethodLoadCanisterSnapshot:
		var args management.SnapshotArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		call.SenderCanisterVersion = args.SenderCanisterVersion
		version, err := m.LoadSnapshot(ctx, &LoadSnapshotRequest{
			Call: call, CanisterID: args.CanisterID, SnapshotID: args.SnapshotID,
		})
		if err != nil {
			return replyErr(err)
		}
		return replyOK((&management.Uint64Result{Value: version}).Marshal())

	case management.MethodListCanisterSnapshots:
		var args management.CanisterArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		list, err := m.ListSnapshots(ctx, in.Sender, args.CanisterID)
		if err != nil {
			return replyErr(err)
		}
		return replyOK(management.SnapshotSummaries(list).Marshal())

	case management.MethodReadCanisterSnapshotMetadata:
		var args management.SnapshotArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		md, err := m.ReadSnapshotMetadata(ctx, in.Sender, args.CanisterID, args.SnapshotID)
		if err != nil {
			return replyErr(err)
		}
		return replyOK((&management.SnapshotMetadataResult{SnapshotMetadata: *md}).Marshal())

	case management.MethodCreateCanister:
		var args management.CreateCanisterArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		id, err := m.CreateCanister(ctx, &CreateCanisterRequest{
			Call: call, Controllers: args.Controllers, Cycles: args.Cycles, Settings: args.Settings,
		})
		if err != nil {
			return replyErr(err)
		}
		return replyOK((&management.CanisterIDResult{CanisterID: id}).Marshal())

	case management.MethodInstallExecutionState:
		var args management.InstallExecutionStateArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		call.SenderCanisterVersion = args.SenderCanisterVersion
		version, err := m.InstallExecutionState(ctx, &InstallStateRequest{
			Call: call, CanisterID: args.CanisterID, State: args.ExecutionState(), CertifiedData: args.CertifiedData,
		})
		if err != nil {
			return replyErr(err)
		}
		return replyOK((&management.Uint64Result{Value: version}).Marshal())

	case management.MethodDeleteCanister:
		var args management.CanisterArgs
		if err := args.Unmarshal(in.Payload); err != nil {
			return replyErr(err)
		}
		if err := m.DeleteCanister(ctx, &DeleteCanisterRequest{Call: call, CanisterID: args.CanisterID}); err != nil {
			return replyErr(err)
		}
		return replyOK(nil)

	case management.MethodEndRound:
		// Rounds are closed by the subnet itself, never by a principal.
		if len(in.Sender) > 0 {
			return replyErr(domain.ErrMethodNotFound.WithDetailsf(
				"Method '%s' can only be called by the subnet", in.Method))
		}
		round := d.state.EndRound()
		return replyOK((&management.Uint64Result{Value: round}).Marshal())
	}

	return replyErr(domain.ErrMethodNotFound.WithDetailsf("Management canister has no method '%s'", in.Method))
}

// Query runs a read-only method. Mutating methods are rejected so that a
// query can never change replicated state.
func (d *Dispatcher) Query(ctx context.Context, in *Ingress) *Reply {
	if !management.IsReadOnly(in.Method) {
		return replyErr(domain.ErrMethodNotFound.WithDetailsf("Method '%s' cannot be called as a query", in.Method))
	}
	// Queries must not advance the batch time.
	in2 := *in
	in2.BatchTime = 0
	return d.Execute(ctx, &in2)
}
