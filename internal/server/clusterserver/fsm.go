package clusterserver

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/yndnr/snapmesh-go/internal/core/domain"
	"github.com/yndnr/snapmesh-go/internal/core/management"
	"github.com/yndnr/snapmesh-go/internal/core/service"
	"github.com/yndnr/snapmesh-go/internal/storage"
	"github.com/yndnr/snapmesh-go/internal/storage/checkpoint"
	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

// LogEntryType defines the type of Raft log entry.
type LogEntryType string

const (
	// LogEntryIngress carries one management request.
	LogEntryIngress LogEntryType = "ingress"

	// LogEntryEndRound closes the current execution round.
	LogEntryEndRound LogEntryType = "end_round"
)

// LogEntry represents a Raft log entry.
type LogEntry struct {
	Type    LogEntryType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EndRoundPayload is the payload of an end_round entry.
type EndRoundPayload struct {
	BatchTime uint64 `json:"batch_time_ns"`
}

// EncodeIngress wraps a request in a log entry.
func EncodeIngress(in *service.Ingress) ([]byte, error) {
	return encodeEntry(LogEntryIngress, in)
}

// EncodeEndRound builds an end_round log entry.
func EncodeEndRound(batchTime uint64) ([]byte, error) {
	return encodeEntry(LogEntryEndRound, EndRoundPayload{BatchTime: batchTime})
}

func encodeEntry(typ LogEntryType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(LogEntry{Type: typ, Payload: raw})
}

// decodeEntry turns a log entry back into the request it carries.
func decodeEntry(data []byte) (*service.Ingress, error) {
	var entry LogEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshal log entry: %w", err)
	}

	switch entry.Type {
	case LogEntryIngress:
		var in service.Ingress
		if err := json.Unmarshal(entry.Payload, &in); err != nil {
			return nil, fmt.Errorf("unmarshal ingress payload: %w", err)
		}
		return &in, nil
	case LogEntryEndRound:
		var p EndRoundPayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal end_round payload: %w", err)
		}
		return &service.Ingress{Method: management.MethodEndRound, BatchTime: p.BatchTime}, nil
	default:
		return nil, fmt.Errorf("unknown log entry type %q", entry.Type)
	}
}

// Flusher receives the snapshot operations drained after each applied
// entry. Errors are logged and counted; they never affect the state.
type Flusher interface {
	Flush(round uint64, ops []domain.SnapshotOp, snaps storage.SnapshotGetter) error
}

// Observer is notified about applied entries. metric.Registry implements it.
type Observer interface {
	ObserveApply(method, rejectCode string, elapsed time.Duration)
	ObserveSnapshotOp(kind string)
	ObserveFlushError()
}

// FSMOption configures an FSM.
type FSMOption func(*FSM)

// WithFlusher sets the snapshot operation sink.
func WithFlusher(fl Flusher) FSMOption {
	return func(f *FSM) { f.flusher = fl }
}

// WithObserver sets the apply observer.
func WithObserver(o Observer) FSMOption {
	return func(f *FSM) { f.observer = o }
}

// WithFSMLogger sets the logger.
func WithFSMLogger(l logger.Logger) FSMOption {
	return func(f *FSM) { f.logger = l }
}

// FSM implements the Raft finite state machine over the replicated
// subnet state.
//
// Every replica applies the same entries in the same order, so every
// replica computes the same replies. Apply holds the write lock; queries
// and exports share the read lock.
type FSM struct {
	mu sync.RWMutex

	cfg        service.StateConfig
	state      *service.ReplicatedState
	dispatcher *service.Dispatcher
	applied    uint64

	flusher  Flusher
	observer Observer
	logger   logger.Logger
}

// NewFSM creates a state machine over an empty state.
func NewFSM(cfg service.StateConfig, opts ...FSMOption) *FSM {
	state := service.NewReplicatedState(cfg)
	f := &FSM{
		cfg:        cfg,
		state:      state,
		dispatcher: service.NewDispatcher(state),
		logger:     logger.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Apply applies a Raft log entry to the FSM.
//
// This is called by Raft when a log entry is committed. It returns the
// *service.Reply of the request. Rejected requests are replies, not
// errors; only an undecodable entry is fatal.
func (f *FSM) Apply(log *raft.Log) interface{} {
	in, err := decodeEntry(log.Data)
	if err != nil {
		// FATAL: Data corruption or incompatible version
		f.logger.Error("FATAL: failed to decode log entry - data corrupted",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: decode failed at index=%d: %v", log.Index, err))
	}

	start := time.Now()

	f.mu.Lock()
	reply := f.dispatcher.Execute(context.Background(), in)
	ops := f.state.Snapshots.TakeUnflushedChanges()
	if f.flusher != nil && len(ops) > 0 {
		if err := f.flusher.Flush(f.state.Round, ops, f.state.Snapshots); err != nil {
			f.logger.Error("snapshot flush failed",
				"error", err,
				"log_index", log.Index,
				"ops", len(ops))
			if f.observer != nil {
				f.observer.ObserveFlushError()
			}
		}
	}
	f.applied = log.Index
	f.mu.Unlock()

	if f.observer != nil {
		f.observer.ObserveApply(in.Method, reply.RejectCode, time.Since(start))
		for _, op := range ops {
			f.observer.ObserveSnapshotOp(op.Kind.String())
		}
	}

	if reply.Rejected() {
		f.logger.Debug("request rejected",
			"method", in.Method,
			"sender", in.Sender.String(),
			"code", reply.RejectCode,
			"log_index", log.Index)
	}

	return reply
}

// Query runs a read-only method against the local state without going
// through the log.
func (f *FSM) Query(ctx context.Context, in *service.Ingress) *service.Reply {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dispatcher.Query(ctx, in)
}

// Stats returns the current state summary.
func (f *FSM) Stats() service.Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Stats()
}

// AppliedIndex returns the index of the last applied entry.
func (f *FSM) AppliedIndex() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.applied
}

// Export returns an image of the current state for checkpoints.
func (f *FSM) Export() *service.StateImage {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state.Export()
}

// Import replaces the state with img. The current state is kept when img
// fails the consistency check.
func (f *FSM) Import(img *service.StateImage) error {
	state := service.NewReplicatedState(f.cfg)
	if err := state.Import(img); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
	f.dispatcher = service.NewDispatcher(state)
	return nil
}

// Snapshot creates a snapshot of the FSM state.
//
// This is called by Raft to create a snapshot for log compaction. The
// image shares immutable snapshot payloads with the live state.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{image: f.Export()}, nil
}

// Restore restores the FSM state from a snapshot.
//
// This is called by Raft when recovering from a snapshot.
// Must completely replace all FSM state.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	// Snapshots are gzip-compressed.
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gzReader.Close()

	data, err := io.ReadAll(gzReader)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	img, err := checkpoint.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := f.Import(img); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}

	f.logger.Info("fsm state restored from snapshot",
		"round", img.Round,
		"canister_count", len(img.Canisters.Canisters),
		"snapshot_count", len(img.Snapshots.Snapshots))

	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	image *service.StateImage
}

// Persist writes the snapshot to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		data, err := checkpoint.EncodeImage(s.image)
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}

		gzWriter := gzip.NewWriter(sink)
		if _, err := gzWriter.Write(data); err != nil {
			gzWriter.Close()
			return fmt.Errorf("write snapshot: %w", err)
		}

		// Flush gzip writer to ensure all compressed data is written
		if err := gzWriter.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}

		return nil
	}()

	if err != nil {
		sink.Cancel()
		return err
	}

	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *fsmSnapshot) Release() {}
