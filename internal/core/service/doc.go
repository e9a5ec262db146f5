// Package service provides the replicated management services of SnapMesh.
//
// Domain services contain the business logic of the snapshot subsystem and
// orchestrate the ledger, the heap-delta limiter, the snapshot store and
// the hooks evaluator. They define interfaces for storage dependencies,
// allowing for dependency injection and testability.
//
// This package contains:
//
//   - SnapshotManager: take, delete, load, list and read-metadata, plus the
//     canister lifecycle operations snapshots depend on
//   - ReplicatedState: everything replicas agree on, with export and import
//     for checkpoints
//   - Dispatcher: decodes management payloads and turns results into replies
//
// Nothing here is safe for concurrent use. The cluster state machine applies
// one request at a time.
package service
