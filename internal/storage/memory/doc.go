// Package memory provides the in-memory replicated state stores.
//
// Features:
//
//   - SnapshotStore: snapshots by id plus a per-canister index, monotonic
//     id allocation and the unflushed operation log
//   - CanisterStore: the canister aggregates of the subnet
//
// Usage figures are never cached; every query recomputes them from the
// live entries.
//
// Thread Safety:
//
// Every method takes the store's lock. Replicated writes are additionally
// serialized by the cluster state machine, so stores never see concurrent
// mutations in practice.
package memory
