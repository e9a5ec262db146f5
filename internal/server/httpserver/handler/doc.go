// Package handler serves the snapshot management HTTP API.
//
//   - snapshot.go: take, list, read, load and delete canister snapshots
//   - admin.go: canister provisioning, rounds, checkpoints and status
//   - health.go: liveness and readiness checks
//
// Writes are stamped with the receive time as their batch time and
// replicated through the cluster node; reads run on the local replica.
// The caller principal comes from the X-Sender-Principal header.
package handler
