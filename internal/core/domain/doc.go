// Package domain defines the core domain models for SnapMesh.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - Canister: the owned per-canister aggregate (cycles, controllers,
//     execution state, settings, history, hook status)
//   - Snapshot: immutable capture of a canister's execution state
//   - PrincipalID / SnapshotID: identifiers and their byte and text forms
//   - History: bounded per-canister change log
//   - Errors: reject codes and domain error definitions
package domain
