// Package storage holds the persistence layers around the replicated state.
//
// The in-memory stores the state machine runs on live in storage/memory.
// Checkpoint files (storage/checkpoint) are the recovery path. This package
// provides the Badger snapshot mirror, which replays the snapshot store's
// operation log into an embedded key-value database:
//
//   - snap/<snapshot id hex>: the JSON-encoded snapshot (Backup, Delete)
//   - restore/<canister>/<round>/<seq>: restore audit rows (Restore)
//
// The mirror never feeds back into replicated state.
package storage
