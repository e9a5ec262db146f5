// Package logger provides structured logging for SnapMesh.
//
// One Logger interface fronts two backends, log/slog (the default) and
// go.uber.org/zap. Both share a process-wide level that SetLevel changes at
// runtime; the server uses it to apply log.level edits without a restart.
//
// Request handlers stash the request ID and caller principal in the
// context; Logger.WithContext turns them into fields.
//
// Secrets are masked, and byte slices that carry canister memory (heaps,
// stable memory, chunks) are logged as their length only.
package logger
