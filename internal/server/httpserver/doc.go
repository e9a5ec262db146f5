// Package httpserver provides the HTTP/HTTPS server for snapmesh.
//
// This package implements the external API using stdlib net/http:
//
//   - Snapshot endpoints: /v1/canisters/{id}/snapshots[/{sid}[/load]]
//   - Admin endpoints: /admin/v1/*
//   - Health endpoints: /health, /ready, /metrics
//
// Every request passes Recover, RequestID, Logging and a per-client
// RateLimit. Admin endpoints can be restricted to an IP allowlist. With
// a TLS config the server speaks HTTPS; the key pair comes from
// internal/infra/certwatch and reloads when the files change.
package httpserver
