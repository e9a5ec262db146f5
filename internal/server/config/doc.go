// Package config provides server configuration for snapmesh-server.
//
// This package defines the server configuration structure and validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: Default configuration values
//   - verify.go: Validation (addresses, paths, subnet knobs, keys)
//   - sanitize.go: Log sanitization (hide sensitive values)
//   - state.go, cluster.go: mapping onto the state, checkpoint and
//     cluster component configurations
//
// Configuration is loaded via internal/infra/confloader from a YAML file
// and SNAPMESH_ environment variables.
package config
