// Package confloader loads server configuration with koanf.
//
// Sources, highest priority first:
//
//  1. Environment variables (SNAPMESH_ prefix, "__" between sections)
//  2. The YAML configuration file
//  3. Values already in the target struct (defaults)
//
// In strict mode a file key that names no field is an error, so a typo
// fails at startup instead of silently keeping the default.
//
// Watcher reports edits to the configuration file; the server uses it to
// change the log level without a restart.
package confloader
