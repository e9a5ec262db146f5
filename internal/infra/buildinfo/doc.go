// Package buildinfo reports the version of the running snapmesh binary.
//
// Version, Commit and BuildTime are set with ldflags by the release build:
//
//	go build -ldflags "-X .../buildinfo.Version=1.0.0 -X .../buildinfo.Commit=abc123"
//
// Local builds fall back to the VCS stamps embedded by the Go toolchain.
package buildinfo
