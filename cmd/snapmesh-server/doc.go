/*
snapmesh-server runs the replicated snapshot service for one subnet.

Usage:

	snapmesh-server serve --config /etc/snapmesh/server.yaml
	snapmesh-server checkpoint inspect <file>
	snapmesh-server checkpoint list <dir>
	snapmesh-server version [--json]

Configuration is read from the YAML file and SNAPMESH_* environment
variables, with "__" separating nested keys (SNAPMESH_LOG__LEVEL=debug).
Changes to log.level in the file apply without a restart.

With cluster.enabled the node joins a Raft group; otherwise it applies
requests locally. A node whose Raft directory is empty seeds its state
from the newest valid checkpoint in <data_dir>/checkpoints.
*/
package main
