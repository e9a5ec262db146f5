// Package clusterserver replicates the subnet state across nodes.
//
// A subnet is one Raft group. Every management request and every
// end-of-round marker becomes a log entry; the FSM applies entries in log
// order, so all replicas compute identical replies and identical state.
//
//   - FSM: the Raft state machine over service.ReplicatedState
//   - RaftNode: hashicorp/raft with BoltDB log and stable stores
//   - Discovery: memberlist gossip that advertises Raft and RPC addresses
//   - Server: forwards writes from followers to the leader over a
//     Connect RPC with a JSON codec
//   - LocalNode: the same FSM without Raft, for single-node runs
//
// Read-only methods are answered from the local replica and may lag the
// leader by the replication delay.
package clusterserver
