// Package checkpoint writes the replicated state to disk and reads it back.
//
// A checkpoint is one file per capture:
//
//	checkpoint-<round>-<utc time>.ckpt
//	[magic:8 "SNAPCKPT"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[DataLen:4][Data:DataLen]   (JSON state image, optionally sealed)
//	[checksum:32 SHA-256 of all bytes above]
//
// The header carries a murmur3 fingerprint of the unsealed image so that
// replicas can compare state without exchanging it. Sealed data uses the
// header bytes as associated data, so a header cannot be swapped between
// files.
//
// Recovery loads the newest file whose checksum, magic and fingerprint
// verify, falling back to older files.
package checkpoint
