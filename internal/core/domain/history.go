package domain

import "slices"

// DefaultMaxHistoryEntries is how many recent changes a canister keeps.
const DefaultMaxHistoryEntries = 20

// ChangeKind classifies a history entry.
type ChangeKind uint8

const (
	ChangeCreation ChangeKind = iota + 1
	ChangeCodeDeployment
	ChangeTakeSnapshot
	ChangeLoadSnapshot
)

// String returns the name of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case ChangeCreation:
		return "creation"
	case ChangeCodeDeployment:
		return "code_deployment"
	case ChangeTakeSnapshot:
		return "take_snapshot"
	case ChangeLoadSnapshot:
		return "load_snapshot"
	default:
		return "unknown"
	}
}

// ChangeOrigin records who caused a change.
type ChangeOrigin struct {
	Sender                PrincipalID `json:"sender"`
	SenderCanisterVersion *uint64     `json:"sender_canister_version,omitempty"`
}

// HistoryEntry is one change in a canister's history.
type HistoryEntry struct {
	Timestamp       uint64       `json:"timestamp"` // batch time, nanoseconds
	CanisterVersion uint64       `json:"canister_version"`
	Origin          ChangeOrigin `json:"origin"`
	Kind            ChangeKind   `json:"kind"`

	// Controllers is set for ChangeCreation.
	Controllers []PrincipalID `json:"controllers,omitempty"`

	// Snapshot fields are set for ChangeTakeSnapshot and ChangeLoadSnapshot.
	SnapshotID      []byte `json:"snapshot_id,omitempty"`
	SnapshotTakenAt uint64 `json:"snapshot_taken_at,omitempty"`

	// PrevVersion is the canister version before a load.
	PrevVersion uint64 `json:"prev_version,omitempty"`
}

// History is the append-only change log of one canister. Only the most
// recent Max entries are retained; TotalChanges counts all of them.
type History struct {
	Entries      []HistoryEntry `json:"entries"`
	TotalChanges uint64         `json:"total_changes"`
	Max          int            `json:"max"`
}

// NewHistory creates an empty history retaining up to max entries.
func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxHistoryEntries
	}
	return &History{Max: max}
}

// Append records an entry, dropping the oldest when full.
func (h *History) Append(e HistoryEntry) {
	h.Entries = append(h.Entries, e)
	h.TotalChanges++
	if over := len(h.Entries) - h.Max; over > 0 {
		h.Entries = slices.Delete(h.Entries, 0, over)
	}
}

// Last returns the most recent entry.
func (h *History) Last() (HistoryEntry, bool) {
	if h == nil || len(h.Entries) == 0 {
		return HistoryEntry{}, false
	}
	return h.Entries[len(h.Entries)-1], true
}

// Clone returns a deep copy.
func (h *History) Clone() *History {
	if h == nil {
		return nil
	}
	clone := &History{
		Entries:      make([]HistoryEntry, len(h.Entries)),
		TotalChanges: h.TotalChanges,
		Max:          h.Max,
	}
	for i, e := range h.Entries {
		e.Controllers = slices.Clone(e.Controllers)
		e.SnapshotID = slices.Clone(e.SnapshotID)
		clone.Entries[i] = e
	}
	return clone
}
