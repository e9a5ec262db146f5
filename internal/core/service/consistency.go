package service

import (
	"errors"
	"fmt"
)

// CheckConsistency recomputes every derived figure and compares it with
// the stored one:
//
//   - each canister's SnapshotsMemoryUsage equals its store usage
//   - every snapshot belongs to an existing canister
//   - the ledger's used memory equals live state plus snapshots
//
// It returns nil when everything matches, or all mismatches joined.
func (m *SnapshotManager) CheckConsistency() error {
	var (
		errs      []error
		live      uint64
		snapshots uint64
		owned     int
	)

	for _, c := range m.canisters.List() {
		usage := m.snapshots.MemoryUsage(c.ID)
		if c.SnapshotsMemoryUsage != usage {
			errs = append(errs, fmt.Errorf("canister %s: snapshots memory usage %d, store has %d",
				c.ID, c.SnapshotsMemoryUsage, usage))
		}
		live += liveStateSize(c)
		snapshots += usage
		owned += m.snapshots.Count(c.ID)
	}

	if total := m.snapshots.Len(); owned != total {
		errs = append(errs, fmt.Errorf("%d snapshots belong to no canister", total-owned))
	}
	if total := m.snapshots.TotalMemoryUsage(); total != snapshots {
		errs = append(errs, fmt.Errorf("store holds %d snapshot bytes, canisters account for %d", total, snapshots))
	}
	if used := m.ledger.Used(); used != live+snapshots {
		errs = append(errs, fmt.Errorf("ledger reports %d bytes used, live state %d plus snapshots %d",
			used, live, snapshots))
	}

	return errors.Join(errs...)
}
