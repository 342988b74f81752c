package enums

import "fmt"

// SyncStatus tracks a synchronization batch. Everything except pending and
// running is terminal.
type SyncStatus string

const (
	SyncStatusPending             SyncStatus = "pending"
	SyncStatusRunning             SyncStatus = "running"
	SyncStatusCompleted           SyncStatus = "completed"
	SyncStatusCompletedWithErrors SyncStatus = "completed_with_errors"
	SyncStatusFailed              SyncStatus = "failed"
	SyncStatusCancelled           SyncStatus = "cancelled"
)

var validSyncStatuses = []SyncStatus{
	SyncStatusPending,
	SyncStatusRunning,
	SyncStatusCompleted,
	SyncStatusCompletedWithErrors,
	SyncStatusFailed,
	SyncStatusCancelled,
}

// String implements fmt.Stringer.
func (s SyncStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SyncStatus.
func (s SyncStatus) IsValid() bool {
	for _, candidate := range validSyncStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the batch can no longer change.
func (s SyncStatus) IsTerminal() bool {
	return s != SyncStatusPending && s != SyncStatusRunning
}

// ParseSyncStatus converts raw input into a SyncStatus.
func ParseSyncStatus(value string) (SyncStatus, error) {
	for _, candidate := range validSyncStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync status %q", value)
}

// SyncType distinguishes what a batch pushed.
type SyncType string

const (
	SyncTypeInventory SyncType = "inventory"
	SyncTypeChannel   SyncType = "channel"
)

// String implements fmt.Stringer.
func (s SyncType) String() string {
	return string(s)
}
