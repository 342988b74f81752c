package enums

import "fmt"

// ConflictType classifies a divergence between local and channel state.
type ConflictType string

const (
	ConflictTypeStockMismatch ConflictType = "stock_mismatch"
	ConflictTypePriceMismatch ConflictType = "price_mismatch"
	ConflictTypeOversold      ConflictType = "oversold"
	ConflictTypeDuplicateSale ConflictType = "duplicate_sale"
	ConflictTypeSyncTimeout   ConflictType = "sync_timeout"
)

var validConflictTypes = []ConflictType{
	ConflictTypeStockMismatch,
	ConflictTypePriceMismatch,
	ConflictTypeOversold,
	ConflictTypeDuplicateSale,
	ConflictTypeSyncTimeout,
}

// String implements fmt.Stringer.
func (c ConflictType) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ConflictType.
func (c ConflictType) IsValid() bool {
	for _, candidate := range validConflictTypes {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsStock reports whether resolution operates on quantities.
func (c ConflictType) IsStock() bool {
	return c == ConflictTypeStockMismatch || c == ConflictTypeOversold
}

// ParseConflictType converts raw input into a ConflictType.
func ParseConflictType(value string) (ConflictType, error) {
	for _, candidate := range validConflictTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict type %q", value)
}

// ConflictPriority ranks how urgently a conflict should be handled.
type ConflictPriority string

const (
	ConflictPriorityLow      ConflictPriority = "low"
	ConflictPriorityMedium   ConflictPriority = "medium"
	ConflictPriorityHigh     ConflictPriority = "high"
	ConflictPriorityCritical ConflictPriority = "critical"
)

var validConflictPriorities = []ConflictPriority{
	ConflictPriorityLow,
	ConflictPriorityMedium,
	ConflictPriorityHigh,
	ConflictPriorityCritical,
}

// String implements fmt.Stringer.
func (c ConflictPriority) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ConflictPriority.
func (c ConflictPriority) IsValid() bool {
	for _, candidate := range validConflictPriorities {
		if candidate == c {
			return true
		}
	}
	return false
}

// ParseConflictPriority converts raw input into a ConflictPriority.
func ParseConflictPriority(value string) (ConflictPriority, error) {
	for _, candidate := range validConflictPriorities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict priority %q", value)
}

// ConflictStatus tracks the conflict lifecycle. Resolved and failed are terminal.
type ConflictStatus string

const (
	ConflictStatusPending  ConflictStatus = "pending"
	ConflictStatusResolved ConflictStatus = "resolved"
	ConflictStatusFailed   ConflictStatus = "failed"
)

var validConflictStatuses = []ConflictStatus{
	ConflictStatusPending,
	ConflictStatusResolved,
	ConflictStatusFailed,
}

// String implements fmt.Stringer.
func (c ConflictStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known ConflictStatus.
func (c ConflictStatus) IsValid() bool {
	for _, candidate := range validConflictStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (c ConflictStatus) IsTerminal() bool {
	return c == ConflictStatusResolved || c == ConflictStatusFailed
}

// ParseConflictStatus converts raw input into a ConflictStatus.
func ParseConflictStatus(value string) (ConflictStatus, error) {
	for _, candidate := range validConflictStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid conflict status %q", value)
}
