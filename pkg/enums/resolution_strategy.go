package enums

import "fmt"

// ResolutionStrategy names how a conflict value is chosen.
type ResolutionStrategy string

const (
	ResolutionLastWriteWins  ResolutionStrategy = "last_write_wins"
	ResolutionSourcePriority ResolutionStrategy = "source_priority"
	ResolutionManualReview   ResolutionStrategy = "manual_review"
	ResolutionAggregate      ResolutionStrategy = "aggregate_approach"
	ResolutionConservative   ResolutionStrategy = "conservative_approach"
	ResolutionIntelligent    ResolutionStrategy = "intelligent_merge"
	// ResolutionManualValue records an operator supplied value.
	ResolutionManualValue ResolutionStrategy = "manual_value"
)

var validResolutionStrategies = []ResolutionStrategy{
	ResolutionLastWriteWins,
	ResolutionSourcePriority,
	ResolutionManualReview,
	ResolutionAggregate,
	ResolutionConservative,
	ResolutionIntelligent,
	ResolutionManualValue,
}

// String implements fmt.Stringer.
func (r ResolutionStrategy) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ResolutionStrategy.
func (r ResolutionStrategy) IsValid() bool {
	for _, candidate := range validResolutionStrategies {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseResolutionStrategy converts raw input into a ResolutionStrategy.
func ParseResolutionStrategy(value string) (ResolutionStrategy, error) {
	for _, candidate := range validResolutionStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resolution strategy %q", value)
}
