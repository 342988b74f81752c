package enums

import "fmt"

// AllocationStrategy names the algorithm used to split stock across channels.
type AllocationStrategy string

const (
	AllocationStrategyEqual       AllocationStrategy = "equal"
	AllocationStrategyPriority    AllocationStrategy = "priority_weighted"
	AllocationStrategyPerformance AllocationStrategy = "performance_weighted"
	AllocationStrategyDemand      AllocationStrategy = "demand_weighted"
	AllocationStrategyCustom      AllocationStrategy = "custom"
)

var validAllocationStrategies = []AllocationStrategy{
	AllocationStrategyEqual,
	AllocationStrategyPriority,
	AllocationStrategyPerformance,
	AllocationStrategyDemand,
	AllocationStrategyCustom,
}

// String implements fmt.Stringer.
func (a AllocationStrategy) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AllocationStrategy.
func (a AllocationStrategy) IsValid() bool {
	for _, candidate := range validAllocationStrategies {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAllocationStrategy converts raw input into an AllocationStrategy.
func ParseAllocationStrategy(value string) (AllocationStrategy, error) {
	for _, candidate := range validAllocationStrategies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid allocation strategy %q", value)
}
