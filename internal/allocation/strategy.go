package allocation

import (
	"math"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// ChannelInput is what a strategy sees of one channel. Weight is filled by the
// service from the source the strategy asks for (priority, sales, forecast).
type ChannelInput struct {
	ChannelID uuid.UUID
	Priority  int
	Weight    float64
}

// Bounds constrain a channel under the custom strategy.
type Bounds struct {
	Min       int `json:"min" validate:"gte=0"`
	Max       int `json:"max" validate:"gte=0"`
	Preferred int `json:"preferred" validate:"gte=0"`
}

// BufferPolicy withholds min(floor(allocated*Percent), Cap) from sale.
type BufferPolicy struct {
	Percent float64
	Cap     int
}

// Buffer returns the withheld quantity for an allocation.
func (b BufferPolicy) Buffer(allocated int) int {
	if allocated <= 0 || b.Percent <= 0 {
		return 0
	}
	buffer := int(math.Floor(float64(allocated) * b.Percent))
	if b.Cap > 0 && buffer > b.Cap {
		buffer = b.Cap
	}
	return buffer
}

type weightSource int

const (
	weightNone weightSource = iota
	weightPriority
	weightSales
	weightDemand
)

// Strategy splits pool units across channels. Implementations are pure and
// return one share per input, in input order.
type Strategy interface {
	Name() enums.AllocationStrategy
	Split(channels []ChannelInput, pool int, bounds map[uuid.UUID]Bounds) ([]int, error)
	Buffer() BufferPolicy
	weights() weightSource
}

type equalStrategy struct{}

func (equalStrategy) Name() enums.AllocationStrategy { return enums.AllocationStrategyEqual }
func (equalStrategy) Buffer() BufferPolicy           { return BufferPolicy{Percent: 0.10, Cap: 5} }
func (equalStrategy) weights() weightSource          { return weightNone }

func (equalStrategy) Split(channels []ChannelInput, pool int, _ map[uuid.UUID]Bounds) ([]int, error) {
	return splitEqual(len(channels), pool), nil
}

// splitEqual gives floor(pool/n) to everyone and hands the remainder out one
// unit at a time in list order.
func splitEqual(n, pool int) []int {
	shares := make([]int, n)
	if n == 0 || pool <= 0 {
		return shares
	}
	base := pool / n
	remainder := pool % n
	for i := range shares {
		shares[i] = base
		if i < remainder {
			shares[i]++
		}
	}
	return shares
}

type weightedStrategy struct {
	name   enums.AllocationStrategy
	source weightSource
	buffer BufferPolicy
}

func (w weightedStrategy) Name() enums.AllocationStrategy { return w.name }
func (w weightedStrategy) Buffer() BufferPolicy           { return w.buffer }
func (w weightedStrategy) weights() weightSource          { return w.source }

func (w weightedStrategy) Split(channels []ChannelInput, pool int, _ map[uuid.UUID]Bounds) ([]int, error) {
	shares := make([]int, len(channels))
	if len(channels) == 0 || pool <= 0 {
		return shares, nil
	}
	total := 0.0
	for _, ch := range channels {
		if ch.Weight < 0 || math.IsNaN(ch.Weight) || math.IsInf(ch.Weight, 0) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "channel weights must be finite and non-negative")
		}
		total += ch.Weight
	}
	if total == 0 {
		return splitEqual(len(channels), pool), nil
	}
	for i, ch := range channels {
		shares[i] = int(math.Floor(float64(pool) * ch.Weight / total))
	}
	return shares, nil
}

type customStrategy struct{}

func (customStrategy) Name() enums.AllocationStrategy { return enums.AllocationStrategyCustom }
func (customStrategy) Buffer() BufferPolicy           { return BufferPolicy{} }
func (customStrategy) weights() weightSource          { return weightNone }

// Split fills every channel's minimum first, then tops up to the preferred
// quantity, then to the maximum, walking the list in order each round while
// pool remains. Channels without bounds receive nothing.
func (customStrategy) Split(channels []ChannelInput, pool int, bounds map[uuid.UUID]Bounds) ([]int, error) {
	shares := make([]int, len(channels))
	for _, ch := range channels {
		b, ok := bounds[ch.ChannelID]
		if !ok {
			continue
		}
		if b.Min < 0 || b.Max < 0 || b.Preferred < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom bounds must be non-negative")
		}
		if b.Min > b.Max {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "custom bound min exceeds max").
				WithDetails(map[string]any{"channel_id": ch.ChannelID})
		}
	}

	remaining := pool
	for _, target := range []func(Bounds) int{
		func(b Bounds) int { return b.Min },
		func(b Bounds) int { return clamp(b.Preferred, b.Min, b.Max) },
		func(b Bounds) int { return b.Max },
	} {
		for i, ch := range channels {
			if remaining <= 0 {
				return shares, nil
			}
			b, ok := bounds[ch.ChannelID]
			if !ok {
				continue
			}
			want := target(b) - shares[i]
			if want <= 0 {
				continue
			}
			if want > remaining {
				want = remaining
			}
			shares[i] += want
			remaining -= want
		}
	}
	return shares, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

var strategies = map[enums.AllocationStrategy]Strategy{
	enums.AllocationStrategyEqual: equalStrategy{},
	enums.AllocationStrategyPriority: weightedStrategy{
		name:   enums.AllocationStrategyPriority,
		source: weightPriority,
		buffer: BufferPolicy{Percent: 0.15, Cap: 10},
	},
	enums.AllocationStrategyPerformance: weightedStrategy{
		name:   enums.AllocationStrategyPerformance,
		source: weightSales,
		buffer: BufferPolicy{Percent: 0.20, Cap: 15},
	},
	enums.AllocationStrategyDemand: weightedStrategy{
		name:   enums.AllocationStrategyDemand,
		source: weightDemand,
		buffer: BufferPolicy{Percent: 0.25, Cap: 20},
	},
	enums.AllocationStrategyCustom: customStrategy{},
}

// StrategyFor returns the registered implementation for name.
func StrategyFor(name enums.AllocationStrategy) (Strategy, error) {
	strategy, ok := strategies[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown allocation strategy").
			WithDetails(map[string]any{"strategy": name})
	}
	return strategy, nil
}
