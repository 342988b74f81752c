package conflicts

import (
	"math"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

// sourceRank orders channel types for source_priority; lower wins.
var sourceRank = map[enums.ChannelType]int{
	enums.ChannelTypeInternal:    0,
	enums.ChannelTypeShopify:     1,
	enums.ChannelTypeAmazon:      2,
	enums.ChannelTypeWooCommerce: 3,
	enums.ChannelTypeEbay:        4,
	enums.ChannelTypeCustom:      5,
}

type resolveInput struct {
	Type   enums.ConflictType
	Values []models.ReportedValue
	// Weight returns the reliability of the source behind a value.
	Weight func(models.ReportedValue) float64
}

// Resolver chooses the value a conflict settles on. The set is fixed; see ResolverFor.
type Resolver interface {
	Name() enums.ResolutionStrategy
	resolve(in resolveInput) (float64, error)
}

var resolvers = map[enums.ResolutionStrategy]Resolver{
	enums.ResolutionLastWriteWins:  lastWriteWins{},
	enums.ResolutionSourcePriority: sourcePriority{},
	enums.ResolutionManualReview:   manualReview{},
	enums.ResolutionAggregate:      aggregate{},
	enums.ResolutionConservative:   conservative{},
	enums.ResolutionIntelligent:    intelligentMerge{},
}

// ResolverFor returns the registered resolver for name.
func ResolverFor(name enums.ResolutionStrategy) (Resolver, error) {
	r, ok := resolvers[name]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown resolution strategy").
			WithDetails(map[string]any{"strategy": name})
	}
	return r, nil
}

func unresolvable(msg string) error {
	return pkgerrors.New(pkgerrors.CodeConflictUnresolvable, msg)
}

func requireValues(in resolveInput) error {
	if len(in.Values) == 0 {
		return unresolvable("conflict has no reported values")
	}
	return nil
}

type lastWriteWins struct{}

func (lastWriteWins) Name() enums.ResolutionStrategy { return enums.ResolutionLastWriteWins }

func (lastWriteWins) resolve(in resolveInput) (float64, error) {
	if err := requireValues(in); err != nil {
		return 0, err
	}
	latest := in.Values[0]
	for _, v := range in.Values[1:] {
		if v.ReportedAt.After(latest.ReportedAt) {
			latest = v
		}
	}
	return latest.Value, nil
}

type sourcePriority struct{}

func (sourcePriority) Name() enums.ResolutionStrategy { return enums.ResolutionSourcePriority }

func (sourcePriority) resolve(in resolveInput) (float64, error) {
	if err := requireValues(in); err != nil {
		return 0, err
	}
	best := in.Values[0]
	for _, v := range in.Values[1:] {
		if rankOf(v.ChannelType) < rankOf(best.ChannelType) {
			best = v
		}
	}
	return best.Value, nil
}

func rankOf(t enums.ChannelType) int {
	if rank, ok := sourceRank[t]; ok {
		return rank
	}
	return len(sourceRank)
}

type manualReview struct{}

func (manualReview) Name() enums.ResolutionStrategy { return enums.ResolutionManualReview }

func (manualReview) resolve(resolveInput) (float64, error) {
	return 0, unresolvable("conflict requires manual review")
}

type aggregate struct{}

func (aggregate) Name() enums.ResolutionStrategy { return enums.ResolutionAggregate }

func (aggregate) resolve(in resolveInput) (float64, error) {
	if !in.Type.IsStock() {
		return 0, unresolvable("aggregate approach only applies to stock conflicts")
	}
	if err := requireValues(in); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, v := range in.Values {
		sum += v.Value
	}
	return sum / float64(len(in.Values)), nil
}

type conservative struct{}

func (conservative) Name() enums.ResolutionStrategy { return enums.ResolutionConservative }

func (conservative) resolve(in resolveInput) (float64, error) {
	if !in.Type.IsStock() {
		return 0, unresolvable("conservative approach only applies to stock conflicts")
	}
	if err := requireValues(in); err != nil {
		return 0, err
	}
	low := math.Inf(1)
	for _, v := range in.Values {
		low = math.Min(low, v.Value)
	}
	return low, nil
}

type intelligentMerge struct{}

func (intelligentMerge) Name() enums.ResolutionStrategy { return enums.ResolutionIntelligent }

func (intelligentMerge) resolve(in resolveInput) (float64, error) {
	if err := requireValues(in); err != nil {
		return 0, err
	}
	var weighted, total float64
	for _, v := range in.Values {
		w := in.Weight(v)
		if w < 0 || math.IsNaN(w) {
			w = 0
		}
		weighted += v.Value * w
		total += w
	}
	if total == 0 {
		return 0, unresolvable("no reliable source for intelligent merge")
	}
	return weighted / total, nil
}

// policy is the auto-resolution table keyed by (type, priority).
var policy = map[enums.ConflictType]map[enums.ConflictPriority]enums.ResolutionStrategy{
	enums.ConflictTypeStockMismatch: {
		enums.ConflictPriorityLow:    enums.ResolutionLastWriteWins,
		enums.ConflictPriorityMedium: enums.ResolutionIntelligent,
		enums.ConflictPriorityHigh:   enums.ResolutionConservative,
	},
	enums.ConflictTypeOversold: {
		enums.ConflictPriorityCritical: enums.ResolutionConservative,
	},
	enums.ConflictTypePriceMismatch: {
		enums.ConflictPriorityMedium: enums.ResolutionSourcePriority,
	},
}

// PolicyFor returns the auto-resolution strategy, manual_review when unmapped.
func PolicyFor(t enums.ConflictType, p enums.ConflictPriority) enums.ResolutionStrategy {
	if strategy, ok := policy[t][p]; ok {
		return strategy
	}
	return enums.ResolutionManualReview
}
