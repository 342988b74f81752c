package conflicts

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

func sampleValues() []models.ReportedValue {
	shopify := uuid.New()
	ebay := uuid.New()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []models.ReportedValue{
		{ChannelType: enums.ChannelTypeInternal, Value: 100, ReportedAt: base},
		{ChannelID: &ebay, ChannelType: enums.ChannelTypeEbay, Value: 40, ReportedAt: base.Add(2 * time.Hour)},
		{ChannelID: &shopify, ChannelType: enums.ChannelTypeShopify, Value: 70, ReportedAt: base.Add(time.Hour)},
	}
}

func flatWeight(w float64) func(models.ReportedValue) float64 {
	return func(v models.ReportedValue) float64 {
		if v.ChannelType == enums.ChannelTypeInternal {
			return 1
		}
		return w
	}
}

func run(t *testing.T, name enums.ResolutionStrategy, in resolveInput) (float64, error) {
	t.Helper()
	r, err := ResolverFor(name)
	if err != nil {
		t.Fatalf("resolver %s: %v", name, err)
	}
	if r.Name() != name {
		t.Fatalf("registry mismatch: %s vs %s", r.Name(), name)
	}
	return r.resolve(in)
}

func TestResolversPickExpectedValues(t *testing.T) {
	in := resolveInput{Type: enums.ConflictTypeStockMismatch, Values: sampleValues(), Weight: flatWeight(0.8)}
	cases := map[enums.ResolutionStrategy]float64{
		enums.ResolutionLastWriteWins:  40,
		enums.ResolutionSourcePriority: 100,
		enums.ResolutionAggregate:      70,
		enums.ResolutionConservative:   40,
		// (100 + 0.8*40 + 0.8*70) / 2.6
		enums.ResolutionIntelligent: 188.0 / 2.6,
	}
	for name, want := range cases {
		got, err := run(t, name, in)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if diff := got - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestSourcePriorityWithoutInternalValue(t *testing.T) {
	values := sampleValues()[1:]
	got, err := run(t, enums.ResolutionSourcePriority, resolveInput{Type: enums.ConflictTypePriceMismatch, Values: values})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != 70 {
		t.Fatalf("expected shopify to outrank ebay, got %v", got)
	}
}

func TestStockOnlyResolversRejectPriceConflicts(t *testing.T) {
	in := resolveInput{Type: enums.ConflictTypePriceMismatch, Values: sampleValues()}
	for _, name := range []enums.ResolutionStrategy{enums.ResolutionAggregate, enums.ResolutionConservative} {
		if _, err := run(t, name, in); !pkgerrors.Is(err, pkgerrors.CodeConflictUnresolvable) {
			t.Fatalf("%s: expected unresolvable, got %v", name, err)
		}
	}
}

func TestResolversRejectEmptyValues(t *testing.T) {
	in := resolveInput{Type: enums.ConflictTypeStockMismatch, Weight: flatWeight(0.8)}
	for _, name := range []enums.ResolutionStrategy{
		enums.ResolutionLastWriteWins,
		enums.ResolutionSourcePriority,
		enums.ResolutionManualReview,
		enums.ResolutionIntelligent,
	} {
		if _, err := run(t, name, in); !pkgerrors.Is(err, pkgerrors.CodeConflictUnresolvable) {
			t.Fatalf("%s: expected unresolvable, got %v", name, err)
		}
	}
}

func TestIntelligentMergeNeedsWeight(t *testing.T) {
	values := sampleValues()[1:]
	if _, err := run(t, enums.ResolutionIntelligent, resolveInput{Type: enums.ConflictTypeStockMismatch, Values: values, Weight: flatWeight(0)}); !pkgerrors.Is(err, pkgerrors.CodeConflictUnresolvable) {
		t.Fatalf("expected unresolvable with zero weights, got %v", err)
	}
}

func TestResolverForRejectsUnknownAndManualValue(t *testing.T) {
	for _, name := range []enums.ResolutionStrategy{"coin_flip", enums.ResolutionManualValue} {
		if _, err := ResolverFor(name); !pkgerrors.Is(err, pkgerrors.CodeValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestPolicyTable(t *testing.T) {
	cases := []struct {
		kind     enums.ConflictType
		priority enums.ConflictPriority
		want     enums.ResolutionStrategy
	}{
		{enums.ConflictTypeStockMismatch, enums.ConflictPriorityLow, enums.ResolutionLastWriteWins},
		{enums.ConflictTypeStockMismatch, enums.ConflictPriorityMedium, enums.ResolutionIntelligent},
		{enums.ConflictTypeStockMismatch, enums.ConflictPriorityHigh, enums.ResolutionConservative},
		{enums.ConflictTypeOversold, enums.ConflictPriorityCritical, enums.ResolutionConservative},
		{enums.ConflictTypePriceMismatch, enums.ConflictPriorityMedium, enums.ResolutionSourcePriority},
		{enums.ConflictTypeStockMismatch, enums.ConflictPriorityCritical, enums.ResolutionManualReview},
		{enums.ConflictTypeDuplicateSale, enums.ConflictPriorityHigh, enums.ResolutionManualReview},
		{enums.ConflictTypeSyncTimeout, enums.ConflictPriorityMedium, enums.ResolutionManualReview},
		{enums.ConflictTypePriceMismatch, enums.ConflictPriorityHigh, enums.ResolutionManualReview},
	}
	for _, tc := range cases {
		if got := PolicyFor(tc.kind, tc.priority); got != tc.want {
			t.Fatalf("PolicyFor(%s, %s) = %s, want %s", tc.kind, tc.priority, got, tc.want)
		}
	}
}
