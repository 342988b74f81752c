package conflicts

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
)

// Thresholds configure the detection rules.
type Thresholds struct {
	StockMismatchPct  float64
	StockMismatchMin  int
	PriceMismatchPct  float64
	OversoldTolerance float64
}

// DefaultThresholds are the stock defaults used when config is absent.
var DefaultThresholds = Thresholds{
	StockMismatchPct:  0.10,
	StockMismatchMin:  5,
	PriceMismatchPct:  0.05,
	OversoldTolerance: 1.10,
}

// ThresholdsFromConfig maps the conflict config section.
func ThresholdsFromConfig(cfg config.ConflictConfig) Thresholds {
	return Thresholds{
		StockMismatchPct:  cfg.StockMismatchPct,
		StockMismatchMin:  cfg.StockMismatchMin,
		PriceMismatchPct:  cfg.PriceMismatchPct,
		OversoldTolerance: cfg.OversoldTolerance,
	}
}

// ChannelState is the last state one channel reported for a product.
type ChannelState struct {
	ChannelID   uuid.UUID
	ChannelType enums.ChannelType
	Stock       *int
	Price       decimal.NullDecimal
	ReportedAt  time.Time
	Allocated   int
	// AllocatedAt is when the local allocation last changed.
	AllocatedAt time.Time
}

// Finding is a conflict candidate produced by the rules, before dedupe.
type Finding struct {
	ChannelID        *uuid.UUID
	Type             enums.ConflictType
	Priority         enums.ConflictPriority
	LocalValue       float64
	Values           []models.ReportedValue
	DeviationPercent float64
}

// StockPriority buckets a percentage deviation.
func StockPriority(deviationPct float64) enums.ConflictPriority {
	switch {
	case deviationPct < 10:
		return enums.ConflictPriorityLow
	case deviationPct < 25:
		return enums.ConflictPriorityMedium
	case deviationPct <= 50:
		return enums.ConflictPriorityHigh
	default:
		return enums.ConflictPriorityCritical
	}
}

// Evaluate applies every rule to one product and the channels reporting on it.
func (t Thresholds) Evaluate(product models.Product, states []ChannelState, now time.Time) []Finding {
	var findings []Finding
	reportedStock := 0
	stockReporters := 0

	for _, state := range states {
		if state.Stock != nil {
			reportedStock += *state.Stock
			stockReporters++
			if f, ok := t.stockMismatch(product, state); ok {
				findings = append(findings, f)
			}
		}
		if state.Price.Valid {
			if f, ok := t.priceMismatch(product, state); ok {
				findings = append(findings, f)
			}
		}
	}

	if stockReporters > 0 && float64(reportedStock) > t.OversoldTolerance*float64(product.CurrentStock) {
		findings = append(findings, t.oversold(product, states, reportedStock, now))
	}
	return findings
}

func (t Thresholds) stockMismatch(product models.Product, state ChannelState) (Finding, bool) {
	diff := math.Abs(float64(*state.Stock - state.Allocated))
	threshold := math.Max(t.StockMismatchPct*float64(product.CurrentStock), float64(t.StockMismatchMin))
	if diff <= threshold {
		return Finding{}, false
	}
	deviation := percentOf(diff, float64(product.CurrentStock))
	channelID := state.ChannelID
	return Finding{
		ChannelID:        &channelID,
		Type:             enums.ConflictTypeStockMismatch,
		Priority:         StockPriority(deviation),
		LocalValue:       float64(state.Allocated),
		DeviationPercent: roundPct(deviation),
		Values: []models.ReportedValue{
			{ChannelType: enums.ChannelTypeInternal, Value: float64(state.Allocated), ReportedAt: state.AllocatedAt},
			{ChannelID: &channelID, ChannelType: state.ChannelType, Value: float64(*state.Stock), ReportedAt: state.ReportedAt},
		},
	}, true
}

func (t Thresholds) priceMismatch(product models.Product, state ChannelState) (Finding, bool) {
	local := product.Price
	diff := state.Price.Decimal.Sub(local).Abs()
	limit := local.Mul(decimal.NewFromFloat(t.PriceMismatchPct))
	if diff.LessThanOrEqual(limit) {
		return Finding{}, false
	}
	localValue := local.InexactFloat64()
	channelID := state.ChannelID
	return Finding{
		ChannelID:        &channelID,
		Type:             enums.ConflictTypePriceMismatch,
		Priority:         enums.ConflictPriorityMedium,
		LocalValue:       localValue,
		DeviationPercent: roundPct(percentOf(diff.InexactFloat64(), localValue)),
		Values: []models.ReportedValue{
			{ChannelType: enums.ChannelTypeInternal, Value: localValue, ReportedAt: product.UpdatedAt},
			{ChannelID: &channelID, ChannelType: state.ChannelType, Value: state.Price.Decimal.InexactFloat64(), ReportedAt: state.ReportedAt},
		},
	}, true
}

func (t Thresholds) oversold(product models.Product, states []ChannelState, reported int, now time.Time) Finding {
	values := []models.ReportedValue{
		{ChannelType: enums.ChannelTypeInternal, Value: float64(product.CurrentStock), ReportedAt: now},
	}
	for _, state := range states {
		if state.Stock == nil {
			continue
		}
		channelID := state.ChannelID
		values = append(values, models.ReportedValue{
			ChannelID:   &channelID,
			ChannelType: state.ChannelType,
			Value:       float64(*state.Stock),
			ReportedAt:  state.ReportedAt,
		})
	}
	excess := float64(reported - product.CurrentStock)
	return Finding{
		Type:             enums.ConflictTypeOversold,
		Priority:         enums.ConflictPriorityCritical,
		LocalValue:       float64(product.CurrentStock),
		Values:           values,
		DeviationPercent: roundPct(percentOf(excess, float64(product.CurrentStock))),
	}
}

// percentOf returns part/whole as a percentage, 100 when whole is zero.
func percentOf(part, whole float64) float64 {
	if whole <= 0 {
		return 100
	}
	return part * 100 / whole
}

// roundPct rounds a percentage to two decimals for storage.
func roundPct(pct float64) float64 {
	return math.Round(pct*100) / 100
}
