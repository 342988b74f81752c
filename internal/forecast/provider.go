// Package forecast supplies per-channel demand for the demand-weighted
// allocation strategy.
package forecast

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

const (
	defaultHorizonDays = 30
	defaultMinPoints   = 30
	defaultCacheTTL    = 24 * time.Hour
	// history fed to the model
	historyDays = 180
)

// Estimate is the horizon total for one channel.
type Estimate struct {
	Quantity    float64   `json:"quantity"`
	HorizonDays int       `json:"horizon_days"`
	Confidence  string    `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Options struct {
	Repo      *Repository
	Client    *Client
	Cache     redis.JSONStore
	KeyFunc   func(productID, channelID string) string
	Logger    *logger.Logger
	Horizon   int
	MinPoints int
	CacheTTL  time.Duration
}

// OptionsFromConfig copies horizon and cache settings from cfg.
func OptionsFromConfig(cfg config.ForecastConfig) Options {
	return Options{Horizon: cfg.Days, MinPoints: cfg.MinPoints, CacheTTL: cfg.CacheTTL}
}

// Provider resolves demand from the cache, the stored forecast, or a fresh
// estimate, in that order.
type Provider struct {
	repo      *Repository
	client    *Client
	cache     redis.JSONStore
	keyFn     func(string, string) string
	logg      *logger.Logger
	horizon   int
	minPoints int
	ttl       time.Duration
	now       func() time.Time
}

func NewProvider(opts Options) (*Provider, error) {
	if opts.Repo == nil {
		return nil, errors.New("forecast repository is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	p := &Provider{
		repo:      opts.Repo,
		client:    opts.Client,
		cache:     opts.Cache,
		keyFn:     opts.KeyFunc,
		logg:      opts.Logger,
		horizon:   opts.Horizon,
		minPoints: opts.MinPoints,
		ttl:       opts.CacheTTL,
		now:       func() time.Time { return time.Now().UTC() },
	}
	if p.keyFn == nil {
		p.keyFn = func(productID, channelID string) string { return "cs:forecast:" + productID + ":" + channelID }
	}
	if p.horizon <= 0 {
		p.horizon = defaultHorizonDays
	}
	if p.minPoints <= 0 {
		p.minPoints = defaultMinPoints
	}
	if p.ttl <= 0 {
		p.ttl = defaultCacheTTL
	}
	return p, nil
}

// DemandByChannel returns the forecast quantity over the horizon for each
// channel. A channel that cannot be estimated contributes zero.
func (p *Provider) DemandByChannel(ctx context.Context, productID uuid.UUID, channelIDs []uuid.UUID) (map[uuid.UUID]float64, error) {
	stored, err := p.repo.Stored(ctx, productID)
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]float64, len(channelIDs))
	for _, channelID := range channelIDs {
		if est, ok := p.cached(ctx, productID, channelID); ok {
			out[channelID] = est.Quantity
			continue
		}
		if row, ok := stored[channelID]; ok && p.now().Sub(row.GeneratedAt) < p.ttl {
			est := Estimate{Quantity: row.ForecastQuantity, HorizonDays: row.HorizonDays, Confidence: row.Confidence, GeneratedAt: row.GeneratedAt}
			p.remember(ctx, productID, channelID, est)
			out[channelID] = est.Quantity
			continue
		}
		est, err := p.Generate(ctx, productID, channelID)
		if err != nil {
			return nil, err
		}
		out[channelID] = est.Quantity
	}
	return out, nil
}

// Generate builds a fresh estimate, persists it and refreshes the cache.
func (p *Provider) Generate(ctx context.Context, productID, channelID uuid.UUID) (Estimate, error) {
	now := p.now()
	sales, err := p.repo.SalesSince(ctx, productID, channelID, now.AddDate(0, 0, -historyDays))
	if err != nil {
		return Estimate{}, err
	}
	points := DailySeries(sales, now)
	est := p.estimate(ctx, productID, points)
	est.GeneratedAt = now

	row := &models.DemandForecast{
		ProductID:        productID,
		ChannelID:        channelID,
		ForecastQuantity: est.Quantity,
		HorizonDays:      est.HorizonDays,
		Confidence:       est.Confidence,
		GeneratedAt:      now,
	}
	if err := p.repo.Upsert(ctx, row); err != nil {
		return Estimate{}, err
	}
	p.remember(ctx, productID, channelID, est)
	return est, nil
}

func (p *Provider) estimate(ctx context.Context, productID uuid.UUID, points []Point) Estimate {
	est := Estimate{HorizonDays: p.horizon, Confidence: ConfidenceLow}
	if len(points) == 0 {
		return est
	}
	if p.client != nil {
		resp, err := p.client.Forecast(ctx, Request{ProductID: productID.String(), SalesData: points})
		if err == nil && len(resp.Forecasts) > 0 {
			days := resp.Forecasts
			if len(days) > p.horizon {
				days = days[:p.horizon]
			}
			est.Quantity = Total(days)
			est.HorizonDays = len(days)
			if resp.ConfidenceLevel != "" {
				est.Confidence = resp.ConfidenceLevel
			}
			return est
		}
		if err == nil {
			err = errors.New("empty forecast")
		}
		p.logg.Warn(p.logg.WithFields(p.logg.WithProductID(ctx, productID.String()), map[string]any{"error": err.Error()}), "forecast service unavailable, using moving average")
	}
	est.Quantity = Total(MovingAverage(points, p.horizon))
	if len(points) >= p.minPoints {
		est.Confidence = ConfidenceMedium
	}
	return est
}

func (p *Provider) cached(ctx context.Context, productID, channelID uuid.UUID) (Estimate, bool) {
	if p.cache == nil {
		return Estimate{}, false
	}
	var est Estimate
	found, err := p.cache.GetJSON(ctx, p.keyFn(productID.String(), channelID.String()), &est)
	if err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "forecast cache read failed")
		return Estimate{}, false
	}
	return est, found
}

func (p *Provider) remember(ctx context.Context, productID, channelID uuid.UUID, est Estimate) {
	if p.cache == nil {
		return
	}
	ttl := p.ttl - p.now().Sub(est.GeneratedAt)
	if ttl <= 0 {
		return
	}
	if err := p.cache.SetJSON(ctx, p.keyFn(productID.String(), channelID.String()), est, ttl); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "forecast cache write failed")
	}
}
