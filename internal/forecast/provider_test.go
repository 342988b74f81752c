package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
)

type memoryCache struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
}

func (m *memoryCache) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[key] = payload
	return nil
}

func (m *memoryCache) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func seedSales(t *testing.T, conn *gorm.DB, productID, channelID uuid.UUID, days, qty int) {
	t.Helper()
	for i := 0; i < days; i++ {
		sale := models.ChannelSale{
			ProductID: productID,
			ChannelID: channelID,
			OrderID:   uuid.NewString(),
			Quantity:  qty,
			SoldAt:    dbtest.Epoch.AddDate(0, 0, -i),
		}
		require.NoError(t, conn.Create(&sale).Error)
	}
}

func newProvider(t *testing.T, conn *gorm.DB, cache *memoryCache, client *Client) *Provider {
	t.Helper()
	opts := Options{Repo: NewRepository(conn), Client: client, Logger: logger.Nop(), Horizon: 30, MinPoints: 30, CacheTTL: 24 * time.Hour}
	if cache != nil {
		opts.Cache = cache
	}
	p, err := NewProvider(opts)
	require.NoError(t, err)
	p.now = func() time.Time { return dbtest.Epoch }
	return p
}

func TestDemandByChannelFallsBackToMovingAverage(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	productID, busy, quiet := uuid.New(), uuid.New(), uuid.New()
	seedSales(t, conn, productID, busy, 5, 2)

	cache := &memoryCache{}
	p := newProvider(t, conn, cache, nil)
	demand, err := p.DemandByChannel(ctx, productID, []uuid.UUID{busy, quiet})
	require.NoError(t, err)
	require.Equal(t, 60.0, demand[busy])
	require.Equal(t, 0.0, demand[quiet])

	stored, err := NewRepository(conn).Stored(ctx, productID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.Equal(t, ConfidenceLow, stored[busy].Confidence)
	require.Equal(t, 30, stored[busy].HorizonDays)

	var est Estimate
	found, err := cache.GetJSON(ctx, "cs:forecast:"+productID.String()+":"+busy.String(), &est)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 60.0, est.Quantity)
}

func TestDemandByChannelPrefersCache(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	productID, channelID := uuid.New(), uuid.New()
	cache := &memoryCache{}
	require.NoError(t, cache.SetJSON(ctx, "cs:forecast:"+productID.String()+":"+channelID.String(), Estimate{Quantity: 42}, time.Hour))

	p := newProvider(t, conn, cache, nil)
	demand, err := p.DemandByChannel(ctx, productID, []uuid.UUID{channelID})
	require.NoError(t, err)
	require.Equal(t, 42.0, demand[channelID])

	stored, err := NewRepository(conn).Stored(ctx, productID)
	require.NoError(t, err)
	require.Empty(t, stored)
}

func TestDemandByChannelUsesFreshStoredForecast(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	productID, fresh, stale := uuid.New(), uuid.New(), uuid.New()
	repo := NewRepository(conn)
	require.NoError(t, repo.Upsert(ctx, &models.DemandForecast{ProductID: productID, ChannelID: fresh, ForecastQuantity: 15, HorizonDays: 30, Confidence: ConfidenceHigh, GeneratedAt: dbtest.Epoch.Add(-time.Hour)}))
	require.NoError(t, repo.Upsert(ctx, &models.DemandForecast{ProductID: productID, ChannelID: stale, ForecastQuantity: 99, HorizonDays: 30, Confidence: ConfidenceHigh, GeneratedAt: dbtest.Epoch.Add(-48 * time.Hour)}))
	seedSales(t, conn, productID, stale, 2, 1)

	p := newProvider(t, conn, nil, nil)
	demand, err := p.DemandByChannel(ctx, productID, []uuid.UUID{fresh, stale})
	require.NoError(t, err)
	require.Equal(t, 15.0, demand[fresh])
	require.Equal(t, 30.0, demand[stale])

	stored, err := repo.Stored(ctx, productID)
	require.NoError(t, err)
	require.Equal(t, 30.0, stored[stale].ForecastQuantity)
	require.Equal(t, ConfidenceLow, stored[stale].Confidence)
	require.Len(t, stored, 2)
}

func TestGenerateUsesForecastService(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	productID, channelID := uuid.New(), uuid.New()
	seedSales(t, conn, productID, channelID, 3, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forecast", r.URL.Path)
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, productID.String(), req.ProductID)
		assert.Len(t, req.SalesData, 3)
		_, _ = w.Write([]byte(`{"product_id":"p","confidence_level":"medium","forecasts":[
			{"date":"2026-01-06","predicted_demand":5.5},
			{"date":"2026-01-07","predicted_demand":5.5},
			{"date":"2026-01-08","predicted_demand":5.5}]}`))
	}))
	defer srv.Close()

	p := newProvider(t, conn, nil, NewClient(srv.URL, time.Second))
	est, err := p.Generate(ctx, productID, channelID)
	require.NoError(t, err)
	require.Equal(t, 16.5, est.Quantity)
	require.Equal(t, 3, est.HorizonDays)
	require.Equal(t, ConfidenceMedium, est.Confidence)
}

func TestGenerateFallsBackWhenServiceFails(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.Open(t)
	productID, channelID := uuid.New(), uuid.New()
	seedSales(t, conn, productID, channelID, 3, 1)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newProvider(t, conn, nil, NewClient(srv.URL, time.Second))
	est, err := p.Generate(ctx, productID, channelID)
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 30.0, est.Quantity)
	require.Equal(t, ConfidenceLow, est.Confidence)
}

func TestClientErrors(t *testing.T) {
	require.Nil(t, NewClient("  ", time.Second))

	var nilClient *Client
	_, err := nilClient.Forecast(context.Background(), Request{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Missing sales_data in request"}`))
	}))
	defer srv.Close()
	_, err = NewClient(srv.URL, time.Second).Forecast(context.Background(), Request{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
}
