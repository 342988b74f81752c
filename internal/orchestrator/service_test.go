package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/channelstock-backend/internal/allocation"
	"github.com/angelmondragon/channelstock-backend/internal/conflicts"
	"github.com/angelmondragon/channelstock-backend/internal/connectors"
	"github.com/angelmondragon/channelstock-backend/internal/synctracker"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	dbpkg "github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/db/dbtest"
	"github.com/angelmondragon/channelstock-backend/pkg/db/models"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
	"github.com/angelmondragon/channelstock-backend/pkg/idempotency"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/outbox"
	"github.com/angelmondragon/channelstock-backend/pkg/vault"
)

const testMasterKey = "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY="

// fakeChannel speaks the custom dialect.
type fakeChannel struct {
	t         *testing.T
	srv       *httptest.Server
	mu        sync.Mutex
	healthy   bool
	pushCode  int
	pushDelay time.Duration
	onPush    func()
	pushes    []connectors.SyncRequest
	levels    map[string]int
}

func newFakeChannel(t *testing.T) *fakeChannel {
	t.Helper()
	f := &fakeChannel{t: t, healthy: true, pushCode: http.StatusOK, levels: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-123", r.Header.Get("X-Api-Key"))
		f.mu.Lock()
		healthy := f.healthy
		f.mu.Unlock()
		if !healthy {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /inventory", func(w http.ResponseWriter, r *http.Request) {
		var req connectors.SyncRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.pushes = append(f.pushes, req)
		code, delay, hook := f.pushCode, f.pushDelay, f.onPush
		f.mu.Unlock()
		if hook != nil {
			hook()
		}
		if delay > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
		}
		if code != http.StatusOK {
			http.Error(w, "upstream failure", code)
			return
		}
		_ = json.NewEncoder(w).Encode(connectors.SyncResponse{Successful: len(req.Updates)})
	})
	mux.HandleFunc("POST /inventory/query", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ExternalIDs []string `json:"external_ids"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mu.Lock()
		defer f.mu.Unlock()
		levels := make([]map[string]any, 0, len(body.ExternalIDs))
		for _, id := range body.ExternalIDs {
			if stock, ok := f.levels[id]; ok {
				levels = append(levels, map[string]any{"external_product_id": id, "stock": stock})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"levels": levels})
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeChannel) credentials() connectors.Credentials {
	return connectors.Credentials{BaseURL: f.srv.URL, APIKey: "key-123"}
}

func (f *fakeChannel) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func (f *fakeChannel) lastPush() connectors.SyncRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.pushes)
	return f.pushes[len(f.pushes)-1]
}

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func (m *memoryClaims) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = struct{}{}
	return true, nil
}

func (m *memoryClaims) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryClaims) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.keys, k)
	}
	return nil
}

type harness struct {
	conn     *gorm.DB
	svc      *Service
	tracker  *synctracker.Tracker
	registry *connectors.Registry
	storeID  uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	runner := dbpkg.Wrap(conn)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	allocRepo := allocation.NewRepository(conn)

	alloc, err := allocation.NewService(allocation.ServiceParams{
		DB:     runner,
		Repo:   allocRepo,
		Outbox: emitter,
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	engine, err := conflicts.NewService(conflicts.ServiceParams{
		DB:        runner,
		Repo:      conflicts.NewRepository(conn),
		Allocator: alloc,
		Outbox:    emitter,
		Logger:    logger.Nop(),
	})
	require.NoError(t, err)
	tracker, err := synctracker.New(synctracker.Options{
		Repo:   synctracker.NewRepository(conn),
		Logger: logger.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(tracker.Close)
	v, err := vault.New(config.VaultConfig{MasterKey: testMasterKey})
	require.NoError(t, err)
	idem, err := idempotency.NewGuard(&memoryClaims{keys: map[string]struct{}{}}, time.Hour)
	require.NoError(t, err)
	registry := connectors.NewRegistry(connectors.ClientOptions{RatePerMin: 600000, Timeout: 5 * time.Second})

	svc, err := NewService(ServiceParams{
		DB:          runner,
		Repo:        NewRepository(conn),
		Allocations: allocRepo,
		Allocator:   alloc,
		Conflicts:   engine,
		Tracker:     tracker,
		Registry:    registry,
		Vault:       v,
		Outbox:      emitter,
		Idempotency: idem,
		Logger:      logger.Nop(),
		Options:     Options{Concurrency: 1, ChannelTimeout: 5 * time.Second, AutoResolve: false},
	})
	require.NoError(t, err)
	return &harness{conn: conn, svc: svc, tracker: tracker, registry: registry, storeID: uuid.New()}
}

func (h *harness) connect(t *testing.T, fake *fakeChannel, ref string, priority int) models.Channel {
	t.Helper()
	secret := "whsec-" + ref
	res, err := h.svc.ConnectChannel(context.Background(), h.storeID, ConnectInput{
		Type:          enums.ChannelTypeCustom,
		ExternalRef:   ref,
		Credentials:   fake.credentials(),
		WebhookSecret: &secret,
		Priority:      priority,
	})
	require.NoError(t, err)
	return res.Channel
}

// list maps a product onto the channel and sets its allocation.
func (h *harness) list(t *testing.T, product models.Product, channel models.Channel, externalID string, allocated, reserved, buffer int) {
	t.Helper()
	require.NoError(t, h.conn.Create(&models.ChannelProduct{
		ProductID:         product.ID,
		ChannelID:         channel.ID,
		ExternalProductID: externalID,
		SyncEnabled:       true,
	}).Error)
	require.NoError(t, h.conn.Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ?", product.ID, channel.ID).
		Updates(map[string]any{
			"allocated_quantity": allocated,
			"reserved_quantity":  reserved,
			"buffer_quantity":    buffer,
		}).Error)
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func (h *harness) credential(t *testing.T, channelID uuid.UUID) models.ChannelCredential {
	t.Helper()
	var cred models.ChannelCredential
	require.NoError(t, h.conn.First(&cred, "channel_id = ?", channelID).Error)
	return cred
}

func (h *harness) webhook(t *testing.T, channel models.Channel, eventID string, body map[string]any, secret string) (*WebhookResult, error) {
	t.Helper()
	def, err := h.registry.Lookup(enums.ChannelTypeCustom)
	require.NoError(t, err)
	body["event_id"] = eventID
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	headers := http.Header{}
	headers.Set(def.StoreHeader, channel.ExternalRef)
	headers.Set(def.EventIDHeader, eventID)
	headers.Set(def.SignatureHeader, def.Sign(payload, secret))
	return h.svc.HandleWebhook(context.Background(), "Custom", payload, headers)
}

func TestConnectChannelSealsCredentialsAndBootstraps(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	dbtest.SeedProduct(t, h.conn, h.storeID, 10)
	dbtest.SeedProduct(t, h.conn, h.storeID, 20)

	res, err := h.svc.ConnectChannel(context.Background(), h.storeID, ConnectInput{
		Type:        enums.ChannelTypeCustom,
		ExternalRef: "shop-a",
		Credentials: fake.credentials(),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Bootstrapped)
	require.Equal(t, "Custom", res.Channel.Name)
	require.True(t, res.Channel.IsActive)
	require.True(t, res.Channel.SyncEnabled)

	cred := h.credential(t, res.Channel.ID)
	require.True(t, cred.IsValid)
	require.NotContains(t, string(cred.Ciphertext), "key-123")

	var allocs []models.Allocation
	require.NoError(t, h.conn.Where("channel_id = ?", res.Channel.ID).Find(&allocs).Error)
	require.Len(t, allocs, 2)
	for _, a := range allocs {
		require.Zero(t, a.AllocatedQuantity)
	}
	require.EqualValues(t, 1, h.countEvents(t, enums.EventChannelConnected))
}

func TestConnectChannelRejectsUnhealthyChannel(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	fake.healthy = false

	_, err := h.svc.ConnectChannel(context.Background(), h.storeID, ConnectInput{
		Type:        enums.ChannelTypeCustom,
		Credentials: fake.credentials(),
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConnector))

	var n int64
	require.NoError(t, h.conn.Model(&models.Channel{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestConnectChannelRejectsIncompleteCredentials(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.ConnectChannel(context.Background(), h.storeID, ConnectInput{
		Type:        enums.ChannelTypeCustom,
		Credentials: connectors.Credentials{APIKey: "key-123"},
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDisconnectThenReconnectReusesChannel(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 10)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 5, 0, 0)

	require.NoError(t, h.svc.DisconnectChannel(context.Background(), h.storeID, channel.ID, nil))

	var reloaded models.Channel
	require.NoError(t, h.conn.First(&reloaded, "id = ?", channel.ID).Error)
	require.False(t, reloaded.IsActive)
	require.False(t, reloaded.SyncEnabled)
	for _, model := range []any{&models.ChannelCredential{}, &models.ChannelProduct{}, &models.Allocation{}} {
		var n int64
		require.NoError(t, h.conn.Model(model).Where("channel_id = ?", channel.ID).Count(&n).Error)
		require.Zero(t, n)
	}
	require.EqualValues(t, 1, h.countEvents(t, enums.EventChannelDisconnected))

	again := h.connect(t, fake, "shop-a", 1)
	require.Equal(t, channel.ID, again.ID)
	require.True(t, again.IsActive)
}

func TestDisconnectUnknownChannel(t *testing.T) {
	h := newHarness(t)
	err := h.svc.DisconnectChannel(context.Background(), h.storeID, uuid.New(), nil)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSyncChannelInventoryPushesSellableAndReadsBack(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 10, 2, 1)
	fake.levels["EXT-1"] = 7

	out, err := h.svc.SyncChannelInventory(context.Background(), h.storeID, channel.ID)
	require.NoError(t, err)
	require.True(t, out.Response.Success)
	require.Equal(t, 1, out.Response.Successful)
	require.Equal(t, 1, out.Pulled)

	push := fake.lastPush()
	require.Len(t, push.Updates, 1)
	require.Equal(t, 7, push.Updates[0].Quantity)
	require.Equal(t, "EXT-1", push.Updates[0].ExternalProductID)

	var cp models.ChannelProduct
	require.NoError(t, h.conn.First(&cp, "channel_id = ?", channel.ID).Error)
	require.NotNil(t, cp.LastSyncedAt)
	require.NotNil(t, cp.ChannelStock)
	require.Equal(t, 7, *cp.ChannelStock)

	var status models.SyncStatus
	require.NoError(t, h.conn.Where("channel_id = ?", channel.ID).First(&status).Error)
	require.Equal(t, enums.SyncStatusCompleted, status.Status)
	require.Nil(t, status.SyncID)
}

func TestSyncChannelInventoryRejectsInactiveChannel(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	channel := h.connect(t, fake, "shop-a", 1)
	require.NoError(t, h.svc.DisconnectChannel(context.Background(), h.storeID, channel.ID, nil))

	_, err := h.svc.SyncChannelInventory(context.Background(), h.storeID, channel.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestSyncInventoryAllChannelsIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	good := newFakeChannel(t)
	bad := newFakeChannel(t)
	bad.pushCode = http.StatusBadGateway
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	first := h.connect(t, good, "shop-a", 2)
	second := h.connect(t, bad, "shop-b", 1)
	h.list(t, product, first, "A-1", 10, 0, 0)
	h.list(t, product, second, "B-1", 10, 0, 0)

	batch, err := h.svc.SyncInventoryAllChannels(context.Background(), h.storeID, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompletedWithErrors, batch.Status)
	require.Equal(t, 2, batch.TotalChannels)
	require.Equal(t, 1, batch.SuccessCount)
	require.Equal(t, 1, batch.FailureCount)
	require.Len(t, batch.Results, 2)

	byChannel := map[uuid.UUID]models.ChannelResult{}
	for _, r := range batch.Results {
		byChannel[r.ChannelID] = r
	}
	require.True(t, byChannel[first.ID].Success)
	require.False(t, byChannel[second.ID].Success)
	require.Equal(t, string(pkgerrors.CodeConnector), byChannel[second.ID].ErrorCode)

	snap, err := h.tracker.Get(context.Background(), batch.SyncID)
	require.NoError(t, err)
	require.Equal(t, 100, snap.Progress)
	require.EqualValues(t, 1, h.countEvents(t, enums.EventSyncCompleted))

	var statuses []models.SyncStatus
	require.NoError(t, h.conn.Where("sync_id = ?", batch.SyncID).Find(&statuses).Error)
	require.Len(t, statuses, 2)
}

func TestSyncInventoryAllChannelsWithoutChannelsCompletes(t *testing.T) {
	h := newHarness(t)

	batch, err := h.svc.SyncInventoryAllChannels(context.Background(), h.storeID, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompleted, batch.Status)
	require.Zero(t, batch.TotalChannels)
	require.Empty(t, batch.Results)
}

func TestSyncInventoryAllChannelsStopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	first := newFakeChannel(t)
	second := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	a := h.connect(t, first, "shop-a", 2)
	b := h.connect(t, second, "shop-b", 1)
	h.list(t, product, a, "A-1", 10, 0, 0)
	h.list(t, product, b, "B-1", 10, 0, 0)

	syncID := uuid.New()
	first.onPush = func() {
		_, err := h.tracker.Cancel(context.Background(), syncID, "operator")
		assert.NoError(t, err)
	}

	batch, err := h.svc.SyncInventoryAllChannels(context.Background(), h.storeID, SyncOptions{SyncID: syncID})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCancelled, batch.Status)
	require.Equal(t, 1, first.pushCount())
	require.Zero(t, second.pushCount())
}

func TestSyncInventoryAllChannelsFinishesInterruptedBatch(t *testing.T) {
	h := newHarness(t)
	first := newFakeChannel(t)
	second := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	a := h.connect(t, first, "shop-a", 2)
	b := h.connect(t, second, "shop-b", 1)
	h.list(t, product, a, "A-1", 10, 0, 0)
	h.list(t, product, b, "B-1", 10, 0, 0)

	ctx, shutdown := context.WithCancel(context.Background())
	defer shutdown()
	first.onPush = shutdown

	syncID := uuid.New()
	batch, err := h.svc.SyncInventoryAllChannels(ctx, h.storeID, SyncOptions{SyncID: syncID})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, batch)
	require.Equal(t, enums.SyncStatusFailed, batch.Status)
	require.Zero(t, second.pushCount())

	var op models.SyncOperation
	require.NoError(t, h.conn.First(&op, "sync_id = ?", syncID).Error)
	require.Equal(t, enums.SyncStatusFailed, op.Status)
	require.NotNil(t, op.CompletedAt)
	require.NotNil(t, op.Error)
	require.Contains(t, *op.Error, "interrupted")
	require.EqualValues(t, 1, h.countEvents(t, enums.EventSyncCompleted))
}

func TestSyncTimeoutRecordsConflicts(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	fake.pushDelay = 2 * time.Second
	h.svc.opts.ChannelTimeout = 100 * time.Millisecond
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 10, 0, 0)

	batch, err := h.svc.SyncInventoryAllChannels(context.Background(), h.storeID, SyncOptions{})
	require.NoError(t, err)
	require.Equal(t, enums.SyncStatusCompletedWithErrors, batch.Status)
	require.Equal(t, 1, batch.FailureCount)
	require.Equal(t, string(pkgerrors.CodeConnector), batch.Results[0].ErrorCode)
	require.True(t, batch.Results[0].Retryable)

	var found []models.Conflict
	require.NoError(t, h.conn.Where("product_id = ?", product.ID).Find(&found).Error)
	require.Len(t, found, 1)
	require.Equal(t, enums.ConflictTypeSyncTimeout, found[0].Type)
	require.Equal(t, enums.ConflictPriorityMedium, found[0].Priority)
	require.NotNil(t, found[0].ChannelID)
	require.Equal(t, channel.ID, *found[0].ChannelID)
}

func TestCorruptCredentialsAreInvalidated(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 10, 0, 0)

	require.NoError(t, h.conn.Model(&models.ChannelCredential{}).
		Where("channel_id = ?", channel.ID).
		Update("ciphertext", []byte("garbage-garbage-garbage")).Error)
	h.svc.connectors.Purge()

	_, err := h.svc.SyncChannelInventory(context.Background(), h.storeID, channel.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeCredential))
	require.Zero(t, fake.pushCount())

	cred := h.credential(t, channel.ID)
	require.False(t, cred.IsValid)
	require.NotNil(t, cred.LastError)

	channels, err := h.svc.repo.ListSyncableChannels(context.Background(), h.storeID)
	require.NoError(t, err)
	require.Empty(t, channels)
}

func TestRejectedCredentialsDuringPushAreInvalidated(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	fake.pushCode = http.StatusUnauthorized
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 30)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 10, 0, 0)

	_, err := h.svc.SyncChannelInventory(context.Background(), h.storeID, channel.ID)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeCredential))
	require.False(t, h.credential(t, channel.ID).IsValid)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	channel := h.connect(t, fake, "shop-a", 1)

	res, err := h.webhook(t, channel, "evt-1", map[string]any{"type": "inventory_update"}, "wrong-secret")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))
	require.Equal(t, enums.WebhookStatusInvalidSignature, res.Status)

	var entry models.WebhookLog
	require.NoError(t, h.conn.First(&entry, "id = ?", res.LogID).Error)
	require.Equal(t, enums.WebhookStatusInvalidSignature, entry.Status)
	require.False(t, entry.SignatureValid)
	require.NotNil(t, entry.ChannelID)
	require.Equal(t, channel.ID, *entry.ChannelID)
}

func TestHandleWebhookUnknownChannel(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	channel := h.connect(t, fake, "shop-a", 1)
	channel.ExternalRef = "shop-missing"

	res, err := h.webhook(t, channel, "evt-1", map[string]any{"type": "inventory_update"}, "whsec-shop-a")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	require.Equal(t, enums.WebhookStatusFailed, res.Status)
}

func TestHandleWebhookUnsupportedChannelType(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.HandleWebhook(context.Background(), "myspace", []byte(`{}`), http.Header{})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	var entry models.WebhookLog
	require.NoError(t, h.conn.First(&entry, "id = ?", res.LogID).Error)
	require.Equal(t, enums.WebhookStatusFailed, entry.Status)
	require.Equal(t, enums.ChannelType("myspace"), entry.ChannelType)
}

func TestHandleWebhookOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 10)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 5, 0, 0)
	secret := "whsec-shop-a"
	order := func(kind string) map[string]any {
		return map[string]any{
			"type":     kind,
			"order_id": "order-77",
			"lines":    []map[string]any{{"external_product_id": "EXT-1", "quantity": 2}, {"external_product_id": "UNMAPPED", "quantity": 1}},
		}
	}

	res, err := h.webhook(t, channel, "evt-1", order("order_created"), secret)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookStatusProcessed, res.Status)
	require.Equal(t, enums.WebhookEventOrderCreated, res.EventType)
	require.Equal(t, 2, dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID).ReservedQuantity)

	res, err = h.webhook(t, channel, "evt-1", order("order_created"), secret)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookStatusDuplicate, res.Status)
	require.Equal(t, 2, dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID).ReservedQuantity)

	res, err = h.webhook(t, channel, "evt-2", order("order_created"), secret)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookStatusProcessed, res.Status)
	require.Equal(t, 1, res.Conflicts)
	require.Equal(t, 2, dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID).ReservedQuantity)

	var dup models.Conflict
	require.NoError(t, h.conn.Where("type = ?", enums.ConflictTypeDuplicateSale).First(&dup).Error)
	require.Equal(t, product.ID, dup.ProductID)
	require.Equal(t, enums.ConflictPriorityHigh, dup.Priority)

	_, err = h.webhook(t, channel, "evt-3", order("order_fulfilled"), secret)
	require.NoError(t, err)
	alloc := dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID)
	require.Equal(t, 3, alloc.AllocatedQuantity)
	require.Zero(t, alloc.ReservedQuantity)

	var reloaded models.Product
	require.NoError(t, h.conn.First(&reloaded, "id = ?", product.ID).Error)
	require.Equal(t, 8, reloaded.CurrentStock)
}

func TestHandleWebhookOrderCancelledReleases(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 10)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 5, 3, 0)

	_, err := h.webhook(t, channel, "evt-9", map[string]any{
		"type":     "order_cancelled",
		"order_id": "order-12",
		"lines":    []map[string]any{{"external_product_id": "EXT-1", "quantity": 3}},
	}, "whsec-shop-a")
	require.NoError(t, err)
	require.Zero(t, dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID).ReservedQuantity)
}

func TestHandleWebhookFailedReservationCanBeRetried(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 1)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 1, 0, 0)
	body := func() map[string]any {
		return map[string]any{
			"type":     "order_created",
			"order_id": "order-5",
			"lines":    []map[string]any{{"external_product_id": "EXT-1", "quantity": 4}},
		}
	}

	res, err := h.webhook(t, channel, "evt-5", body(), "whsec-shop-a")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))
	require.Equal(t, enums.WebhookStatusFailed, res.Status)

	require.NoError(t, h.conn.Model(&models.Product{}).Where("id = ?", product.ID).Update("current_stock", 10).Error)
	require.NoError(t, h.conn.Model(&models.Allocation{}).
		Where("product_id = ? AND channel_id = ?", product.ID, channel.ID).
		Update("allocated_quantity", 10).Error)

	res, err = h.webhook(t, channel, "evt-5", body(), "whsec-shop-a")
	require.NoError(t, err)
	require.Equal(t, enums.WebhookStatusProcessed, res.Status)
	require.Equal(t, 4, dbtest.LoadAllocation(t, h.conn, product.ID, channel.ID).ReservedQuantity)
}

func TestHandleWebhookInventoryUpdateDetectsConflicts(t *testing.T) {
	h := newHarness(t)
	fake := newFakeChannel(t)
	product := dbtest.SeedProduct(t, h.conn, h.storeID, 100)
	channel := h.connect(t, fake, "shop-a", 1)
	h.list(t, product, channel, "EXT-1", 50, 0, 0)

	res, err := h.webhook(t, channel, "evt-4", map[string]any{
		"type":   "inventory_update",
		"levels": []map[string]any{{"external_product_id": "EXT-1", "stock": 3}},
	}, "whsec-shop-a")
	require.NoError(t, err)
	require.Equal(t, 1, res.Conflicts)

	var cp models.ChannelProduct
	require.NoError(t, h.conn.First(&cp, "channel_id = ?", channel.ID).Error)
	require.NotNil(t, cp.ChannelStock)
	require.Equal(t, 3, *cp.ChannelStock)

	var found models.Conflict
	require.NoError(t, h.conn.Where("product_id = ?", product.ID).First(&found).Error)
	require.Equal(t, enums.ConflictTypeStockMismatch, found.Type)
}
