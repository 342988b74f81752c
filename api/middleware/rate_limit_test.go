package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	pkgerrors "github.com/angelmondragon/channelstock-backend/pkg/errors"
)

type hitCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newHitCounter() *hitCounter { return &hitCounter{counts: map[string]int64{}} }

func (h *hitCounter) CountHit(_ context.Context, scope string, _ time.Duration) (int64, error) {
	if h.err != nil {
		return 0, h.err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[scope]++
	return h.counts[scope], nil
}

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func hit(h http.Handler, path string, prepare func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if prepare != nil {
		prepare(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func fromAddr(addr string) func(*http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestRateLimitBlocksAfterLimit(t *testing.T) {
	h := RateLimit(NewRateLimitPolicy("webhooks", time.Minute, 2), newHitCounter(), nil)(http.HandlerFunc(okHandler))

	assert.Equal(t, http.StatusOK, hit(h, "/", fromAddr("5.6.7.8:1234")).Code)
	assert.Equal(t, http.StatusOK, hit(h, "/", fromAddr("5.6.7.8:1234")).Code)

	blocked := hit(h, "/", fromAddr("5.6.7.8:1234"))
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.Equal(t, "60", blocked.Header().Get("Retry-After"))
	assert.Equal(t, string(pkgerrors.CodeRateLimit), errorCode(t, blocked))

	assert.Equal(t, http.StatusOK, hit(h, "/", fromAddr("5.6.7.9:1234")).Code, "other clients keep their own window")
}

func TestRateLimitClientIP(t *testing.T) {
	store := newHitCounter()
	h := RateLimit(NewRateLimitPolicy("webhooks", time.Minute, 5), store, nil)(http.HandlerFunc(okHandler))

	hit(h, "/", func(r *http.Request) { r.Header.Set("X-Forwarded-For", "10.0.0.1, 172.16.0.1") })
	hit(h, "/", func(r *http.Request) { r.Header.Set("X-Real-IP", "10.0.0.2") })
	hit(h, "/", fromAddr("10.0.0.3:9000"))

	assert.Equal(t, map[string]int64{
		"ip:webhooks:10.0.0.1": 1,
		"ip:webhooks:10.0.0.2": 1,
		"ip:webhooks:10.0.0.3": 1,
	}, store.counts)
}

func TestRateLimitPerRouteParam(t *testing.T) {
	store := newHitCounter()
	policy := NewRateLimitPolicy("Webhooks", time.Minute, 1).PerRouteParam("channelType")
	r := chi.NewRouter()
	r.With(RateLimit(policy, store, nil)).Post("/webhooks/{channelType}", okHandler)

	assert.Equal(t, http.StatusOK, hit(r, "/webhooks/shopify", fromAddr("9.9.9.9:1")).Code)
	assert.Equal(t, http.StatusOK, hit(r, "/webhooks/amazon", fromAddr("9.9.9.9:1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "/webhooks/SHOPIFY", fromAddr("9.9.9.9:1")).Code)
	assert.Contains(t, store.counts, "ip:webhooks:shopify:9.9.9.9")
}

func TestRateLimitStoreFailure(t *testing.T) {
	store := newHitCounter()
	store.err = errors.New("redis down")
	h := RateLimit(NewRateLimitPolicy("webhooks", time.Minute, 1), store, nil)(http.HandlerFunc(okHandler))

	rec := hit(h, "/", fromAddr("1.2.3.4:5"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	store := newHitCounter()
	h := RateLimit(NewRateLimitPolicy("webhooks", 0, 0), store, nil)(http.HandlerFunc(okHandler))
	assert.Equal(t, http.StatusOK, hit(h, "/", nil).Code)
	assert.Empty(t, store.counts)

	h = RateLimit(NewRateLimitPolicy("webhooks", time.Minute, 1), nil, nil)(http.HandlerFunc(okHandler))
	assert.Equal(t, http.StatusOK, hit(h, "/", nil).Code)
}
