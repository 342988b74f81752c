package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/channelstock-backend/api/controllers"
	"github.com/angelmondragon/channelstock-backend/api/middleware"
	"github.com/angelmondragon/channelstock-backend/pkg/auth"
	"github.com/angelmondragon/channelstock-backend/pkg/config"
	"github.com/angelmondragon/channelstock-backend/pkg/db"
	"github.com/angelmondragon/channelstock-backend/pkg/enums"
	"github.com/angelmondragon/channelstock-backend/pkg/logger"
	"github.com/angelmondragon/channelstock-backend/pkg/metrics"
	"github.com/angelmondragon/channelstock-backend/pkg/redis"
)

// RedisStore is the slice of the redis client the HTTP layer uses.
type RedisStore interface {
	redis.Pinger
	middleware.ResponseStore
	middleware.RateLimitStore
}

// Services groups the domain services exposed over HTTP.
type Services struct {
	Inventory controllers.InventoryService
	Channels  controllers.ChannelService
	Syncs     controllers.SyncStarter
	Tracker   controllers.SyncTracker
	Conflicts controllers.ConflictService
	Webhooks  controllers.WebhookService

	// Tokens defaults to an issuer built from the JWT config.
	Tokens middleware.TokenParser
	// Metrics is mounted at /metrics when set.
	Metrics prometheus.Gatherer
}

var (
	writerRoles  = enums.RolesAtLeast(enums.MemberRoleOperator)
	managerRoles = enums.RolesAtLeast(enums.MemberRoleAdmin)
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisStore RedisStore,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	var (
		idemStore middleware.ResponseStore
		rateStore middleware.RateLimitStore
		pinger    redis.Pinger
	)
	if redisStore != nil {
		idemStore, rateStore, pinger = redisStore, redisStore, redisStore
	}

	webhookPolicy := middleware.NewRateLimitPolicy("webhooks", cfg.Webhooks.RateWindow, cfg.Webhooks.RatePerIP).
		PerRouteParam("channelType")

	tokens := svc.Tokens
	if tokens == nil {
		if issuer, err := auth.NewIssuer(cfg.JWT); err == nil {
			tokens = issuer
		} else if logg != nil {
			logg.Warn(context.Background(), "jwt not configured, api routes will reject every token")
		}
	}

	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(svc.Metrics))
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, pinger))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.RateLimit(webhookPolicy, rateStore, logg)).
			Post("/{channelType}", controllers.ChannelWebhook(svc.Webhooks, cfg.Webhooks.MaxBodyBytes, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(tokens, logg))
		r.Use(middleware.StoreContext(logg))
		r.Use(middleware.Idempotency(idemStore, logg))

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", controllers.ChannelList(svc.Channels, logg))
			r.Get("/types", controllers.ChannelTypes(svc.Channels))
			r.With(middleware.RequireRoles(logg, managerRoles...)).Post("/", controllers.ChannelConnect(svc.Channels, logg))
			r.With(middleware.RequireRoles(logg, managerRoles...)).Delete("/{channelId}", controllers.ChannelDisconnect(svc.Channels, logg))
			r.With(middleware.RequireRoles(logg, writerRoles...)).Post("/{channelId}/sync", controllers.ChannelSync(svc.Channels, logg))
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/", controllers.SyncList(svc.Tracker, logg))
			r.Get("/{syncId}", controllers.SyncStatus(svc.Tracker, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, writerRoles...))
				r.Post("/", controllers.SyncStart(svc.Syncs, logg))
				r.Post("/{syncId}/cancel", controllers.SyncCancel(svc.Tracker, logg))
			})
		})

		r.Route("/products/{productId}", func(r chi.Router) {
			r.Get("/allocations", controllers.ProductAllocations(svc.Inventory, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, writerRoles...))
				r.Post("/allocate", controllers.ProductAllocate(svc.Inventory, logg))
				r.Post("/reserve", controllers.ProductReserve(svc.Inventory, logg))
				r.Post("/release", controllers.ProductRelease(svc.Inventory, logg))
				r.Post("/confirm", controllers.ProductConfirm(svc.Inventory, logg))
			})
		})

		r.Route("/conflicts", func(r chi.Router) {
			r.Get("/", controllers.ConflictList(svc.Conflicts, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRoles(logg, writerRoles...))
				r.Post("/detect", controllers.ConflictDetect(svc.Conflicts, logg))
				r.Post("/auto-resolve", controllers.ConflictAutoResolve(svc.Conflicts, logg))
				r.Post("/{conflictId}/resolve", controllers.ConflictResolve(svc.Conflicts, logg))
			})
		})
	})

	return r
}
