package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Vault        VaultConfig
	Sync         SyncConfig
	Allocation   AllocationConfig
	Conflicts    ConflictConfig
	Forecast     ForecastConfig
	Webhooks     WebhookConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
	Metrics      MetricsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Conflicts.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CHANNELSTOCK_APP_ENV" required:"true"`
	Port         string `envconfig:"CHANNELSTOCK_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CHANNELSTOCK_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"CHANNELSTOCK_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"CHANNELSTOCK_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma separated allow list for browser clients.
	CORSOrigins     []string      `envconfig:"CHANNELSTOCK_CORS_ORIGINS" default:"http://localhost:3000"`
	ShutdownTimeout time.Duration `envconfig:"CHANNELSTOCK_APP_SHUTDOWN_TIMEOUT" default:"15s"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CHANNELSTOCK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"CHANNELSTOCK_DB_DSN"`
	Driver string `envconfig:"CHANNELSTOCK_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CHANNELSTOCK_DB_HOST"`
	LegacyPort     int    `envconfig:"CHANNELSTOCK_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CHANNELSTOCK_DB_USER"`
	LegacyPassword string `envconfig:"CHANNELSTOCK_DB_PASSWORD"`
	LegacyName     string `envconfig:"CHANNELSTOCK_DB_NAME"`
	LegacySSLMode  string `envconfig:"CHANNELSTOCK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CHANNELSTOCK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CHANNELSTOCK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CHANNELSTOCK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CHANNELSTOCK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	ConnectTimeout  time.Duration `envconfig:"CHANNELSTOCK_DB_CONNECT_TIMEOUT" default:"10s"`
	SlowQuery       time.Duration `envconfig:"CHANNELSTOCK_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CHANNELSTOCK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CHANNELSTOCK_REDIS_ADDR"`
	Password     string        `envconfig:"CHANNELSTOCK_REDIS_PASSWORD"`
	DB           int           `envconfig:"CHANNELSTOCK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CHANNELSTOCK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CHANNELSTOCK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CHANNELSTOCK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CHANNELSTOCK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CHANNELSTOCK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"CHANNELSTOCK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"CHANNELSTOCK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"CHANNELSTOCK_JWT_EXPIRATION_MINUTES" default:"60"`
}

// VaultConfig carries the master key used to protect channel credentials.
// The key is base64 encoded and must decode to at least 32 bytes.
type VaultConfig struct {
	MasterKey  string `envconfig:"CHANNELSTOCK_VAULT_MASTER_KEY" required:"true"`
	KeyVersion int    `envconfig:"CHANNELSTOCK_VAULT_KEY_VERSION" default:"1"`
}

type SyncConfig struct {
	Concurrency      int           `envconfig:"CHANNELSTOCK_SYNC_CONCURRENCY" default:"1"`
	ChannelTimeout   time.Duration `envconfig:"CHANNELSTOCK_SYNC_CHANNEL_TIMEOUT" default:"2m"`
	AutoResolve      bool          `envconfig:"CHANNELSTOCK_SYNC_AUTO_RESOLVE" default:"true"`
	FastCacheSize    int           `envconfig:"CHANNELSTOCK_SYNC_FAST_CACHE_SIZE" default:"512"`
	FastRetention    time.Duration `envconfig:"CHANNELSTOCK_SYNC_FAST_RETENTION" default:"5m"`
	SharedRetention  time.Duration `envconfig:"CHANNELSTOCK_SYNC_SHARED_RETENTION" default:"24h"`
	ConnectorCache   int           `envconfig:"CHANNELSTOCK_SYNC_CONNECTOR_CACHE" default:"128"`
	RateLimitPerMin  int           `envconfig:"CHANNELSTOCK_CONNECTOR_RATE_LIMIT_PER_MIN" default:"120"`
	ConnectorTimeout time.Duration `envconfig:"CHANNELSTOCK_CONNECTOR_HTTP_TIMEOUT" default:"30s"`
}

type AllocationConfig struct {
	DistributedLock bool          `envconfig:"CHANNELSTOCK_ALLOCATION_DISTRIBUTED_LOCK" default:"true"`
	LockTTL         time.Duration `envconfig:"CHANNELSTOCK_ALLOCATION_LOCK_TTL" default:"30s"`
	LockWait        time.Duration `envconfig:"CHANNELSTOCK_ALLOCATION_LOCK_WAIT" default:"5s"`
	SalesWindowDays int           `envconfig:"CHANNELSTOCK_ALLOCATION_SALES_WINDOW_DAYS" default:"30"`
}

// ConflictConfig holds the detection thresholds. Defaults match the
// historical constants; stores can tune them per deployment.
type ConflictConfig struct {
	StockMismatchPct   float64 `envconfig:"CHANNELSTOCK_CONFLICT_STOCK_MISMATCH_PCT" default:"0.10"`
	StockMismatchMin   int     `envconfig:"CHANNELSTOCK_CONFLICT_STOCK_MISMATCH_MIN" default:"5"`
	PriceMismatchPct   float64 `envconfig:"CHANNELSTOCK_CONFLICT_PRICE_MISMATCH_PCT" default:"0.05"`
	OversoldTolerance  float64 `envconfig:"CHANNELSTOCK_CONFLICT_OVERSOLD_TOLERANCE" default:"1.10"`
	DefaultReliability float64 `envconfig:"CHANNELSTOCK_CONFLICT_DEFAULT_RELIABILITY" default:"0.8"`
	ReliabilityAlpha   float64 `envconfig:"CHANNELSTOCK_CONFLICT_RELIABILITY_ALPHA" default:"0.2"`
}

func (c ConflictConfig) validate() error {
	if c.StockMismatchPct < 0 || c.PriceMismatchPct < 0 {
		return fmt.Errorf("conflict thresholds must be non-negative")
	}
	if c.OversoldTolerance < 1 {
		return fmt.Errorf("%s must be >= 1", EnvConflictOversoldTolerance)
	}
	if c.DefaultReliability <= 0 || c.DefaultReliability > 1 {
		return fmt.Errorf("%s must be in (0,1]", EnvConflictDefaultReliability)
	}
	return nil
}

type ForecastConfig struct {
	ServiceURL string        `envconfig:"CHANNELSTOCK_FORECAST_SERVICE_URL"`
	CacheTTL   time.Duration `envconfig:"CHANNELSTOCK_FORECAST_CACHE_TTL" default:"24h"`
	Timeout    time.Duration `envconfig:"CHANNELSTOCK_FORECAST_TIMEOUT" default:"20s"`
	MinPoints  int           `envconfig:"CHANNELSTOCK_FORECAST_MIN_DATA_POINTS" default:"30"`
	Days       int           `envconfig:"CHANNELSTOCK_FORECAST_DAYS" default:"30"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"CHANNELSTOCK_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
	MaxBodyBytes   int64         `envconfig:"CHANNELSTOCK_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	RateWindow     time.Duration `envconfig:"CHANNELSTOCK_WEBHOOK_RATE_WINDOW" default:"1m"`
	RatePerIP      int           `envconfig:"CHANNELSTOCK_WEBHOOK_RATE_PER_IP" default:"600"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CHANNELSTOCK_AUTO_MIGRATE" default:"false"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"CHANNELSTOCK_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	InventoryTopic string `envconfig:"CHANNELSTOCK_PUBSUB_INVENTORY_TOPIC" default:"cs-inventory-events"`
	ChannelTopic   string `envconfig:"CHANNELSTOCK_PUBSUB_CHANNEL_TOPIC" default:"cs-channel-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"CHANNELSTOCK_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"CHANNELSTOCK_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"CHANNELSTOCK_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"CHANNELSTOCK_OUTBOX_RETENTION_DAYS" default:"30"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"CHANNELSTOCK_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"CHANNELSTOCK_CRON_LOCK_TTL" default:"14m"`
	RunOnce  bool          `envconfig:"CHANNELSTOCK_CRON_RUN_ONCE" default:"false"`
}

// MetricsConfig places the Prometheus endpoint. With Addr empty the API
// mounts /metrics on its router and the workers expose nothing.
type MetricsConfig struct {
	Addr string `envconfig:"CHANNELSTOCK_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
