package config

const (
	EnvPrefix = "CHANNELSTOCK"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "CHANNELSTOCK_APP_ENV"
	EnvPort      = "CHANNELSTOCK_APP_PORT"
	EnvLogFormat = "CHANNELSTOCK_LOG_FORMAT"

	EnvDBDSN  = "CHANNELSTOCK_DB_DSN"
	EnvDBHost = "CHANNELSTOCK_DB_HOST"
	EnvDBUser = "CHANNELSTOCK_DB_USER"
	EnvDBName = "CHANNELSTOCK_DB_NAME"

	EnvRedisURL = "CHANNELSTOCK_REDIS_URL"

	EnvJWTSecret = "CHANNELSTOCK_JWT_SECRET"
	EnvJWTIssuer = "CHANNELSTOCK_JWT_ISSUER"

	EnvVaultMasterKey = "CHANNELSTOCK_VAULT_MASTER_KEY"

	EnvConflictStockMismatchPct   = "CHANNELSTOCK_CONFLICT_STOCK_MISMATCH_PCT"
	EnvConflictOversoldTolerance  = "CHANNELSTOCK_CONFLICT_OVERSOLD_TOLERANCE"
	EnvConflictDefaultReliability = "CHANNELSTOCK_CONFLICT_DEFAULT_RELIABILITY"

	EnvSyncConcurrency = "CHANNELSTOCK_SYNC_CONCURRENCY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
