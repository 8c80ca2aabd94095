package config

const (
	EnvPrefix = "MARKETCORE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "MARKETCORE_APP_ENV"
	EnvOpsPort  = "MARKETCORE_OPS_PORT"
	EnvLogLevel = "MARKETCORE_LOG_LEVEL"

	EnvDBDSN  = "MARKETCORE_DB_DSN"
	EnvDBHost = "MARKETCORE_DB_HOST"
	EnvDBUser = "MARKETCORE_DB_USER"
	EnvDBName = "MARKETCORE_DB_NAME"

	EnvRedisURL = "MARKETCORE_REDIS_URL"

	EnvStripeAPIKey = "MARKETCORE_STRIPE_API_KEY"

	EnvCheckoutShippingCents = "MARKETCORE_CHECKOUT_SHIPPING_CENTS"
	EnvCommissionDefaultRate = "MARKETCORE_COMMISSION_DEFAULT_RATE"
	EnvEscrowHoldingPeriod   = "MARKETCORE_ESCROW_HOLDING_PERIOD"
	EnvReturnsWindow         = "MARKETCORE_RETURNS_WINDOW"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
