package config

const (
	EnvPrefix = "APMATCH"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "APMATCH_APP_ENV"
	EnvPort   = "APMATCH_APP_PORT"

	EnvDBDSN  = "APMATCH_DB_DSN"
	EnvDBHost = "APMATCH_DB_HOST"
	EnvDBUser = "APMATCH_DB_USER"
	EnvDBName = "APMATCH_DB_NAME"

	EnvRedisURL = "APMATCH_REDIS_URL"

	EnvJWTSecret  = "APMATCH_JWT_SECRET"
	EnvJWTIssuer  = "APMATCH_JWT_ISSUER"
	EnvJWTExpMins = "APMATCH_JWT_EXPIRATION_MINUTES"

	EnvStripeAPIKey = "APMATCH_STRIPE_API_KEY"
	EnvStripeSecret = "APMATCH_STRIPE_SECRET"
	EnvStripeEnv    = "APMATCH_STRIPE_ENV"

	EnvMatchAmountTolerance  = "APMATCH_MATCH_AMOUNT_TOLERANCE"
	EnvMatchPercentTolerance = "APMATCH_MATCH_PERCENT_TOLERANCE"

	EnvReconcileStaleAfter = "APMATCH_RECONCILE_STALE_AFTER"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
