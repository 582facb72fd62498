package config

// EnvPrefix scopes every environment variable the service reads.
const EnvPrefix = "RESTOCK"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv     = "RESTOCK_APP_ENV"
	EnvPort       = "RESTOCK_APP_PORT"
	EnvDBDSN      = "RESTOCK_DB_DSN"
	EnvDBHost     = "RESTOCK_DB_HOST"
	EnvDBUser     = "RESTOCK_DB_USER"
	EnvDBName     = "RESTOCK_DB_NAME"
	EnvRedisURL   = "RESTOCK_REDIS_URL"
	EnvJWTSecret  = "RESTOCK_JWT_SECRET"
	EnvJWTIssuer  = "RESTOCK_JWT_ISSUER"
	EnvJWTExpMins = "RESTOCK_JWT_EXPIRATION_MINUTES"

	EnvStripeAPIKey = "RESTOCK_STRIPE_API_KEY"
	EnvStripeSecret = "RESTOCK_STRIPE_SECRET"
	EnvSweepSecret  = "RESTOCK_RENEWALS_SWEEP_SECRET"
)

var requiredDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
