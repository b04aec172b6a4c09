package config

// EnvPrefix namespaces all environment variables consumed by envconfig.
const EnvPrefix = "mcourse"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvAppEnv   = "MCOURSE_APP_ENV"
	EnvPort     = "MCOURSE_APP_PORT"
	EnvDBDSN    = "MCOURSE_DB_DSN"
	EnvDBHost   = "MCOURSE_DB_HOST"
	EnvDBUser   = "MCOURSE_DB_USER"
	EnvDBName   = "MCOURSE_DB_NAME"
	EnvRedisURL = "MCOURSE_REDIS_URL"

	EnvJWTSecret  = "MCOURSE_JWT_SECRET"
	EnvJWTIssuer  = "MCOURSE_JWT_ISSUER"
	EnvJWTExpMins = "MCOURSE_JWT_EXPIRATION_MINUTES"

	EnvSepayWebhookSecret = "MCOURSE_SEPAY_WEBHOOK_SECRET"
	EnvSepayBankCode      = "MCOURSE_SEPAY_BANK_CODE"
	EnvSepayAccountNo     = "MCOURSE_SEPAY_ACCOUNT_NO"
	EnvSepayAccountName   = "MCOURSE_SEPAY_ACCOUNT_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
