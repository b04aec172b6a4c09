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
	Sepay        SepayConfig
	Payments     PaymentsConfig
	FeatureFlags FeatureFlagsConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MCOURSE_APP_ENV" required:"true"`
	Port         string `envconfig:"MCOURSE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"MCOURSE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MCOURSE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MCOURSE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"MCOURSE_DB_DSN"`
	Driver string `envconfig:"MCOURSE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MCOURSE_DB_HOST"`
	LegacyPort     int    `envconfig:"MCOURSE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MCOURSE_DB_USER"`
	LegacyPassword string `envconfig:"MCOURSE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MCOURSE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MCOURSE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MCOURSE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MCOURSE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MCOURSE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MCOURSE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MCOURSE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MCOURSE_REDIS_ADDR"`
	Password     string        `envconfig:"MCOURSE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MCOURSE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MCOURSE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MCOURSE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MCOURSE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MCOURSE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MCOURSE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"MCOURSE_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"MCOURSE_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"MCOURSE_JWT_EXPIRATION_MINUTES" required:"true"`
}

// SepayConfig carries the bank-transfer provider settings. The QR image itself
// is rendered by VietQR from the URL pkg/sepay builds; only the webhook secret
// is sensitive.
type SepayConfig struct {
	BankCode      string `envconfig:"MCOURSE_SEPAY_BANK_CODE" default:"OCB"`
	AccountNo     string `envconfig:"MCOURSE_SEPAY_ACCOUNT_NO" required:"true"`
	AccountName   string `envconfig:"MCOURSE_SEPAY_ACCOUNT_NAME" required:"true"`
	WebhookSecret string `envconfig:"MCOURSE_SEPAY_WEBHOOK_SECRET" required:"true"`
	IPNReplayTTL  time.Duration `envconfig:"MCOURSE_SEPAY_IPN_REPLAY_TTL" default:"720h"`
}

type PaymentsConfig struct {
	// ExpiryWindow forecloses pending payments that never received evidence.
	ExpiryWindow time.Duration `envconfig:"MCOURSE_PAYMENT_EXPIRY_WINDOW" default:"15m"`
	// USDToVNDRate converts catalog prices stored in USD into VND minor units.
	USDToVNDRate int64 `envconfig:"MCOURSE_SEPAY_USD_VND_RATE" default:"25000"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MCOURSE_AUTO_MIGRATE" default:"false"`
}

type CronConfig struct {
	Interval              time.Duration `envconfig:"MCOURSE_CRON_INTERVAL" default:"1m"`
	NotificationRetention time.Duration `envconfig:"MCOURSE_NOTIFICATION_RETENTION" default:"2160h"`
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
