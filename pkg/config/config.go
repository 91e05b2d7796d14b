package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	Stripe       StripeConfig
	Matching     MatchingConfig
	Reconcile    ReconcileConfig
	Idempotency  IdempotencyConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Matching.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"APMATCH_APP_ENV" required:"true"`
	Port         string `envconfig:"APMATCH_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"APMATCH_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"APMATCH_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"APMATCH_LOG_FORMAT" default:"json"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"APMATCH_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"APMATCH_DB_DSN"`
	Driver string `envconfig:"APMATCH_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"APMATCH_DB_HOST"`
	LegacyPort     int    `envconfig:"APMATCH_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"APMATCH_DB_USER"`
	LegacyPassword string `envconfig:"APMATCH_DB_PASSWORD"`
	LegacyName     string `envconfig:"APMATCH_DB_NAME"`
	LegacySSLMode  string `envconfig:"APMATCH_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"APMATCH_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"APMATCH_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"APMATCH_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"APMATCH_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// LockTimeout bounds how long a transaction waits on a row lock.
	LockTimeout   time.Duration `envconfig:"APMATCH_DB_LOCK_TIMEOUT" default:"5s"`
	SlowQueryTime time.Duration `envconfig:"APMATCH_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"APMATCH_REDIS_URL" required:"true"`
	Address      string        `envconfig:"APMATCH_REDIS_ADDR"`
	Password     string        `envconfig:"APMATCH_REDIS_PASSWORD"`
	DB           int           `envconfig:"APMATCH_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"APMATCH_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"APMATCH_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"APMATCH_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"APMATCH_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"APMATCH_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"APMATCH_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"APMATCH_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"APMATCH_JWT_EXPIRATION_MINUTES" default:"60"`
}

// TokenTTL returns the operator token lifetime.
func (j JWTConfig) TokenTTL() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type StripeConfig struct {
	APIKey     string        `envconfig:"APMATCH_STRIPE_API_KEY"`
	Secret     string        `envconfig:"APMATCH_STRIPE_SECRET"`
	Env        string        `envconfig:"APMATCH_STRIPE_ENV" default:"test"`
	MaxRetries int64         `envconfig:"APMATCH_STRIPE_MAX_RETRIES" default:"2"`
	Timeout    time.Duration `envconfig:"APMATCH_STRIPE_TIMEOUT" default:"20s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// MatchingConfig holds the default tolerances applied when matching invoices to purchase orders.
type MatchingConfig struct {
	AmountTolerance  string `envconfig:"APMATCH_MATCH_AMOUNT_TOLERANCE" default:"1.00"`
	PercentTolerance string `envconfig:"APMATCH_MATCH_PERCENT_TOLERANCE" default:"0.02"`
}

// Amount returns the flat tolerance as a decimal.
func (m MatchingConfig) Amount() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(m.AmountTolerance))
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return d
}

// Percent returns the relative tolerance as a decimal fraction.
func (m MatchingConfig) Percent() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(m.PercentTolerance))
	if err != nil {
		return decimal.RequireFromString("0.02")
	}
	return d
}

func (m MatchingConfig) validate() error {
	amount, err := decimal.NewFromString(strings.TrimSpace(m.AmountTolerance))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvMatchAmountTolerance, err)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvMatchAmountTolerance)
	}
	percent, err := decimal.NewFromString(strings.TrimSpace(m.PercentTolerance))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvMatchPercentTolerance, err)
	}
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%s must be between 0 and 1", EnvMatchPercentTolerance)
	}
	return nil
}

// ReconcileConfig drives the sweep over payments stuck in requires_confirmation.
type ReconcileConfig struct {
	StaleAfter time.Duration `envconfig:"APMATCH_RECONCILE_STALE_AFTER" default:"30m"`
	Limit      int           `envconfig:"APMATCH_RECONCILE_LIMIT" default:"250"`
	Interval   time.Duration `envconfig:"APMATCH_RECONCILE_INTERVAL" default:"15m"`
	LockTTL    time.Duration `envconfig:"APMATCH_RECONCILE_LOCK_TTL" default:"14m"`
}

type IdempotencyConfig struct {
	ResponseTTL time.Duration `envconfig:"APMATCH_IDEMPOTENCY_RESPONSE_TTL" default:"24h"`
	WebhookTTL  time.Duration `envconfig:"APMATCH_IDEMPOTENCY_WEBHOOK_TTL" default:"720h"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"APMATCH_AUTO_MIGRATE" default:"false"`
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
