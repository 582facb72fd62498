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
	FeatureFlags FeatureFlagsConfig
	Stripe       StripeConfig
	Billing      BillingConfig
	Renewals     RenewalsConfig
	AgentBrowser AgentBrowserConfig
	Extractor    ExtractorConfig
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
	Env          string `envconfig:"RESTOCK_APP_ENV" required:"true"`
	Port         string `envconfig:"RESTOCK_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RESTOCK_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RESTOCK_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RESTOCK_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RESTOCK_DB_DSN"`
	Driver string `envconfig:"RESTOCK_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"RESTOCK_DB_HOST"`
	Port     int    `envconfig:"RESTOCK_DB_PORT" default:"5432"`
	User     string `envconfig:"RESTOCK_DB_USER"`
	Password string `envconfig:"RESTOCK_DB_PASSWORD"`
	Name     string `envconfig:"RESTOCK_DB_NAME"`
	SSLMode  string `envconfig:"RESTOCK_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RESTOCK_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RESTOCK_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RESTOCK_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RESTOCK_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RESTOCK_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RESTOCK_REDIS_ADDR"`
	Password     string        `envconfig:"RESTOCK_REDIS_PASSWORD"`
	DB           int           `envconfig:"RESTOCK_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RESTOCK_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RESTOCK_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RESTOCK_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RESTOCK_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RESTOCK_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"RESTOCK_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"RESTOCK_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"RESTOCK_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"RESTOCK_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"RESTOCK_AUTO_MIGRATE" default:"false"`
}

type StripeConfig struct {
	APIKey string `envconfig:"RESTOCK_STRIPE_API_KEY"`
	Secret string `envconfig:"RESTOCK_STRIPE_SECRET"`
	Env    string `envconfig:"RESTOCK_STRIPE_ENV" default:"test"`
	// PriceID is the recurring price backing new billing vehicles.
	PriceID string `envconfig:"RESTOCK_STRIPE_PRICE_ID"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type BillingConfig struct {
	Currency      string `envconfig:"RESTOCK_BILLING_CURRENCY" default:"usd"`
	ServiceFeeBps int64  `envconfig:"RESTOCK_BILLING_SERVICE_FEE_BPS" default:"500"`
}

type RenewalsConfig struct {
	SweepSecret   string        `envconfig:"RESTOCK_RENEWALS_SWEEP_SECRET"`
	Lookahead     time.Duration `envconfig:"RESTOCK_RENEWALS_LOOKAHEAD" default:"24h"`
	SweepInterval time.Duration `envconfig:"RESTOCK_RENEWALS_SWEEP_INTERVAL" default:"1h"`
	BatchLimit    int           `envconfig:"RESTOCK_RENEWALS_BATCH_LIMIT" default:"100"`
}

type AgentBrowserConfig struct {
	BaseURL        string        `envconfig:"RESTOCK_AGENT_BROWSER_URL"`
	APIKey         string        `envconfig:"RESTOCK_AGENT_BROWSER_API_KEY"`
	RequestTimeout time.Duration `envconfig:"RESTOCK_AGENT_BROWSER_TIMEOUT" default:"5m"`
	SessionTTL     time.Duration `envconfig:"RESTOCK_AGENT_BROWSER_SESSION_TTL" default:"30m"`
	MaxSessions    int           `envconfig:"RESTOCK_AGENT_BROWSER_MAX_SESSIONS" default:"4"`
}

type ExtractorConfig struct {
	BaseURL        string        `envconfig:"RESTOCK_EXTRACTOR_URL" default:"https://api.openai.com/v1"`
	APIKey         string        `envconfig:"RESTOCK_EXTRACTOR_API_KEY"`
	Model          string        `envconfig:"RESTOCK_EXTRACTOR_MODEL" default:"gpt-4o-mini"`
	RequestTimeout time.Duration `envconfig:"RESTOCK_EXTRACTOR_TIMEOUT" default:"30s"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range requiredDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
