package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App        AppConfig
	DB         DBConfig
	Redis      RedisConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Stripe     StripeConfig
	Gateway    GatewayConfig
	Checkout   CheckoutConfig
	Commission CommissionConfig
	Escrow     EscrowConfig
	Returns    ReturnsConfig
	Outbox     OutboxConfig
	Cron       CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if cfg.Commission.DefaultRate < 0 || cfg.Commission.DefaultRate > 100 {
		return nil, fmt.Errorf("%s must be between 0 and 100", EnvCommissionDefaultRate)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETCORE_APP_ENV" required:"true"`
	OpsPort      string `envconfig:"MARKETCORE_OPS_PORT" default:"9090"`
	LogLevel     string `envconfig:"MARKETCORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"MARKETCORE_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"MARKETCORE_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETCORE_DB_DSN"`
	Driver string `envconfig:"MARKETCORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETCORE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETCORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETCORE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETCORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETCORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETCORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETCORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETCORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETCORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETCORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETCORE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETCORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETCORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETCORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETCORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETCORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETCORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETCORE_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"MARKETCORE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETCORE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"MARKETCORE_PUBSUB_NOTIFICATION_TOPIC" default:"marketcore-notifications"`
	DeadLetterTopic   string `envconfig:"MARKETCORE_PUBSUB_DEAD_LETTER_TOPIC"`
}

type StripeConfig struct {
	APIKey   string `envconfig:"MARKETCORE_STRIPE_API_KEY"`
	Env      string `envconfig:"MARKETCORE_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"MARKETCORE_STRIPE_CURRENCY" default:"usd"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// GatewayConfig bounds every outbound payment gateway call.
type GatewayConfig struct {
	Timeout     time.Duration `envconfig:"MARKETCORE_GATEWAY_TIMEOUT" default:"10s"`
	MaxAttempts int           `envconfig:"MARKETCORE_GATEWAY_MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `envconfig:"MARKETCORE_GATEWAY_BASE_BACKOFF" default:"200ms"`
}

type CheckoutConfig struct {
	ShippingCents       int64         `envconfig:"MARKETCORE_CHECKOUT_SHIPPING_CENTS" default:"0"`
	Currency            string        `envconfig:"MARKETCORE_CHECKOUT_CURRENCY" default:"usd"`
	CompensationTimeout time.Duration `envconfig:"MARKETCORE_CHECKOUT_COMPENSATION_TIMEOUT" default:"15s"`
}

type CommissionConfig struct {
	DefaultRate float64 `envconfig:"MARKETCORE_COMMISSION_DEFAULT_RATE" default:"10"`
}

type EscrowConfig struct {
	HoldingPeriod time.Duration `envconfig:"MARKETCORE_ESCROW_HOLDING_PERIOD" default:"168h"`
}

type ReturnsConfig struct {
	Window time.Duration `envconfig:"MARKETCORE_RETURNS_WINDOW" default:"720h"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"MARKETCORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"MARKETCORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"MARKETCORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
	DedupeTTL      time.Duration `envconfig:"MARKETCORE_OUTBOX_DEDUPE_TTL" default:"24h"`
}

type CronConfig struct {
	Interval             time.Duration `envconfig:"MARKETCORE_CRON_INTERVAL" default:"1m"`
	LockTTL              time.Duration `envconfig:"MARKETCORE_CRON_LOCK_TTL" default:"5m"`
	PaymentExpiryTTL     time.Duration `envconfig:"MARKETCORE_CRON_PAYMENT_EXPIRY_TTL" default:"30m"`
	RefundReconcileAfter time.Duration `envconfig:"MARKETCORE_CRON_REFUND_RECONCILE_AFTER" default:"15m"`
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
