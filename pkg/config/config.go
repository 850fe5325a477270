package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the envconfig prefix shared by every binary.
const EnvPrefix = "RECARGAS"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

// Env variable names referenced by tests and legacy-DSN error messages.
const (
	EnvAppEnv   = "RECARGAS_APP_ENV"
	EnvPort     = "RECARGAS_APP_PORT"
	EnvDBDSN    = "RECARGAS_DB_DSN"
	EnvDBHost   = "RECARGAS_DB_HOST"
	EnvDBUser   = "RECARGAS_DB_USER"
	EnvDBName   = "RECARGAS_DB_NAME"
	EnvRedisURL = "RECARGAS_REDIS_URL"

	EnvGCPProjectID       = "RECARGAS_GCP_PROJECT_ID"
	EnvPubSubReconcileTop = "RECARGAS_PUBSUB_RECONCILE_TOPIC"
	EnvPubSubReconcileSub = "RECARGAS_PUBSUB_RECONCILE_SUBSCRIPTION"

	EnvProviderToken    = "RECARGAS_MP_ACCESS_TOKEN"
	EnvGatewayUsername  = "RECARGAS_GATEWAY_USERNAME"
	EnvGatewayPassword  = "RECARGAS_GATEWAY_PASSWORD"
	EnvAdminSharedToken = "RECARGAS_ADMIN_SHARED_TOKEN"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Provider     ProviderConfig
	Gateway      GatewayConfig
	Reconcile    ReconcileConfig
	Webhook      WebhookConfig
	Admin        AdminConfig
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
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RECARGAS_APP_ENV" required:"true"`
	Port         string `envconfig:"RECARGAS_APP_PORT" required:"true"`
	PublicURL    string `envconfig:"RECARGAS_APP_PUBLIC_URL"`
	LogLevel     string `envconfig:"RECARGAS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RECARGAS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"RECARGAS_DB_DSN"`
	Driver string `envconfig:"RECARGAS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RECARGAS_DB_HOST"`
	LegacyPort     int    `envconfig:"RECARGAS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RECARGAS_DB_USER"`
	LegacyPassword string `envconfig:"RECARGAS_DB_PASSWORD"`
	LegacyName     string `envconfig:"RECARGAS_DB_NAME"`
	LegacySSLMode  string `envconfig:"RECARGAS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RECARGAS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RECARGAS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RECARGAS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RECARGAS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RECARGAS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RECARGAS_REDIS_ADDR"`
	Password     string        `envconfig:"RECARGAS_REDIS_PASSWORD"`
	DB           int           `envconfig:"RECARGAS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RECARGAS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RECARGAS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RECARGAS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RECARGAS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RECARGAS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RECARGAS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"RECARGAS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RECARGAS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	ReconcileTopic        string `envconfig:"RECARGAS_PUBSUB_RECONCILE_TOPIC" required:"true"`
	ReconcileSubscription string `envconfig:"RECARGAS_PUBSUB_RECONCILE_SUBSCRIPTION" required:"true"`
}

// ProviderConfig holds the MercadoPago credentials and endpoints.
type ProviderConfig struct {
	BaseURL     string        `envconfig:"RECARGAS_MP_BASE_URL" default:"https://api.mercadopago.com"`
	AccessToken string        `envconfig:"RECARGAS_MP_ACCESS_TOKEN" required:"true"`
	Timeout     time.Duration `envconfig:"RECARGAS_MP_TIMEOUT" default:"15s"`
	Currency    string        `envconfig:"RECARGAS_MP_CURRENCY" default:"ARS"`
	Descriptor  string        `envconfig:"RECARGAS_MP_STATEMENT_DESCRIPTOR" default:"RECARGAS APP"`
}

// GatewayConfig holds the agent back-office credentials and endpoints.
type GatewayConfig struct {
	BaseURL  string        `envconfig:"RECARGAS_GATEWAY_BASE_URL" default:"https://agents.ganamos.bet"`
	Username string        `envconfig:"RECARGAS_GATEWAY_USERNAME" required:"true"`
	Password string        `envconfig:"RECARGAS_GATEWAY_PASSWORD" required:"true"`
	Timeout  time.Duration `envconfig:"RECARGAS_GATEWAY_TIMEOUT" default:"15s"`
}

type ReconcileConfig struct {
	MaxDepositAttempts int           `envconfig:"RECARGAS_RECONCILE_MAX_DEPOSIT_ATTEMPTS" default:"3"`
	RetryBaseDelay     time.Duration `envconfig:"RECARGAS_RECONCILE_RETRY_BASE_DELAY" default:"1s"`
	LockTTL            time.Duration `envconfig:"RECARGAS_RECONCILE_LOCK_TTL" default:"2m"`
	SweepInterval      time.Duration `envconfig:"RECARGAS_RECONCILE_SWEEP_INTERVAL" default:"5m"`
	SweepMinAge        time.Duration `envconfig:"RECARGAS_RECONCILE_SWEEP_MIN_AGE" default:"2m"`
	SweepBatch         int           `envconfig:"RECARGAS_RECONCILE_SWEEP_BATCH" default:"50"`
}

type WebhookConfig struct {
	IdempotencyTTL time.Duration `envconfig:"RECARGAS_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type AdminConfig struct {
	SharedToken string `envconfig:"RECARGAS_ADMIN_SHARED_TOKEN"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RECARGAS_AUTO_MIGRATE" default:"false"`
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
