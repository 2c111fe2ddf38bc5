package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App     AppConfig
	Service ServiceConfig
	DB      DBConfig
	Redis   RedisConfig
	Cart    CartConfig
	Catalog CatalogConfig
	Sweep   SweepConfig
	Flags   FeatureFlagsConfig
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
	Env          string `envconfig:"CARTLY_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTLY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"CARTLY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTLY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CARTLY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN string `envconfig:"CARTLY_DB_DSN"`

	LegacyHost     string `envconfig:"CARTLY_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTLY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTLY_DB_USER"`
	LegacyPassword string `envconfig:"CARTLY_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTLY_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTLY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTLY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTLY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTLY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTLY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"CARTLY_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CARTLY_REDIS_ADDR"`
	Password     string        `envconfig:"CARTLY_REDIS_PASSWORD"`
	DB           int           `envconfig:"CARTLY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CARTLY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CARTLY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CARTLY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CARTLY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CARTLY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// CartConfig tunes the cart record lifecycle and the optimistic write path.
type CartConfig struct {
	TTL           time.Duration `envconfig:"CARTLY_CART_TTL" default:"168h"`
	MaxTxAttempts int           `envconfig:"CARTLY_CART_MAX_TX_ATTEMPTS" default:"5"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `envconfig:"CARTLY_CATALOG_CACHE_TTL" default:"10m"`
}

// SweepConfig tunes the abandoned-cart sweep job.
type SweepConfig struct {
	IdleThreshold time.Duration `envconfig:"CARTLY_SWEEP_IDLE_THRESHOLD" default:"3h"`
	BatchSize     int64         `envconfig:"CARTLY_SWEEP_BATCH_SIZE" default:"500"`
	Interval      time.Duration `envconfig:"CARTLY_SWEEP_INTERVAL" default:"15m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"CARTLY_AUTO_MIGRATE" default:"false"`
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
