package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "PRODUCE"

	AppEnvDev  = "dev"
	AppEnvProd = "production"

	EnvAppEnv   = "PRODUCE_APP_ENV"
	EnvPort     = "PRODUCE_APP_PORT"
	EnvDBDSN    = "PRODUCE_DB_DSN"
	EnvDBHost   = "PRODUCE_DB_HOST"
	EnvDBUser   = "PRODUCE_DB_USER"
	EnvDBName   = "PRODUCE_DB_NAME"
	EnvRedisURL = "PRODUCE_REDIS_URL"
)

type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Orders OrdersConfig
	Audit  AuditConfig
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
	Env          string `envconfig:"PRODUCE_APP_ENV" required:"true"`
	Port         string `envconfig:"PRODUCE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"PRODUCE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PRODUCE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"PRODUCE_DB_DSN"`

	Host     string `envconfig:"PRODUCE_DB_HOST"`
	Port     int    `envconfig:"PRODUCE_DB_PORT" default:"5432"`
	User     string `envconfig:"PRODUCE_DB_USER"`
	Password string `envconfig:"PRODUCE_DB_PASSWORD"`
	Name     string `envconfig:"PRODUCE_DB_NAME"`
	SSLMode  string `envconfig:"PRODUCE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PRODUCE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PRODUCE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PRODUCE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PRODUCE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PRODUCE_REDIS_URL" required:"true"`
	Password     string        `envconfig:"PRODUCE_REDIS_PASSWORD"`
	DB           int           `envconfig:"PRODUCE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PRODUCE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PRODUCE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PRODUCE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PRODUCE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PRODUCE_REDIS_WRITE_TIMEOUT" default:"5s"`

	MarketRateTTL time.Duration `envconfig:"PRODUCE_REDIS_MARKET_RATE_TTL" default:"5m"`
}

type OrdersConfig struct {
	MaxLineQuantity   float64 `envconfig:"PRODUCE_ORDERS_MAX_LINE_QUANTITY" default:"10000"`
	PriceTrailEntries int     `envconfig:"PRODUCE_ORDERS_PRICE_TRAIL_ENTRIES" default:"100"`
}

type AuditConfig struct {
	BufferSize int `envconfig:"PRODUCE_AUDIT_BUFFER_SIZE" default:"256"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	required := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range []string{EnvDBHost, EnvDBUser, EnvDBName} {
		if required[env] == "" {
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
