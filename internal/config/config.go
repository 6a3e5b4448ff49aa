package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Payment  PaymentConfig  `yaml:"payment"`
	Redis    RedisConfig    `yaml:"redis"`
	Invoke   InvokeConfig   `yaml:"invoke"`
	Operator OperatorConfig `yaml:"operator"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"             env:"SERVER_HOST"             env-default:"0.0.0.0"`
	Port            int           `yaml:"port"             env:"PORT"                    env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	RateLimit       float64       `yaml:"rate_limit"       env:"SERVER_RATE_LIMIT"       env-default:"20"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"             env:"DATABASE_DRIVER"             env-default:"sqlite"`
	Path            string        `yaml:"path"               env:"DATABASE_PATH"               env-default:"./meterhub.db"`
	DSN             string        `yaml:"dsn"                env:"DATABASE_DSN"`
	MaxConns        int32         `yaml:"max_conns"          env:"DATABASE_MAX_CONNS"          env-default:"10"`
	MinConns        int32         `yaml:"min_conns"          env:"DATABASE_MIN_CONNS"          env-default:"1"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"DATABASE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	AcquireTimeout  time.Duration `yaml:"acquire_timeout"    env:"DATABASE_ACQUIRE_TIMEOUT"    env-default:"5s"`
}

// Payment strategies and ledger backends.
const (
	StrategyProof = "proof"
	StrategyToken = "token"

	LedgerMemory = "memory"
	LedgerSQL    = "sql"
	LedgerRedis  = "redis"
)

// PaymentConfig configures the payment authorization gateway.
type PaymentConfig struct {
	Strategy           string        `yaml:"strategy"              env:"PAYMENT_STRATEGY"              env-default:"proof"`
	ProtocolVersion    int           `yaml:"protocol_version"      env:"PAYMENT_PROTOCOL_VERSION"      env-default:"1"`
	Network            string        `yaml:"network"               env:"PAYMENT_NETWORK"               env-default:"base-sepolia"`
	Chain              string        `yaml:"chain"                 env:"PAYMENT_CHAIN"                 env-default:"evm"`
	PayTo              string        `yaml:"pay_to"                env:"PAYMENT_PAY_TO"`
	Asset              string        `yaml:"asset"                 env:"PAYMENT_ASSET"`
	AssetDecimals      int32         `yaml:"asset_decimals"        env:"PAYMENT_ASSET_DECIMALS"        env-default:"6"`
	MaxTimeoutSeconds  int           `yaml:"max_timeout_seconds"   env:"PAYMENT_MAX_TIMEOUT_SECONDS"   env-default:"60"`
	Ledger             string        `yaml:"ledger"                env:"PAYMENT_LEDGER"                env-default:"memory"`
	ClaimTTL           time.Duration `yaml:"claim_ttl"             env:"PAYMENT_CLAIM_TTL"             env-default:"0s"`
	SweepSchedule      string        `yaml:"sweep_schedule"        env:"PAYMENT_SWEEP_SCHEDULE"        env-default:"@every 10m"`
	TokenPublicKey     string        `yaml:"token_public_key"      env:"PAYMENT_TOKEN_PUBLIC_KEY"`
	TokenPublicKeyPath string        `yaml:"token_public_key_path" env:"PAYMENT_TOKEN_PUBLIC_KEY_PATH"`
	IssuerURL          string        `yaml:"issuer_url"            env:"PAYMENT_ISSUER_URL"            env-default:"http://localhost:8080/onboarding"`
}

// RedisConfig holds the shared ledger connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"     env:"REDIS_ADDR"     env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"       env:"REDIS_DB"       env-default:"0"`
}

// InvokeConfig tunes forwarding of paid calls to service endpoints.
type InvokeConfig struct {
	Timeout time.Duration `yaml:"timeout"       env:"INVOKE_TIMEOUT"       env-default:"15s"`
	// PerHostRate is calls per second to one endpoint host. 0 is unlimited.
	PerHostRate float64 `yaml:"per_host_rate" env:"INVOKE_PER_HOST_RATE" env-default:"0"`
	Burst       int     `yaml:"burst"         env:"INVOKE_BURST"         env-default:"10"`
}

// OperatorConfig guards the /admin surface.
type OperatorConfig struct {
	// KeyHash is a bcrypt hash of the operator key. Empty disables /admin.
	KeyHash string `yaml:"key_hash" env:"OPERATOR_KEY_HASH"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Pretty bool   `yaml:"pretty" env:"LOG_PRETTY" env-default:"false"`
}
