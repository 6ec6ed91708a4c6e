package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"idchain/pkg/platform/address"
)

// Config is the process configuration. Values come from defaults, an optional
// config file named by IDCHAIN_CONFIG, and the environment, in increasing
// precedence.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	Ledger    Ledger    `mapstructure:"ledger"`
	Auth      Auth      `mapstructure:"auth"`
	Kafka     Kafka     `mapstructure:"kafka"`
	Log       Log       `mapstructure:"log"`
	Reconcile Reconcile `mapstructure:"reconcile"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken guards /admin routes. Empty disables them.
	AdminToken string `mapstructure:"admin_token"`
}

// Database is optional; without a URL the in-memory stores are used.
type Database struct {
	URL          string        `mapstructure:"url"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	TxTimeout    time.Duration `mapstructure:"tx_timeout"`
}

// Redis backs the identity-details cache when a URL is set.
type Redis struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type Ledger struct {
	NodeURL         string `mapstructure:"node_url"`
	ContractAddress string `mapstructure:"contract_address"`
	AdminPrivateKey string `mapstructure:"admin_private_key"`
	// AllowNodeAccounts permits running without an admin key, sending from
	// node-managed accounts instead.
	AllowNodeAccounts bool          `mapstructure:"allow_node_accounts"`
	GasLimit          uint64        `mapstructure:"gas_limit"`
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	// StatusTimeout bounds the best-effort ledger read of the status view.
	StatusTimeout time.Duration `mapstructure:"status_timeout"`
}

type Auth struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Issuer        string        `mapstructure:"issuer"`
}

// Kafka is optional; without brokers the audit outbox is not relayed.
type Kafka struct {
	Brokers       []string      `mapstructure:"brokers"`
	Topic         string        `mapstructure:"topic"`
	RelayInterval time.Duration `mapstructure:"relay_interval"`
	BatchSize     int           `mapstructure:"batch_size"`
}

type Log struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Reconcile drives the recovery of ledger writes left unresolved.
type Reconcile struct {
	Interval time.Duration `mapstructure:"interval"`
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// RateLimit sets per client IP request budgets. Counters live in Redis when
// it is configured.
type RateLimit struct {
	Disabled bool          `mapstructure:"disabled"`
	Window   time.Duration `mapstructure:"window"`
	Auth     int           `mapstructure:"auth"`
	Write    int           `mapstructure:"write"`
	Read     int           `mapstructure:"read"`
}

// DevJWTSigningKey is the development default; override it everywhere else.
const DevJWTSigningKey = "dev-secret-key-change-in-production"

// envAliases keeps the environment names operators already use.
var envAliases = map[string]string{
	"ledger.node_url":          "WEB3_PROVIDER_URI",
	"ledger.contract_address":  "CONTRACT_ADDRESS",
	"ledger.admin_private_key": "ADMIN_PRIVATE_KEY",
	"database.url":             "DATABASE_URL",
	"redis.url":                "REDIS_URL",
	"auth.jwt_signing_key":     "SECRET_KEY",
	"server.admin_token":       "ADMIN_API_TOKEN",
	"kafka.brokers":            "KAFKA_BROKERS",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.tx_timeout", 5*time.Second)
	v.SetDefault("redis.cache_ttl", 30*time.Second)
	v.SetDefault("ledger.node_url", "http://localhost:8545")
	v.SetDefault("ledger.gas_limit", 2_000_000)
	v.SetDefault("ledger.confirm_timeout", 120*time.Second)
	v.SetDefault("ledger.poll_interval", time.Second)
	v.SetDefault("ledger.status_timeout", 2*time.Second)
	v.SetDefault("auth.jwt_signing_key", DevJWTSigningKey)
	v.SetDefault("auth.token_ttl", 30*time.Minute)
	v.SetDefault("auth.issuer", "idchain")
	v.SetDefault("kafka.topic", "idchain.audit")
	v.SetDefault("kafka.relay_interval", 2*time.Second)
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.claim_ttl", 5*time.Minute)
	v.SetDefault("rate_limit.disabled", false)
	v.SetDefault("rate_limit.window", time.Minute)
	v.SetDefault("rate_limit.auth", 10)
	v.SetDefault("rate_limit.write", 60)
	v.SetDefault("rate_limit.read", 300)
}

// Load reads and validates the configuration.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envAliases {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	v.SetDefault("ledger.allow_node_accounts", false)
	v.SetDefault("ledger.contract_address", "")
	v.SetDefault("ledger.admin_private_key", "")

	if path := os.Getenv("IDCHAIN_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.NodeURL == "" {
		errs = append(errs, errors.New("ledger node URL is required (WEB3_PROVIDER_URI)"))
	}
	if !address.IsValid(c.Ledger.ContractAddress) {
		errs = append(errs, errors.New("ledger contract address is missing or invalid (CONTRACT_ADDRESS)"))
	}
	switch {
	case c.Ledger.AdminPrivateKey == "" && !c.Ledger.AllowNodeAccounts:
		errs = append(errs, errors.New("ledger admin private key is required (ADMIN_PRIVATE_KEY)"))
	case c.Ledger.AdminPrivateKey != "" && !isHexKey(c.Ledger.AdminPrivateKey):
		errs = append(errs, errors.New("ledger admin private key must be 32 hex-encoded bytes"))
	}
	if c.Ledger.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("ledger confirm timeout must be positive"))
	}
	if c.Reconcile.Interval <= 0 {
		errs = append(errs, errors.New("reconcile interval must be positive"))
	}
	// A claim younger than the confirm timeout may still have a write in flight.
	if c.Reconcile.ClaimTTL <= c.Ledger.ConfirmTimeout {
		errs = append(errs, errors.New("reconcile claim TTL must exceed the ledger confirm timeout"))
	}
	if c.Auth.JWTSigningKey == "" {
		errs = append(errs, errors.New("JWT signing key is required (SECRET_KEY)"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("token TTL must be positive"))
	}
	if !c.RateLimit.Disabled && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	return errors.Join(errs...)
}

func isHexKey(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')) {
			return false
		}
	}
	return true
}
