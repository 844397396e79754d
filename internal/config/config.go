// Package config defines the top-level configuration for limitdesk and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by LIMITDESK_* environment variables.
type Config struct {
	Session    SessionConfig    `toml:"session"`
	Chains     []int64          `toml:"chains"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Poller     PollerConfig     `toml:"poller"`
	Orders     OrdersConfig     `toml:"orders"`
	Market     MarketConfig     `toml:"market"`
	Registry   RegistryConfig   `toml:"registry"`
	Wallet     WalletConfig     `toml:"wallet"`
	Redis      RedisConfig      `toml:"redis"`
	Database   DatabaseConfig   `toml:"database"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// SessionConfig is the session used when a request or watched pair does not
// name one.
type SessionConfig struct {
	ChainID int64 `toml:"chain_id"`
	Demo    bool  `toml:"demo"`
}

// AggregatorConfig holds the live order aggregator endpoint and retry policy.
type AggregatorConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
	// VerifyingContract is the limit order protocol contract orders are
	// signed against.
	VerifyingContract string   `toml:"verifying_contract"`
	Attempts          int      `toml:"attempts"`
	BaseTimeout       Duration `toml:"base_timeout"`
}

// WatchedPair is one pair the pollers publish continuously.
type WatchedPair struct {
	ChainID    int64  `toml:"chain_id"`
	BaseToken  string `toml:"base_token"`
	QuoteToken string `toml:"quote_token"`
	Demo       bool   `toml:"demo"`
}

// PollerConfig holds the order book poller parameters.
type PollerConfig struct {
	Interval Duration      `toml:"interval"`
	Pairs    []WatchedPair `toml:"pairs"`
	// Levels is the synthetic book depth per side.
	Levels int `toml:"levels"`
	// DemoLatency is an artificial delay added to every synthetic call.
	DemoLatency Duration `toml:"demo_latency"`
}

// OrdersConfig holds order lifecycle parameters.
type OrdersConfig struct {
	DefaultTTL        Duration `toml:"default_ttl"`
	Retention         Duration `toml:"retention"`
	GCInterval        Duration `toml:"gc_interval"`
	ReconcileInterval Duration `toml:"reconcile_interval"`
	CacheSize         int      `toml:"cache_size"`
	CacheFreshness    Duration `toml:"cache_freshness"`
}

// MarketConfig holds market view parameters.
type MarketConfig struct {
	CacheMaxAge Duration `toml:"cache_max_age"`
	SnapshotTTL Duration `toml:"snapshot_ttl"`
	StatsPairs  int      `toml:"stats_pairs"`
}

// RegistryConfig holds pair registry parameters.
type RegistryConfig struct {
	// PairsPath is a JSON pair list; empty uses the embedded bootstrap set.
	PairsPath       string   `toml:"pairs_path"`
	MaxSourcePairs  int      `toml:"max_source_pairs"`
	RefreshInterval Duration `toml:"refresh_interval"`
}

// WalletConfig holds the maker key used to sign live orders.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	URL        string `toml:"url"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards mutating routes when set.
	APIKey string `toml:"api_key"`
	// RateLimit is the number of requests per RateWindow per client IP.
	// Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow Duration `toml:"rate_window"`
}

// NotifyConfig holds order alert destinations. Alerts are off unless a
// Telegram chat or Discord webhook is configured.
type NotifyConfig struct {
	TelegramToken  string `toml:"telegram_token"`
	TelegramChatID string `toml:"telegram_chat_id"`
	DiscordWebhook string `toml:"discord_webhook"`
	// Events filters order event types (created, filled, cancelled,
	// expired). Empty means filled, cancelled and expired.
	Events      []string `toml:"events"`
	IncludeDemo bool     `toml:"include_demo"`
}

// Duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Session: SessionConfig{ChainID: 1, Demo: true},
		Chains:  []int64{1, 137},
		Aggregator: AggregatorConfig{
			BaseURL:           "https://api.1inch.dev/orderbook/v4.0",
			VerifyingContract: "0x111111125421cA6dc452d289314280a0f8842A65",
			Attempts:          3,
			BaseTimeout:       Duration{5 * time.Second},
		},
		Poller: PollerConfig{
			Interval:    Duration{3 * time.Second},
			Levels:      20,
			DemoLatency: Duration{0},
		},
		Orders: OrdersConfig{
			DefaultTTL:        Duration{24 * time.Hour},
			Retention:         Duration{24 * time.Hour},
			GCInterval:        Duration{10 * time.Minute},
			ReconcileInterval: Duration{15 * time.Second},
			CacheSize:         4096,
			CacheFreshness:    Duration{5 * time.Second},
		},
		Market: MarketConfig{
			CacheMaxAge: Duration{2 * time.Second},
			SnapshotTTL: Duration{time.Minute},
			StatsPairs:  5,
		},
		Registry: RegistryConfig{
			MaxSourcePairs:  500,
			RefreshInterval: Duration{time.Hour},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "limitdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "limitdesk-archive",
			Prefix:         "orders",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  Duration{time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"watch":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// SupportsChain reports whether id is one of the configured chains.
func (c *Config) SupportsChain(id int64) bool {
	for _, chain := range c.Chains {
		if chain == id {
			return true
		}
	}
	return false
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chains
	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain id is required")
	}
	for _, id := range c.Chains {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("chains: chain id must be positive, got %d", id))
		}
	}
	if !c.SupportsChain(c.Session.ChainID) {
		errs = append(errs, fmt.Sprintf("session: chain_id %d is not in chains", c.Session.ChainID))
	}

	// Aggregator
	if c.Aggregator.Attempts < 1 {
		errs = append(errs, "aggregator: attempts must be >= 1")
	}
	if c.Aggregator.BaseTimeout.Duration <= 0 {
		errs = append(errs, "aggregator: base_timeout must be > 0")
	}
	if c.Aggregator.APISecret != "" && c.Aggregator.APIKey == "" {
		errs = append(errs, "aggregator: api_key is required when api_secret is set")
	}
	if v := c.Aggregator.VerifyingContract; v != "" && !common.IsHexAddress(v) {
		errs = append(errs, fmt.Sprintf("aggregator: verifying_contract %q is not an address", v))
	}

	// Poller
	if c.Poller.Interval.Duration <= 0 {
		errs = append(errs, "poller: interval must be > 0")
	}
	if c.Poller.Levels < 1 {
		errs = append(errs, "poller: levels must be >= 1")
	}
	for i, p := range c.Poller.Pairs {
		if p.ChainID != 0 && !c.SupportsChain(p.ChainID) {
			errs = append(errs, fmt.Sprintf("poller: pairs[%d] chain_id %d is not in chains", i, p.ChainID))
		}
		if p.BaseToken == "" || p.QuoteToken == "" {
			errs = append(errs, fmt.Sprintf("poller: pairs[%d] needs base_token and quote_token", i))
		}
	}
	if strings.EqualFold(c.Mode, "watch") && len(c.Poller.Pairs) == 0 {
		errs = append(errs, "poller: watch mode needs at least one entry in pairs")
	}

	// Orders
	if c.Orders.DefaultTTL.Duration <= 0 {
		errs = append(errs, "orders: default_ttl must be > 0")
	}
	if c.Orders.Retention.Duration < 0 {
		errs = append(errs, "orders: retention must be >= 0")
	}
	if c.Orders.CacheSize < 1 {
		errs = append(errs, "orders: cache_size must be >= 1")
	}

	// Market
	if c.Market.CacheMaxAge.Duration < 0 {
		errs = append(errs, "market: cache_max_age must be >= 0")
	}
	if c.Market.StatsPairs < 1 {
		errs = append(errs, "market: stats_pairs must be >= 1")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: url or addr must be set when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	for _, e := range c.Notify.Events {
		switch strings.ToLower(strings.TrimSpace(e)) {
		case "created", "filled", "cancelled", "expired":
		default:
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
