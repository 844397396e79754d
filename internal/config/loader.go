package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies LIMITDESK_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known LIMITDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Session ──
	setInt64(&cfg.Session.ChainID, "LIMITDESK_SESSION_CHAIN_ID")
	setBool(&cfg.Session.Demo, "LIMITDESK_SESSION_DEMO")
	setInt64Slice(&cfg.Chains, "LIMITDESK_CHAINS")

	// ── Aggregator ──
	setStr(&cfg.Aggregator.BaseURL, "LIMITDESK_AGGREGATOR_BASE_URL")
	setStr(&cfg.Aggregator.APIKey, "LIMITDESK_AGGREGATOR_API_KEY")
	setStr(&cfg.Aggregator.APISecret, "LIMITDESK_AGGREGATOR_API_SECRET")
	setStr(&cfg.Aggregator.VerifyingContract, "LIMITDESK_AGGREGATOR_VERIFYING_CONTRACT")
	setInt(&cfg.Aggregator.Attempts, "LIMITDESK_AGGREGATOR_ATTEMPTS")
	setDuration(&cfg.Aggregator.BaseTimeout, "LIMITDESK_AGGREGATOR_BASE_TIMEOUT")

	// ── Poller ──
	setDuration(&cfg.Poller.Interval, "LIMITDESK_POLLER_INTERVAL")
	setInt(&cfg.Poller.Levels, "LIMITDESK_POLLER_LEVELS")
	setDuration(&cfg.Poller.DemoLatency, "LIMITDESK_POLLER_DEMO_LATENCY")

	// ── Orders ──
	setDuration(&cfg.Orders.DefaultTTL, "LIMITDESK_ORDERS_DEFAULT_TTL")
	setDuration(&cfg.Orders.Retention, "LIMITDESK_ORDERS_RETENTION")
	setDuration(&cfg.Orders.GCInterval, "LIMITDESK_ORDERS_GC_INTERVAL")
	setDuration(&cfg.Orders.ReconcileInterval, "LIMITDESK_ORDERS_RECONCILE_INTERVAL")
	setInt(&cfg.Orders.CacheSize, "LIMITDESK_ORDERS_CACHE_SIZE")
	setDuration(&cfg.Orders.CacheFreshness, "LIMITDESK_ORDERS_CACHE_FRESHNESS")

	// ── Market ──
	setDuration(&cfg.Market.CacheMaxAge, "LIMITDESK_MARKET_CACHE_MAX_AGE")
	setDuration(&cfg.Market.SnapshotTTL, "LIMITDESK_MARKET_SNAPSHOT_TTL")
	setInt(&cfg.Market.StatsPairs, "LIMITDESK_MARKET_STATS_PAIRS")

	// ── Registry ──
	setStr(&cfg.Registry.PairsPath, "LIMITDESK_REGISTRY_PAIRS_PATH")
	setInt(&cfg.Registry.MaxSourcePairs, "LIMITDESK_REGISTRY_MAX_SOURCE_PAIRS")
	setDuration(&cfg.Registry.RefreshInterval, "LIMITDESK_REGISTRY_REFRESH_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "LIMITDESK_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "LIMITDESK_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "LIMITDESK_WALLET_KEY_PASSWORD")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "LIMITDESK_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "LIMITDESK_REDIS_URL")
	setStr(&cfg.Redis.Addr, "LIMITDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LIMITDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LIMITDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LIMITDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LIMITDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LIMITDESK_REDIS_TLS_ENABLED")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "LIMITDESK_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "LIMITDESK_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "LIMITDESK_DATABASE_HOST")
	setInt(&cfg.Database.Port, "LIMITDESK_DATABASE_PORT")
	setStr(&cfg.Database.Database, "LIMITDESK_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "LIMITDESK_DATABASE_USER")
	setStr(&cfg.Database.Password, "LIMITDESK_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "LIMITDESK_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "LIMITDESK_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "LIMITDESK_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "LIMITDESK_DATABASE_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LIMITDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LIMITDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LIMITDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "LIMITDESK_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "LIMITDESK_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "LIMITDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LIMITDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LIMITDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LIMITDESK_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "LIMITDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LIMITDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LIMITDESK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "LIMITDESK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "LIMITDESK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LIMITDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LIMITDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "LIMITDESK_NOTIFY_DISCORD_WEBHOOK")
	setStringSlice(&cfg.Notify.Events, "LIMITDESK_NOTIFY_EVENTS")
	setBool(&cfg.Notify.IncludeDemo, "LIMITDESK_NOTIFY_INCLUDE_DEMO")

	// ── Top-level ──
	setStr(&cfg.Mode, "LIMITDESK_MODE")
	setStr(&cfg.LogLevel, "LIMITDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setInt64Slice leaves dst untouched if any element fails to parse.
func setInt64Slice(dst *[]int64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}
