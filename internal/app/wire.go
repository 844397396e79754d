package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/limitdesk/internal/blob/s3"
	cachemem "github.com/alanyoungcy/limitdesk/internal/cache/memory"
	"github.com/alanyoungcy/limitdesk/internal/cache/redis"
	"github.com/alanyoungcy/limitdesk/internal/config"
	"github.com/alanyoungcy/limitdesk/internal/crypto"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/notify"
	"github.com/alanyoungcy/limitdesk/internal/platform/aggregator"
	"github.com/alanyoungcy/limitdesk/internal/registry"
	"github.com/alanyoungcy/limitdesk/internal/service"
	"github.com/alanyoungcy/limitdesk/internal/source"
	"github.com/alanyoungcy/limitdesk/internal/store/memory"
	"github.com/alanyoungcy/limitdesk/internal/store/postgres"
)

// registryLoadTimeout bounds the initial pair list load and database connect
// at startup.
const registryLoadTimeout = 10 * time.Second

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Catalog *registry.Catalog
	Router  *source.Router

	// Caches and fan-out. RateLimiter is nil without Redis.
	Snapshots   domain.SnapshotCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Order persistence. Mirror and Archiver are nil unless configured.
	DemoOrders domain.OrderStore
	Events     domain.OrderEventStore
	Mirror     domain.OrderMirror
	Archiver   domain.OrderArchiver

	Orders  *service.OrderService
	Markets *service.MarketService

	// Notifier is nil when no alert destination is configured.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		DemoOrders: memory.NewOrderTable(),
	}

	client := aggregatorClient(cfg)

	// --- Pair registry ---
	// An explicit pair file wins; otherwise the aggregator lists pairs when
	// configured, and the embedded list is used as a last resort.
	var loader registry.Loader = registry.NewFileLoader(cfg.Registry.PairsPath)
	if cfg.Registry.PairsPath == "" && client != nil {
		loader = client
	}
	deps.Catalog = registry.NewCatalog(cfg.Chains, loader, cfg.Registry.MaxSourcePairs, logger)
	refreshCtx, cancel := context.WithTimeout(ctx, registryLoadTimeout)
	deps.Catalog.RefreshAll(refreshCtx)
	cancel()

	// --- Data sources ---
	deps.Router = source.NewRouter(cfg.Chains, demoFactory(cfg, deps.Catalog), liveFactory(cfg, client, logger))

	// --- Redis (snapshot cache, signal bus, rate limiter) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Snapshots = redis.NewSnapshotCache(redisClient, cfg.Market.SnapshotTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	} else {
		deps.Snapshots = cachemem.NewSnapshotCache()
		deps.SignalBus = cachemem.NewSignalBus()
	}

	// --- PostgreSQL (live order mirror + event log) ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,

			ConnectTimeout: registryLoadTimeout,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.Mirror = postgres.NewOrderStore(pool)
		deps.Events = postgres.NewOrderEventStore(pool)
	} else {
		deps.Events = memory.NewEventLog()
	}

	// --- S3 archive of collected demo orders ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		// GC keeps stale demo orders until the bucket becomes reachable.
		if err := s3Client.Health(ctx); err != nil {
			logger.Warn("wire: s3 archive bucket unreachable", slog.String("error", err.Error()))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client, 0))
	}

	// --- Services ---
	orders := service.NewOrderService(
		deps.Router,
		service.CatalogTokens(deps.Catalog),
		deps.DemoOrders,
		deps.Events,
		service.OrderConfig{
			DefaultTTL:     cfg.Orders.DefaultTTL.Duration,
			Retention:      cfg.Orders.Retention.Duration,
			CacheSize:      cfg.Orders.CacheSize,
			CacheFreshness: cfg.Orders.CacheFreshness.Duration,
		},
		logger,
	).WithBus(deps.SignalBus)
	if deps.Mirror != nil {
		orders.WithMirror(deps.Mirror)
	}
	if deps.Archiver != nil {
		orders.WithArchiver(deps.Archiver)
	}
	if err := attachSigners(cfg, orders, logger); err != nil {
		return fail(err)
	}
	deps.Orders = orders

	deps.Markets = service.NewMarketService(deps.Router, deps.Catalog, orders, service.MarketConfig{
		CacheMaxAge: cfg.Market.CacheMaxAge.Duration,
		StatsPairs:  cfg.Market.StatsPairs,
	}, logger).WithCache(deps.Snapshots)

	// --- Order alerts ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender("", cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.IncludeDemo, logger)
	}

	return deps, cleanup, nil
}

// demoFactory builds synthetic adapters off the chain's registry.
func demoFactory(cfg *config.Config, catalog *registry.Catalog) source.Factory {
	return func(sess source.Session) (source.Adapter, error) {
		reg, err := catalog.For(sess.ChainID)
		if err != nil {
			return nil, err
		}
		gen := source.NewGenerator(reg, cfg.Poller.Levels, time.Now)
		return source.NewDemoAdapter(sess, gen, cfg.Poller.DemoLatency.Duration), nil
	}
}

// aggregatorClient returns nil when no aggregator URL is configured.
func aggregatorClient(cfg *config.Config) *aggregator.Client {
	if cfg.Aggregator.BaseURL == "" {
		return nil
	}
	var auth *crypto.HMACAuth
	if cfg.Aggregator.APIKey != "" {
		auth = &crypto.HMACAuth{Key: cfg.Aggregator.APIKey, Secret: cfg.Aggregator.APISecret}
	}
	return aggregator.NewClient(cfg.Aggregator.BaseURL, auth)
}

// liveFactory returns nil without a client, which leaves live sessions
// unavailable.
func liveFactory(cfg *config.Config, client *aggregator.Client, logger *slog.Logger) source.Factory {
	if client == nil {
		return nil
	}

	policy := source.DefaultPolicy()
	if cfg.Aggregator.Attempts > 0 {
		policy.Attempts = cfg.Aggregator.Attempts
	}
	if cfg.Aggregator.BaseTimeout.Duration > 0 {
		policy.BaseTimeout = cfg.Aggregator.BaseTimeout.Duration
	}

	return func(sess source.Session) (source.Adapter, error) {
		return source.NewLiveAdapter(sess, client, policy, logger), nil
	}
}

// attachSigners registers one signer per supported chain when a maker key is
// configured. Without a key live orders are submitted unsigned.
func attachSigners(cfg *config.Config, orders *service.OrderService, logger *slog.Logger) error {
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if !keyCfg.Configured() {
		return nil
	}
	key, err := crypto.LoadKey(keyCfg)
	if err != nil {
		return fmt.Errorf("wire: maker key: %w", err)
	}
	for _, chainID := range cfg.Chains {
		signer, err := crypto.NewSigner(key, chainID, cfg.Aggregator.VerifyingContract)
		if err != nil {
			return fmt.Errorf("wire: signer chain %d: %w", chainID, err)
		}
		orders.WithSigner(signer)
		logger.Info("wire: signer ready",
			slog.Int64("chain_id", chainID),
			slog.String("maker", signer.Address().Hex()),
		)
	}
	return nil
}
