package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/limitdesk/internal/config"
	"github.com/alanyoungcy/limitdesk/internal/domain"
	"github.com/alanyoungcy/limitdesk/internal/feed"
	"github.com/alanyoungcy/limitdesk/internal/server"
	"github.com/alanyoungcy/limitdesk/internal/server/handler"
	"github.com/alanyoungcy/limitdesk/internal/server/ws"
	"github.com/alanyoungcy/limitdesk/internal/source"
)

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 5 * time.Second

// ServerMode runs the HTTP API and websocket hub together with the watched
// pair publishers and the order maintenance loops.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Any("chains", a.cfg.Chains),
		slog.Bool("live_available", deps.Router.LiveAvailable()),
	)

	g, ctx := errgroup.WithContext(ctx)

	pubs, err := a.startPublishers(ctx, g, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	a.startHTTPServer(ctx, g, deps, pubs)

	// Order reconciliation per session: demo sessions expire orders locally,
	// live sessions pull status from the aggregator.
	for _, sess := range a.sessions(deps) {
		g.Go(func() error {
			return every(ctx, a.cfg.Orders.ReconcileInterval.Duration, func(ctx context.Context) {
				res, err := deps.Orders.Reconcile(ctx, sess)
				if err != nil {
					a.logger.WarnContext(ctx, "reconcile failed",
						slog.String("session", sess.String()),
						slog.String("error", err.Error()),
					)
					return
				}
				if res.Updated > 0 || res.Failed > 0 {
					a.logger.InfoContext(ctx, "reconcile complete",
						slog.String("session", sess.String()),
						slog.Int("checked", res.Checked),
						slog.Int("updated", res.Updated),
						slog.Int("failed", res.Failed),
					)
				}
			})
		})
	}

	// Demo order garbage collection.
	g.Go(func() error {
		return every(ctx, a.cfg.Orders.GCInterval.Duration, func(ctx context.Context) {
			res, err := deps.Orders.GC(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "order gc failed", slog.String("error", err.Error()))
				return
			}
			if res.Deleted > 0 {
				a.logger.InfoContext(ctx, "order gc complete",
					slog.Int("deleted", res.Deleted),
					slog.Int("archived", res.Archived),
					slog.Int("events_pruned", res.EventsPruned),
					slog.String("archive_key", res.ArchiveKey),
				)
			}
		})
	})

	if deps.Notifier != nil {
		g.Go(func() error {
			return deps.Notifier.Run(ctx, deps.SignalBus)
		})
	}

	// Pair registry refresh.
	if a.cfg.Registry.RefreshInterval.Duration > 0 {
		g.Go(func() error {
			return every(ctx, a.cfg.Registry.RefreshInterval.Duration, deps.Catalog.RefreshAll)
		})
	}

	return g.Wait()
}

// WatchMode polls the first watched pair and logs every snapshot's best
// bid, best ask and spread until ctx is cancelled.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Poller.Pairs) == 0 {
		return fmt.Errorf("watch mode: no pairs configured")
	}
	wp := a.cfg.Poller.Pairs[0]
	sess, pair, err := a.resolveWatched(deps, wp)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}
	adapter, err := deps.Router.For(sess)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	a.logger.InfoContext(ctx, "starting watch mode",
		slog.String("session", sess.String()),
		slog.String("pair", pair.Symbol),
	)

	sub := feed.Subscribe(ctx, adapter, pair, a.cfg.Poller.Interval.Duration,
		feed.WithLogger(a.logger),
		feed.WithHandler(func(snap domain.OrderBookSnapshot) {
			a.logger.InfoContext(ctx, "watch: snapshot",
				slog.String("pair", snap.Pair),
				slog.String("best_bid", snap.Stats.BestBid.String()),
				slog.String("best_ask", snap.Stats.BestAsk.String()),
				slog.String("spread", snap.Stats.Spread.String()),
				slog.String("spread_pct", snap.Stats.SpreadPercent.StringFixed(4)),
				slog.Int("bids", len(snap.Bids)),
				slog.Int("asks", len(snap.Asks)),
			)
		}),
	)
	defer sub.Unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

// startHTTPServer adds the hub and HTTP server goroutines to g. The server is
// shut down gracefully when ctx is cancelled. Health reports the fetch count
// of pubs.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, pubs []*feed.Publisher) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	sessions := handler.Sessions{DefaultDemo: a.cfg.Session.Demo}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		Limiter:     deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health: handler.NewHealthHandler(handler.HealthInfo{
			Mode:          a.cfg.Mode,
			Chains:        deps.Catalog.ChainIDs(),
			LiveAvailable: deps.Router.LiveAvailable,
			Orders:        deps.Orders.Health,
			Polls: func() uint64 {
				var n uint64
				for _, p := range pubs {
					n += p.Fetches()
				}
				return n
			},
		}, a.logger),
		Markets: handler.NewMarketHandler(deps.Markets, sessions, a.logger),
		Orders:  handler.NewOrderHandler(deps.Orders, sessions, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startPublishers starts one publisher per session over its watched pairs.
// Each snapshot also drives demo fill simulation through the order service.
// Every pair and adapter is resolved before any goroutine starts.
func (a *App) startPublishers(ctx context.Context, g *errgroup.Group, deps *Dependencies) ([]*feed.Publisher, error) {
	bySession := make(map[source.Session][]domain.TokenPair)
	var order []source.Session
	for _, wp := range a.cfg.Poller.Pairs {
		sess, pair, err := a.resolveWatched(deps, wp)
		if err != nil {
			return nil, err
		}
		if !sess.Demo && !deps.Router.LiveAvailable() {
			a.logger.WarnContext(ctx, "skipping live pair, no aggregator configured",
				slog.String("session", sess.String()),
				slog.String("pair", pair.Symbol),
			)
			continue
		}
		if _, ok := bySession[sess]; !ok {
			order = append(order, sess)
		}
		bySession[sess] = append(bySession[sess], pair)
	}

	pubs := make([]*feed.Publisher, 0, len(order))
	for _, sess := range order {
		adapter, err := deps.Router.For(sess)
		if err != nil {
			return nil, fmt.Errorf("publisher %s: %w", sess, err)
		}
		pubs = append(pubs, feed.NewPublisher(adapter, deps.Snapshots, deps.SignalBus, deps.Orders, a.logger))
	}
	for i, pub := range pubs {
		pairs := bySession[order[i]]
		g.Go(func() error {
			return pub.Run(ctx, pairs, a.cfg.Poller.Interval.Duration)
		})
	}
	return pubs, nil
}

// resolveWatched maps a configured pair onto its session and registry pair.
// A zero chain id falls back to the default session's chain.
func (a *App) resolveWatched(deps *Dependencies, wp config.WatchedPair) (source.Session, domain.TokenPair, error) {
	sess := source.Session{ChainID: wp.ChainID, Demo: wp.Demo}
	if sess.ChainID == 0 {
		sess.ChainID = a.cfg.Session.ChainID
	}
	reg, err := deps.Catalog.For(sess.ChainID)
	if err != nil {
		return source.Session{}, domain.TokenPair{}, err
	}
	pair, err := reg.Pair(wp.BaseToken, wp.QuoteToken)
	if err != nil {
		return source.Session{}, domain.TokenPair{}, fmt.Errorf("watched pair %s/%s: %w", wp.BaseToken, wp.QuoteToken, err)
	}
	return sess, pair, nil
}

// sessions lists every session the maintenance loops cover: demo on every
// chain, plus live when an aggregator is configured.
func (a *App) sessions(deps *Dependencies) []source.Session {
	var out []source.Session
	for _, id := range deps.Catalog.ChainIDs() {
		out = append(out, source.Session{ChainID: id, Demo: true})
		if deps.Router.LiveAvailable() {
			out = append(out, source.Session{ChainID: id})
		}
	}
	return out
}

// every runs fn on each tick of interval until ctx is done. A non-positive
// interval disables the loop but still blocks until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
