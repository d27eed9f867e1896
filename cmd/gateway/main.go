// Command gateway wires the trading gateway's core components — store,
// cache, vault, venue registry, executor, position tracker, risk engine,
// notification bus, and accounts — then blocks until SIGINT or SIGTERM
// and stops the risk engine. It does not start the risk engine's
// per-account monitoring loop. The HTTP/gRPC transport this process
// would sit behind is explicitly out of scope (spec §1); this binary is
// the composition root a transport layer would import.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/accounts"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/cache"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/config"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/domain"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/executor"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/notify"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/observability"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/position"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/risk"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/security"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/store"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/edgex"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/extended"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/hyperliquid"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/lighter"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/mock"
	"github.com/robertkohahimn/perp-dex-trading-aggr/internal/venue/vest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.NewLogger("perp-gateway", "info", "json")
	metrics := observability.NewMetrics()
	ctx := context.Background()

	db, err := store.Open(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.PoolSize,
		MaxIdleConns:    cfg.Database.MaxOverflow,
		ConnMaxLifetime: cfg.Database.PoolTimeout,
	}, logger)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	redisClient, err := cache.New(ctx, cache.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	vault, err := security.NewVault(cfg.Security.EncryptionKey)
	if err != nil {
		log.Fatalf("failed to initialize credential vault: %v", err)
	}

	accountStore := store.NewAccountStore(db)
	bindingStore := store.NewBindingStore(db)
	orderStore := store.NewOrderStore(db)
	tradeStore := store.NewTradeStore(db)
	positionStore := store.NewPositionStore(db)
	positionHistoryStore := store.NewPositionHistoryStore(db)

	registry := venue.NewRegistry()
	registry.Register(domain.VenueHyperliquid, func() venue.Adapter { return hyperliquid.New(venueRateLimit(cfg, "hyperliquid")) })
	registry.Register(domain.VenueLighter, func() venue.Adapter { return lighter.New(venueRateLimit(cfg, "lighter")) })
	registry.Register(domain.VenueExtended, func() venue.Adapter { return extended.New(venueRateLimit(cfg, "extended")) })
	registry.Register(domain.VenueEdgeX, func() venue.Adapter { return edgex.New(venueRateLimit(cfg, "edgex")) })
	registry.Register(domain.VenueVest, func() venue.Adapter { return vest.New(venueRateLimit(cfg, "vest")) })
	registry.Register(domain.VenueMock, func() venue.Adapter { return mock.New(1) })

	bus := notify.New(1000, redisClient, logger, metrics)
	tracker := position.New(positionStore, positionHistoryStore, logger, metrics)

	// The executor needs a risk checker and the risk engine needs the
	// executor (for EmergencyCloseAll), so construction wires the
	// executor first with no risk checker and fills it in once the risk
	// engine exists.
	exec := executor.New(registry, vault, orderStore, tradeStore, bindingStore, nil, bus, logger, metrics)
	riskEngine := risk.New(accountStore, bindingStore, positionStore, tracker, exec, bus, logger, metrics, 30*time.Second)
	exec.SetRiskChecker(riskEngine)

	accountSvc := accounts.New(accountStore, []byte(cfg.Security.SecretKey), time.Duration(cfg.Security.AccessTokenExpireMinutes)*time.Minute, 0)
	_ = accountSvc

	// riskEngine.Monitor runs per-account (it needs that account's bound
	// venues) and per spec §4.5 is started once a transport layer has an
	// authenticated account's bindings in hand; this composition root
	// wires the core but doesn't own that loop.
	logger.Info(ctx, "gateway core started", map[string]interface{}{"venues": len(registry.Venues())})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down gateway", nil)
	riskEngine.Stop()
}

// venueRateLimit returns the per-minute request budget handed to a
// venue's shared rate limiter. Hyperliquid and Lighter publish higher
// public-API limits than the newer venues, so they get a larger budget;
// everything else defaults to a conservative 300/min until cfg.Venues
// carries a per-venue override.
func venueRateLimit(cfg *config.Config, venueName string) int {
	if v, ok := cfg.Venues[venueName]; ok && v.Testnet {
		return 300
	}
	switch venueName {
	case "hyperliquid":
		return 1200
	case "lighter":
		return 600
	default:
		return 300
	}
}
