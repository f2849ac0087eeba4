package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/leyr1112/alpaca-stablecoin/config"
	"github.com/leyr1112/alpaca-stablecoin/core/events"
	"github.com/leyr1112/alpaca-stablecoin/native/access"
	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
	"github.com/leyr1112/alpaca-stablecoin/native/liquidation"
	"github.com/leyr1112/alpaca-stablecoin/native/oracle"
	"github.com/leyr1112/alpaca-stablecoin/native/stabilityfee"
	"github.com/leyr1112/alpaca-stablecoin/native/systemdebt"
	"github.com/leyr1112/alpaca-stablecoin/observability"
	"github.com/leyr1112/alpaca-stablecoin/observability/logging"
	telemetry "github.com/leyr1112/alpaca-stablecoin/observability/otel"
	"github.com/leyr1112/alpaca-stablecoin/services/stablecoin/server"
	"github.com/leyr1112/alpaca-stablecoin/storage"

	"github.com/ethereum/go-ethereum/common"
)

const snapshotRetention = 64

// Internal components authenticate against the capability registry like any
// other caller, so each gets a stable in-process address.
var (
	oracleSelf    = systemAddress("sys/price-oracle")
	collectorSelf = systemAddress("sys/stability-fee-collector")
	engineSelf    = systemAddress("sys/liquidation-engine")
	strategySelf  = systemAddress("sys/liquidation-strategy")
	sysDebtSelf   = systemAddress("sys/system-debt-engine")
)

func systemAddress(tag string) common.Address {
	return common.BytesToAddress([]byte(tag))
}

func main() {
	var cfgPath, rolesPath string
	flag.StringVar(&cfgPath, "config", "config/stablecoind.toml", "path to stablecoind config")
	flag.StringVar(&rolesPath, "roles", "config/roles.yaml", "path to capability grants")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.Setup("stablecoind", cfg.Environment)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "stablecoind",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	grants, err := config.LoadRoles(rolesPath)
	if err != nil {
		log.Fatalf("load roles: %v", err)
	}
	acl := access.NewRegistry(grants[access.RoleOwner]...)
	for role, addrs := range grants {
		if role == access.RoleOwner {
			continue
		}
		for _, addr := range addrs {
			acl.Grant(role, addr)
		}
	}
	admin := grants[access.RoleOwner][0]

	acl.Grant(access.RolePriceOracle, oracleSelf)
	acl.Grant(access.RoleStabilityFeeCollector, collectorSelf)
	acl.Grant(access.RoleLiquidationEngine, engineSelf)
	acl.Grant(access.RoleLiquidationEngine, strategySelf)
	acl.Grant(access.RoleLiquidationStrategy, strategySelf)

	ledger := bookkeeper.NewBookKeeper(acl)
	ledger.SetLogger(logger)
	ledger.SetEmitter(events.LogEmitter{Logger: logger})

	po := oracle.NewPriceOracle(acl, ledger, oracleSelf)
	po.SetLogger(logger)
	collector := stabilityfee.NewCollector(acl, ledger, collectorSelf)
	collector.SetLogger(logger)
	sd := systemdebt.NewEngine(acl, ledger, sysDebtSelf)
	sd.SetLogger(logger)
	strategy := liquidation.NewFixedSpreadStrategy(acl, strategySelf, sysDebtSelf, po)
	strategy.SetLogger(logger)
	engine := liquidation.NewEngine(acl, ledger, engineSelf)
	engine.SetLogger(logger)
	engine.SetEmitter(events.LogEmitter{Logger: logger})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("create data dir: %v", err)
	}
	store, err := storage.Open(filepath.Join(cfg.DataDir, "ledger.db"), snapshotRetention)
	if err != nil {
		log.Fatalf("open snapshot store: %v", err)
	}
	defer store.Close()

	restored := false
	if snap, seq, err := store.LatestSnapshot(); err == nil {
		ledger.Restore(snap)
		restored = true
		logger.Info("ledger restored from snapshot", "sequence", seq)
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Fatalf("restore snapshot: %v", err)
	}

	feeds := make(map[string]*oracle.SimplePriceFeed, len(cfg.Pools))
	for _, pool := range cfg.Pools {
		if err := seedPool(pool, admin, acl, ledger, po, collector, strategy, engine, feeds); err != nil {
			log.Fatalf("seed pool %s: %v", pool.ID, err)
		}
		if at, ok, err := store.LastAccrual(pool.ID); err != nil {
			log.Fatalf("load accrual %s: %v", pool.ID, err)
		} else if ok {
			collector.RestoreAccrual(pool.ID, at)
		}
	}
	if !restored {
		if err := ledger.SetTotalDebtCeiling(admin, cfg.TotalDebtCeilingRad()); err != nil {
			log.Fatalf("total debt ceiling: %v", err)
		}
	}
	if err := collector.SetSystemDebtEngine(admin, sysDebtSelf); err != nil {
		log.Fatalf("fee receiver: %v", err)
	}

	srv, err := server.New(server.Config{
		Ledger:     ledger,
		Oracle:     po,
		Feeds:      feeds,
		Engine:     engine,
		Collector:  collector,
		SystemDebt: sd,
		Snapshots:  store,
		AuthTokens: cfg.AuthTokens,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go collectFees(ctx, cfg, collector, store, logger)
	go snapshotLoop(ctx, cfg, ledger, store, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(srv.Handler(), "stablecoind"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("stablecoind listening", "address", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		if _, err := store.SaveSnapshot(ledger.Snapshot()); err != nil {
			logger.Error("final snapshot", "error", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

// seedPool applies a pool's genesis parameters. On a restored ledger the
// bookkeeper parameters already carry the persisted state, so only the
// in-memory components (feed, strategy, collector) are rewired.
func seedPool(
	pool config.PoolConfig,
	admin common.Address,
	acl *access.Registry,
	ledger *bookkeeper.BookKeeper,
	po *oracle.PriceOracle,
	collector *stabilityfee.Collector,
	strategy *liquidation.FixedSpreadStrategy,
	engine *liquidation.Engine,
	feeds map[string]*oracle.SimplePriceFeed,
) error {
	if _, ok := ledger.Pool(pool.ID); !ok {
		if err := ledger.Init(admin, pool.ID); err != nil {
			return err
		}
		if err := ledger.SetDebtCeiling(admin, pool.ID, pool.DebtCeilingRad()); err != nil {
			return err
		}
		if err := ledger.SetDebtFloor(admin, pool.ID, pool.DebtFloorRad()); err != nil {
			return err
		}
		if err := ledger.SetCloseFactorBps(admin, pool.ID, pool.CloseFactorBps); err != nil {
			return err
		}
		if err := ledger.SetLiquidatorIncentiveBps(admin, pool.ID, pool.LiquidatorIncentiveBps); err != nil {
			return err
		}
		if err := ledger.SetTreasuryFeesBps(admin, pool.ID, pool.TreasuryFeesBps); err != nil {
			return err
		}
	}

	feed := oracle.NewSimplePriceFeed(acl)
	feeds[pool.ID] = feed
	if err := po.SetPriceFeed(admin, pool.ID, feed, pool.LiquidationRatio()); err != nil {
		return err
	}
	if err := strategy.SetPriceFeed(admin, pool.ID, feed); err != nil {
		return err
	}
	if err := engine.SetStrategy(admin, pool.ID, strategy); err != nil {
		return err
	}
	rate, err := pool.FeeRate()
	if err != nil {
		return err
	}
	return collector.SetFeeRate(admin, pool.ID, rate)
}

func collectFees(ctx context.Context, cfg *config.Config, collector *stabilityfee.Collector, store *storage.Store, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.FeeCollectionInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, id := range collector.PoolIDs() {
				_, err := collector.Collect(ctx, id, now.UTC())
				observability.Core().ObserveFeeCollection(id, err)
				if err != nil {
					logger.Error("collect stability fee", "pool", id, "error", err)
					continue
				}
				if err := store.SaveAccrual(id, now.UTC()); err != nil {
					logger.Error("persist accrual", "pool", id, "error", err)
				}
			}
		}
	}
}

func snapshotLoop(ctx context.Context, cfg *config.Config, ledger *bookkeeper.BookKeeper, store *storage.Store, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.SnapshotInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			seq, err := store.SaveSnapshot(ledger.Snapshot())
			if err != nil {
				logger.Error("save snapshot", "error", err)
				continue
			}
			observability.Core().ObserveSnapshot(time.Since(start))
			logger.Debug("snapshot saved", "sequence", seq)
		}
	}
}
