package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/omomo-finance/omomo-protocol-sub001/config"
	"github.com/omomo-finance/omomo-protocol-sub001/core/events"
	"github.com/omomo-finance/omomo-protocol-sub001/crypto"
	"github.com/omomo-finance/omomo-protocol-sub001/explorer/index"
	"github.com/omomo-finance/omomo-protocol-sub001/native/controller"
	"github.com/omomo-finance/omomo-protocol-sub001/native/margin"
	"github.com/omomo-finance/omomo-protocol-sub001/native/market"
	"github.com/omomo-finance/omomo-protocol-sub001/native/ratio"
	"github.com/omomo-finance/omomo-protocol-sub001/native/token"
	"github.com/omomo-finance/omomo-protocol-sub001/observability/logging"
	"github.com/omomo-finance/omomo-protocol-sub001/observability/metrics"
	"github.com/omomo-finance/omomo-protocol-sub001/observability/otel"
	"github.com/omomo-finance/omomo-protocol-sub001/rpc"
	"github.com/omomo-finance/omomo-protocol-sub001/state"
	"github.com/omomo-finance/omomo-protocol-sub001/storage"
)

const snapshotEveryBlocks = 10

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("OMOMO_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.SetupWithFile("omomod", env, logging.FileOptions{Path: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "omomod",
			Environment: env,
			Endpoint:    cfg.OTEL.Endpoint,
			Insecure:    cfg.OTEL.Insecure,
			Headers:     otel.ParseHeaders(cfg.OTEL.Headers),
			Metrics:     cfg.OTEL.Metrics,
			Traces:      cfg.OTEL.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chaindata"))
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manifest, err := config.LoadManifest(cfg.MarketsManifest)
	if err != nil {
		logger.Error("Failed to load markets manifest", slog.Any("error", err))
		os.Exit(1)
	}

	if err := migrateSchemas(db, manifest); err != nil {
		logger.Error("State schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	node, err := buildNode(cfg, manifest, db, logger)
	if err != nil {
		logger.Error("Failed to assemble protocol node", slog.Any("error", err))
		os.Exit(1)
	}

	sink, err := index.Open(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		logger.Error("Failed to open event index", slog.Any("error", err))
		os.Exit(1)
	}
	eventCh, cancelEvents := node.bus.Subscribe(256)
	defer cancelEvents()
	go func() {
		if err := sink.Run(ctx, eventCh); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Event indexer stopped", slog.Any("error", err))
		}
	}()

	go node.runClock(ctx, db, cfg.BlockIntervalSeconds, logger)

	server := rpc.NewServer(rpc.Options{
		Controller:    node.controller,
		Markets:       node.markets,
		Ledgers:       node.ledgers,
		Margin:        node.margin,
		Bus:           node.bus,
		Logger:        logger,
		JWTSecret:     jwtSecret(cfg),
		RatePerSecond: cfg.RateLimitPerSecond,
		RateBurst:     cfg.RateLimitBurst,
	})

	api := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("RPC listening", slog.String("address", cfg.RPCAddress))
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			stop()
		}
	}()

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Metrics listening", slog.String("address", cfg.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server failed", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = api.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	if err := node.persist(db); err != nil {
		logger.Error("Failed to persist final snapshot", slog.Any("error", err))
	}
}

func jwtSecret(cfg *config.Config) []byte {
	if cfg.AdminJWTSecretEnv == "" {
		return nil
	}
	secret := strings.TrimSpace(os.Getenv(cfg.AdminJWTSecretEnv))
	if secret == "" {
		return nil
	}
	return []byte(secret)
}

func migrateSchemas(db storage.Database, manifest *config.Manifest) error {
	if err := state.Migrate(db, controller.SnapshotKey(), controller.SnapshotVersion, nil); err != nil {
		return err
	}
	for _, entry := range manifest.Markets {
		if err := state.Migrate(db, market.SnapshotKey(entry.Ticker), market.SnapshotVersion, nil); err != nil {
			return err
		}
		if err := state.Migrate(db, token.SnapshotKey(entry.Asset), token.SnapshotVersion, nil); err != nil {
			return err
		}
	}
	return nil
}

// node bundles the wired protocol engines behind the RPC surface.
type node struct {
	controller *controller.Controller
	markets    map[string]*market.Market
	byAddress  map[string]*market.Market
	ledgers    map[string]*token.Ledger
	margin     *margin.Engine
	bus        *events.Bus
	height     uint64
}

func buildNode(cfg *config.Config, manifest *config.Manifest, db storage.Database, logger *slog.Logger) (*node, error) {
	admin, err := crypto.DecodeAddress(cfg.AdminAddress)
	if err != nil {
		return nil, fmt.Errorf("decode admin address: %w", err)
	}
	oracle, err := crypto.DecodeAddress(cfg.OracleAddress)
	if err != nil {
		return nil, fmt.Errorf("decode oracle address: %w", err)
	}
	self, err := crypto.DecodeAddress(cfg.ControllerAddress)
	if err != nil {
		return nil, fmt.Errorf("decode controller address: %w", err)
	}

	bus := events.NewBus()

	ctrl := controller.New(self, admin, oracle, controller.Params{
		ReserveFactor:         ratio.FromBps(cfg.ReserveFactorBps),
		LiquidationThreshold:  ratio.FromBps(cfg.LiquidationThresholdBps),
		LiquidationIncentive:  ratio.FromBps(cfg.LiquidationIncentiveBps),
		HealthFactorThreshold: ratio.FromBps(cfg.HealthFactorThresholdBps),
	})
	ctrl.SetEmitter(bus)
	if err := ctrl.Load(db); err != nil {
		return nil, fmt.Errorf("restore controller state: %w", err)
	}

	n := &node{
		controller: ctrl,
		markets:    make(map[string]*market.Market, len(manifest.Markets)),
		byAddress:  make(map[string]*market.Market, len(manifest.Markets)),
		ledgers:    make(map[string]*token.Ledger),
		margin:     margin.NewEngine(admin),
		bus:        bus,
		height:     ctrl.Height(),
	}

	lending := metrics.Lending()
	ctrl.SetMetrics(lending)
	registered := make(map[string]struct{}, len(ctrl.Markets()))
	for _, info := range ctrl.Markets() {
		registered[info.Ticker] = struct{}{}
	}

	for _, entry := range manifest.Markets {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("market %s: decode address: %w", entry.Ticker, err)
		}
		ledger, ok := n.ledgers[entry.Asset]
		if !ok {
			ledger = token.NewLedger(entry.Asset)
			restored, err := ledger.Load(db)
			if err != nil {
				return nil, fmt.Errorf("restore token ledger %s: %w", entry.Asset, err)
			}
			if !restored {
				if err := fundGenesis(ledger, manifest); err != nil {
					return nil, err
				}
			}
			n.ledgers[entry.Asset] = ledger
		}
		mkt := market.New(addr, entry.MarketConfig(cfg.LockTimeoutBlocks), ctrl, ledger)
		mkt.SetEmitter(bus)
		mkt.SetLogger(logger)
		mkt.SetMetrics(lending)
		mkt.SetMarketResolver(n.resolveSeizer)
		if err := mkt.Load(db); err != nil {
			return nil, fmt.Errorf("restore market %s: %w", entry.Ticker, err)
		}
		ledger.RegisterReceiver(addr, mkt)

		if _, ok := registered[entry.Ticker]; !ok {
			ref := controller.MarketRef{
				Ticker:         entry.Ticker,
				Asset:          entry.Asset,
				Address:        addr,
				FractionDigits: entry.FractionDigits,
			}
			if err := ctrl.AddMarket(self, ref); err != nil {
				return nil, fmt.Errorf("register market %s: %w", entry.Ticker, err)
			}
		}

		n.markets[entry.Ticker] = mkt
		n.byAddress[addr.String()] = mkt
	}

	return n, nil
}

// fundGenesis mints the manifest's genesis balances for the ledger's asset.
// Only runs on first boot; restarts restore balances from the snapshot.
func fundGenesis(ledger *token.Ledger, manifest *config.Manifest) error {
	for _, grant := range manifest.Genesis {
		if grant.Asset != ledger.Asset() {
			continue
		}
		account, err := crypto.DecodeAddress(grant.Account)
		if err != nil {
			return fmt.Errorf("genesis account %s: %w", grant.Account, err)
		}
		ledger.Mint(account, grant.Value())
	}
	return nil
}

func (n *node) resolveSeizer(addr crypto.Address) market.Seizer {
	if mkt, ok := n.byAddress[addr.String()]; ok {
		return mkt
	}
	return nil
}

// runClock advances the block height on a wall-clock cadence and takes
// periodic snapshots so a restart loses at most a few blocks of bookkeeping.
func (n *node) runClock(ctx context.Context, db storage.Database, intervalSeconds int, logger *slog.Logger) {
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	ticker := time.NewTicker(time.Duration(intervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.height++
			n.controller.SetBlockHeight(n.height)
			for _, mkt := range n.markets {
				mkt.SetBlockHeight(n.height)
			}
			if n.height%snapshotEveryBlocks == 0 {
				if err := n.persist(db); err != nil {
					logger.Warn("Periodic snapshot failed", slog.Any("error", err))
				}
			}
		}
	}
}

func (n *node) persist(db storage.Database) error {
	if err := n.controller.Save(db); err != nil {
		return err
	}
	for _, mkt := range n.markets {
		if err := mkt.Save(db); err != nil {
			return err
		}
	}
	for _, ledger := range n.ledgers {
		if err := ledger.Save(db); err != nil {
			return err
		}
	}
	return nil
}
