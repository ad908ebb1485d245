// internal/app/runner.go
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/api"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/bot"
	"github.com/rovshanmuradov/solana-sniper/internal/capital"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/dex/dexscreener"
	"github.com/rovshanmuradov/solana-sniper/internal/dex/jupiter"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/execution"
	"github.com/rovshanmuradov/solana-sniper/internal/export"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/monitor"
	"github.com/rovshanmuradov/solana-sniper/internal/notify"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/report"
	"github.com/rovshanmuradov/solana-sniper/internal/storage"
	"github.com/rovshanmuradov/solana-sniper/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-sniper/internal/storage/redis"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

// Runner owns every long-lived component and their shutdown order.
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	logs     *logger.Buffer
	shutdown *bot.ShutdownHandler

	bus      *events.Bus
	pools    []*rpc.Pool
	store    storage.PositionStore
	ledger   *position.Ledger
	engine   *bot.Engine
	commands *bot.CommandBus
	telegram *notify.Telegram
	server   *api.Server
	exporter *api.ClosedExporter
}

// NewRunner prepares a runner; nothing connects until Initialize.
func NewRunner(cfg *config.Config, log *zap.Logger, logs *logger.Buffer) *Runner {
	return &Runner{
		cfg:      cfg,
		logger:   log,
		logs:     logs,
		shutdown: bot.NewShutdownHandler(log, cfg.ShutdownTimeout()),
	}
}

// Initialize builds the component graph. Services are registered with the
// shutdown handler as they come up, so a failure part way leaves only the
// started ones to close.
func (r *Runner) Initialize(ctx context.Context) error {
	cfg := r.cfg

	r.bus = events.NewBus(r.logger, 0)
	r.bus.SubscribeAll(events.LogSink(r.logger))
	r.shutdown.AddFunc("event_bus", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.bus.Shutdown(ctx)
	})

	w, err := loadWallet(cfg.Wallet)
	if err != nil {
		return fmt.Errorf("load wallet: %w", err)
	}
	r.logger.Info("🔑 Wallet loaded", zap.String("address", logger.ShortenAddress(w.Address().String())))

	quotes, err := r.client("quote", cfg.Endpoints.Quote)
	if err != nil {
		return err
	}
	swaps, err := r.client("swap", cfg.Endpoints.Swap)
	if err != nil {
		return err
	}
	chainRPC, err := r.client("rpc", cfg.Endpoints.RPC)
	if err != nil {
		return err
	}
	scanRPC, err := r.client("scan", cfg.Endpoints.Scan)
	if err != nil {
		return err
	}

	chain := solbc.NewClient(chainRPC, r.logger)
	market := jupiter.NewClient(quotes, swaps, r.logger, jupiter.WithPriorityFee(cfg.PriorityFee()))

	if err := r.openStore(ctx); err != nil {
		return err
	}
	var store position.Store
	if r.store != nil {
		store = r.store
	}
	r.ledger = position.NewLedger(store, r.logger)
	restored, err := r.ledger.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}

	allocator, err := capital.NewAllocator(cfg.Capital)
	if err != nil {
		return fmt.Errorf("capital allocator: %w", err)
	}

	router := execution.NewRouter(market, chain, w, r.ledger, r.bus, cfg.ExecutionConfig(), r.logger)
	mon := monitor.NewPositionMonitor(r.ledger, router, router, cfg.MonitorConfig(), r.logger)
	scorer := dexscreener.NewScorer(scanRPC, cfg.ScanFilter(), r.logger, dexscreener.WithQuery(cfg.Scanner.Query))

	r.engine, err = bot.NewEngine(bot.Config{ScanInterval: cfg.ScanInterval()}, bot.Deps{
		Ledger:    r.ledger,
		Router:    router,
		Allocator: allocator,
		Scorer:    scorer,
		Monitor:   mon,
		Publisher: r.bus,
	}, r.logger)
	if err != nil {
		return err
	}
	r.commands = bot.NewCommandBus(r.logger)
	r.engine.RegisterCommands(r.commands)

	if cfg.Telegram.Enabled {
		r.telegram, err = notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, r.logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		r.bus.SubscribeAll(r.telegram.Handler())
	}

	r.exporter = &api.ClosedExporter{
		Exporter: export.NewPositionExporter(r.logger),
		Dir:      cfg.Export.Dir,
		Format:   export.ExportFormat(cfg.Export.Format),
	}

	if cfg.API.Enabled {
		pools := make([]api.EndpointPool, 0, len(r.pools))
		for _, p := range r.pools {
			pools = append(pools, p)
		}
		deps := api.Deps{
			Engine:   r.engine,
			Commands: r.commands,
			Pools:    pools,
			Exporter: r.exporter,
		}
		if r.logs != nil {
			deps.Logs = r.logs
		}
		r.server = api.NewServer(api.Config{Listen: cfg.API.Listen, Token: cfg.API.Token}, deps, r.logger)
	}

	r.logger.Info("✅ Components initialized",
		zap.Int("restored_open", restored),
		zap.String("storage", cfg.Storage.Driver))
	return nil
}

// Run starts the engine and control surfaces, then blocks until a signal
// or ctx ends and everything is shut down.
func (r *Runner) Run(ctx context.Context) error {
	if r.engine == nil {
		return errors.New("runner not initialized")
	}

	surfaceCtx, stopSurfaces := context.WithCancel(context.WithoutCancel(ctx))
	r.shutdown.AddFunc("surfaces", func() error {
		stopSurfaces()
		return nil
	})

	if r.telegram != nil {
		if err := r.telegram.Start(surfaceCtx, r.engine, r.commands); err != nil {
			r.logger.Warn("Telegram commands unavailable", zap.Error(err))
		}
	}
	if r.server != nil {
		r.server.Start()
		r.shutdown.AddFunc("api", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return r.server.Shutdown(ctx)
		})
	}
	if every := r.cfg.StatusInterval(); every > 0 {
		go r.printStatus(surfaceCtx, every)
	}

	if r.cfg.Export.Dir != "" {
		// runs after the engine has stopped
		r.shutdown.AddFunc("export", r.exportClosed)
	}

	if err := r.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	r.shutdown.Add("engine", r.engine)
	r.logger.Info("🚀 Engine running")

	err := r.shutdown.Wait(ctx)
	r.logger.Info("👋 Bot shut down")
	return err
}

// Abort closes whatever Initialize managed to start.
func (r *Runner) Abort() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ShutdownTimeout())
	defer cancel()
	return r.shutdown.Shutdown(ctx)
}

func (r *Runner) exportClosed() error {
	path, err := r.exporter.Export(r.engine.ListPositions(position.FilterClosed), "")
	if errors.Is(err, export.ErrNothingToExport) {
		return nil
	}
	if err != nil {
		return err
	}
	r.logger.Info("📄 Closed positions exported", zap.String("path", path))
	return nil
}

func (r *Runner) client(name string, endpoints []config.EndpointConfig) (*rpc.ResilientClient, error) {
	pool, err := rpc.NewPool(name, config.RPCEndpoints(endpoints), r.cfg.PoolConfig(), r.bus, r.logger)
	if err != nil {
		return nil, fmt.Errorf("%s pool: %w", name, err)
	}
	r.pools = append(r.pools, pool)
	return rpc.NewResilientClient(pool, r.cfg.RetryConfig(), r.logger), nil
}

func (r *Runner) openStore(ctx context.Context) error {
	switch r.cfg.Storage.Driver {
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, r.cfg.Storage.PostgresURL)
		if err != nil {
			return err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return err
		}
		r.store = postgres.NewPositionStore(pool)
	case config.StorageRedis:
		s, err := redis.Open(ctx, r.cfg.Storage.RedisURL, r.cfg.Storage.RedisPrefix)
		if err != nil {
			return err
		}
		r.store = s
	default:
		r.logger.Warn("⚠️ No position storage configured, positions live in memory only")
		return nil
	}
	r.shutdown.Add("storage", r.store)
	return nil
}

func (r *Runner) printStatus(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Println(report.Render(r.snapshot(time.Now())))
		}
	}
}

func (r *Runner) snapshot(now time.Time) report.Snapshot {
	var eps []rpc.EndpointStatus
	for _, p := range r.pools {
		eps = append(eps, p.Status()...)
	}
	return report.Snapshot{
		Status:    r.engine.Status(),
		Open:      r.engine.ListPositions(position.FilterOpen),
		Endpoints: eps,
		Now:       now,
	}
}

func loadWallet(cfg config.WalletConfig) (*wallet.Wallet, error) {
	if cfg.PrivateKey != "" {
		return wallet.NewWallet(cfg.PrivateKey)
	}
	return wallet.LoadFromFile(cfg.KeyFile)
}
