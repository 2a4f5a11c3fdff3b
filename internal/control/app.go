package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/questwatch/internal/core/config"
	"github.com/vietddude/questwatch/internal/core/domain"
	"github.com/vietddude/questwatch/internal/core/worker"
	"github.com/vietddude/questwatch/internal/indexing/health"
	"github.com/vietddude/questwatch/internal/indexing/metrics"
	"github.com/vietddude/questwatch/internal/indexing/scanner"
	"github.com/vietddude/questwatch/internal/infra/chain"
	"github.com/vietddude/questwatch/internal/infra/chain/evm"
	redisclient "github.com/vietddude/questwatch/internal/infra/redis"
	"github.com/vietddude/questwatch/internal/infra/storage"
	"github.com/vietddude/questwatch/internal/infra/storage/memory"
	"github.com/vietddude/questwatch/internal/infra/storage/postgres"
	"github.com/vietddude/questwatch/internal/payout"
)

const (
	// statsInterval is how often queue and pool gauges are refreshed.
	statsInterval = 15 * time.Second
	headCacheTTL  = 2 * time.Second
)

// Deps are the external collaborators the app runs against.
type Deps struct {
	Tasks   storage.TaskRepository
	Wallets storage.WalletRepository
	Events  storage.TaskEventRepository
	Claims  storage.ClaimRepository
	Cursors storage.CursorRepository
	Oracle  storage.CompletionOracle

	Chain chain.Reader
	Token chain.TokenTransferer
	Lease payout.ClaimLease

	// Store is pinged by the health monitor; nil skips the check.
	Store health.Pinger
	// PoolUsage reports database pool usage; nil skips the gauge.
	PoolUsage func() float64

	closers []func() error
}

// App wires the scanner, payout worker and health server together.
type App struct {
	cfg     *config.AppConfig
	deps    Deps
	scanner *scanner.Scanner
	payout  *payout.Worker
	loops   []*worker.Loop

	healthMon    *health.Monitor
	healthServer *health.Server
	scheduler    gocron.Scheduler

	cancel context.CancelFunc
	group  *errgroup.Group
	log    *slog.Logger
}

// New connects to every configured backend and builds the app.
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	deps, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app, err := NewWithDeps(cfg, deps)
	if err != nil {
		deps.close()
		return nil, err
	}
	return app, nil
}

func connect(ctx context.Context, cfg *config.AppConfig) (Deps, error) {
	var deps Deps

	// 1. Initialize Storage
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return deps, fmt.Errorf("failed to init db: %w", err)
		}
		deps.closers = append(deps.closers, db.Close)

		if err := postgres.Migrate(ctx, db); err != nil {
			deps.close()
			return deps, fmt.Errorf("failed to migrate db: %w", err)
		}

		deps.Tasks = postgres.NewTaskRepo(db)
		deps.Wallets = postgres.NewWalletRepo(db)
		deps.Events = postgres.NewTaskEventRepo(db)
		deps.Claims = postgres.NewClaimRepo(db)
		deps.Cursors = postgres.NewCursorRepo(db)
		deps.Oracle = postgres.NewCompletionOracle(db)
		deps.Store = db
		deps.PoolUsage = db.PoolUsage
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		deps.Tasks = memory.NewTaskRepo(store)
		deps.Wallets = memory.NewWalletRepo(store)
		deps.Events = memory.NewTaskEventRepo(store)
		deps.Claims = memory.NewClaimRepo(store)
		deps.Cursors = memory.NewCursorRepo(store)
		deps.Oracle = memory.NewCompletionOracle(store)
		slog.Warn("No database configured, using memory storage")
	}

	// 2. Chain client
	client, err := evm.Dial(ctx, evm.Config{
		RPCURL:  cfg.Chain.RPCURL,
		Timeout: cfg.Chain.RPCTimeout,
	})
	if err != nil {
		deps.close()
		return deps, err
	}
	deps.closers = append(deps.closers, func() error {
		client.Close()
		return nil
	})
	deps.Chain = client

	chainID, ok := new(big.Int).SetString(string(cfg.Chain.ChainID), 10)
	if !ok {
		deps.close()
		return deps, fmt.Errorf("invalid chain id %q", cfg.Chain.ChainID)
	}
	remoteID, err := client.ChainID(ctx)
	if err != nil {
		deps.close()
		return deps, fmt.Errorf("failed to query chain id: %w", err)
	}
	if remoteID.Cmp(chainID) != 0 {
		deps.close()
		return deps, fmt.Errorf("rpc serves chain %s, configured %s", remoteID, chainID)
	}

	// 3. Payout token
	if cfg.Payout.Enabled {
		token, err := evm.NewToken(client.Eth(), evm.TokenConfig{
			Address:        cfg.Payout.TokenAddress,
			SignerKey:      cfg.Payout.SignerKey,
			ChainID:        chainID,
			ConfirmTimeout: cfg.Payout.ConfirmTimeout,
		})
		if err != nil {
			deps.close()
			return deps, err
		}
		deps.Token = token
	}

	// 4. Optional claim lease
	if cfg.Redis.Enabled() {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			deps.close()
			return deps, err
		}
		deps.closers = append(deps.closers, rc.Close)
		deps.Lease = redisclient.NewClaimLease(rc, cfg.Redis.LeaseTTL)
		slog.Info("Claim lease enabled", "ttl", cfg.Redis.LeaseTTL)
	}

	return deps, nil
}

func (d Deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			slog.Warn("Failed to close resource", "error", err)
		}
	}
}

// NewWithDeps builds the app around already connected collaborators.
func NewWithDeps(cfg *config.AppConfig, deps Deps) (*App, error) {
	app := &App{
		cfg:  cfg,
		deps: deps,
		log:  slog.Default().With("component", "app"),
	}
	if deps.Chain == nil {
		return nil, errors.New("chain reader is required")
	}
	head := chain.NewHeadCache(deps.Chain, headCacheTTL)

	app.scanner = scanner.New(
		scanner.Config{
			ChainID:           cfg.Chain.ChainID,
			DefaultStartBlock: cfg.Scanner.DefaultStartBlock,
			MaxBlockRange:     cfg.Chain.MaxBlockRange,
			Confirmations:     cfg.Chain.Confirmations,
		},
		head,
		deps.Tasks,
		deps.Wallets,
		deps.Events,
		deps.Cursors,
	)
	if cfg.Scanner.Enabled {
		app.loops = append(app.loops, worker.NewLoop(worker.LoopConfig{
			Name:         "scanner",
			Interval:     cfg.Scanner.Interval,
			Jitter:       cfg.Scanner.Interval / 10,
			ErrorBackoff: cfg.Scanner.Interval,
		}, app.scanner.Step))
	}

	if cfg.Payout.Enabled {
		if deps.Token == nil {
			return nil, errors.New("payout enabled without a token transferer")
		}
		var opts []payout.Option
		if deps.Lease != nil {
			opts = append(opts, payout.WithLease(deps.Lease))
		}
		app.payout = payout.NewWorker(deps.Claims, deps.Wallets, deps.Oracle, deps.Token, opts...)
		app.loops = append(app.loops, worker.NewLoop(worker.LoopConfig{
			Name:         "payout",
			Interval:     cfg.Payout.IdleInterval,
			ErrorBackoff: cfg.Payout.ErrorBackoff,
		}, app.payout.Step))
	}

	liveness := make([]health.Liveness, 0, len(app.loops))
	for _, l := range app.loops {
		liveness = append(liveness, l)
	}
	app.healthMon = health.NewMonitor(deps.Store, head, liveness...)
	app.healthServer = health.NewServer(app.healthMon, cfg.Server.Port)

	return app, nil
}

// Scanner returns the event scanner.
func (a *App) Scanner() *scanner.Scanner {
	return a.scanner
}

// Payout returns the payout worker, or nil when payout is disabled.
func (a *App) Payout() *payout.Worker {
	return a.payout
}

// Claims returns the claim repository.
func (a *App) Claims() storage.ClaimRepository {
	return a.deps.Claims
}

// Cursors returns the cursor repository.
func (a *App) Cursors() storage.CursorRepository {
	return a.deps.Cursors
}

// Start launches the health server, stats job and worker loops.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.healthServer.Start(); err != nil {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if _, err := scheduler.NewJob(
		gocron.DurationJob(statsInterval),
		gocron.NewTask(a.refreshStats, ctx),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	); err != nil {
		return fmt.Errorf("failed to schedule stats job: %w", err)
	}
	scheduler.Start()
	a.scheduler = scheduler

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	for _, l := range a.loops {
		g.Go(func() error {
			return l.Run(gctx)
		})
	}
	a.group = g

	a.log.Info("Started",
		"chain", a.cfg.Chain.ChainID.Name(),
		"scanner", a.cfg.Scanner.Enabled,
		"payout", a.cfg.Payout.Enabled,
		"port", a.cfg.Server.Port,
	)
	return nil
}

// Stop waits for in-flight iterations to finish and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping...")

	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.group != nil {
		done := make(chan error, 1)
		go func() { done <- a.group.Wait() }()
		select {
		case err := <-done:
			if err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
		}
	}

	if a.scheduler != nil {
		if err := a.scheduler.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.healthServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	a.deps.close()

	return errors.Join(errs...)
}

// Close releases resources of an app that was never started.
func (a *App) Close() {
	a.deps.close()
}

func (a *App) refreshStats(ctx context.Context) {
	if a.deps.PoolUsage != nil {
		metrics.DBPoolUsage.Set(a.deps.PoolUsage())
	}

	counts, err := a.deps.Claims.CountByStatus(ctx)
	if err != nil {
		a.log.Warn("Failed to count claims", "error", err)
		return
	}
	metrics.PendingClaims.Set(float64(counts[domain.ClaimStatusPending]))
}
