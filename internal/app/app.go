package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/alert"
	"github.com/foxzi/crowdsale/internal/api"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/metrics"
	"github.com/foxzi/crowdsale/internal/ratelimit"
	"github.com/foxzi/crowdsale/internal/scheduler"
	"github.com/foxzi/crowdsale/internal/storage"
	crowdsaleTLS "github.com/foxzi/crowdsale/internal/tls"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *storage.DB
	engine        *crowdfunding.Engine
	scheduler     *scheduler.Scheduler
	apiServer     *api.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	collector     *metrics.Collector
	rateLimiter   *ratelimit.Limiter
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	return NewWithLogger(cfg, SetupLogger(cfg.Logging, os.Stdout))
}

// NewWithLogger creates a new application logging to logger
func NewWithLogger(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := OpenStorage(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config: cfg,
		db:     db,
		logger: logger,
	}
	if err := a.init(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init() error {
	cfg := a.config
	ctx := context.Background()

	genesis, err := GenesisBalances(cfg)
	if err != nil {
		return err
	}
	applied, err := a.db.ApplyGenesis(ctx, genesis)
	if err != nil {
		return fmt.Errorf("failed to apply genesis balances: %w", err)
	}
	if applied {
		a.logger.Info("genesis balances applied", "accounts", len(genesis))
	}

	// Metrics come first so the engine counts from its first transition
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		metrics.SetGlobal(a.metrics)

		a.collector, err = metrics.NewCollector(a.db.Bolt(), a.metrics, ledgerStats{a.db}, a.db.Path(), cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		a.metricsServer = metrics.NewServer(a.metrics, cfg.Metrics, a.logger.With("component", "metrics"))
		a.logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	}

	a.engine = crowdfunding.NewEngine(a.db, crowdfunding.SystemClock,
		crowdfunding.Config{MaxShares: cfg.Ledger.MaxShares}, a.logger)

	mailer, err := alert.New(cfg.Alerts.SMTP, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create alert mailer: %w", err)
	}
	if mailer != nil {
		a.engine.SetAlerter(mailer)
		a.logger.Info("operator alerts enabled", "relay", cfg.Alerts.SMTP.Addr, "to", cfg.Alerts.SMTP.To)
	}

	if cfg.Scheduler.IsEnabled() {
		a.scheduler = scheduler.New(a.engine, crowdfunding.SystemClock,
			scheduler.Config{Interval: cfg.Scheduler.Interval}, a.logger)
	}

	a.apiServer = api.NewServer(a.engine, a.db, &cfg.API, a.logger.With("component", "api"))

	tlsConfig, err := crowdsaleTLS.ServerConfig(cfg.API.TLS)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		a.apiServer.SetTLSConfig(tlsConfig)
	}

	// Last: the limiter starts flushing as soon as it exists
	if cfg.API.RateLimit.Enabled {
		a.rateLimiter, err = ratelimit.NewLimiter(a.db.Bolt(), rateLimitConfig(cfg.API.RateLimit))
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		a.apiServer.SetRateLimiter(a.rateLimiter)
		a.logger.Info("api rate limiting enabled")
	}

	return nil
}

func rateLimitConfig(cfg config.RateLimitConfig) *ratelimit.Config {
	convert := func(l *config.LimitConfig) *ratelimit.LimitConfig {
		if l == nil {
			return nil
		}
		return &ratelimit.LimitConfig{
			RequestsPerHour: l.RequestsPerHour,
			RequestsPerDay:  l.RequestsPerDay,
		}
	}
	return &ratelimit.Config{
		Global:      convert(cfg.Global),
		PerClient:   convert(cfg.PerClient),
		PerInvestor: convert(cfg.PerInvestor),
	}
}

// Engine returns the lifecycle engine
func (a *App) Engine() *crowdfunding.Engine {
	return a.engine
}

// DB returns the ledger database
func (a *App) DB() *storage.DB {
	return a.db
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting crowdsale",
		"api_addr", a.config.API.ListenAddr,
		"storage", a.config.Storage.Path,
		"native_asset", a.config.Ledger.NativeAsset,
		"scheduler", a.scheduler != nil,
		"tls", a.config.API.TLS.Enabled(),
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}
	if a.collector != nil {
		a.collector.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the scheduler first so no transition starts during shutdown
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	// Stop collector (persists counters) before the file closes
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
		metrics.SetGlobal(nil)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// OpenStorage opens the ledger file described by cfg
func OpenStorage(cfg *config.Config) (*storage.DB, error) {
	db, err := storage.Open(cfg.Storage.Path, storage.Options{
		NativeAsset:        asset.ID(cfg.Ledger.NativeAsset),
		ExistentialDeposit: asset.Balance(cfg.Ledger.ExistentialDeposit),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	return db, nil
}

// GenesisBalances converts the configured genesis entries
func GenesisBalances(cfg *config.Config) ([]storage.GenesisBalance, error) {
	out := make([]storage.GenesisBalance, 0, len(cfg.Genesis.Balances))
	for i, g := range cfg.Genesis.Balances {
		who, err := account.Parse(g.Account)
		if err != nil {
			return nil, fmt.Errorf("genesis.balances[%d]: %w", i, err)
		}
		id, err := asset.ParseID(g.Asset)
		if err != nil {
			return nil, fmt.Errorf("genesis.balances[%d]: %w", i, err)
		}
		out = append(out, storage.GenesisBalance{Account: who, Asset: asset.New(id, asset.Balance(g.Amount))})
	}
	return out, nil
}

// ledgerStats feeds storage statistics to the metrics collector
type ledgerStats struct {
	db *storage.DB
}

func (l ledgerStats) LedgerStats(ctx context.Context) (*metrics.LedgerStats, error) {
	stats, err := l.db.Stats(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]int, len(stats.Live))
	for _, status := range []crowdfunding.Status{crowdfunding.StatusInactive, crowdfunding.StatusActive} {
		live[string(status)] = stats.Live[status]
	}
	return &metrics.LedgerStats{Live: live}, nil
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
