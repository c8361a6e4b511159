package api

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/ipfilter"
	"github.com/foxzi/crowdsale/internal/metrics"
	"github.com/foxzi/crowdsale/internal/ratelimit"
	"github.com/foxzi/crowdsale/internal/storage"
)

// Version is reported by the health endpoint
var Version = "dev"

// Engine is the campaign lifecycle the API drives
type Engine interface {
	Create(ctx context.Context, p crowdfunding.CreateParams) error
	Activate(ctx context.Context, id crowdfunding.CampaignID) error
	Invest(ctx context.Context, investor account.ID, id crowdfunding.CampaignID, value asset.Asset) error
	Expire(ctx context.Context, id crowdfunding.CampaignID) error
	Finish(ctx context.Context, id crowdfunding.CampaignID) error
	Campaign(ctx context.Context, id crowdfunding.CampaignID) (*crowdfunding.Campaign, error)
	Campaigns(ctx context.Context) ([]*crowdfunding.Campaign, error)
	Contribution(ctx context.Context, id crowdfunding.CampaignID, investor account.ID) (*crowdfunding.Contribution, error)
	Contributions(ctx context.Context, id crowdfunding.CampaignID) ([]*crowdfunding.Contribution, error)
	Settlement(ctx context.Context, id crowdfunding.CampaignID) (*crowdfunding.Settlement, error)
}

// Ledger exposes balances and the event log
type Ledger interface {
	Balances(ctx context.Context, who account.ID) ([]asset.Asset, error)
	Events(ctx context.Context, after uint64, limit int) ([]*crowdfunding.Event, error)
	Stats(ctx context.Context) (*storage.Stats, error)
}

// RateLimiter decides whether a write may proceed
type RateLimiter interface {
	Allow(ctx context.Context, req ratelimit.Request) (*ratelimit.Result, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     Engine
	ledger     Ledger
	config     *config.APIConfig
	filter     *ipfilter.Filter
	limiter    RateLimiter
	tlsConfig  *tls.Config
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(engine Engine, ledger Ledger, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		ledger:    ledger,
		config:    cfg,
		filter:    ipfilter.New(cfg.AllowedIPs, logger),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// SetRateLimiter limits writes per client and per investor
func (s *Server) SetRateLimiter(l RateLimiter) {
	s.limiter = l
}

// SetTLSConfig makes ListenAndServe serve HTTPS
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	s.tlsConfig = cfg
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// The allow-list sees the socket address, before RealIP rewrites it
	s.router.Use(s.filter.HTTPMiddleware)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.With(s.rateLimitMiddleware).Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.With(s.rateLimitMiddleware).Post("/activate", s.handleTransition("activate", s.engine.Activate))
				r.With(s.rateLimitMiddleware).Post("/expire", s.handleTransition("expire", s.engine.Expire))
				r.With(s.rateLimitMiddleware).Post("/finish", s.handleTransition("finish", s.engine.Finish))
				r.Post("/invest", s.handleInvest)
				r.Get("/contributions", s.handleListContributions)
				r.Get("/contributions/{account}", s.handleGetContribution)
				r.Get("/settlement", s.handleGetSettlement)
			})
		})

		r.Get("/accounts/{account}/balances", s.handleBalances)
		r.Get("/events", s.handleEvents)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		TLSConfig:      s.tlsConfig,
	}

	if s.tlsConfig != nil {
		s.logger.Info("starting HTTPS API server", "addr", s.config.ListenAddr)
		return s.httpServer.ListenAndServeTLS("", "")
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
