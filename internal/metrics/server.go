package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/foxzi/crowdsale/internal/config"
	"github.com/foxzi/crowdsale/internal/ipfilter"
)

// Server exposes the ledger metrics to a Prometheus scraper
type Server struct {
	cfg        config.MetricsConfig
	metrics    *Metrics
	filter     *ipfilter.Filter
	logger     *slog.Logger
	started    time.Time
	httpServer *http.Server
}

// NewServer creates the scrape server. Only the scrape path is subject to
// allowed_ips.
func NewServer(m *Metrics, cfg config.MetricsConfig, logger *slog.Logger) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":9090"
	}
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	s := &Server{
		cfg:     cfg,
		metrics: m,
		filter:  ipfilter.New(cfg.AllowedIPs, logger),
		logger:  logger,
		started: time.Now(),
	}
	if s.filter.Enabled() {
		logger.Info("scrape endpoint restricted", "allowed_networks", s.filter.Count())
	}
	return s
}

// Handler routes the scrape path and a liveness probe
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	scrape := promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelError),
	})
	r.With(s.filter.HTTPMiddleware).Handle(s.cfg.Path, scrape)
	r.Get("/health", s.handleHealth)

	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Round(time.Second).String(),
	})
}

// ListenAndServe blocks until Shutdown
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("serving metrics", "addr", s.cfg.ListenAddr, "path", s.cfg.Path)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down metrics server")
	return s.httpServer.Shutdown(ctx)
}
