package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/crowdsale/internal/metrics"
	"github.com/foxzi/crowdsale/internal/ratelimit"
)

// loggingMiddleware logs each request at a level chosen by its status, so
// failed writes stand out from routine reads
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := slog.LevelInfo
		switch status := ww.Status(); {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"client", clientIP(r),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware checks API key authentication
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			// No API key configured, allow all
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			auth = r.Header.Get("X-API-Key")
		}
		auth = strings.TrimPrefix(auth, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(auth), []byte(s.config.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			s.sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware counts a write against the client limits
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowWrite(w, r, "") {
			next.ServeHTTP(w, r)
		}
	})
}

// allowWrite checks the configured limits for one write and answers 429 when
// a limit is exhausted. investor is empty for writes not made by an investor.
func (s *Server) allowWrite(w http.ResponseWriter, r *http.Request, investor string) bool {
	if s.limiter == nil {
		return true
	}

	res, err := s.limiter.Allow(r.Context(), ratelimit.Request{
		Client:   clientIP(r),
		Investor: investor,
	})
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Internal error")
		return false
	}
	if res.Allowed {
		return true
	}

	metrics.IncRateLimited(string(res.DeniedBy))
	s.logger.Warn("rate limit exceeded",
		"level", res.DeniedBy,
		"key", res.DeniedKey,
		"retry_after", res.RetryAfter,
		"request_id", middleware.GetReqID(r.Context()),
	)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(res.RetryAfter.Seconds()))))
	s.sendError(w, http.StatusTooManyRequests, "Rate limit exceeded")
	return false
}

// clientIP strips the port from the remote address set by RealIP
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
