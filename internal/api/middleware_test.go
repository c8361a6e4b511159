package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/ratelimit"
)

func withLimiter(t *testing.T, ts *testServer, cfg *ratelimit.Config) {
	t.Helper()
	cfg.FlushInterval = time.Hour
	limiter, err := ratelimit.NewLimiter(ts.db.Bolt(), cfg)
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	// Runs before the db cleanup registered earlier
	t.Cleanup(func() { limiter.Stop() })
	ts.server.SetRateLimiter(limiter)
}

func mustCampaignID(t *testing.T, s string) crowdfunding.CampaignID {
	t.Helper()
	id, err := crowdfunding.ParseCampaignID(s)
	if err != nil {
		t.Fatalf("ParseCampaignID() error = %v", err)
	}
	return id
}

func TestRateLimitPerInvestor(t *testing.T) {
	ts := newTestServer(t, "")
	withLimiter(t, ts, &ratelimit.Config{PerInvestor: &ratelimit.LimitConfig{RequestsPerHour: 1}})

	ts.createCampaign()
	ts.clock.now = ts.clock.now.Add(2 * time.Minute)
	if rec := ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/activate", nil); rec.Code != http.StatusOK {
		t.Fatalf("activate status = %d: %s", rec.Code, rec.Body.String())
	}

	invest := InvestRequest{Investor: testInvestor.String(), Asset: asset.New("USDT", 10)}
	if rec := ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/invest", invest); rec.Code != http.StatusOK {
		t.Fatalf("first invest status = %d: %s", rec.Code, rec.Body.String())
	}

	rec := ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/invest", invest)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second invest status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	retry, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	if err != nil || retry <= 0 || retry > 3600 {
		t.Errorf("Retry-After = %q, want seconds within the hour", rec.Header().Get("Retry-After"))
	}

	// The rejected investment never reached the ledger
	c, err := ts.server.engine.Campaign(context.Background(), mustCampaignID(t, testCampaign))
	if err != nil {
		t.Fatalf("Campaign() error = %v", err)
	}
	if c.Raised != 10 {
		t.Errorf("raised = %d, want 10", c.Raised)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	ts := newTestServer(t, "")
	withLimiter(t, ts, &ratelimit.Config{PerClient: &ratelimit.LimitConfig{RequestsPerDay: 1}})

	ts.createCampaign()

	rec := ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/expire", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second write status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}

	// Reads are never limited
	if rec := ts.do("GET", "/api/v1/campaigns/"+testCampaign, nil); rec.Code != http.StatusOK {
		t.Errorf("read status = %d, want %d", rec.Code, http.StatusOK)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, ratelimit.Request) (*ratelimit.Result, error) {
	return nil, errors.New("counter store unavailable")
}

func TestRateLimitFailure(t *testing.T) {
	ts := newTestServer(t, "")
	ts.server.SetRateLimiter(failingLimiter{})

	rec := ts.do("POST", "/api/v1/campaigns/"+testCampaign+"/activate", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"10.0.0.1:5555", "10.0.0.1"},
		{"[::1]:80", "::1"},
		{"10.0.0.1", "10.0.0.1"},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}
