package ratelimit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func setupTestDB(t *testing.T) *bolt.DB {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestLimiter(t *testing.T, db *bolt.DB, cfg *Config) *Limiter {
	t.Helper()

	limiter, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}
	return limiter
}

func TestNewLimiterDefaultConfig(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)
	defer limiter.Stop()

	if limiter.config.FlushInterval != 10*time.Second {
		t.Errorf("expected default FlushInterval=10s, got %v", limiter.config.FlushInterval)
	}

	// No configured level means every request passes
	result, err := limiter.Allow(context.Background(), Request{Client: "10.0.0.1", Investor: "0xaa"})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !result.Allowed {
		t.Error("request should be allowed without limits")
	}
}

func TestAllowGlobalLimit(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RequestsPerHour: 3, RequestsPerDay: 10},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, Request{Client: "10.0.0.1"})
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
	}

	result, err := limiter.Allow(ctx, Request{Client: "10.0.0.2"})
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if result.Allowed {
		t.Error("request 4 should be denied")
	}
	if result.DeniedBy != LevelGlobal {
		t.Errorf("expected DeniedBy=global, got %s", result.DeniedBy)
	}
	if result.RetryAfter <= 0 || result.RetryAfter > time.Hour {
		t.Errorf("RetryAfter = %v, want within the hour", result.RetryAfter)
	}
}

func TestAllowPerKeyLimits(t *testing.T) {
	tests := []struct {
		name  string
		cfg   *Config
		level Level
		a, b  Request
	}{
		{
			name:  "client",
			cfg:   &Config{PerClient: &LimitConfig{RequestsPerHour: 2}},
			level: LevelClient,
			a:     Request{Client: "10.0.0.1"},
			b:     Request{Client: "10.0.0.2"},
		},
		{
			name:  "investor",
			cfg:   &Config{PerInvestor: &LimitConfig{RequestsPerHour: 2}},
			level: LevelInvestor,
			a:     Request{Client: "10.0.0.1", Investor: "0xaa"},
			b:     Request{Client: "10.0.0.1", Investor: "0xbb"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.FlushInterval = time.Hour
			limiter := newTestLimiter(t, setupTestDB(t), tt.cfg)
			defer limiter.Stop()

			ctx := context.Background()
			for i := 0; i < 2; i++ {
				if result, _ := limiter.Allow(ctx, tt.a); !result.Allowed {
					t.Errorf("request %d should be allowed", i+1)
				}
			}

			result, _ := limiter.Allow(ctx, tt.a)
			if result.Allowed {
				t.Error("request 3 should be denied")
			}
			if result.DeniedBy != tt.level {
				t.Errorf("DeniedBy = %s, want %s", result.DeniedBy, tt.level)
			}

			if result, _ := limiter.Allow(ctx, tt.b); !result.Allowed {
				t.Error("other key should have its own limit")
			}
		})
	}
}

func TestAllowDailyLimitAndReset(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		PerClient:     &LimitConfig{RequestsPerHour: 100, RequestsPerDay: 2},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	req := Request{Client: "10.0.0.1"}
	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)

	result, _ := limiter.Allow(ctx, req)
	if result.Allowed {
		t.Fatal("request 3 should be denied by the daily window")
	}
	if result.RetryAfter != 24*time.Hour {
		t.Errorf("RetryAfter = %v, want 24h", result.RetryAfter)
	}

	now = now.Add(24 * time.Hour)
	if result, _ := limiter.Allow(ctx, req); !result.Allowed {
		t.Error("request should be allowed after the day rolled over")
	}
}

func TestDeniedRequestNotCounted(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		PerClient:     &LimitConfig{RequestsPerHour: 10},
		PerInvestor:   &LimitConfig{RequestsPerHour: 1},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	ctx := context.Background()
	req := Request{Client: "10.0.0.1", Investor: "0xaa"}
	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)
	limiter.Allow(ctx, req)

	stats := limiter.GetStats(LevelClient, "10.0.0.1")
	if stats.HourlyCount != 1 {
		t.Errorf("client HourlyCount = %d, want 1", stats.HourlyCount)
	}
}

func TestAllowCancelledContext(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), nil)
	defer limiter.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := limiter.Allow(ctx, Request{}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestGetStats(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		PerInvestor:   &LimitConfig{RequestsPerHour: 10},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		limiter.Allow(ctx, Request{Investor: "0xaa"})
	}

	stats := limiter.GetStats(LevelInvestor, "0xaa")
	if stats.HourlyCount != 3 || stats.DailyCount != 3 {
		t.Errorf("stats = %+v, want 3/3", stats)
	}

	empty := limiter.GetStats(LevelInvestor, "0xbb")
	if empty.HourlyCount != 0 || empty.Key != "0xbb" {
		t.Errorf("stats for unknown key = %+v", empty)
	}
}

func TestPersistence(t *testing.T) {
	db := setupTestDB(t)
	cfg := &Config{
		PerClient:     &LimitConfig{RequestsPerHour: 5},
		FlushInterval: time.Hour,
	}

	limiter := newTestLimiter(t, db, cfg)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		limiter.Allow(ctx, Request{Client: "10.0.0.1"})
	}
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	restored := newTestLimiter(t, db, cfg)
	defer restored.Stop()

	if stats := restored.GetStats(LevelClient, "10.0.0.1"); stats.HourlyCount != 4 {
		t.Errorf("restored HourlyCount = %d, want 4", stats.HourlyCount)
	}
	if result, _ := restored.Allow(ctx, Request{Client: "10.0.0.1"}); !result.Allowed {
		t.Error("fifth request should be allowed")
	}
	if result, _ := restored.Allow(ctx, Request{Client: "10.0.0.1"}); result.Allowed {
		t.Error("sixth request should be denied after restore")
	}
}

func TestIdleWindowsPruned(t *testing.T) {
	db := setupTestDB(t)
	cfg := &Config{
		PerInvestor:   &LimitConfig{RequestsPerHour: 5},
		FlushInterval: time.Hour,
	}

	limiter := newTestLimiter(t, db, cfg)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	limiter.Allow(ctx, Request{Investor: "0xaa"})
	if err := limiter.flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	now = now.Add(25 * time.Hour)
	limiter.Allow(ctx, Request{Investor: "0xbb"})
	if err := limiter.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	var keys []string
	err := db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRateLimits).Bucket([]byte(LevelInvestor)).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "0xbb" {
		t.Errorf("persisted investor keys = %v, want [0xbb]", keys)
	}
}

func TestGlobalStatsKey(t *testing.T) {
	limiter := newTestLimiter(t, setupTestDB(t), &Config{
		Global:        &LimitConfig{RequestsPerDay: 10},
		FlushInterval: time.Hour,
	})
	defer limiter.Stop()

	limiter.Allow(context.Background(), Request{Client: "10.0.0.1"})
	limiter.Allow(context.Background(), Request{Client: "10.0.0.2"})

	if stats := limiter.GetStats(LevelGlobal, ""); stats.DailyCount != 2 {
		t.Errorf("global DailyCount = %d, want 2", stats.DailyCount)
	}
}
