// Package ratelimit bounds how many ledger writes an API client or an
// investor may submit per hour and per day. Counters live in memory and are
// flushed to the ledger's bolt file so limits survive restarts.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// bucketRateLimits holds one nested bucket per level, keyed by client IP or
// investor account
var bucketRateLimits = []byte("rate_limits")

// globalKey is the single key of LevelGlobal
const globalKey = "*"

// Level is the party a limit applies to
type Level string

const (
	LevelGlobal   Level = "global"
	LevelClient   Level = "client"
	LevelInvestor Level = "investor"
)

var levels = []Level{LevelGlobal, LevelClient, LevelInvestor}

// Config selects which levels are limited. A nil level is unlimited.
type Config struct {
	Global      *LimitConfig
	PerClient   *LimitConfig
	PerInvestor *LimitConfig

	FlushInterval time.Duration
}

// LimitConfig contains rate limit values. Zero disables a window.
type LimitConfig struct {
	RequestsPerHour int
	RequestsPerDay  int
}

// retryAfter reports how long w stays over this limit, or zero when the
// next request fits
func (lc *LimitConfig) retryAfter(w *window, now time.Time) time.Duration {
	if lc.RequestsPerHour > 0 && w.Hour >= lc.RequestsPerHour {
		return w.HourStart.Add(time.Hour).Sub(now)
	}
	if lc.RequestsPerDay > 0 && w.Day >= lc.RequestsPerDay {
		return w.DayStart.Add(24 * time.Hour).Sub(now)
	}
	return 0
}

// window counts requests of one key in the current hour and day
type window struct {
	Hour      int       `json:"hour"`
	Day       int       `json:"day"`
	HourStart time.Time `json:"hour_start"`
	DayStart  time.Time `json:"day_start"`
}

// roll starts a fresh hour or day once the current one has passed
func (w *window) roll(now time.Time) {
	if now.Sub(w.HourStart) >= time.Hour {
		w.Hour = 0
		w.HourStart = now
	}
	if now.Sub(w.DayStart) >= 24*time.Hour {
		w.Day = 0
		w.DayStart = now
	}
}

// idle reports whether the window carries no count that still matters
func (w *window) idle(now time.Time) bool {
	return now.Sub(w.DayStart) >= 24*time.Hour
}

// Request names the parties of one write. Empty fields skip their level.
type Request struct {
	Client   string // Client IP
	Investor string // Investing account, only for investments
}

// Result of one Allow call. DeniedBy and RetryAfter are set on denial.
type Result struct {
	Allowed    bool
	DeniedBy   Level
	DeniedKey  string
	RetryAfter time.Duration
}

// Stats are the live counts of one key
type Stats struct {
	Level       Level
	Key         string
	HourlyCount int
	DailyCount  int
}

// Limiter enforces Config over all levels at once
type Limiter struct {
	db     *bolt.DB
	config *Config
	now    func() time.Time

	mu      sync.Mutex
	windows map[Level]map[string]*window
	pruned  map[Level][]string

	stopCh chan struct{}
	done   chan struct{}
}

// NewLimiter restores saved counters from db and starts the flush loop
func NewLimiter(db *bolt.DB, cfg *Config) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	l := &Limiter{
		db:      db,
		config:  cfg,
		now:     time.Now,
		windows: make(map[Level]map[string]*window),
		pruned:  make(map[Level][]string),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, level := range levels {
		l.windows[level] = make(map[string]*window)
	}

	if err := l.restore(); err != nil {
		return nil, fmt.Errorf("failed to restore rate limit counters: %w", err)
	}

	go l.flushLoop()
	return l, nil
}

func (l *Limiter) limitFor(level Level) *LimitConfig {
	switch level {
	case LevelGlobal:
		return l.config.Global
	case LevelClient:
		return l.config.PerClient
	case LevelInvestor:
		return l.config.PerInvestor
	}
	return nil
}

// Allow checks every applicable level and, when all pass, counts the request
// against each of them. A denied request counts nowhere.
func (l *Limiter) Allow(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := map[Level]string{
		LevelGlobal:   globalKey,
		LevelClient:   req.Client,
		LevelInvestor: req.Investor,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	var hit []*window
	for _, level := range levels {
		limit, key := l.limitFor(level), keys[level]
		if limit == nil || key == "" {
			continue
		}

		w, ok := l.windows[level][key]
		if !ok {
			w = &window{HourStart: now, DayStart: now}
			l.windows[level][key] = w
		}
		w.roll(now)

		if wait := limit.retryAfter(w, now); wait > 0 {
			return &Result{DeniedBy: level, DeniedKey: key, RetryAfter: wait}, nil
		}
		hit = append(hit, w)
	}

	for _, w := range hit {
		w.Hour++
		w.Day++
	}
	return &Result{Allowed: true}, nil
}

// GetStats returns the live counts of one key
func (l *Limiter) GetStats(level Level, key string) *Stats {
	if level == LevelGlobal {
		key = globalKey
	}
	stats := &Stats{Level: level, Key: key}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[level][key]
	if !ok {
		return stats
	}
	now := l.now()
	if now.Sub(w.HourStart) < time.Hour {
		stats.HourlyCount = w.Hour
	}
	if now.Sub(w.DayStart) < 24*time.Hour {
		stats.DailyCount = w.Day
	}
	return stats
}

// Stop ends the flush loop and flushes one last time
func (l *Limiter) Stop() error {
	close(l.stopCh)
	<-l.done
	return l.flush()
}

func (l *Limiter) restore() error {
	return l.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		if err != nil {
			return err
		}
		for _, level := range levels {
			b, err := root.CreateBucketIfNotExists([]byte(level))
			if err != nil {
				return err
			}
			err = b.ForEach(func(k, v []byte) error {
				var w window
				if json.Unmarshal(v, &w) != nil {
					return nil
				}
				l.windows[level][string(k)] = &w
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// flush drops idle windows and writes the rest
func (l *Limiter) flush() error {
	l.mu.Lock()
	now := l.now()
	encoded := make(map[Level]map[string][]byte, len(levels))
	for _, level := range levels {
		encoded[level] = make(map[string][]byte, len(l.windows[level]))
		for key, w := range l.windows[level] {
			if w.idle(now) {
				delete(l.windows[level], key)
				l.pruned[level] = append(l.pruned[level], key)
				continue
			}
			if data, err := json.Marshal(w); err == nil {
				encoded[level][key] = data
			}
		}
	}
	pruned := l.pruned
	l.pruned = make(map[Level][]string)
	l.mu.Unlock()

	err := l.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketRateLimits)
		for _, level := range levels {
			b := root.Bucket([]byte(level))
			for _, key := range pruned[level] {
				if err := b.Delete([]byte(key)); err != nil {
					return err
				}
			}
			for key, data := range encoded[level] {
				if err := b.Put([]byte(key), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		// Retry the deletes on the next flush
		l.mu.Lock()
		for level, keys := range pruned {
			l.pruned[level] = append(l.pruned[level], keys...)
		}
		l.mu.Unlock()
	}
	return err
}

func (l *Limiter) flushLoop() {
	defer close(l.done)

	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.flush()
		}
	}
}
