// Package scheduler drives time-based campaign transitions: it activates
// campaigns whose start time has come and settles those whose end time has
// passed.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/foxzi/crowdsale/internal/crowdfunding"
	"github.com/foxzi/crowdsale/internal/metrics"
)

// Engine is the part of the lifecycle engine the scheduler drives
type Engine interface {
	Campaigns(ctx context.Context) ([]*crowdfunding.Campaign, error)
	Activate(ctx context.Context, id crowdfunding.CampaignID) error
	Expire(ctx context.Context, id crowdfunding.CampaignID) error
	Finish(ctx context.Context, id crowdfunding.CampaignID) error
}

// Transition names a scheduled operation
type Transition string

const (
	TransitionActivate Transition = "activate"
	TransitionExpire   Transition = "expire"
	TransitionFinish   Transition = "finish"
)

// Submission is one transition the scheduler decided to apply
type Submission struct {
	Transition Transition
	CampaignID crowdfunding.CampaignID
}

// Result summarizes one scan. Halted counts due campaigns skipped because
// an earlier settlement failed fatally.
type Result struct {
	Scanned   int
	Submitted int
	Failed    int
	Halted    int
}

// Config contains scheduler settings
type Config struct {
	Interval time.Duration
}

// Scheduler scans campaigns on a fixed interval
type Scheduler struct {
	engine   Engine
	clock    crowdfunding.Clock
	interval time.Duration
	logger   *slog.Logger

	// halted campaigns are never resubmitted until restart
	mu     sync.Mutex
	halted map[crowdfunding.CampaignID]error

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a new scheduler
func New(engine Engine, clock crowdfunding.Clock, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Second
	}
	if clock == nil {
		clock = crowdfunding.SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		engine:   engine,
		clock:    clock,
		interval: cfg.Interval,
		logger:   logger.With("component", "scheduler"),
		halted:   make(map[crowdfunding.CampaignID]error),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the scan loop in the background
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", "interval", s.interval)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop stops the scan loop and waits for the current scan
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("scheduler scan failed", "error", err)
			}
		}
	}
}

// Plan picks the transitions due at now. Active campaigns past their end
// are finished or expired depending on the soft cap; pre-active campaigns
// past their start are activated.
func Plan(campaigns []*crowdfunding.Campaign, now time.Time) []Submission {
	var due []Submission
	for _, c := range campaigns {
		switch {
		case c.Status == crowdfunding.StatusActive && c.Ended(now):
			t := TransitionExpire
			if c.SoftCapReached() {
				t = TransitionFinish
			}
			due = append(due, Submission{Transition: t, CampaignID: c.ID})
		case c.Status.PreActive() && c.Started(now):
			due = append(due, Submission{Transition: TransitionActivate, CampaignID: c.ID})
		}
	}
	return due
}

// Tick scans all campaigns once and applies the due transitions. A failed
// transition is logged and left for the next scan, unless it failed with a
// fatal error: that campaign is halted and skipped from then on, so the
// operator is alerted once.
func (s *Scheduler) Tick(ctx context.Context) (Result, error) {
	metrics.IncSchedulerTicks()

	campaigns, err := s.engine.Campaigns(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Scanned: len(campaigns)}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetSettled(campaigns)

	for _, sub := range Plan(campaigns, s.clock.Now()) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if _, ok := s.halted[sub.CampaignID]; ok {
			res.Halted++
			continue
		}
		metrics.IncSchedulerSubmissions(string(sub.Transition))
		res.Submitted++

		if err := s.apply(ctx, sub); err != nil {
			res.Failed++
			if crowdfunding.KindOf(err) == crowdfunding.KindFatal {
				s.halted[sub.CampaignID] = err
				s.logger.Error("campaign halted, scheduled transitions suspended until restart",
					"transition", sub.Transition,
					"campaign_id", sub.CampaignID,
					"error", err,
				)
				continue
			}
			s.logger.Warn("scheduled transition failed",
				"transition", sub.Transition,
				"campaign_id", sub.CampaignID,
				"error", err,
			)
			continue
		}
		s.logger.Debug("scheduled transition applied", "transition", sub.Transition, "campaign_id", sub.CampaignID)
	}
	return res, nil
}

// Halted returns the campaigns the scheduler no longer submits, with the
// error that halted each
func (s *Scheduler) Halted() map[crowdfunding.CampaignID]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[crowdfunding.CampaignID]error, len(s.halted))
	for id, err := range s.halted {
		out[id] = err
	}
	return out
}

// forgetSettled drops halted campaigns that were settled by other means
func (s *Scheduler) forgetSettled(campaigns []*crowdfunding.Campaign) {
	if len(s.halted) == 0 {
		return
	}
	live := make(map[crowdfunding.CampaignID]bool, len(campaigns))
	for _, c := range campaigns {
		live[c.ID] = true
	}
	for id := range s.halted {
		if !live[id] {
			delete(s.halted, id)
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, sub Submission) error {
	switch sub.Transition {
	case TransitionActivate:
		return s.engine.Activate(ctx, sub.CampaignID)
	case TransitionFinish:
		return s.engine.Finish(ctx, sub.CampaignID)
	default:
		return s.engine.Expire(ctx, sub.CampaignID)
	}
}
