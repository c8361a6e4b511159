// Package crowdfunding implements the token sale lifecycle: campaign
// creation, activation, investment and settlement through an escrow account.
package crowdfunding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/escrow"
	"github.com/foxzi/crowdsale/internal/metrics"
)

// DefaultMaxShares bounds the number of share assets in one campaign
const DefaultMaxShares = 10

// Config contains engine settings
type Config struct {
	MaxShares int
}

// Alerter is told about fatal errors that need an operator
type Alerter interface {
	Alert(ctx context.Context, id CampaignID, err error) error
}

// Engine applies lifecycle transitions to the store
type Engine struct {
	store   Store
	clock   Clock
	config  Config
	logger  *slog.Logger
	alerter Alerter
}

// NewEngine creates a new lifecycle engine
func NewEngine(store Store, clock Clock, cfg Config, logger *slog.Logger) *Engine {
	if cfg.MaxShares <= 0 {
		cfg.MaxShares = DefaultMaxShares
	}
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  store,
		clock:  clock,
		config: cfg,
		logger: logger.With("component", "engine"),
	}
}

// SetAlerter sets the operator alert channel
func (e *Engine) SetAlerter(a Alerter) {
	e.alerter = a
}

// Now returns the engine's current time
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// CreateParams describes a new campaign
type CreateParams struct {
	ID         CampaignID
	Creator    account.ID
	Shares     []asset.Asset
	RaiseAsset asset.ID
	SoftCap    asset.Balance
	HardCap    asset.Balance
	StartTime  time.Time
	EndTime    time.Time
}

// Validate checks the parameters that do not depend on stored state
func (p *CreateParams) Validate(now time.Time, maxShares int) error {
	if p.Creator == p.ID.Escrow().ID() {
		return ErrEscrowParticipant
	}
	if p.StartTime.Before(now) {
		return ErrStartTimeInPast
	}
	if !p.EndTime.After(p.StartTime) {
		return ErrEndBeforeStart
	}
	if p.SoftCap.IsZero() {
		return ErrSoftCapZero
	}
	if p.HardCap < p.SoftCap {
		return ErrHardCapBelowSoftCap
	}
	if len(p.Shares) == 0 {
		return ErrNoShares
	}
	if len(p.Shares) > maxShares {
		return fmt.Errorf("%w: %d > %d", ErrTooManyShares, len(p.Shares), maxShares)
	}
	seen := make(map[asset.ID]bool, len(p.Shares))
	for _, s := range p.Shares {
		if s.ID == p.RaiseAsset {
			return fmt.Errorf("%w: %s", ErrShareIsRaiseAsset, s.ID)
		}
		if s.Amount.IsZero() {
			return fmt.Errorf("%w: %s", ErrShareAmountZero, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateShare, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Create locks the shares into a fresh escrow and stores an inactive campaign
func (e *Engine) Create(ctx context.Context, p CreateParams) error {
	now := e.clock.Now()
	if err := p.Validate(now, e.config.MaxShares); err != nil {
		return e.reject(ctx, "create", p.ID, err)
	}

	return e.update(ctx, "create", p.ID, now, func(tx Tx, j *journal) error {
		existing, err := tx.Campaign(p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}

		assets := tx.Assets()
		if err := checkLockable(assets, p); err != nil {
			return err
		}

		esc := p.ID.Escrow()
		if err := escrow.Create(assets.Currency(), p.Creator, esc); err != nil {
			if errors.Is(err, escrow.ErrInsufficientBalance) {
				return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
			}
			return err
		}
		for _, share := range p.Shares {
			if err := assets.Unit(share).Transfer(p.Creator, esc); err != nil {
				return lockError(err)
			}
		}

		c := &Campaign{
			ID:         p.ID,
			Creator:    p.Creator,
			Account:    esc.ID(),
			StartTime:  p.StartTime,
			EndTime:    p.EndTime,
			Status:     StatusInactive,
			RaiseAsset: p.RaiseAsset,
			SoftCap:    p.SoftCap,
			HardCap:    p.HardCap,
			Shares:     append([]asset.Asset(nil), p.Shares...),
			CreatedAt:  now,
		}
		if err := tx.PutCampaign(c); err != nil {
			return err
		}
		creator := p.Creator
		return j.emit(EventCampaignCreated, c.ID, &creator, nil)
	})
}

// checkLockable verifies the creator can pay every share and the escrow
// deposit before anything is moved
func checkLockable(assets *asset.Router, p CreateParams) error {
	need := make(map[asset.ID]asset.Balance, len(p.Shares)+1)
	native := assets.Currency().NativeID()
	need[native] = assets.Currency().MinimumBalance()
	for _, s := range p.Shares {
		need[s.ID] = need[s.ID].SaturatingAdd(s.Amount)
	}
	for id, amount := range need {
		if amount.IsZero() {
			continue
		}
		bal, err := assets.Balance(id, p.Creator)
		if err != nil {
			return fmt.Errorf("failed to read %s balance: %w", id, err)
		}
		if bal < amount {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, id, bal, amount)
		}
	}
	return nil
}

func lockError(err error) error {
	if errors.Is(err, asset.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	return err
}

// Activate opens an inactive campaign once its start time has passed.
// Activating an active campaign succeeds without effect.
func (e *Engine) Activate(ctx context.Context, id CampaignID) error {
	now := e.clock.Now()
	return e.update(ctx, "activate", id, now, func(tx Tx, j *journal) error {
		c, err := tx.Campaign(id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNotFound
		}
		switch {
		case c.Status == StatusActive:
			return nil
		case c.Status.PreActive():
			if !c.Started(now) {
				return ErrNotStarted
			}
		default:
			return ErrNotInactive
		}

		c.Status = StatusActive
		if err := tx.PutCampaign(c); err != nil {
			return err
		}
		return j.emit(EventCampaignActivated, id, nil, nil)
	})
}

// Invest moves funds from investor into the campaign escrow. The amount is
// clamped to what is left under the hard cap; filling the cap finishes the
// campaign in the same transaction.
func (e *Engine) Invest(ctx context.Context, investor account.ID, id CampaignID, value asset.Asset) error {
	now := e.clock.Now()
	if value.Amount.IsZero() {
		return e.reject(ctx, "invest", id, ErrAmountZero)
	}
	// Ledger transfers from an account to itself move nothing
	if investor == id.Escrow().ID() {
		return e.reject(ctx, "invest", id, ErrEscrowParticipant)
	}

	return e.update(ctx, "invest", id, now, func(tx Tx, j *journal) error {
		c, err := tx.Campaign(id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNotFound
		}
		if c.Status != StatusActive {
			return ErrNotActive
		}
		if value.ID != c.RaiseAsset {
			return fmt.Errorf("%w: got %s, want %s", ErrWrongAsset, value.ID, c.RaiseAsset)
		}

		amount, capReached := c.clamp(value.Amount)
		assets := tx.Assets()
		bal, err := assets.Balance(c.RaiseAsset, investor)
		if err != nil {
			return fmt.Errorf("failed to read investor balance: %w", err)
		}
		if bal < amount {
			return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, c.RaiseAsset, bal, amount)
		}
		contribution, err := tx.Contribution(id, investor)
		if err != nil {
			return err
		}

		fund := c.Fund(amount)
		if err := assets.Unit(fund).Transfer(investor, c.Escrow()); err != nil {
			return lockError(err)
		}
		if contribution == nil {
			if err := tx.Holds().IncHold(investor); err != nil {
				return fmt.Errorf("failed to hold investor account: %w", err)
			}
			contribution = &Contribution{CampaignID: id, Investor: investor, Time: now}
		}
		contribution.Amount = contribution.Amount.SaturatingAdd(amount)
		if err := tx.PutContribution(contribution); err != nil {
			return err
		}

		c.Raised = c.Raised.SaturatingAdd(amount)
		if err := tx.PutCampaign(c); err != nil {
			return err
		}
		if err := j.emit(EventInvested, id, &investor, &fund); err != nil {
			return err
		}

		if capReached {
			return finish(tx, j, c)
		}
		return nil
	})
}

// Expire refunds an active campaign that ended below its soft cap
func (e *Engine) Expire(ctx context.Context, id CampaignID) error {
	now := e.clock.Now()
	return e.update(ctx, "expire", id, now, func(tx Tx, j *journal) error {
		c, err := tx.Campaign(id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNotFound
		}
		if c.Status != StatusActive {
			return ErrNotActive
		}
		if !c.Ended(now) {
			return ErrNotEnded
		}
		if c.SoftCapReached() {
			return ErrSoftCapReached
		}
		return expire(tx, j, c)
	})
}

// Finish distributes the shares of an active campaign that reached its soft
// cap. It does not wait for the end time.
func (e *Engine) Finish(ctx context.Context, id CampaignID) error {
	now := e.clock.Now()
	return e.update(ctx, "finish", id, now, func(tx Tx, j *journal) error {
		c, err := tx.Campaign(id)
		if err != nil {
			return err
		}
		if c == nil {
			return ErrNotFound
		}
		if c.Status != StatusActive {
			return ErrNotActive
		}
		if !c.SoftCapReached() {
			return ErrSoftCapNotReached
		}
		return finish(tx, j, c)
	})
}

// Campaign returns a campaign, or nil when it does not exist
func (e *Engine) Campaign(ctx context.Context, id CampaignID) (*Campaign, error) {
	var c *Campaign
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		c, err = tx.Campaign(id)
		return err
	})
	return c, err
}

// Campaigns returns every unsettled campaign
func (e *Engine) Campaigns(ctx context.Context) ([]*Campaign, error) {
	var list []*Campaign
	err := e.store.View(ctx, func(tx Tx) error {
		return tx.ForEachCampaign(func(c *Campaign) error {
			list = append(list, c)
			return nil
		})
	})
	return list, err
}

// Contribution returns an investor's contribution, or nil when absent
func (e *Engine) Contribution(ctx context.Context, id CampaignID, investor account.ID) (*Contribution, error) {
	var c *Contribution
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		c, err = tx.Contribution(id, investor)
		return err
	})
	return c, err
}

// Contributions returns a campaign's contributions in ledger order
func (e *Engine) Contributions(ctx context.Context, id CampaignID) ([]*Contribution, error) {
	var list []*Contribution
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		list, err = tx.Contributions(id)
		return err
	})
	return list, err
}

// Settlement returns the outcome of a settled campaign, or nil
func (e *Engine) Settlement(ctx context.Context, id CampaignID) (*Settlement, error) {
	var s *Settlement
	err := e.store.View(ctx, func(tx Tx) error {
		var err error
		s, err = tx.Settlement(id)
		return err
	})
	return s, err
}

// update runs fn in one store transaction and publishes its events after
// commit
func (e *Engine) update(ctx context.Context, op string, id CampaignID, now time.Time, fn func(Tx, *journal) error) error {
	var j *journal
	err := e.store.Update(ctx, func(tx Tx) error {
		j = &journal{tx: tx, now: now}
		return fn(tx, j)
	})
	if err != nil {
		return e.reject(ctx, op, id, err)
	}
	for _, ev := range j.events {
		e.publish(ev)
	}
	return nil
}

func (e *Engine) publish(ev *Event) {
	metrics.IncEvents()
	attrs := []any{"event", ev.Kind, "campaign_id", ev.CampaignID, "seq", ev.Seq}
	if ev.Account != nil {
		attrs = append(attrs, "account", ev.Account)
	}
	if ev.Asset != nil {
		attrs = append(attrs, "asset", ev.Asset.String())
	}

	switch ev.Kind {
	case EventCampaignCreated:
		metrics.IncCampaignsCreated()
	case EventInvested:
		metrics.AddInvestment(ev.Asset.ID.String(), uint64(ev.Asset.Amount))
	case EventCampaignFinished:
		metrics.IncSettlements(string(StatusFinished))
	case EventCampaignExpired:
		metrics.IncSettlements(string(StatusExpired))
	}
	e.logger.Info("transition committed", attrs...)
}

func (e *Engine) reject(ctx context.Context, op string, id CampaignID, err error) error {
	kind := KindOf(err)
	metrics.IncTransitionErrors(op, kind.String())

	switch kind {
	case KindFatal:
		metrics.IncInvariantViolations()
		e.logger.Error("settlement aborted", "transition", op, "campaign_id", id, "error", err)
		if e.alerter != nil {
			if aerr := e.alerter.Alert(ctx, id, err); aerr != nil {
				e.logger.Error("failed to send alert", "campaign_id", id, "error", aerr)
			}
		}
	case KindInternal:
		e.logger.Error("transition failed", "transition", op, "campaign_id", id, "error", err)
	default:
		e.logger.Debug("transition rejected", "transition", op, "campaign_id", id, "kind", kind, "error", err)
	}
	return err
}
