package crowdfunding

import (
	"context"
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
)

// Tx is the state visible to one atomic transition. Lookups return nil, nil
// for absent records.
type Tx interface {
	Campaign(id CampaignID) (*Campaign, error)
	PutCampaign(c *Campaign) error
	DeleteCampaign(id CampaignID) error
	ForEachCampaign(fn func(*Campaign) error) error

	Contribution(id CampaignID, investor account.ID) (*Contribution, error)
	PutContribution(c *Contribution) error
	// Contributions returns the campaign's contributions ordered by investor
	Contributions(id CampaignID) ([]*Contribution, error)
	DeleteContributions(id CampaignID) error

	Settlement(id CampaignID) (*Settlement, error)
	PutSettlement(s *Settlement) error

	Emit(ev *Event) error

	Assets() *asset.Router
	Holds() account.Holds
}

// Store applies transitions one at a time. An error returned from the
// Update callback discards every write made through the Tx.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
}

// Clock provides the current ledger time
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock
var SystemClock Clock = ClockFunc(time.Now)
