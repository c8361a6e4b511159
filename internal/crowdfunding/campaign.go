package crowdfunding

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/escrow"
)

// CampaignIDSize is the length of a campaign identifier in bytes
const CampaignIDSize = 20

// CampaignID is the caller-chosen 160-bit identifier of a campaign
type CampaignID [CampaignIDSize]byte

// ParseCampaignID decodes a hex campaign identifier, with or without 0x
func ParseCampaignID(s string) (CampaignID, error) {
	var id CampaignID
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) != CampaignIDSize*2 {
		return id, fmt.Errorf("%w: want %d hex chars, got %d", ErrInvalidCampaignID, CampaignIDSize*2, len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidCampaignID, err)
	}
	return id, nil
}

// NewCampaignID returns a random campaign identifier
func NewCampaignID() CampaignID {
	var id CampaignID
	a, b := uuid.New(), uuid.New()
	n := copy(id[:], a[:])
	copy(id[n:], b[:])
	return id
}

func (id CampaignID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}

// Bytes returns a copy of the identifier bytes
func (id CampaignID) Bytes() []byte {
	b := make([]byte, CampaignIDSize)
	copy(b, id[:])
	return b
}

// Escrow returns the derived custody account of the campaign
func (id CampaignID) Escrow() escrow.Account {
	return escrow.For(id[:])
}

func (id CampaignID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *CampaignID) UnmarshalText(text []byte) error {
	parsed, err := ParseCampaignID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Status is the lifecycle state of a campaign
type Status string

const (
	// StatusPending is the legacy name of StatusInactive; both mean "not
	// yet activated" and are handled identically.
	StatusPending  Status = "pending"
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
	StatusExpired  Status = "expired"
)

// PreActive reports whether the campaign waits for activation
func (s Status) PreActive() bool {
	return s == StatusInactive || s == StatusPending
}

// Terminal reports whether the campaign has been settled
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusExpired
}

// Campaign is the persisted state of one token sale
type Campaign struct {
	ID         CampaignID    `json:"id"`
	Creator    account.ID    `json:"creator"`
	Account    account.ID    `json:"account"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	Status     Status        `json:"status"`
	RaiseAsset asset.ID      `json:"raise_asset"`
	Raised     asset.Balance `json:"raised"`
	SoftCap    asset.Balance `json:"soft_cap"`
	HardCap    asset.Balance `json:"hard_cap"`
	Shares     []asset.Asset `json:"shares"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Escrow returns the custody account of the campaign
func (c *Campaign) Escrow() escrow.Account {
	return c.ID.Escrow()
}

// Fund wraps an amount of the raise asset
func (c *Campaign) Fund(amount asset.Balance) asset.Asset {
	return asset.New(c.RaiseAsset, amount)
}

// SoftCapReached reports whether enough has been raised to finish
func (c *Campaign) SoftCapReached() bool {
	return c.Raised >= c.SoftCap
}

// Ended reports whether the sale window is over at now
func (c *Campaign) Ended(now time.Time) bool {
	return !now.Before(c.EndTime)
}

// Started reports whether the sale window has opened at now
func (c *Campaign) Started(now time.Time) bool {
	return !now.Before(c.StartTime)
}

// clamp limits an investment to what is left under the hard cap. The second
// result reports whether the investment fills the cap.
func (c *Campaign) clamp(amount asset.Balance) (asset.Balance, bool) {
	if c.Raised.SaturatingAdd(amount) >= c.HardCap {
		return c.HardCap.SaturatingSub(c.Raised), true
	}
	return amount, false
}

// custodied lists every asset the escrow may hold: shares, the raise asset
// and the native currency, without duplicates
func (c *Campaign) custodied(native asset.ID) []asset.ID {
	ids := make([]asset.ID, 0, len(c.Shares)+2)
	seen := make(map[asset.ID]bool, len(c.Shares)+2)
	add := func(id asset.ID) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, s := range c.Shares {
		add(s.ID)
	}
	add(c.RaiseAsset)
	add(native)
	return ids
}

// Clone returns a deep copy
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Shares = append([]asset.Asset(nil), c.Shares...)
	return &clone
}

// Contribution is one investor's cumulative payment into a campaign
type Contribution struct {
	CampaignID CampaignID    `json:"campaign_id"`
	Investor   account.ID    `json:"investor"`
	Amount     asset.Balance `json:"amount"`
	Time       time.Time     `json:"time"`
}

// Payout is one value movement out of escrow at settlement
type Payout struct {
	Account account.ID  `json:"account"`
	Asset   asset.Asset `json:"asset"`
}

// Settlement is the record kept after a campaign has been removed
type Settlement struct {
	CampaignID CampaignID    `json:"campaign_id"`
	Status     Status        `json:"status"`
	Creator    account.ID    `json:"creator"`
	RaiseAsset asset.ID      `json:"raise_asset"`
	Raised     asset.Balance `json:"raised"`
	Investors  int           `json:"investors"`
	Payouts    []Payout      `json:"payouts,omitempty"`
	Returned   []asset.Asset `json:"returned,omitempty"`
	SettledAt  time.Time     `json:"settled_at"`
}
