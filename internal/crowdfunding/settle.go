package crowdfunding

import (
	"fmt"

	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/escrow"
)

// TokenAmount is the pro-rata part of share owed for investment out of
// total, rounded down. A zero total yields zero.
func TokenAmount(investment, share, total asset.Balance) asset.Balance {
	return asset.MulDiv(investment, share, total)
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvariantViolation}, args...)...)
}

// expire refunds every contribution and closes the campaign
func expire(tx Tx, j *journal, c *Campaign) error {
	contributions, err := tx.Contributions(c.ID)
	if err != nil {
		return err
	}

	assets := tx.Assets()
	esc := c.Escrow()
	s := newSettlement(c, StatusExpired, len(contributions), j)
	for _, ct := range contributions {
		refund := c.Fund(ct.Amount)
		if err := assets.Unit(refund).Transfer(esc, ct.Investor); err != nil {
			return violation("refund %s to %s: %v", refund, ct.Investor, err)
		}
		if err := tx.Holds().DecHold(ct.Investor); err != nil {
			return violation("release hold of %s: %v", ct.Investor, err)
		}
		s.Payouts = append(s.Payouts, Payout{Account: ct.Investor, Asset: refund})
	}
	return closeCampaign(tx, j, c, s, EventCampaignExpired)
}

// finish distributes the shares pro-rata and closes the campaign
func finish(tx Tx, j *journal, c *Campaign) error {
	contributions, err := tx.Contributions(c.ID)
	if err != nil {
		return err
	}
	s := newSettlement(c, StatusFinished, len(contributions), j)
	payouts, err := distribute(tx, c, contributions)
	if err != nil {
		return err
	}
	s.Payouts = payouts
	return closeCampaign(tx, j, c, s, EventCampaignFinished)
}

// distribute hands out every share in list order. Investors are released
// once the last share has been processed.
func distribute(tx Tx, c *Campaign, contributions []*Contribution) ([]Payout, error) {
	assets := tx.Assets()
	esc := c.Escrow()
	var payouts []Payout

	for i, share := range c.Shares {
		last := i == len(c.Shares)-1
		remaining := share.Amount
		for _, ct := range contributions {
			amount := TokenAmount(ct.Amount, share.Amount, c.Raised)
			if amount > remaining {
				amount = remaining
			}
			if !amount.IsZero() {
				tokens := asset.New(share.ID, amount)
				if err := assets.Unit(tokens).Transfer(esc, ct.Investor); err != nil {
					return nil, violation("distribute %s to %s: %v", tokens, ct.Investor, err)
				}
				remaining -= amount
				payouts = append(payouts, Payout{Account: ct.Investor, Asset: tokens})
			}
			if last {
				if err := tx.Holds().DecHold(ct.Investor); err != nil {
					return nil, violation("release hold of %s: %v", ct.Investor, err)
				}
			}
		}
	}
	return payouts, nil
}

// closeCampaign returns everything left in escrow to the creator, destroys
// the escrow and replaces the campaign by its settlement record
func closeCampaign(tx Tx, j *journal, c *Campaign, s *Settlement, kind EventKind) error {
	assets := tx.Assets()
	esc := c.Escrow()

	for _, id := range c.custodied(assets.Currency().NativeID()) {
		free, err := assets.Free(id, esc.ID())
		if err != nil {
			return err
		}
		left := asset.New(id, free)
		if err := assets.Unit(left).Transfer(esc, c.Creator); err != nil {
			return violation("return %s to creator: %v", left, err)
		}
		if !free.IsZero() {
			s.Returned = append(s.Returned, left)
		}
	}
	if err := escrow.Destroy(assets.Currency(), c.Creator, esc); err != nil {
		return err
	}

	if err := tx.DeleteContributions(c.ID); err != nil {
		return err
	}
	if err := tx.DeleteCampaign(c.ID); err != nil {
		return err
	}
	if err := tx.PutSettlement(s); err != nil {
		return err
	}
	creator := c.Creator
	return j.emit(kind, c.ID, &creator, nil)
}

func newSettlement(c *Campaign, status Status, investors int, j *journal) *Settlement {
	return &Settlement{
		CampaignID: c.ID,
		Status:     status,
		Creator:    c.Creator,
		RaiseAsset: c.RaiseAsset,
		Raised:     c.Raised,
		Investors:  investors,
		SettledAt:  j.now,
	}
}
