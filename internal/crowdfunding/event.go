package crowdfunding

import (
	"time"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
)

// EventKind names a lifecycle event consumed by indexers
type EventKind string

const (
	EventCampaignCreated   EventKind = "CampaignCreated"
	EventCampaignActivated EventKind = "CampaignActivated"
	EventCampaignExpired   EventKind = "CampaignExpired"
	EventCampaignFinished  EventKind = "CampaignFinished"
	EventInvested          EventKind = "Invested"
)

// Event is a record of a committed transition. Seq is assigned by the store.
type Event struct {
	Seq        uint64       `json:"seq"`
	Kind       EventKind    `json:"kind"`
	CampaignID CampaignID   `json:"campaign_id"`
	Account    *account.ID  `json:"account,omitempty"`
	Asset      *asset.Asset `json:"asset,omitempty"`
	Time       time.Time    `json:"time"`
}

// journal emits events through the transaction and remembers them so they
// are only logged once the transaction commits
type journal struct {
	tx     Tx
	now    time.Time
	events []*Event
}

func (j *journal) emit(kind EventKind, id CampaignID, who *account.ID, value *asset.Asset) error {
	ev := &Event{Kind: kind, CampaignID: id, Account: who, Asset: value, Time: j.now}
	if err := j.tx.Emit(ev); err != nil {
		return err
	}
	j.events = append(j.events, ev)
	return nil
}
