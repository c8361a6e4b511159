package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
)

// tx adapts a bolt transaction to crowdfunding.Tx
type tx struct {
	btx    *bolt.Tx
	router *asset.Router
	holds  holds
}

var _ crowdfunding.Tx = (*tx)(nil)

func (s *DB) wrap(btx *bolt.Tx) *tx {
	cur := &currency{btx: btx, native: s.native, minimum: s.minimum}
	tok := &tokens{btx: btx}
	return &tx{
		btx:    btx,
		router: asset.NewRouter(cur, tok),
		holds:  holds{btx: btx},
	}
}

func (t *tx) Assets() *asset.Router {
	return t.router
}

func (t *tx) Holds() account.Holds {
	return t.holds
}

func (t *tx) mint(who account.ID, value asset.Asset) error {
	if value.Amount.IsZero() {
		return nil
	}
	if t.router.Kind(value.ID) == asset.KindNative {
		return t.router.Currency().Deposit(who, value.Amount)
	}
	return (&tokens{btx: t.btx}).credit(value.ID, who, value.Amount)
}

func (t *tx) Campaign(id crowdfunding.CampaignID) (*crowdfunding.Campaign, error) {
	data := t.btx.Bucket(bucketCampaigns).Get(id[:])
	if data == nil {
		return nil, nil
	}
	var c crowdfunding.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign %s: %w", id, err)
	}
	return &c, nil
}

func (t *tx) PutCampaign(c *crowdfunding.Campaign) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := t.btx.Bucket(bucketCampaigns).Put(c.ID.Bytes(), data); err != nil {
		return fmt.Errorf("failed to store campaign: %w", err)
	}
	return nil
}

func (t *tx) DeleteCampaign(id crowdfunding.CampaignID) error {
	return t.btx.Bucket(bucketCampaigns).Delete(id[:])
}

func (t *tx) ForEachCampaign(fn func(*crowdfunding.Campaign) error) error {
	return t.btx.Bucket(bucketCampaigns).ForEach(func(k, v []byte) error {
		var c crowdfunding.Campaign
		if err := json.Unmarshal(v, &c); err != nil {
			return fmt.Errorf("failed to unmarshal campaign %x: %w", k, err)
		}
		return fn(&c)
	})
}

func contributionKey(id crowdfunding.CampaignID, investor account.ID) []byte {
	key := make([]byte, 0, crowdfunding.CampaignIDSize+account.Size)
	key = append(key, id[:]...)
	return append(key, investor[:]...)
}

func (t *tx) Contribution(id crowdfunding.CampaignID, investor account.ID) (*crowdfunding.Contribution, error) {
	data := t.btx.Bucket(bucketContributions).Get(contributionKey(id, investor))
	if data == nil {
		return nil, nil
	}
	var c crowdfunding.Contribution
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal contribution: %w", err)
	}
	return &c, nil
}

func (t *tx) PutContribution(c *crowdfunding.Contribution) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal contribution: %w", err)
	}
	if err := t.btx.Bucket(bucketContributions).Put(contributionKey(c.CampaignID, c.Investor), data); err != nil {
		return fmt.Errorf("failed to store contribution: %w", err)
	}
	return nil
}

// Contributions scans the campaign prefix; bolt keeps keys sorted, so the
// result is ordered by investor bytes
func (t *tx) Contributions(id crowdfunding.CampaignID) ([]*crowdfunding.Contribution, error) {
	var list []*crowdfunding.Contribution
	prefix := id[:]
	c := t.btx.Bucket(bucketContributions).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		var ct crowdfunding.Contribution
		if err := json.Unmarshal(v, &ct); err != nil {
			return nil, fmt.Errorf("failed to unmarshal contribution: %w", err)
		}
		list = append(list, &ct)
	}
	return list, nil
}

func (t *tx) DeleteContributions(id crowdfunding.CampaignID) error {
	prefix := id[:]
	c := t.btx.Bucket(bucketContributions).Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
		if err := c.Delete(); err != nil {
			return fmt.Errorf("failed to delete contribution: %w", err)
		}
	}
	return nil
}

func (t *tx) Settlement(id crowdfunding.CampaignID) (*crowdfunding.Settlement, error) {
	data := t.btx.Bucket(bucketSettlements).Get(id[:])
	if data == nil {
		return nil, nil
	}
	var s crowdfunding.Settlement
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}
	return &s, nil
}

func (t *tx) PutSettlement(s *crowdfunding.Settlement) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return t.btx.Bucket(bucketSettlements).Put(s.CampaignID.Bytes(), data)
}

// Emit appends ev to the event log and assigns its sequence number
func (t *tx) Emit(ev *crowdfunding.Event) error {
	bucket := t.btx.Bucket(bucketEvents)
	seq, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	ev.Seq = seq
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return bucket.Put(seqKey(seq), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
