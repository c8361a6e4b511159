// Package storage keeps the ledger in a BoltDB file: campaigns,
// contributions, balances, holds, events and settlement records.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
	"github.com/foxzi/crowdsale/internal/crowdfunding"
)

var (
	bucketCampaigns     = []byte("campaigns")
	bucketContributions = []byte("contributions")
	bucketBalances      = []byte("balances")
	bucketCurrency      = []byte("currency")
	bucketHolds         = []byte("holds")
	bucketEvents        = []byte("events")
	bucketSettlements   = []byte("settlements")
	bucketMeta          = []byte("meta")

	allBuckets = [][]byte{
		bucketCampaigns, bucketContributions, bucketBalances, bucketCurrency,
		bucketHolds, bucketEvents, bucketSettlements, bucketMeta,
	}

	keyGenesis = []byte("genesis")
)

// Options configures the ledger
type Options struct {
	NativeAsset        asset.ID
	ExistentialDeposit asset.Balance
	Timeout            time.Duration
}

// DB is the ledger database
type DB struct {
	db      *bolt.DB
	path    string
	native  asset.ID
	minimum asset.Balance
}

var _ crowdfunding.Store = (*DB)(nil)

// Open opens or creates the ledger file at path
func Open(path string, opts Options) (*DB, error) {
	if opts.NativeAsset == "" {
		opts.NativeAsset = "native"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: opts.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, path: path, native: opts.NativeAsset, minimum: opts.ExistentialDeposit}, nil
}

// Update runs fn in a read-write transaction. Bolt allows a single writer,
// so transitions are applied one after another.
func (s *DB) Update(ctx context.Context, fn func(crowdfunding.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(s.wrap(btx))
	})
}

// View runs fn in a read-only transaction
func (s *DB) View(ctx context.Context, fn func(crowdfunding.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(s.wrap(btx))
	})
}

// Close closes the database
func (s *DB) Close() error {
	return s.db.Close()
}

// Bolt returns the underlying bolt.DB instance
func (s *DB) Bolt() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *DB) Path() string {
	return s.path
}

// NativeAsset returns the configured native asset id
func (s *DB) NativeAsset() asset.ID {
	return s.native
}

// GenesisBalance is an initial credit applied on first start
type GenesisBalance struct {
	Account account.ID
	Asset   asset.Asset
}

// ApplyGenesis credits the genesis balances once. It reports whether they
// were applied by this call.
func (s *DB) ApplyGenesis(ctx context.Context, balances []GenesisBalance) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	applied := false
	err := s.db.Update(func(btx *bolt.Tx) error {
		meta := btx.Bucket(bucketMeta)
		if meta.Get(keyGenesis) != nil {
			return nil
		}
		t := s.wrap(btx)
		for _, g := range balances {
			if err := t.mint(g.Account, g.Asset); err != nil {
				return fmt.Errorf("failed to credit %s to %s: %w", g.Asset, g.Account, err)
			}
		}
		applied = true
		return meta.Put(keyGenesis, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	return applied, err
}

// Mint credits value to who
func (s *DB) Mint(ctx context.Context, who account.ID, value asset.Asset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return s.wrap(btx).mint(who, value)
	})
}

// Balance returns who's balance in one asset
func (s *DB) Balance(ctx context.Context, id asset.ID, who account.ID) (asset.Balance, error) {
	var bal asset.Balance
	err := s.View(ctx, func(tx crowdfunding.Tx) error {
		var err error
		bal, err = tx.Assets().Balance(id, who)
		return err
	})
	return bal, err
}

// Balances returns every non-zero balance of who, native asset first
func (s *DB) Balances(ctx context.Context, who account.ID) ([]asset.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var list []asset.Asset
	err := s.db.View(func(btx *bolt.Tx) error {
		if v := btx.Bucket(bucketCurrency).Get(who[:]); v != nil {
			if amount := decodeBalance(v); !amount.IsZero() {
				list = append(list, asset.New(s.native, amount))
			}
		}
		return btx.Bucket(bucketBalances).ForEach(func(k, v []byte) error {
			id, owner, ok := splitBalanceKey(k)
			if !ok || owner != who {
				return nil
			}
			if amount := decodeBalance(v); !amount.IsZero() {
				list = append(list, asset.New(id, amount))
			}
			return nil
		})
	})
	return list, err
}

// Holds returns the number of holds on who
func (s *DB) Holds(ctx context.Context, who account.ID) (uint32, error) {
	var n uint32
	err := s.View(ctx, func(tx crowdfunding.Tx) error {
		var err error
		n, err = tx.Holds().HoldCount(who)
		return err
	})
	return n, err
}

// Events returns up to limit events with a sequence greater than after
func (s *DB) Events(ctx context.Context, after uint64, limit int) ([]*crowdfunding.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var events []*crowdfunding.Event
	err := s.db.View(func(btx *bolt.Tx) error {
		c := btx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(seqKey(after + 1)); k != nil; k, v = c.Next() {
			var ev crowdfunding.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("failed to unmarshal event: %w", err)
			}
			events = append(events, &ev)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	return events, err
}

// Stats contains ledger statistics
type Stats struct {
	Live        map[crowdfunding.Status]int `json:"live"`
	Settled     int                         `json:"settled"`
	Events      uint64                      `json:"events"`
	SizeBytes   int64                       `json:"size_bytes"`
	Investments int                         `json:"investments"`
}

// Stats returns ledger statistics
func (s *DB) Stats(ctx context.Context) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats := &Stats{Live: make(map[crowdfunding.Status]int)}
	err := s.db.View(func(btx *bolt.Tx) error {
		err := btx.Bucket(bucketCampaigns).ForEach(func(_, v []byte) error {
			var c crowdfunding.Campaign
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			status := c.Status
			if status == crowdfunding.StatusPending {
				status = crowdfunding.StatusInactive
			}
			stats.Live[status]++
			return nil
		})
		if err != nil {
			return err
		}
		stats.Settled = btx.Bucket(bucketSettlements).Stats().KeyN
		stats.Investments = btx.Bucket(bucketContributions).Stats().KeyN
		stats.Events = btx.Bucket(bucketEvents).Sequence()
		stats.SizeBytes = btx.Size()
		return nil
	})
	return stats, err
}
