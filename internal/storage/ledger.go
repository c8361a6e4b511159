package storage

import (
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
)

func encodeBalance(b asset.Balance) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint64(v, uint64(b))
	return v
}

func decodeBalance(v []byte) asset.Balance {
	if len(v) != 8 {
		return 0
	}
	return asset.Balance(binary.BigEndian.Uint64(v))
}

func putBalance(b *bolt.Bucket, key []byte, amount asset.Balance) error {
	if amount.IsZero() {
		return b.Delete(key)
	}
	return b.Put(key, encodeBalance(amount))
}

// currency keeps native balances keyed by account
type currency struct {
	btx     *bolt.Tx
	native  asset.ID
	minimum asset.Balance
}

var _ asset.Currency = (*currency)(nil)

func (c *currency) NativeID() asset.ID {
	return c.native
}

func (c *currency) MinimumBalance() asset.Balance {
	return c.minimum
}

func (c *currency) Balance(_ asset.ID, who account.ID) (asset.Balance, error) {
	return decodeBalance(c.btx.Bucket(bucketCurrency).Get(who[:])), nil
}

func (c *currency) Transfer(_ asset.ID, from, to account.ID, amount asset.Balance) error {
	if from == to {
		return nil
	}
	if err := c.Withdraw(from, amount); err != nil {
		return err
	}
	return c.Deposit(to, amount)
}

func (c *currency) Deposit(who account.ID, amount asset.Balance) error {
	b := c.btx.Bucket(bucketCurrency)
	bal := decodeBalance(b.Get(who[:]))
	next := bal.SaturatingAdd(amount)
	if next-bal != amount {
		return fmt.Errorf("native balance of %s would overflow", who)
	}
	return putBalance(b, who[:], next)
}

func (c *currency) Withdraw(who account.ID, amount asset.Balance) error {
	b := c.btx.Bucket(bucketCurrency)
	bal := decodeBalance(b.Get(who[:]))
	if bal < amount {
		return fmt.Errorf("%w: %s has %s %s, needs %s", asset.ErrInsufficientBalance, who, bal, c.native, amount)
	}
	return putBalance(b, who[:], bal-amount)
}

// tokens keeps fungible balances keyed by asset and account
type tokens struct {
	btx *bolt.Tx
}

var _ asset.Backend = (*tokens)(nil)

func balanceKey(id asset.ID, who account.ID) []byte {
	key := make([]byte, 0, 1+len(id)+account.Size)
	key = append(key, byte(len(id)))
	key = append(key, id...)
	return append(key, who[:]...)
}

func splitBalanceKey(key []byte) (asset.ID, account.ID, bool) {
	var who account.ID
	if len(key) < 1 {
		return "", who, false
	}
	n := int(key[0])
	if len(key) != 1+n+account.Size {
		return "", who, false
	}
	copy(who[:], key[1+n:])
	return asset.ID(key[1 : 1+n]), who, true
}

func (t *tokens) Balance(id asset.ID, who account.ID) (asset.Balance, error) {
	return decodeBalance(t.btx.Bucket(bucketBalances).Get(balanceKey(id, who))), nil
}

func (t *tokens) Transfer(id asset.ID, from, to account.ID, amount asset.Balance) error {
	if from == to {
		return nil
	}
	b := t.btx.Bucket(bucketBalances)
	fromKey := balanceKey(id, from)
	bal := decodeBalance(b.Get(fromKey))
	if bal < amount {
		return fmt.Errorf("%w: %s has %s %s, needs %s", asset.ErrInsufficientBalance, from, bal, id, amount)
	}
	if err := putBalance(b, fromKey, bal-amount); err != nil {
		return err
	}
	return t.credit(id, to, amount)
}

func (t *tokens) credit(id asset.ID, who account.ID, amount asset.Balance) error {
	b := t.btx.Bucket(bucketBalances)
	key := balanceKey(id, who)
	bal := decodeBalance(b.Get(key))
	next := bal.SaturatingAdd(amount)
	if next-bal != amount {
		return fmt.Errorf("%s balance of %s would overflow", id, who)
	}
	return putBalance(b, key, next)
}

// holds counts the live references on an account
type holds struct {
	btx *bolt.Tx
}

var _ account.Holds = holds{}

func (h holds) HoldCount(who account.ID) (uint32, error) {
	v := h.btx.Bucket(bucketHolds).Get(who[:])
	if len(v) != 4 {
		return 0, nil
	}
	return binary.BigEndian.Uint32(v), nil
}

func (h holds) IncHold(who account.ID) error {
	n, _ := h.HoldCount(who)
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, n+1)
	return h.btx.Bucket(bucketHolds).Put(who[:], v)
}

func (h holds) DecHold(who account.ID) error {
	n, _ := h.HoldCount(who)
	if n == 0 {
		return fmt.Errorf("%w: %s", account.ErrNoHold, who)
	}
	if n == 1 {
		return h.btx.Bucket(bucketHolds).Delete(who[:])
	}
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, n-1)
	return h.btx.Bucket(bucketHolds).Put(who[:], v)
}
