// Package escrow derives the custody account of a campaign and manages its
// existence through the native currency deposit.
package escrow

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/foxzi/crowdsale/internal/account"
	"github.com/foxzi/crowdsale/internal/asset"
)

// Namespace is prepended to the campaign id before hashing
const Namespace = "crowdsale/escrow/"

var (
	// ErrInsufficientBalance is returned when the owner cannot pay the deposit
	ErrInsufficientBalance = errors.New("insufficient balance for escrow deposit")

	// ErrInvariantViolation is returned when the escrow cannot give back its
	// deposit. It means the escrow was drained by something else.
	ErrInvariantViolation = errors.New("escrow invariant violated")
)

// Derive computes the escrow account address of a campaign
func Derive(campaignID []byte) account.ID {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(Namespace))
	h.Write(campaignID)
	return account.FromBytes(h.Sum(nil))
}

// Account is the escrow of one campaign. It is a transfer Source and Target.
type Account struct {
	id account.ID
}

// For returns the escrow account of a campaign id
func For(campaignID []byte) Account {
	return Account{id: Derive(campaignID)}
}

// ID returns the derived address
func (a Account) ID() account.ID {
	return a.id
}

func (a Account) AccountID() account.ID {
	return a.id
}

func (a Account) AsTarget() account.Target {
	return a.id
}

func (a Account) String() string {
	return "escrow:" + a.id.String()
}

// Create brings the escrow into existence by moving the existential deposit
// from owner into it
func Create(cur asset.Currency, owner account.ID, escrow Account) error {
	deposit := cur.MinimumBalance()
	if err := cur.Withdraw(owner, deposit); err != nil {
		if errors.Is(err, asset.ErrInsufficientBalance) {
			return fmt.Errorf("%w: owner %s needs %s", ErrInsufficientBalance, owner, deposit)
		}
		return err
	}
	if err := cur.Deposit(escrow.id, deposit); err != nil {
		return fmt.Errorf("failed to fund escrow %s: %w", escrow, err)
	}
	return nil
}

// Destroy returns the existential deposit to owner and removes the escrow.
// Every other balance must have been drained before.
func Destroy(cur asset.Currency, owner account.ID, escrow Account) error {
	deposit := cur.MinimumBalance()
	if err := cur.Deposit(owner, deposit); err != nil {
		return fmt.Errorf("failed to refund escrow deposit to %s: %w", owner, err)
	}
	if err := cur.Withdraw(escrow.id, deposit); err != nil {
		return fmt.Errorf("%w: settle %s from %s: %v", ErrInvariantViolation, deposit, escrow, err)
	}
	left, err := cur.Balance(cur.NativeID(), escrow.id)
	if err != nil {
		return err
	}
	if !left.IsZero() {
		return fmt.Errorf("%w: %s still holds %s after settle", ErrInvariantViolation, escrow, left)
	}
	return nil
}
