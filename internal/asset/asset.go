// Package asset defines asset values and the capability to move them between
// accounts independently of the backend that keeps the balances.
package asset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/foxzi/crowdsale/internal/account"
)

var (
	// ErrInsufficientBalance is returned when the source cannot cover a transfer
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidID is returned for empty or malformed asset identifiers
	ErrInvalidID = errors.New("invalid asset id")
)

// ID identifies an asset class, e.g. "native" or a token symbol
type ID string

// ParseID validates an asset identifier
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 64 || strings.ContainsAny(s, " \t\n/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// Asset pairs an asset identifier with an amount
type Asset struct {
	ID     ID      `json:"id" yaml:"id"`
	Amount Balance `json:"amount" yaml:"amount"`
}

// New creates an asset value
func New(id ID, amount Balance) Asset {
	return Asset{ID: id, Amount: amount}
}

func (a Asset) String() string {
	return a.Amount.String() + " " + string(a.ID)
}

// Backend keeps balances for one family of assets
type Backend interface {
	Balance(id ID, who account.ID) (Balance, error)
	// Transfer moves amount from one account to another, failing with
	// ErrInsufficientBalance when from cannot pay.
	Transfer(id ID, from, to account.ID, amount Balance) error
}

// Currency is the native asset backend. Accounts need MinimumBalance of it
// to exist.
type Currency interface {
	Backend
	NativeID() ID
	MinimumBalance() Balance
	// Deposit mints amount into who
	Deposit(who account.ID, amount Balance) error
	// Withdraw burns amount from who, failing with ErrInsufficientBalance
	Withdraw(who account.ID, amount Balance) error
}
