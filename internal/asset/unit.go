package asset

import (
	"fmt"

	"github.com/foxzi/crowdsale/internal/account"
)

// Kind tells which backend keeps an asset
type Kind int

const (
	KindFungible Kind = iota
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	case KindFungible:
		return "fungible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Unit carries an asset value and can move it between two accounts
type Unit interface {
	Asset() Asset
	Transfer(from account.Source, to account.Target) error
}

type unit struct {
	value   Asset
	kind    Kind
	backend Backend
}

func (u unit) Asset() Asset {
	return u.value
}

func (u unit) Transfer(from account.Source, to account.Target) error {
	if u.value.Amount.IsZero() {
		return nil
	}
	src := from.AsTarget().AccountID()
	dst := to.AccountID()
	if err := u.backend.Transfer(u.value.ID, src, dst, u.value.Amount); err != nil {
		return fmt.Errorf("%s transfer of %s from %s: %w", u.kind, u.value, src, err)
	}
	return nil
}

// Router picks the backend for an asset: the configured native asset goes to
// the currency, everything else to the token backend.
type Router struct {
	currency Currency
	tokens   Backend
}

// NewRouter creates a router over the two backends
func NewRouter(currency Currency, tokens Backend) *Router {
	return &Router{currency: currency, tokens: tokens}
}

// Kind returns the backend kind of an asset
func (r *Router) Kind(id ID) Kind {
	if id == r.currency.NativeID() {
		return KindNative
	}
	return KindFungible
}

// Backend returns the backend keeping an asset
func (r *Router) Backend(id ID) Backend {
	if r.Kind(id) == KindNative {
		return r.currency
	}
	return r.tokens
}

// Currency returns the native currency backend
func (r *Router) Currency() Currency {
	return r.currency
}

// Unit wraps a value into its transfer capability
func (r *Router) Unit(a Asset) Unit {
	return unit{value: a, kind: r.Kind(a.ID), backend: r.Backend(a.ID)}
}

// Balance returns the balance of who in asset id
func (r *Router) Balance(id ID, who account.ID) (Balance, error) {
	return r.Backend(id).Balance(id, who)
}

// Free returns the part of who's balance that can be moved out without
// touching the native existential deposit.
func (r *Router) Free(id ID, who account.ID) (Balance, error) {
	bal, err := r.Balance(id, who)
	if err != nil {
		return 0, err
	}
	if r.Kind(id) == KindNative {
		return bal.SaturatingSub(r.currency.MinimumBalance()), nil
	}
	return bal, nil
}
