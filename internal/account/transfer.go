package account

import "errors"

// Target is the receiving side of a value transfer
type Target interface {
	AccountID() ID
}

// Source is the paying side of a value transfer. Sources resolve to the
// Target representation the asset backend debits, so escrow accounts and
// regular accounts can use different types.
type Source interface {
	AsTarget() Target
}

// ErrNoHold is returned when releasing a hold that was never acquired
var ErrNoHold = errors.New("account has no outstanding hold")

// Holds is the account-existence reference counter. An account with an
// outstanding hold must not be reaped by the surrounding account system.
type Holds interface {
	IncHold(who ID) error
	DecHold(who ID) error
	HoldCount(who ID) (uint32, error)
}
