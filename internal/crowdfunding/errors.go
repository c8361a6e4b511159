package crowdfunding

import (
	"errors"

	"github.com/foxzi/crowdsale/internal/escrow"
)

var (
	ErrInvalidCampaignID = errors.New("invalid campaign id")

	// Validation errors
	ErrStartTimeInPast     = errors.New("start time must be later or equal to the current moment")
	ErrEndBeforeStart      = errors.New("end time must be later than start time")
	ErrSoftCapZero         = errors.New("soft cap must be greater than zero")
	ErrHardCapBelowSoftCap = errors.New("hard cap must be greater or equal to soft cap")
	ErrNoShares            = errors.New("no shares specified")
	ErrTooManyShares       = errors.New("too many shares")
	ErrDuplicateShare      = errors.New("share asset specified twice")
	ErrShareIsRaiseAsset   = errors.New("share asset must differ from the raise asset")
	ErrShareAmountZero     = errors.New("share amount must be positive")
	ErrWrongAsset          = errors.New("asset does not match the raise asset")
	ErrAmountZero          = errors.New("amount must be positive")
	ErrEscrowParticipant   = errors.New("campaign escrow cannot create or invest in its own campaign")

	// Resource errors
	ErrInsufficientBalance = errors.New("balance is not enough")

	// State errors
	ErrNotFound          = errors.New("campaign not found")
	ErrAlreadyExists     = errors.New("campaign already exists")
	ErrNotStarted        = errors.New("campaign start time not reached")
	ErrNotInactive       = errors.New("campaign should be inactive")
	ErrNotActive         = errors.New("campaign should be active")
	ErrNotEnded          = errors.New("campaign end time not reached")
	ErrSoftCapReached    = errors.New("soft cap reached, campaign cannot expire")
	ErrSoftCapNotReached = errors.New("soft cap not reached, campaign cannot finish")

	// ErrInvariantViolation marks settlement failures that accounting should
	// have made impossible
	ErrInvariantViolation = escrow.ErrInvariantViolation
)

// ErrorKind groups errors by who can fix them
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindResource
	KindState
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindResource:
		return "resource"
	case KindState:
		return "state"
	case KindFatal:
		return "fatal"
	default:
		return "internal"
	}
}

var errorKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvariantViolation, KindFatal},
	{ErrInvalidCampaignID, KindValidation},
	{ErrStartTimeInPast, KindValidation},
	{ErrEndBeforeStart, KindValidation},
	{ErrSoftCapZero, KindValidation},
	{ErrHardCapBelowSoftCap, KindValidation},
	{ErrNoShares, KindValidation},
	{ErrTooManyShares, KindValidation},
	{ErrDuplicateShare, KindValidation},
	{ErrShareIsRaiseAsset, KindValidation},
	{ErrShareAmountZero, KindValidation},
	{ErrWrongAsset, KindValidation},
	{ErrAmountZero, KindValidation},
	{ErrEscrowParticipant, KindValidation},
	{ErrInsufficientBalance, KindResource},
	{ErrNotFound, KindState},
	{ErrAlreadyExists, KindState},
	{ErrNotStarted, KindState},
	{ErrNotInactive, KindState},
	{ErrNotActive, KindState},
	{ErrNotEnded, KindState},
	{ErrSoftCapReached, KindState},
	{ErrSoftCapNotReached, KindState},
}

// KindOf classifies an error returned by the engine
func KindOf(err error) ErrorKind {
	for _, ek := range errorKinds {
		if errors.Is(err, ek.err) {
			return ek.kind
		}
	}
	return KindInternal
}
