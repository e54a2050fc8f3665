package staking

import (
	"errors"

	"github.com/irfndi/AetherStake/internal/ledger"
)

// Precondition failures of the staking operations. All of them abort the
// operation before anything is persisted.
var (
	ErrStakingNotStarted      = errors.New("staking has not started")
	ErrStakingEnded           = errors.New("staking has ended")
	ErrAlreadyStaked          = errors.New("position is already staked")
	ErrNothingStaked          = errors.New("nothing staked")
	ErrLockPeriodNotOver      = errors.New("lock period is not over")
	ErrInsufficientRewardPool = errors.New("insufficient reward pool")
)

var (
	ErrPoolNotFound        = errors.New("pool not found")
	ErrPoolExists          = errors.New("pool already exists")
	ErrNotPoolOwner        = errors.New("caller is not the pool owner")
	ErrNotAuthorizedFunder = errors.New("caller may not fund this pool")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidParams       = errors.New("invalid pool parameters")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
)

// ErrClockSkew means the clock ran behind a position's reward start. It is an
// invariant failure, never a rejection.
var ErrClockSkew = errors.New("clock behind reward start")

// IsRejection reports whether err is an expected, caller-recoverable outcome
// rather than an infrastructure or invariant failure
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrStakingNotStarted,
		ErrStakingEnded,
		ErrAlreadyStaked,
		ErrNothingStaked,
		ErrLockPeriodNotOver,
		ErrInsufficientRewardPool,
		ErrPoolNotFound,
		ErrPoolExists,
		ErrNotPoolOwner,
		ErrNotAuthorizedFunder,
		ErrInvalidAmount,
		ErrInvalidParams,
		ErrInvalidAddress,
		ledger.ErrInsufficientBalance,
		ledger.ErrUnauthorizedTransfer,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
