// Package reward computes simple interest accrued by a staked principal.
package reward

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/holiman/uint256"
)

const (
	// SecondsPerYear is the accrual year: 365 days, no leap handling
	SecondsPerYear = 31_536_000

	// PercentDenominator turns the whole-percent APY into a fraction
	PercentDenominator = 100
)

// ErrOverflow is returned when a result does not fit the 64-bit amount type
var ErrOverflow = errors.New("arithmetic overflow")

var (
	secondsPerYear = uint256.NewInt(SecondsPerYear)
	percent        = uint256.NewInt(PercentDenominator)
)

// Calculate returns the reward accrued by principal at apy percent per year
// over [from, to):
//
//	floor(floor(principal*apy/100) * (to-from) / SecondsPerYear)
//
// Intermediates are 256 bits wide. A window with to < from is a caller bug
// and panics.
func Calculate(principal, apy uint64, from, to int64) (uint64, error) {
	if to < from {
		panic(fmt.Sprintf("reward: window end %d precedes start %d", to, from))
	}
	// two's complement difference is exact once to >= from
	elapsed := uint64(to) - uint64(from)

	yearly := new(uint256.Int).Mul(uint256.NewInt(principal), uint256.NewInt(apy))
	yearly.Div(yearly, percent)

	accrued, overflow := new(uint256.Int).MulOverflow(yearly, uint256.NewInt(elapsed))
	if overflow {
		return 0, ErrOverflow
	}
	accrued.Div(accrued, secondsPerYear)

	if !accrued.IsUint64() {
		return 0, ErrOverflow
	}
	return accrued.Uint64(), nil
}

// Add returns a+b or ErrOverflow
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Sub returns a-b or ErrOverflow when b > a
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}
