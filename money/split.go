package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount signals a sale amount below zero.
	ErrNegativeAmount = errors.New("money: negative amount")
	// ErrInvalidFeePercent signals a fee percent outside [0,100].
	ErrInvalidFeePercent = errors.New("money: fee percent out of range")
)

var hundred = decimal.NewFromInt(100)

// Split divides a sale amount (smallest currency unit) into the platform fee
// and the seller net. The fee is amount*feePercent/100 rounded half-up to the
// unit; the net is the remainder, so fee+net always equals amount exactly.
func Split(amount int64, feePercent decimal.Decimal) (fee int64, net int64, err error) {
	if amount < 0 {
		return 0, 0, ErrNegativeAmount
	}
	if feePercent.IsNegative() || feePercent.GreaterThan(hundred) {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidFeePercent, feePercent)
	}

	fee = decimal.NewFromInt(amount).
		Mul(feePercent).
		Div(hundred).
		Round(0).
		IntPart()
	net = amount - fee
	return fee, net, nil
}

// MustPercent parses a fee percent from its stored text form. It panics on
// malformed input and is intended for values read back from the database,
// where the column type already guarantees a valid numeric.
func MustPercent(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("money: parse percent %q: %v", s, err))
	}
	return d
}
