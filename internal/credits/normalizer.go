// Package credits converts payment-processor monetary amounts into the
// internal credit unit the ledger accounts in.
package credits

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrNegativeAmount rejects processor amounts below zero. A refund or
// adjustment is not a top-up; silently negating it would corrupt the sign
// discipline of the ledger.
var ErrNegativeAmount = errors.New("amount must be non-negative")

// The fixed exchange rate: processor amounts arrive in integer minor
// currency units (cents), one credit equals one major currency unit, and
// credit quantities carry two fractional digits rounded half-to-even.
const (
	minorUnitsPerMajor = 100
	creditScale        = 2
)

var minorPerMajor = decimal.NewFromInt(minorUnitsPerMajor)

// Normalize converts an amount in integer minor currency units into an
// exact decimal credit quantity. Pure; rejects negative input.
func Normalize(minorUnits int64) (decimal.Decimal, error) {
	if minorUnits < 0 {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrNegativeAmount, minorUnits)
	}
	major := decimal.NewFromInt(minorUnits).Div(minorPerMajor)
	return major.RoundBank(creditScale), nil
}

// MajorUnits reports the major-currency value of a minor-unit amount, kept
// alongside normalized credits in audit metadata.
func MajorUnits(minorUnits int64) decimal.Decimal {
	return decimal.NewFromInt(minorUnits).Div(minorPerMajor)
}
