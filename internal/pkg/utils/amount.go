package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FromBaseUnits converts an integer amount in base units to a decimal with the given decimals.
// Example: amount=1234500000, decimals=9 => 1.2345
func FromBaseUnits(amount uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals))
}

// ParseBaseUnits parses a base unit amount string, as returned by the ledger, into a decimal.
func ParseBaseUnits(amount string, decimals uint8) (decimal.Decimal, error) {
	raw, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid base unit amount %q: %w", amount, err)
	}
	if !raw.IsInteger() || raw.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid base unit amount %q: not a non-negative integer", amount)
	}
	return raw.Shift(-int32(decimals)), nil
}
