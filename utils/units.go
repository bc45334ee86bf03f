package utils

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ToMajorUnits converts an amount in the smallest unit (wei, stroop, sun)
// into the display unit.
func ToMajorUnits(minor *big.Int, decimals int32) decimal.Decimal {
	if minor == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(minor, -decimals)
}

// ToMinorUnits converts a display amount into the smallest unit. Amounts
// finer than one minor unit are rejected rather than rounded.
func ToMinorUnits(major decimal.Decimal, decimals int32) (*big.Int, error) {
	if major.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	scaled := major.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", major.String(), decimals)
	}

	return scaled.BigInt(), nil
}
