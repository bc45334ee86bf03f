// Package mapper converts the per-chain contract representations of a payment
// request into types.Transaction. Every function here is pure.
package mapper

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/vitwit/payterm/types"
)

// ErrPaidAndCancelled is reported when a contract returns a transaction with
// both terminal flags set.
var ErrPaidAndCancelled = errors.New("transaction is both paid and cancelled")

// IsSentinelID reports whether id denotes "no active transaction": empty,
// zero, negative or not a base 10 integer.
func IsSentinelID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return true
	}
	n, ok := new(big.Int).SetString(id, 10)
	if !ok {
		return true
	}
	return n.Sign() <= 0
}

// Normalize returns nil for a missing or sentinel transaction.
func Normalize(tx *types.Transaction) *types.Transaction {
	if tx == nil || IsSentinelID(tx.ID) {
		return nil
	}
	return tx
}

// CheckInvariants validates the flags of a mapped transaction. Callers log
// the error and still surface the transaction.
func CheckInvariants(tx *types.Transaction) error {
	if tx == nil {
		return nil
	}
	if tx.Paid && tx.Cancelled {
		return fmt.Errorf("transaction %s: %w", tx.ID, ErrPaidAndCancelled)
	}
	return nil
}

func secondsToMillis(seconds *big.Int) int64 {
	if seconds == nil || !seconds.IsInt64() {
		return 0
	}
	return seconds.Int64() * 1000
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
