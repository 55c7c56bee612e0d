// Package units converts human decimal amounts into on-chain atomic units.
//
// The same conversion is used when asking for a payment and when checking
// one, so both sides agree to the last lamport or micro-USDC.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sigweihq/knowpay/pkg/constants"
)

// ToAtomic converts amount into an integer count of atomic units for an asset
// with the given number of decimals. The amount is formatted as fixed-point
// with exactly decimals fractional digits (half away from zero), then the
// digits are concatenated and parsed as an integer.
func ToAtomic(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, fmt.Errorf("invalid decimals: %d", decimals)
	}
	if amount.IsNegative() {
		return nil, fmt.Errorf("negative amount: %s", amount.String())
	}

	fixed := amount.StringFixed(decimals)
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	atomic, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse atomic amount %q", fixed)
	}
	return atomic, nil
}

// MustToAtomic is ToAtomic for amounts known to be valid (tests, constants)
func MustToAtomic(amount decimal.Decimal, decimals int32) *big.Int {
	v, err := ToAtomic(amount, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FromAtomic converts an atomic amount back into a decimal
func FromAtomic(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

// SplitFee splits total into the protocol fee and the seller's share using
// net = floor(total * (10000 - bps) / 10000) and fee = total - net.
func SplitFee(total *big.Int, bps int) (fee, net *big.Int, err error) {
	if bps < 0 || bps > constants.BasisPointsDenominator {
		return nil, nil, fmt.Errorf("fee basis points out of range: %d", bps)
	}
	if total.Sign() < 0 {
		return nil, nil, fmt.Errorf("negative total: %s", total.String())
	}

	denom := big.NewInt(constants.BasisPointsDenominator)
	net = new(big.Int).Mul(total, big.NewInt(int64(constants.BasisPointsDenominator-bps)))
	net.Quo(net, denom)
	fee = new(big.Int).Sub(total, net)
	return fee, net, nil
}

// Tolerance returns the verification slack allowed below v
func Tolerance(v *big.Int) *big.Int {
	t := new(big.Int).Mul(v, big.NewInt(constants.VerificationToleranceBps))
	return t.Quo(t, big.NewInt(constants.BasisPointsDenominator))
}

// WithinTolerance reports whether received covers expected minus the tolerance band
func WithinTolerance(received, expected *big.Int) bool {
	if received == nil || expected == nil {
		return false
	}
	minimum := new(big.Int).Sub(expected, Tolerance(expected))
	return received.Cmp(minimum) >= 0
}
