package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed fractional precision of ANM amounts. All ledger
// arithmetic is carried out on *big.Int base units of 10^-Decimals ANM so
// that no operation ever loses precision.
const Decimals = 8

// TotalSupplyTokens is the fixed total supply of ANM in whole tokens.
const TotalSupplyTokens = 10_000_000

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// Unit returns one whole ANM expressed in base units.
func Unit() *big.Int { return new(big.Int).Set(unit) }

// Tokens converts a whole-token count into base units.
func Tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), unit)
}

// TotalSupply returns the fixed total supply in base units.
func TotalSupply() *big.Int { return Tokens(TotalSupplyTokens) }

// ParseAmount converts a decimal string such as "12.5" into base units. The
// input must not carry more than Decimals fractional digits and must not be
// negative.
func ParseAmount(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("types: invalid amount %q: %w", s, err)
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("types: amount %q must not be negative", s)
	}
	shifted := d.Shift(Decimals)
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("types: amount %q exceeds %d decimal places", s, Decimals)
	}
	return shifted.BigInt(), nil
}

// FormatAmount renders base units as a decimal token string.
func FormatAmount(a *big.Int) string {
	if a == nil {
		return "0"
	}
	return decimal.NewFromBigInt(a, -Decimals).String()
}

// ToDecimal exposes base units as a whole-token decimal for fractional math
// (APY accrual, cost multipliers). Callers quantise back via FromDecimal.
func ToDecimal(a *big.Int) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a, -Decimals)
}

// FromDecimal quantises a whole-token decimal to ledger precision and returns
// the result in base units.
func FromDecimal(d decimal.Decimal) *big.Int {
	return d.Round(Decimals).Shift(Decimals).BigInt()
}

// TokensFloat returns the whole-token value as a float64. Used only where a
// transcendental function is applied (priority scoring), never for ledger
// arithmetic.
func TokensFloat(a *big.Int) float64 {
	f, _ := ToDecimal(a).Float64()
	return f
}

// MulBps multiplies an amount by a basis-point rate, truncating toward zero.
func MulBps(a *big.Int, bps uint64) *big.Int {
	if a == nil || a.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(a, new(big.Int).SetUint64(bps))
	return out.Div(out, big.NewInt(10_000))
}

// Percent applies a whole-number percentage to an amount, truncating.
func Percent(a *big.Int, pct uint64) *big.Int {
	return MulBps(a, pct*100)
}
