// Package pricing holds the integer price arithmetic shared by every caller
// that sizes sale deposits or reports effective prices. Human price strings
// are parsed into exact decimals and all token amounts stay in smallest units.
package pricing

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// EffectivePricePrecision is the number of fractional digits kept when a
// price is derived from two integer totals.
const EffectivePricePrecision = 18

var (
	ErrInvalidPrice  = errors.New("pricing: price must be a positive decimal")
	ErrInvalidAmount = errors.New("pricing: amount must be non-negative")
	ErrZeroSupply    = errors.New("pricing: token supply must be positive")
)

var ten = big.NewInt(10)

// ParsePrice parses a human price (whole quote units per whole sale token).
func ParsePrice(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, ErrInvalidPrice
	}
	price, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if !price.IsPositive() {
		return decimal.Decimal{}, ErrInvalidPrice
	}
	return price, nil
}

// RequiredTokens returns the smallest-unit sale token amount needed to
// cover raise (smallest quote units) at the given price:
//
//	ceil(raise * 10^tokenDecimals / (price * 10^quoteDecimals))
//
// Rounding is always up so the escrowed supply never falls short.
func RequiredTokens(raise *big.Int, price decimal.Decimal, quoteDecimals, tokenDecimals uint8) (*big.Int, error) {
	if raise == nil || raise.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	num := new(big.Int).Mul(raise, pow10(int(tokenDecimals)))
	den := new(big.Int).Set(price.Coefficient())
	exp := int(price.Exponent()) + int(quoteDecimals)
	if exp >= 0 {
		den.Mul(den, pow10(exp))
	} else {
		num.Mul(num, pow10(-exp))
	}
	return CeilDiv(num, den), nil
}

// CeilDiv returns ceil(a/b) for non-negative a and positive b.
func CeilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// EffectivePrice derives the uniform fairlaunch price from the final totals,
// expressed in whole quote units per whole sale token.
func EffectivePrice(totalRaised, tokensForSale *big.Int, quoteDecimals, tokenDecimals uint8) (decimal.Decimal, error) {
	if totalRaised == nil || totalRaised.Sign() < 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}
	if tokensForSale == nil || tokensForSale.Sign() <= 0 {
		return decimal.Decimal{}, ErrZeroSupply
	}
	raised := decimal.NewFromBigInt(totalRaised, -int32(quoteDecimals))
	supply := decimal.NewFromBigInt(tokensForSale, -int32(tokenDecimals))
	return raised.DivRound(supply, EffectivePricePrecision), nil
}

// FormatUnits renders a smallest-unit amount as a decimal string.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a human amount into smallest units, rejecting values
// with more fractional digits than decimals allows.
func ParseUnits(raw string, decimals uint8) (*big.Int, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if value.IsNegative() {
		return nil, ErrInvalidAmount
	}
	scaled := value.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, raw, decimals)
	}
	return scaled.BigInt(), nil
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(ten, big.NewInt(int64(n)), nil)
}
