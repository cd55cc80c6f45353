package bonding

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Direction is the side of a swap from the trader's perspective.
type Direction uint8

const (
	// Buy pays quote tokens and receives base tokens.
	Buy Direction = iota + 1
	// Sell pays base tokens and receives quote tokens.
	Sell
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection maps BUY/SELL (case-insensitive) to a Direction.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return Buy, nil
	case "SELL":
		return Sell, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

const bpsDenominator = 10_000

var (
	ErrZeroInput             = errors.New("bonding: input amount must be positive")
	ErrInvalidReserves       = errors.New("bonding: reserves must be positive")
	ErrInvalidFee            = errors.New("bonding: fee bps above 10000")
	ErrInvalidDirection      = errors.New("bonding: invalid direction")
	ErrZeroOutput            = errors.New("bonding: swap output rounds to zero")
	ErrOverflow              = errors.New("bonding: arithmetic overflow")
	ErrInvalidSlippage       = errors.New("bonding: slippage bps above 10000")
	ErrInvalidAmount         = errors.New("bonding: amount must be a base-10 integer")
	ErrStaleQuote            = errors.New("bonding: quote snapshot is stale")
	ErrSlippageExceeded      = errors.New("bonding: output below minimum")
	ErrPoolNotLive           = errors.New("bonding: pool is not live")
	ErrPoolNotGraduating     = errors.New("bonding: pool is not graduating")
	ErrPoolNotFound          = errors.New("bonding: pool not found")
	ErrPoolExists            = errors.New("bonding: pool already exists")
	ErrInsufficientLiquidity = errors.New("bonding: pool lacks liquidity for output")
	ErrInsufficientBalance   = errors.New("bonding: trader balance too low")
	ErrNilState              = errors.New("bonding: state not configured")
)

// SwapResult is the outcome of a constant-product swap on virtual reserves.
type SwapResult struct {
	Direction     Direction
	Input         *uint256.Int
	Fee           *uint256.Int
	InputAfterFee *uint256.Int
	Output        *uint256.Int
	NewBase       *uint256.Int
	NewQuote      *uint256.Int
}

// Swap prices a trade against the virtual reserves. The fee is carved from
// the input; the remainder enters the pool and the output is the reserve
// released to keep base*quote at least k. The new opposing reserve is
// rounded up so the product never decreases.
func Swap(direction Direction, input, virtualBase, virtualQuote *uint256.Int, feeBps uint32) (SwapResult, error) {
	if direction != Buy && direction != Sell {
		return SwapResult{}, ErrInvalidDirection
	}
	if input == nil || input.IsZero() {
		return SwapResult{}, ErrZeroInput
	}
	if virtualBase == nil || virtualQuote == nil || virtualBase.IsZero() || virtualQuote.IsZero() {
		return SwapResult{}, ErrInvalidReserves
	}
	if feeBps > bpsDenominator {
		return SwapResult{}, ErrInvalidFee
	}

	fee, overflow := new(uint256.Int).MulDivOverflow(input, uint256.NewInt(uint64(feeBps)), uint256.NewInt(bpsDenominator))
	if overflow {
		return SwapResult{}, ErrOverflow
	}
	afterFee := new(uint256.Int).Sub(input, fee)
	k, overflow := new(uint256.Int).MulOverflow(virtualBase, virtualQuote)
	if overflow {
		return SwapResult{}, ErrOverflow
	}

	result := SwapResult{
		Direction:     direction,
		Input:         input.Clone(),
		Fee:           fee,
		InputAfterFee: afterFee,
	}
	switch direction {
	case Buy:
		newQuote, overflow := new(uint256.Int).AddOverflow(virtualQuote, afterFee)
		if overflow {
			return SwapResult{}, ErrOverflow
		}
		newBase := ceilDiv(k, newQuote)
		result.NewQuote = newQuote
		result.NewBase = newBase
		result.Output = new(uint256.Int).Sub(virtualBase, newBase)
	case Sell:
		newBase, overflow := new(uint256.Int).AddOverflow(virtualBase, afterFee)
		if overflow {
			return SwapResult{}, ErrOverflow
		}
		newQuote := ceilDiv(k, newBase)
		result.NewBase = newBase
		result.NewQuote = newQuote
		result.Output = new(uint256.Int).Sub(virtualQuote, newQuote)
	}
	if result.Output.IsZero() {
		return SwapResult{}, ErrZeroOutput
	}
	return result, nil
}

// MinimumOutput applies a slippage tolerance:
// output - output*slippageBps/10000.
func MinimumOutput(output *uint256.Int, slippageBps uint32) (*uint256.Int, error) {
	if slippageBps > bpsDenominator {
		return nil, ErrInvalidSlippage
	}
	cut, overflow := new(uint256.Int).MulDivOverflow(output, uint256.NewInt(uint64(slippageBps)), uint256.NewInt(bpsDenominator))
	if overflow {
		return nil, ErrOverflow
	}
	return new(uint256.Int).Sub(output, cut), nil
}

// GraduationStatus reports how close a pool is to its graduation threshold.
type GraduationStatus struct {
	ThresholdMet    bool
	ProgressPercent uint8
	Remaining       *uint256.Int
}

// CheckGraduationThreshold compares the real quote reserves with the
// threshold. Progress saturates at 100 and Remaining floors at zero.
func CheckGraduationThreshold(actualQuote, threshold *uint256.Int) GraduationStatus {
	actual := actualQuote
	if actual == nil {
		actual = new(uint256.Int)
	}
	if threshold == nil || threshold.IsZero() || !actual.Lt(threshold) {
		return GraduationStatus{ThresholdMet: true, ProgressPercent: 100, Remaining: new(uint256.Int)}
	}
	progress, overflow := new(uint256.Int).MulDivOverflow(actual, uint256.NewInt(100), threshold)
	percent := uint8(99)
	if !overflow && progress.Uint64() < 100 {
		percent = uint8(progress.Uint64())
	}
	return GraduationStatus{
		ThresholdMet:    false,
		ProgressPercent: percent,
		Remaining:       new(uint256.Int).Sub(threshold, actual),
	}
}

func ceilDiv(x, y *uint256.Int) *uint256.Int {
	quo, rem := new(uint256.Int).DivMod(x, y, new(uint256.Int))
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return quo
}
