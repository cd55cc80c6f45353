package bonding

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Snapshot identifies the reserve state a quote was priced on. Values are
// base-10 integer strings.
type Snapshot struct {
	VirtualBase  string `json:"virtualBase"`
	VirtualQuote string `json:"virtualQuote"`
}

// QuoteRequest is the client-facing quote input.
type QuoteRequest struct {
	Direction   string `json:"direction"`
	InputAmount string `json:"inputAmount"`
	SlippageBps uint32 `json:"slippageBps"`
}

// QuoteResponse carries every amount as a base-10 integer string.
type QuoteResponse struct {
	Direction     string   `json:"direction"`
	InputAmount   string   `json:"inputAmount"`
	OutputAmount  string   `json:"outputAmount"`
	MinimumOutput string   `json:"minimumOutput"`
	FeeTotal      string   `json:"feeTotal"`
	Snapshot      Snapshot `json:"snapshot"`
}

// ParseAmount decodes a non-negative base-10 integer string.
func ParseAmount(raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "+") || strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return value, nil
}

// Quote prices req against the pool's current reserves without mutating it.
func Quote(pool *Pool, req QuoteRequest) (QuoteResponse, error) {
	if pool == nil {
		return QuoteResponse{}, ErrPoolNotFound
	}
	direction, err := ParseDirection(req.Direction)
	if err != nil {
		return QuoteResponse{}, err
	}
	if req.SlippageBps > bpsDenominator {
		return QuoteResponse{}, ErrInvalidSlippage
	}
	input, err := ParseAmount(req.InputAmount)
	if err != nil {
		return QuoteResponse{}, err
	}
	result, err := Swap(direction, input, pool.VirtualBase, pool.VirtualQuote, pool.FeeBps)
	if err != nil {
		return QuoteResponse{}, err
	}
	minimum, err := MinimumOutput(result.Output, req.SlippageBps)
	if err != nil {
		return QuoteResponse{}, err
	}
	return QuoteResponse{
		Direction:     direction.String(),
		InputAmount:   input.Dec(),
		OutputAmount:  result.Output.Dec(),
		MinimumOutput: minimum.Dec(),
		FeeTotal:      result.Fee.Dec(),
		Snapshot:      pool.Snapshot(),
	}, nil
}
