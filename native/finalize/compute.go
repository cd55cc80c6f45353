package finalize

import (
	"fmt"
	"math/big"

	"launchpad/native/fees"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

// Input is everything Compute needs to settle a round. Contributions are
// aggregated per contributor in order of first contribution.
type Input struct {
	Status        Status
	TotalRaised   *big.Int
	TokensForSale *big.Int
	Hardcap       *big.Int
	Contributions []sale.ContributorTotal
	EscrowBalance *big.Int
	FeeProfile    fees.Profile
	SaleFeeBps    uint32
}

// Compute derives the settlement amounts for in. It is pure: the same input
// always produces the same result.
//
// On success the fee is total_raised*sale_fee_bps/10000 split by the fee
// profile, and the owner receives the rest. Unsold tokens of a capped round
// that missed its hardcap are burned as
// floor(tokens_for_sale*(hardcap-total_raised)/hardcap); the remainder funds
// vesting and is divided pro rata with the last contributor absorbing the
// rounding remainder. Failed and cancelled rounds refund every contribution
// in full and return the whole deposit.
func Compute(in Input) (*Result, error) {
	if in.Status != StatusSuccess && in.Status != StatusFailed && in.Status != StatusCancelled {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidInput, in.Status)
	}
	total := cloneBig(in.TotalRaised)
	escrowBalance := cloneBig(in.EscrowBalance)
	if total.Sign() < 0 || escrowBalance.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative amount", ErrInvalidInput)
	}
	sum := big.NewInt(0)
	for _, c := range in.Contributions {
		if c.Amount == nil || c.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: non-positive contribution", ErrInvalidInput)
		}
		sum.Add(sum, c.Amount)
	}
	if sum.Cmp(total) != 0 {
		return nil, fmt.Errorf("%w: contributions sum to %s, total raised %s", ErrInvalidInput, sum, total)
	}

	result := &Result{
		Status:              in.Status,
		TotalRaised:         total,
		TokensForSale:       cloneBig(in.TokensForSale),
		NetPayout:           big.NewInt(0),
		FeeTotal:            big.NewInt(0),
		FeeShares:           fees.Shares{},
		BurnAmount:          big.NewInt(0),
		VestingFundedAmount: big.NewInt(0),
		DepositReturned:     escrowBalance,
	}
	if in.Status != StatusSuccess {
		result.Refunds = make([]sale.ContributorTotal, len(in.Contributions))
		for i, c := range in.Contributions {
			result.Refunds[i] = sale.ContributorTotal{Contributor: c.Contributor, Amount: cloneBig(c.Amount)}
		}
		return result, nil
	}

	tokensForSale := result.TokensForSale
	if total.Sign() == 0 || tokensForSale.Sign() <= 0 {
		return nil, fmt.Errorf("%w: success requires positive raise and supply", ErrInvalidInput)
	}
	if in.SaleFeeBps > fees.BpsDenominator {
		return nil, fmt.Errorf("%w: sale fee bps %d", ErrInvalidInput, in.SaleFeeBps)
	}

	applied := fees.Apply(total, in.SaleFeeBps)
	shares, err := fees.Split(in.FeeProfile, applied.Fee)
	if err != nil {
		return nil, err
	}
	result.FeeTotal = applied.Fee
	result.FeeShares = shares
	result.NetPayout = applied.Net

	if in.Hardcap != nil && in.Hardcap.Sign() > 0 && total.Cmp(in.Hardcap) < 0 {
		unsold := new(big.Int).Sub(in.Hardcap, total)
		burn := new(big.Int).Mul(tokensForSale, unsold)
		result.BurnAmount = burn.Quo(burn, in.Hardcap)
	}
	result.VestingFundedAmount = new(big.Int).Sub(tokensForSale, result.BurnAmount)
	result.Entitlements = Entitlements(result.VestingFundedAmount, in.Contributions, total)
	result.DepositReturned = new(big.Int).Sub(escrowBalance, tokensForSale)
	if result.DepositReturned.Sign() < 0 {
		result.DepositReturned = big.NewInt(0)
	}
	return result, nil
}

// Entitlements divides funded across contributions pro rata:
// floor(funded*amount/total) each, with the remainder assigned to the last
// contributor so the entitlements sum to funded exactly.
func Entitlements(funded *big.Int, contributions []sale.ContributorTotal, total *big.Int) []vesting.Entitlement {
	out := make([]vesting.Entitlement, len(contributions))
	if len(contributions) == 0 || total == nil || total.Sign() == 0 {
		return out[:0]
	}
	allocated := big.NewInt(0)
	last := len(contributions) - 1
	for i, c := range contributions {
		var amount *big.Int
		if i == last {
			amount = new(big.Int).Sub(funded, allocated)
		} else {
			amount = new(big.Int).Mul(funded, c.Amount)
			amount.Quo(amount, total)
			allocated.Add(allocated, amount)
		}
		out[i] = vesting.Entitlement{Beneficiary: c.Contributor, Amount: amount}
	}
	return out
}
