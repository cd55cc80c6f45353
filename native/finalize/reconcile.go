package finalize

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// ReconciliationError reports every invariant a result violated, together
// with the amounts that were compared. It is fatal and never retried.
type ReconciliationError struct {
	RoundID    [32]byte
	Violations []string
	Breakdown  map[string]string
}

func (e *ReconciliationError) Error() string {
	keys := sortedKeys(e.Breakdown)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+e.Breakdown[k])
	}
	return fmt.Sprintf("%s: %s [%s]", ErrReconciliation, strings.Join(e.Violations, "; "), strings.Join(parts, " "))
}

func (e *ReconciliationError) Unwrap() error { return ErrReconciliation }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type reconciler struct {
	violations []string
}

func (r *reconciler) equal(name string, got, want *big.Int) {
	if cloneBig(got).Cmp(cloneBig(want)) != 0 {
		r.violations = append(r.violations, fmt.Sprintf("%s: %s != %s", name, cloneBig(got), cloneBig(want)))
	}
}

func (r *reconciler) check(ok bool, format string, args ...any) {
	if !ok {
		r.violations = append(r.violations, fmt.Sprintf(format, args...))
	}
}

// Reconcile verifies result against in before anything is committed.
//
// Success requires vesting+burn == tokens_for_sale, fee == Σ fee shares,
// net+fee == total_raised, Σ entitlements == vesting and an escrow balance
// covering tokens_for_sale. Failed and cancelled results must move no fee,
// payout, burn or vesting and must refund each contribution exactly.
func Reconcile(in Input, result *Result) error {
	if result == nil {
		return &ReconciliationError{Violations: []string{"missing result"}}
	}
	r := &reconciler{}
	r.check(result.Status == in.Status, "status %s != %s", result.Status, in.Status)
	r.equal("total_raised", result.TotalRaised, in.TotalRaised)
	for _, amount := range []*big.Int{result.NetPayout, result.FeeTotal, result.BurnAmount, result.VestingFundedAmount, result.DepositReturned} {
		r.check(cloneBig(amount).Sign() >= 0, "negative settlement amount")
	}

	switch result.Status {
	case StatusSuccess:
		tokensForSale := cloneBig(in.TokensForSale)
		r.equal("vesting+burn", new(big.Int).Add(cloneBig(result.VestingFundedAmount), cloneBig(result.BurnAmount)), tokensForSale)
		r.equal("fee_shares", result.FeeShares.Total(), result.FeeTotal)
		r.equal("net+fee", new(big.Int).Add(cloneBig(result.NetPayout), cloneBig(result.FeeTotal)), in.TotalRaised)
		entitled := big.NewInt(0)
		for _, ent := range result.Entitlements {
			r.check(cloneBig(ent.Amount).Sign() >= 0, "negative entitlement for %x", ent.Beneficiary)
			entitled.Add(entitled, cloneBig(ent.Amount))
		}
		r.equal("entitlements", entitled, result.VestingFundedAmount)
		r.check(len(result.Entitlements) == len(in.Contributions), "entitlement count %d != contributors %d", len(result.Entitlements), len(in.Contributions))
		escrowBalance := cloneBig(in.EscrowBalance)
		r.check(escrowBalance.Cmp(tokensForSale) >= 0, "escrow balance %s below tokens_for_sale %s", escrowBalance, tokensForSale)
		if escrowBalance.Cmp(tokensForSale) >= 0 {
			r.equal("deposit_returned", result.DepositReturned, new(big.Int).Sub(escrowBalance, tokensForSale))
		}
		r.check(len(result.Refunds) == 0, "success must not refund contributions")
	case StatusFailed, StatusCancelled:
		r.equal("fee_total", result.FeeTotal, nil)
		r.equal("net_payout", result.NetPayout, nil)
		r.equal("burn", result.BurnAmount, nil)
		r.equal("vesting", result.VestingFundedAmount, nil)
		r.equal("deposit_returned", result.DepositReturned, in.EscrowBalance)
		r.check(len(result.Entitlements) == 0, "refund path must not create entitlements")
		r.check(len(result.Refunds) == len(in.Contributions), "refund count %d != contributors %d", len(result.Refunds), len(in.Contributions))
		refunded := big.NewInt(0)
		for i, refund := range result.Refunds {
			if i < len(in.Contributions) {
				r.check(refund.Contributor == in.Contributions[i].Contributor, "refund %d addressed to wrong contributor", i)
				r.equal(fmt.Sprintf("refund[%d]", i), refund.Amount, in.Contributions[i].Amount)
			}
			refunded.Add(refunded, cloneBig(refund.Amount))
		}
		r.equal("refunds", refunded, in.TotalRaised)
	default:
		r.check(false, "unknown status %d", result.Status)
	}

	if len(r.violations) == 0 {
		return nil
	}
	return &ReconciliationError{
		RoundID:    result.RoundID,
		Violations: r.violations,
		Breakdown:  Breakdown(result),
	}
}

// Breakdown renders the result's amounts as decimal strings.
func Breakdown(result *Result) map[string]string {
	out := map[string]string{
		"status":          result.Status.String(),
		"totalRaised":     cloneBig(result.TotalRaised).String(),
		"tokensForSale":   cloneBig(result.TokensForSale).String(),
		"netPayout":       cloneBig(result.NetPayout).String(),
		"feeTotal":        cloneBig(result.FeeTotal).String(),
		"burn":            cloneBig(result.BurnAmount).String(),
		"vestingFunded":   cloneBig(result.VestingFundedAmount).String(),
		"depositReturned": cloneBig(result.DepositReturned).String(),
	}
	for _, share := range result.FeeShares {
		out["fee."+share.Name] = cloneBig(share.Amount).String()
	}
	return out
}
