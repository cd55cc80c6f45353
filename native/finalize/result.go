package finalize

import (
	"errors"
	"math/big"

	"launchpad/native/fees"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

// Status is the terminal outcome recorded for a round.
type Status uint8

const (
	StatusSuccess Status = iota + 1
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// DefaultSaleFeeBps is the protocol fee charged on a successful raise.
const DefaultSaleFeeBps uint32 = 500

var (
	ErrReconciliation    = errors.New("finalize: reconciliation failed")
	ErrInvalidInput      = errors.New("finalize: invalid input")
	ErrOutcomeMismatch   = errors.New("finalize: round does not qualify for requested outcome")
	ErrNoTransactor      = errors.New("finalize: transactor not configured")
	ErrDepositMissing    = errors.New("finalize: escrow deposit missing for project")
	ErrNotCancelled      = errors.New("finalize: round is not cancelled")
	ErrInconsistentRound = errors.New("finalize: round is terminal but has no stored result")
)

// Result is the immutable settlement outcome of a round. Amounts are in the
// smallest unit of their asset: fee, payout and refunds in the quote token;
// burn, vesting and returned deposit in the sale token.
type Result struct {
	RoundID             [32]byte
	Status              Status
	Reason              string
	TotalRaised         *big.Int
	TokensForSale       *big.Int
	NetPayout           *big.Int
	FeeTotal            *big.Int
	FeeShares           fees.Shares
	BurnAmount          *big.Int
	VestingFundedAmount *big.Int
	DepositReturned     *big.Int
	Entitlements        []vesting.Entitlement
	Refunds             []sale.ContributorTotal
	MerkleRoot          [32]byte
	ScheduleID          [32]byte
	EffectivePrice      string
	FinalizedAt         int64
}

// Clone returns a deep copy of the result.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.TotalRaised = cloneBig(r.TotalRaised)
	out.TokensForSale = cloneBig(r.TokensForSale)
	out.NetPayout = cloneBig(r.NetPayout)
	out.FeeTotal = cloneBig(r.FeeTotal)
	out.FeeShares = r.FeeShares.Clone()
	out.BurnAmount = cloneBig(r.BurnAmount)
	out.VestingFundedAmount = cloneBig(r.VestingFundedAmount)
	out.DepositReturned = cloneBig(r.DepositReturned)
	out.Entitlements = make([]vesting.Entitlement, len(r.Entitlements))
	for i, ent := range r.Entitlements {
		out.Entitlements[i] = vesting.Entitlement{Beneficiary: ent.Beneficiary, Amount: cloneBig(ent.Amount)}
	}
	out.Refunds = make([]sale.ContributorTotal, len(r.Refunds))
	for i, refund := range r.Refunds {
		out.Refunds[i] = sale.ContributorTotal{Contributor: refund.Contributor, Amount: cloneBig(refund.Amount)}
	}
	return &out
}

// Entitlement returns the beneficiary's vesting entitlement, or zero.
func (r *Result) Entitlement(beneficiary [20]byte) *big.Int {
	for _, ent := range r.Entitlements {
		if ent.Beneficiary == beneficiary {
			return cloneBig(ent.Amount)
		}
	}
	return big.NewInt(0)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
