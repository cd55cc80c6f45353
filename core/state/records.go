package state

import (
	"math/big"

	"github.com/holiman/uint256"

	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/fees"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

// Stored records mirror the engine types in an RLP-encodable shape:
// timestamps and durations become uint64 and nullable amounts carry an
// explicit presence flag.

type storedDeposit struct {
	ProjectID [32]byte
	Token     string
	Amount    *big.Int
	Depositor [20]byte
	Released  bool
	Refunded  bool
	CreatedAt uint64
}

func newStoredDeposit(d *escrow.Deposit) *storedDeposit {
	return &storedDeposit{
		ProjectID: d.ProjectID,
		Token:     d.Token,
		Amount:    bigOrZero(d.Amount),
		Depositor: d.Depositor,
		Released:  d.Released,
		Refunded:  d.Refunded,
		CreatedAt: uint64(d.CreatedAt),
	}
}

func (s *storedDeposit) deposit() *escrow.Deposit {
	return &escrow.Deposit{
		ProjectID: s.ProjectID,
		Token:     s.Token,
		Amount:    bigOrZero(s.Amount),
		Depositor: s.Depositor,
		Released:  s.Released,
		Refunded:  s.Refunded,
		CreatedAt: int64(s.CreatedAt),
	}
}

type storedRound struct {
	ID               [32]byte
	Kind             uint8
	Owner            [20]byte
	ProjectID        [32]byte
	QuoteToken       string
	SaleToken        string
	QuoteDecimals    uint8
	TokenDecimals    uint8
	Softcap          *big.Int
	Capped           bool
	Hardcap          *big.Int
	MinContribution  *big.Int
	MaxContribution  *big.Int
	StartTime        uint64
	EndTime          uint64
	TokensForSale    *big.Int
	Price            string
	FeeProfile       string
	TotalRaised      *big.Int
	ContributorCount uint64
	EndedEarly       bool
	Phase            uint8
	Refunded         bool
	UpdatedAt        uint64
}

func newStoredRound(r *sale.Round) *storedRound {
	return &storedRound{
		ID:               r.ID,
		Kind:             uint8(r.Kind),
		Owner:            r.Owner,
		ProjectID:        r.ProjectID,
		QuoteToken:       r.QuoteToken,
		SaleToken:        r.SaleToken,
		QuoteDecimals:    r.QuoteDecimals,
		TokenDecimals:    r.TokenDecimals,
		Softcap:          bigOrZero(r.Softcap),
		Capped:           r.Hardcap != nil,
		Hardcap:          bigOrZero(r.Hardcap),
		MinContribution:  bigOrZero(r.MinContribution),
		MaxContribution:  bigOrZero(r.MaxContribution),
		StartTime:        uint64(r.StartTime),
		EndTime:          uint64(r.EndTime),
		TokensForSale:    bigOrZero(r.TokensForSale),
		Price:            r.Price,
		FeeProfile:       r.FeeProfile,
		TotalRaised:      bigOrZero(r.TotalRaised),
		ContributorCount: r.ContributorCount,
		EndedEarly:       r.EndedEarly,
		Phase:            uint8(r.Phase),
		Refunded:         r.Refunded,
		UpdatedAt:        uint64(r.UpdatedAt),
	}
}

func (s *storedRound) round() *sale.Round {
	r := &sale.Round{
		ID:               s.ID,
		Kind:             sale.Kind(s.Kind),
		Owner:            s.Owner,
		ProjectID:        s.ProjectID,
		QuoteToken:       s.QuoteToken,
		SaleToken:        s.SaleToken,
		QuoteDecimals:    s.QuoteDecimals,
		TokenDecimals:    s.TokenDecimals,
		Softcap:          bigOrZero(s.Softcap),
		MinContribution:  bigOrZero(s.MinContribution),
		MaxContribution:  bigOrZero(s.MaxContribution),
		StartTime:        int64(s.StartTime),
		EndTime:          int64(s.EndTime),
		TokensForSale:    bigOrZero(s.TokensForSale),
		Price:            s.Price,
		FeeProfile:       s.FeeProfile,
		TotalRaised:      bigOrZero(s.TotalRaised),
		ContributorCount: s.ContributorCount,
		EndedEarly:       s.EndedEarly,
		Phase:            sale.Status(s.Phase),
		Refunded:         s.Refunded,
		UpdatedAt:        int64(s.UpdatedAt),
	}
	if s.Capped {
		r.Hardcap = bigOrZero(s.Hardcap)
	}
	return r
}

type storedContribution struct {
	Contributor [20]byte
	Amount      *big.Int
	Timestamp   uint64
}

type storedQuota struct {
	ReqCount   uint32
	AmountUsed *big.Int
	EpochID    uint64
}

type storedSchedule struct {
	ID              [32]byte
	RoundID         [32]byte
	Token           string
	TotalTokens     *big.Int
	TGEPercentage   uint8
	TGEAt           uint64
	CliffDuration   uint64
	VestingDuration uint64
	Interval        uint8
	MerkleRoot      [32]byte
	Salt            [32]byte
	ChainID         uint64
	Contract        [20]byte
	Paused          bool
	TotalClaimed    *big.Int
	CreatedAt       uint64
}

func newStoredSchedule(s *vesting.Schedule) *storedSchedule {
	return &storedSchedule{
		ID:              s.ID,
		RoundID:         s.RoundID,
		Token:           s.Token,
		TotalTokens:     bigOrZero(s.TotalTokens),
		TGEPercentage:   s.TGEPercentage,
		TGEAt:           uint64(s.TGEAt),
		CliffDuration:   uint64(s.CliffDuration),
		VestingDuration: uint64(s.VestingDuration),
		Interval:        uint8(s.Interval),
		MerkleRoot:      s.MerkleRoot,
		Salt:            s.Salt,
		ChainID:         s.ChainID,
		Contract:        s.Contract,
		Paused:          s.Paused,
		TotalClaimed:    bigOrZero(s.TotalClaimed),
		CreatedAt:       uint64(s.CreatedAt),
	}
}

func (s *storedSchedule) schedule() *vesting.Schedule {
	return &vesting.Schedule{
		ID:              s.ID,
		RoundID:         s.RoundID,
		Token:           s.Token,
		TotalTokens:     bigOrZero(s.TotalTokens),
		TGEPercentage:   s.TGEPercentage,
		TGEAt:           int64(s.TGEAt),
		CliffDuration:   int64(s.CliffDuration),
		VestingDuration: int64(s.VestingDuration),
		Interval:        vesting.IntervalType(s.Interval),
		MerkleRoot:      s.MerkleRoot,
		Salt:            s.Salt,
		ChainID:         s.ChainID,
		Contract:        s.Contract,
		Paused:          s.Paused,
		TotalClaimed:    bigOrZero(s.TotalClaimed),
		CreatedAt:       int64(s.CreatedAt),
	}
}

type storedPool struct {
	ID                  [32]byte
	Creator             [20]byte
	BaseToken           string
	QuoteToken          string
	VirtualBase         *uint256.Int
	VirtualQuote        *uint256.Int
	RealBase            *uint256.Int
	ActualQuote         *uint256.Int
	GraduationThreshold *uint256.Int
	FeeBps              uint32
	FeeProfile          string
	Status              uint8
	CreatedAt           uint64
	UpdatedAt           uint64
}

func newStoredPool(p *bonding.Pool) *storedPool {
	c := p.Clone()
	return &storedPool{
		ID:                  c.ID,
		Creator:             c.Creator,
		BaseToken:           c.BaseToken,
		QuoteToken:          c.QuoteToken,
		VirtualBase:         c.VirtualBase,
		VirtualQuote:        c.VirtualQuote,
		RealBase:            c.RealBase,
		ActualQuote:         c.ActualQuote,
		GraduationThreshold: c.GraduationThreshold,
		FeeBps:              c.FeeBps,
		FeeProfile:          c.FeeProfile,
		Status:              uint8(c.Status),
		CreatedAt:           uint64(c.CreatedAt),
		UpdatedAt:           uint64(c.UpdatedAt),
	}
}

func (s *storedPool) pool() *bonding.Pool {
	p := &bonding.Pool{
		ID:                  s.ID,
		Creator:             s.Creator,
		BaseToken:           s.BaseToken,
		QuoteToken:          s.QuoteToken,
		VirtualBase:         s.VirtualBase,
		VirtualQuote:        s.VirtualQuote,
		RealBase:            s.RealBase,
		ActualQuote:         s.ActualQuote,
		GraduationThreshold: s.GraduationThreshold,
		FeeBps:              s.FeeBps,
		FeeProfile:          s.FeeProfile,
		Status:              bonding.PoolStatus(s.Status),
		CreatedAt:           int64(s.CreatedAt),
		UpdatedAt:           int64(s.UpdatedAt),
	}
	return p.Clone()
}

type storedShare struct {
	Name   string
	Wallet [20]byte
	Amount *big.Int
}

type storedAmount struct {
	Account [20]byte
	Amount  *big.Int
}

type storedResult struct {
	RoundID             [32]byte
	Status              uint8
	Reason              string
	TotalRaised         *big.Int
	TokensForSale       *big.Int
	NetPayout           *big.Int
	FeeTotal            *big.Int
	FeeShares           []storedShare
	BurnAmount          *big.Int
	VestingFundedAmount *big.Int
	DepositReturned     *big.Int
	Entitlements        []storedAmount
	Refunds             []storedAmount
	MerkleRoot          [32]byte
	ScheduleID          [32]byte
	EffectivePrice      string
	FinalizedAt         uint64
}

func newStoredResult(r *finalize.Result) *storedResult {
	out := &storedResult{
		RoundID:             r.RoundID,
		Status:              uint8(r.Status),
		Reason:              r.Reason,
		TotalRaised:         bigOrZero(r.TotalRaised),
		TokensForSale:       bigOrZero(r.TokensForSale),
		NetPayout:           bigOrZero(r.NetPayout),
		FeeTotal:            bigOrZero(r.FeeTotal),
		BurnAmount:          bigOrZero(r.BurnAmount),
		VestingFundedAmount: bigOrZero(r.VestingFundedAmount),
		DepositReturned:     bigOrZero(r.DepositReturned),
		MerkleRoot:          r.MerkleRoot,
		ScheduleID:          r.ScheduleID,
		EffectivePrice:      r.EffectivePrice,
		FinalizedAt:         uint64(r.FinalizedAt),
	}
	for _, share := range r.FeeShares {
		out.FeeShares = append(out.FeeShares, storedShare{Name: share.Name, Wallet: share.Wallet, Amount: bigOrZero(share.Amount)})
	}
	for _, ent := range r.Entitlements {
		out.Entitlements = append(out.Entitlements, storedAmount{Account: ent.Beneficiary, Amount: bigOrZero(ent.Amount)})
	}
	for _, refund := range r.Refunds {
		out.Refunds = append(out.Refunds, storedAmount{Account: refund.Contributor, Amount: bigOrZero(refund.Amount)})
	}
	return out
}

func (s *storedResult) result() *finalize.Result {
	r := &finalize.Result{
		RoundID:             s.RoundID,
		Status:              finalize.Status(s.Status),
		Reason:              s.Reason,
		TotalRaised:         bigOrZero(s.TotalRaised),
		TokensForSale:       bigOrZero(s.TokensForSale),
		NetPayout:           bigOrZero(s.NetPayout),
		FeeTotal:            bigOrZero(s.FeeTotal),
		FeeShares:           fees.Shares{},
		BurnAmount:          bigOrZero(s.BurnAmount),
		VestingFundedAmount: bigOrZero(s.VestingFundedAmount),
		DepositReturned:     bigOrZero(s.DepositReturned),
		MerkleRoot:          s.MerkleRoot,
		ScheduleID:          s.ScheduleID,
		EffectivePrice:      s.EffectivePrice,
		FinalizedAt:         int64(s.FinalizedAt),
	}
	for _, share := range s.FeeShares {
		r.FeeShares = append(r.FeeShares, fees.Share{Name: share.Name, Wallet: share.Wallet, Amount: bigOrZero(share.Amount)})
	}
	for _, ent := range s.Entitlements {
		r.Entitlements = append(r.Entitlements, vesting.Entitlement{Beneficiary: ent.Account, Amount: bigOrZero(ent.Amount)})
	}
	for _, refund := range s.Refunds {
		r.Refunds = append(r.Refunds, sale.ContributorTotal{Contributor: refund.Account, Amount: bigOrZero(refund.Amount)})
	}
	return r
}

func quotaRecord(q common.QuotaNow) *storedQuota {
	return &storedQuota{ReqCount: q.ReqCount, AmountUsed: bigOrZero(q.AmountUsed), EpochID: q.EpochID}
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
