package state

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"launchpad/core/events"
	"launchpad/native/escrow"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

var errInjected = errors.New("injected store failure")

// failingTx fails selected writes so the engines' commit boundaries can be
// checked against a real transaction.
type failingTx struct {
	*Tx
	failRound    *bool
	failSchedule *bool
	failEscrow   *bool
}

func (f *failingTx) SaleRoundPut(r *sale.Round) error {
	if f.failRound != nil && *f.failRound {
		return errInjected
	}
	return f.Tx.SaleRoundPut(r)
}

func (f *failingTx) VestingSchedulePut(s *vesting.Schedule) error {
	if f.failSchedule != nil && *f.failSchedule {
		return errInjected
	}
	return f.Tx.VestingSchedulePut(s)
}

func (f *failingTx) EscrowPut(d *escrow.Deposit) error {
	if f.failEscrow != nil && *f.failEscrow {
		return errInjected
	}
	return f.Tx.EscrowPut(d)
}

type countingEmitter struct{ n int }

func (c *countingEmitter) Emit(events.Event) { c.n++ }

func fairlaunch() *sale.Round {
	return &sale.Round{
		Kind:            sale.KindFairlaunch,
		Owner:           [20]byte{0x0f},
		ProjectID:       [32]byte{0x42},
		QuoteToken:      "USDC",
		SaleToken:       "LAUNCH",
		Softcap:         big.NewInt(0),
		MinContribution: big.NewInt(1),
		MaxContribution: big.NewInt(10_000_000),
		StartTime:       100,
		EndTime:         200,
		TokensForSale:   big.NewInt(1_000),
	}
}

func TestContributeFailureCommitsNothing(t *testing.T) {
	m := newTestManager(t)
	fail := false
	engine := sale.NewEngine()
	engine.SetState(m)
	engine.SetTransactor(func() (sale.Transaction, error) {
		return &failingTx{Tx: m.Begin(), failRound: &fail}, nil
	})
	emitter := &countingEmitter{}
	engine.SetEmitter(emitter)

	round, err := engine.CreateRound(fairlaunch())
	require.NoError(t, err)
	require.NoError(t, m.Credit(alice, "USDC", big.NewInt(6_000_000)))
	created := emitter.n

	fail = true
	_, err = engine.Contribute(round.ID, alice, big.NewInt(6_000_000), 150)
	require.ErrorIs(t, err, errInjected)
	require.Equal(t, created, emitter.n, "no events for a rolled back contribution")

	stored, ok, err := m.SaleRoundGet(round.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, stored.TotalRaised.Sign())
	contributions, err := m.SaleContributions(round.ID)
	require.NoError(t, err)
	require.Empty(t, contributions)
	cumulative, err := m.SaleContributedGet(round.ID, alice)
	require.NoError(t, err)
	require.Zero(t, cumulative.Sign())
	balance, err := m.Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, "6000000", balance.String())

	fail = false
	updated, err := engine.Contribute(round.ID, alice, big.NewInt(6_000_000), 150)
	require.NoError(t, err)
	require.Equal(t, "6000000", updated.TotalRaised.String())
	contributions, err = m.SaleContributions(round.ID)
	require.NoError(t, err)
	require.Len(t, contributions, 1)
	vault, err := m.Balance(sale.VaultAddress("USDC"), "USDC")
	require.NoError(t, err)
	require.Equal(t, "6000000", vault.String())
}

func TestClaimFailureCommitsNothing(t *testing.T) {
	m := newTestManager(t)
	fail := false
	ledger := vesting.NewLedger()
	ledger.SetState(m)
	ledger.SetTransactor(func() (vesting.Transaction, error) {
		return &failingTx{Tx: m.Begin(), failSchedule: &fail}, nil
	})

	entitlement := vesting.Entitlement{Beneficiary: alice, Amount: big.NewInt(40_000)}
	input := &vesting.Schedule{
		RoundID:       [32]byte{0x10},
		Token:         "LAUNCH",
		TotalTokens:   big.NewInt(40_000),
		TGEPercentage: 100,
		TGEAt:         100,
		Interval:      vesting.IntervalLinear,
		ChainID:       1,
	}
	tree, err := vesting.AllocationTree(input, []vesting.Entitlement{entitlement})
	require.NoError(t, err)
	input.MerkleRoot = tree.Root()
	require.NoError(t, m.Credit(vesting.VaultAddress("LAUNCH"), "LAUNCH", big.NewInt(40_000)))
	schedule, err := ledger.CreateSchedule(input)
	require.NoError(t, err)

	leaf, err := vesting.LeafFor(schedule, alice, entitlement.Amount)
	require.NoError(t, err)
	proof, ok := tree.Proof(leaf)
	require.True(t, ok)

	fail = true
	_, err = ledger.Claim(context.Background(), schedule.ID, alice, entitlement.Amount, big.NewInt(1_000), proof, 150)
	require.ErrorIs(t, err, errInjected)
	claimed, err := m.VestingClaimedGet(schedule.ID, alice)
	require.NoError(t, err)
	require.Zero(t, claimed.Sign())
	balance, err := m.Balance(alice, "LAUNCH")
	require.NoError(t, err)
	require.Zero(t, balance.Sign())

	fail = false
	allocation, err := ledger.Claim(context.Background(), schedule.ID, alice, entitlement.Amount, big.NewInt(1_000), proof, 150)
	require.NoError(t, err)
	require.Equal(t, "1000", allocation.ClaimedSoFar.String())
	claimed, err = m.VestingClaimedGet(schedule.ID, alice)
	require.NoError(t, err)
	require.Equal(t, "1000", claimed.String())
}

func TestDepositFailureCommitsNothing(t *testing.T) {
	m := newTestManager(t)
	fail := true
	engine := escrow.NewEngine()
	engine.SetState(m)
	engine.SetTransactor(func() (escrow.Transaction, error) {
		return &failingTx{Tx: m.Begin(), failEscrow: &fail}, nil
	})
	require.NoError(t, m.Credit(alice, "LAUNCH", big.NewInt(500)))

	_, err := engine.Deposit([32]byte{7}, "LAUNCH", big.NewInt(500), alice)
	require.ErrorIs(t, err, errInjected)
	_, ok, err := m.EscrowGet([32]byte{7})
	require.NoError(t, err)
	require.False(t, ok)
	balance, err := m.Balance(alice, "LAUNCH")
	require.NoError(t, err)
	require.Equal(t, "500", balance.String())
	vault, err := m.Balance(escrow.VaultAddress("LAUNCH"), "LAUNCH")
	require.NoError(t, err)
	require.Zero(t, vault.Sign())
}
