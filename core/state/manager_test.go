package state

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"launchpad/native/bonding"
	"launchpad/native/escrow"
	"launchpad/native/fees"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db)
}

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
)

func TestTransferAndBalances(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Credit(alice, "usdc", big.NewInt(100)))
	require.NoError(t, m.Transfer(alice, bob, "USDC", big.NewInt(40)))

	got, err := m.Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(60), got.Int64())
	got, err = m.Balance(bob, " usdc ")
	require.NoError(t, err)
	require.Equal(t, int64(40), got.Int64())

	err = m.Transfer(bob, alice, "USDC", big.NewInt(41))
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTxWritesInvisibleUntilCommit(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Credit(alice, "MEME", big.NewInt(10)))

	tx := m.Begin()
	require.NoError(t, tx.Transfer(alice, bob, "MEME", big.NewInt(10)))
	deposit := &escrow.Deposit{ProjectID: [32]byte{1}, Token: "MEME", Amount: big.NewInt(10), Depositor: alice}
	require.NoError(t, tx.EscrowPut(deposit))

	_, ok, err := m.EscrowGet(deposit.ProjectID)
	require.NoError(t, err)
	require.False(t, ok)
	bal, _ := m.Balance(bob, "MEME")
	require.Zero(t, bal.Sign())

	inTx, ok, err := tx.EscrowGet(deposit.ProjectID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "10", inTx.Amount.String())

	require.NoError(t, tx.Commit())
	stored, ok, err := m.EscrowGet(deposit.ProjectID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, alice, stored.Depositor)
	bal, _ = m.Balance(bob, "MEME")
	require.Equal(t, int64(10), bal.Int64())

	require.ErrorIs(t, tx.Commit(), ErrTxClosed)
}

func TestDiscardDropsWrites(t *testing.T) {
	m := newTestManager(t)
	tx := m.Begin()
	require.NoError(t, tx.Credit(alice, "MEME", big.NewInt(5)))
	tx.Discard()
	bal, err := m.Balance(alice, "MEME")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestCommitDetectsConflictingRead(t *testing.T) {
	m := newTestManager(t)
	round := &sale.Round{ID: [32]byte{7}, QuoteToken: "USDC", TotalRaised: big.NewInt(1)}
	require.NoError(t, m.SaleRoundPut(round))

	tx := m.Begin()
	loaded, ok, err := tx.SaleRoundGet(round.ID)
	require.NoError(t, err)
	require.True(t, ok)

	concurrent := loaded.Clone()
	concurrent.TotalRaised = big.NewInt(2)
	require.NoError(t, m.SaleRoundPut(concurrent))

	loaded.TotalRaised = big.NewInt(3)
	require.NoError(t, tx.SaleRoundPut(loaded))
	require.ErrorIs(t, tx.Commit(), ErrTxConflict)

	current, _, err := m.SaleRoundGet(round.ID)
	require.NoError(t, err)
	require.Equal(t, "2", current.TotalRaised.String())
}

func TestBalanceDeltasDoNotConflict(t *testing.T) {
	m := newTestManager(t)
	vault := [20]byte{0xee}
	require.NoError(t, m.Credit(vault, "USDC", big.NewInt(100)))

	tx := m.Begin()
	require.NoError(t, tx.Transfer(vault, alice, "USDC", big.NewInt(30)))
	require.NoError(t, m.Credit(vault, "USDC", big.NewInt(5)))
	require.NoError(t, tx.Commit())

	bal, _ := m.Balance(vault, "USDC")
	require.Equal(t, int64(75), bal.Int64())
}

func TestCommitRejectsOverdraw(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.Credit(alice, "USDC", big.NewInt(50)))

	tx := m.Begin()
	require.NoError(t, tx.Transfer(alice, bob, "USDC", big.NewInt(50)))
	require.NoError(t, m.Transfer(alice, bob, "USDC", big.NewInt(10)))
	require.ErrorIs(t, tx.Commit(), ErrInsufficientBalance)

	bal, _ := m.Balance(bob, "USDC")
	require.Equal(t, int64(10), bal.Int64())
}

func TestRoundRoundTripKeepsUncappedHardcap(t *testing.T) {
	m := newTestManager(t)
	uncapped := &sale.Round{
		ID:            [32]byte{1},
		Kind:          sale.KindFairlaunch,
		QuoteToken:    "USDC",
		SaleToken:     "MEME",
		Softcap:       big.NewInt(10),
		TokensForSale: big.NewInt(1000),
		StartTime:     100,
		EndTime:       200,
		Phase:         sale.StatusFinalizing,
	}
	capped := uncapped.Clone()
	capped.ID = [32]byte{2}
	capped.Hardcap = big.NewInt(0)
	require.NoError(t, m.SaleRoundPut(uncapped))
	require.NoError(t, m.SaleRoundPut(capped))

	got, ok, err := m.SaleRoundGet(uncapped.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got.Hardcap)
	require.Equal(t, sale.StatusFinalizing, got.Phase)
	require.Equal(t, int64(200), got.EndTime)

	got, _, err = m.SaleRoundGet(capped.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Hardcap)
}

func TestContributionLogAndQuota(t *testing.T) {
	m := newTestManager(t)
	id := [32]byte{9}
	require.NoError(t, m.SaleContributionAppend(id, &sale.Contribution{Contributor: alice, Amount: big.NewInt(5), Timestamp: 10}))
	require.NoError(t, m.SaleContributionAppend(id, &sale.Contribution{Contributor: bob, Amount: big.NewInt(7), Timestamp: 11}))
	list, err := m.SaleContributions(id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, bob, list[1].Contributor)
	require.Equal(t, int64(11), list[1].Timestamp)

	total, err := m.SaleContributedGet(id, alice)
	require.NoError(t, err)
	require.Zero(t, total.Sign())

	_, ok, err := m.SaleQuotaGet(id, alice)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPoolAndScheduleRoundTrip(t *testing.T) {
	m := newTestManager(t)
	pool := &bonding.Pool{
		ID:                  [32]byte{3},
		BaseToken:           "MEME",
		QuoteToken:          "USDC",
		VirtualBase:         uint256.MustFromDecimal("1000000000000000000000000"),
		VirtualQuote:        uint256.NewInt(30_000),
		RealBase:            uint256.NewInt(5),
		ActualQuote:         uint256.NewInt(0),
		GraduationThreshold: uint256.NewInt(69_000),
		FeeBps:              100,
		FeeProfile:          fees.ProfileBonding,
		Status:              bonding.PoolGraduating,
	}
	require.NoError(t, m.BondingPoolPut(pool))
	got, ok, err := m.BondingPoolGet(pool.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.VirtualBase.Eq(pool.VirtualBase))
	require.Equal(t, bonding.PoolGraduating, got.Status)

	schedule := &vesting.Schedule{
		ID:              [32]byte{4},
		Token:           "MEME",
		TotalTokens:     big.NewInt(970),
		TGEPercentage:   10,
		TGEAt:           1_000,
		CliffDuration:   60,
		VestingDuration: 600,
		Interval:        vesting.IntervalMonthly,
		MerkleRoot:      [32]byte{0xaa},
		ChainID:         1,
	}
	require.NoError(t, m.VestingSchedulePut(schedule))
	gotSchedule, ok, err := m.VestingScheduleGet(schedule.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, vesting.IntervalMonthly, gotSchedule.Interval)
	require.Equal(t, int64(600), gotSchedule.VestingDuration)
	require.Zero(t, gotSchedule.TotalClaimed.Sign())
}

func TestResultRoundTrip(t *testing.T) {
	m := newTestManager(t)
	result := &finalize.Result{
		RoundID:             [32]byte{5},
		Status:              finalize.StatusSuccess,
		TotalRaised:         big.NewInt(10_000_000),
		NetPayout:           big.NewInt(9_500_000),
		FeeTotal:            big.NewInt(500_000),
		FeeShares:           fees.Shares{{Name: fees.BucketTreasury, Amount: big.NewInt(500_000)}},
		Entitlements:        []vesting.Entitlement{{Beneficiary: alice, Amount: big.NewInt(970_000)}},
		VestingFundedAmount: big.NewInt(970_000),
		BurnAmount:          big.NewInt(30_000),
	}
	tx := m.Begin()
	require.NoError(t, tx.FinalizeResultPut(result.RoundID, result))
	require.NoError(t, tx.Commit())

	got, ok, err := m.FinalizeResultGet(result.RoundID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, finalize.StatusSuccess, got.Status)
	require.Equal(t, "500000", got.FeeShares.Get(fees.BucketTreasury).String())
	require.Equal(t, "970000", got.Entitlement(alice).String())
	require.Empty(t, got.Refunds)
}

func TestRoles(t *testing.T) {
	m := newTestManager(t)
	require.False(t, m.HasRole(escrow.RoleOperator, alice))
	require.NoError(t, m.SetRole(escrow.RoleOperator, alice))
	require.NoError(t, m.SetRole(escrow.RoleOperator, alice))
	require.True(t, m.HasRole(escrow.RoleOperator, alice))
	require.False(t, m.HasRole(escrow.RoleOperator, bob))
}

func TestLevelDBBackedManager(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	m := NewManager(db)
	require.NoError(t, m.Credit(alice, "USDC", big.NewInt(42)))
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	t.Cleanup(reopened.Close)
	bal, err := NewManager(reopened).Balance(alice, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(42), bal.Int64())
}

func TestUpdateReturnsCallbackError(t *testing.T) {
	m := newTestManager(t)
	sentinel := errors.New("boom")
	err := m.Update(func(tx *Tx) error {
		if err := tx.Credit(alice, "USDC", big.NewInt(1)); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	bal, _ := m.Balance(alice, "USDC")
	require.Zero(t, bal.Sign())
}
