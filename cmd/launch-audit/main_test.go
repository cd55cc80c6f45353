package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"launchpad/config"
	"launchpad/native/escrow"
	"launchpad/native/fees"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/observability/logging"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func quietLogger() *slog.Logger { return slog.New(logging.NewHandler(io.Discard)) }

func loadFixture(t *testing.T) *scenario {
	t.Helper()
	sc, err := loadScenario(filepath.Join("testdata", "presale.yaml"))
	require.NoError(t, err)
	return sc
}

func TestAuditPresaleScenario(t *testing.T) {
	report, err := audit(context.Background(), config.Default(), loadFixture(t), options{}, quietLogger())
	require.NoError(t, err)

	require.Equal(t, sale.KindPresale.String(), report.Round.Kind)
	require.Equal(t, sale.StatusFinalizedSuccess.String(), report.Round.Status)
	require.Equal(t, "7000000", report.Round.TotalRaised)
	require.Equal(t, "100000", report.Round.RequiredTokens)
	require.Equal(t, "7000000", report.Round.RaisedUnits)
	require.Equal(t, "100000", report.Round.SupplyUnits)
	require.Contains(t, report.FeeProfiles, fees.ProfileSale)
	require.Contains(t, report.FeeProfiles, fees.ProfileBonding)
	require.IsIncreasing(t, report.FeeProfiles)
	require.EqualValues(t, 2, report.Round.Contributors)
	require.Equal(t, 1, report.Round.Rejected, "late contribution is rejected")
	require.True(t, report.Deposit.Covered)

	f := report.Finalization
	require.Equal(t, finalize.StatusSuccess.String(), f.Status)
	require.Equal(t, "350000", f.Breakdown["feeTotal"])
	require.Equal(t, "6650000", f.Breakdown["netPayout"])
	require.Equal(t, "30000", f.Breakdown["burn"])
	require.Equal(t, "70000", f.Breakdown["vestingFunded"])
	require.Equal(t, "25000", f.Breakdown["depositReturned"])
	require.Equal(t, "175000", f.FeeShares[fees.BucketTreasury])
	require.Equal(t, "40000", f.Entitlements[alice])
	require.Equal(t, "30000", f.Entitlements[bob])
	require.True(t, f.ProofsVerified)
	require.NotEmpty(t, f.MerkleRoot)

	require.Len(t, report.Unlocks, 4)
	require.EqualValues(t, 250, report.Unlocks[0].At)
	require.Equal(t, "8000", report.Unlocks[0].Unlocked[alice])
	require.EqualValues(t, 850, report.Unlocks[2].At)
	require.Equal(t, "24000", report.Unlocks[2].Unlocked[alice])
	require.Equal(t, "40000", report.Unlocks[3].Unlocked[alice])
	require.Equal(t, "30000", report.Unlocks[3].Unlocked[bob])

	require.Equal(t, "6650000", report.Balances["owner"])
	require.Equal(t, "30000", report.Balances["burn"])
	require.Equal(t, "70000", report.Balances["vestingVault"])
	require.Equal(t, "25000", report.Balances["depositor"])
	require.Equal(t, "0", report.Balances["escrowVault"])
	require.Equal(t, "0", report.Balances["saleVault"])
	require.Equal(t, 1, report.Events[escrow.EventTypeDeposited])
	require.Equal(t, 2, report.Events[sale.EventTypeContributed])
	require.Equal(t, 1, report.Events[finalize.EventTypeFinalized])
	require.Nil(t, report.Mirror)
}

func TestAuditBondingTradesGraduate(t *testing.T) {
	report, err := audit(context.Background(), config.Default(), loadFixture(t), options{}, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, report.Bonding)

	b := report.Bonding
	require.Len(t, b.Trades, 2)
	require.Empty(t, b.Trades[0].Error)
	require.Equal(t, "100", b.Trades[0].Fee)
	require.NotEmpty(t, b.Trades[0].Output)
	require.NotEmpty(t, b.Trades[1].Error, "pool stops trading once the threshold is met")
	require.Equal(t, "9900", b.ActualQuote)
	require.Equal(t, "GRADUATING", b.Status)
}

func TestAuditFailedOutcomeRefunds(t *testing.T) {
	sc := loadFixture(t)
	sc.Contributions = sc.Contributions[:1]
	sc.Contributions[0].Amount = "1000000"
	sc.Bonding = nil

	report, err := audit(context.Background(), config.Default(), sc, options{}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, finalize.StatusFailed.String(), report.Finalization.Status)
	require.Equal(t, "1000000", report.Finalization.Refunds[alice])
	require.Empty(t, report.Unlocks)
	require.Equal(t, sale.StatusFinalizedFailed.String(), report.Round.Status)
	require.Equal(t, "0", report.Balances["saleVault"])
	require.Equal(t, "125000", report.Balances["depositor"])
}

func TestAuditCancelledOutcome(t *testing.T) {
	sc := loadFixture(t)
	sc.Outcome = outcomeCancel
	sc.CancelAt = 160
	sc.Contributions = sc.Contributions[:2]
	sc.Bonding = nil
	require.NoError(t, sc.validate())

	report, err := audit(context.Background(), config.Default(), sc, options{}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, finalize.StatusCancelled.String(), report.Finalization.Status)
	require.Equal(t, "4000000", report.Finalization.Refunds[alice])
	require.Equal(t, 1, report.Events[sale.EventTypeCancelled])
}

func TestAuditMirrorReplayIsIdempotent(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	opts := options{mirrorDSN: dsn}

	first, err := audit(context.Background(), config.Default(), loadFixture(t), opts, quietLogger())
	require.NoError(t, err)
	require.NotNil(t, first.Mirror)
	require.Zero(t, first.Mirror.Replayed)
	require.Equal(t, 7, first.Mirror.Processed)
	require.Zero(t, first.Mirror.Pruned)
	require.Equal(t, sale.StatusFinalizedSuccess.String(), first.Mirror.RoundStatus)
	require.Equal(t, "0", first.Mirror.Escrow)

	second, err := audit(context.Background(), config.Default(), loadFixture(t), opts, quietLogger())
	require.NoError(t, err)
	require.Equal(t, 7, second.Mirror.Replayed)
	require.Equal(t, 7, second.Mirror.Processed)
}

func TestAuditLevelDBLedger(t *testing.T) {
	sc := loadFixture(t)
	sc.Bonding = nil
	report, err := audit(context.Background(), config.Default(), sc, options{ledgerPath: filepath.Join(t.TempDir(), "ledger")}, quietLogger())
	require.NoError(t, err)
	require.Equal(t, "6650000", report.Balances["owner"])
}

func TestLoadScenarioValidation(t *testing.T) {
	dir := t.TempDir()
	write := func(body string) string {
		path := filepath.Join(dir, uuid.NewString()+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	_, err := loadScenario(write("name: x\nunexpected: true\n"))
	require.Error(t, err)

	_, err = loadScenario(write("name: x\nfinalizeAt: 10\noutcome: sideways\n"))
	require.ErrorIs(t, err, errInvalidScenario)

	_, err = loadScenario(write("name: x\noutcome: cancel\nfinalizeAt: 10\n"))
	require.ErrorIs(t, err, errInvalidScenario)

	_, err = loadScenario(write("name: x\nfinalizeAt: 10\ndeposit:\n  depositor: nope\n  amount: \"1\"\n"))
	require.ErrorIs(t, err, errInvalidScenario)
}

func TestAmountParsing(t *testing.T) {
	v, err := amount("amount", "7e6")
	require.NoError(t, err)
	require.Equal(t, "7000000", v.String())
	v, err = amount("amount", " 250 ")
	require.NoError(t, err)
	require.Equal(t, "250", v.String())
	for _, bad := range []string{"1.5", "0", "-3", "ten", ""} {
		_, err := amount("amount", bad)
		require.ErrorIs(t, err, errInvalidScenario, bad)
	}
}

func TestMerkleInputsDefaults(t *testing.T) {
	sc := loadFixture(t)
	inputs, err := merkleInputs(sc)
	require.NoError(t, err)
	require.EqualValues(t, 20, inputs.TGEPercentage)
	require.EqualValues(t, 250, inputs.TGEAt)

	sc.Vesting.TGEPercentage = nil
	inputs, err = merkleInputs(sc)
	require.NoError(t, err)
	require.EqualValues(t, 100, inputs.TGEPercentage)
}

func TestCheckpointsDefaultAndDedupe(t *testing.T) {
	schedule := &vesting.Schedule{TGEAt: 100, CliffDuration: 0, VestingDuration: 0}
	require.Equal(t, []int64{100}, checkpoints(schedule, nil))

	schedule = &vesting.Schedule{TGEAt: 100, CliffDuration: 50, VestingDuration: 200}
	require.Equal(t, []int64{100, 150, 250, 350}, checkpoints(schedule, nil))
	require.Equal(t, []int64{5, 10}, checkpoints(schedule, []int64{10, 5, 10}))
}
