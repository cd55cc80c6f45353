package finalize

import (
	"errors"
	"math/big"
	"testing"

	"launchpad/native/fees"
	"launchpad/native/sale"
)

var (
	alice = [20]byte{0xa1}
	bob   = [20]byte{0xb0}
	carol = [20]byte{0xc0}
)

func saleProfile(t *testing.T) fees.Profile {
	t.Helper()
	registry, err := fees.NewRegistry(fees.DefaultProfiles()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	profile, err := registry.Lookup(fees.ProfileSale)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return profile
}

func contributions(amounts ...int64) []sale.ContributorTotal {
	who := [][20]byte{alice, bob, carol}
	out := make([]sale.ContributorTotal, len(amounts))
	for i, amount := range amounts {
		out[i] = sale.ContributorTotal{Contributor: who[i], Amount: big.NewInt(amount)}
	}
	return out
}

func mustCompute(t *testing.T, in Input) *Result {
	t.Helper()
	result, err := Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := Reconcile(in, result); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return result
}

func TestComputeSoftcapOnlyBurnsUnsold(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(7_000_000),
		TokensForSale: big.NewInt(100_000),
		Hardcap:       big.NewInt(10_000_000),
		Contributions: contributions(4_000_000, 3_000_000),
		EscrowBalance: big.NewInt(100_000),
		FeeProfile:    saleProfile(t),
		SaleFeeBps:    DefaultSaleFeeBps,
	}
	result := mustCompute(t, in)
	if result.BurnAmount.Int64() != 30_000 {
		t.Fatalf("expected burn 30000, got %s", result.BurnAmount)
	}
	if result.VestingFundedAmount.Int64() != 70_000 {
		t.Fatalf("expected vesting 70000, got %s", result.VestingFundedAmount)
	}
	if result.Entitlement(alice).Int64() != 40_000 || result.Entitlement(bob).Int64() != 30_000 {
		t.Fatalf("unexpected entitlements: %v", result.Entitlements)
	}
	if result.FeeTotal.Int64() != 350_000 || result.NetPayout.Int64() != 6_650_000 {
		t.Fatalf("unexpected payout: fee=%s net=%s", result.FeeTotal, result.NetPayout)
	}
	if result.DepositReturned.Sign() != 0 {
		t.Fatalf("nothing should return to depositor, got %s", result.DepositReturned)
	}
}

func TestComputeHardcapReached(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(10_000_000),
		TokensForSale: big.NewInt(100_000),
		Hardcap:       big.NewInt(10_000_000),
		Contributions: contributions(3_333_333, 3_333_333, 3_333_334),
		EscrowBalance: big.NewInt(125_000),
		FeeProfile:    saleProfile(t),
		SaleFeeBps:    DefaultSaleFeeBps,
	}
	result := mustCompute(t, in)
	if result.FeeTotal.Int64() != 500_000 || result.NetPayout.Int64() != 9_500_000 {
		t.Fatalf("unexpected payout: fee=%s net=%s", result.FeeTotal, result.NetPayout)
	}
	if result.BurnAmount.Sign() != 0 {
		t.Fatalf("hardcap reached must not burn, got %s", result.BurnAmount)
	}
	if result.Entitlement(alice).Int64() != 33_333 || result.Entitlement(carol).Int64() != 33_334 {
		t.Fatalf("remainder must go to the last contributor: %v", result.Entitlements)
	}
	if result.FeeShares.Get(fees.BucketTreasury).Int64() != 250_000 ||
		result.FeeShares.Get(fees.BucketReferralPool).Int64() != 200_000 ||
		result.FeeShares.Get(fees.BucketStakingPool).Int64() != 50_000 {
		t.Fatalf("unexpected fee shares: %+v", result.FeeShares)
	}
	if result.DepositReturned.Int64() != 25_000 {
		t.Fatalf("expected surplus 25000 back to depositor, got %s", result.DepositReturned)
	}
}

func TestComputeUncappedNeverBurns(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(9),
		TokensForSale: big.NewInt(100),
		Contributions: contributions(2, 7),
		EscrowBalance: big.NewInt(100),
		FeeProfile:    saleProfile(t),
		SaleFeeBps:    DefaultSaleFeeBps,
	}
	result := mustCompute(t, in)
	if result.BurnAmount.Sign() != 0 || result.VestingFundedAmount.Int64() != 100 {
		t.Fatalf("unexpected burn/vesting: %s/%s", result.BurnAmount, result.VestingFundedAmount)
	}
	if result.Entitlement(alice).Int64() != 22 || result.Entitlement(bob).Int64() != 78 {
		t.Fatalf("unexpected entitlements: %v", result.Entitlements)
	}
	if result.FeeTotal.Sign() != 0 || result.NetPayout.Int64() != 9 {
		t.Fatalf("dust raise must floor the fee to zero")
	}
}

func TestComputeRefundPaths(t *testing.T) {
	for _, status := range []Status{StatusFailed, StatusCancelled} {
		in := Input{
			Status:        status,
			TotalRaised:   big.NewInt(1_500),
			TokensForSale: big.NewInt(100_000),
			Hardcap:       big.NewInt(10_000),
			Contributions: contributions(1_000, 500),
			EscrowBalance: big.NewInt(100_000),
			SaleFeeBps:    DefaultSaleFeeBps,
		}
		result := mustCompute(t, in)
		if result.FeeTotal.Sign() != 0 || result.NetPayout.Sign() != 0 || result.BurnAmount.Sign() != 0 || result.VestingFundedAmount.Sign() != 0 {
			t.Fatalf("%s must not move value: %+v", status, Breakdown(result))
		}
		if len(result.Refunds) != 2 || result.Refunds[0].Amount.Int64() != 1_000 || result.Refunds[1].Amount.Int64() != 500 {
			t.Fatalf("%s refunds must equal contributions: %+v", status, result.Refunds)
		}
		if result.DepositReturned.Int64() != 100_000 {
			t.Fatalf("%s must return the full deposit", status)
		}
	}
}

func TestComputeRejectsInconsistentInput(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(100),
		TokensForSale: big.NewInt(10),
		Contributions: contributions(60),
		FeeProfile:    saleProfile(t),
	}
	if _, err := Compute(in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	in.Contributions = nil
	in.TotalRaised = big.NewInt(0)
	if _, err := Compute(in); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero raise cannot succeed, got %v", err)
	}
}

func TestReconcileRejectsTamperedResult(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(10_000_000),
		TokensForSale: big.NewInt(100_000),
		Hardcap:       big.NewInt(10_000_000),
		Contributions: contributions(10_000_000),
		EscrowBalance: big.NewInt(100_000),
		FeeProfile:    saleProfile(t),
		SaleFeeBps:    DefaultSaleFeeBps,
	}
	result := mustCompute(t, in)
	tampered := result.Clone()
	tampered.FeeShares[0].Amount.Add(tampered.FeeShares[0].Amount, big.NewInt(1))
	tampered.BurnAmount = big.NewInt(1)

	err := Reconcile(in, tampered)
	if !errors.Is(err, ErrReconciliation) {
		t.Fatalf("expected reconciliation error, got %v", err)
	}
	var recErr *ReconciliationError
	if !errors.As(err, &recErr) {
		t.Fatalf("expected *ReconciliationError")
	}
	if len(recErr.Violations) != 2 {
		t.Fatalf("expected two violations, got %v", recErr.Violations)
	}
	if recErr.Breakdown["burn"] != "1" || recErr.Breakdown["feeTotal"] != "500000" {
		t.Fatalf("breakdown missing amounts: %v", recErr.Breakdown)
	}
	if result.FeeShares[0].Amount.Int64() != 250_000 {
		t.Fatalf("clone must not alias the original result")
	}
}

func TestReconcileRequiresEscrowCoverage(t *testing.T) {
	in := Input{
		Status:        StatusSuccess,
		TotalRaised:   big.NewInt(1_000),
		TokensForSale: big.NewInt(100_000),
		Contributions: contributions(1_000),
		EscrowBalance: big.NewInt(99_999),
		FeeProfile:    saleProfile(t),
		SaleFeeBps:    DefaultSaleFeeBps,
	}
	result, err := Compute(in)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if err := Reconcile(in, result); !errors.Is(err, ErrReconciliation) {
		t.Fatalf("expected reconciliation failure, got %v", err)
	}
}
