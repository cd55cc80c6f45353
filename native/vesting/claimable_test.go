package vesting

import (
	"math/big"
	"testing"
)

const tgeAt = int64(1_700_000_000)

func testSchedule(interval IntervalType) *Schedule {
	return &Schedule{
		Token:           "LAUNCH",
		TotalTokens:     big.NewInt(1_000_000),
		TGEPercentage:   20,
		TGEAt:           tgeAt,
		CliffDuration:   90 * 24 * 3600,
		VestingDuration: 12 * MonthSeconds,
		Interval:        interval,
		MerkleRoot:      [32]byte{0x01},
	}
}

func TestClaimableAtTGEBoundary(t *testing.T) {
	s := testSchedule(IntervalLinear)
	alloc := &Allocation{TotalEntitlement: big.NewInt(10_000), ClaimedSoFar: big.NewInt(0)}
	if got := Claimable(s, alloc, tgeAt-1); got.Sign() != 0 {
		t.Fatalf("one second before tge: got %s want 0", got)
	}
	if got := Claimable(s, alloc, tgeAt); got.Int64() != 2_000 {
		t.Fatalf("at tge: got %s want 2000", got)
	}
	if got := Claimable(s, alloc, tgeAt+s.CliffDuration-1); got.Int64() != 2_000 {
		t.Fatalf("during cliff: got %s want 2000", got)
	}
}

func TestClaimableLinearAndSaturation(t *testing.T) {
	s := testSchedule(IntervalLinear)
	alloc := &Allocation{TotalEntitlement: big.NewInt(10_000), ClaimedSoFar: big.NewInt(0)}
	vestStart := tgeAt + s.CliffDuration
	half := vestStart + s.VestingDuration/2
	if got := Claimable(s, alloc, half); got.Int64() != 2_000+4_000 {
		t.Fatalf("halfway: got %s want 6000", got)
	}
	end := vestStart + s.VestingDuration
	for _, now := range []int64{end, end + 1, end + 10*MonthSeconds} {
		if got := Claimable(s, alloc, now); got.Int64() != 10_000 {
			t.Fatalf("saturation at %d: got %s", now, got)
		}
	}
}

func TestClaimableMonthlySteps(t *testing.T) {
	s := testSchedule(IntervalMonthly)
	alloc := &Allocation{TotalEntitlement: big.NewInt(12_000), ClaimedSoFar: big.NewInt(0)}
	vestStart := tgeAt + s.CliffDuration
	tge := int64(2_400)
	cases := []struct {
		now  int64
		want int64
	}{
		{vestStart, tge},
		{vestStart + MonthSeconds - 1, tge},
		{vestStart + MonthSeconds, tge + 800},
		{vestStart + 3*MonthSeconds + 5, tge + 2_400},
		{vestStart + 12*MonthSeconds, 12_000},
	}
	for _, tc := range cases {
		if got := Claimable(s, alloc, tc.now); got.Int64() != tc.want {
			t.Fatalf("at +%d: got %s want %d", tc.now-vestStart, got, tc.want)
		}
	}
}

func TestClaimableMonotonic(t *testing.T) {
	for _, interval := range []IntervalType{IntervalLinear, IntervalMonthly} {
		s := testSchedule(interval)
		alloc := &Allocation{TotalEntitlement: big.NewInt(987_654_321), ClaimedSoFar: big.NewInt(0)}
		prev := big.NewInt(0)
		end := tgeAt + s.CliffDuration + s.VestingDuration + 10
		for now := tgeAt - 5; now <= end; now += 86_399 {
			got := Claimable(s, alloc, now)
			if got.Cmp(prev) < 0 {
				t.Fatalf("%s: claimable decreased at %d: %s < %s", interval, now, got, prev)
			}
			prev = got
		}
	}
}

func TestClaimableFloorsAtZero(t *testing.T) {
	s := testSchedule(IntervalLinear)
	alloc := &Allocation{TotalEntitlement: big.NewInt(10_000), ClaimedSoFar: big.NewInt(5_000)}
	if got := Claimable(s, alloc, tgeAt); got.Sign() != 0 {
		t.Fatalf("over-claimed allocation must floor at zero, got %s", got)
	}
}

func TestCanClaimNow(t *testing.T) {
	s := testSchedule(IntervalLinear)
	if err := CanClaimNow(s, tgeAt-1); err != ErrBeforeTGE {
		t.Fatalf("expected ErrBeforeTGE, got %v", err)
	}
	s.Paused = true
	if err := CanClaimNow(s, tgeAt); err != ErrSchedulePaused {
		t.Fatalf("expected ErrSchedulePaused, got %v", err)
	}
}
