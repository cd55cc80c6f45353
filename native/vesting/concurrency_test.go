package vesting

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
)

func TestConcurrentClaimsNeverExceedUnlocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	aliceProof := f.proof(t, f.alice)
	bobProof := f.proof(t, f.bob)

	var (
		wg            sync.WaitGroup
		aliceAccepted atomic.Int32
		bobAccepted   atomic.Int32
		unexpected    atomic.Value
	)
	claim := func(ent Entitlement, proof [][32]byte, amount int64, accepted *atomic.Int32) {
		defer wg.Done()
		_, err := f.ledger.Claim(ctx, f.schedule.ID, ent.Beneficiary, ent.Amount, big.NewInt(amount), proof, tgeAt)
		switch {
		case err == nil:
			accepted.Add(1)
		case !errors.Is(err, ErrExceedsClaimable):
			unexpected.Store(err)
		}
	}
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go claim(f.alice, aliceProof, 500, &aliceAccepted)
		go claim(f.bob, bobProof, 1_000, &bobAccepted)
	}
	wg.Wait()

	if err := unexpected.Load(); err != nil {
		t.Fatalf("unexpected claim error: %v", err)
	}
	if aliceAccepted.Load() != 4 || bobAccepted.Load() != 6 {
		t.Fatalf("accepted alice=%d bob=%d, want 4 and 6", aliceAccepted.Load(), bobAccepted.Load())
	}
	if got := f.state.balance(f.alice.Beneficiary, "LAUNCH").Int64(); got != 2_000 {
		t.Fatalf("alice balance %d, want 2000", got)
	}
	if got := f.state.balance(f.bob.Beneficiary, "LAUNCH").Int64(); got != 6_000 {
		t.Fatalf("bob balance %d, want 6000", got)
	}
	if got := f.state.balance(VaultAddress("LAUNCH"), "LAUNCH").Int64(); got != 32_000 {
		t.Fatalf("vault balance %d, want 32000", got)
	}
	schedule, err := f.ledger.Schedule(f.schedule.ID)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if schedule.TotalClaimed.Int64() != 8_000 {
		t.Fatalf("total claimed %s, want 8000", schedule.TotalClaimed)
	}
}
