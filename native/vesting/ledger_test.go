package vesting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"launchpad/core/events"
)

type balanceKey struct {
	addr  [20]byte
	token string
}

type claimKey struct {
	schedule    [32]byte
	beneficiary [20]byte
}

type mockState struct {
	schedules map[[32]byte]*Schedule
	claimed   map[claimKey]*big.Int
	balances  map[balanceKey]*big.Int
}

func newMockState() *mockState {
	return &mockState{
		schedules: make(map[[32]byte]*Schedule),
		claimed:   make(map[claimKey]*big.Int),
		balances:  make(map[balanceKey]*big.Int),
	}
}

func (m *mockState) VestingSchedulePut(s *Schedule) error {
	m.schedules[s.ID] = s.Clone()
	return nil
}

func (m *mockState) VestingScheduleGet(id [32]byte) (*Schedule, bool, error) {
	s, ok := m.schedules[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

func (m *mockState) VestingClaimedGet(id [32]byte, beneficiary [20]byte) (*big.Int, error) {
	if v, ok := m.claimed[claimKey{id, beneficiary}]; ok {
		return new(big.Int).Set(v), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) VestingClaimedPut(id [32]byte, beneficiary [20]byte, claimed *big.Int) error {
	m.claimed[claimKey{id, beneficiary}] = new(big.Int).Set(claimed)
	return nil
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	if v, ok := m.balances[balanceKey{addr, token}]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (m *mockState) Transfer(from, to [20]byte, token string, amount *big.Int) error {
	fromBal := m.balance(from, token)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[balanceKey{from, token}] = fromBal.Sub(fromBal, amount)
	m.balances[balanceKey{to, token}] = new(big.Int).Add(m.balance(to, token), amount)
	return nil
}

type countingEmitter struct{ count map[string]int }

func (c *countingEmitter) Emit(evt events.Event) { c.count[evt.EventType()]++ }

type fixture struct {
	ledger   *Ledger
	state    *mockState
	schedule *Schedule
	alice    Entitlement
	bob      Entitlement
	tree     *Tree
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockState()
	ledger := NewLedger()
	ledger.SetState(state)
	ledger.SetNowFunc(func() int64 { return tgeAt - 100 })

	alice := Entitlement{Beneficiary: [20]byte{0xA1}, Amount: big.NewInt(10_000)}
	bob := Entitlement{Beneficiary: [20]byte{0xB0}, Amount: big.NewInt(30_000)}
	input := testSchedule(IntervalLinear)
	input.RoundID = [32]byte{0x10}
	input.Salt = [32]byte{0x20}
	input.ChainID = 187
	input.Contract = [20]byte{0xCC}
	input.TotalTokens = big.NewInt(40_000)
	tree, err := AllocationTree(input, []Entitlement{alice, bob})
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	input.MerkleRoot = tree.Root()
	state.balances[balanceKey{VaultAddress("LAUNCH"), "LAUNCH"}] = big.NewInt(40_000)

	schedule, err := ledger.CreateSchedule(input)
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return &fixture{ledger: ledger, state: state, schedule: schedule, alice: alice, bob: bob, tree: tree}
}

func (f *fixture) proof(t *testing.T, ent Entitlement) [][32]byte {
	t.Helper()
	leaf, err := LeafFor(f.schedule, ent.Beneficiary, ent.Amount)
	if err != nil {
		t.Fatalf("leaf: %v", err)
	}
	proof, ok := f.tree.Proof(leaf)
	if !ok {
		t.Fatalf("no proof for %x", ent.Beneficiary)
	}
	return proof
}

func TestClaimAtTGE(t *testing.T) {
	f := newFixture(t)
	emitter := &countingEmitter{count: map[string]int{}}
	f.ledger.SetEmitter(emitter)
	ctx := context.Background()
	proof := f.proof(t, f.alice)

	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(1), proof, tgeAt-1); !errors.Is(err, ErrBeforeTGE) {
		t.Fatalf("expected ErrBeforeTGE, got %v", err)
	}
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(2_001), proof, tgeAt); !errors.Is(err, ErrExceedsClaimable) {
		t.Fatalf("expected ErrExceedsClaimable, got %v", err)
	}
	alloc, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(2_000), proof, tgeAt)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if alloc.ClaimedSoFar.Int64() != 2_000 {
		t.Fatalf("unexpected claimed %s", alloc.ClaimedSoFar)
	}
	if got := f.state.balance(f.alice.Beneficiary, "LAUNCH"); got.Int64() != 2_000 {
		t.Fatalf("beneficiary balance: got %s", got)
	}
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(1), proof, tgeAt+1); !errors.Is(err, ErrExceedsClaimable) {
		t.Fatalf("second claim of same unlock must fail, got %v", err)
	}
	if emitter.count[EventTypeClaimed] != 1 {
		t.Fatalf("expected one claim event, got %v", emitter.count)
	}
}

func TestClaimRejectsInvalidProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	proof := f.proof(t, f.alice)
	inflated := big.NewInt(20_000)
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, inflated, big.NewInt(1), proof, tgeAt); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for inflated entitlement, got %v", err)
	}
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.bob.Beneficiary, f.bob.Amount, big.NewInt(1), proof, tgeAt); !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof for borrowed proof, got %v", err)
	}
}

func TestClaimFullAfterSaturation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	end := tgeAt + f.schedule.CliffDuration + f.schedule.VestingDuration
	for _, ent := range []Entitlement{f.alice, f.bob} {
		if _, err := f.ledger.Claim(ctx, f.schedule.ID, ent.Beneficiary, ent.Amount, ent.Amount, f.proof(t, ent), end); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if got := f.state.balance(VaultAddress("LAUNCH"), "LAUNCH"); got.Sign() != 0 {
		t.Fatalf("vault must be drained, has %s", got)
	}
	schedule, _ := f.ledger.Schedule(f.schedule.ID)
	if schedule.TotalClaimed.Int64() != 40_000 {
		t.Fatalf("unexpected total claimed %s", schedule.TotalClaimed)
	}
}

func TestPausedScheduleBlocksClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.ledger.SetPaused(f.schedule.ID, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(1), f.proof(t, f.alice), tgeAt); !errors.Is(err, ErrSchedulePaused) {
		t.Fatalf("expected ErrSchedulePaused, got %v", err)
	}
	if _, err := f.ledger.SetPaused(f.schedule.ID, false); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(1), f.proof(t, f.alice), tgeAt); err != nil {
		t.Fatalf("claim after resume: %v", err)
	}
}

func TestClaimHonoursCancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.ledger.Claim(ctx, f.schedule.ID, f.alice.Beneficiary, f.alice.Amount, big.NewInt(1), f.proof(t, f.alice), tgeAt); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCreateScheduleRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	again := f.schedule.Clone()
	if _, err := f.ledger.CreateSchedule(again); !errors.Is(err, ErrScheduleExists) {
		t.Fatalf("expected ErrScheduleExists, got %v", err)
	}
}
