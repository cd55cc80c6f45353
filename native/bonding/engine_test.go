package bonding

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/holiman/uint256"

	"launchpad/core/events"
	"launchpad/core/types"
	"launchpad/native/common"
	"launchpad/native/fees"
)

type balanceKey struct {
	addr  [20]byte
	token string
}

type mockState struct {
	pools    map[[32]byte]*Pool
	balances map[balanceKey]*big.Int
	failPut  bool
}

func newMockState() *mockState {
	return &mockState{
		pools:    make(map[[32]byte]*Pool),
		balances: make(map[balanceKey]*big.Int),
	}
}

func (m *mockState) BondingPoolPut(p *Pool) error {
	if m.failPut {
		return fmt.Errorf("put failed")
	}
	m.pools[p.ID] = p.Clone()
	return nil
}

func (m *mockState) BondingPoolGet(id [32]byte) (*Pool, bool, error) {
	p, ok := m.pools[id]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockState) Balance(addr [20]byte, token string) (*big.Int, error) {
	return m.balance(addr, token), nil
}

func (m *mockState) balance(addr [20]byte, token string) *big.Int {
	if v, ok := m.balances[balanceKey{addr, token}]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

func (m *mockState) credit(addr [20]byte, token string, amount int64) {
	m.balances[balanceKey{addr, token}] = new(big.Int).Add(m.balance(addr, token), big.NewInt(amount))
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

type recordingEmitter struct {
	events []*types.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	if payload, ok := events.Payload(evt); ok {
		r.events = append(r.events, payload)
	}
}

func (r *recordingEmitter) eventTypes() []string {
	out := make([]string, len(r.events))
	for i, evt := range r.events {
		out[i] = evt.Type
	}
	return out
}

var (
	creator = [20]byte{0xc1}
	trader  = [20]byte{0x7a}
)

func newTestPool(t *testing.T) (*Engine, *mockState, *recordingEmitter, *Pool) {
	t.Helper()
	state := newMockState()
	state.credit(creator, "MEME", 500_000)
	state.credit(trader, "USDC", 10_000)
	emitter := &recordingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	pool, err := engine.CreatePool(creator, PoolParams{
		BaseToken:           "meme",
		QuoteToken:          "usdc",
		VirtualBase:         uint256.NewInt(1_000_000),
		VirtualQuote:        uint256.NewInt(1_000_000),
		SeedBase:            uint256.NewInt(500_000),
		GraduationThreshold: uint256.NewInt(1_000),
		FeeBps:              100,
	})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return engine, state, emitter, pool
}

func buy(amount uint64, snapshot Snapshot) ExecuteRequest {
	return ExecuteRequest{Direction: Buy, InputAmount: uint256.NewInt(amount), Snapshot: snapshot}
}

func TestCreatePoolSeedsVault(t *testing.T) {
	_, state, emitter, pool := newTestPool(t)
	if pool.Status != PoolLive || pool.FeeProfile != fees.ProfileBonding {
		t.Fatalf("unexpected pool: %+v", pool)
	}
	if got := state.balance(PoolVault(pool.ID), "MEME"); got.Int64() != 500_000 {
		t.Fatalf("vault not seeded: %s", got)
	}
	if got := state.balance(creator, "MEME"); got.Sign() != 0 {
		t.Fatalf("creator still holds seed: %s", got)
	}
	if len(emitter.events) != 1 || emitter.events[0].Type != EventTypePoolCreated {
		t.Fatalf("unexpected events: %v", emitter.eventTypes())
	}
}

func TestExecuteBuySplitsFeeAndGraduates(t *testing.T) {
	engine, state, emitter, pool := newTestPool(t)
	ctx := context.Background()

	quote, err := engine.Quote(ctx, pool.ID, QuoteRequest{Direction: "BUY", InputAmount: "1000", SlippageBps: 100})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.OutputAmount != "989" || quote.FeeTotal != "10" {
		t.Fatalf("unexpected quote: %+v", quote)
	}
	minOut, err := ParseAmount(quote.MinimumOutput)
	if err != nil {
		t.Fatalf("parse minimum: %v", err)
	}
	req := buy(1000, quote.Snapshot)
	req.MinOutput = minOut
	result, err := engine.Execute(ctx, pool.ID, trader, req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Output.Uint64() != 989 {
		t.Fatalf("expected 989 base out, got %s", result.Output)
	}
	if got := state.balance(trader, "MEME"); got.Int64() != 989 {
		t.Fatalf("trader base balance: %s", got)
	}
	if got := state.balance(trader, "USDC"); got.Int64() != 9_000 {
		t.Fatalf("trader quote balance: %s", got)
	}
	treasury := common.ModuleAddress("fees", fees.BucketTreasury)
	referral := common.ModuleAddress("fees", fees.BucketReferralPool)
	if state.balance(treasury, "USDC").Int64() != 5 || state.balance(referral, "USDC").Int64() != 5 {
		t.Fatalf("fee split mismatch")
	}
	stored, err := engine.Pool(pool.ID)
	if err != nil {
		t.Fatalf("load pool: %v", err)
	}
	if stored.ActualQuote.Uint64() != 990 || stored.RealBase.Uint64() != 499_011 {
		t.Fatalf("unexpected real reserves: quote=%s base=%s", stored.ActualQuote, stored.RealBase)
	}
	if stored.Status != PoolLive {
		t.Fatalf("pool graduated too early")
	}
	if state.balance(PoolVault(pool.ID), "USDC").Int64() != 990 {
		t.Fatalf("vault quote balance mismatch")
	}

	result, err = engine.Execute(ctx, pool.ID, trader, buy(20, stored.Snapshot()))
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if result.Output.Uint64() != 19 || !result.Fee.IsZero() {
		t.Fatalf("unexpected second swap: %+v", result)
	}
	stored, _ = engine.Pool(pool.ID)
	if stored.Status != PoolGraduating || stored.ActualQuote.Uint64() != 1_010 {
		t.Fatalf("expected graduating pool, got %s with %s", stored.Status, stored.ActualQuote)
	}
	got := emitter.eventTypes()
	if got[len(got)-1] != EventTypeGraduating {
		t.Fatalf("expected graduating event last, got %v", got)
	}

	if _, err := engine.Execute(ctx, pool.ID, trader, buy(20, stored.Snapshot())); !errors.Is(err, ErrPoolNotLive) {
		t.Fatalf("expected ErrPoolNotLive, got %v", err)
	}
	graduated, err := engine.MarkGraduated(pool.ID)
	if err != nil || graduated.Status != PoolGraduated {
		t.Fatalf("mark graduated: %v %+v", err, graduated)
	}
	if _, err := engine.MarkGraduated(pool.ID); !errors.Is(err, ErrPoolNotGraduating) {
		t.Fatalf("expected ErrPoolNotGraduating, got %v", err)
	}
}

func TestExecuteRejectsStaleSnapshotAndSlippage(t *testing.T) {
	engine, state, _, pool := newTestPool(t)
	ctx := context.Background()
	original := pool.Snapshot()

	tooHigh := buy(1000, original)
	tooHigh.MinOutput = uint256.NewInt(990)
	if _, err := engine.Execute(ctx, pool.ID, trader, tooHigh); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if state.balance(trader, "USDC").Int64() != 10_000 {
		t.Fatalf("rejected swap moved funds")
	}

	if _, err := engine.Execute(ctx, pool.ID, trader, buy(100, original)); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(100, original)); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote, got %v", err)
	}
}

func TestExecuteSellRespectsRealQuote(t *testing.T) {
	engine, state, _, pool := newTestPool(t)
	ctx := context.Background()
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(1000, pool.Snapshot())); err != nil {
		t.Fatalf("buy: %v", err)
	}
	stored, _ := engine.Pool(pool.ID)
	before := new(uint256.Int).Mul(stored.VirtualBase, stored.VirtualQuote)

	sell := ExecuteRequest{Direction: Sell, InputAmount: uint256.NewInt(989), Snapshot: stored.Snapshot()}
	result, err := engine.Execute(ctx, pool.ID, trader, sell)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	after, _ := engine.Pool(pool.ID)
	if new(uint256.Int).Mul(after.VirtualBase, after.VirtualQuote).Lt(before) {
		t.Fatalf("product decreased on sell")
	}
	if result.Output.Gt(stored.ActualQuote) {
		t.Fatalf("sell paid out more quote than the vault held")
	}
	if after.ActualQuote.Uint64()+result.Output.Uint64() != stored.ActualQuote.Uint64() {
		t.Fatalf("actual quote not debited")
	}
	if state.balance(trader, "MEME").Sign() != 0 {
		t.Fatalf("trader should have sold all base")
	}
	vaultQuote := state.balance(PoolVault(pool.ID), "USDC")
	if vaultQuote.Uint64() != after.ActualQuote.Uint64() {
		t.Fatalf("vault %s diverges from pool %s", vaultQuote, after.ActualQuote)
	}
}

func TestExecuteRollsBackOnPersistFailure(t *testing.T) {
	engine, state, _, pool := newTestPool(t)
	state.failPut = true
	if _, err := engine.Execute(context.Background(), pool.ID, trader, buy(1000, pool.Snapshot())); err == nil {
		t.Fatalf("expected persist failure")
	}
	if state.balance(trader, "USDC").Int64() != 10_000 || state.balance(trader, "MEME").Sign() != 0 {
		t.Fatalf("balances not restored")
	}
	if state.balance(PoolVault(pool.ID), "MEME").Int64() != 500_000 {
		t.Fatalf("vault not restored")
	}
}

func TestExecuteGuards(t *testing.T) {
	engine, state, _, pool := newTestPool(t)
	ctx := context.Background()

	poor := [20]byte{0x99}
	if _, err := engine.Execute(ctx, pool.ID, poor, buy(1000, pool.Snapshot())); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	state.credit(trader, "USDC", 10_000_000)
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(5_000_000, pool.Snapshot())); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}

	if _, err := engine.Execute(ctx, [32]byte{0x01}, trader, buy(1, pool.Snapshot())); !errors.Is(err, ErrPoolNotFound) {
		t.Fatalf("expected ErrPoolNotFound, got %v", err)
	}

	engine.SetThrottle(common.NewThrottle(common.RateLimit{PerMinute: 1, Burst: 1}, 0, 0))
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(10, pool.Snapshot())); err != nil {
		t.Fatalf("first throttled call: %v", err)
	}
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(10, pool.Snapshot())); !errors.Is(err, common.ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	engine.SetPauses(common.Pauses{common.ModuleBonding: true})
	if _, err := engine.Execute(ctx, pool.ID, trader, buy(10, pool.Snapshot())); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
}
