package bonding

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"launchpad/core/events"
	"launchpad/core/types"
	"launchpad/native/common"
	"launchpad/native/fees"
	"launchpad/observability"
	"launchpad/observability/logging"
	"launchpad/observability/otel"
)

// State is the storage surface required by the bonding engine.
type State interface {
	BondingPoolPut(*Pool) error
	BondingPoolGet(id [32]byte) (*Pool, bool, error)
	Balance(addr [20]byte, token string) (*big.Int, error)
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// ExecuteRequest is a swap the trader has already been quoted. Snapshot must
// equal the reserves the quote was priced against.
type ExecuteRequest struct {
	Direction   Direction
	InputAmount *uint256.Int
	MinOutput   *uint256.Int
	Snapshot    Snapshot
}

// Engine executes swaps against bonding pools and detects graduation.
type Engine struct {
	state    State
	emitter  events.Emitter
	pauses   common.PauseView
	locks    *common.KeyedMutex
	profiles *fees.Registry
	throttle *common.Throttle
	logger   *slog.Logger
	metrics  *observability.SettlementMetrics
	tracer   trace.Tracer
	nowFn    func() int64
}

// NewEngine constructs an engine using the stock fee profiles.
func NewEngine() *Engine {
	registry, _ := fees.NewRegistry(fees.DefaultProfiles()...)
	return &Engine{
		emitter:  events.NoopEmitter{},
		locks:    common.NewKeyedMutex(),
		profiles: registry,
		logger:   slog.Default(),
		metrics:  observability.Settlement(),
		tracer:   otel.Tracer("launchpad/bonding"),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state State) { e.state = state }

// SetPauses wires the module-wide pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetFeeProfiles replaces the registry used to resolve pool fee profiles.
func (e *Engine) SetFeeProfiles(registry *fees.Registry) {
	if registry != nil {
		e.profiles = registry
	}
}

// SetThrottle configures the per-trader swap rate limit.
func (e *Engine) SetThrottle(t *common.Throttle) { e.throttle = t }

// SetEmitter configures the event emitter. Passing nil installs a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) load(id [32]byte) (*Pool, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	pool, ok, err := e.state.BondingPoolGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

// CreatePool opens a LIVE pool and moves the creator's seed base tokens into
// the pool vault.
func (e *Engine) CreatePool(creator [20]byte, params PoolParams) (*Pool, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	if err := common.Guard(e.pauses, common.ModuleBonding); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	profileName := params.FeeProfile
	if profileName == "" {
		profileName = fees.ProfileBonding
	}
	if _, err := e.profiles.Lookup(profileName); err != nil {
		return nil, err
	}
	base, _ := common.NormalizeToken(params.BaseToken)
	quote, _ := common.NormalizeToken(params.QuoteToken)
	now := e.nowFn()
	pool := &Pool{
		ID:                  DerivePoolID(creator, base, quote, now),
		Creator:             creator,
		BaseToken:           base,
		QuoteToken:          quote,
		VirtualBase:         params.VirtualBase.Clone(),
		VirtualQuote:        params.VirtualQuote.Clone(),
		RealBase:            params.SeedBase.Clone(),
		ActualQuote:         new(uint256.Int),
		GraduationThreshold: params.GraduationThreshold.Clone(),
		FeeBps:              params.FeeBps,
		FeeProfile:          fees.NormalizeName(profileName),
		Status:              PoolLive,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	unlock := e.locks.Lock(pool.ID)
	defer unlock()
	if _, exists, err := e.state.BondingPoolGet(pool.ID); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrPoolExists
	}
	vault := PoolVault(pool.ID)
	seed := pool.RealBase.ToBig()
	if err := e.state.Transfer(creator, vault, base, seed); err != nil {
		return nil, fmt.Errorf("bonding: seed pool: %w", err)
	}
	if err := e.state.BondingPoolPut(pool); err != nil {
		if rollbackErr := e.state.Transfer(vault, creator, base, seed); rollbackErr != nil {
			return nil, errors.Join(err, fmt.Errorf("bonding: rollback seed: %w", rollbackErr))
		}
		return nil, err
	}
	e.emit(newPoolEvent(EventTypePoolCreated, pool))
	return pool.Clone(), nil
}

// Pool returns the stored pool.
func (e *Engine) Pool(id [32]byte) (*Pool, error) {
	return e.load(id)
}

// Quote prices req on the pool's current reserves.
func (e *Engine) Quote(ctx context.Context, id [32]byte, req QuoteRequest) (resp QuoteResponse, err error) {
	_, span := e.tracer.Start(ctx, "bonding.quote",
		trace.WithAttributes(attribute.String("pool.id", hex.EncodeToString(id[:]))))
	defer func() { otel.EndSpan(span, err) }()

	pool, err := e.load(id)
	if err != nil {
		return QuoteResponse{}, err
	}
	return Quote(pool, req)
}

type transferLeg struct {
	from, to [20]byte
	token    string
	amount   *big.Int
}

// Execute re-derives the swap on the current reserves and settles it. The
// request fails with ErrStaleQuote if the reserves moved since the quote and
// with ErrSlippageExceeded if the output fell below MinOutput. A buy that
// lifts the real quote reserves to the graduation threshold moves the pool
// to GRADUATING.
func (e *Engine) Execute(ctx context.Context, id [32]byte, trader [20]byte, req ExecuteRequest) (result SwapResult, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "bonding.execute",
		trace.WithAttributes(
			attribute.String("pool.id", hex.EncodeToString(id[:])),
			attribute.String("swap.direction", req.Direction.String()),
		))
	defer func() {
		otel.EndSpan(span, err)
		e.metrics.Observe(common.ModuleBonding, "execute", time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return SwapResult{}, err
	}
	if err := common.Guard(e.pauses, common.ModuleBonding); err != nil {
		return SwapResult{}, err
	}
	if err := e.throttle.Allow(hex.EncodeToString(trader[:])); err != nil {
		e.metrics.RecordThrottle(common.ModuleBonding, "rate")
		return SwapResult{}, err
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	pool, err := e.load(id)
	if err != nil {
		return SwapResult{}, err
	}
	if pool.Status != PoolLive {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrPoolNotLive, pool.Status)
	}
	if current := pool.Snapshot(); current != req.Snapshot {
		return SwapResult{}, fmt.Errorf("%w: reserves now %s/%s", ErrStaleQuote, current.VirtualBase, current.VirtualQuote)
	}
	result, err = Swap(req.Direction, req.InputAmount, pool.VirtualBase, pool.VirtualQuote, pool.FeeBps)
	if err != nil {
		return SwapResult{}, err
	}
	if req.MinOutput != nil && result.Output.Lt(req.MinOutput) {
		return SwapResult{}, fmt.Errorf("%w: output %s below %s", ErrSlippageExceeded, result.Output.Dec(), req.MinOutput.Dec())
	}

	inToken, outToken := pool.QuoteToken, pool.BaseToken
	available := pool.RealBase
	if req.Direction == Sell {
		inToken, outToken = pool.BaseToken, pool.QuoteToken
		available = pool.ActualQuote
	}
	if result.Output.Gt(available) {
		return SwapResult{}, fmt.Errorf("%w: output %s, vault holds %s", ErrInsufficientLiquidity, result.Output.Dec(), available.Dec())
	}
	balance, err := e.state.Balance(trader, inToken)
	if err != nil {
		return SwapResult{}, err
	}
	if balance.Cmp(result.Input.ToBig()) < 0 {
		return SwapResult{}, ErrInsufficientBalance
	}

	legs, shares, err := e.swapLegs(pool, trader, inToken, outToken, result)
	if err != nil {
		return SwapResult{}, err
	}

	updated := pool.Clone()
	updated.VirtualBase = result.NewBase
	updated.VirtualQuote = result.NewQuote
	switch req.Direction {
	case Buy:
		updated.ActualQuote = new(uint256.Int).Add(pool.ActualQuote, result.InputAfterFee)
		updated.RealBase = new(uint256.Int).Sub(pool.RealBase, result.Output)
	case Sell:
		updated.RealBase = new(uint256.Int).Add(pool.RealBase, result.InputAfterFee)
		updated.ActualQuote = new(uint256.Int).Sub(pool.ActualQuote, result.Output)
	}
	now := e.nowFn()
	updated.UpdatedAt = now
	graduating := updated.Graduation().ThresholdMet
	if graduating {
		updated.Status = PoolGraduating
	}

	if err := e.settle(legs, updated); err != nil {
		return SwapResult{}, err
	}

	e.emit(newSwapEvent(updated, trader, result, now))
	for _, share := range shares {
		e.emitter.Emit(events.FeeRouted{
			Domain:    events.FeeDomainBonding,
			Reference: updated.ID,
			Asset:     inToken,
			Profile:   updated.FeeProfile,
			Bucket:    share.Name,
			Recipient: share.Destination(),
			Gross:     result.Input.ToBig(),
			Amount:    new(big.Int).Set(share.Amount),
			FeeBps:    updated.FeeBps,
			At:        now,
		})
	}
	e.metrics.RecordSwap(req.Direction.String())
	e.metrics.AddVolume(common.ModuleBonding, req.Direction.String(), result.Input.ToBig())
	if graduating {
		e.emit(newPoolEvent(EventTypeGraduating, updated))
		e.metrics.RecordGraduation()
		e.logger.Info("bonding pool reached graduation threshold",
			logging.ID("pool", updated.ID),
			slog.String("actualQuote", updated.ActualQuote.Dec()),
			slog.String("threshold", updated.GraduationThreshold.Dec()))
	}
	span.SetAttributes(attribute.String("swap.output", result.Output.Dec()))
	return result, nil
}

// swapLegs returns the transfers settling result and the non-zero fee
// shares they pay out.
func (e *Engine) swapLegs(pool *Pool, trader [20]byte, inToken, outToken string, result SwapResult) ([]transferLeg, fees.Shares, error) {
	vault := PoolVault(pool.ID)
	legs := []transferLeg{
		{from: trader, to: vault, token: inToken, amount: result.InputAfterFee.ToBig()},
	}
	var paid fees.Shares
	if !result.Fee.IsZero() {
		profile, err := e.profiles.Lookup(pool.FeeProfile)
		if err != nil {
			return nil, nil, err
		}
		shares, err := fees.Split(profile, result.Fee.ToBig())
		if err != nil {
			return nil, nil, err
		}
		for _, share := range shares {
			if share.Amount.Sign() == 0 {
				continue
			}
			legs = append(legs, transferLeg{from: trader, to: share.Destination(), token: inToken, amount: share.Amount})
			paid = append(paid, share)
		}
	}
	legs = append(legs, transferLeg{from: vault, to: trader, token: outToken, amount: result.Output.ToBig()})
	return legs, paid, nil
}

// settle applies every transfer leg and persists the pool, reversing the
// applied legs if any step fails.
func (e *Engine) settle(legs []transferLeg, pool *Pool) error {
	applied := make([]transferLeg, 0, len(legs))
	rollback := func(cause error) error {
		for i := len(applied) - 1; i >= 0; i-- {
			leg := applied[i]
			if err := e.state.Transfer(leg.to, leg.from, leg.token, leg.amount); err != nil {
				return errors.Join(cause, fmt.Errorf("bonding: rollback transfer: %w", err))
			}
		}
		return cause
	}
	for _, leg := range legs {
		if err := e.state.Transfer(leg.from, leg.to, leg.token, leg.amount); err != nil {
			return rollback(fmt.Errorf("bonding: transfer %s: %w", leg.token, err))
		}
		applied = append(applied, leg)
	}
	if err := e.state.BondingPoolPut(pool); err != nil {
		return rollback(err)
	}
	return nil
}

// MarkGraduated completes the migration of a GRADUATING pool.
func (e *Engine) MarkGraduated(id [32]byte) (*Pool, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	pool, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if pool.Status != PoolGraduating {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotGraduating, pool.Status)
	}
	updated := pool.Clone()
	updated.Status = PoolGraduated
	updated.UpdatedAt = e.nowFn()
	if err := e.state.BondingPoolPut(updated); err != nil {
		return nil, err
	}
	e.emit(newPoolEvent(EventTypeGraduated, updated))
	return updated.Clone(), nil
}
