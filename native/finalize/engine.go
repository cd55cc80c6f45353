package finalize

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"launchpad/core/events"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/fees"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/observability"
	"launchpad/observability/logging"
	"launchpad/observability/otel"
)

// ResultStore persists finalization results keyed by round.
type ResultStore interface {
	FinalizeResultPut(roundID [32]byte, result *Result) error
	FinalizeResultGet(roundID [32]byte) (*Result, bool, error)
}

// Transaction is an isolated view over every store finalization touches.
// Nothing written through it is visible to other readers until Commit.
type Transaction interface {
	escrow.State
	sale.State
	vesting.State
	ResultStore
	Commit() error
	Discard()
}

// Transactor opens a new transaction.
type Transactor func() (Transaction, error)

// MerkleInputs carries the operator's vesting parameters for a successful
// round. MerkleRoot, TotalVestingAllocation and TokensForSale are optional
// cross-checks: when set they must match the computed values.
type MerkleInputs struct {
	Salt                   [32]byte
	ChainID                uint64
	Contract               [20]byte
	TGEAt                  int64
	TGEPercentage          uint8
	CliffDuration          int64
	VestingDuration        int64
	Interval               vesting.IntervalType
	MerkleRoot             [32]byte
	TotalVestingAllocation *big.Int
	TokensForSale          *big.Int
}

// Engine settles ended rounds: it decides the outcome, moves every asset in
// a single transaction and records the immutable result.
type Engine struct {
	escrow     *escrow.Engine
	sale       *sale.Engine
	vesting    *vesting.Ledger
	profiles   *fees.Registry
	begin      Transactor
	operator   [20]byte
	saleFeeBps uint32
	pauses     common.PauseView
	emitter    events.Emitter
	logger     *slog.Logger
	metrics    *observability.SettlementMetrics
	tracer     trace.Tracer
}

// NewEngine wires the finalization engine to the component engines. Their
// state is replaced per call by the transaction opened through the
// configured Transactor.
func NewEngine(escrowEngine *escrow.Engine, saleEngine *sale.Engine, ledger *vesting.Ledger) *Engine {
	registry, _ := fees.NewRegistry(fees.DefaultProfiles()...)
	return &Engine{
		escrow:     escrowEngine,
		sale:       saleEngine,
		vesting:    ledger,
		profiles:   registry,
		operator:   common.ModuleAddress("finalize", "operator"),
		saleFeeBps: DefaultSaleFeeBps,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		metrics:    observability.Settlement(),
		tracer:     otel.Tracer("launchpad/finalize"),
	}
}

// SetTransactor configures how transactions are opened.
func (e *Engine) SetTransactor(begin Transactor) { e.begin = begin }

// SetFeeProfiles replaces the registry used to resolve round fee profiles.
func (e *Engine) SetFeeProfiles(registry *fees.Registry) {
	if registry != nil {
		e.profiles = registry
	}
}

// SetSaleFeeBps overrides the protocol fee charged on successful raises.
func (e *Engine) SetSaleFeeBps(bps uint32) { e.saleFeeBps = bps }

// SetOperator sets the account that releases and refunds escrow deposits.
// It must hold escrow.RoleOperator when the escrow engine checks roles.
func (e *Engine) SetOperator(addr [20]byte) { e.operator = addr }

// Operator returns the escrow operator account.
func (e *Engine) Operator() [20]byte { return e.operator }

// SetPauses wires the module-wide pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

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

// SettlementVault is the transit account holding released escrow tokens
// while they are routed to the burn sink, vesting and the depositor.
func SettlementVault(token string) [20]byte {
	return common.ModuleAddress("finalize", "settlement", token)
}

type session struct {
	tx      Transaction
	escrow  *escrow.Engine
	sale    *sale.Engine
	vesting *vesting.Ledger
	buffer  *events.Buffer
}

type applyFunc func(s *session, round *sale.Round) (*Result, error)

// FinalizeSuccess settles a round whose raise met the softcap: fees are
// split, the owner is paid, unsold tokens are burned and the vesting
// schedule committing to every entitlement is created.
func (e *Engine) FinalizeSuccess(ctx context.Context, roundID [32]byte, inputs MerkleInputs, now int64) (*Result, error) {
	return e.execute(ctx, "finalize.success", roundID, now, func(s *session, round *sale.Round) (*Result, error) {
		return e.succeed(s, round, inputs, now)
	})
}

// FinalizeFailed settles an ended round as failed: every contribution is
// refunded in full and the deposit returns to the depositor.
func (e *Engine) FinalizeFailed(ctx context.Context, roundID [32]byte, reason string, now int64) (*Result, error) {
	return e.execute(ctx, "finalize.failed", roundID, now, func(s *session, round *sale.Round) (*Result, error) {
		return e.fail(s, round, reason, now)
	})
}

// Settle runs the refund path for a cancelled round.
func (e *Engine) Settle(ctx context.Context, roundID [32]byte, now int64) (*Result, error) {
	return e.execute(ctx, "finalize.cancelled", roundID, now, func(s *session, round *sale.Round) (*Result, error) {
		return e.cancelled(s, round, now)
	})
}

// Result returns the stored result for roundID.
func (e *Engine) Result(roundID [32]byte) (*Result, bool, error) {
	if e.begin == nil {
		return nil, false, ErrNoTransactor
	}
	tx, err := e.begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Discard()
	return tx.FinalizeResultGet(roundID)
}

func (e *Engine) execute(ctx context.Context, op string, roundID [32]byte, now int64, apply applyFunc) (result *Result, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("round.id", hex.EncodeToString(roundID[:]))))
	defer func() {
		otel.EndSpan(span, err)
		e.metrics.Observe(common.ModuleFinalize, op, time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := common.Guard(e.pauses, common.ModuleFinalize); err != nil {
		return nil, err
	}
	if e.begin == nil {
		return nil, ErrNoTransactor
	}

	unlock := e.sale.Locks().Lock(roundID)
	defer unlock()

	tx, err := e.begin()
	if err != nil {
		return nil, err
	}
	defer tx.Discard()

	if stored, ok, err := tx.FinalizeResultGet(roundID); err != nil {
		return nil, err
	} else if ok {
		e.metrics.RecordIdempotency(common.ModuleFinalize, true)
		span.SetAttributes(attribute.Bool("finalize.replay", true))
		return stored, nil
	}
	e.metrics.RecordIdempotency(common.ModuleFinalize, false)

	buffer := &events.Buffer{}
	s := &session{
		tx:      tx,
		escrow:  e.escrow.WithState(tx, buffer),
		sale:    e.sale.WithState(tx, buffer),
		vesting: e.vesting.WithState(tx, buffer),
		buffer:  buffer,
	}
	round, err := s.sale.Get(roundID)
	if err != nil {
		return nil, err
	}
	result, err = apply(s, round)
	if err != nil {
		var recErr *ReconciliationError
		if errors.As(err, &recErr) {
			recErr.RoundID = roundID
			e.rejected(roundID, recErr)
		}
		return nil, err
	}
	result.RoundID = roundID
	result.FinalizedAt = now
	if err := tx.FinalizeResultPut(roundID, result); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("finalize: commit: %w", err)
	}

	buffer.FlushTo(e.emitter)
	e.emitter.Emit(events.Wrap(newFinalizedEvent(result)))
	e.metrics.RecordFinalization(result.Status.String())
	span.SetAttributes(attribute.String("finalize.status", result.Status.String()))
	e.logger.Info("round finalized",
		logging.ID("round", roundID),
		slog.String("status", result.Status.String()),
		slog.String("netPayout", result.NetPayout.String()),
		slog.String("feeTotal", result.FeeTotal.String()),
		slog.String("burn", result.BurnAmount.String()),
		slog.String("vestingFunded", result.VestingFundedAmount.String()))
	return result.Clone(), nil
}

func (e *Engine) rejected(roundID [32]byte, recErr *ReconciliationError) {
	e.metrics.RecordReconciliationFailure()
	e.emitter.Emit(events.Wrap(newRejectedEvent(roundID, recErr)))
	attrs := []any{logging.ID("round", roundID)}
	for _, violation := range recErr.Violations {
		attrs = append(attrs, slog.String("violation", violation))
	}
	for _, key := range sortedKeys(recErr.Breakdown) {
		attrs = append(attrs, slog.String(key, recErr.Breakdown[key]))
	}
	e.logger.Error("finalization rejected by reconciliation", attrs...)
}

// prepare gathers the settlement input. A missing deposit is tolerated on
// the refund paths, where there may be nothing to return.
func (e *Engine) prepare(s *session, round *sale.Round, status Status) (Input, *escrow.Deposit, error) {
	contributions, err := s.sale.ContributorTotals(round.ID)
	if err != nil {
		return Input{}, nil, err
	}
	deposit, err := s.escrow.Get(round.ProjectID)
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		if status == StatusSuccess {
			return Input{}, nil, ErrDepositMissing
		}
		deposit = nil
	case err != nil:
		return Input{}, nil, err
	}
	escrowBalance := big.NewInt(0)
	if deposit != nil {
		if deposit.Token != round.SaleToken {
			return Input{}, nil, fmt.Errorf("%w: deposit token %s, sale token %s", ErrInvalidInput, deposit.Token, round.SaleToken)
		}
		escrowBalance = deposit.Balance()
	}
	in := Input{
		Status:        status,
		TotalRaised:   cloneBig(round.TotalRaised),
		TokensForSale: cloneBig(round.TokensForSale),
		Hardcap:       round.Hardcap,
		Contributions: contributions,
		EscrowBalance: escrowBalance,
		SaleFeeBps:    e.saleFeeBps,
	}
	if status == StatusSuccess {
		name := round.FeeProfile
		if name == "" {
			name = fees.ProfileSale
		}
		profile, err := e.profiles.Lookup(name)
		if err != nil {
			return Input{}, nil, err
		}
		in.FeeProfile = profile
	}
	return in, deposit, nil
}

func (e *Engine) compute(in Input) (*Result, error) {
	result, err := Compute(in)
	if err != nil {
		return nil, err
	}
	if err := Reconcile(in, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) succeed(s *session, round *sale.Round, inputs MerkleInputs, now int64) (*Result, error) {
	outcome, err := s.sale.Resolve(round.ID, now)
	if err != nil {
		return nil, err
	}
	if outcome != sale.StatusFinalizedSuccess {
		return nil, fmt.Errorf("%w: round resolves to %s", ErrOutcomeMismatch, outcome)
	}
	in, deposit, err := e.prepare(s, round, StatusSuccess)
	if err != nil {
		return nil, err
	}
	result, err := e.compute(in)
	if err != nil {
		return nil, err
	}

	schedule := &vesting.Schedule{
		RoundID:         round.ID,
		Token:           round.SaleToken,
		TotalTokens:     cloneBig(result.VestingFundedAmount),
		TGEPercentage:   inputs.TGEPercentage,
		TGEAt:           inputs.TGEAt,
		CliffDuration:   inputs.CliffDuration,
		VestingDuration: inputs.VestingDuration,
		Interval:        inputs.Interval,
		Salt:            inputs.Salt,
		ChainID:         inputs.ChainID,
		Contract:        inputs.Contract,
	}
	if schedule.TGEAt == 0 {
		schedule.TGEAt = now
	}
	if schedule.Interval == 0 {
		schedule.Interval = vesting.IntervalLinear
	}
	tree, err := vesting.AllocationTree(schedule, result.Entitlements)
	if err != nil {
		return nil, err
	}
	schedule.MerkleRoot = tree.Root()
	if err := crossCheck(result, inputs, schedule.MerkleRoot); err != nil {
		return nil, err
	}

	if _, err := s.sale.BeginFinalizing(round.ID, now); err != nil {
		return nil, err
	}
	token := deposit.Token
	settlement := SettlementVault(token)
	if _, err := s.escrow.Release(round.ProjectID, e.operator, settlement); err != nil {
		return nil, fmt.Errorf("finalize: release escrow: %w", err)
	}
	tokenLegs := []struct {
		to     [20]byte
		amount *big.Int
	}{
		{common.BurnAddress, result.BurnAmount},
		{vesting.VaultAddress(token), result.VestingFundedAmount},
		{deposit.Depositor, result.DepositReturned},
	}
	for _, leg := range tokenLegs {
		if leg.amount.Sign() == 0 {
			continue
		}
		if err := s.tx.Transfer(settlement, leg.to, token, leg.amount); err != nil {
			return nil, fmt.Errorf("finalize: route %s: %w", token, err)
		}
	}

	saleVault := sale.VaultAddress(round.QuoteToken)
	for _, share := range result.FeeShares {
		if share.Amount.Sign() == 0 {
			continue
		}
		if err := s.tx.Transfer(saleVault, share.Destination(), round.QuoteToken, share.Amount); err != nil {
			return nil, fmt.Errorf("finalize: pay fee %s: %w", share.Name, err)
		}
	}
	if result.NetPayout.Sign() > 0 {
		if err := s.tx.Transfer(saleVault, round.Owner, round.QuoteToken, result.NetPayout); err != nil {
			return nil, fmt.Errorf("finalize: pay owner: %w", err)
		}
	}
	for _, share := range result.FeeShares {
		if share.Amount.Sign() == 0 {
			continue
		}
		s.buffer.Emit(events.FeeRouted{
			Domain:    events.FeeDomainSale,
			Reference: round.ID,
			Asset:     round.QuoteToken,
			Profile:   in.FeeProfile.Name,
			Bucket:    share.Name,
			Recipient: share.Destination(),
			Gross:     cloneBig(result.TotalRaised),
			Amount:    cloneBig(share.Amount),
			FeeBps:    in.SaleFeeBps,
			At:        now,
		})
	}

	created, err := s.vesting.CreateSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if _, err := s.sale.MarkFinalized(round.ID, sale.StatusFinalizedSuccess, now); err != nil {
		return nil, err
	}
	result.MerkleRoot = created.MerkleRoot
	result.ScheduleID = created.ID
	if price, err := sale.EffectivePrice(round, round.TotalRaised); err == nil {
		result.EffectivePrice = price
	}
	return result, nil
}

func crossCheck(result *Result, inputs MerkleInputs, root [32]byte) error {
	r := &reconciler{}
	if inputs.TokensForSale != nil {
		r.equal("operator tokens_for_sale", inputs.TokensForSale, result.TokensForSale)
	}
	if inputs.TotalVestingAllocation != nil {
		r.equal("operator vesting allocation", inputs.TotalVestingAllocation, result.VestingFundedAmount)
	}
	if inputs.MerkleRoot != ([32]byte{}) {
		r.check(inputs.MerkleRoot == root, "operator merkle root %x != computed %x", inputs.MerkleRoot, root)
	}
	if len(r.violations) == 0 {
		return nil
	}
	return &ReconciliationError{Violations: r.violations, Breakdown: Breakdown(result)}
}

func (e *Engine) fail(s *session, round *sale.Round, reason string, now int64) (*Result, error) {
	outcome, err := s.sale.Resolve(round.ID, now)
	if err != nil {
		return nil, err
	}
	if outcome != sale.StatusFinalizedFailed {
		return nil, fmt.Errorf("%w: round resolves to %s", ErrOutcomeMismatch, outcome)
	}
	if status := round.Status(now); status != sale.StatusEnded && status != sale.StatusFinalizing {
		return nil, fmt.Errorf("%w: round is %s", ErrOutcomeMismatch, status)
	}
	if _, err := s.sale.BeginFinalizing(round.ID, now); err != nil {
		return nil, err
	}
	result, err := e.refund(s, round, StatusFailed, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.sale.MarkFinalized(round.ID, sale.StatusFinalizedFailed, now); err != nil {
		return nil, err
	}
	result.Reason = reason
	return result, nil
}

func (e *Engine) cancelled(s *session, round *sale.Round, now int64) (*Result, error) {
	if round.Status(now) != sale.StatusCancelled {
		return nil, fmt.Errorf("%w: status %s", ErrNotCancelled, round.Status(now))
	}
	return e.refund(s, round, StatusCancelled, now)
}

// refund returns every contribution and the escrowed deposit.
func (e *Engine) refund(s *session, round *sale.Round, status Status, now int64) (*Result, error) {
	in, deposit, err := e.prepare(s, round, status)
	if err != nil {
		return nil, err
	}
	result, err := e.compute(in)
	if err != nil {
		return nil, err
	}
	if len(in.Contributions) > 0 {
		if _, err := s.sale.RefundContributions(round.ID, now); err != nil {
			return nil, err
		}
	}
	if deposit != nil && deposit.Pending() {
		if _, err := s.escrow.Refund(round.ProjectID, e.operator); err != nil {
			return nil, fmt.Errorf("finalize: refund escrow: %w", err)
		}
	}
	return result, nil
}
