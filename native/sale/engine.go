package sale

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"launchpad/core/events"
	"launchpad/core/types"
	"launchpad/native/common"
	"launchpad/observability"
	"launchpad/observability/logging"
)

// State is the storage surface required by the sale engine.
type State interface {
	SaleRoundPut(*Round) error
	SaleRoundGet(id [32]byte) (*Round, bool, error)
	SaleContributionAppend(id [32]byte, c *Contribution) error
	SaleContributions(id [32]byte) ([]*Contribution, error)
	SaleContributedGet(id [32]byte, contributor [20]byte) (*big.Int, error)
	SaleContributedPut(id [32]byte, contributor [20]byte, total *big.Int) error
	SaleQuotaGet(id [32]byte, contributor [20]byte) (common.QuotaNow, bool, error)
	SaleQuotaPut(id [32]byte, contributor [20]byte, usage common.QuotaNow) error
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// Transaction is a State whose writes become visible together on Commit.
type Transaction interface {
	State
	Commit() error
	Discard()
}

// Transactor opens a new transaction.
type Transactor func() (Transaction, error)

// Engine drives the sale round lifecycle and custody of contributed quote
// tokens.
type Engine struct {
	state    State
	begin    Transactor
	pauses   common.PauseView
	quota    common.Quota
	throttle *common.Throttle
	emitter  events.Emitter
	locks    *common.KeyedMutex
	logger   *slog.Logger
	metrics  *observability.SettlementMetrics
	nowFn    func() int64
}

// NewEngine constructs a sale engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		locks:   common.NewKeyedMutex(),
		logger:  slog.Default(),
		metrics: observability.Settlement(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetTransactor makes every mutation commit through its own transaction.
// Without one, writes go straight to the configured State.
func (e *Engine) SetTransactor(begin Transactor) { e.begin = begin }

// SetPauses wires the module pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetQuota configures the per-contributor epoch quota. The zero Quota
// disables it.
func (e *Engine) SetQuota(q common.Quota) { e.quota = q }

// SetThrottle configures the per-contributor request rate limit.
func (e *Engine) SetThrottle(t *common.Throttle) { e.throttle = t }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the clock used for timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil installs a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// WithState returns a shallow copy bound to state and emitter sharing the
// receiver's round locks. The copy writes to state directly.
func (e *Engine) WithState(state State, emitter events.Emitter) *Engine {
	clone := *e
	clone.state = state
	clone.begin = nil
	clone.SetEmitter(emitter)
	return &clone
}

// atomic runs fn against an engine bound to a fresh transaction and commits
// it. Events reach the emitter only after the commit. Callers hold the round
// lock across the call.
func (e *Engine) atomic(fn func(*Engine) error) error {
	if e.begin == nil {
		return fn(e)
	}
	tx, err := e.begin()
	if err != nil {
		return err
	}
	defer tx.Discard()
	buffer := &events.Buffer{}
	if err := fn(e.WithState(tx, buffer)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sale: commit: %w", err)
	}
	buffer.FlushTo(e.emitter)
	return nil
}

// Locks exposes the per-round lock table so collaborators that drive a round
// through several steps can hold the round for the whole sequence.
func (e *Engine) Locks() *common.KeyedMutex { return e.locks }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) load(id [32]byte) (*Round, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	round, ok, err := e.state.SaleRoundGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoundNotFound
	}
	return round, nil
}

// CreateRound validates and stores a new round. A zero ID is derived from
// the owner, project and start time.
func (e *Engine) CreateRound(input *Round) (*Round, error) {
	if err := common.Guard(e.pauses, common.ModuleSale); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	round := input.Clone()
	round.QuoteToken, _ = common.NormalizeToken(round.QuoteToken)
	round.SaleToken, _ = common.NormalizeToken(round.SaleToken)
	if round.ID == ([32]byte{}) {
		round.ID = DeriveRoundID(round.Owner, round.ProjectID, round.StartTime)
	}
	round.TotalRaised = big.NewInt(0)
	round.ContributorCount = 0
	round.EndedEarly = false
	round.Phase = 0
	round.Refunded = false
	round.UpdatedAt = e.now()

	unlock := e.locks.Lock(round.ID)
	defer unlock()
	err := e.atomic(func(bound *Engine) error {
		if _, exists, err := bound.state.SaleRoundGet(round.ID); err != nil {
			return err
		} else if exists {
			return ErrRoundExists
		}
		if err := bound.state.SaleRoundPut(round); err != nil {
			return err
		}
		bound.emit(newRoundEvent(EventTypeRoundCreated, round, round.UpdatedAt))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return round.Clone(), nil
}

// Get returns the stored round.
func (e *Engine) Get(id [32]byte) (*Round, error) {
	return e.load(id)
}

// Status derives the round status at now.
func (e *Engine) Status(id [32]byte, now int64) (Status, error) {
	round, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return round.Status(now), nil
}

// Contribute records a contribution while the round is active. Bounds are
// checked per contribution (minimum) and against the contributor's running
// total (maximum). Capped rounds reject any amount that would push the total
// above the hardcap; reaching the hardcap exactly ends the round.
func (e *Engine) Contribute(id [32]byte, contributor [20]byte, amount *big.Int, now int64) (round *Round, err error) {
	start := time.Now()
	defer func() { e.metrics.Observe(common.ModuleSale, "contribute", time.Since(start), err) }()

	if err := common.Guard(e.pauses, common.ModuleSale); err != nil {
		return nil, err
	}
	if err := e.throttle.Allow(hex.EncodeToString(contributor[:])); err != nil {
		e.metrics.RecordThrottle(common.ModuleSale, "rate")
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrBelowMinimum
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	err = e.atomic(func(bound *Engine) error {
		round, err = bound.contribute(id, contributor, amount, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if round.EndedEarly {
		e.logger.Info("sale hardcap reached", logging.ID("round", id))
	}
	e.metrics.AddVolume(common.ModuleSale, "contribution", amount)
	return round, nil
}

func (e *Engine) contribute(id [32]byte, contributor [20]byte, amount *big.Int, now int64) (*Round, error) {
	current, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if current.Status(now) != StatusActive {
		return nil, ErrNotActive
	}
	if amount.Cmp(current.MinContribution) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, amount, current.MinContribution)
	}
	previous, err := e.state.SaleContributedGet(id, contributor)
	if err != nil {
		return nil, err
	}
	cumulative := new(big.Int).Add(previous, amount)
	if cumulative.Cmp(current.MaxContribution) > 0 {
		return nil, fmt.Errorf("%w: cumulative %s > %s", ErrAboveMaximum, cumulative, current.MaxContribution)
	}
	total := new(big.Int).Add(current.TotalRaised, amount)
	if current.Capped() && total.Cmp(current.Hardcap) > 0 {
		return nil, fmt.Errorf("%w: %s + %s > %s", ErrHardcapExceeded, current.TotalRaised, amount, current.Hardcap)
	}

	var usage common.QuotaNow
	if e.quota.Enabled() {
		prev, _, err := e.state.SaleQuotaGet(id, contributor)
		if err != nil {
			return nil, err
		}
		usage, err = common.CheckQuota(e.quota, e.quota.EpochAt(now), prev, 1, amount)
		if err != nil {
			e.metrics.RecordThrottle(common.ModuleSale, "quota")
			return nil, err
		}
	}

	vault := VaultAddress(current.QuoteToken)
	if err := e.state.Transfer(contributor, vault, current.QuoteToken, amount); err != nil {
		return nil, fmt.Errorf("sale: collect contribution: %w", err)
	}

	updated := current.Clone()
	updated.TotalRaised = total
	if previous.Sign() == 0 {
		updated.ContributorCount++
	}
	if updated.Capped() && total.Cmp(updated.Hardcap) == 0 {
		updated.EndedEarly = true
	}
	updated.UpdatedAt = now
	record := &Contribution{Contributor: contributor, Amount: new(big.Int).Set(amount), Timestamp: now}

	if err := e.persistContribution(updated, record, cumulative, usage); err != nil {
		if rollbackErr := e.state.Transfer(vault, contributor, current.QuoteToken, amount); rollbackErr != nil {
			return nil, errors.Join(err, fmt.Errorf("sale: rollback contribution: %w", rollbackErr))
		}
		return nil, err
	}

	e.emit(newContributionEvent(updated, record, cumulative.String()))
	if updated.EndedEarly {
		e.emit(newRoundEvent(EventTypeRoundEnded, updated, now))
	}
	return updated.Clone(), nil
}

func (e *Engine) persistContribution(round *Round, record *Contribution, cumulative *big.Int, usage common.QuotaNow) error {
	if err := e.state.SaleContributionAppend(round.ID, record); err != nil {
		return err
	}
	if err := e.state.SaleContributedPut(round.ID, record.Contributor, cumulative); err != nil {
		return err
	}
	if e.quota.Enabled() {
		if err := e.state.SaleQuotaPut(round.ID, record.Contributor, usage); err != nil {
			return err
		}
	}
	return e.state.SaleRoundPut(round)
}

// Cancel aborts a round that has not ended yet.
func (e *Engine) Cancel(id [32]byte, now int64) (*Round, error) {
	unlock := e.locks.Lock(id)
	defer unlock()

	current, err := e.load(id)
	if err != nil {
		return nil, err
	}
	switch current.Status(now) {
	case StatusUpcoming, StatusActive:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrCannotCancel, current.Status(now))
	}
	updated := current.Clone()
	updated.Phase = StatusCancelled
	updated.UpdatedAt = now
	err = e.atomic(func(bound *Engine) error {
		if err := bound.state.SaleRoundPut(updated); err != nil {
			return err
		}
		bound.emit(newRoundEvent(EventTypeCancelled, updated, now))
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("sale cancelled", logging.ID("round", id))
	return updated.Clone(), nil
}

// Resolve reports the terminal outcome an ended round qualifies for: success
// when the softcap was met, failure otherwise. It does not modify state.
func (e *Engine) Resolve(id [32]byte, now int64) (Status, error) {
	current, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return resolve(current, now)
}

func resolve(round *Round, now int64) (Status, error) {
	switch status := round.Status(now); status {
	case StatusEnded, StatusFinalizing:
	case StatusFinalizedSuccess, StatusFinalizedFailed, StatusCancelled:
		return status, nil
	default:
		return 0, fmt.Errorf("%w: status %s", ErrNotEnded, status)
	}
	if round.TotalRaised.Cmp(round.Softcap) >= 0 && round.TotalRaised.Sign() > 0 {
		return StatusFinalizedSuccess, nil
	}
	return StatusFinalizedFailed, nil
}

// BeginFinalizing moves an ended round into FINALIZING. Callers must hold the
// round lock (see Locks).
func (e *Engine) BeginFinalizing(id [32]byte, now int64) (*Round, error) {
	current, err := e.load(id)
	if err != nil {
		return nil, err
	}
	switch current.Status(now) {
	case StatusEnded:
	case StatusFinalizing:
		return current, nil
	default:
		return nil, fmt.Errorf("%w: status %s", ErrNotEnded, current.Status(now))
	}
	updated := current.Clone()
	updated.Phase = StatusFinalizing
	updated.UpdatedAt = now
	if err := e.state.SaleRoundPut(updated); err != nil {
		return nil, err
	}
	e.emit(newRoundEvent(EventTypeFinalizing, updated, now))
	return updated.Clone(), nil
}

// MarkFinalized records the terminal outcome of a finalizing round. Callers
// must hold the round lock.
func (e *Engine) MarkFinalized(id [32]byte, outcome Status, now int64) (*Round, error) {
	if outcome != StatusFinalizedSuccess && outcome != StatusFinalizedFailed {
		return nil, fmt.Errorf("sale: invalid terminal outcome %s", outcome)
	}
	current, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if current.Status(now) != StatusFinalizing {
		return nil, fmt.Errorf("%w: status %s", ErrNotFinalizing, current.Status(now))
	}
	updated := current.Clone()
	updated.Phase = outcome
	updated.UpdatedAt = now
	if err := e.state.SaleRoundPut(updated); err != nil {
		return nil, err
	}
	e.emit(newRoundEvent(EventTypeFinalized, updated, now))
	return updated.Clone(), nil
}

// ContributorTotals returns each contributor's aggregate contribution in
// order of first contribution.
func (e *Engine) ContributorTotals(id [32]byte) ([]ContributorTotal, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	contributions, err := e.state.SaleContributions(id)
	if err != nil {
		return nil, err
	}
	return AggregateContributions(contributions), nil
}

// RefundContributions returns every contributor's full contribution from the
// sale vault. Allowed once, for failed, finalizing-to-fail or cancelled
// rounds. Callers must hold the round lock.
func (e *Engine) RefundContributions(id [32]byte, now int64) (totals []ContributorTotal, err error) {
	err = e.atomic(func(bound *Engine) error {
		totals, err = bound.refundContributions(id, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return totals, nil
}

func (e *Engine) refundContributions(id [32]byte, now int64) ([]ContributorTotal, error) {
	current, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if current.Refunded {
		return nil, ErrAlreadyRefunded
	}
	switch current.Status(now) {
	case StatusFinalizing, StatusFinalizedFailed, StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: status %s", ErrRefundNotAllowed, current.Status(now))
	}
	totals, err := e.ContributorTotals(id)
	if err != nil {
		return nil, err
	}
	vault := VaultAddress(current.QuoteToken)
	for _, refund := range totals {
		if err := e.state.Transfer(vault, refund.Contributor, current.QuoteToken, refund.Amount); err != nil {
			return nil, fmt.Errorf("sale: refund contributor: %w", err)
		}
	}
	updated := current.Clone()
	updated.Refunded = true
	updated.UpdatedAt = now
	if err := e.state.SaleRoundPut(updated); err != nil {
		return nil, err
	}
	for _, refund := range totals {
		e.emit(newRefundEvent(updated, refund, now))
	}
	e.emit(newRoundEvent(EventTypeRefunded, updated, now))
	return totals, nil
}
