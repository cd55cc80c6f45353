package escrow

import (
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

// State is the storage surface required by the custody engine.
type State interface {
	EscrowPut(*Deposit) error
	EscrowGet(id [32]byte) (*Deposit, bool, error)
	Transfer(from, to [20]byte, token string, amount *big.Int) error
}

// RoleChecker authorises privileged callers.
type RoleChecker interface {
	HasRole(role string, addr [20]byte) bool
}

// Transaction is a State whose writes become visible together on Commit.
type Transaction interface {
	State
	Commit() error
	Discard()
}

// Transactor opens a new transaction.
type Transactor func() (Transaction, error)

// Engine custodies project sale tokens until a sale outcome releases them to
// the settlement flow or refunds them to the depositor.
type Engine struct {
	state   State
	begin   Transactor
	roles   RoleChecker
	pauses  common.PauseView
	emitter events.Emitter
	locks   *common.KeyedMutex
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	nowFn   func() int64
}

// NewEngine creates a custody engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
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

// SetTransactor makes each custody movement commit through its own
// transaction. Without one, writes go straight to the configured State.
func (e *Engine) SetTransactor(begin Transactor) { e.begin = begin }

// SetRoleChecker configures operator authorisation. A nil checker allows
// every caller.
func (e *Engine) SetRoleChecker(roles RoleChecker) { e.roles = roles }

// SetPauses wires the module pause switch.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// WithState returns a shallow copy bound to state and emitter. The copy
// shares the per-project locks of the receiver so both serialize on the same
// projects.
func (e *Engine) WithState(state State, emitter events.Emitter) *Engine {
	clone := *e
	clone.state = state
	clone.begin = nil
	clone.SetEmitter(emitter)
	return &clone
}

// atomic runs fn against an engine bound to a fresh transaction, commits it
// and only then forwards the buffered events. Callers hold the project lock.
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
		return fmt.Errorf("escrow: commit: %w", err)
	}
	buffer.FlushTo(e.emitter)
	return nil
}

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

// Deposit moves amount of token from the depositor into custody under
// projectID. A project can be funded exactly once.
func (e *Engine) Deposit(projectID [32]byte, token string, amount *big.Int, depositor [20]byte) (deposit *Deposit, err error) {
	start := time.Now()
	defer func() { e.metrics.Observe(common.ModuleEscrow, "deposit", time.Since(start), err) }()

	if err := common.Guard(e.pauses, common.ModuleEscrow); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	normalized, err := common.NormalizeToken(token)
	if err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}

	unlock := e.locks.Lock(projectID)
	defer unlock()

	record := &Deposit{
		ProjectID: projectID,
		Token:     normalized,
		Amount:    new(big.Int).Set(amount),
		Depositor: depositor,
		CreatedAt: e.now(),
	}
	err = e.atomic(func(bound *Engine) error {
		return bound.deposit(record)
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddVolume(common.ModuleEscrow, "deposit", amount)
	e.logger.Info("escrow deposit recorded",
		logging.ID("project", projectID),
		slog.String("token", normalized),
		slog.String("amount", amount.String()))
	return record.Clone(), nil
}

func (e *Engine) deposit(record *Deposit) error {
	if _, exists, err := e.state.EscrowGet(record.ProjectID); err != nil {
		return err
	} else if exists {
		return ErrDepositExists
	}
	vault := VaultAddress(record.Token)
	if err := e.state.Transfer(record.Depositor, vault, record.Token, record.Amount); err != nil {
		return fmt.Errorf("escrow: fund vault: %w", err)
	}
	if err := e.state.EscrowPut(record); err != nil {
		if rollbackErr := e.state.Transfer(vault, record.Depositor, record.Token, record.Amount); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("escrow: rollback deposit: %w", rollbackErr))
		}
		return err
	}
	e.emit(NewDepositedEvent(record))
	return nil
}

// Release transfers the full deposit to the recipient. Only pending deposits
// can be released; a second release fails with ErrNotPending.
func (e *Engine) Release(projectID [32]byte, caller, to [20]byte) (deposit *Deposit, err error) {
	start := time.Now()
	defer func() { e.metrics.Observe(common.ModuleEscrow, "release", time.Since(start), err) }()
	return e.settle(projectID, caller, func(d *Deposit) [20]byte {
		d.Released = true
		return to
	})
}

// Refund returns the full deposit to the depositor.
func (e *Engine) Refund(projectID [32]byte, caller [20]byte) (deposit *Deposit, err error) {
	start := time.Now()
	defer func() { e.metrics.Observe(common.ModuleEscrow, "refund", time.Since(start), err) }()
	return e.settle(projectID, caller, func(d *Deposit) [20]byte {
		d.Refunded = true
		return d.Depositor
	})
}

func (e *Engine) settle(projectID [32]byte, caller [20]byte, mark func(*Deposit) [20]byte) (*Deposit, error) {
	if err := common.Guard(e.pauses, common.ModuleEscrow); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, ErrNilState
	}
	if e.roles != nil && !e.roles.HasRole(RoleOperator, caller) {
		return nil, ErrUnauthorized
	}

	unlock := e.locks.Lock(projectID)
	defer unlock()

	var (
		updated   *Deposit
		recipient [20]byte
	)
	err := e.atomic(func(bound *Engine) error {
		var err error
		updated, recipient, err = bound.payout(projectID, mark)
		return err
	})
	if err != nil {
		return nil, err
	}
	flow := "refund"
	if updated.Released {
		flow = "release"
	}
	e.metrics.AddVolume(common.ModuleEscrow, flow, updated.Amount)
	e.logger.Info("escrow deposit settled",
		logging.ID("project", projectID),
		slog.String("status", flow),
		logging.Address("recipient", recipient),
		slog.String("amount", updated.Amount.String()))
	return updated.Clone(), nil
}

func (e *Engine) payout(projectID [32]byte, mark func(*Deposit) [20]byte) (*Deposit, [20]byte, error) {
	current, exists, err := e.state.EscrowGet(projectID)
	if err != nil {
		return nil, [20]byte{}, err
	}
	if !exists || !current.Pending() {
		return nil, [20]byte{}, ErrNotPending
	}
	updated := current.Clone()
	recipient := mark(updated)
	vault := VaultAddress(updated.Token)
	if err := e.state.Transfer(vault, recipient, updated.Token, updated.Amount); err != nil {
		return nil, [20]byte{}, fmt.Errorf("escrow: pay out vault: %w", err)
	}
	if err := e.state.EscrowPut(updated); err != nil {
		if rollbackErr := e.state.Transfer(recipient, vault, updated.Token, updated.Amount); rollbackErr != nil {
			return nil, [20]byte{}, errors.Join(err, fmt.Errorf("escrow: rollback payout: %w", rollbackErr))
		}
		return nil, [20]byte{}, err
	}
	if updated.Released {
		e.emit(NewReleasedEvent(updated, recipient))
	} else {
		e.emit(NewRefundedEvent(updated))
	}
	return updated, recipient, nil
}

// Get returns the deposit recorded for projectID.
func (e *Engine) Get(projectID [32]byte) (*Deposit, error) {
	if e.state == nil {
		return nil, ErrNilState
	}
	deposit, ok, err := e.state.EscrowGet(projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return deposit, nil
}

// Balance returns the amount still in custody for projectID; zero once the
// deposit has been released or refunded.
func (e *Engine) Balance(projectID [32]byte) (*big.Int, error) {
	deposit, err := e.Get(projectID)
	if errors.Is(err, ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return deposit.Balance(), nil
}
