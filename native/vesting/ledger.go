package vesting

import (
	"context"
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

// State is the storage surface required by the vesting ledger.
type State interface {
	VestingSchedulePut(*Schedule) error
	VestingScheduleGet(id [32]byte) (*Schedule, bool, error)
	VestingClaimedGet(id [32]byte, beneficiary [20]byte) (*big.Int, error)
	VestingClaimedPut(id [32]byte, beneficiary [20]byte, claimed *big.Int) error
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

// Ledger releases vested tokens to beneficiaries that prove their allocation.
type Ledger struct {
	state   State
	begin   Transactor
	pauses  common.PauseView
	emitter events.Emitter
	locks   *common.KeyedMutex
	logger  *slog.Logger
	metrics *observability.SettlementMetrics
	nowFn   func() int64
}

// NewLedger constructs a ledger with a no-op emitter.
func NewLedger() *Ledger {
	return &Ledger{
		emitter: events.NoopEmitter{},
		locks:   common.NewKeyedMutex(),
		logger:  slog.Default(),
		metrics: observability.Settlement(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend.
func (l *Ledger) SetState(state State) { l.state = state }

// SetTransactor makes claims and schedule updates commit through their own
// transaction. Without one, writes go straight to the configured State.
func (l *Ledger) SetTransactor(begin Transactor) { l.begin = begin }

// SetPauses wires the module-wide pause switch.
func (l *Ledger) SetPauses(p common.PauseView) { l.pauses = p }

// SetLogger overrides the structured logger.
func (l *Ledger) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	l.logger = logger
}

// SetNowFunc overrides the clock used for schedule creation timestamps.
func (l *Ledger) SetNowFunc(now func() int64) {
	if now == nil {
		l.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	l.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil installs a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// WithState returns a shallow copy bound to state and emitter sharing the
// receiver's schedule locks.
func (l *Ledger) WithState(state State, emitter events.Emitter) *Ledger {
	clone := *l
	clone.state = state
	clone.begin = nil
	clone.SetEmitter(emitter)
	return &clone
}

// atomic runs fn against a ledger bound to a fresh transaction and commits
// it, releasing buffered events only after the commit. Callers hold the
// schedule lock.
func (l *Ledger) atomic(fn func(*Ledger) error) error {
	if l.begin == nil {
		return fn(l)
	}
	tx, err := l.begin()
	if err != nil {
		return err
	}
	defer tx.Discard()
	buffer := &events.Buffer{}
	if err := fn(l.WithState(tx, buffer)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("vesting: commit: %w", err)
	}
	buffer.FlushTo(l.emitter)
	return nil
}

func (l *Ledger) emit(event *types.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(events.Wrap(event))
}

func (l *Ledger) load(id [32]byte) (*Schedule, error) {
	if l.state == nil {
		return nil, ErrNilState
	}
	schedule, ok, err := l.state.VestingScheduleGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return schedule, nil
}

// CreateSchedule stores a new schedule. A zero ID is derived from the round
// and salt. The vault must already hold TotalTokens for the schedule.
func (l *Ledger) CreateSchedule(input *Schedule) (*Schedule, error) {
	if l.state == nil {
		return nil, ErrNilState
	}
	if err := input.Validate(); err != nil {
		return nil, err
	}
	schedule := input.Clone()
	schedule.Token, _ = common.NormalizeToken(schedule.Token)
	if schedule.ID == ([32]byte{}) {
		schedule.ID = DeriveScheduleID(schedule.RoundID, schedule.Salt)
	}
	schedule.TotalClaimed = big.NewInt(0)
	schedule.Paused = false
	schedule.CreatedAt = l.nowFn()

	unlock := l.locks.Lock(schedule.ID)
	defer unlock()
	err := l.atomic(func(bound *Ledger) error {
		if _, exists, err := bound.state.VestingScheduleGet(schedule.ID); err != nil {
			return err
		} else if exists {
			return ErrScheduleExists
		}
		if err := bound.state.VestingSchedulePut(schedule); err != nil {
			return err
		}
		bound.emit(newScheduleEvent(EventTypeScheduleCreated, schedule))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return schedule.Clone(), nil
}

// Schedule returns the stored schedule.
func (l *Ledger) Schedule(id [32]byte) (*Schedule, error) {
	return l.load(id)
}

// Allocation returns the beneficiary's position for the given entitlement.
// The entitlement is not verified; use Claim for proof-checked releases.
func (l *Ledger) Allocation(id [32]byte, beneficiary [20]byte, totalEntitlement *big.Int) (*Allocation, error) {
	if l.state == nil {
		return nil, ErrNilState
	}
	claimed, err := l.state.VestingClaimedGet(id, beneficiary)
	if err != nil {
		return nil, err
	}
	return &Allocation{
		Beneficiary:      beneficiary,
		TotalEntitlement: cloneBig(totalEntitlement),
		ClaimedSoFar:     claimed,
	}, nil
}

// ClaimableAt reports the amount beneficiary could claim at now.
func (l *Ledger) ClaimableAt(id [32]byte, beneficiary [20]byte, totalEntitlement *big.Int, now int64) (*big.Int, error) {
	schedule, err := l.load(id)
	if err != nil {
		return nil, err
	}
	allocation, err := l.Allocation(id, beneficiary, totalEntitlement)
	if err != nil {
		return nil, err
	}
	return Claimable(schedule, allocation, now), nil
}

// Claim verifies the beneficiary's allocation proof and releases amount from
// the vesting vault. Requests above the currently claimable amount are
// rejected outright.
func (l *Ledger) Claim(ctx context.Context, id [32]byte, beneficiary [20]byte, totalEntitlement, amount *big.Int, proof [][32]byte, now int64) (allocation *Allocation, err error) {
	start := time.Now()
	defer func() { l.metrics.Observe(common.ModuleVesting, "claim", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := common.Guard(l.pauses, common.ModuleVesting); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroClaim
	}

	unlock := l.locks.Lock(id)
	defer unlock()

	err = l.atomic(func(bound *Ledger) error {
		allocation, err = bound.claim(id, beneficiary, totalEntitlement, amount, proof, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.metrics.AddVolume(common.ModuleVesting, "claim", amount)
	l.logger.Info("vesting claim released",
		logging.ID("schedule", id),
		logging.Address("beneficiary", beneficiary),
		slog.String("amount", amount.String()))
	return allocation, nil
}

func (l *Ledger) claim(id [32]byte, beneficiary [20]byte, totalEntitlement, amount *big.Int, proof [][32]byte, now int64) (*Allocation, error) {
	schedule, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if err := CanClaimNow(schedule, now); err != nil {
		return nil, err
	}
	leaf, err := LeafFor(schedule, beneficiary, totalEntitlement)
	if err != nil {
		return nil, err
	}
	if !VerifyProof(proof, schedule.MerkleRoot, leaf) {
		return nil, ErrInvalidProof
	}
	current, err := l.Allocation(id, beneficiary, totalEntitlement)
	if err != nil {
		return nil, err
	}
	available := Claimable(schedule, current, now)
	if amount.Cmp(available) > 0 {
		return nil, fmt.Errorf("%w: requested %s, claimable %s", ErrExceedsClaimable, amount, available)
	}

	vault := VaultAddress(schedule.Token)
	if err := l.state.Transfer(vault, beneficiary, schedule.Token, amount); err != nil {
		return nil, fmt.Errorf("vesting: release tokens: %w", err)
	}
	updated := &Allocation{
		Beneficiary:      beneficiary,
		TotalEntitlement: cloneBig(totalEntitlement),
		ClaimedSoFar:     new(big.Int).Add(current.ClaimedSoFar, amount),
	}
	nextSchedule := schedule.Clone()
	nextSchedule.TotalClaimed.Add(nextSchedule.TotalClaimed, amount)
	if err := l.persistClaim(nextSchedule, updated); err != nil {
		if rollbackErr := l.state.Transfer(beneficiary, vault, schedule.Token, amount); rollbackErr != nil {
			return nil, errors.Join(err, fmt.Errorf("vesting: rollback claim: %w", rollbackErr))
		}
		return nil, err
	}
	l.emit(newClaimedEvent(schedule, updated, amount.String(), now))
	return updated, nil
}

func (l *Ledger) persistClaim(schedule *Schedule, allocation *Allocation) error {
	if err := l.state.VestingClaimedPut(schedule.ID, allocation.Beneficiary, allocation.ClaimedSoFar); err != nil {
		return err
	}
	return l.state.VestingSchedulePut(schedule)
}

// SetPaused toggles the schedule's pause flag.
func (l *Ledger) SetPaused(id [32]byte, paused bool) (*Schedule, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	schedule, err := l.load(id)
	if err != nil {
		return nil, err
	}
	if schedule.Paused == paused {
		return schedule, nil
	}
	updated := schedule.Clone()
	updated.Paused = paused
	eventType := EventTypeResumed
	if paused {
		eventType = EventTypePaused
	}
	err = l.atomic(func(bound *Ledger) error {
		if err := bound.state.VestingSchedulePut(updated); err != nil {
			return err
		}
		bound.emit(newScheduleEvent(eventType, updated))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}
