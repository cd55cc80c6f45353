package state

import (
	"errors"
	"math/big"
	"sync"

	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
	"launchpad/storage"
)

// maxUpdateAttempts bounds the retries of single-call updates that lose an
// optimistic conflict.
const maxUpdateAttempts = 8

// Manager persists settlement state in a key-value store. Keys are keccak
// hashes of namespaced identifiers and values are RLP encoded. Every engine
// state interface is implemented both by Manager, where each call commits
// on its own, and by Tx, where calls commit together.
type Manager struct {
	db storage.Database
	mu sync.Mutex
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) read(key []byte) ([]byte, bool, error) {
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Begin opens a transaction.
func (m *Manager) Begin() *Tx { return newTx(m) }

// Transaction opens a transaction for the finalization engine.
func (m *Manager) Transaction() (finalize.Transaction, error) { return m.Begin(), nil }

// EscrowTransaction opens a transaction for the custody engine.
func (m *Manager) EscrowTransaction() (escrow.Transaction, error) { return m.Begin(), nil }

// SaleTransaction opens a transaction for the sale engine.
func (m *Manager) SaleTransaction() (sale.Transaction, error) { return m.Begin(), nil }

// VestingTransaction opens a transaction for the vesting ledger.
func (m *Manager) VestingTransaction() (vesting.Transaction, error) { return m.Begin(), nil }

// Update runs fn in a transaction and commits it, retrying when a
// concurrent commit invalidated what fn read.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	var err error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		tx := m.Begin()
		if err = fn(tx); err != nil {
			tx.Discard()
			return err
		}
		err = tx.Commit()
		if !errors.Is(err, ErrTxConflict) {
			return err
		}
	}
	return err
}

// View runs fn against a read-only transaction.
func (m *Manager) View(fn func(tx *Tx) error) error {
	tx := m.Begin()
	defer tx.Discard()
	return fn(tx)
}

// Credit mints amount of symbol into addr.
func (m *Manager) Credit(addr [20]byte, symbol string, amount *big.Int) error {
	return m.Update(func(tx *Tx) error { return tx.Credit(addr, symbol, amount) })
}

// Balance returns addr's committed balance of symbol.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	tx := m.Begin()
	defer tx.Discard()
	return tx.Balance(addr, symbol)
}

// Transfer moves amount of symbol between accounts.
func (m *Manager) Transfer(from, to [20]byte, symbol string, amount *big.Int) error {
	return m.Update(func(tx *Tx) error { return tx.Transfer(from, to, symbol, amount) })
}

// SetRole grants role to addr.
func (m *Manager) SetRole(role string, addr [20]byte) error {
	return m.Update(func(tx *Tx) error { return tx.SetRole(role, addr) })
}

// HasRole reports whether addr holds role.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	tx := m.Begin()
	defer tx.Discard()
	return tx.HasRole(role, addr)
}

// EscrowPut stores a deposit record.
func (m *Manager) EscrowPut(d *escrow.Deposit) error {
	return m.Update(func(tx *Tx) error { return tx.EscrowPut(d) })
}

// EscrowGet loads a deposit record.
func (m *Manager) EscrowGet(id [32]byte) (deposit *escrow.Deposit, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		deposit, ok, err = tx.EscrowGet(id)
		return err
	})
	return deposit, ok, err
}

// SaleRoundPut stores a round.
func (m *Manager) SaleRoundPut(r *sale.Round) error {
	return m.Update(func(tx *Tx) error { return tx.SaleRoundPut(r) })
}

// SaleRoundGet loads a round.
func (m *Manager) SaleRoundGet(id [32]byte) (round *sale.Round, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		round, ok, err = tx.SaleRoundGet(id)
		return err
	})
	return round, ok, err
}

// SaleContributionAppend appends to a round's contribution log.
func (m *Manager) SaleContributionAppend(id [32]byte, c *sale.Contribution) error {
	return m.Update(func(tx *Tx) error { return tx.SaleContributionAppend(id, c) })
}

// SaleContributions returns a round's contribution log.
func (m *Manager) SaleContributions(id [32]byte) (list []*sale.Contribution, err error) {
	err = m.View(func(tx *Tx) error {
		list, err = tx.SaleContributions(id)
		return err
	})
	return list, err
}

// SaleContributedGet returns a contributor's cumulative contribution.
func (m *Manager) SaleContributedGet(id [32]byte, who [20]byte) (total *big.Int, err error) {
	err = m.View(func(tx *Tx) error {
		total, err = tx.SaleContributedGet(id, who)
		return err
	})
	return total, err
}

// SaleContributedPut stores a contributor's cumulative contribution.
func (m *Manager) SaleContributedPut(id [32]byte, who [20]byte, total *big.Int) error {
	return m.Update(func(tx *Tx) error { return tx.SaleContributedPut(id, who, total) })
}

// SaleQuotaGet loads a contributor's quota usage.
func (m *Manager) SaleQuotaGet(id [32]byte, who [20]byte) (usage common.QuotaNow, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		usage, ok, err = tx.SaleQuotaGet(id, who)
		return err
	})
	return usage, ok, err
}

// SaleQuotaPut stores a contributor's quota usage.
func (m *Manager) SaleQuotaPut(id [32]byte, who [20]byte, usage common.QuotaNow) error {
	return m.Update(func(tx *Tx) error { return tx.SaleQuotaPut(id, who, usage) })
}

// VestingSchedulePut stores a schedule.
func (m *Manager) VestingSchedulePut(s *vesting.Schedule) error {
	return m.Update(func(tx *Tx) error { return tx.VestingSchedulePut(s) })
}

// VestingScheduleGet loads a schedule.
func (m *Manager) VestingScheduleGet(id [32]byte) (schedule *vesting.Schedule, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		schedule, ok, err = tx.VestingScheduleGet(id)
		return err
	})
	return schedule, ok, err
}

// VestingClaimedGet returns the amount a beneficiary has claimed.
func (m *Manager) VestingClaimedGet(id [32]byte, who [20]byte) (claimed *big.Int, err error) {
	err = m.View(func(tx *Tx) error {
		claimed, err = tx.VestingClaimedGet(id, who)
		return err
	})
	return claimed, err
}

// VestingClaimedPut stores the amount a beneficiary has claimed.
func (m *Manager) VestingClaimedPut(id [32]byte, who [20]byte, claimed *big.Int) error {
	return m.Update(func(tx *Tx) error { return tx.VestingClaimedPut(id, who, claimed) })
}

// BondingPoolPut stores a pool.
func (m *Manager) BondingPoolPut(p *bonding.Pool) error {
	return m.Update(func(tx *Tx) error { return tx.BondingPoolPut(p) })
}

// BondingPoolGet loads a pool.
func (m *Manager) BondingPoolGet(id [32]byte) (pool *bonding.Pool, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		pool, ok, err = tx.BondingPoolGet(id)
		return err
	})
	return pool, ok, err
}

// FinalizeResultGet loads a round's settlement result.
func (m *Manager) FinalizeResultGet(roundID [32]byte) (result *finalize.Result, ok bool, err error) {
	err = m.View(func(tx *Tx) error {
		result, ok, err = tx.FinalizeResultGet(roundID)
		return err
	})
	return result, ok, err
}

var (
	_ escrow.State       = (*Manager)(nil)
	_ escrow.RoleChecker = (*Manager)(nil)
	_ sale.State         = (*Manager)(nil)
	_ vesting.State      = (*Manager)(nil)
	_ bonding.State      = (*Manager)(nil)
)
