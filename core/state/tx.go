package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

var (
	// ErrTxConflict is returned by Commit when a value read by the
	// transaction changed underneath it.
	ErrTxConflict = errors.New("state: transaction conflict")
	// ErrTxClosed is returned when a committed or discarded transaction is used.
	ErrTxClosed = errors.New("state: transaction closed")
	// ErrInsufficientBalance is returned when a transfer would overdraw an account.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
)

type observed struct {
	value  []byte
	exists bool
}

// Tx buffers writes over a Manager until Commit. Plain values are checked
// optimistically: every key read from the backing store must still hold the
// same bytes at commit. Balances are tracked as deltas and re-applied on the
// committed balances, so unrelated transfers touching a shared vault do not
// conflict.
type Tx struct {
	m      *Manager
	writes map[string][]byte
	reads  map[string]observed
	deltas map[string]*big.Int
	closed bool
}

func newTx(m *Manager) *Tx {
	return &Tx{
		m:      m,
		writes: make(map[string][]byte),
		reads:  make(map[string]observed),
		deltas: make(map[string]*big.Int),
	}
}

func (tx *Tx) get(key []byte) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxClosed
	}
	k := string(key)
	if v, ok := tx.writes[k]; ok {
		return v, true, nil
	}
	if seen, ok := tx.reads[k]; ok {
		return seen.value, seen.exists, nil
	}
	value, exists, err := tx.m.read(key)
	if err != nil {
		return nil, false, err
	}
	tx.reads[k] = observed{value: value, exists: exists}
	return value, exists, nil
}

func (tx *Tx) put(key []byte, value []byte) error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (tx *Tx) putRLP(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return tx.put(key, encoded)
}

func (tx *Tx) getRLP(key []byte, out interface{}) (bool, error) {
	data, ok, err := tx.get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (tx *Tx) committedBalance(key []byte) (*big.Int, error) {
	data, ok, err := tx.m.read(key)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	if !ok || len(data) == 0 {
		return amount, nil
	}
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// Balance returns addr's balance of symbol including uncommitted transfers.
func (tx *Tx) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	if tx.closed {
		return nil, ErrTxClosed
	}
	key := balanceKey(addr, symbol)
	base, err := tx.committedBalance(key)
	if err != nil {
		return nil, err
	}
	if delta, ok := tx.deltas[string(key)]; ok {
		base.Add(base, delta)
	}
	return base, nil
}

func (tx *Tx) adjust(addr [20]byte, symbol string, delta *big.Int) {
	k := string(balanceKey(addr, symbol))
	current, ok := tx.deltas[k]
	if !ok {
		current = new(big.Int)
		tx.deltas[k] = current
	}
	current.Add(current, delta)
}

// Credit mints amount into addr.
func (tx *Tx) Credit(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: credit amount must be non-negative")
	}
	if tx.closed {
		return ErrTxClosed
	}
	tx.adjust(addr, symbol, amount)
	return nil
}

// Transfer moves amount of symbol from one account to another.
func (tx *Tx) Transfer(from, to [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: transfer amount must be non-negative")
	}
	if normalizeSymbol(symbol) == "" {
		return fmt.Errorf("state: token symbol must not be empty")
	}
	balance, err := tx.Balance(from, symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %x holds %s %s, needs %s", ErrInsufficientBalance, from, balance, normalizeSymbol(symbol), amount)
	}
	tx.adjust(from, symbol, new(big.Int).Neg(amount))
	tx.adjust(to, symbol, amount)
	return nil
}

// Commit atomically applies the transaction. It fails with ErrTxConflict
// when a value the transaction read has changed, or with
// ErrInsufficientBalance when concurrent transfers drained an account the
// transaction debits.
func (tx *Tx) Commit() error {
	if tx.closed {
		return ErrTxClosed
	}
	tx.closed = true
	tx.m.mu.Lock()
	defer tx.m.mu.Unlock()

	for k, seen := range tx.reads {
		current, exists, err := tx.m.read([]byte(k))
		if err != nil {
			return err
		}
		if exists != seen.exists || !bytes.Equal(current, seen.value) {
			return ErrTxConflict
		}
	}
	batch := tx.m.db.NewBatch()
	for k, delta := range tx.deltas {
		if delta.Sign() == 0 {
			continue
		}
		base, err := tx.committedBalance([]byte(k))
		if err != nil {
			return err
		}
		base.Add(base, delta)
		if base.Sign() < 0 {
			return ErrInsufficientBalance
		}
		encoded, err := rlp.EncodeToBytes(base)
		if err != nil {
			return err
		}
		batch.Put([]byte(k), encoded)
	}
	for k, v := range tx.writes {
		batch.Put([]byte(k), v)
	}
	if batch.Len() == 0 {
		return nil
	}
	return batch.Write()
}

// Discard drops the transaction. It is safe to call after Commit.
func (tx *Tx) Discard() {
	tx.closed = true
}
