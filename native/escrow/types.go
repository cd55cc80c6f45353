package escrow

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/native/common"
)

// RoleOperator is the role allowed to release or refund project deposits.
const RoleOperator = "escrow.operator"

var (
	ErrZeroAmount    = errors.New("escrow: amount must be positive")
	ErrDepositExists = errors.New("escrow: deposit already exists for project")
	ErrNotPending    = errors.New("escrow: deposit is not pending")
	ErrNotFound      = errors.New("escrow: deposit not found")
	ErrUnauthorized  = errors.New("escrow: caller lacks operator role")
	ErrNilState      = errors.New("escrow: state not configured")
)

// Deposit is the custody record of the sale tokens a project escrowed.
// Amount never changes after creation and records are never deleted;
// Released and Refunded are mutually exclusive terminal flags.
type Deposit struct {
	ProjectID [32]byte
	Token     string
	Amount    *big.Int
	Depositor [20]byte
	Released  bool
	Refunded  bool
	CreatedAt int64
}

// Pending reports whether the deposit can still be released or refunded.
func (d *Deposit) Pending() bool {
	return d != nil && !d.Released && !d.Refunded
}

// Balance returns the amount still held in custody for the project.
func (d *Deposit) Balance() *big.Int {
	if !d.Pending() || d.Amount == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(d.Amount)
}

// Clone returns a deep copy of the deposit.
func (d *Deposit) Clone() *Deposit {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Amount = cloneBigInt(d.Amount)
	return &clone
}

// SanitizeDeposit validates a deposit record and normalises its token.
func SanitizeDeposit(d *Deposit) (*Deposit, error) {
	if d == nil {
		return nil, fmt.Errorf("escrow: nil deposit")
	}
	token, err := common.NormalizeToken(d.Token)
	if err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}
	if d.Amount == nil || d.Amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if d.Released && d.Refunded {
		return nil, fmt.Errorf("escrow: deposit cannot be both released and refunded")
	}
	clone := d.Clone()
	clone.Token = token
	return clone, nil
}

// DeriveProjectID returns keccak256(depositor ‖ token ‖ amount), with the
// amount encoded as a 32-byte big-endian integer. Depositor and operator can
// compute the identifier independently.
func DeriveProjectID(depositor [20]byte, token string, amount *big.Int) ([32]byte, error) {
	normalized, err := common.NormalizeToken(token)
	if err != nil {
		return [32]byte{}, fmt.Errorf("escrow: %w", err)
	}
	if amount == nil || amount.Sign() <= 0 {
		return [32]byte{}, ErrZeroAmount
	}
	if amount.BitLen() > 256 {
		return [32]byte{}, fmt.Errorf("escrow: amount exceeds 256 bits")
	}
	var amountWord [32]byte
	amount.FillBytes(amountWord[:])
	buf := make([]byte, 0, len(depositor)+len(normalized)+len(amountWord))
	buf = append(buf, depositor[:]...)
	buf = append(buf, normalized...)
	buf = append(buf, amountWord[:]...)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id, nil
}

// RandomProjectID returns a uniformly random 32-byte project identifier.
func RandomProjectID() ([32]byte, error) {
	var id [32]byte
	if _, err := rand.Read(id[:]); err != nil {
		return [32]byte{}, err
	}
	return id, nil
}

// VaultAddress is the module account holding escrowed balances of token.
func VaultAddress(token string) [20]byte {
	return common.ModuleAddress("escrow", "vault", token)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
