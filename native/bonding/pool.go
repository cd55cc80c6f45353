package bonding

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"launchpad/native/common"
)

// PoolStatus tracks the lifecycle of a bonding pool.
type PoolStatus uint8

const (
	PoolLive PoolStatus = iota + 1
	PoolGraduating
	PoolGraduated
)

func (s PoolStatus) String() string {
	switch s {
	case PoolLive:
		return "LIVE"
	case PoolGraduating:
		return "GRADUATING"
	case PoolGraduated:
		return "GRADUATED"
	default:
		return "UNKNOWN"
	}
}

// Pool is a constant-product market priced on virtual reserves. RealBase
// and ActualQuote are the balances the pool vault actually holds; the
// product VirtualBase*VirtualQuote is recomputed per swap and never stored.
type Pool struct {
	ID                  [32]byte
	Creator             [20]byte
	BaseToken           string
	QuoteToken          string
	VirtualBase         *uint256.Int
	VirtualQuote        *uint256.Int
	RealBase            *uint256.Int
	ActualQuote         *uint256.Int
	GraduationThreshold *uint256.Int
	FeeBps              uint32
	FeeProfile          string
	Status              PoolStatus
	CreatedAt           int64
	UpdatedAt           int64
}

// PoolParams is the creator-supplied configuration of a new pool.
type PoolParams struct {
	BaseToken           string
	QuoteToken          string
	VirtualBase         *uint256.Int
	VirtualQuote        *uint256.Int
	SeedBase            *uint256.Int
	GraduationThreshold *uint256.Int
	FeeBps              uint32
	FeeProfile          string
}

// Validate checks reserves, tokens and fee bounds.
func (p PoolParams) Validate() error {
	if _, err := common.NormalizeToken(p.BaseToken); err != nil {
		return fmt.Errorf("bonding: base token: %w", err)
	}
	if _, err := common.NormalizeToken(p.QuoteToken); err != nil {
		return fmt.Errorf("bonding: quote token: %w", err)
	}
	if p.VirtualBase == nil || p.VirtualQuote == nil || p.VirtualBase.IsZero() || p.VirtualQuote.IsZero() {
		return ErrInvalidReserves
	}
	if _, overflow := new(uint256.Int).MulOverflow(p.VirtualBase, p.VirtualQuote); overflow {
		return ErrOverflow
	}
	if p.SeedBase == nil || p.SeedBase.IsZero() {
		return errors.New("bonding: seed base liquidity required")
	}
	if p.SeedBase.Gt(p.VirtualBase) {
		return errors.New("bonding: seed base exceeds virtual base reserve")
	}
	if p.GraduationThreshold == nil || p.GraduationThreshold.IsZero() {
		return errors.New("bonding: graduation threshold required")
	}
	if p.FeeBps > bpsDenominator {
		return ErrInvalidFee
	}
	return nil
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	out := *p
	out.VirtualBase = cloneU256(p.VirtualBase)
	out.VirtualQuote = cloneU256(p.VirtualQuote)
	out.RealBase = cloneU256(p.RealBase)
	out.ActualQuote = cloneU256(p.ActualQuote)
	out.GraduationThreshold = cloneU256(p.GraduationThreshold)
	return &out
}

// Snapshot captures the reserves a quote was priced against.
func (p *Pool) Snapshot() Snapshot {
	return Snapshot{
		VirtualBase:  cloneU256(p.VirtualBase).Dec(),
		VirtualQuote: cloneU256(p.VirtualQuote).Dec(),
	}
}

// Graduation reports the pool's progress toward its threshold.
func (p *Pool) Graduation() GraduationStatus {
	return CheckGraduationThreshold(p.ActualQuote, p.GraduationThreshold)
}

// DerivePoolID returns keccak256(creator ‖ base ‖ quote ‖ createdAt).
func DerivePoolID(creator [20]byte, baseToken, quoteToken string, createdAt int64) [32]byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt))
	hash := crypto.Keccak256(creator[:], []byte(baseToken), []byte{0}, []byte(quoteToken), ts[:])
	var id [32]byte
	copy(id[:], hash)
	return id
}

// PoolVault is the account holding a pool's real reserves.
func PoolVault(id [32]byte) [20]byte {
	return common.ModuleAddress("bonding", "pool", fmt.Sprintf("%x", id[:]))
}

func cloneU256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
