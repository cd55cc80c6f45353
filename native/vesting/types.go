package vesting

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/native/common"
)

// MonthSeconds is the step length of monthly schedules.
const MonthSeconds int64 = 30 * 24 * 60 * 60

// IntervalType selects continuous or stepped release after the cliff.
type IntervalType uint8

const (
	IntervalLinear IntervalType = iota + 1
	IntervalMonthly
)

func (i IntervalType) String() string {
	switch i {
	case IntervalLinear:
		return "linear"
	case IntervalMonthly:
		return "monthly"
	default:
		return "unknown"
	}
}

// ParseInterval maps a textual interval to its enum value.
func ParseInterval(raw string) (IntervalType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "linear":
		return IntervalLinear, nil
	case "monthly":
		return IntervalMonthly, nil
	default:
		return 0, fmt.Errorf("vesting: unknown interval %q", raw)
	}
}

var (
	ErrInvalidProof       = errors.New("vesting: invalid allocation proof")
	ErrExceedsClaimable   = errors.New("vesting: amount exceeds claimable")
	ErrSchedulePaused     = errors.New("vesting: schedule paused")
	ErrBeforeTGE          = errors.New("vesting: claims open at tge")
	ErrScheduleNotFound   = errors.New("vesting: schedule not found")
	ErrScheduleExists     = errors.New("vesting: schedule already exists")
	ErrInvalidSchedule    = errors.New("vesting: invalid schedule")
	ErrZeroClaim          = errors.New("vesting: claim amount must be positive")
	ErrNilState           = errors.New("vesting: state not configured")
	ErrEmptyAllocations   = errors.New("vesting: no allocations")
	ErrDuplicateAccount   = errors.New("vesting: duplicate beneficiary")
	ErrInvalidEntitlement = errors.New("vesting: entitlement must be non-negative")
)

// Schedule describes how a pool of sale tokens unlocks for the beneficiaries
// committed to by MerkleRoot. Only Paused and TotalClaimed change after
// creation.
type Schedule struct {
	ID              [32]byte
	RoundID         [32]byte
	Token           string
	TotalTokens     *big.Int
	TGEPercentage   uint8
	TGEAt           int64
	CliffDuration   int64
	VestingDuration int64
	Interval        IntervalType
	MerkleRoot      [32]byte
	Salt            [32]byte
	ChainID         uint64
	Contract        [20]byte
	Paused          bool
	TotalClaimed    *big.Int
	CreatedAt       int64
}

// Clone returns a deep copy.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := *s
	clone.TotalTokens = cloneBig(s.TotalTokens)
	clone.TotalClaimed = cloneBig(s.TotalClaimed)
	return &clone
}

// Validate enforces the static schedule invariants.
func (s *Schedule) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil schedule", ErrInvalidSchedule)
	}
	if _, err := common.NormalizeToken(s.Token); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	if s.TotalTokens == nil || s.TotalTokens.Sign() < 0 {
		return fmt.Errorf("%w: total tokens must be non-negative", ErrInvalidSchedule)
	}
	if s.TGEPercentage > 100 {
		return fmt.Errorf("%w: tge percentage above 100", ErrInvalidSchedule)
	}
	if s.TGEAt <= 0 {
		return fmt.Errorf("%w: tge_at required", ErrInvalidSchedule)
	}
	if s.CliffDuration < 0 || s.VestingDuration < 0 {
		return fmt.Errorf("%w: durations must be non-negative", ErrInvalidSchedule)
	}
	if s.Interval != IntervalLinear && s.Interval != IntervalMonthly {
		return fmt.Errorf("%w: unknown interval", ErrInvalidSchedule)
	}
	if s.MerkleRoot == ([32]byte{}) {
		return fmt.Errorf("%w: merkle root required", ErrInvalidSchedule)
	}
	return nil
}

// Allocation is one beneficiary's position in a schedule.
type Allocation struct {
	Beneficiary      [20]byte
	TotalEntitlement *big.Int
	ClaimedSoFar     *big.Int
}

// Entitlement pairs a beneficiary with its total allocation.
type Entitlement struct {
	Beneficiary [20]byte
	Amount      *big.Int
}

// DeriveScheduleID returns keccak256(roundID ‖ salt).
func DeriveScheduleID(roundID, salt [32]byte) [32]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, roundID[:]...)
	buf = append(buf, salt[:]...)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// VaultAddress is the module account holding funded, unclaimed vesting tokens.
func VaultAddress(token string) [20]byte {
	return common.ModuleAddress("vesting", "vault", token)
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
