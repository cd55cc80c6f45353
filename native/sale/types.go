package sale

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"launchpad/core/pricing"
	"launchpad/native/common"
)

// Kind distinguishes fixed-price presales from pro-rata fairlaunches.
type Kind uint8

const (
	KindPresale Kind = iota + 1
	KindFairlaunch
)

func (k Kind) String() string {
	switch k {
	case KindPresale:
		return "presale"
	case KindFairlaunch:
		return "fairlaunch"
	default:
		return "unknown"
	}
}

// ParseKind maps a textual kind to its enum value.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "presale":
		return KindPresale, nil
	case "fairlaunch":
		return KindFairlaunch, nil
	default:
		return 0, fmt.Errorf("sale: unknown kind %q", raw)
	}
}

// Status is the lifecycle position of a round.
type Status uint8

const (
	StatusUpcoming Status = iota + 1
	StatusActive
	StatusEnded
	StatusFinalizing
	StatusFinalizedSuccess
	StatusFinalizedFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusUpcoming:
		return "UPCOMING"
	case StatusActive:
		return "ACTIVE"
	case StatusEnded:
		return "ENDED"
	case StatusFinalizing:
		return "FINALIZING"
	case StatusFinalizedSuccess:
		return "FINALIZED_SUCCESS"
	case StatusFinalizedFailed:
		return "FINALIZED_FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusFinalizedSuccess || s == StatusFinalizedFailed || s == StatusCancelled
}

var (
	ErrNotActive        = errors.New("sale: round is not active")
	ErrBelowMinimum     = errors.New("sale: contribution below minimum")
	ErrAboveMaximum     = errors.New("sale: contribution above maximum")
	ErrHardcapExceeded  = errors.New("sale: contribution exceeds hardcap")
	ErrCannotCancel     = errors.New("sale: round can only be cancelled while upcoming or active")
	ErrRoundExists      = errors.New("sale: round already exists")
	ErrRoundNotFound    = errors.New("sale: round not found")
	ErrInvalidRound     = errors.New("sale: invalid round parameters")
	ErrNotEnded         = errors.New("sale: round has not ended")
	ErrNotFinalizing    = errors.New("sale: round is not finalizing")
	ErrAlreadyRefunded  = errors.New("sale: contributions already refunded")
	ErrRefundNotAllowed = errors.New("sale: round outcome does not allow refunds")
	ErrNilState         = errors.New("sale: state not configured")
)

// Round is a single sale. Hardcap is nil for uncapped fairlaunches and Price
// is empty unless Kind is KindPresale. Phase persists statuses that cannot be
// derived from the clock; zero means the status follows StartTime/EndTime.
type Round struct {
	ID              [32]byte
	Kind            Kind
	Owner           [20]byte
	ProjectID       [32]byte
	QuoteToken      string
	SaleToken       string
	QuoteDecimals   uint8
	TokenDecimals   uint8
	Softcap         *big.Int
	Hardcap         *big.Int
	MinContribution *big.Int
	MaxContribution *big.Int
	StartTime       int64
	EndTime         int64
	TokensForSale   *big.Int
	Price           string
	FeeProfile      string

	TotalRaised      *big.Int
	ContributorCount uint64
	EndedEarly       bool
	Phase            Status
	Refunded         bool
	UpdatedAt        int64
}

// Capped reports whether the round enforces a hardcap.
func (r *Round) Capped() bool {
	return r != nil && r.Hardcap != nil
}

// Status derives the lifecycle status at now.
func (r *Round) Status(now int64) Status {
	if r == nil {
		return 0
	}
	if r.Phase != 0 {
		return r.Phase
	}
	if r.EndedEarly {
		return StatusEnded
	}
	switch {
	case now < r.StartTime:
		return StatusUpcoming
	case now < r.EndTime:
		return StatusActive
	default:
		return StatusEnded
	}
}

// Clone returns a deep copy of the round.
func (r *Round) Clone() *Round {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Softcap = cloneBig(r.Softcap)
	if r.Hardcap != nil {
		clone.Hardcap = new(big.Int).Set(r.Hardcap)
	}
	clone.MinContribution = cloneBig(r.MinContribution)
	clone.MaxContribution = cloneBig(r.MaxContribution)
	clone.TokensForSale = cloneBig(r.TokensForSale)
	clone.TotalRaised = cloneBig(r.TotalRaised)
	return &clone
}

// Validate enforces the static round invariants.
func (r *Round) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: nil round", ErrInvalidRound)
	}
	if r.Kind != KindPresale && r.Kind != KindFairlaunch {
		return fmt.Errorf("%w: unknown kind", ErrInvalidRound)
	}
	if _, err := common.NormalizeToken(r.QuoteToken); err != nil {
		return fmt.Errorf("%w: quote token: %v", ErrInvalidRound, err)
	}
	if _, err := common.NormalizeToken(r.SaleToken); err != nil {
		return fmt.Errorf("%w: sale token: %v", ErrInvalidRound, err)
	}
	if r.StartTime >= r.EndTime {
		return fmt.Errorf("%w: start_time must precede end_time", ErrInvalidRound)
	}
	if !positive(r.TokensForSale) {
		return fmt.Errorf("%w: tokens_for_sale must be positive", ErrInvalidRound)
	}
	if !positive(r.MinContribution) || !positive(r.MaxContribution) {
		return fmt.Errorf("%w: contribution bounds must be positive", ErrInvalidRound)
	}
	if r.MinContribution.Cmp(r.MaxContribution) > 0 {
		return fmt.Errorf("%w: min_contribution exceeds max_contribution", ErrInvalidRound)
	}
	if r.Softcap == nil || r.Softcap.Sign() < 0 {
		return fmt.Errorf("%w: softcap must be non-negative", ErrInvalidRound)
	}
	if r.Hardcap != nil {
		if r.Hardcap.Sign() <= 0 {
			return fmt.Errorf("%w: hardcap must be positive", ErrInvalidRound)
		}
		if r.Softcap.Cmp(r.Hardcap) > 0 {
			return fmt.Errorf("%w: softcap exceeds hardcap", ErrInvalidRound)
		}
	}
	switch r.Kind {
	case KindPresale:
		if r.Hardcap == nil {
			return fmt.Errorf("%w: presale requires a hardcap", ErrInvalidRound)
		}
		price, err := pricing.ParsePrice(r.Price)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRound, err)
		}
		required, err := pricing.RequiredTokens(r.Hardcap, price, r.QuoteDecimals, r.TokenDecimals)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRound, err)
		}
		if r.TokensForSale.Cmp(required) != 0 {
			return fmt.Errorf("%w: tokens_for_sale %s does not match hardcap at price %s (%s)", ErrInvalidRound, r.TokensForSale, price, required)
		}
	case KindFairlaunch:
		if strings.TrimSpace(r.Price) != "" {
			return fmt.Errorf("%w: fairlaunch price is derived at finalization", ErrInvalidRound)
		}
	}
	return nil
}

// DeriveRoundID returns keccak256(owner ‖ projectID ‖ start_time).
func DeriveRoundID(owner [20]byte, projectID [32]byte, start int64) [32]byte {
	var startWord [32]byte
	new(big.Int).SetInt64(start).FillBytes(startWord[:])
	buf := make([]byte, 0, 84)
	buf = append(buf, owner[:]...)
	buf = append(buf, projectID[:]...)
	buf = append(buf, startWord[:]...)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// Contribution is an immutable record of a single accepted contribution.
type Contribution struct {
	Contributor [20]byte
	Amount      *big.Int
	Timestamp   int64
}

// Clone returns a deep copy.
func (c *Contribution) Clone() *Contribution {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Amount = cloneBig(c.Amount)
	return &clone
}

// ContributorTotal aggregates every contribution of one address.
type ContributorTotal struct {
	Contributor [20]byte
	Amount      *big.Int
}

// AggregateContributions folds contributions per contributor, ordered by each
// contributor's first contribution.
func AggregateContributions(contributions []*Contribution) []ContributorTotal {
	index := make(map[[20]byte]int, len(contributions))
	out := make([]ContributorTotal, 0, len(contributions))
	for _, c := range contributions {
		if c == nil || c.Amount == nil {
			continue
		}
		if i, ok := index[c.Contributor]; ok {
			out[i].Amount.Add(out[i].Amount, c.Amount)
			continue
		}
		index[c.Contributor] = len(out)
		out = append(out, ContributorTotal{Contributor: c.Contributor, Amount: new(big.Int).Set(c.Amount)})
	}
	return out
}

// VaultAddress is the module account holding contributed quote tokens.
func VaultAddress(token string) [20]byte {
	return common.ModuleAddress("sale", "vault", token)
}

// EffectivePrice reports the round's price as a decimal string. Presales
// return the configured price; fairlaunch prices are total_raised divided by
// tokens_for_sale.
func EffectivePrice(r *Round, totalRaised *big.Int) (string, error) {
	if r == nil {
		return "", ErrRoundNotFound
	}
	if r.Kind == KindPresale {
		price, err := pricing.ParsePrice(r.Price)
		if err != nil {
			return "", err
		}
		return price.String(), nil
	}
	price, err := pricing.EffectivePrice(totalRaised, r.TokensForSale, r.QuoteDecimals, r.TokenDecimals)
	if err != nil {
		return "", err
	}
	return price.String(), nil
}

func positive(v *big.Int) bool { return v != nil && v.Sign() > 0 }

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
