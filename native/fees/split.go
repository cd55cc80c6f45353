package fees

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"launchpad/native/common"
)

// BpsDenominator is the basis-point scale: 10000 bps == 100%.
const BpsDenominator = 10_000

// Well-known bucket names.
const (
	BucketTreasury     = "treasury"
	BucketReferralPool = "referral_pool"
	BucketStakingPool  = "staking_pool"
)

var (
	ErrEmptyProfile     = errors.New("fees: profile has no buckets")
	ErrBpsSum           = errors.New("fees: bucket bps must sum to 10000")
	ErrDuplicateBucket  = errors.New("fees: duplicate bucket name")
	ErrNegativeTotal    = errors.New("fees: total must be non-negative")
	ErrUnknownProfile   = errors.New("fees: unknown profile")
	ErrBucketNameNeeded = errors.New("fees: bucket name required")
)

// Bucket is one destination of a split. Wallet is the account credited with
// the bucket's share when the split is settled.
type Bucket struct {
	Name   string   `json:"name"`
	Bps    uint32   `json:"bps"`
	Wallet [20]byte `json:"wallet"`
}

// Profile is an ordered set of buckets. Order matters: the last bucket
// absorbs the rounding remainder.
type Profile struct {
	Name    string   `json:"name"`
	Buckets []Bucket `json:"buckets"`
}

// Validate enforces a non-empty, uniquely named bucket list summing to 10000 bps.
func (p Profile) Validate() error {
	if len(p.Buckets) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyProfile, p.Name)
	}
	seen := make(map[string]struct{}, len(p.Buckets))
	var sum uint64
	for _, bucket := range p.Buckets {
		name := NormalizeName(bucket.Name)
		if name == "" {
			return fmt.Errorf("%w in profile %q", ErrBucketNameNeeded, p.Name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %q in profile %q", ErrDuplicateBucket, name, p.Name)
		}
		seen[name] = struct{}{}
		sum += uint64(bucket.Bps)
	}
	if sum != BpsDenominator {
		return fmt.Errorf("%w: profile %q sums to %d", ErrBpsSum, p.Name, sum)
	}
	return nil
}

// Clone returns a deep copy of the profile.
func (p Profile) Clone() Profile {
	out := Profile{Name: p.Name, Buckets: make([]Bucket, len(p.Buckets))}
	copy(out.Buckets, p.Buckets)
	return out
}

// Share is the amount allocated to a single bucket.
type Share struct {
	Name   string
	Wallet [20]byte
	Amount *big.Int
}

// Destination is the account credited with the share. Buckets without a
// configured wallet settle into a module account named after the bucket.
func (s Share) Destination() [20]byte {
	if s.Wallet != ([20]byte{}) {
		return s.Wallet
	}
	return common.ModuleAddress("fees", s.Name)
}

// Shares is the ordered result of a split.
type Shares []Share

// Total sums every share.
func (s Shares) Total() *big.Int {
	total := big.NewInt(0)
	for _, share := range s {
		if share.Amount != nil {
			total.Add(total, share.Amount)
		}
	}
	return total
}

// Get returns the amount allocated to the named bucket, or zero.
func (s Shares) Get(name string) *big.Int {
	normalized := NormalizeName(name)
	for _, share := range s {
		if share.Name == normalized && share.Amount != nil {
			return new(big.Int).Set(share.Amount)
		}
	}
	return big.NewInt(0)
}

// Clone deep-copies the shares.
func (s Shares) Clone() Shares {
	out := make(Shares, len(s))
	for i, share := range s {
		out[i] = Share{Name: share.Name, Wallet: share.Wallet, Amount: cloneBig(share.Amount)}
	}
	return out
}

// Split distributes total across the profile's buckets with
// share_i = floor(total * bps_i / 10000) and the final bucket receiving
// whatever remains, so that the shares always sum to total exactly.
func Split(profile Profile, total *big.Int) (Shares, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	amount := cloneBig(total)
	if amount.Sign() < 0 {
		return nil, ErrNegativeTotal
	}
	shares := make(Shares, len(profile.Buckets))
	allocated := big.NewInt(0)
	denominator := big.NewInt(BpsDenominator)
	last := len(profile.Buckets) - 1
	for i, bucket := range profile.Buckets {
		share := Share{Name: NormalizeName(bucket.Name), Wallet: bucket.Wallet}
		if i == last {
			share.Amount = new(big.Int).Sub(amount, allocated)
		} else {
			portion := new(big.Int).Mul(amount, big.NewInt(int64(bucket.Bps)))
			portion.Quo(portion, denominator)
			share.Amount = portion
			allocated.Add(allocated, portion)
		}
		shares[i] = share
	}
	return shares, nil
}

// NormalizeName canonicalises bucket and profile identifiers.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
