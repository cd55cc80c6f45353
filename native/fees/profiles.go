package fees

import (
	"fmt"
	"sort"
	"sync"
)

// Built-in profile names.
const (
	ProfileSale    = "sale"
	ProfileTwoWay  = "two_way"
	ProfileBonding = "bonding"
)

// DefaultProfiles returns the stock deployment profiles. Wallets are left
// zero and are expected to be filled from configuration.
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: ProfileSale, Buckets: []Bucket{
			{Name: BucketTreasury, Bps: 5000},
			{Name: BucketReferralPool, Bps: 4000},
			{Name: BucketStakingPool, Bps: 1000},
		}},
		{Name: ProfileTwoWay, Buckets: []Bucket{
			{Name: BucketTreasury, Bps: 7000},
			{Name: BucketReferralPool, Bps: 3000},
		}},
		{Name: ProfileBonding, Buckets: []Bucket{
			{Name: BucketTreasury, Bps: 5000},
			{Name: BucketReferralPool, Bps: 5000},
		}},
	}
}

// Registry resolves validated profiles by name.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewRegistry validates and indexes the supplied profiles.
func NewRegistry(profiles ...Profile) (*Registry, error) {
	reg := &Registry{profiles: make(map[string]Profile, len(profiles))}
	for _, profile := range profiles {
		if err := reg.Register(profile); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register adds or replaces a profile after validation.
func (r *Registry) Register(profile Profile) error {
	name := NormalizeName(profile.Name)
	if name == "" {
		return fmt.Errorf("fees: profile name required")
	}
	if err := profile.Validate(); err != nil {
		return err
	}
	clone := profile.Clone()
	clone.Name = name
	r.mu.Lock()
	r.profiles[name] = clone
	r.mu.Unlock()
	return nil
}

// Lookup returns the named profile.
func (r *Registry) Lookup(name string) (Profile, error) {
	if r == nil {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	r.mu.RLock()
	profile, ok := r.profiles[NormalizeName(name)]
	r.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
	return profile.Clone(), nil
}

// Names lists registered profiles in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
