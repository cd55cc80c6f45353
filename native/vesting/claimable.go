package vesting

import "math/big"

// Unlocked returns the cumulative amount of totalEntitlement unlocked at now,
// ignoring claims. The TGE share is available at TGEAt regardless of the
// cliff; the rest unlocks over VestingDuration once the cliff has elapsed.
func Unlocked(s *Schedule, totalEntitlement *big.Int, now int64) *big.Int {
	if s == nil || totalEntitlement == nil || totalEntitlement.Sign() <= 0 || now < s.TGEAt {
		return big.NewInt(0)
	}
	tge := new(big.Int).Mul(totalEntitlement, big.NewInt(int64(s.TGEPercentage)))
	tge.Quo(tge, big.NewInt(100))
	rest := new(big.Int).Sub(totalEntitlement, tge)

	vestStart := s.TGEAt + s.CliffDuration
	if now < vestStart {
		return tge
	}
	elapsed := now - vestStart
	if elapsed >= s.VestingDuration {
		return tge.Add(tge, rest)
	}
	if s.Interval == IntervalMonthly {
		elapsed = (elapsed / MonthSeconds) * MonthSeconds
	}
	vested := new(big.Int).Mul(rest, big.NewInt(elapsed))
	vested.Quo(vested, big.NewInt(s.VestingDuration))
	return tge.Add(tge, vested)
}

// Claimable returns what the allocation may claim at now: the unlocked amount
// minus what was already claimed, floored at zero.
func Claimable(s *Schedule, a *Allocation, now int64) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	available := Unlocked(s, a.TotalEntitlement, now)
	if a.ClaimedSoFar != nil {
		available.Sub(available, a.ClaimedSoFar)
	}
	if available.Sign() < 0 {
		return big.NewInt(0)
	}
	return available
}

// CanClaimNow gates claims independently of the amount math.
func CanClaimNow(s *Schedule, now int64) error {
	if s == nil {
		return ErrScheduleNotFound
	}
	if s.Paused {
		return ErrSchedulePaused
	}
	if now < s.TGEAt {
		return ErrBeforeTGE
	}
	return nil
}
