package state

import (
	"math/big"

	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

// EscrowPut stores a deposit record.
func (tx *Tx) EscrowPut(d *escrow.Deposit) error {
	sanitized, err := escrow.SanitizeDeposit(d)
	if err != nil {
		return err
	}
	return tx.putRLP(escrowKey(sanitized.ProjectID), newStoredDeposit(sanitized))
}

// EscrowGet loads a deposit record.
func (tx *Tx) EscrowGet(id [32]byte) (*escrow.Deposit, bool, error) {
	var stored storedDeposit
	ok, err := tx.getRLP(escrowKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.deposit(), true, nil
}

// SaleRoundPut stores a round.
func (tx *Tx) SaleRoundPut(r *sale.Round) error {
	return tx.putRLP(roundKey(r.ID), newStoredRound(r))
}

// SaleRoundGet loads a round.
func (tx *Tx) SaleRoundGet(id [32]byte) (*sale.Round, bool, error) {
	var stored storedRound
	ok, err := tx.getRLP(roundKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.round(), true, nil
}

// SaleContributionAppend appends to the round's contribution log.
func (tx *Tx) SaleContributionAppend(id [32]byte, c *sale.Contribution) error {
	var list []storedContribution
	if _, err := tx.getRLP(contributionsKey(id), &list); err != nil {
		return err
	}
	list = append(list, storedContribution{Contributor: c.Contributor, Amount: bigOrZero(c.Amount), Timestamp: uint64(c.Timestamp)})
	return tx.putRLP(contributionsKey(id), list)
}

// SaleContributions returns the round's contribution log in acceptance order.
func (tx *Tx) SaleContributions(id [32]byte) ([]*sale.Contribution, error) {
	var list []storedContribution
	if _, err := tx.getRLP(contributionsKey(id), &list); err != nil {
		return nil, err
	}
	out := make([]*sale.Contribution, len(list))
	for i, c := range list {
		out[i] = &sale.Contribution{Contributor: c.Contributor, Amount: bigOrZero(c.Amount), Timestamp: int64(c.Timestamp)}
	}
	return out, nil
}

// SaleContributedGet returns a contributor's cumulative contribution.
func (tx *Tx) SaleContributedGet(id [32]byte, who [20]byte) (*big.Int, error) {
	return tx.amount(contributedKey(id, who))
}

// SaleContributedPut stores a contributor's cumulative contribution.
func (tx *Tx) SaleContributedPut(id [32]byte, who [20]byte, total *big.Int) error {
	return tx.putRLP(contributedKey(id, who), bigOrZero(total))
}

// SaleQuotaGet loads a contributor's quota usage.
func (tx *Tx) SaleQuotaGet(id [32]byte, who [20]byte) (common.QuotaNow, bool, error) {
	var stored storedQuota
	ok, err := tx.getRLP(saleQuotaKey(id, who), &stored)
	if err != nil || !ok {
		return common.QuotaNow{}, false, err
	}
	return common.QuotaNow{ReqCount: stored.ReqCount, AmountUsed: bigOrZero(stored.AmountUsed), EpochID: stored.EpochID}, true, nil
}

// SaleQuotaPut stores a contributor's quota usage.
func (tx *Tx) SaleQuotaPut(id [32]byte, who [20]byte, usage common.QuotaNow) error {
	return tx.putRLP(saleQuotaKey(id, who), quotaRecord(usage))
}

// VestingSchedulePut stores a schedule.
func (tx *Tx) VestingSchedulePut(s *vesting.Schedule) error {
	return tx.putRLP(scheduleKey(s.ID), newStoredSchedule(s))
}

// VestingScheduleGet loads a schedule.
func (tx *Tx) VestingScheduleGet(id [32]byte) (*vesting.Schedule, bool, error) {
	var stored storedSchedule
	ok, err := tx.getRLP(scheduleKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.schedule(), true, nil
}

// VestingClaimedGet returns the amount a beneficiary has claimed so far.
func (tx *Tx) VestingClaimedGet(id [32]byte, who [20]byte) (*big.Int, error) {
	return tx.amount(claimedKey(id, who))
}

// VestingClaimedPut stores the amount a beneficiary has claimed so far.
func (tx *Tx) VestingClaimedPut(id [32]byte, who [20]byte, claimed *big.Int) error {
	return tx.putRLP(claimedKey(id, who), bigOrZero(claimed))
}

// BondingPoolPut stores a pool.
func (tx *Tx) BondingPoolPut(p *bonding.Pool) error {
	return tx.putRLP(poolKey(p.ID), newStoredPool(p))
}

// BondingPoolGet loads a pool.
func (tx *Tx) BondingPoolGet(id [32]byte) (*bonding.Pool, bool, error) {
	var stored storedPool
	ok, err := tx.getRLP(poolKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.pool(), true, nil
}

// FinalizeResultPut stores a round's settlement result.
func (tx *Tx) FinalizeResultPut(roundID [32]byte, r *finalize.Result) error {
	return tx.putRLP(resultKey(roundID), newStoredResult(r))
}

// FinalizeResultGet loads a round's settlement result.
func (tx *Tx) FinalizeResultGet(roundID [32]byte) (*finalize.Result, bool, error) {
	var stored storedResult
	ok, err := tx.getRLP(resultKey(roundID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return stored.result(), true, nil
}

// SetRole grants role to addr.
func (tx *Tx) SetRole(role string, addr [20]byte) error {
	var members [][20]byte
	if _, err := tx.getRLP(roleKey(role), &members); err != nil {
		return err
	}
	for _, existing := range members {
		if existing == addr {
			return nil
		}
	}
	members = append(members, addr)
	return tx.putRLP(roleKey(role), members)
}

// HasRole reports whether addr holds role. Read errors count as no role.
func (tx *Tx) HasRole(role string, addr [20]byte) bool {
	var members [][20]byte
	if ok, err := tx.getRLP(roleKey(role), &members); err != nil || !ok {
		return false
	}
	for _, member := range members {
		if member == addr {
			return true
		}
	}
	return false
}

func (tx *Tx) amount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := tx.getRLP(key, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

var (
	_ escrow.State         = (*Tx)(nil)
	_ sale.State           = (*Tx)(nil)
	_ vesting.State        = (*Tx)(nil)
	_ bonding.State        = (*Tx)(nil)
	_ finalize.Transaction = (*Tx)(nil)
)
