package errors

import (
	stderrors "errors"

	"launchpad/core/idempotency"
	"launchpad/core/state"
	"launchpad/native/bonding"
	"launchpad/native/common"
	"launchpad/native/escrow"
	"launchpad/native/fees"
	"launchpad/native/finalize"
	"launchpad/native/sale"
	"launchpad/native/vesting"
)

// Class groups settlement errors by how callers should react to them.
type Class uint8

const (
	ClassUnknown Class = iota
	// ClassValidation errors reject the request itself; retrying the same
	// request cannot succeed.
	ClassValidation
	// ClassStateConflict errors depend on current state (status, balances,
	// existing records, pauses) and may succeed once state changes.
	ClassStateConflict
	// ClassReconciliation errors abort a finalization and are never retried.
	ClassReconciliation
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassStateConflict:
		return "state_conflict"
	case ClassReconciliation:
		return "reconciliation"
	default:
		return "unknown"
	}
}

var validation = []error{
	escrow.ErrZeroAmount,
	common.ErrInvalidToken,
	sale.ErrBelowMinimum,
	sale.ErrAboveMaximum,
	sale.ErrHardcapExceeded,
	sale.ErrInvalidRound,
	vesting.ErrInvalidProof,
	vesting.ErrInvalidSchedule,
	vesting.ErrZeroClaim,
	vesting.ErrEmptyAllocations,
	vesting.ErrDuplicateAccount,
	vesting.ErrInvalidEntitlement,
	fees.ErrEmptyProfile,
	fees.ErrBpsSum,
	fees.ErrDuplicateBucket,
	fees.ErrNegativeTotal,
	fees.ErrUnknownProfile,
	fees.ErrBucketNameNeeded,
	finalize.ErrInvalidInput,
	bonding.ErrZeroInput,
	bonding.ErrInvalidReserves,
	bonding.ErrInvalidFee,
	bonding.ErrInvalidDirection,
	bonding.ErrZeroOutput,
	bonding.ErrOverflow,
	bonding.ErrInvalidSlippage,
	bonding.ErrInvalidAmount,
	idempotency.ErrEmptyKey,
}

var stateConflict = []error{
	escrow.ErrDepositExists,
	escrow.ErrNotPending,
	escrow.ErrNotFound,
	escrow.ErrUnauthorized,
	sale.ErrNotActive,
	sale.ErrCannotCancel,
	sale.ErrRoundExists,
	sale.ErrRoundNotFound,
	sale.ErrNotEnded,
	sale.ErrNotFinalizing,
	sale.ErrAlreadyRefunded,
	sale.ErrRefundNotAllowed,
	vesting.ErrExceedsClaimable,
	vesting.ErrSchedulePaused,
	vesting.ErrBeforeTGE,
	vesting.ErrScheduleNotFound,
	vesting.ErrScheduleExists,
	finalize.ErrOutcomeMismatch,
	finalize.ErrDepositMissing,
	finalize.ErrNotCancelled,
	bonding.ErrStaleQuote,
	bonding.ErrSlippageExceeded,
	bonding.ErrPoolNotLive,
	bonding.ErrPoolNotGraduating,
	bonding.ErrPoolNotFound,
	bonding.ErrPoolExists,
	bonding.ErrInsufficientLiquidity,
	bonding.ErrInsufficientBalance,
	common.ErrModulePaused,
	common.ErrThrottled,
	common.ErrQuotaRequestsExceeded,
	common.ErrQuotaAmountExceeded,
	state.ErrTxConflict,
	state.ErrInsufficientBalance,
}

func matches(err error, targets []error) bool {
	for _, target := range targets {
		if stderrors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err rejects malformed input.
func IsValidation(err error) bool {
	return err != nil && !IsReconciliation(err) && matches(err, validation)
}

// IsStateConflict reports whether err stems from the current state rather
// than the request.
func IsStateConflict(err error) bool {
	return err != nil && !IsReconciliation(err) && matches(err, stateConflict)
}

// IsReconciliation reports whether err is a finalization reconciliation
// failure.
func IsReconciliation(err error) bool {
	return stderrors.Is(err, finalize.ErrReconciliation)
}

// Classify returns the class of err.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassUnknown
	case IsReconciliation(err):
		return ClassReconciliation
	case IsValidation(err):
		return ClassValidation
	case IsStateConflict(err):
		return ClassStateConflict
	default:
		return ClassUnknown
	}
}

// Retryable reports whether repeating the operation later may succeed.
func Retryable(err error) bool {
	return Classify(err) == ClassStateConflict
}
