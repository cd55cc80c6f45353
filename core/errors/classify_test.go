package errors

import (
	"fmt"
	"testing"

	"launchpad/core/state"
	"launchpad/native/bonding"
	"launchpad/native/finalize"
	"launchpad/native/sale"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassUnknown},
		{"wrapped validation", fmt.Errorf("contribute: %w", sale.ErrBelowMinimum), ClassValidation},
		{"bonding validation", bonding.ErrInvalidSlippage, ClassValidation},
		{"status conflict", fmt.Errorf("%w: status ACTIVE", sale.ErrNotEnded), ClassStateConflict},
		{"stale quote", bonding.ErrStaleQuote, ClassStateConflict},
		{"tx conflict", state.ErrTxConflict, ClassStateConflict},
		{"reconciliation", &finalize.ReconciliationError{Violations: []string{"burn"}}, ClassReconciliation},
		{"foreign", fmt.Errorf("boom"), ClassUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestReconciliationIsNeverRetryable(t *testing.T) {
	err := fmt.Errorf("finalize: %w", &finalize.ReconciliationError{})
	if !IsReconciliation(err) {
		t.Fatalf("expected reconciliation classification")
	}
	if Retryable(err) || IsValidation(err) || IsStateConflict(err) {
		t.Fatalf("reconciliation errors must not be retried or reclassified")
	}
	if !Retryable(sale.ErrNotActive) {
		t.Fatalf("state conflicts are retryable")
	}
}
