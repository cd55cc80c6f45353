package finalize

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/types"
)

const (
	EventTypeFinalized              = "finalize.completed"
	EventTypeReconciliationRejected = "finalize.reconciliation_failed"
)

func newFinalizedEvent(r *Result) *types.Event {
	attrs := Breakdown(r)
	attrs["roundId"] = hex.EncodeToString(r.RoundID[:])
	attrs["merkleRoot"] = hex.EncodeToString(r.MerkleRoot[:])
	attrs["scheduleId"] = hex.EncodeToString(r.ScheduleID[:])
	attrs["finalizedAt"] = strconv.FormatInt(r.FinalizedAt, 10)
	if r.EffectivePrice != "" {
		attrs["effectivePrice"] = r.EffectivePrice
	}
	if r.Reason != "" {
		attrs["reason"] = r.Reason
	}
	return &types.Event{Type: EventTypeFinalized, Attributes: attrs}
}

func newRejectedEvent(roundID [32]byte, recErr *ReconciliationError) *types.Event {
	attrs := make(map[string]string, len(recErr.Breakdown)+2)
	for k, v := range recErr.Breakdown {
		attrs[k] = v
	}
	attrs["roundId"] = hex.EncodeToString(roundID[:])
	attrs["violations"] = strconv.Itoa(len(recErr.Violations))
	return &types.Event{Type: EventTypeReconciliationRejected, Attributes: attrs}
}
