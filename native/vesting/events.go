package vesting

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/types"
)

const (
	EventTypeScheduleCreated = "vesting.schedule_created"
	EventTypeClaimed         = "vesting.claimed"
	EventTypePaused          = "vesting.paused"
	EventTypeResumed         = "vesting.resumed"
)

func newScheduleEvent(eventType string, s *Schedule) *types.Event {
	attrs := map[string]string{
		"scheduleId": hex.EncodeToString(s.ID[:]),
		"roundId":    hex.EncodeToString(s.RoundID[:]),
		"token":      s.Token,
		"total":      cloneBig(s.TotalTokens).String(),
		"merkleRoot": hex.EncodeToString(s.MerkleRoot[:]),
		"tgeAt":      strconv.FormatInt(s.TGEAt, 10),
		"interval":   s.Interval.String(),
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newClaimedEvent(s *Schedule, a *Allocation, amount string, now int64) *types.Event {
	return &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"scheduleId":  hex.EncodeToString(s.ID[:]),
		"beneficiary": hex.EncodeToString(a.Beneficiary[:]),
		"token":       s.Token,
		"amount":      amount,
		"claimed":     cloneBig(a.ClaimedSoFar).String(),
		"entitlement": cloneBig(a.TotalEntitlement).String(),
		"timestamp":   strconv.FormatInt(now, 10),
	}}
}
