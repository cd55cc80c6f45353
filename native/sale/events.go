package sale

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/types"
)

const (
	EventTypeRoundCreated  = "sale.created"
	EventTypeContributed   = "sale.contributed"
	EventTypeRoundEnded    = "sale.ended"
	EventTypeCancelled     = "sale.cancelled"
	EventTypeFinalizing    = "sale.finalizing"
	EventTypeFinalized     = "sale.finalized"
	EventTypeRefunded      = "sale.refunded"
	EventTypeContribRefund = "sale.contribution_refunded"
)

func newRoundEvent(eventType string, r *Round, now int64) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["roundId"] = hex.EncodeToString(r.ID[:])
	attrs["projectId"] = hex.EncodeToString(r.ProjectID[:])
	attrs["kind"] = r.Kind.String()
	attrs["owner"] = hex.EncodeToString(r.Owner[:])
	attrs["quoteToken"] = r.QuoteToken
	attrs["saleToken"] = r.SaleToken
	attrs["status"] = r.Status(now).String()
	attrs["totalRaised"] = cloneBig(r.TotalRaised).String()
	attrs["contributors"] = strconv.FormatUint(r.ContributorCount, 10)
	if r.EndedEarly {
		attrs["endedEarly"] = "true"
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newContributionEvent(r *Round, c *Contribution, cumulative string) *types.Event {
	evt := newRoundEvent(EventTypeContributed, r, c.Timestamp)
	evt.Attributes["contributor"] = hex.EncodeToString(c.Contributor[:])
	evt.Attributes["amount"] = cloneBig(c.Amount).String()
	evt.Attributes["cumulative"] = cumulative
	evt.Attributes["timestamp"] = strconv.FormatInt(c.Timestamp, 10)
	return evt
}

func newRefundEvent(r *Round, refund ContributorTotal, now int64) *types.Event {
	evt := newRoundEvent(EventTypeContribRefund, r, now)
	evt.Attributes["contributor"] = hex.EncodeToString(refund.Contributor[:])
	evt.Attributes["amount"] = cloneBig(refund.Amount).String()
	return evt
}
