package escrow

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/types"
)

const (
	EventTypeDeposited = "escrow.deposited"
	EventTypeReleased  = "escrow.released"
	EventTypeRefunded  = "escrow.refunded"
)

// NewDepositedEvent returns the canonical payload for a new project deposit.
func NewDepositedEvent(d *Deposit) *types.Event { return newDepositEvent(EventTypeDeposited, d, nil) }

// NewReleasedEvent returns the payload emitted when custody is released to a
// recipient.
func NewReleasedEvent(d *Deposit, to [20]byte) *types.Event {
	return newDepositEvent(EventTypeReleased, d, &to)
}

// NewRefundedEvent returns the payload emitted when custody is returned to the
// depositor.
func NewRefundedEvent(d *Deposit) *types.Event { return newDepositEvent(EventTypeRefunded, d, nil) }

func newDepositEvent(eventType string, d *Deposit, to *[20]byte) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["projectId"] = hex.EncodeToString(d.ProjectID[:])
	attrs["token"] = d.Token
	attrs["amount"] = cloneBigInt(d.Amount).String()
	attrs["depositor"] = hex.EncodeToString(d.Depositor[:])
	attrs["released"] = strconv.FormatBool(d.Released)
	attrs["refunded"] = strconv.FormatBool(d.Refunded)
	attrs["createdAt"] = strconv.FormatInt(d.CreatedAt, 10)
	if to != nil {
		attrs["to"] = hex.EncodeToString(to[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
