package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"launchpad/core/types"
)

const (
	// TypeFeeRouted marks a fee share credited to one bucket of a profile.
	TypeFeeRouted = "fees.routed"
)

// Fee domains.
const (
	FeeDomainSale    = "sale"
	FeeDomainBonding = "bonding"
)

// FeeRouted records a single fee bucket credit for analytics pipelines.
// Reference is the round id for sale fees and the pool id for swap fees.
type FeeRouted struct {
	Domain    string
	Reference [32]byte
	Asset     string
	Profile   string
	Bucket    string
	Recipient [20]byte
	Gross     *big.Int
	Amount    *big.Int
	FeeBps    uint32
	At        int64
}

// EventType satisfies the events.Event interface.
func (FeeRouted) EventType() string { return TypeFeeRouted }

// Event converts the structured payload into a broadcastable event.
func (e FeeRouted) Event() *types.Event {
	attrs := map[string]string{
		"domain":    strings.TrimSpace(e.Domain),
		"reference": hex.EncodeToString(e.Reference[:]),
		"bucket":    strings.TrimSpace(e.Bucket),
		"recipient": hex.EncodeToString(e.Recipient[:]),
		"amount":    formatAmount(e.Amount),
		"at":        strconv.FormatInt(e.At, 10),
	}
	if asset := strings.TrimSpace(e.Asset); asset != "" {
		attrs["asset"] = strings.ToUpper(asset)
	}
	if profile := strings.TrimSpace(e.Profile); profile != "" {
		attrs["profile"] = profile
	}
	if e.Gross != nil {
		attrs["gross"] = e.Gross.String()
	}
	if e.FeeBps > 0 {
		attrs["feeBps"] = strconv.FormatUint(uint64(e.FeeBps), 10)
	}
	return &types.Event{Type: TypeFeeRouted, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
