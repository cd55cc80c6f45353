package bonding

import (
	"encoding/hex"
	"strconv"

	"launchpad/core/types"
)

const (
	EventTypePoolCreated = "bonding.pool_created"
	EventTypeSwap        = "bonding.swap"
	EventTypeGraduating  = "bonding.graduating"
	EventTypeGraduated   = "bonding.graduated"
)

func newPoolEvent(eventType string, p *Pool) *types.Event {
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"poolId":       hex.EncodeToString(p.ID[:]),
		"baseToken":    p.BaseToken,
		"quoteToken":   p.QuoteToken,
		"virtualBase":  cloneU256(p.VirtualBase).Dec(),
		"virtualQuote": cloneU256(p.VirtualQuote).Dec(),
		"actualQuote":  cloneU256(p.ActualQuote).Dec(),
		"threshold":    cloneU256(p.GraduationThreshold).Dec(),
		"status":       p.Status.String(),
	}}
}

func newSwapEvent(p *Pool, trader [20]byte, result SwapResult, now int64) *types.Event {
	return &types.Event{Type: EventTypeSwap, Attributes: map[string]string{
		"poolId":       hex.EncodeToString(p.ID[:]),
		"trader":       hex.EncodeToString(trader[:]),
		"direction":    result.Direction.String(),
		"input":        result.Input.Dec(),
		"fee":          result.Fee.Dec(),
		"output":       result.Output.Dec(),
		"virtualBase":  result.NewBase.Dec(),
		"virtualQuote": result.NewQuote.Dec(),
		"actualQuote":  cloneU256(p.ActualQuote).Dec(),
		"realBase":     cloneU256(p.RealBase).Dec(),
		"status":       p.Status.String(),
		"timestamp":    strconv.FormatInt(now, 10),
	}}
}
