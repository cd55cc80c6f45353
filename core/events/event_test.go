package events

import (
	"math/big"
	"testing"

	"launchpad/core/types"
)

func TestBufferFlushPreservesOrder(t *testing.T) {
	var buf Buffer
	buf.Emit(Wrap(&types.Event{Type: "a"}))
	buf.Emit(Wrap(&types.Event{Type: "b"}))

	var sink Buffer
	buf.FlushTo(Multi{&sink, NoopEmitter{}})

	got := sink.Events()
	if len(got) != 2 || got[0].EventType() != "a" || got[1].EventType() != "b" {
		t.Fatalf("unexpected flushed events: %+v", got)
	}
	if len(buf.Events()) != 0 {
		t.Fatalf("expected buffer to be empty after flush")
	}
}

func TestPayload(t *testing.T) {
	evt := &types.Event{Type: "x", Attributes: map[string]string{"k": "v"}}
	payload, ok := Payload(Wrap(evt))
	if !ok || payload != evt {
		t.Fatalf("expected payload to round-trip")
	}
	if _, ok := Payload(Wrap(nil)); ok {
		t.Fatalf("nil payload must not be reported")
	}
}

func TestFeeRoutedAttributes(t *testing.T) {
	evt := FeeRouted{
		Domain:    FeeDomainBonding,
		Reference: [32]byte{0x01},
		Asset:     "usdc",
		Profile:   "bonding",
		Bucket:    "treasury",
		Recipient: [20]byte{0xaa},
		Gross:     big.NewInt(1000),
		Amount:    big.NewInt(5),
		FeeBps:    100,
		At:        42,
	}
	payload, ok := Payload(evt)
	if !ok || payload.Type != TypeFeeRouted {
		t.Fatalf("expected fee payload, got %+v", payload)
	}
	attrs := payload.Attributes
	if attrs["asset"] != "USDC" || attrs["amount"] != "5" || attrs["gross"] != "1000" || attrs["feeBps"] != "100" {
		t.Fatalf("unexpected attributes: %v", attrs)
	}
	if attrs["reference"][:2] != "01" || attrs["recipient"][:2] != "aa" || attrs["at"] != "42" {
		t.Fatalf("unexpected identifiers: %v", attrs)
	}

	empty := FeeRouted{Domain: FeeDomainSale}.Event()
	if empty.Attributes["amount"] != "0" {
		t.Fatalf("nil amount must render as zero")
	}
	if _, ok := empty.Attributes["feeBps"]; ok {
		t.Fatalf("zero fee bps must be omitted")
	}
}
