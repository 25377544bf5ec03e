package rtp

import (
	"net/netip"
	"testing"
)

func TestFlowRegistry_ReverseDirectionLookup(t *testing.T) {
	reg := NewFlowRegistry()
	key := FlowKey{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 10000, DstPort: 20000,
	}
	reg.Register(key, FlowContext{CallID: "call-1"})

	reverse := FlowKey{SrcIP: key.DstIP, DstIP: key.SrcIP, SrcPort: key.DstPort, DstPort: key.SrcPort}
	ctx, ok := reg.Get(reverse)
	if !ok || ctx.CallID != "call-1" {
		t.Fatalf("expected reverse-direction lookup to hit, got ok=%v ctx=%+v", ok, ctx)
	}
}

func TestFlowRegistry_UnregisterRemovesBothDirections(t *testing.T) {
	reg := NewFlowRegistry()
	key := FlowKey{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 10000, DstPort: 20000,
	}
	reg.Register(key, FlowContext{CallID: "call-1"})
	reg.Unregister(key)

	if _, ok := reg.Get(key); ok {
		t.Fatalf("expected entry to be gone after unregister")
	}
}
