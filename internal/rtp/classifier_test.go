package rtp

import (
	"encoding/binary"
	"net/netip"
	"testing"
)

func buildRTPPacket(seq uint16, ssrc uint32) []byte {
	b := make([]byte, 12)
	b[0] = 0x80 // V=2
	b[1] = 0    // PT=0 (PCMU)
	binary.BigEndian.PutUint16(b[2:4], seq)
	binary.BigEndian.PutUint32(b[4:8], 0)
	binary.BigEndian.PutUint32(b[8:12], ssrc)
	return b
}

func buildRTCPPacket(pt uint8, ssrc uint32) []byte {
	b := make([]byte, 8)
	b[0] = 0x80
	b[1] = pt
	binary.BigEndian.PutUint32(b[4:8], ssrc)
	return b
}

func TestClassify_HeuristicRTP(t *testing.T) {
	c := NewClassifier(nil)
	key := FlowKey{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 10000, DstPort: 20000,
	}
	h, _, ok := c.Classify(key, buildRTPPacket(1, 0xdeadbeef))
	if !ok || h.Kind != KindRTP {
		t.Fatalf("expected RTP classification, got %+v ok=%v", h, ok)
	}
	if h.SequenceNumber != 1 || h.SSRC != 0xdeadbeef {
		t.Fatalf("unexpected header fields: %+v", h)
	}
}

func TestClassify_HeuristicRTCP(t *testing.T) {
	c := NewClassifier(nil)
	key := FlowKey{SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2")}
	h, _, ok := c.Classify(key, buildRTCPPacket(200, 0x1))
	if !ok || h.Kind != KindRTCP {
		t.Fatalf("expected RTCP classification, got %+v ok=%v", h, ok)
	}
}

func TestClassify_RegistryHitSuppliesCallContext(t *testing.T) {
	reg := NewFlowRegistry()
	key := FlowKey{
		SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"),
		SrcPort: 10000, DstPort: 20000,
	}
	reg.Register(key, FlowContext{CallID: "abc", Codec: "PCMU"})

	c := NewClassifier(reg)
	h, ctx, ok := c.Classify(key, buildRTPPacket(5, 1))
	if !ok || h.Kind != KindRTP {
		t.Fatalf("expected classification via registry")
	}
	if ctx.CallID != "abc" {
		t.Fatalf("expected call id from registry, got %q", ctx.CallID)
	}
}

func TestClassify_RejectsGarbage(t *testing.T) {
	c := NewClassifier(nil)
	key := FlowKey{}
	if _, _, ok := c.Classify(key, []byte{0x01, 0x02}); ok {
		t.Fatalf("expected rejection of too-short/garbage payload")
	}
}

func TestStats_PacketCountAndLostInvariant(t *testing.T) {
	var s Stats
	for _, seq := range []uint16{1, 2, 4, 5} { // seq 3 dropped
		s.Update(seq)
	}
	if s.PacketCount > s.Expected() {
		t.Fatalf("packet_count %d must not exceed expected %d", s.PacketCount, s.Expected())
	}
	if s.Lost() != s.Expected()-s.PacketCount {
		t.Fatalf("lost=%d want %d", s.Lost(), s.Expected()-s.PacketCount)
	}
	if s.Lost() != 1 {
		t.Fatalf("expected exactly 1 lost packet, got %d", s.Lost())
	}
}

func TestStats_OutOfOrderDoesNotUnderflow(t *testing.T) {
	var s Stats
	for _, seq := range []uint16{5, 1, 2, 3, 4} {
		s.Update(seq)
	}
	if s.Lost() < 0 {
		t.Fatalf("lost must never be negative, got %d", s.Lost())
	}
}
