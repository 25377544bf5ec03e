package decoder

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/otus-sngrep/sngcore/internal/address"
	"github.com/otus-sngrep/sngcore/internal/packet"
)

func buildTCPSegment(seq uint32, flags byte, payload []byte) []byte {
	hdr := make([]byte, tcpHeaderMinLen)
	binary.BigEndian.PutUint16(hdr[0:2], 5060)
	binary.BigEndian.PutUint16(hdr[2:4], 5060)
	binary.BigEndian.PutUint32(hdr[4:8], seq)
	hdr[12] = 5 << 4 // data offset = 5 words = 20 bytes
	hdr[13] = flags
	return append(hdr, payload...)
}

func newTCPTestPacket() *packet.Packet {
	src, _ := address.New("10.0.0.1", 0)
	dst, _ := address.New("10.0.0.2", 0)
	frame := &packet.Frame{Timestamp: time.Now()}
	pkt := packet.New(src, dst, frame, nil)
	pkt.Annotate(packet.ProtoIP, IPHeader{Version: 4, Protocol: protoTCP})
	return pkt
}

func newTestParser(root Dissector) *PacketParser {
	pp, err := NewPacketParser(root)
	if err != nil {
		panic(err)
	}
	return pp
}

func TestTCPDissector_SingleCompleteMessage(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	msg := "OPTIONS sip:foo@bar SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(1000, tcpFlagPSH, []byte(msg)))
	if err == nil || err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 1 {
		t.Fatalf("expected 1 emitted packet, got %d", len(pp.out))
	}
	if string(pp.out[0].Payload) != msg {
		t.Fatalf("payload mismatch: %q", pp.out[0].Payload)
	}
}

func TestTCPDissector_MultipleMessagesInOneSegment(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	msg1 := "OPTIONS sip:a@b SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	msg2 := "BYE sip:a@b SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(2000, tcpFlagPSH, []byte(msg1+msg2)))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 2 {
		t.Fatalf("expected 2 emitted packets (MULTIPLE_SIP), got %d", len(pp.out))
	}
	if string(pp.out[0].Payload) != msg1 || string(pp.out[1].Payload) != msg2 {
		t.Fatal("message order/content mismatch")
	}
}

func TestTCPDissector_SplitAcrossSegments(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	msg := "INVITE sip:a@b SIP/2.0\r\nContent-Length: 5\r\n\r\nhello"
	part1, part2 := msg[:20], msg[20:]

	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(3000, 0, []byte(part1)))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 0 {
		t.Fatalf("expected no emission yet, got %d", len(pp.out))
	}

	pkt2 := newTCPTestPacket()
	_, err = d.Dissect(pp, pkt2, buildTCPSegment(3000+uint32(len(part1)), tcpFlagPSH, []byte(part2)))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 1 || string(pp.out[0].Payload) != msg {
		t.Fatalf("expected reassembled message, got %d packets", len(pp.out))
	}
}

func TestTCPDissector_NotSIPWithoutPSHIsRetained(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(5000, 0, []byte("not a sip message at all")))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 0 {
		t.Fatalf("expected no emission without PSH, got %d", len(pp.out))
	}

	key := tcpFlowKey{src: [16]byte{0: 10, 3: 1}, dst: [16]byte{0: 10, 3: 2}, srcPort: 5060, dstPort: 5060}
	fs, ok := d.flows[key]
	if !ok || len(fs.buf) == 0 {
		t.Fatal("expected NOT_SIP buffer to be retained pending more data or a PSH flush")
	}
}

func TestTCPDissector_NotSIPWithPSHFlushesBestEffort(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	garbage := "not a sip message at all"
	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(6000, tcpFlagPSH, []byte(garbage)))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 1 {
		t.Fatalf("expected NOT_SIP with PSH to flush as-is, got %d packets", len(pp.out))
	}
	if string(pp.out[0].Payload) != garbage {
		t.Fatalf("payload mismatch: %q", pp.out[0].Payload)
	}

	key := tcpFlowKey{src: [16]byte{0: 10, 3: 1}, dst: [16]byte{0: 10, 3: 2}, srcPort: 5060, dstPort: 5060}
	if fs, ok := d.flows[key]; ok && len(fs.buf) != 0 {
		t.Fatal("expected buffer to be cleared after the PSH flush")
	}
}

func TestTCPDissector_TwoSegmentReorder(t *testing.T) {
	d := NewTCPDissector(SIPBoundaryDetector{}, time.Minute, nil)
	defer d.Close()
	pp := newTestParser(d)

	msg := "OPTIONS sip:a@b SIP/2.0\r\nContent-Length: 0\r\n\r\n"
	first, second := []byte(msg[:10]), []byte(msg[10:])

	// second segment arrives before first
	pkt := newTCPTestPacket()
	_, err := d.Dissect(pp, pkt, buildTCPSegment(4000+10, tcpFlagPSH, second))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 0 {
		t.Fatal("should not emit before the gap is filled")
	}

	pkt2 := newTCPTestPacket()
	_, err = d.Dissect(pp, pkt2, buildTCPSegment(4000, 0, first))
	if err != errHandled {
		t.Fatalf("expected errHandled, got %v", err)
	}
	if len(pp.out) != 1 || string(pp.out[0].Payload) != msg {
		t.Fatalf("expected reordered message to complete, got %d packets", len(pp.out))
	}
}
