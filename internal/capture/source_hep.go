package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/otus-sngrep/sngcore/internal/decoder"
	"github.com/otus-sngrep/sngcore/internal/hep"
	"github.com/otus-sngrep/sngcore/internal/otuslog"
)

const (
	hepReadTimeout = 500 * time.Millisecond
	hepMaxDatagram = 65535
)

// HEPInput is the receive side of spec.md §4.6's HEP mirror transport: it
// binds a UDP socket and turns inbound HEP2/HEP3 datagrams from another
// capture node into Packets, the same CaptureInput shape LiveInput and
// OfflineInput already implement. Each decoded frame is re-wrapped as a
// synthetic raw IP+UDP datagram and fed through the ordinary
// Link(Raw)->IP->UDP dissector chain (LinkRaw has a zero-length link
// header, so the datagram starts directly at the IP header) so it picks up
// the same sip_udp tagging and downstream SIP parsing as a live-captured
// packet instead of duplicating that logic here.
type HEPInput struct {
	Addr     string
	Password string

	log otuslog.Logger

	conn net.PacketConn
}

// NewHEPInput builds a HEP listener input bound to addr (host:port).
// password, if set, is required on HEPv3 frames (chunk 14 must match
// exactly); HEPv2 carries no auth-key field, so a configured password
// rejects every HEPv2 sender outright rather than silently accepting an
// unauthenticated one.
func NewHEPInput(addr, password string, log otuslog.Logger) *HEPInput {
	return &HEPInput{Addr: addr, Password: password, log: log}
}

func (h *HEPInput) Open() error {
	conn, err := net.ListenPacket("udp", h.Addr)
	if err != nil {
		return fmt.Errorf("capture: hep listener on %s: %w", h.Addr, err)
	}
	h.conn = conn
	if h.log != nil {
		h.log.WithField("addr", h.Addr).Info("hep listener opened")
	}
	return nil
}

// ReadPacket blocks for the next authenticated HEP datagram. Malformed or
// unauthenticated datagrams are logged and skipped rather than surfaced,
// since one bad sender shouldn't stop the receiver from serving the rest.
func (h *HEPInput) ReadPacket(ctx context.Context) (RawPacket, error) {
	if h.conn == nil {
		return RawPacket{}, fmt.Errorf("capture: hep input not opened")
	}
	select {
	case <-ctx.Done():
		return RawPacket{}, ctx.Err()
	default:
	}

	buf := make([]byte, hepMaxDatagram)
	h.conn.SetReadDeadline(time.Now().Add(hepReadTimeout))
	n, _, err := h.conn.ReadFrom(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return h.ReadPacket(ctx)
		}
		return RawPacket{}, err
	}

	frame, err := h.decode(buf[:n])
	if err != nil {
		if h.log != nil {
			h.log.WithError(err).Warn("hep: dropping malformed or unauthenticated datagram")
		}
		return h.ReadPacket(ctx)
	}

	data := synthesizeIPUDP(frame)
	return RawPacket{Timestamp: frame.Timestamp, CapturedLen: len(data), WireLen: len(data), Data: data}, nil
}

// decode dispatches on HEP3's fixed "HEP3" magic versus HEPv2's fixed
// header (no magic string, just a version byte), per spec.md §4.6.
func (h *HEPInput) decode(data []byte) (hep.Frame, error) {
	if len(data) >= 4 && string(data[0:4]) == "HEP3" {
		return hep.DecodeV3(data, h.Password)
	}
	f, err := hep.DecodeV2(data)
	if err != nil {
		return f, err
	}
	if h.Password != "" {
		return hep.Frame{}, hep.ErrAuthFailed
	}
	return f, nil
}

func (h *HEPInput) LinkType() int { return int(decoder.LinkRaw) }

// SetBPFFilter: a HEP listener has no link-layer framing for libpcap to
// compile a filter against; BPF only applies to pcap-backed sources.
func (h *HEPInput) SetBPFFilter(expr string) error { return ErrBPFUnsupported }

func (h *HEPInput) Close() error {
	if h.conn == nil {
		return nil
	}
	err := h.conn.Close()
	h.conn = nil
	return err
}

// synthesizeIPUDP rebuilds a minimal, checksum-free IPv4-or-IPv6 + UDP
// datagram around a decoded HEP frame's payload so it can re-enter the
// dissector tree at LinkRaw exactly like a packet captured off the wire.
func synthesizeIPUDP(f hep.Frame) []byte {
	if f.SrcIP.Is4() && f.DstIP.Is4() {
		return synthesizeIPv4UDP(f.SrcIP, f.DstIP, f.SrcPort, f.DstPort, f.Payload)
	}
	return synthesizeIPv6UDP(f.SrcIP, f.DstIP, f.SrcPort, f.DstPort, f.Payload)
}

func synthesizeIPv4UDP(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	udpLen := 8 + len(payload)
	totalLen := 20 + udpLen
	buf := make([]byte, totalLen)

	buf[0] = 0x45 // version 4, IHL 5 (no options)
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	buf[8] = 64 // TTL
	buf[9] = 17 // UDP
	srcB := src.As4()
	dstB := dst.As4()
	copy(buf[12:16], srcB[:])
	copy(buf[16:20], dstB[:])

	writeUDP(buf[20:], srcPort, dstPort, payload)
	return buf
}

func synthesizeIPv6UDP(src, dst netip.Addr, srcPort, dstPort uint16, payload []byte) []byte {
	udpLen := 8 + len(payload)
	buf := make([]byte, 40+udpLen)

	buf[0] = 0x60 // version 6
	binary.BigEndian.PutUint16(buf[4:6], uint16(udpLen))
	buf[6] = 17 // next header: UDP
	buf[7] = 64 // hop limit
	srcB := src.As16()
	dstB := dst.As16()
	copy(buf[8:24], srcB[:])
	copy(buf[24:40], dstB[:])

	writeUDP(buf[40:], srcPort, dstPort, payload)
	return buf
}

func writeUDP(buf []byte, srcPort, dstPort uint16, payload []byte) {
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(8+len(payload)))
	copy(buf[8:], payload)
}
