package decoder

import (
	"encoding/binary"

	"github.com/otus-sngrep/sngcore/internal/address"
	"github.com/otus-sngrep/sngcore/internal/packet"
)

const udpHeaderLen = 8

// UDPDissector accepts IP payloads whose annotated protocol number is 17,
// fills in the Packet's source/destination ports and forwards the UDP
// payload to its child. With no child (the usual tree) it is a leaf and the
// UDP payload becomes the finished Packet's payload; SIP parsing and
// RTP/RTCP classification against already-stored SDP offers (internal/rtp)
// happen later in internal/capture, since they need cross-packet state the
// dissector tree doesn't carry.
type UDPDissector struct {
	child Dissector
}

func NewUDPDissector(child Dissector) *UDPDissector { return &UDPDissector{child: child} }

func (d *UDPDissector) ID() packet.ProtoID      { return packet.ProtoUDP }
func (d *UDPDissector) Init(pp *PacketParser) error { return nil }
func (d *UDPDissector) Children() []Dissector {
	if d.child == nil {
		return nil
	}
	return []Dissector{d.child}
}

func (d *UDPDissector) Dissect(pp *PacketParser, pkt *packet.Packet, data []byte) ([]byte, error) {
	hdr, ok := pkt.Lookup(packet.ProtoIP)
	if !ok || hdr.(IPHeader).Protocol != protoUDP {
		return nil, ErrReject
	}
	if len(data) < udpHeaderLen {
		return nil, packet.ErrPacketTooShort
	}
	srcPort := binary.BigEndian.Uint16(data[0:2])
	dstPort := binary.BigEndian.Uint16(data[2:4])
	length := int(binary.BigEndian.Uint16(data[4:6]))
	if length < udpHeaderLen {
		length = len(data)
	}
	if length > len(data) {
		length = len(data)
	}

	pkt.Src = address.NewFromAddr(pkt.Src.IP(), srcPort)
	pkt.Dst = address.NewFromAddr(pkt.Dst.IP(), dstPort)
	pkt.TransportTag = "sip_udp"
	pkt.Annotate(packet.ProtoUDP, struct{}{})

	payload := data[udpHeaderLen:length]
	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
