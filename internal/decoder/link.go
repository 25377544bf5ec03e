package decoder

import (
	"encoding/binary"

	"github.com/otus-sngrep/sngcore/internal/packet"
)

// Link-layer datalink identifiers, matching gopacket/layers.LinkType values
// so CaptureInput can pass pcap's reported link type straight through.
type LinkType int

const (
	LinkEthernet    LinkType = 1
	LinkRaw         LinkType = 101
	LinkLoop        LinkType = 108 // BSD loopback
	LinkLinuxSLL    LinkType = 113 // "Linux cooked v1"
	LinkLinuxSLL2   LinkType = 276 // "Linux cooked v2"
	LinkNFLOG       LinkType = 239
)

// linkHeaderLen maps a link type to its fixed header size, per spec.md §4.2:
// "Link header length varies by link type ... an explicit table maps link
// type to header size." NFLOG and RAW are handled specially below since
// NFLOG requires a TLV walk and RAW has no header at all.
var linkHeaderLen = map[LinkType]int{
	LinkEthernet:  14,
	LinkLinuxSLL:  16,
	LinkLinuxSLL2: 20,
	LinkLoop:      4,
	LinkRaw:       0,
}

const (
	vlanTagLen    = 4
	etherTypeVLAN = 0x8100
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86DD
)

// nflogTLVAlign is the byte alignment NFLOG TLV records are padded to.
const nflogTLVAlign = 4

// nflogTypePayload is the NFLOG attribute type carrying the captured packet.
const nflogTypePayload = 9

// LinkDissector is the root of the dissector tree (component C's root,
// spec.md §4.1). It strips the link-layer header — including VLAN tags and
// the NFLOG TLV walk — and forwards the IP datagram to its single child,
// the IP dissector, which itself unwraps IP-in-IP tunneling.
type LinkDissector struct {
	LinkType LinkType
	child    Dissector
}

// NewLinkDissector builds the root dissector for a given capture's datalink
// type, with ipChild as the IP-layer dissector (normally *IPDissector).
func NewLinkDissector(linkType LinkType, ipChild Dissector) *LinkDissector {
	return &LinkDissector{LinkType: linkType, child: ipChild}
}

func (d *LinkDissector) ID() packet.ProtoID { return packet.ProtoLink }

func (d *LinkDissector) Init(pp *PacketParser) error { return nil }

func (d *LinkDissector) Children() []Dissector { return []Dissector{d.child} }

func (d *LinkDissector) Dissect(pp *PacketParser, pkt *packet.Packet, data []byte) ([]byte, error) {
	switch d.LinkType {
	case LinkNFLOG:
		return d.dissectNFLOG(data)
	default:
		hdrLen, ok := linkHeaderLen[d.LinkType]
		if !ok {
			return nil, ErrUnknownLinkType
		}
		if len(data) < hdrLen {
			return nil, packet.ErrPacketTooShort
		}
		return d.stripEthernetLikeVLAN(data, hdrLen)
	}
}

// stripEthernetLikeVLAN removes the fixed link header and, for Ethernet and
// SLL link types (the only ones that carry an EtherType), skips a single
// 802.1Q VLAN tag if present (spec.md §4.2 step 1).
func (d *LinkDissector) stripEthernetLikeVLAN(data []byte, hdrLen int) ([]byte, error) {
	if d.LinkType != LinkEthernet && d.LinkType != LinkLinuxSLL && d.LinkType != LinkLinuxSLL2 {
		return data[hdrLen:], nil
	}

	etherTypeOffset := hdrLen - 2
	if etherTypeOffset < 0 || len(data) < hdrLen {
		return data[hdrLen:], nil
	}
	etherType := binary.BigEndian.Uint16(data[etherTypeOffset:hdrLen])
	if etherType != etherTypeVLAN {
		return data[hdrLen:], nil
	}
	if len(data) < hdrLen+vlanTagLen {
		return nil, packet.ErrPacketTooShort
	}
	// VLAN tag: 2 bytes TCI (ignored here — SDP/RTP stream identity does not
	// depend on VLAN id) + 2 bytes inner EtherType, which we don't need to
	// re-check: non-IP inner frames are simply rejected by the IP dissector.
	return data[hdrLen+vlanTagLen:], nil
}

// dissectNFLOG walks 4-byte-aligned NFLOG TLV records until it finds the
// PAYLOAD attribute, then treats the remainder as the bare IP packet
// (spec.md §4.2 step 2). NFLOG frames begin with an 4-byte nfgenmsg header
// (family, version, res_id) before the TLV stream.
func (d *LinkDissector) dissectNFLOG(data []byte) ([]byte, error) {
	const nfgenmsgLen = 4
	if len(data) < nfgenmsgLen {
		return nil, packet.ErrPacketTooShort
	}
	offset := nfgenmsgLen
	for offset+4 <= len(data) {
		tlvLen := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		tlvType := binary.LittleEndian.Uint16(data[offset+2 : offset+4]) &^ 0x8000 // strip nested-flag bit
		if tlvLen < 4 || offset+tlvLen > len(data) {
			return nil, packet.ErrPacketTooShort
		}
		if tlvType == nflogTypePayload {
			return data[offset+4 : offset+tlvLen], nil
		}
		// Advance to the next 4-byte-aligned record.
		offset += alignUp(tlvLen, nflogTLVAlign)
	}
	return nil, ErrReject
}

func alignUp(n, align int) int {
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}
