// Package packet defines the Frame and Packet value types shared by the
// dissector chain, the reassembly stages and storage. It has no dependency
// on capture or protocol-specific packages so every layer can import it
// without creating cycles.
package packet

import (
	"time"

	"github.com/otus-sngrep/sngcore/internal/address"
)

// ProtoID identifies a protocol layer in a Packet's proto stack. The set is
// closed, mirroring the dissector identifiers named in the spec.
type ProtoID int

const (
	ProtoLink ProtoID = iota
	ProtoIP
	ProtoUDP
	ProtoTCP
	ProtoTLS
	ProtoWS
	ProtoSIP
	ProtoSDP
	ProtoRTP
	ProtoRTCP
	ProtoHEP
)

func (p ProtoID) String() string {
	switch p {
	case ProtoLink:
		return "LINK"
	case ProtoIP:
		return "IP"
	case ProtoUDP:
		return "UDP"
	case ProtoTCP:
		return "TCP"
	case ProtoTLS:
		return "TLS"
	case ProtoWS:
		return "WS"
	case ProtoSIP:
		return "SIP"
	case ProtoSDP:
		return "SDP"
	case ProtoRTP:
		return "RTP"
	case ProtoRTCP:
		return "RTCP"
	case ProtoHEP:
		return "HEP"
	default:
		return "UNKNOWN"
	}
}

// Frame is the immutable unit of capture: the raw bytes of one on-wire
// frame, plus the metadata libpcap/afpacket gives us about it. A Frame is
// never mutated after it is captured — it's the unit the dump sink writes.
type Frame struct {
	Timestamp  time.Time // capture timestamp, microsecond resolution
	CapturedLen int      // bytes actually captured (<= snaplen)
	WireLen     int      // bytes on the wire (>= CapturedLen if truncated)
	Bytes       []byte   // the captured bytes (len(Bytes) == CapturedLen)
}

// ProtoStack holds per-layer annotations populated by dissectors as a
// Packet descends the parser tree. Each dissector stores whatever
// parser-specific data it wants (header struct, connection state pointer,
// …) keyed by its own ProtoID.
type ProtoStack map[ProtoID]any

// Packet accumulates raw bytes, protocol stack annotations and one-or-more
// on-wire Frames. It is produced by the innermost dissector that first
// recognizes a flow, and destroyed when storage refuses it or when the
// last Call referencing it is evicted.
//
// Invariant: a Packet always carries at least one Frame. A Packet produced
// by IP or TCP reassembly carries the Frame that completed it.
type Packet struct {
	Src     address.Address
	Dst     address.Address
	Stack   ProtoStack
	Frames  []*Frame
	Payload []byte // current innermost bytes, updated as dissectors strip headers

	// TransportTag names the SIP transport the dissectors recognized, so
	// callers that only care about transport tagging don't need to inspect
	// Stack. Empty means no SIP transport was tagged (e.g. RTP candidates).
	TransportTag string // "sip_udp" | "sip_tcp" | "sip_tls" | "sip_ws" | "sip_wss" | ""
}

// New creates a Packet around its first Frame.
func New(src, dst address.Address, f *Frame, payload []byte) *Packet {
	return &Packet{
		Src:     src,
		Dst:     dst,
		Stack:   make(ProtoStack),
		Frames:  []*Frame{f},
		Payload: payload,
	}
}

// AppendFrame adds another on-wire Frame to a Packet that already exists.
func (p *Packet) AppendFrame(f *Frame) {
	p.Frames = append(p.Frames, f)
}

// Annotate stores dissector-private data for proto in the stack.
func (p *Packet) Annotate(proto ProtoID, data any) {
	if p.Stack == nil {
		p.Stack = make(ProtoStack)
	}
	p.Stack[proto] = data
}

// Lookup retrieves dissector-private data previously stored with Annotate.
func (p *Packet) Lookup(proto ProtoID) (any, bool) {
	v, ok := p.Stack[proto]
	return v, ok
}

// FirstFrame returns the earliest captured Frame, which carries the
// Packet's primary timestamp.
func (p *Packet) FirstFrame() *Frame {
	if len(p.Frames) == 0 {
		return nil
	}
	return p.Frames[0]
}
