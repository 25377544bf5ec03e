// Package decoder implements the per-protocol dissector chain described in
// spec.md §4.1: link → IP (with fragment reassembly) → UDP/TCP (with
// segment reassembly) → WebSocket/TLS → SIP, plus the supporting IP and
// TCP reassembly state machines. Record-layer cryptography (key derivation,
// CBC/GCM decryption) lives in the sibling internal/tlsdecrypt package;
// TLSDissector in this package only drives that state machine per flow and
// feeds its plaintext back through the same SIP boundary detector used for
// plain-text SIP-over-TCP.
package decoder

import (
	"errors"
	"time"

	"github.com/otus-sngrep/sngcore/internal/address"
	"github.com/otus-sngrep/sngcore/internal/packet"
)

// Dissector is a stateful parser for one protocol layer with a fixed,
// ordered set of children it may forward to. It mirrors spec.md §4.1 and
// §9's "dissector trait" redesign note: init/dissect/children, with
// per-parser private state kept in PacketParser rather than on the
// dissector value itself (dissectors are shared across packets; state that
// varies per-flow — reassembly tables, TLS connections — belongs to the
// PacketParser that owns one capture input).
type Dissector interface {
	// ID returns this dissector's identifier from the closed protocol set.
	ID() packet.ProtoID

	// Init allocates per-parser state and attaches it to pp, e.g. a fresh
	// reassembly table. Called once when the dissector is registered into a
	// PacketParser's tree.
	Init(pp *PacketParser) error

	// Dissect consumes and strips this protocol's header from data, may
	// annotate pkt's proto stack, and returns the residue.
	//
	//   - (residue, nil) with len(residue) > 0: forward residue to children.
	//   - (nil-or-empty, nil): the packet is fully consumed here; stop.
	//   - (nil, ErrReject): this dissector does not recognize data at all;
	//     the framework tries the next dissector at this level.
	//   - (nil, any other error): drop the packet; the error is logged by
	//     the caller and never surfaces further (per spec §7, dissector
	//     errors are local).
	Dissect(pp *PacketParser, pkt *packet.Packet, data []byte) ([]byte, error)

	// Children returns the ordered list of child dissectors consulted for
	// the residue; the first child that accepts wins.
	Children() []Dissector
}

// ErrReject is returned by Dissect when this dissector does not recognize
// the data at all. It is distinct from packet.ErrDissectorReject, which is
// the framework-level error raised when NO child in a chain accepts —
// i.e. ErrReject flows child→framework, ErrDissectorReject flows
// framework→caller.
var ErrReject = errors.New("decoder: dissector does not recognize payload")

// errHandled is returned by a Dissect implementation that has already
// produced zero or more finished Packets itself via PacketParser.Emit —
// TCP and WebSocket reassembly can yield several SIP messages (or none
// yet) from one on-wire segment, which the simple one-residue-in/one-out
// contract can't express. Returning errHandled tells the framework the
// step succeeded and no further auto-emit or child dispatch is needed.
var errHandled = errors.New("decoder: dissector emitted packets directly")

// PacketParser owns one dissector tree and the parsers' private states. It
// corresponds to one CaptureInput: reassembly tables and (via
// internal/capture) the TLS connection table are per-PacketParser, needing
// no cross-input locking (spec.md §5). A PacketParser is not safe for
// concurrent use — one goroutine per capture input, per component L.
type PacketParser struct {
	root   Dissector
	states map[packet.ProtoID]any
	out    []*packet.Packet
}

// NewPacketParser builds a parser tree rooted at root, running Init on every
// dissector reachable from it.
func NewPacketParser(root Dissector) (*PacketParser, error) {
	pp := &PacketParser{root: root, states: make(map[packet.ProtoID]any)}
	if err := pp.initTree(root); err != nil {
		return nil, err
	}
	return pp, nil
}

func (pp *PacketParser) initTree(d Dissector) error {
	if err := d.Init(pp); err != nil {
		return err
	}
	for _, c := range d.Children() {
		if err := pp.initTree(c); err != nil {
			return err
		}
	}
	return nil
}

// SetState stores per-parser private state for a dissector, e.g. its
// reassembly table.
func (pp *PacketParser) SetState(id packet.ProtoID, v any) { pp.states[id] = v }

// State retrieves per-parser private state previously stored with SetState.
func (pp *PacketParser) State(id packet.ProtoID) (any, bool) {
	v, ok := pp.states[id]
	return v, ok
}

// Emit hands a fully-dissected Packet to the caller of Process. Dissectors
// that can produce more than one application-layer unit from a single
// on-wire segment (TCP and WebSocket reassembly) call this directly instead
// of returning a residue.
func (pp *PacketParser) Emit(pkt *packet.Packet) { pp.out = append(pp.out, pkt) }

// Dissect runs a child dissector over data against an existing Packet. It
// is exported so multi-emit dissectors (TCP, WebSocket) can recurse into
// their own children once per extracted application message, something the
// single-residue Dissect contract can't express on its own.
func (pp *PacketParser) Dissect(d Dissector, pkt *packet.Packet, data []byte) error {
	return pp.dissect(d, pkt, data)
}

// Process runs raw wire bytes through the dissector tree starting at the
// root and returns every Packet the tree finished on this call — zero when
// the frame was consumed by reassembly and is still pending, one in the
// common case, or several when TCP/WebSocket reassembly yields multiple
// SIP messages from one segment (no error surfaces here — per spec §7,
// DissectorReject and reassembly errors never escape the parse step).
func (pp *PacketParser) Process(ts time.Time, capturedLen, wireLen int, data []byte) []*packet.Packet {
	frame := &packet.Frame{Timestamp: ts, CapturedLen: capturedLen, WireLen: wireLen, Bytes: data}
	pkt := packet.New(address.Address{}, address.Address{}, frame, data)
	pp.out = nil
	_ = pp.dissect(pp.root, pkt, data)
	return pp.out
}

// dissect implements the "first accept wins" tree walk described in
// spec.md §4.1, returning packet.ErrDissectorReject only when every child at
// every level down the tree rejected the residue. An empty residue means
// the dissector consumed the packet (e.g. a fragment still pending
// reassembly) and nothing is emitted. A dissector with no children that
// returns a non-empty residue is a leaf: the residue becomes the Packet's
// payload and the Packet is emitted here. Dissectors that emit directly
// return errHandled instead.
func (pp *PacketParser) dissect(d Dissector, pkt *packet.Packet, data []byte) error {
	residue, err := d.Dissect(pp, pkt, data)
	if errors.Is(err, ErrReject) {
		return packet.ErrDissectorReject
	}
	if errors.Is(err, errHandled) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(residue) == 0 {
		return nil
	}
	children := d.Children()
	if len(children) == 0 {
		pkt.Payload = residue
		pp.Emit(pkt)
		return nil
	}
	for _, c := range children {
		cErr := pp.dissect(c, pkt, residue)
		if errors.Is(cErr, packet.ErrDissectorReject) {
			continue
		}
		return cErr
	}
	return packet.ErrDissectorReject
}
