// Package capture ties the dissector tree, SIP/SDP/RTP extraction and
// storage together into the running pipeline described in spec.md's
// component table: the capture manager (L), its CaptureInputs (M) and its
// CaptureOutputs (dump sink, HEP sender, Kafka mirror — O). Every other
// internal package is a leaf library; this is where they get wired to a
// live or offline packet source.
package capture

import (
	"context"
	"time"

	"github.com/otus-sngrep/sngcore/internal/packet"
)

// RawPacket is one frame read off a CaptureInput before it enters the
// dissector tree.
type RawPacket struct {
	Timestamp   time.Time
	CapturedLen int
	WireLen     int
	Data        []byte
}

// CaptureInput is a single packet source driving its own worker goroutine
// (spec.md §4's component M): a live device, an offline pcap/gzip file, or
// stdin. LinkType reports the datalink type so the manager can build the
// right root dissector for this input.
type CaptureInput interface {
	// Open prepares the source for reading. Called once before Read loops.
	Open() error

	// ReadPacket blocks for the next frame, or returns an error when the
	// source is exhausted (offline EOF) or ctx is cancelled.
	ReadPacket(ctx context.Context) (RawPacket, error)

	// LinkType reports this source's datalink type for dissector-tree setup.
	LinkType() int

	// SetBPFFilter installs a compiled filter on a live input or a plain
	// offline pcap file. Gzip, stdin and HEP inputs return ErrBPFUnsupported.
	SetBPFFilter(expr string) error

	// Close releases the underlying handle. Safe to call once.
	Close() error
}

// CaptureOutput is a sink fed every Packet the dissector tree emits, SIP
// and RTP alike — the dump file, the HEP sender, or the Kafka mirror
// (spec.md §4, component O). An output that wants only SIP filters on
// TransportTag itself.
type CaptureOutput interface {
	Write(pkt *packet.Packet) error
	Close() error
}

// Named pairs a CaptureOutput with the manager-visible name used by
// set_output / set_dumper so it can be swapped or removed later.
type Named struct {
	Name   string
	Output CaptureOutput
}
