package packet

import "errors"

// Sentinel errors shared by every dissection stage, following the same
// grouped-sentinel pattern used throughout this module (see
// internal/decoder/errors.go, internal/capture/errors.go).
var (
	ErrPacketTooShort   = errors.New("sngcore: packet too short for this protocol")
	ErrUnsupportedProto = errors.New("sngcore: unsupported protocol")

	// ErrDissectorReject is returned by the PacketParser tree walk when no
	// child in a chain accepts the residue (a Dissector itself signals this
	// with decoder.ErrReject). The packet is then dropped by the framework
	// — callers never need to distinguish this from any other "drop" path.
	ErrDissectorReject = errors.New("sngcore: no child dissector accepted payload")

	// ErrMaxCaptureLen names the condition of a packet or reassembly entry
	// exceeding MaxCaptureLen. No code path in this module returns it; IP
	// reassembly reports that case as decoder.ErrReassemblyOverflow.
	ErrMaxCaptureLen = errors.New("sngcore: exceeds maximum capture length")
)

// MaxCaptureLen is the ceiling on any single packet or reassembly entry,
// named in spec.md §4.2 and §4.3 as the only protection against unbounded
// fragment/segment growth.
const MaxCaptureLen = 20480
