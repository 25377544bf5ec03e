package decoder

import "errors"

// Sentinel errors for the dissector chain and reassembly stages, following
// the grouped-sentinel / %w-wrapping pattern used across this module
// (ADR-021 in the teacher repo's internal/core/errors.go).
var (
	// ErrUnknownLinkType means the capture's datalink id has no entry in
	// linkHeaderLen; per spec.md §8 boundary behavior, the input is rejected.
	ErrUnknownLinkType = errors.New("decoder: unknown link type")

	// ErrReassemblyTimeout marks a fragment/segment entry evicted because it
	// sat idle past its configured timeout (spec.md §9 open question,
	// resolved in SPEC_FULL.md: a timeout is added).
	ErrReassemblyTimeout = errors.New("decoder: reassembly entry timed out")

	// ErrReassemblyOverflow marks a reassembly entry that exceeded
	// packet.MaxCaptureLen; the entry is dropped silently per spec §7.
	ErrReassemblyOverflow = errors.New("decoder: reassembly entry exceeded max capture length")

	ErrFragmentRateLimited = errors.New("decoder: fragment rate limit exceeded for source")
)
