package hep

import "errors"

var (
	ErrBadMagic       = errors.New("hep: bad frame magic")
	ErrTruncated      = errors.New("hep: truncated or malformed chunk")
	ErrAuthFailed     = errors.New("hep: auth key mismatch")
	ErrV2RequiresIPv4 = errors.New("hep: HEPv2 cannot encode an IPv6 frame")
)
