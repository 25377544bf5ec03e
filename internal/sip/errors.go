package sip

import "errors"

var (
	// ErrNoCallID names a parsed Message lacking a Call-ID. No code path in
	// this module returns it, and the Store accepts any Call-ID as given,
	// an empty one included.
	ErrNoCallID = errors.New("sip: message has no Call-ID header")
)
