package storage

import "errors"

var (
	// ErrStorageLimitExceeded is returned by AddMessage when capture.limit
	// is reached, rotation is disabled, and the message belongs to a Call
	// not already tracked — the caller drops the packet silently per
	// spec.md §7.
	ErrStorageLimitExceeded = errors.New("storage: call limit exceeded and rotation disabled")

	// ErrCallNotFound is returned by AddStream when the stream's Call-ID is
	// not tracked (GetCall reports a miss with its bool result instead).
	ErrCallNotFound = errors.New("storage: call not found")
)
