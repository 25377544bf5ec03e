// Package storage holds the Call/Message/Stream index described in
// spec.md §3/§4 component N: in-memory call tracking keyed by Call-ID,
// with an optional soft limit and rotation policy. It is the single
// mutable shared state the capture pipeline writes through — callers
// serialize access to it with "the capture lock" per spec.md §5.
package storage

import (
	"bytes"
	"container/list"
	"sync"

	"github.com/otus-sngrep/sngcore/internal/address"
)

// Store indexes Calls by Call-ID and applies the configured eviction
// policy. The zero value is not usable; use NewStore.
type Store struct {
	mu sync.Mutex

	limit  int  // 0 = unlimited
	rotate bool // evict oldest on limit reached, instead of dropping new

	calls map[string]*Call
	order *list.List // front = oldest Call, elements are *list.Element holding callID strings

	elemByCallID map[string]*list.Element
}

// NewStore builds an empty Store. limit <= 0 means no soft limit.
func NewStore(limit int, rotate bool) *Store {
	return &Store{
		limit:        limit,
		rotate:       rotate,
		calls:        make(map[string]*Call),
		order:        list.New(),
		elemByCallID: make(map[string]*list.Element),
	}
}

// AddMessage attaches msg to the Call identified by callID, creating the
// Call if this is its first Message. Retransmission is computed against
// every earlier Message already in the Call. Returns ErrStorageLimitExceeded
// when a new Call would exceed the configured limit and rotation is off;
// the caller is expected to drop the packet in that case.
func (s *Store) AddMessage(callID string, msg *Message) (*Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, exists := s.calls[callID]
	if !exists {
		if s.limit > 0 && len(s.calls) >= s.limit {
			if !s.rotate {
				return nil, ErrStorageLimitExceeded
			}
			s.evictOldestLocked()
		}
		call = &Call{CallID: callID, CreatedAt: msg.Timestamp}
		s.calls[callID] = call
		s.elemByCallID[callID] = s.order.PushBack(callID)
	} else {
		s.touchLocked(callID)
	}

	msg.Retransmission = isRetransmission(call, msg)
	call.Messages = append(call.Messages, msg)
	return call, nil
}

// AddStream attaches a Stream to the Call identified by callID. The Call
// must already exist (a Stream is always discovered via a Message's SDP
// body, so AddMessage runs first).
func (s *Store) AddStream(callID string, stream *Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	call.Streams = append(call.Streams, stream)
	return nil
}

// GetCall returns a snapshot pointer to the Call for callID.
func (s *Store) GetCall(callID string) (*Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	return call, ok
}

// Calls returns every tracked Call, oldest first. Intended for the UI's
// periodic polling; callers must not mutate the returned slice's Calls.
func (s *Store) Calls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Call, 0, len(s.calls))
	for e := s.order.Front(); e != nil; e = e.Next() {
		if call, ok := s.calls[e.Value.(string)]; ok {
			out = append(out, call)
		}
	}
	return out
}

// Len reports the number of tracked Calls.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// FindStreamByFlow locates the Stream matching a 5-tuple across every
// tracked Call — used when an RTP packet's flow key isn't yet correlated to
// a Call via internal/rtp.FlowRegistry (e.g. right after Store eviction).
func (s *Store) FindStreamByFlow(src, dst address.Address) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.calls {
		for _, stream := range call.Streams {
			if (stream.Src.Equal(src) && stream.Dst.Equal(dst)) ||
				(stream.Src.Equal(dst) && stream.Dst.Equal(src)) {
				return stream, true
			}
		}
	}
	return nil, false
}

func (s *Store) touchLocked(callID string) {
	if e, ok := s.elemByCallID[callID]; ok {
		s.order.MoveToBack(e)
	}
}

func (s *Store) evictOldestLocked() {
	front := s.order.Front()
	if front == nil {
		return
	}
	callID := front.Value.(string)
	s.order.Remove(front)
	delete(s.elemByCallID, callID)
	delete(s.calls, callID)
}

// isRetransmission implements spec.md §8's retransmission invariant: true
// when an earlier Message in the same Call carries identical bytes after
// the first line.
func isRetransmission(call *Call, msg *Message) bool {
	if msg.PayloadAfterFirstLine == nil {
		return false
	}
	for _, prior := range call.Messages {
		if bytes.Equal(prior.PayloadAfterFirstLine, msg.PayloadAfterFirstLine) {
			return true
		}
	}
	return false
}
