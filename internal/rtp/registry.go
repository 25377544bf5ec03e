// Package rtp classifies UDP datagrams as RTP or RTCP and tracks
// per-stream packet statistics, grounded on the teacher's
// plugins/parser/rtp/rtp.go RTPParser: a FlowRegistry fast path populated
// by the SIP/SDP exchange, falling back to a header heuristic (V=2,
// payload-type range, minimum length) when no registry entry exists.
package rtp

import (
	"net/netip"
	"sync"
)

// FlowKey identifies one UDP 5-tuple as a candidate RTP/RTCP flow.
type FlowKey struct {
	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16
}

// FlowContext is the SIP call context a registry entry carries, so a
// classified RTP/RTCP packet can be attributed back to its call.
type FlowContext struct {
	CallID string
	Codec  string
}

// FlowRegistry maps UDP 5-tuples offered in SDP to their owning call. The
// capture manager registers entries from parsed SDP bodies; entries are not
// removed when a call ends.
type FlowRegistry struct {
	mu      sync.RWMutex
	entries map[FlowKey]FlowContext
}

// NewFlowRegistry creates an empty registry.
func NewFlowRegistry() *FlowRegistry {
	return &FlowRegistry{entries: make(map[FlowKey]FlowContext)}
}

// Register records ctx for key. Call for both directions of a media flow,
// since SDP only guarantees the offerer's side is known up front.
func (r *FlowRegistry) Register(key FlowKey, ctx FlowContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = ctx
}

// Get looks up key, direction-insensitively: it also tries the reversed
// 5-tuple, since RTP/RTCP for one media stream flows both ways.
func (r *FlowRegistry) Get(key FlowKey) (FlowContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ctx, ok := r.entries[key]; ok {
		return ctx, true
	}
	reversed := FlowKey{SrcIP: key.DstIP, DstIP: key.SrcIP, SrcPort: key.DstPort, DstPort: key.SrcPort}
	ctx, ok := r.entries[reversed]
	return ctx, ok
}

// Unregister removes key and its reverse. No caller in this module invokes
// it, so registrations persist for the life of the registry.
func (r *FlowRegistry) Unregister(key FlowKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
	delete(r.entries, FlowKey{SrcIP: key.DstIP, DstIP: key.SrcIP, SrcPort: key.DstPort, DstPort: key.SrcPort})
}
