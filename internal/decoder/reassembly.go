package decoder

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otus-sngrep/sngcore/internal/packet"
)

// Fragment reassembly limits, ported from the BSD-Right algorithm (RFC 791,
// RFC 815) used by the teacher's prototype. The same limits are applied to
// both address families; IPv6 fragmentation (RFC 8200) reuses the same
// 16-byte-offset bookkeeping with an 8-byte Fragment extension header
// instead of the IPv4 header's inline flags/offset field.
const (
	minFragSize    = 1
	maxDatagram    = 65535
	maxFragOffset  = 65535 - 8 // largest offset*8+len that still fits in maxDatagram
	maxFragListLen = 8192
)

// ReassemblyConfig configures one Reassembler instance.
type ReassemblyConfig struct {
	MaxFragments      int           // max fragments accepted per flow (default 100)
	MaxReassembleSize int           // max reassembled datagram size (default packet.MaxCaptureLen, 20480)
	Timeout           time.Duration // idle eviction timeout (default 60s)
	MaxFragsPerIP     int           // per-source rate limit per window, 0 disables
	RateLimitWindow   time.Duration // rate limit window (default 10s)
}

// fragmentKey identifies one fragmented datagram: source, destination,
// transport protocol and the IP-layer fragment identification field (16 bits
// for IPv4, 32 bits for IPv6 — both fit in uint32).
type fragmentKey struct {
	srcIP    [16]byte
	dstIP    [16]byte
	protocol uint8
	id       uint32
}

type fragment struct {
	offset  uint32
	length  uint32
	payload []byte
}

// fragmentList holds the ordered, BSD-Right-trimmed fragments for one flow.
type fragmentList struct {
	mu            sync.Mutex
	list          list.List // of *fragment, sorted by offset ascending
	highest       uint32    // highest byte position seen (valid once finalReceived)
	current       uint32    // unique bytes accumulated so far
	finalReceived bool
	lastSeen      time.Time
}

// Reassembler reassembles IP fragments using the BSD-Right ordered-insert
// policy: on overlap, the earlier-arrived data wins and the later fragment
// is trimmed, never the other way around (spec.md §4.2).
type Reassembler struct {
	mu          sync.Mutex
	flows       map[fragmentKey]*fragmentList
	config      ReassemblyConfig
	rateLimiter *FragmentRateLimiter
	active      atomic.Int64

	stopCleanup chan struct{}
}

// NewReassembler builds a Reassembler and starts its background idle sweep.
// Callers must call Close to stop the sweep goroutine.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 100
	}
	if cfg.MaxReassembleSize <= 0 {
		cfg.MaxReassembleSize = packet.MaxCaptureLen
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	r := &Reassembler{
		flows: make(map[fragmentKey]*fragmentList),
		config: cfg,
		rateLimiter: NewFragmentRateLimiter(FragmentRateLimiterConfig{
			MaxFragsPerIP:   cfg.MaxFragsPerIP,
			RateLimitWindow: cfg.RateLimitWindow,
		}),
		stopCleanup: make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Close stops the idle-sweep goroutine. Safe to call once.
func (r *Reassembler) Close() { close(r.stopCleanup) }

// ActiveFragments returns the number of in-progress flows, for diagnostics.
func (r *Reassembler) ActiveFragments() int64 { return r.active.Load() }

// fragmentInput carries the fields ip.go has already extracted from an IPv4
// header or an IPv6 Fragment extension header — Reassembler itself has no
// knowledge of header layout.
type fragmentInput struct {
	srcIP, dstIP   [16]byte
	protocol       uint8
	id             uint32
	fragOffset     uint32 // byte offset of this fragment's payload in the final datagram
	moreFragments  bool
	payload        []byte
}

// Process folds one fragment into its flow's reassembly state.
//
//   - (payload, true, nil): reassembly just completed; payload is the full datagram.
//   - (nil, false, nil): fragment accepted, reassembly still in progress.
//   - (nil, false, err): the fragment was rejected (oversized, rate-limited, flow overflowed).
func (r *Reassembler) Process(in fragmentInput, now time.Time) ([]byte, bool, error) {
	fragLen := uint32(len(in.payload))
	if err := r.securityChecks(fragLen, in.fragOffset); err != nil {
		return nil, false, err
	}
	if r.rateLimiter != nil && !r.rateLimiter.Allow(in.srcIP, now) {
		return nil, false, ErrFragmentRateLimited
	}

	key := fragmentKey{srcIP: in.srcIP, dstIP: in.dstIP, protocol: in.protocol, id: in.id}

	r.mu.Lock()
	fl, exists := r.flows[key]
	if !exists {
		fl = &fragmentList{}
		r.flows[key] = fl
		r.active.Add(1)
	}
	r.mu.Unlock()

	payload := make([]byte, fragLen)
	copy(payload, in.payload)

	fl.mu.Lock()
	if fl.list.Len() >= maxFragListLen || fl.list.Len() >= r.config.MaxFragments {
		fl.mu.Unlock()
		r.evictFlow(key)
		return nil, false, ErrReassemblyOverflow
	}

	fl.lastSeen = now
	if !in.moreFragments {
		fl.finalReceived = true
		if end := in.fragOffset + fragLen; end > fl.highest {
			fl.highest = end
		}
	}
	r.insertBSDRight(fl, &fragment{offset: in.fragOffset, length: fragLen, payload: payload})

	if fl.finalReceived && fl.current >= fl.highest {
		result, err := r.build(fl)
		fl.mu.Unlock()
		r.evictFlow(key)
		if err != nil {
			return nil, false, err
		}
		return result, true, nil
	}
	fl.mu.Unlock()
	return nil, false, nil
}

func (r *Reassembler) securityChecks(fragSize, fragOffset uint32) error {
	if fragSize < minFragSize {
		return packet.ErrPacketTooShort
	}
	if fragOffset+fragSize > maxDatagram {
		return ErrReassemblyOverflow
	}
	return nil
}

// insertBSDRight inserts frag into fl in offset order, trimming any overlap
// with its neighbors so the earlier-arrived fragment's bytes always win.
// Must be called with fl.mu held.
func (r *Reassembler) insertBSDRight(fl *fragmentList, frag *fragment) {
	fragEnd := frag.offset + frag.length
	if fragEnd > fl.highest && !fl.finalReceived {
		fl.highest = fragEnd
	}

	var insertBefore *list.Element
	for e := fl.list.Front(); e != nil; e = e.Next() {
		if e.Value.(*fragment).offset >= frag.offset {
			insertBefore = e
			break
		}
	}

	startAt := frag.offset
	if insertBefore != nil {
		if prev := insertBefore.Prev(); prev != nil {
			if prevEnd := prev.Value.(*fragment).offset + prev.Value.(*fragment).length; prevEnd > startAt {
				startAt = prevEnd
			}
		}
	} else if fl.list.Len() > 0 {
		last := fl.list.Back().Value.(*fragment)
		if lastEnd := last.offset + last.length; lastEnd > startAt {
			startAt = lastEnd
		}
	}

	endAt := fragEnd
	if insertBefore != nil {
		if next := insertBefore.Value.(*fragment); next.offset < endAt {
			endAt = next.offset
		}
	}

	if startAt >= endAt {
		return // fully shadowed by already-accepted fragments
	}

	trimmed := &fragment{
		offset:  startAt,
		length:  endAt - startAt,
		payload: frag.payload[startAt-frag.offset : endAt-frag.offset],
	}
	if insertBefore != nil {
		fl.list.InsertBefore(trimmed, insertBefore)
	} else {
		fl.list.PushBack(trimmed)
	}
	fl.current += trimmed.length
}

// build concatenates all accepted fragments into the final datagram. Must
// be called with fl.mu held.
func (r *Reassembler) build(fl *fragmentList) ([]byte, error) {
	if int(fl.highest) > r.config.MaxReassembleSize {
		return nil, ErrReassemblyOverflow
	}
	result := make([]byte, fl.highest)
	for e := fl.list.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		copy(result[f.offset:f.offset+f.length], f.payload)
	}
	return result, nil
}

func (r *Reassembler) evictFlow(key fragmentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flows[key]; ok {
		delete(r.flows, key)
		r.active.Add(-1)
	}
}

// cleanupLoop evicts flows that have sat idle past config.Timeout (spec.md
// §9's resolved open question: fragment state needs a time bound
// independent of the per-source rate limiter).
func (r *Reassembler) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCleanup:
			return
		case now := <-ticker.C:
			r.mu.Lock()
			for key, fl := range r.flows {
				fl.mu.Lock()
				expired := now.Sub(fl.lastSeen) > r.config.Timeout
				fl.mu.Unlock()
				if expired {
					delete(r.flows, key)
					r.active.Add(-1)
				}
			}
			r.mu.Unlock()
		}
	}
}
