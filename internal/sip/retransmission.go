package sip

import (
	"sync"
	"time"
)

// transactionKey identifies one SIP transaction attempt: the same message
// retransmitted by the transport layer carries the same Call-ID, CSeq and
// Via branch.
type transactionKey struct {
	callID string
	cseq   string
	branch string
}

// RetransmissionDetector flags a Message as a retransmission when an
// identical transaction key has already been seen within the window. This
// mirrors SIP's own retransmission timers (RFC 3261 §17.1.1.2) without
// modeling full transaction state machines, which is out of scope here —
// storage only needs to know "have I already stored this attempt".
type RetransmissionDetector struct {
	mu      sync.Mutex
	seen    map[transactionKey]time.Time
	window  time.Duration
	stopped chan struct{}
}

// NewRetransmissionDetector creates a detector that forgets a transaction
// key once it hasn't been seen for window.
func NewRetransmissionDetector(window time.Duration) *RetransmissionDetector {
	d := &RetransmissionDetector{
		seen:    make(map[transactionKey]time.Time),
		window:  window,
		stopped: make(chan struct{}),
	}
	go d.sweepLoop()
	return d
}

// Close stops the background sweep goroutine.
func (d *RetransmissionDetector) Close() {
	close(d.stopped)
}

// Observe records m's transaction key and reports whether it was already
// seen within the window (true = retransmission).
func (d *RetransmissionDetector) Observe(m *Message, now time.Time) bool {
	key := transactionKey{callID: m.CallID, cseq: m.CSeq, branch: m.ViaBranch}

	d.mu.Lock()
	defer d.mu.Unlock()

	if last, ok := d.seen[key]; ok && now.Sub(last) <= d.window {
		d.seen[key] = now
		return true
	}
	d.seen[key] = now
	return false
}

func (d *RetransmissionDetector) sweepLoop() {
	ticker := time.NewTicker(d.window)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopped:
			return
		case now := <-ticker.C:
			d.mu.Lock()
			for k, last := range d.seen {
				if now.Sub(last) > d.window {
					delete(d.seen, k)
				}
			}
			d.mu.Unlock()
		}
	}
}
