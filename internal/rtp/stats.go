package rtp

// Stats accumulates RFC 3550 §6.4.1-style loss statistics for one SSRC:
// expected packets is derived from the sequence-number span observed, so
// packet_count (received) can never exceed it and lost is simply the
// difference — matching the invariant this pipeline tests against.
type Stats struct {
	SSRC       uint32
	firstSeq   uint16
	highestSeq uint16
	haveFirst  bool
	cycles     uint32 // number of times the 16-bit sequence number has wrapped

	// highestSeqExt is the unwrapped (cycles<<16|seq) value of highestSeq at
	// the moment it was last updated, cached so Expected() never has to
	// recombine a stale highestSeq with the current cycles count — doing
	// that after a wrap re-extends a previous-cycle sequence number with the
	// new cycle count and overstates the span by 0x10000 (RFC 3550 §A.3).
	highestSeqExt uint32

	PacketCount int
}

// Update records one more received packet with sequence number seq.
func (s *Stats) Update(seq uint16) {
	s.PacketCount++
	if !s.haveFirst {
		s.firstSeq = seq
		s.highestSeq = seq
		s.highestSeqExt = uint32(seq)
		s.haveFirst = true
		return
	}
	if seq < s.highestSeq && s.highestSeq-seq > 0x8000 {
		s.cycles++
	}
	if ext := extended(seq, s.cycles); ext > s.highestSeqExt {
		s.highestSeq = seq
		s.highestSeqExt = ext
	}
}

func extended(seq uint16, cycles uint32) uint32 {
	return cycles<<16 | uint32(seq)
}

// Expected returns the number of packets that should have arrived given the
// sequence-number span seen so far.
func (s *Stats) Expected() int {
	if !s.haveFirst {
		return 0
	}
	return int(s.highestSeqExt-extended(s.firstSeq, 0)) + 1
}

// Lost returns Expected - PacketCount, clamped to zero (duplicate/reordered
// deliveries can make the raw subtraction negative).
func (s *Stats) Lost() int {
	lost := s.Expected() - s.PacketCount
	if lost < 0 {
		return 0
	}
	return lost
}
