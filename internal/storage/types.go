package storage

import (
	"time"

	"github.com/otus-sngrep/sngcore/internal/address"
	"github.com/otus-sngrep/sngcore/internal/packet"
	"github.com/otus-sngrep/sngcore/internal/sdp"
)

// Call is a SIP dialog: every Message in it shares one Call-ID.
type Call struct {
	CallID    string
	Messages  []*Message
	Streams   []*Stream
	CreatedAt time.Time
}

// Message is one parsed SIP request or response belonging to at most one
// Call. Retransmission is derived by comparing PayloadAfterFirstLine
// against every earlier Message in the same Call.
type Message struct {
	Packet             *packet.Packet
	Method             string
	StatusCode         int
	IsRequest          bool
	CSeq               int
	CSeqMethod         string
	FromTag            string
	ToTag              string
	ViaBranch          string
	Media              []sdp.Media
	Retransmission     bool
	PayloadAfterFirstLine []byte
	Timestamp           time.Time
}

// StreamStats holds the RFC 3550 §6.4.1 loss/jitter accounting for one RTP
// Stream (spec.md §3's Stream "statistics block").
type StreamStats struct {
	Expected      int
	Lost          int
	OutOfSequence int
	MaxDelta      float64
	MaxJitter     float64
	MeanJitter    float64
	SSRC          uint32
}

// Stream is an RTP/RTCP media flow, active from its first matching packet
// until the parent Call is evicted. MessageRef, when set, is the SIP
// message whose SDP body announced this stream's 5-tuple.
type Stream struct {
	Src, Dst    address.Address
	Format      string
	FirstSeen   time.Time
	PacketCount int
	MessageRef  *Message
	Stats       StreamStats
}
