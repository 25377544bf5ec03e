package rtp

import "encoding/binary"

// RTCP payload-type range per RFC 5761 / RFC 3550 §6.4.
const (
	rtcpPayloadTypeMin = 200
	rtcpPayloadTypeMax = 209

	rtpMinLength  = 12 // fixed RTP header, RFC 3550 §5.1
	rtcpMinLength = 8  // fixed RTCP common header + sender SSRC
)

// Kind distinguishes a classified datagram.
type Kind int

const (
	KindNone Kind = iota
	KindRTP
	KindRTCP
)

// Header is the subset of RTP/RTCP fixed-header fields the capture
// pipeline surfaces; RTCP packets leave Seq/Timestamp/Marker/Extension
// zero since the common header doesn't carry them.
type Header struct {
	Kind          Kind
	Version       uint8
	Marker        bool
	PayloadType   uint8
	SequenceNumber uint16
	Timestamp     uint32
	SSRC          uint32
}

// Classifier decides whether a UDP payload is RTP, RTCP or neither.
type Classifier struct {
	Registry *FlowRegistry
}

// NewClassifier builds a Classifier sharing registry with the SIP/SDP
// layer that populates it.
func NewClassifier(registry *FlowRegistry) *Classifier {
	return &Classifier{Registry: registry}
}

// Classify decides whether payload carried by the 5-tuple key is RTP or
// RTCP: a FlowRegistry hit skips the header heuristic from the teacher's
// looksLikeRTPorRTCP and supplies the call context, but the header parse
// still requires version 2 and the minimum RTP/RTCP length; an unregistered
// flow must also pass the heuristic.
func (c *Classifier) Classify(key FlowKey, payload []byte) (Header, FlowContext, bool) {
	var ctx FlowContext
	var registered bool
	if c.Registry != nil {
		ctx, registered = c.Registry.Get(key)
	}

	if !registered && !looksLikeRTPorRTCP(payload) {
		return Header{}, FlowContext{}, false
	}

	h, ok := parseHeader(payload)
	if !ok {
		return Header{}, FlowContext{}, false
	}
	return h, ctx, true
}

func parseHeader(b []byte) (Header, bool) {
	if len(b) < rtcpMinLength {
		return Header{}, false
	}
	version := (b[0] >> 6) & 0x3
	if version != 2 {
		return Header{}, false
	}

	rtcpPT := b[1]
	if rtcpPT >= rtcpPayloadTypeMin && rtcpPT <= rtcpPayloadTypeMax {
		return Header{
			Kind:        KindRTCP,
			Version:     version,
			PayloadType: rtcpPT,
			SSRC:        binary.BigEndian.Uint32(b[4:8]),
		}, true
	}

	if len(b) < rtpMinLength {
		return Header{}, false
	}
	return Header{
		Kind:           KindRTP,
		Version:        version,
		Marker:         (b[1]>>7)&0x1 == 1,
		PayloadType:    b[1] & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(b[2:4]),
		Timestamp:      binary.BigEndian.Uint32(b[4:8]),
		SSRC:           binary.BigEndian.Uint32(b[8:12]),
	}, true
}

// looksLikeRTPorRTCP applies the teacher's header heuristic: V=2, plausible
// payload-type range, minimum length for the kind it looks like.
func looksLikeRTPorRTCP(payload []byte) bool {
	if len(payload) < rtcpMinLength {
		return false
	}
	if (payload[0]>>6)&0x3 != 2 {
		return false
	}
	rtcpPT := payload[1]
	if rtcpPT >= rtcpPayloadTypeMin && rtcpPT <= rtcpPayloadTypeMax {
		return true
	}
	rtpPT := payload[1] & 0x7F
	return rtpPT < 128 && len(payload) >= rtpMinLength
}
