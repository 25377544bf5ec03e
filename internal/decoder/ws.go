package decoder

import (
	"encoding/binary"

	"github.com/otus-sngrep/sngcore/internal/packet"
)

const (
	wsOpContinuation = 0x0
	wsOpText         = 0x1
	wsOpBinary       = 0x2
	wsOpClose        = 0x8
	wsOpPing         = 0x9
	wsOpPong         = 0xA
)

// WSFrameDetector delimits one RFC 6455 frame inside a TCP byte stream, so
// TCPDissector can hand exactly one frame at a time to a WSDissector child.
type WSFrameDetector struct{}

func (WSFrameDetector) Detect(buf []byte) bool { return len(buf) >= 2 }

func (WSFrameDetector) Extract(buf []byte) ([]byte, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}
	masked := buf[1]&0x80 != 0
	lenField := buf[1] & 0x7F

	headerLen := 2
	var payloadLen uint64
	switch {
	case lenField < 126:
		payloadLen = uint64(lenField)
	case lenField == 126:
		if len(buf) < 4 {
			return nil, 0, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[2:4]))
		headerLen = 4
	default: // 127
		if len(buf) < 10 {
			return nil, 0, nil
		}
		payloadLen = binary.BigEndian.Uint64(buf[2:10])
		headerLen = 10
	}
	if masked {
		headerLen += 4
	}
	total := headerLen + int(payloadLen)
	if total < 0 || uint64(total-headerLen) != payloadLen {
		return nil, 0, ErrReject // overflowed int, bogus length
	}
	if len(buf) < total {
		return nil, 0, nil
	}
	frame := make([]byte, total)
	copy(frame, buf[:total])
	return frame, total, nil
}

// WSDissector de-frames a single RFC 6455 WebSocket frame (FIN bit, opcode,
// mask bit and key, extended length) and unmasks its payload. It is a leaf:
// the unmasked payload is handed back to the framework as its residue,
// which — having no children — is emitted straight away as a finished
// Packet tagged "sip_ws" or "sip_wss".
type WSDissector struct {
	// Secure marks a WS dissector instance wired behind TLS decryption
	// (wss:// traffic), purely to pick the right transport tag.
	Secure bool
}

func NewWSDissector(secure bool) *WSDissector { return &WSDissector{Secure: secure} }

func (d *WSDissector) ID() packet.ProtoID      { return packet.ProtoWS }
func (d *WSDissector) Init(pp *PacketParser) error { return nil }
func (d *WSDissector) Children() []Dissector   { return nil }

func (d *WSDissector) Dissect(pp *PacketParser, pkt *packet.Packet, data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, packet.ErrPacketTooShort
	}
	opcode := data[0] & 0x0F
	masked := data[1]&0x80 != 0
	lenField := data[1] & 0x7F

	offset := 2
	var payloadLen uint64
	switch {
	case lenField < 126:
		payloadLen = uint64(lenField)
	case lenField == 126:
		if len(data) < 4 {
			return nil, packet.ErrPacketTooShort
		}
		payloadLen = uint64(binary.BigEndian.Uint16(data[2:4]))
		offset = 4
	default:
		if len(data) < 10 {
			return nil, packet.ErrPacketTooShort
		}
		payloadLen = binary.BigEndian.Uint64(data[2:10])
		offset = 10
	}

	var maskKey [4]byte
	if masked {
		if len(data) < offset+4 {
			return nil, packet.ErrPacketTooShort
		}
		copy(maskKey[:], data[offset:offset+4])
		offset += 4
	}
	if uint64(len(data)-offset) < payloadLen {
		return nil, packet.ErrPacketTooShort
	}
	payload := make([]byte, payloadLen)
	copy(payload, data[offset:uint64(offset)+payloadLen])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	switch opcode {
	case wsOpText:
		if d.Secure {
			pkt.TransportTag = "sip_wss"
		} else {
			pkt.TransportTag = "sip_ws"
		}
		pkt.Annotate(packet.ProtoWS, struct{}{})
		if len(payload) == 0 {
			return nil, nil
		}
		return payload, nil
	case wsOpClose, wsOpPing, wsOpPong:
		// Control frames carry no SIP content.
		return nil, ErrReject
	default:
		return nil, ErrReject
	}
}
