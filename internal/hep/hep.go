// Package hep implements HEP (Homer Encapsulation Protocol) v2 and v3
// encoding/decoding, grounded on the teacher's HEPv3 reporter
// (plugins/reporter/hep/encoder.go) and generalized to also decode inbound
// frames — this module receives HEP from upstream agents as well as sending
// it, which the teacher's reporter-only implementation never needed.
package hep

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

const (
	hepMagic = "HEP3"

	chunkHeaderLen = 6
	vendorHOMER    = uint16(0x0000)
)

// Standard HEPv3 chunk type IDs (vendor 0x0000).
const (
	chunkIPFamily  = uint16(1)
	chunkIPProto   = uint16(2)
	chunkSrcIPv4   = uint16(3)
	chunkDstIPv4   = uint16(4)
	chunkSrcIPv6   = uint16(5)
	chunkDstIPv6   = uint16(6)
	chunkSrcPort   = uint16(7)
	chunkDstPort   = uint16(8)
	chunkTimeSec   = uint16(9)
	chunkTimeUsec  = uint16(10)
	chunkProtoType = uint16(11)
	chunkCaptureID = uint16(12)
	chunkAuthKey   = uint16(14)
	chunkPayload   = uint16(15)
	chunkCorrID    = uint16(17)
	chunkNodeName  = uint16(19)
)

// IP-family values used in chunk 1 / the HEPv2 fixed header.
const (
	ipFamilyV4 = uint8(2)
	ipFamilyV6 = uint8(10)
)

// Protocol-type values used in chunk 11.
const (
	ProtoTypeSIP  = uint8(1)
	ProtoTypeRTP  = uint8(5)
	ProtoTypeRTCP = uint8(8)
	ProtoTypeJSON = uint8(100)
)

// Frame is the decoded form of one HEP message, independent of which wire
// version produced it.
type Frame struct {
	SrcIP, DstIP     netip.Addr
	SrcPort, DstPort uint16
	Protocol         uint8 // IP protocol number (6=TCP, 17=UDP)
	ProtoType        uint8 // HEP payload classification (ProtoTypeSIP, …)
	Timestamp        time.Time
	CaptureID        uint32
	AuthKey          string
	CorrelationID    string
	Payload          []byte
}

// EncodeOptions carries the per-frame fields an output sink supplies that
// aren't part of the captured Packet itself.
type EncodeOptions struct {
	CaptureID uint32
	AuthKey   string
	NodeName  string
}

// EncodeV3 serializes f as a HEPv3 chunked frame.
func EncodeV3(f Frame, opts EncodeOptions) ([]byte, error) {
	buf := make([]byte, 0, 512+len(f.Payload))
	buf = append(buf, hepMagic...)
	buf = append(buf, 0, 0) // length placeholder

	family := ipFamilyV4
	if f.SrcIP.Is6() && !f.SrcIP.Is4In6() {
		family = ipFamilyV6
	}
	buf = appendUint8(buf, chunkIPFamily, family)
	buf = appendUint8(buf, chunkIPProto, f.Protocol)

	if family == ipFamilyV4 {
		src4 := f.SrcIP.As4()
		dst4 := f.DstIP.As4()
		buf = appendBytes(buf, chunkSrcIPv4, src4[:])
		buf = appendBytes(buf, chunkDstIPv4, dst4[:])
	} else {
		src6 := f.SrcIP.As16()
		dst6 := f.DstIP.As16()
		buf = appendBytes(buf, chunkSrcIPv6, src6[:])
		buf = appendBytes(buf, chunkDstIPv6, dst6[:])
	}

	buf = appendUint16(buf, chunkSrcPort, f.SrcPort)
	buf = appendUint16(buf, chunkDstPort, f.DstPort)

	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	buf = appendUint32(buf, chunkTimeSec, uint32(ts.Unix()))
	buf = appendUint32(buf, chunkTimeUsec, uint32(ts.Nanosecond()/1_000))
	buf = appendUint8(buf, chunkProtoType, f.ProtoType)
	buf = appendUint32(buf, chunkCaptureID, opts.CaptureID)

	if opts.AuthKey != "" {
		buf = appendBytes(buf, chunkAuthKey, []byte(opts.AuthKey))
	}
	if len(f.Payload) > 0 {
		buf = appendBytes(buf, chunkPayload, f.Payload)
	}
	if f.CorrelationID != "" {
		buf = appendBytes(buf, chunkCorrID, []byte(f.CorrelationID))
	}
	if opts.NodeName != "" {
		buf = appendBytes(buf, chunkNodeName, []byte(opts.NodeName))
	}

	if len(buf) > 0xFFFF {
		return nil, fmt.Errorf("hep: frame too large (%d bytes, max 65535)", len(buf))
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(buf)))
	return buf, nil
}

// DecodeV3 parses a HEPv3 chunked frame produced by EncodeV3 or by any
// HOMER-compatible agent. authKey, if non-empty, must match chunk 14
// exactly or decoding fails — this is the capture-side authentication the
// spec calls for on the HEP listener input.
func DecodeV3(data []byte, expectedAuthKey string) (Frame, error) {
	var f Frame
	if len(data) < 6 || string(data[0:4]) != hepMagic {
		return f, ErrBadMagic
	}
	totalLen := int(binary.BigEndian.Uint16(data[4:6]))
	if totalLen > len(data) {
		return f, ErrTruncated
	}
	data = data[:totalLen]

	var family uint8
	var authKeySeen string
	var timeSec, timeUsec uint32
	haveAuth := false

	offset := 6
	for offset+chunkHeaderLen <= len(data) {
		chunkType := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		chunkLen := int(binary.BigEndian.Uint16(data[offset+4 : offset+6]))
		if chunkLen < chunkHeaderLen || offset+chunkLen > len(data) {
			return f, ErrTruncated
		}
		value := data[offset+chunkHeaderLen : offset+chunkLen]

		switch chunkType {
		case chunkIPFamily:
			if len(value) >= 1 {
				family = value[0]
			}
		case chunkIPProto:
			if len(value) >= 1 {
				f.Protocol = value[0]
			}
		case chunkSrcIPv4:
			if addr, ok := netip.AddrFromSlice(value); ok {
				f.SrcIP = addr
			}
		case chunkDstIPv4:
			if addr, ok := netip.AddrFromSlice(value); ok {
				f.DstIP = addr
			}
		case chunkSrcIPv6:
			if addr, ok := netip.AddrFromSlice(value); ok {
				f.SrcIP = addr
			}
		case chunkDstIPv6:
			if addr, ok := netip.AddrFromSlice(value); ok {
				f.DstIP = addr
			}
		case chunkSrcPort:
			if len(value) >= 2 {
				f.SrcPort = binary.BigEndian.Uint16(value)
			}
		case chunkDstPort:
			if len(value) >= 2 {
				f.DstPort = binary.BigEndian.Uint16(value)
			}
		case chunkTimeSec:
			if len(value) >= 4 {
				timeSec = binary.BigEndian.Uint32(value)
			}
		case chunkTimeUsec:
			if len(value) >= 4 {
				timeUsec = binary.BigEndian.Uint32(value)
			}
		case chunkProtoType:
			if len(value) >= 1 {
				f.ProtoType = value[0]
			}
		case chunkCaptureID:
			if len(value) >= 4 {
				f.CaptureID = binary.BigEndian.Uint32(value)
			}
		case chunkAuthKey:
			authKeySeen = string(value)
			haveAuth = true
		case chunkPayload:
			f.Payload = append([]byte(nil), value...)
		case chunkCorrID:
			f.CorrelationID = string(value)
		}
		offset += chunkLen
	}
	_ = family
	f.Timestamp = time.Unix(int64(timeSec), int64(timeUsec)*1000)

	if expectedAuthKey != "" {
		if !haveAuth || authKeySeen != expectedAuthKey {
			return Frame{}, ErrAuthFailed
		}
	}
	return f, nil
}

func appendChunkHeader(buf []byte, chunkType uint16, valueLen int) []byte {
	var h [chunkHeaderLen]byte
	binary.BigEndian.PutUint16(h[0:2], vendorHOMER)
	binary.BigEndian.PutUint16(h[2:4], chunkType)
	binary.BigEndian.PutUint16(h[4:6], uint16(chunkHeaderLen+valueLen))
	return append(buf, h[:]...)
}

func appendBytes(buf []byte, chunkType uint16, value []byte) []byte {
	buf = appendChunkHeader(buf, chunkType, len(value))
	return append(buf, value...)
}

func appendUint8(buf []byte, chunkType uint16, value uint8) []byte {
	buf = appendChunkHeader(buf, chunkType, 1)
	return append(buf, value)
}

func appendUint16(buf []byte, chunkType uint16, value uint16) []byte {
	buf = appendChunkHeader(buf, chunkType, 2)
	var v [2]byte
	binary.BigEndian.PutUint16(v[:], value)
	return append(buf, v[:]...)
}

func appendUint32(buf []byte, chunkType uint16, value uint32) []byte {
	buf = appendChunkHeader(buf, chunkType, 4)
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], value)
	return append(buf, v[:]...)
}
