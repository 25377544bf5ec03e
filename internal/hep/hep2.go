package hep

import (
	"encoding/binary"
	"net/netip"
	"time"
)

// hepV2HeaderLen is the fixed header size for the legacy (pre-chunked) HEP
// wire format this module accepts from older agents: version, length,
// family, protocol, two ports, two IPv4 addresses, a timestamp and a
// capture ID — no vendor-chunk extensibility, no IPv6, no payload length
// prefix beyond "whatever follows the header is the payload". The auth key
// and node name chunks have no HEPv2 equivalent; callers that need them
// should use EncodeV3/DecodeV3 instead.
const hepV2HeaderLen = 28

const hepV2Version = uint8(2)

// EncodeV2 serializes f using the legacy fixed HEPv2 header. Only IPv4 is
// representable; IPv6 frames are rejected.
func EncodeV2(f Frame) ([]byte, error) {
	if !f.SrcIP.Is4() || !f.DstIP.Is4() {
		return nil, ErrV2RequiresIPv4
	}
	buf := make([]byte, hepV2HeaderLen+len(f.Payload))
	buf[0] = hepV2Version
	buf[1] = hepV2HeaderLen
	buf[2] = ipFamilyV4
	buf[3] = f.Protocol
	binary.BigEndian.PutUint16(buf[4:6], f.SrcPort)
	binary.BigEndian.PutUint16(buf[6:8], f.DstPort)
	src4 := f.SrcIP.As4()
	dst4 := f.DstIP.As4()
	copy(buf[8:12], src4[:])
	copy(buf[12:16], dst4[:])

	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	binary.BigEndian.PutUint32(buf[16:20], uint32(ts.Unix()))
	binary.BigEndian.PutUint32(buf[20:24], uint32(ts.Nanosecond()/1_000))
	binary.BigEndian.PutUint32(buf[24:28], f.CaptureID)

	copy(buf[hepV2HeaderLen:], f.Payload)
	return buf, nil
}

// DecodeV2 parses a legacy fixed-header HEPv2 frame.
func DecodeV2(data []byte) (Frame, error) {
	var f Frame
	if len(data) < hepV2HeaderLen {
		return f, ErrTruncated
	}
	if data[0] != hepV2Version {
		return f, ErrBadMagic
	}
	f.Protocol = data[3]
	f.SrcPort = binary.BigEndian.Uint16(data[4:6])
	f.DstPort = binary.BigEndian.Uint16(data[6:8])
	f.SrcIP = netip.AddrFrom4([4]byte(data[8:12]))
	f.DstIP = netip.AddrFrom4([4]byte(data[12:16]))
	sec := binary.BigEndian.Uint32(data[16:20])
	usec := binary.BigEndian.Uint32(data[20:24])
	f.Timestamp = time.Unix(int64(sec), int64(usec)*1000)
	f.CaptureID = binary.BigEndian.Uint32(data[24:28])
	f.Payload = append([]byte(nil), data[hepV2HeaderLen:]...)
	return f, nil
}
