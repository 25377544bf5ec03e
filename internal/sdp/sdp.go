// Package sdp extracts the offered RTP/RTCP media endpoints and codec list
// from a SIP message body, so internal/rtp can register expected flows
// before any RTP packet for the call arrives. New relative to the
// distilled spec, grounded on the SIP body handling the teacher's
// plugins/parser/sip package does (Content-Length walk, same
// line-oriented text convention) but applied to SDP's own grammar
// (RFC 4566) rather than SIP headers.
package sdp

import (
	"net/netip"
	"strconv"
	"strings"
)

// Codec is one entry from a media line's rtpmap attribute.
type Codec struct {
	PayloadType int
	Name        string
	ClockRate   int
}

// Media is one offered m= line: a port, transport protocol and the codecs
// negotiated for it.
type Media struct {
	Type      string // "audio", "video", "application" (RTP over dynamic payloads), ...
	Port      uint16
	Protocol  string // "RTP/AVP", "RTP/SAVP", "UDP/TLS/RTP/SAVP", ...
	Codecs    []Codec
}

// Session is the parsed subset of an SDP body this package cares about.
type Session struct {
	ConnectionIP netip.Addr // from a session- or media-level c= line
	Media        []Media
}

// ParseBody parses an SDP body carried in a SIP INVITE or 200 OK. Lines it
// doesn't recognize are ignored; SDP has many attribute types this capture
// pipeline has no use for.
func ParseBody(body []byte) (*Session, error) {
	sess := &Session{}
	var current *Media

	for _, raw := range strings.Split(string(body), "\n") {
		line := strings.TrimRight(raw, "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		value := line[2:]

		switch line[0] {
		case 'c':
			if ip, ok := parseConnectionLine(value); ok && current == nil {
				sess.ConnectionIP = ip
			} else if ok && current != nil {
				// media-level c= overrides session-level for that media only;
				// stored on the Session since this pipeline only tracks one
				// address per call for flow registration purposes.
				sess.ConnectionIP = ip
			}
		case 'm':
			m := parseMediaLine(value)
			if m != nil {
				sess.Media = append(sess.Media, *m)
				current = &sess.Media[len(sess.Media)-1]
			}
		case 'a':
			if current != nil {
				parseAttributeLine(current, value)
			}
		}
	}
	return sess, nil
}

// parseConnectionLine parses "IN IP4 192.0.2.1" / "IN IP6 2001:db8::1".
func parseConnectionLine(value string) (netip.Addr, bool) {
	fields := strings.Fields(value)
	if len(fields) != 3 {
		return netip.Addr{}, false
	}
	addr, err := netip.ParseAddr(fields[2])
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// parseMediaLine parses "audio 49170 RTP/AVP 0 8 101".
func parseMediaLine(value string) *Media {
	fields := strings.Fields(value)
	if len(fields) < 3 {
		return nil
	}
	port, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil {
		return nil
	}
	m := &Media{Type: fields[0], Port: uint16(port), Protocol: fields[2]}
	for _, pt := range fields[3:] {
		n, err := strconv.Atoi(pt)
		if err != nil {
			continue
		}
		m.Codecs = append(m.Codecs, Codec{PayloadType: n})
	}
	return m
}

// parseAttributeLine fills in codec names/clock rates from "rtpmap:0 PCMU/8000".
func parseAttributeLine(m *Media, value string) {
	if !strings.HasPrefix(value, "rtpmap:") {
		return
	}
	rest := strings.TrimPrefix(value, "rtpmap:")
	fields := strings.SplitN(rest, " ", 2)
	if len(fields) != 2 {
		return
	}
	pt, err := strconv.Atoi(fields[0])
	if err != nil {
		return
	}
	nameRate := strings.SplitN(fields[1], "/", 2)
	name := nameRate[0]
	rate := 0
	if len(nameRate) == 2 {
		if r, err := strconv.Atoi(nameRate[1]); err == nil {
			rate = r
		}
	}
	for i := range m.Codecs {
		if m.Codecs[i].PayloadType == pt {
			m.Codecs[i].Name = name
			m.Codecs[i].ClockRate = rate
			return
		}
	}
}
