package decoder

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// FrameDetector delimits complete application-layer units inside a growing
// byte buffer. TCPDissector uses one instance per flow to decide how much
// of its reassembled stream forms one unit; the unit's content is opaque to
// TCPDissector itself.
type FrameDetector interface {
	// Detect reports whether buf could plausibly start a unit this detector
	// recognizes at all. TCPDissector uses it to pick a flow's starting
	// segment and to spot unrecognized (NOT_SIP) buffers, which are retained
	// or, on PSH, flushed as-is rather than parsed (spec.md §4.3).
	Detect(buf []byte) bool

	// Extract returns the first complete unit in buf, the number of bytes
	// it consumed, and an error if buf can never form a valid unit. A nil
	// unit with consumed == 0 and err == nil means "need more data".
	Extract(buf []byte) (unit []byte, consumed int, err error)
}

var (
	errSIPBoundaryInvalid = fmt.Errorf("decoder: malformed SIP Content-Length header")
)

var sipMethods = [][]byte{
	[]byte("INVITE"), []byte("ACK"), []byte("BYE"), []byte("CANCEL"),
	[]byte("REGISTER"), []byte("OPTIONS"), []byte("PRACK"), []byte("SUBSCRIBE"),
	[]byte("NOTIFY"), []byte("PUBLISH"), []byte("INFO"), []byte("REFER"),
	[]byte("MESSAGE"), []byte("UPDATE"),
}

var sipVersionPrefix = []byte("SIP/2.0")

// SIPBoundaryDetector finds complete SIP messages in a TCP byte stream by
// looking for the double-CRLF header terminator and a Content-Length
// header, exactly as the teacher's TCP-facing SIP parser did — reassembly
// itself stays ignorant of SIP grammar beyond that terminator and one
// header.
type SIPBoundaryDetector struct{}

func (SIPBoundaryDetector) Detect(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	if bytes.HasPrefix(buf, sipVersionPrefix) {
		return true
	}
	for _, method := range sipMethods {
		if bytes.HasPrefix(buf, method) && len(buf) > len(method) && buf[len(method)] == ' ' {
			return true
		}
	}
	return false
}

func (SIPBoundaryDetector) Extract(buf []byte) ([]byte, int, error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	headerEnd := bytes.Index(buf, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return nil, 0, nil
	}
	bodyStart := headerEnd + 4

	contentLength, err := parseContentLength(buf[:headerEnd])
	if err != nil {
		return nil, 0, err
	}
	total := bodyStart + contentLength
	if len(buf) < total {
		return nil, 0, nil
	}
	msg := make([]byte, total)
	copy(msg, buf[:total])
	return msg, total, nil
}

func parseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		var prefix string
		switch {
		case strings.HasPrefix(lower, "content-length:"):
			prefix = "content-length:"
		case strings.HasPrefix(lower, "l:"):
			prefix = "l:"
		default:
			continue
		}
		value := strings.TrimSpace(line[len(prefix):])
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, errSIPBoundaryInvalid
		}
		return n, nil
	}
	return 0, nil
}
