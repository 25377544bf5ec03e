package decoder

import (
	"crypto/rsa"
	"encoding/binary"
	"sync"
	"time"

	"github.com/otus-sngrep/sngcore/internal/packet"
	"github.com/otus-sngrep/sngcore/internal/tlsdecrypt"
)

const tlsRecordHeaderLen = 5

// TLSRecordDetector delimits one TLS record (ContentType + ProtocolVersion
// + uint16 length + payload) on a TCP byte stream, the same FrameDetector
// shape SIPBoundaryDetector and WSFrameDetector use.
type TLSRecordDetector struct{}

func (TLSRecordDetector) Detect(buf []byte) bool {
	return len(buf) >= tlsRecordHeaderLen && buf[0] >= 20 && buf[0] <= 23 && buf[1] == 3
}

func (TLSRecordDetector) Extract(buf []byte) ([]byte, int, error) {
	if len(buf) < tlsRecordHeaderLen {
		return nil, 0, nil
	}
	length := int(binary.BigEndian.Uint16(buf[3:5]))
	total := tlsRecordHeaderLen + length
	if total > len(buf) {
		return nil, 0, nil
	}
	return append([]byte(nil), buf[:total]...), total, nil
}

// tlsFlowKey canonicalizes the two endpoints of a TCP connection so both
// directions of the handshake land on the same Connection, regardless of
// which side TCPDissector happened to label src/dst for a given segment.
type tlsFlowKey struct {
	a, b         [16]byte
	aPort, bPort uint16
}

func newTLSFlowKey(srcIP, dstIP [16]byte, srcPort, dstPort uint16) tlsFlowKey {
	if bytesLess(srcIP[:], dstIP[:]) || (srcIP == dstIP && srcPort < dstPort) {
		return tlsFlowKey{a: srcIP, b: dstIP, aPort: srcPort, bPort: dstPort}
	}
	return tlsFlowKey{a: dstIP, b: srcIP, aPort: dstPort, bPort: srcPort}
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type tlsFlowState struct {
	mu         sync.Mutex
	conn       *tlsdecrypt.Connection
	clientIP   [16]byte
	clientPort uint16
	haveClient bool
	sipBuf     []byte
	lastSeen   time.Time
}

// TLSDissector decrypts application_data records from a TLS connection
// whose RSA private key is known, and feeds the plaintext through the same
// SIP boundary detector TCPDissector uses for plain-text SIP-over-TCP.
// Designed to be the child of a TCPDissector configured with
// TLSRecordDetector, so it always receives exactly one complete record per
// Dissect call; handshake/alert/change_cipher_spec records are consumed
// without ever producing a Packet.
type TLSDissector struct {
	PrivateKey *rsa.PrivateKey
	Timeout    time.Duration

	// ServerAddr, if set ("ip:port"), restricts TLS tracking to flows with
	// that address on either side; every other TCP flow carrying what looks
	// like a TLS record is left alone. Empty means track every TLS flow.
	ServerAddr string

	mu          sync.Mutex
	flows       map[tlsFlowKey]*tlsFlowState
	stopCleanup chan struct{}
}

// NewTLSDissector builds a TLS record decryptor. privateKey may be nil if
// no keyfile was configured — every application_data record then fails to
// decrypt and is silently dropped (ErrReject), exactly like any other
// undecryptable connection. serverAddr, if non-empty, restricts tracking to
// flows touching that "ip:port".
func NewTLSDissector(privateKey *rsa.PrivateKey, timeout time.Duration, serverAddr string) *TLSDissector {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	d := &TLSDissector{
		PrivateKey:  privateKey,
		Timeout:     timeout,
		ServerAddr:  serverAddr,
		flows:       make(map[tlsFlowKey]*tlsFlowState),
		stopCleanup: make(chan struct{}),
	}
	go d.cleanupLoop()
	return d
}

// Close stops the idle-flow sweep goroutine. Safe to call once.
func (d *TLSDissector) Close() { close(d.stopCleanup) }

func (d *TLSDissector) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCleanup:
			return
		case now := <-ticker.C:
			d.mu.Lock()
			for key, fs := range d.flows {
				fs.mu.Lock()
				expired := now.Sub(fs.lastSeen) > d.Timeout
				fs.mu.Unlock()
				if expired {
					delete(d.flows, key)
				}
			}
			d.mu.Unlock()
		}
	}
}

func (d *TLSDissector) ID() packet.ProtoID       { return packet.ProtoTLS }
func (d *TLSDissector) Children() []Dissector    { return nil }
func (d *TLSDissector) Init(pp *PacketParser) error { return nil }

func (d *TLSDissector) flowState(key tlsFlowKey) *tlsFlowState {
	d.mu.Lock()
	defer d.mu.Unlock()
	fs, ok := d.flows[key]
	if !ok {
		fs = &tlsFlowState{conn: tlsdecrypt.NewConnection(d.PrivateKey)}
		d.flows[key] = fs
	}
	return fs
}

func (d *TLSDissector) Dissect(pp *PacketParser, pkt *packet.Packet, data []byte) ([]byte, error) {
	if len(data) < tlsRecordHeaderLen {
		return nil, packet.ErrPacketTooShort
	}
	if d.ServerAddr != "" && pkt.Src.String() != d.ServerAddr && pkt.Dst.String() != d.ServerAddr {
		return nil, ErrReject
	}
	recordType := data[0]
	length := int(binary.BigEndian.Uint16(data[3:5]))
	if tlsRecordHeaderLen+length > len(data) {
		length = len(data) - tlsRecordHeaderLen
	}
	payload := data[tlsRecordHeaderLen : tlsRecordHeaderLen+length]

	var srcKey, dstKey [16]byte
	copy(srcKey[:], pkt.Src.IP().AsSlice())
	copy(dstKey[:], pkt.Dst.IP().AsSlice())
	key := newTLSFlowKey(srcKey, dstKey, pkt.Src.Port(), pkt.Dst.Port())

	fs := d.flowState(key)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.lastSeen = pkt.FirstFrame().Timestamp

	fromClient := !fs.haveClient
	if !fs.haveClient {
		fs.clientIP, fs.clientPort, fs.haveClient = srcKey, pkt.Src.Port(), true
	} else {
		fromClient = srcKey == fs.clientIP && pkt.Src.Port() == fs.clientPort
	}

	plaintext, isAppData, err := fs.conn.ProcessRecord(fromClient, recordType, payload)
	if err != nil {
		return nil, ErrReject
	}
	if !isAppData {
		return nil, errHandled
	}

	fs.sipBuf = append(fs.sipBuf, plaintext...)
	detector := SIPBoundaryDetector{}
	if len(fs.sipBuf) > 0 && !detector.Detect(fs.sipBuf) {
		fs.sipBuf = nil
		return nil, errHandled
	}

	for len(fs.sipBuf) > 0 {
		unit, consumed, extractErr := detector.Extract(fs.sipBuf)
		if extractErr != nil {
			fs.sipBuf = nil
			break
		}
		if consumed == 0 {
			break
		}
		fs.sipBuf = fs.sipBuf[consumed:]

		unitPkt := packet.New(pkt.Src, pkt.Dst, pkt.FirstFrame(), unit)
		unitPkt.TransportTag = "sip_tls"
		unitPkt.Annotate(packet.ProtoTLS, struct{}{})
		pp.Emit(unitPkt)
	}

	return nil, errHandled
}
