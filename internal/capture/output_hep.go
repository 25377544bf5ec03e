package capture

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/otus-sngrep/sngcore/internal/hep"
	"github.com/otus-sngrep/sngcore/internal/packet"
)

// HEPOutputConfig configures the HEP sender, grounded on the teacher's
// HEPReporter.Config (Servers, CaptureID, AuthKey, NodeName).
type HEPOutputConfig struct {
	Servers   []string // "host:port", one UDP socket dialed per entry
	Version   int      // 2 or 3
	AuthKey   string
	CaptureID uint32
	NodeName  string
}

// HEPOutput encapsulates SIP packets only (never RTP, per spec.md §4.6) and
// sends them to a flow-stable choice among the configured collectors, one
// pre-dialed UDP socket per server, exactly as the teacher's HEPReporter
// does in plugins/reporter/hep/hep.go.
type HEPOutput struct {
	cfg  HEPOutputConfig
	mu   sync.Mutex
	conn []*net.UDPConn
}

// NewHEPOutput dials one UDP socket per configured server.
func NewHEPOutput(cfg HEPOutputConfig) (*HEPOutput, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("capture: hep output requires at least one server")
	}
	out := &HEPOutput{cfg: cfg}
	for _, addr := range cfg.Servers {
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("capture: resolve hep server %q: %w", addr, err)
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("capture: dial hep server %q: %w", addr, err)
		}
		out.conn = append(out.conn, conn)
	}
	return out, nil
}

// Write encodes pkt as a HEP frame and sends it to the flow-stable server.
// Non-SIP packets (no recognized transport tag) are ignored silently.
func (o *HEPOutput) Write(pkt *packet.Packet) error {
	if !strings.HasPrefix(pkt.TransportTag, "sip_") {
		return nil
	}

	f := hep.Frame{
		SrcIP:     pkt.Src.IP(),
		DstIP:     pkt.Dst.IP(),
		SrcPort:   pkt.Src.Port(),
		DstPort:   pkt.Dst.Port(),
		Protocol:  transportProtocolNumber(pkt.TransportTag),
		ProtoType: hep.ProtoTypeSIP,
		Payload:   pkt.Payload,
	}
	if t := pkt.FirstFrame(); t != nil {
		f.Timestamp = t.Timestamp
	}

	var wire []byte
	var err error
	switch o.cfg.Version {
	case 2:
		wire, err = hep.EncodeV2(f)
	default:
		wire, err = hep.EncodeV3(f, hep.EncodeOptions{
			CaptureID: o.cfg.CaptureID,
			AuthKey:   o.cfg.AuthKey,
			NodeName:  o.cfg.NodeName,
		})
	}
	if err != nil {
		return err
	}

	o.mu.Lock()
	conn := o.conn[hep.SelectServer(f, len(o.conn))]
	o.mu.Unlock()
	_, err = conn.Write(wire)
	return err
}

func transportProtocolNumber(tag string) uint8 {
	switch tag {
	case "sip_udp":
		return 17
	case "sip_tcp", "sip_tls", "sip_ws", "sip_wss":
		return 6
	default:
		return 0
	}
}

// Close closes every dialed socket.
func (o *HEPOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var firstErr error
	for _, c := range o.conn {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
