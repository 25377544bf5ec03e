package capture

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otus-sngrep/sngcore/internal/decoder"
	"github.com/otus-sngrep/sngcore/internal/hep"
)

// buildRawTree mirrors buildTree's shape for LinkRaw inputs: Link -> IP ->
// UDP only, since a HEP-reconstructed datagram is never TCP/TLS/WS.
func buildRawTree(t *testing.T) *decoder.PacketParser {
	t.Helper()
	udp := decoder.NewUDPDissector(nil)
	ip := decoder.NewIPDissector(decoder.ReassemblyConfig{}, udp)
	root := decoder.NewLinkDissector(decoder.LinkRaw, ip)
	pp, err := decoder.NewPacketParser(root)
	require.NoError(t, err)
	return pp
}

func TestSynthesizeIPUDPRoundTripsThroughDissectorTree(t *testing.T) {
	srcIP, err := netip.ParseAddr("192.0.2.1")
	require.NoError(t, err)
	dstIP, err := netip.ParseAddr("192.0.2.2")
	require.NoError(t, err)

	f := hep.Frame{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: 5060, DstPort: 5060,
		Protocol: 17,
		Payload:  []byte("OPTIONS sip:test SIP/2.0\r\n\r\n"),
	}

	data := synthesizeIPUDP(f)
	pp := buildRawTree(t)
	pkts := pp.Process(time.Unix(1700000000, 123456000), len(data), len(data), data)
	require.Len(t, pkts, 1)

	pkt := pkts[0]
	require.Equal(t, "192.0.2.1", pkt.Src.IP().String())
	require.Equal(t, uint16(5060), pkt.Src.Port())
	require.Equal(t, "192.0.2.2", pkt.Dst.IP().String())
	require.Equal(t, uint16(5060), pkt.Dst.Port())
	require.Equal(t, "sip_udp", pkt.TransportTag)
	require.Equal(t, f.Payload, pkt.Payload)
}

func TestHEPInputDecodesAuthenticatedFrameEndToEnd(t *testing.T) {
	in := NewHEPInput("127.0.0.1:0", "secret", nil)
	require.NoError(t, in.Open())
	defer in.Close()

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer sender.Close()

	srcIP, _ := netip.ParseAddr("198.51.100.1")
	dstIP, _ := netip.ParseAddr("198.51.100.2")
	wire, err := hep.EncodeV3(hep.Frame{
		SrcIP: srcIP, DstIP: dstIP,
		SrcPort: 5060, DstPort: 5060,
		Protocol:  17,
		ProtoType: hep.ProtoTypeSIP,
		Payload:   []byte("OPTIONS sip:test SIP/2.0\r\n\r\n"),
	}, hep.EncodeOptions{AuthKey: "secret"})
	require.NoError(t, err)

	_, err = sender.WriteTo(wire, in.conn.LocalAddr())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := in.ReadPacket(ctx)
	require.NoError(t, err)

	pp := buildRawTree(t)
	pkts := pp.Process(raw.Timestamp, raw.CapturedLen, raw.WireLen, raw.Data)
	require.Len(t, pkts, 1)
	require.Equal(t, "sip_udp", pkts[0].TransportTag)
	require.Equal(t, "OPTIONS sip:test SIP/2.0\r\n\r\n", string(pkts[0].Payload))
}

func TestHEPInputDropsFrameOnAuthMismatch(t *testing.T) {
	in := NewHEPInput("127.0.0.1:0", "secret", nil)
	require.NoError(t, in.Open())
	defer in.Close()

	sender, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	defer sender.Close()

	srcIP, _ := netip.ParseAddr("198.51.100.1")
	dstIP, _ := netip.ParseAddr("198.51.100.2")
	wire, err := hep.EncodeV3(hep.Frame{
		SrcIP: srcIP, DstIP: dstIP, SrcPort: 5060, DstPort: 5060,
		Protocol: 17, Payload: []byte("OPTIONS sip:test SIP/2.0\r\n\r\n"),
	}, hep.EncodeOptions{AuthKey: "wrong"})
	require.NoError(t, err)
	_, err = sender.WriteTo(wire, in.conn.LocalAddr())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = in.ReadPacket(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHEPInputRejectsV2WhenPasswordConfigured(t *testing.T) {
	in := NewHEPInput("127.0.0.1:0", "secret", nil)
	require.NoError(t, in.Open())
	defer in.Close()

	srcIP, _ := netip.ParseAddr("198.51.100.1")
	dstIP, _ := netip.ParseAddr("198.51.100.2")
	wire, err := hep.EncodeV2(hep.Frame{
		SrcIP: srcIP, DstIP: dstIP, SrcPort: 5060, DstPort: 5060,
		Protocol: 17, Payload: []byte("OPTIONS sip:test SIP/2.0\r\n\r\n"),
	})
	require.NoError(t, err)

	_, err = in.decode(wire)
	require.ErrorIs(t, err, hep.ErrAuthFailed)
}

func TestHEPInputReadBeforeOpenFails(t *testing.T) {
	in := NewHEPInput("127.0.0.1:0", "", nil)
	_, err := in.ReadPacket(context.Background())
	require.Error(t, err)
}
