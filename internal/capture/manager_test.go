package capture

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otus-sngrep/sngcore/internal/address"
	"github.com/otus-sngrep/sngcore/internal/otuslog"
	"github.com/otus-sngrep/sngcore/internal/packet"
	"github.com/otus-sngrep/sngcore/internal/rtp"
)

var errBPFCompile = fmt.Errorf("capture: invalid bpf expression")

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// fakeInput is an in-memory CaptureInput for driving Manager without a real
// NIC or pcap file.
type fakeInput struct {
	mu       sync.Mutex
	queue    []RawPacket
	bpfCalls []string
	bpfErr   error
	closed   bool
}

func (f *fakeInput) Open() error { return nil }

func (f *fakeInput) ReadPacket(ctx context.Context) (RawPacket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return RawPacket{}, io.EOF
	}
	raw := f.queue[0]
	f.queue = f.queue[1:]
	return raw, nil
}

func (f *fakeInput) LinkType() int { return 101 } // decoder.LinkRaw

func (f *fakeInput) SetBPFFilter(expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bpfCalls = append(f.bpfCalls, expr)
	return f.bpfErr
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeOutput records every Packet handed to it.
type fakeOutput struct {
	mu     sync.Mutex
	writes []*packet.Packet
	closed bool
}

func (f *fakeOutput) Write(pkt *packet.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, pkt)
	return nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeOutput) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func newTestManager() *Manager {
	return NewManager(ManagerConfig{
		Store: ManagerStoreConfig{IncludeRTP: true, RetransWindow: time.Second},
	}, otuslog.Get())
}

func mustAddr(t *testing.T, ip string, port uint16) address.Address {
	t.Helper()
	a, err := address.New(ip, port)
	require.NoError(t, err)
	return a
}

func sipPacket(t *testing.T, raw string) *packet.Packet {
	t.Helper()
	src := mustAddr(t, "192.0.2.10", 5060)
	dst := mustAddr(t, "192.0.2.20", 5060)
	pkt := testPacket(t, raw)
	pkt.Src, pkt.Dst = src, dst
	pkt.TransportTag = "sip_udp"
	return pkt
}

const sipInviteWithSDP = "INVITE sip:bob@example.com SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 192.0.2.10:5060;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: Bob <sip:bob@example.com>\r\n" +
	"From: Alice <sip:alice@example.com>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@192.0.2.10\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:alice@192.0.2.10>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 134\r\n" +
	"\r\n" +
	"v=0\r\n" +
	"o=alice 2890844526 2890844526 IN IP4 192.0.2.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n"

func TestManagerStoresSIPCallAndRegistersMedia(t *testing.T) {
	m := newTestManager()
	pkt := sipPacket(t, sipInviteWithSDP)

	m.handlePacket(pkt)

	call, ok := m.store.GetCall("a84b4c76e66710@192.0.2.10")
	require.True(t, ok)
	require.Len(t, call.Messages, 1)
	require.Equal(t, "INVITE", call.Messages[0].Method)
	require.True(t, call.Messages[0].IsRequest)
	require.Equal(t, 314159, call.Messages[0].CSeq)
	require.Equal(t, "INVITE", call.Messages[0].CSeqMethod)
	require.Equal(t, "1928301774", call.Messages[0].FromTag)
	require.Equal(t, "z9hG4bK776asdhds", call.Messages[0].ViaBranch)
	require.False(t, call.Messages[0].Retransmission)

	_, registered := m.rtpReg.Get(rtp.FlowKey{
		SrcIP:   pkt.Dst.IP(),
		DstIP:   mustAddr(t, "192.0.2.10", 49170).IP(),
		SrcPort: pkt.Dst.Port(),
		DstPort: 49170,
	})
	require.True(t, registered)
}

func TestManagerDetectsRetransmission(t *testing.T) {
	m := newTestManager()
	m.handlePacket(sipPacket(t, sipInviteWithSDP))
	m.handlePacket(sipPacket(t, sipInviteWithSDP))

	call, ok := m.store.GetCall("a84b4c76e66710@192.0.2.10")
	require.True(t, ok)
	require.Len(t, call.Messages, 2)
	require.True(t, call.Messages[1].Retransmission)
}

func rtpPacket(t *testing.T, seq uint16, ssrc uint32) *packet.Packet {
	t.Helper()
	hdr := make([]byte, 12)
	hdr[0] = 0x80 // version 2
	hdr[1] = 0    // payload type 0 (PCMU), marker off
	binary.BigEndian.PutUint16(hdr[2:4], seq)
	binary.BigEndian.PutUint32(hdr[4:8], 1000)
	binary.BigEndian.PutUint32(hdr[8:12], ssrc)

	src := mustAddr(t, "192.0.2.20", 5060) // SDP announced Dst.IP:Dst.Port as the expected source
	dst := mustAddr(t, "192.0.2.10", 49170)
	pkt := packet.New(src, dst, &packet.Frame{Timestamp: time.Now(), CapturedLen: len(hdr), WireLen: len(hdr), Bytes: hdr}, hdr)
	return pkt
}

func TestManagerClassifiesRegisteredRTPFlow(t *testing.T) {
	m := newTestManager()
	m.handlePacket(sipPacket(t, sipInviteWithSDP))

	m.handlePacket(rtpPacket(t, 1, 0xdeadbeef))
	m.handlePacket(rtpPacket(t, 2, 0xdeadbeef))

	call, ok := m.store.GetCall("a84b4c76e66710@192.0.2.10")
	require.True(t, ok)
	require.Len(t, call.Streams, 1)
	require.Equal(t, 2, call.Streams[0].PacketCount)
	require.Equal(t, uint32(0xdeadbeef), call.Streams[0].Stats.SSRC)
}

func TestManagerPauseDropsPackets(t *testing.T) {
	m := newTestManager()
	m.SetPause(true)
	m.handlePacket(sipPacket(t, sipInviteWithSDP))

	require.Equal(t, 0, m.store.Len())

	m.SetPause(false)
	m.handlePacket(sipPacket(t, sipInviteWithSDP))
	require.Equal(t, 1, m.store.Len())
}

func TestManagerOutputsReceiveEveryPacket(t *testing.T) {
	m := newTestManager()
	out := &fakeOutput{}
	m.SetOutput("test", out)

	m.handlePacket(sipPacket(t, sipInviteWithSDP))
	require.Equal(t, 1, out.count())
}

func TestManagerSetBPFFilterKeepsGoingOnPerInputError(t *testing.T) {
	m := newTestManager()
	good := &fakeInput{}
	bad := &fakeInput{bpfErr: ErrBPFUnsupported}

	require.NoError(t, m.AddInput("good", good))
	require.NoError(t, m.AddInput("bad", bad))
	defer m.Stop()

	err := m.SetBPFFilter("udp port 5060")
	require.NoError(t, err) // ErrBPFUnsupported is swallowed, not surfaced

	good.mu.Lock()
	require.Equal(t, []string{"udp port 5060"}, good.bpfCalls)
	good.mu.Unlock()
}

func TestManagerSetBPFFilterReturnsFirstRealError(t *testing.T) {
	m := newTestManager()
	failing := &fakeInput{bpfErr: errBPFCompile}
	require.NoError(t, m.AddInput("failing", failing))
	defer m.Stop()

	err := m.SetBPFFilter("not a filter")
	require.ErrorIs(t, err, errBPFCompile)
}

func TestManagerAddInputAndStopDrainsWorker(t *testing.T) {
	m := newTestManager()
	in := &fakeInput{queue: []RawPacket{}}
	require.NoError(t, m.AddInput("eof-immediately", in))
	m.Stop()

	in.mu.Lock()
	defer in.mu.Unlock()
	require.True(t, in.closed)
}

func TestManagerSetKeyfileValidatesPEM(t *testing.T) {
	m := newTestManager()

	require.ErrorIs(t, m.SetKeyfile(""), ErrKeyfileEmpty)
	require.ErrorIs(t, m.SetKeyfile(filepath.Join(t.TempDir(), "missing.pem")), ErrKeyLoadFailed)

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, writeFile(garbage, []byte("not a pem file")))
	require.ErrorIs(t, m.SetKeyfile(garbage), ErrKeyInitFailed)

	good := filepath.Join(dir, "good.pem")
	require.NoError(t, writeFile(good, generateRSAKeyPEM(t)))
	require.NoError(t, m.SetKeyfile(good))
	require.NotNil(t, m.tlsKey.get())
}

func generateRSAKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return pem.EncodeToMemory(block)
}
