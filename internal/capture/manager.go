package capture

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/otus-sngrep/sngcore/internal/decoder"
	"github.com/otus-sngrep/sngcore/internal/otuslog"
	"github.com/otus-sngrep/sngcore/internal/packet"
	"github.com/otus-sngrep/sngcore/internal/rtp"
	"github.com/otus-sngrep/sngcore/internal/sdp"
	"github.com/otus-sngrep/sngcore/internal/sip"
	"github.com/otus-sngrep/sngcore/internal/storage"
)

// ManagerConfig carries the static (non-runtime-mutable) knobs a Manager is
// built with — call storage policy and the reassembly/TLS tree settings
// every input's dissector tree shares.
type ManagerConfig struct {
	Store ManagerStoreConfig
	Tree  TreeConfig
}

// ManagerStoreConfig configures the Call/Message/Stream index.
type ManagerStoreConfig struct {
	Limit        int
	Rotate       bool
	IncludeRTP   bool
	RetransWindow time.Duration
}

// inputRun is the live bookkeeping for one registered CaptureInput.
type inputRun struct {
	name    string
	input   CaptureInput
	parser  *decoder.PacketParser
	closers []closer
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager owns the set of CaptureInputs and CaptureOutputs and arbitrates
// the shared capture lock, per spec.md §4.9 (component L). Starting an
// input spawns its own worker goroutine that owns a private PacketParser —
// reassembly tables and the TLS connection table need no cross-input
// locking, only the Store does.
type Manager struct {
	cfg ManagerConfig
	log otuslog.Logger

	store     *storage.Store
	sipParser *sip.Parser
	retrans   *sip.RetransmissionDetector
	rtpReg    *rtp.FlowRegistry
	rtpClass  *rtp.Classifier

	tlsKey rsaKeyHolder

	mu      sync.Mutex
	paused  bool
	inputs  map[string]*inputRun
	outputs map[string]CaptureOutput

	streamStats map[storageFlowKey]*rtp.Stats

	captureMu sync.Mutex // the capture lock: held for each packet's parse-and-store
}

type storageFlowKey struct {
	src, dst string
}

// NewManager builds a Manager with an empty input/output set.
func NewManager(cfg ManagerConfig, log otuslog.Logger) *Manager {
	registry := rtp.NewFlowRegistry()
	return &Manager{
		cfg:         cfg,
		log:         log,
		store:       storage.NewStore(cfg.Store.Limit, cfg.Store.Rotate),
		sipParser:   sip.NewParser(log),
		retrans:     sip.NewRetransmissionDetector(cfg.Store.RetransWindow),
		rtpReg:      registry,
		rtpClass:    rtp.NewClassifier(registry),
		inputs:      make(map[string]*inputRun),
		outputs:     make(map[string]CaptureOutput),
		streamStats: make(map[storageFlowKey]*rtp.Stats),
	}
}

// Store exposes the underlying Call/Message/Stream index for UI polling.
func (m *Manager) Store() *storage.Store { return m.store }

// AddInput registers a CaptureInput under name: it opens the input, builds
// its dissector tree and starts its worker goroutine immediately.
func (m *Manager) AddInput(name string, in CaptureInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := in.Open(); err != nil {
		return err
	}
	root, closers := buildTree(decoder.LinkType(in.LinkType()), m.cfg.Tree, &m.tlsKey)
	parser, err := decoder.NewPacketParser(root)
	if err != nil {
		in.Close()
		return err
	}
	run := &inputRun{name: name, input: in, parser: parser, closers: closers}
	m.inputs[name] = run
	m.runLocked(run)
	return nil
}

// SetOutput registers or replaces a named CaptureOutput (spec.md §4.9's
// **(NEW)** set_output, alongside set_dumper for the pcap sink).
func (m *Manager) SetOutput(name string, out CaptureOutput) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.outputs[name]; ok {
		old.Close()
	}
	m.outputs[name] = out
}

// SetPause implements set_pause: while paused, every input keeps reading
// off the wire (so the kernel buffer doesn't back up) but parsed packets
// are discarded at the parse boundary instead of reaching storage/outputs.
func (m *Manager) SetPause(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// SetKeyfile validates path as a PEM RSA private key and, on success, uses
// it for every TLS connection tracked by inputs started from this point
// on — matching spec.md §4.9's "subsequent TLS connections use it".
// Already-running inputs keep their existing tree; restart them (Stop then
// AddInput again) to pick up decryption.
func (m *Manager) SetKeyfile(path string) error {
	return m.tlsKey.set(path)
}

// SetBPFFilter installs expr on every pcap-backed input, leaving an input's
// existing filter in place if compiling/installing fails on it (spec.md
// §4.9).
func (m *Manager) SetBPFFilter(expr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for _, run := range m.inputs {
		if err := run.input.SetBPFFilter(expr); err != nil && err != ErrBPFUnsupported {
			if firstErr == nil {
				firstErr = err
			}
			if m.log != nil {
				m.log.WithError(err).Warnf("set_bpf_filter failed on input %s, keeping previous filter", run.name)
			}
		}
	}
	return firstErr
}

// runLocked starts run's worker goroutine. Callers must hold m.mu.
func (m *Manager) runLocked(run *inputRun) {
	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	run.done = make(chan struct{})
	go m.workerLoop(ctx, run)
}

func (m *Manager) workerLoop(ctx context.Context, run *inputRun) {
	defer close(run.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := run.input.ReadPacket(ctx)
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return
			}
			if m.log != nil {
				m.log.WithError(err).Warnf("input %s read error", run.name)
			}
			continue
		}

		pkts := run.parser.Process(raw.Timestamp, raw.CapturedLen, raw.WireLen, raw.Data)
		for _, pkt := range pkts {
			m.handlePacket(pkt)
		}
	}
}

// handlePacket implements spec.md §5's capture lock: parse-and-store for
// one Packet runs under a single critical section so storage mutations
// across inputs never interleave.
func (m *Manager) handlePacket(pkt *packet.Packet) {
	m.mu.Lock()
	paused := m.paused
	outputs := make([]CaptureOutput, 0, len(m.outputs))
	for _, o := range m.outputs {
		outputs = append(outputs, o)
	}
	m.mu.Unlock()

	if paused {
		return
	}

	m.captureMu.Lock()
	if pkt.TransportTag != "" {
		m.handleSIPCandidate(pkt)
	} else {
		m.handleRTPCandidate(pkt)
	}
	m.captureMu.Unlock()

	for _, o := range outputs {
		if err := o.Write(pkt); err != nil && m.log != nil {
			m.log.WithError(err).Warn("capture output write failed")
		}
	}
}

// handleSIPCandidate parses pkt as SIP; a parse failure falls through to
// RTP/RTCP classification, since a UDP datagram tagged "sip_udp" might
// simply be a media packet on the same port range rather than SIP at all.
func (m *Manager) handleSIPCandidate(pkt *packet.Packet) {
	sipMsg, err := m.sipParser.ParseMessage(pkt.Payload)
	if err != nil {
		m.handleRTPCandidate(pkt)
		return
	}
	m.storeSIPMessage(pkt, sipMsg)
}

func (m *Manager) storeSIPMessage(pkt *packet.Packet, sipMsg *sip.Message) {
	now := time.Now()
	if f := pkt.FirstFrame(); f != nil {
		now = f.Timestamp
	}

	cseqNum, cseqMethod := splitCSeq(sipMsg.CSeq)
	msg := &storage.Message{
		Packet:                pkt,
		Method:                sipMsg.Method,
		StatusCode:            sipMsg.StatusCode,
		IsRequest:             sipMsg.IsRequest,
		CSeq:                  cseqNum,
		CSeqMethod:            cseqMethod,
		FromTag:               tagFromHeader(sipMsg.From),
		ToTag:                 tagFromHeader(sipMsg.To),
		ViaBranch:             sipMsg.ViaBranch,
		PayloadAfterFirstLine: payloadAfterFirstLine(pkt.Payload),
		Timestamp:             now,
	}
	// m.retrans flags same-transaction repeats (Call-ID+CSeq+branch within a
	// window) before storage does its own byte-equality check; RFC 3261
	// §17.1.1.2 forbids the UAC from altering a request on retransmit, so a
	// transaction-level hit lets us skip re-parsing a body we've already
	// registered media for. storage.AddMessage computes the Message's
	// authoritative Retransmission flag (spec.md's payload-equality
	// definition), so the result here only gates this SDP shortcut.
	skipSDP := m.retrans.Observe(sipMsg, now)

	var session *sdp.Session
	if !skipSDP && len(sipMsg.Body) > 0 {
		if s, err := sdp.ParseBody(sipMsg.Body); err == nil {
			session = s
			msg.Media = s.Media
		}
	}

	call, err := m.store.AddMessage(sipMsg.CallID, msg)
	if err != nil {
		return // StorageLimitExceeded: drop silently per spec.md §7
	}

	if session != nil && m.cfg.Store.IncludeRTP {
		m.registerMediaStreams(call.CallID, session, pkt)
	}
}

// registerMediaStreams records every media endpoint an SDP body announced
// in the shared FlowRegistry, so RTP/RTCP on that 5-tuple attributes back
// to this call.
func (m *Manager) registerMediaStreams(callID string, session *sdp.Session, pkt *packet.Packet) {
	if !session.ConnectionIP.IsValid() {
		return
	}
	for _, media := range session.Media {
		key := rtp.FlowKey{
			SrcIP: pkt.Dst.IP(), DstIP: session.ConnectionIP,
			SrcPort: pkt.Dst.Port(), DstPort: media.Port,
		}
		m.rtpReg.Register(key, rtp.FlowContext{CallID: callID, Codec: mediaCodecName(media)})
	}
}

func mediaCodecName(m sdp.Media) string {
	if len(m.Codecs) == 0 {
		return ""
	}
	return m.Codecs[0].Name
}

// handleRTPCandidate offers a non-SIP (or SIP-parse-rejected) UDP payload
// to the RTP/RTCP classifier, updating the owning Stream's statistics on a
// hit (spec.md §4.8).
func (m *Manager) handleRTPCandidate(pkt *packet.Packet) {
	if !m.cfg.Store.IncludeRTP {
		return
	}
	key := rtp.FlowKey{SrcIP: pkt.Src.IP(), DstIP: pkt.Dst.IP(), SrcPort: pkt.Src.Port(), DstPort: pkt.Dst.Port()}
	hdr, ctx, ok := m.rtpClass.Classify(key, pkt.Payload)
	if !ok || hdr.Kind != rtp.KindRTP {
		return
	}

	m.mu.Lock()
	fk := storageFlowKey{src: pkt.Src.String(), dst: pkt.Dst.String()}
	stats, ok := m.streamStats[fk]
	if !ok {
		stats = &rtp.Stats{SSRC: hdr.SSRC}
		m.streamStats[fk] = stats
	}
	stats.Update(hdr.SequenceNumber)
	m.mu.Unlock()

	if ctx.CallID == "" {
		return
	}
	stream, found := m.store.FindStreamByFlow(pkt.Src, pkt.Dst)
	if !found {
		stream = &storage.Stream{Src: pkt.Src, Dst: pkt.Dst, Format: ctx.Codec, FirstSeen: time.Now()}
		if err := m.store.AddStream(ctx.CallID, stream); err != nil {
			return
		}
	}
	stream.PacketCount++
	stream.Stats = storage.StreamStats{
		Expected: stats.Expected(),
		Lost:     stats.Lost(),
		SSRC:     stats.SSRC,
	}
}

// Stop instructs every input to cease and joins its worker, per spec.md
// §4.9's stop operation.
func (m *Manager) Stop() {
	m.mu.Lock()
	runs := make([]*inputRun, 0, len(m.inputs))
	for _, r := range m.inputs {
		runs = append(runs, r)
	}
	m.inputs = make(map[string]*inputRun)
	outputs := m.outputs
	m.outputs = make(map[string]CaptureOutput)
	m.mu.Unlock()

	for _, r := range runs {
		r.cancel()
		<-r.done
		r.input.Close()
		for _, c := range r.closers {
			c.Close()
		}
		if v, ok := r.parser.State(packet.ProtoIP); ok {
			if c, ok := v.(closer); ok {
				c.Close()
			}
		}
	}
	for _, o := range outputs {
		o.Close()
	}
	m.retrans.Close()
}

func tagFromHeader(header string) string {
	const key = "tag="
	idx := strings.Index(header, key)
	if idx < 0 {
		return ""
	}
	rest := header[idx+len(key):]
	if end := strings.IndexAny(rest, " ;,>"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

func payloadAfterFirstLine(data []byte) []byte {
	idx := strings.Index(string(data), "\r\n")
	if idx < 0 {
		return nil
	}
	return data[idx+2:]
}

// splitCSeq splits a "314159 INVITE"-shaped CSeq value into its sequence
// number and method. A malformed or empty value yields (0, "").
func splitCSeq(cseq string) (int, string) {
	fields := strings.Fields(cseq)
	if len(fields) != 2 {
		return 0, ""
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, ""
	}
	return n, fields[1]
}
