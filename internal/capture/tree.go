package capture

import (
	"time"

	"github.com/otus-sngrep/sngcore/internal/decoder"
)

// TreeConfig carries the knobs the dissector tree needs that come from
// capture.* config keys, plus the TLS keyfile state Manager.SetKeyfile
// mutates at runtime.
type TreeConfig struct {
	Reassembly     decoder.ReassemblyConfig
	TCPIdleTimeout time.Duration
	TLSFlowTimeout time.Duration
	TLSServer      string // "ip:port"; empty tracks TLS on every TCP flow
}

// closer is the subset of dissectors that own a background sweep goroutine
// and must be stopped when an input shuts down.
type closer interface{ Close() }

// buildTree constructs one dissector tree for a single CaptureInput, rooted
// at the link dissector for linkType. Returns the root plus every
// sub-dissector that needs Close() called on teardown. tlsKey is consulted
// once at build time; a later Manager.SetKeyfile rebuilds the tree for
// inputs that are restarted, rather than mutating a live tree (spec.md
// §4.9 only promises "subsequent TLS connections use it").
//
// Tree shape, per spec.md §4.1:
//
//	Link -> IP -> { UDP, TCP (plain SIP), TCP -> WS, TCP -> TLS }
func buildTree(linkType decoder.LinkType, cfg TreeConfig, tlsKey *rsaKeyHolder) (decoder.Dissector, []closer) {
	var closers []closer

	udp := decoder.NewUDPDissector(nil)

	plainTCP := decoder.NewTCPDissector(decoder.SIPBoundaryDetector{}, cfg.TCPIdleTimeout, nil)
	closers = append(closers, plainTCP)

	wsTCP := decoder.NewTCPDissector(decoder.WSFrameDetector{}, cfg.TCPIdleTimeout, decoder.NewWSDissector(false))
	closers = append(closers, wsTCP)

	children := []decoder.Dissector{udp, plainTCP, wsTCP}

	if key := tlsKey.get(); key != nil {
		tlsDissector := decoder.NewTLSDissector(key, cfg.TLSFlowTimeout, cfg.TLSServer)
		closers = append(closers, tlsDissector)
		tlsTCP := decoder.NewTCPDissector(decoder.TLSRecordDetector{}, cfg.TCPIdleTimeout, tlsDissector)
		closers = append(closers, tlsTCP)
		children = append(children, tlsTCP)
	}

	ip := decoder.NewIPDissector(cfg.Reassembly, children...)
	root := decoder.NewLinkDissector(linkType, ip)
	return root, closers
}
