package capture

import "errors"

var (
	// ErrBPFUnsupported is returned by SetBPFFilter on an input that has no
	// underlying pcap handle to install a filter on (e.g. an offline file
	// already fully read into memory via a plain io.Reader).
	ErrBPFUnsupported = errors.New("capture: input does not support BPF filters")

	// ErrSourceClosed is returned by ReadPacket once Close has been called.
	ErrSourceClosed = errors.New("capture: source closed")

	// ErrKeyfileEmpty, ErrKeyInitFailed, ErrKeyLoadFailed and ErrWrongAlgo
	// are the TlsKeyError variants from spec.md §7, surfaced by
	// Manager.SetKeyfile.
	ErrKeyfileEmpty  = errors.New("capture: keyfile path is empty")
	ErrKeyInitFailed = errors.New("capture: failed to decode PEM block")
	ErrKeyLoadFailed = errors.New("capture: failed to read keyfile")
	ErrWrongAlgo     = errors.New("capture: keyfile is not an RSA private key")

	// ErrDumpOpenFailed is logged (never returned to the packet pipeline)
	// when a SIGHUP-triggered reopen of the dump sink fails; the sink moves
	// to the DISABLED state per spec.md §4.10.
	ErrDumpOpenFailed = errors.New("capture: failed to reopen dump sink")
)
