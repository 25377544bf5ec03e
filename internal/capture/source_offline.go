package capture

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

// OfflineInput reads packets from a pcap file, a gzip'ed pcap file, or
// stdin ("-"), per spec.md §6.1. A plain file uses gopacket/pcap's
// OpenOffline directly (grounded on the teacher's internal/source/file
// FileSource), which also supports BPF filters; a gzip'ed file or stdin
// goes through pcapgo.NewReader over a plain io.Reader instead, since
// pcap.OpenOffline only accepts a file path and libpcap itself can't
// install a filter on an arbitrary io.Reader.
type OfflineInput struct {
	Path string

	handle *pcap.Handle // set when Path is a plain, seekable pcap file
	reader *pcapgo.Reader
	file   *os.File
	gz     *gzip.Reader
	link   int
}

func NewOfflineInput(path string) *OfflineInput { return &OfflineInput{Path: path} }

func (o *OfflineInput) Open() error {
	switch {
	case o.Path == "-":
		r, err := pcapgo.NewReader(os.Stdin)
		if err != nil {
			return fmt.Errorf("capture: reading pcap header from stdin: %w", err)
		}
		o.reader = r
		o.link = int(r.LinkType())
		return nil

	case strings.HasSuffix(o.Path, ".gz"):
		f, err := os.Open(o.Path)
		if err != nil {
			return fmt.Errorf("capture: opening %s: %w", o.Path, err)
		}
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return fmt.Errorf("capture: gzip header in %s: %w", o.Path, err)
		}
		r, err := pcapgo.NewReader(gz)
		if err != nil {
			gz.Close()
			f.Close()
			return fmt.Errorf("capture: pcap header in %s: %w", o.Path, err)
		}
		o.file = f
		o.gz = gz
		o.reader = r
		o.link = int(r.LinkType())
		return nil

	default:
		h, err := pcap.OpenOffline(o.Path)
		if err != nil {
			return fmt.Errorf("capture: opening %s: %w", o.Path, err)
		}
		o.handle = h
		o.link = int(h.LinkType())
		return nil
	}
}

func (o *OfflineInput) ReadPacket(ctx context.Context) (RawPacket, error) {
	select {
	case <-ctx.Done():
		return RawPacket{}, ctx.Err()
	default:
	}

	var data []byte
	var ci gopacket.CaptureInfo
	var err error
	switch {
	case o.handle != nil:
		data, ci, err = o.handle.ReadPacketData()
	case o.reader != nil:
		data, ci, err = o.reader.ReadPacketData()
	default:
		return RawPacket{}, fmt.Errorf("capture: offline input not opened")
	}
	if err != nil {
		if err == io.EOF {
			return RawPacket{}, io.EOF
		}
		return RawPacket{}, err
	}
	return RawPacket{Timestamp: ci.Timestamp, CapturedLen: ci.CaptureLength, WireLen: ci.Length, Data: data}, nil
}

func (o *OfflineInput) LinkType() int { return o.link }

// SetBPFFilter is only available on a plain (non-gzip, non-stdin) pcap
// file, since pcap.Handle is the only reader here with its own BPF
// installer.
func (o *OfflineInput) SetBPFFilter(expr string) error {
	if o.handle == nil {
		return ErrBPFUnsupported
	}
	return o.handle.SetBPFFilter(expr)
}

func (o *OfflineInput) Close() error {
	if o.handle != nil {
		o.handle.Close()
		o.handle = nil
	}
	if o.gz != nil {
		o.gz.Close()
		o.gz = nil
	}
	if o.file != nil {
		o.file.Close()
		o.file = nil
	}
	return nil
}
