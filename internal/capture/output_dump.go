package capture

import (
	"compress/gzip"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/otus-sngrep/sngcore/internal/otuslog"
	"github.com/otus-sngrep/sngcore/internal/packet"
)

// dumpState implements the CLOSED/OPEN/REOPENING/DISABLED state machine
// from spec.md §4.10.
type dumpState int

const (
	dumpClosed dumpState = iota
	dumpOpen
	dumpReopening
	dumpDisabled
)

// DumpOutput is a rotating pcap (optionally gzip'ed) sink. On SIGHUP, if
// the file at path has a different inode than the one this sink currently
// holds open — meaning some external process (logrotate, the operator)
// renamed it out from under us — the sink closes and reopens by path,
// resuming writes to the new file. A failed reopen disables the sink
// rather than crashing the capture pipeline, per spec.md §7's
// DumpOpenError handling.
type DumpOutput struct {
	mu      sync.Mutex
	path    string
	snaplen int
	log     otuslog.Logger

	state dumpState
	file  *os.File
	gz    *gzip.Writer
	pw    *pcapgo.Writer
	inode uint64

	stopSighup chan struct{}
}

// NewDumpOutput opens path for writing, applying transparent gzip when the
// path ends in ".gz" (spec.md §4.9's set_dumper).
func NewDumpOutput(path string, snaplen int, log otuslog.Logger) (*DumpOutput, error) {
	d := &DumpOutput{path: path, snaplen: snaplen, log: log}
	if err := d.openLocked(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DumpOutput) openLocked() error {
	f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		d.state = dumpDisabled
		return fmt.Errorf("%w: %v", ErrDumpOpenFailed, err)
	}

	var w = interface {
		Write([]byte) (int, error)
	}(f)
	var gz *gzip.Writer
	if strings.HasSuffix(d.path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(uint32(d.snaplen), layers.LinkTypeEthernet); err != nil {
		f.Close()
		d.state = dumpDisabled
		return fmt.Errorf("%w: %v", ErrDumpOpenFailed, err)
	}

	d.file = f
	d.gz = gz
	d.pw = pw
	d.state = dumpOpen
	d.inode = inodeOf(f)
	return nil
}

// Write appends every on-wire Frame carried by pkt as its own pcap record.
// A Packet produced by TCP reassembly carries only the Frame of the segment
// that completed it, so the earlier segments of that message are not
// written.
func (d *DumpOutput) Write(pkt *packet.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != dumpOpen {
		return nil
	}
	for _, f := range pkt.Frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     f.Timestamp,
			CaptureLength: f.CapturedLen,
			Length:        f.WireLen,
		}
		if err := d.pw.WritePacket(ci, f.Bytes); err != nil {
			return err
		}
	}
	return nil
}

// HandleSIGHUP implements the OPEN -> REOPENING -> {OPEN, DISABLED}
// transition of spec.md §4.10.
func (d *DumpOutput) HandleSIGHUP() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != dumpOpen {
		return
	}

	st, err := os.Stat(d.path)
	if err == nil && inodeOfStat(st) == d.inode {
		return // not rotated externally; nothing to do
	}

	d.state = dumpReopening
	d.closeHandlesLocked()
	if err := d.openLocked(); err != nil {
		d.state = dumpDisabled
		if d.log != nil {
			d.log.WithError(err).Error("dump sink reopen after SIGHUP failed, disabling")
		}
	}
}

// WatchSIGHUP starts a goroutine calling HandleSIGHUP on every SIGHUP until
// stop is closed.
func (d *DumpOutput) WatchSIGHUP(stop <-chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	d.stopSighup = make(chan struct{})
	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				d.HandleSIGHUP()
			case <-stop:
				return
			case <-d.stopSighup:
				return
			}
		}
	}()
}

func (d *DumpOutput) closeHandlesLocked() {
	if d.gz != nil {
		d.gz.Close()
	}
	if d.file != nil {
		d.file.Close()
	}
}

// Close flushes and closes the sink. Safe to call once.
func (d *DumpOutput) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopSighup != nil {
		close(d.stopSighup)
	}
	d.closeHandlesLocked()
	d.state = dumpClosed
	return nil
}

func inodeOf(f *os.File) uint64 {
	st, err := f.Stat()
	if err != nil {
		return 0
	}
	return inodeOfStat(st)
}

func inodeOfStat(st os.FileInfo) uint64 {
	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		return sys.Ino
	}
	return 0
}
