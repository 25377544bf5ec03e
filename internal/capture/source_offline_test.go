package capture

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

func writePcapFile(t *testing.T, path string, gz bool, payloads ...string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w io.Writer = f
	var gzw *gzip.Writer
	if gz {
		gzw = gzip.NewWriter(f)
		w = gzw
	}

	pw := pcapgo.NewWriter(w)
	require.NoError(t, pw.WriteFileHeader(65535, layers.LinkTypeEthernet))
	for _, p := range payloads {
		ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(p), Length: len(p)}
		require.NoError(t, pw.WritePacket(ci, []byte(p)))
	}
	if gzw != nil {
		require.NoError(t, gzw.Close())
	}
}

func TestOfflineInputReadsPlainPcapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.pcap")
	writePcapFile(t, path, false, "one", "two")

	in := NewOfflineInput(path)
	require.NoError(t, in.Open())
	defer in.Close()

	require.Equal(t, int(layers.LinkTypeEthernet), in.LinkType())

	raw, err := in.ReadPacket(t.Context())
	require.NoError(t, err)
	require.Equal(t, "one", string(raw.Data))

	raw, err = in.ReadPacket(t.Context())
	require.NoError(t, err)
	require.Equal(t, "two", string(raw.Data))

	_, err = in.ReadPacket(t.Context())
	require.ErrorIs(t, err, io.EOF)
}

func TestOfflineInputReadsGzippedPcapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.pcap.gz")
	writePcapFile(t, path, true, "hello")

	in := NewOfflineInput(path)
	require.NoError(t, in.Open())
	defer in.Close()

	raw, err := in.ReadPacket(t.Context())
	require.NoError(t, err)
	require.Equal(t, "hello", string(raw.Data))
}

func TestOfflineInputBPFUnsupportedOnGzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.pcap.gz")
	writePcapFile(t, path, true, "hello")

	in := NewOfflineInput(path)
	require.NoError(t, in.Open())
	defer in.Close()

	require.ErrorIs(t, in.SetBPFFilter("udp"), ErrBPFUnsupported)
}

func TestOfflineInputOpenMissingFile(t *testing.T) {
	in := NewOfflineInput(filepath.Join(t.TempDir(), "missing.pcap"))
	require.Error(t, in.Open())
}
