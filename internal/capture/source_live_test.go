package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otus-sngrep/sngcore/internal/decoder"
)

func TestNewLiveInputAppliesDefaults(t *testing.T) {
	in := NewLiveInput("eth0", 0, 0, nil)
	require.Equal(t, defaultSnapLen, in.SnapLen)
	require.Equal(t, defaultBufferSize, in.BufferSize)
	require.Equal(t, decoder.LinkEthernet, in.Link)
}

func TestNewLiveInputHonorsExplicitSizes(t *testing.T) {
	in := NewLiveInput("eth0", 4096, 1<<20, nil)
	require.Equal(t, 4096, in.SnapLen)
	require.Equal(t, 1<<20, in.BufferSize)
}

func TestComputeFrameSizeAndBlocksRejectsUndersizedBuffer(t *testing.T) {
	_, _, _, err := computeFrameSizeAndBlocks(defaultSnapLen, 1024)
	require.Error(t, err)
}

func TestComputeFrameSizeAndBlocksSizesRing(t *testing.T) {
	frameSize, blockSize, numBlocks, err := computeFrameSizeAndBlocks(defaultSnapLen, defaultBufferSize)
	require.NoError(t, err)
	require.Greater(t, frameSize, 0)
	require.Equal(t, frameSize*128, blockSize)
	require.GreaterOrEqual(t, numBlocks, 1)
	require.LessOrEqual(t, numBlocks*blockSize, defaultBufferSize)
}

func TestCompileBPFValidFilter(t *testing.T) {
	raw, err := compileBPF("udp port 5060", 65535)
	require.NoError(t, err)
	require.NotEmpty(t, raw)
}

func TestCompileBPFInvalidFilter(t *testing.T) {
	_, err := compileBPF("not a real filter expression (((", 65535)
	require.Error(t, err)
}

func TestLiveInputOperationsBeforeOpenFail(t *testing.T) {
	in := NewLiveInput("eth0", 0, 0, nil)
	require.Error(t, in.SetBPFFilter("udp"))
	require.NoError(t, in.Close()) // closing an unopened input is a no-op
}
