package address

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEqualityPredicates(t *testing.T) {
	a, err := New("10.0.0.1", 5060)
	require.NoError(t, err)
	b, err := New("10.0.0.1", 5061)
	require.NoError(t, err)
	c, err := New("10.0.0.2", 5060)
	require.NoError(t, err)

	require.True(t, a.SameIP(b))
	require.False(t, a.Equal(b))
	require.False(t, a.SameIP(c))
}

func TestString(t *testing.T) {
	a, err := New("192.0.2.10", 5060)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.10:5060", a.String())
}

func TestIsLocalCachesInterfaceScan(t *testing.T) {
	ResetLocalCache()
	t.Cleanup(ResetLocalCache)

	loopback, err := New("127.0.0.1", 0)
	require.NoError(t, err)

	local, err := loopback.IsLocal()
	require.NoError(t, err)
	require.True(t, local)

	// Second call must hit the cache, not rescan.
	local, err = loopback.IsLocal()
	require.NoError(t, err)
	require.True(t, local)
}
