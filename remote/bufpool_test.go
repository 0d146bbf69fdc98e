package remote

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFramePoolGetPut(t *testing.T) {
	fp := newFramePool(6, 7)

	b := fp.get(50)
	require.Len(t, b, 50)
	require.Equal(t, 64, cap(b))
	fp.put(b)

	big := fp.get(256)
	require.Len(t, big, 256)
	require.Equal(t, 256, cap(big))
	fp.put(big)

	// odd capacities are not pooled
	fp.put(make([]byte, 100))
}

func TestFramePoolClass(t *testing.T) {
	fp := newFramePool(6, 7)
	for n, want := range map[int]int{0: 0, 1: 0, 64: 0, 65: 1, 128: 1, 129: -1} {
		require.Equal(t, want, fp.class(n), "class(%d)", n)
	}
}
