package remote

import (
	"math/bits"
	"sync"

	"github.com/unkn0wn-root/partdiff/internal/mathutil"
)

// framePool recycles frame bodies in power-of-two size classes between
// 1<<minShift and 1<<maxShift. Larger frames are allocated exactly and
// dropped after use.
type framePool struct {
	minShift int
	maxShift int
	pools    []sync.Pool
}

var frames = newFramePool(10, 18)

func newFramePool(minShift, maxShift int) *framePool {
	fp := &framePool{
		minShift: minShift,
		maxShift: maxShift,
		pools:    make([]sync.Pool, maxShift-minShift+1),
	}
	for i := range fp.pools {
		size := 1 << (minShift + i)
		fp.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return fp
}

// class returns the index of the smallest class holding n bytes, or -1.
func (fp *framePool) class(n int) int {
	shift := bits.TrailingZeros(uint(mathutil.NextPowerOf2(n)))
	switch {
	case shift < fp.minShift:
		return 0
	case shift > fp.maxShift:
		return -1
	}
	return shift - fp.minShift
}

// get returns a slice of length n.
func (fp *framePool) get(n int) []byte {
	if i := fp.class(n); i >= 0 {
		return (*fp.pools[i].Get().(*[]byte))[:n]
	}
	return make([]byte, n)
}

// put recycles b when its capacity matches a size class exactly.
func (fp *framePool) put(b []byte) {
	c := cap(b)
	i := fp.class(c)
	if i < 0 || 1<<(fp.minShift+i) != c {
		return
	}
	b = b[:c]
	fp.pools[i].Put(&b)
}
