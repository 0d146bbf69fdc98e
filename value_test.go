package partdiff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"n":    nil,
		"i":    7,
		"u":    uint32(8),
		"f":    2.5,
		"s":    "x",
		"b":    []byte{1},
		"l":    []any{1, "two"},
		"m":    map[any]any{1: true},
		"bool": false,
	})
	require.NoError(t, err)
	require.Equal(t, KindMap, v.Kind())

	got, ok := v.Lookup(String("l"))
	require.True(t, ok)
	require.True(t, got.Equal(List(Int(1), String("two"))))

	got, ok = v.Lookup(String("m"))
	require.True(t, ok)
	inner, ok := got.Lookup(Int(1))
	require.True(t, ok)
	require.True(t, inner.Equal(Bool(true)))

	_, err = FromAny(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedValue)
	_, err = FromAny(uint64(1) << 63)
	require.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestValueEqualMapOrder(t *testing.T) {
	a := Map(Entry(String("a"), Int(1)), Entry(String("b"), Int(2)))
	b := Map(Entry(String("b"), Int(2)), Entry(String("a"), Int(1)))
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(Map(Entry(String("a"), Int(1)))))
	require.False(t, Int(1).Equal(Float(1)))
	require.Equal(t, "{a: 1, b: 2}", b.String())
}

func TestStreamOrderIsUnsignedDescending(t *testing.T) {
	lo := Digest{0x01, 0x00}
	hi := Digest{0x80, 0x00}
	top := Digest{0xff, 0x00}

	require.Negative(t, StreamOrder(hi, lo), "0x80 must stream before 0x01")
	require.Negative(t, StreamOrder(top, hi))
	require.Positive(t, StreamOrder(lo, top))
	require.Zero(t, StreamOrder(lo, Digest{0x01, 0x00}))
}

func TestPartitionOf(t *testing.T) {
	require.Equal(t, 0x0201, PartitionOf(Digest{0x01, 0x02, 0xff}))
	require.Equal(t, 0x0fff, PartitionOf(Digest{0xff, 0xff}))
	require.NoError(t, ValidatePartition(4095))
	require.ErrorIs(t, ValidatePartition(4096), ErrInvalidPartition)
	require.ErrorIs(t, ValidatePartition(-1), ErrInvalidPartition)
}

func TestTimeWindow(t *testing.T) {
	base := time.Unix(1000, 0)
	w := &TimeWindow{After: base, Before: base.Add(time.Minute), AfterInclusive: true}
	require.True(t, w.Contains(base))
	require.True(t, w.Contains(base.Add(time.Second)))
	require.False(t, w.Contains(base.Add(time.Minute)))
	require.False(t, w.Contains(base.Add(-time.Second)))

	var open *TimeWindow
	require.True(t, open.Contains(base))
}
