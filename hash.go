package partdiff

import (
	"bytes"
	"encoding/binary"
	"math"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// HashOptions tune content hashing.
type HashOptions struct {
	// UnorderedLists hashes lists as multisets.
	UnorderedLists bool
	// IgnoreBins are left out of record hashes.
	IgnoreBins []string
}

// HashValue returns a content hash of v. Map entries never contribute their
// order; list order counts unless opts.UnorderedLists is set.
func HashValue(v Value, opts HashOptions) uint64 {
	d := xxhash.New()
	hashInto(d, v, opts.UnorderedLists)
	return d.Sum64()
}

// HashRecord hashes the bins of r, sorted by name. Generation, expiration
// and last-update time are not part of the content.
func HashRecord(r *Record, opts HashOptions) uint64 {
	d := xxhash.New()
	if r == nil {
		return d.Sum64()
	}
	for _, name := range r.BinNames() {
		if slices.Contains(opts.IgnoreBins, name) {
			continue
		}
		writeLen(d, len(name))
		_, _ = d.WriteString(name)
		hashInto(d, r.Bins[name], opts.UnorderedLists)
	}
	return d.Sum64()
}

func hashInto(d *xxhash.Digest, v Value, unordered bool) {
	var tag [1]byte
	tag[0] = byte(v.kind)
	_, _ = d.Write(tag[:])

	var buf [8]byte
	switch v.kind {
	case KindNull:
	case KindBool:
		if v.b {
			buf[0] = 1
		}
		_, _ = d.Write(buf[:1])
	case KindInt:
		binary.BigEndian.PutUint64(buf[:], uint64(v.i))
		_, _ = d.Write(buf[:])
	case KindFloat:
		binary.BigEndian.PutUint64(buf[:], floatBits(v.f))
		_, _ = d.Write(buf[:])
	case KindString:
		writeLen(d, len(v.s))
		_, _ = d.WriteString(v.s)
	case KindBytes:
		writeLen(d, len(v.raw))
		_, _ = d.Write(v.raw)
	case KindList:
		writeLen(d, len(v.list))
		if !unordered {
			for _, it := range v.list {
				hashInto(d, it, unordered)
			}
			return
		}
		hs := make([]uint64, len(v.list))
		for i, it := range v.list {
			hs[i] = subHash(it, unordered)
		}
		writeSorted(d, hs)
	case KindMap:
		writeLen(d, len(v.m))
		hs := make([]uint64, len(v.m))
		for i, e := range v.m {
			sub := xxhash.New()
			hashInto(sub, e.Key, unordered)
			hashInto(sub, e.Val, unordered)
			hs[i] = sub.Sum64()
		}
		writeSorted(d, hs)
	default:
		panic("partdiff: unknown value kind " + v.kind.String())
	}
}

func subHash(v Value, unordered bool) uint64 {
	d := xxhash.New()
	hashInto(d, v, unordered)
	return d.Sum64()
}

func writeSorted(d *xxhash.Digest, hs []uint64) {
	slices.Sort(hs)
	var buf [8]byte
	for _, h := range hs {
		binary.BigEndian.PutUint64(buf[:], h)
		_, _ = d.Write(buf[:])
	}
}

func writeLen(d *xxhash.Digest, n int) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	_, _ = d.Write(buf[:])
}

// floatBits folds the values Equal treats as one: -0 onto 0 and every NaN
// onto a single payload.
func floatBits(f float64) uint64 {
	switch {
	case f == 0:
		return 0
	case math.IsNaN(f):
		return 0x7ff8000000000001
	}
	return math.Float64bits(f)
}

// appendCanonical appends an exact encoding of v: equal values encode alike
// and unequal values never do.
func appendCanonical(b []byte, v Value) []byte {
	b = append(b, byte(v.kind))
	switch v.kind {
	case KindNull:
	case KindBool:
		if v.b {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case KindInt:
		b = binary.BigEndian.AppendUint64(b, uint64(v.i))
	case KindFloat:
		b = binary.BigEndian.AppendUint64(b, floatBits(v.f))
	case KindString:
		b = binary.AppendUvarint(b, uint64(len(v.s)))
		b = append(b, v.s...)
	case KindBytes:
		b = binary.AppendUvarint(b, uint64(len(v.raw)))
		b = append(b, v.raw...)
	case KindList:
		b = binary.AppendUvarint(b, uint64(len(v.list)))
		for _, it := range v.list {
			b = appendCanonical(b, it)
		}
	case KindMap:
		entries := make([][]byte, len(v.m))
		for i, e := range v.m {
			entries[i] = appendCanonical(appendCanonical(nil, e.Key), e.Val)
		}
		slices.SortFunc(entries, bytes.Compare)
		b = binary.AppendUvarint(b, uint64(len(entries)))
		for _, e := range entries {
			b = binary.AppendUvarint(b, uint64(len(e)))
			b = append(b, e...)
		}
	default:
		panic("partdiff: unknown value kind " + v.kind.String())
	}
	return b
}
