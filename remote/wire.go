package remote

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/unkn0wn-root/partdiff"
)

// Every frame is a 4-byte big-endian length followed by the body. Request
// bodies start with a Cmd byte, response bodies with a status byte. All
// integers are big-endian and fixed width; strings and blobs carry a uint32
// length prefix.

type Cmd uint8

const (
	CmdClose Cmd = iota + 1
	CmdTouch
	CmdGet
	CmdQueryPartition
	CmdInfoAllNodes
	CmdInfoOneNode
	CmdNodeNames
	CmdCursorNext
	CmdCursorKey
	CmdCursorRecord
	CmdCursorRecordHash
	CmdCursorMulti
	CmdCursorMultiHash
	CmdCursorClose
	CmdConfig
	CmdExists
)

var cmdNames = [...]string{
	CmdClose:            "CLOSE",
	CmdTouch:            "TOUCH",
	CmdGet:              "GET",
	CmdQueryPartition:   "QUERY_PARTITION",
	CmdInfoAllNodes:     "INFO_ALL_NODES",
	CmdInfoOneNode:      "INFO_ONE_NODE",
	CmdNodeNames:        "NODE_NAMES",
	CmdCursorNext:       "CURSOR_NEXT",
	CmdCursorKey:        "CURSOR_KEY",
	CmdCursorRecord:     "CURSOR_RECORD",
	CmdCursorRecordHash: "CURSOR_RECORD_HASH",
	CmdCursorMulti:      "CURSOR_MULTI",
	CmdCursorMultiHash:  "CURSOR_MULTI_HASH",
	CmdCursorClose:      "CURSOR_CLOSE",
	CmdConfig:           "CONFIG",
	CmdExists:           "EXISTS",
}

func (c Cmd) String() string {
	if int(c) < len(cmdNames) && cmdNames[c] != "" {
		return cmdNames[c]
	}
	return "cmd(" + strconv.Itoa(int(c)) + ")"
}

const (
	statusOK    byte = 0
	statusError byte = 1
)

const (
	configUnorderedLists byte = 1 << 0
)

const (
	windowAfter byte = 1 << iota
	windowBefore
	windowAfterInclusive
	windowBeforeInclusive
)

// encoder appends wire fields to a byte slice.
type encoder struct {
	b []byte
}

func (e *encoder) u8(v byte)    { e.b = append(e.b, v) }
func (e *encoder) u16(v uint16) { e.b = binary.BigEndian.AppendUint16(e.b, v) }
func (e *encoder) u32(v uint32) { e.b = binary.BigEndian.AppendUint32(e.b, v) }
func (e *encoder) u64(v uint64) { e.b = binary.BigEndian.AppendUint64(e.b, v) }
func (e *encoder) i64(v int64)  { e.u64(uint64(v)) }

func (e *encoder) boolean(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.b = append(e.b, s...)
}

func (e *encoder) blob(p []byte) {
	e.u32(uint32(len(p)))
	e.b = append(e.b, p...)
}

func (e *encoder) key(k partdiff.Key) {
	e.str(k.Namespace)
	e.str(k.Set)
	e.u16(uint16(len(k.Digest)))
	e.b = append(e.b, k.Digest...)
}

// record writes the presence flag and, for a non-nil record, its metadata
// and CBOR bins.
func (e *encoder) record(r *partdiff.Record) error {
	e.boolean(r != nil)
	if r == nil {
		return nil
	}
	bins, err := encodeBins(r.Bins)
	if err != nil {
		return err
	}
	e.u32(r.Generation)
	e.u32(r.Expiration)
	if r.LastUpdate.IsZero() {
		e.i64(0)
	} else {
		e.i64(r.LastUpdate.UnixNano())
	}
	e.blob(bins)
	return nil
}

func (e *encoder) window(w *partdiff.TimeWindow) {
	if w == nil {
		e.u8(0)
		return
	}
	var flags byte
	if !w.After.IsZero() {
		flags |= windowAfter
	}
	if !w.Before.IsZero() {
		flags |= windowBefore
	}
	if w.AfterInclusive {
		flags |= windowAfterInclusive
	}
	if w.BeforeInclusive {
		flags |= windowBeforeInclusive
	}
	// a zero flag byte means no window, so mark an open window explicitly
	e.u8(flags | 0x80)
	e.i64(unixNano(w.After))
	e.i64(unixNano(w.Before))
}

func (e *encoder) hashOptions(h partdiff.HashOptions) {
	var flags byte
	if h.UnorderedLists {
		flags |= configUnorderedLists
	}
	e.u8(flags)
	e.u32(uint32(len(h.IgnoreBins)))
	for _, b := range h.IgnoreBins {
		e.str(b)
	}
}

func (e *encoder) query(q partdiff.PartitionQuery) {
	e.str(q.Namespace)
	e.str(q.Set)
	e.u32(uint32(q.Partition))
	e.window(q.Window)
	e.u32(uint32(q.RecordsPerSecond))
	e.u8(byte(q.Payload))
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// decoder reads wire fields. The first short read sticks in err.
type decoder struct {
	b   []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.b) < n {
		d.err = fmt.Errorf("%w: short payload (want %d bytes, have %d)", partdiff.ErrProtocol, n, len(d.b))
		return nil
	}
	p := d.b[:n]
	d.b = d.b[n:]
	return p
}

func (d *decoder) u8() byte {
	if p := d.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if p := d.take(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if p := d.take(4); p != nil {
		return binary.BigEndian.Uint32(p)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if p := d.take(8); p != nil {
		return binary.BigEndian.Uint64(p)
	}
	return 0
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) boolean() bool { return d.u8() != 0 }

func (d *decoder) length() int {
	n := d.u32()
	if n > math.MaxInt32 {
		d.err = fmt.Errorf("%w: length %d", partdiff.ErrProtocol, n)
		return 0
	}
	return int(n)
}

func (d *decoder) str() string { return string(d.take(d.length())) }

func (d *decoder) blob() []byte {
	p := d.take(d.length())
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

func (d *decoder) key() partdiff.Key {
	k := partdiff.Key{Namespace: d.str(), Set: d.str()}
	n := int(d.u16())
	if p := d.take(n); p != nil {
		k.Digest = append(partdiff.Digest(nil), p...)
	}
	return k
}

func (d *decoder) record(key partdiff.Key) *partdiff.Record {
	if !d.boolean() {
		return nil
	}
	r := &partdiff.Record{Key: key, Generation: d.u32(), Expiration: d.u32()}
	if ns := d.i64(); ns != 0 {
		r.LastUpdate = time.Unix(0, ns)
	}
	raw := d.take(d.length())
	if d.err != nil {
		return nil
	}
	bins, err := decodeBins(raw)
	if err != nil {
		d.err = err
		return nil
	}
	r.Bins = bins
	return r
}

func (d *decoder) window() *partdiff.TimeWindow {
	flags := d.u8()
	if flags == 0 {
		return nil
	}
	after, before := d.i64(), d.i64()
	w := &partdiff.TimeWindow{
		AfterInclusive:  flags&windowAfterInclusive != 0,
		BeforeInclusive: flags&windowBeforeInclusive != 0,
	}
	if flags&windowAfter != 0 {
		w.After = time.Unix(0, after)
	}
	if flags&windowBefore != 0 {
		w.Before = time.Unix(0, before)
	}
	return w
}

func (d *decoder) hashOptions() partdiff.HashOptions {
	h := partdiff.HashOptions{UnorderedLists: d.u8()&configUnorderedLists != 0}
	n := d.length()
	for i := 0; i < n && d.err == nil; i++ {
		h.IgnoreBins = append(h.IgnoreBins, d.str())
	}
	return h
}

func (d *decoder) query() partdiff.PartitionQuery {
	return partdiff.PartitionQuery{
		Namespace:        d.str(),
		Set:              d.str(),
		Partition:        int(d.u32()),
		Window:           d.window(),
		RecordsPerSecond: int(d.u32()),
		Payload:          partdiff.Payload(d.u8()),
	}
}

// done fails when bytes are left over.
func (d *decoder) done() error {
	if d.err == nil && len(d.b) > 0 {
		d.err = fmt.Errorf("%w: %d trailing bytes", partdiff.ErrProtocol, len(d.b))
	}
	return d.err
}
