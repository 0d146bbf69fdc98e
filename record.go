package partdiff

import (
	"sort"
	"time"
)

// Record is a key plus its bins.
type Record struct {
	Key        Key
	Generation uint32
	Expiration uint32
	LastUpdate time.Time
	Bins       map[string]Value
}

// BinNames returns the record's bin names sorted.
func (r *Record) BinNames() []string {
	names := make([]string, 0, len(r.Bins))
	for n := range r.Bins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RecordMeta is the per-side metadata attached to difference reports.
type RecordMeta struct {
	Generation uint32
	Expiration uint32
	LastUpdate time.Time
}

// Meta extracts the metadata of r; nil records yield nil.
func (r *Record) Meta() *RecordMeta {
	if r == nil {
		return nil
	}
	return &RecordMeta{Generation: r.Generation, Expiration: r.Expiration, LastUpdate: r.LastUpdate}
}

// TimeWindow selects records by last-update time. A zero bound is open.
type TimeWindow struct {
	After           time.Time
	Before          time.Time
	AfterInclusive  bool
	BeforeInclusive bool
}

// Contains reports whether t falls inside the window.
func (w *TimeWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	if !w.After.IsZero() {
		if t.Before(w.After) || (!w.AfterInclusive && t.Equal(w.After)) {
			return false
		}
	}
	if !w.Before.IsZero() {
		if t.After(w.Before) || (!w.BeforeInclusive && t.Equal(w.Before)) {
			return false
		}
	}
	return true
}
