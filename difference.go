package partdiff

import (
	"slices"
	"sort"
	"strconv"
)

// DiffKind classifies one difference between two sides.
type DiffKind uint8

const (
	// OnlyOnLeft: the first side has a value, the second has none.
	OnlyOnLeft DiffKind = iota + 1
	// OnlyOnRight: the second side has a value, the first has none.
	OnlyOnRight
	// Contents: both sides have a value and they differ.
	Contents
)

func (k DiffKind) String() string {
	switch k {
	case OnlyOnLeft:
		return "ONLY_ON_1"
	case OnlyOnRight:
		return "ONLY_ON_2"
	case Contents:
		return "CONTENTS"
	}
	return "UNKNOWN"
}

func (k DiffKind) swap() DiffKind {
	switch k {
	case OnlyOnLeft:
		return OnlyOnRight
	case OnlyOnRight:
		return OnlyOnLeft
	}
	return k
}

// Difference is one mismatch at Path. ByteIndex is the first differing byte
// of two blobs, -1 otherwise.
type Difference struct {
	Kind      DiffKind
	Path      []string
	Left      Value
	Right     Value
	ByteIndex int

	// id identifies Path exactly; empty means Path holds plain segments.
	id string
}

// PathString renders the difference path.
func (d Difference) PathString() string { return JoinPath(d.Path) }

func (d Difference) key() string {
	if d.id != "" {
		return d.id
	}
	return pathID(d.Path)
}

// DifferenceSet maps paths to differences for one pair of records. A quick
// set accepts a single difference and then reports Done.
type DifferenceSet struct {
	quick bool
	order []string
	diffs map[string]Difference
}

func NewDifferenceSet(quick bool) *DifferenceSet {
	return &DifferenceSet{quick: quick, diffs: make(map[string]Difference)}
}

// Add records d unless the set is a finished quick set.
func (ds *DifferenceSet) Add(d Difference) {
	if ds.Done() {
		return
	}
	p := d.key()
	if _, ok := ds.diffs[p]; !ok {
		ds.order = append(ds.order, p)
	}
	ds.diffs[p] = d
}

// Done reports whether a quick set already holds its difference.
func (ds *DifferenceSet) Done() bool { return ds.quick && len(ds.diffs) > 0 }

func (ds *DifferenceSet) Quick() bool { return ds.quick }
func (ds *DifferenceSet) Len() int    { return len(ds.diffs) }
func (ds *DifferenceSet) Empty() bool { return len(ds.diffs) == 0 }

// Get returns the first difference whose rendered path is path. Map keys of
// different kinds can render alike; Differences lists them all.
func (ds *DifferenceSet) Get(path string) (Difference, bool) {
	for _, p := range ds.order {
		if d := ds.diffs[p]; d.PathString() == path {
			return d, true
		}
	}
	return Difference{}, false
}

// Differences returns the differences in the order they were found.
func (ds *DifferenceSet) Differences() []Difference {
	out := make([]Difference, 0, len(ds.order))
	for _, p := range ds.order {
		out = append(out, ds.diffs[p])
	}
	return out
}

// Swapped returns the set as seen from the other side.
func (ds *DifferenceSet) Swapped() *DifferenceSet {
	out := NewDifferenceSet(ds.quick)
	for _, p := range ds.order {
		d := ds.diffs[p]
		out.order = append(out.order, p)
		out.diffs[p] = Difference{Kind: d.Kind.swap(), Path: d.Path, Left: d.Right, Right: d.Left, ByteIndex: d.ByteIndex, id: d.id}
	}
	return out
}

// Comparer is the structural difference engine. It is safe for concurrent
// use; the rule set is read-only.
type Comparer struct {
	rules *RuleSet
}

func NewComparer(rules *RuleSet) *Comparer {
	return &Comparer{rules: rules}
}

// CompareRecords compares the bins of a and b under the rules. Paths start
// with the namespace and set of a (or b when a is nil).
func (c *Comparer) CompareRecords(a, b *Record, quick bool) *DifferenceSet {
	ds := NewDifferenceSet(quick)
	key := recordKey(a, b)
	path := NewPath(key.Namespace, key.Set)
	inherited := c.rules.Match(path.view())
	if inherited.Has(ActionIgnore) {
		return ds
	}
	c.compareBins(path, inherited, binsOf(a), binsOf(b), ds)
	return ds
}

func recordKey(a, b *Record) Key {
	if a != nil {
		return a.Key
	}
	if b != nil {
		return b.Key
	}
	return Key{}
}

func binsOf(r *Record) map[string]Value {
	if r == nil {
		return nil
	}
	return r.Bins
}

func (c *Comparer) compareBins(path *Path, inherited Action, a, b map[string]Value, ds *DifferenceSet) {
	names := make([]string, 0, len(a)+len(b))
	for n := range a {
		names = append(names, n)
	}
	for n := range b {
		if _, ok := a[n]; !ok {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if ds.Done() {
			return
		}
		path.Push(n)
		c.CompareValues(path, inherited, a[n], b[n], ds)
		path.Pop()
	}
}

// CompareValues compares a and b at path, appending to ds. inherited holds
// the actions matched by ancestors of path.
func (c *Comparer) CompareValues(path *Path, inherited Action, a, b Value, ds *DifferenceSet) {
	if ds.Done() {
		return
	}
	act := inherited | c.rules.Match(path.view())
	if act.Has(ActionIgnore) {
		return
	}

	switch {
	case a.kind == KindNull && b.kind == KindNull:
		return
	case a.kind == KindNull:
		ds.Add(Difference{Kind: OnlyOnRight, Path: path.Segments(), Right: b, ByteIndex: -1, id: path.id()})
		return
	case b.kind == KindNull:
		ds.Add(Difference{Kind: OnlyOnLeft, Path: path.Segments(), Left: a, ByteIndex: -1, id: path.id()})
		return
	case a.kind != b.kind:
		ds.Add(contentsDiff(path, a, b, -1))
		return
	}

	switch a.kind {
	case KindBool, KindInt, KindFloat, KindString:
		if !a.Equal(b) {
			ds.Add(contentsDiff(path, a, b, -1))
		}
	case KindBytes:
		if idx := firstByteMismatch(a.raw, b.raw); idx >= 0 {
			ds.Add(contentsDiff(path, a, b, idx))
		}
	case KindMap:
		c.compareMaps(path, act, a, b, ds)
	case KindList:
		if act.Has(ActionUnordered) {
			if !sameMultiset(a.list, b.list) {
				ds.Add(contentsDiff(path, a, b, -1))
			}
			return
		}
		c.compareLists(path, act, a, b, ds)
	default:
		panic("partdiff: unknown value kind " + a.kind.String())
	}
}

func contentsDiff(path *Path, a, b Value, idx int) Difference {
	return Difference{Kind: Contents, Path: path.Segments(), Left: a, Right: b, ByteIndex: idx, id: path.id()}
}

func (c *Comparer) compareMaps(path *Path, act Action, a, b Value, ds *DifferenceSet) {
	index := make(map[uint64][]int, len(b.m))
	for i, e := range b.m {
		h := HashValue(e.Key, HashOptions{})
		index[h] = append(index[h], i)
	}
	seen := make([]bool, len(b.m))
	for _, e := range a.m {
		if ds.Done() {
			return
		}
		other := Value{}
		for _, i := range index[HashValue(e.Key, HashOptions{})] {
			if !seen[i] && b.m[i].Key.Equal(e.Key) {
				seen[i] = true
				other = b.m[i].Val
				break
			}
		}
		path.PushKey(e.Key)
		c.CompareValues(path, act, e.Val, other, ds)
		path.Pop()
	}
	for i, e := range b.m {
		if ds.Done() {
			return
		}
		if seen[i] {
			continue
		}
		path.PushKey(e.Key)
		c.CompareValues(path, act, Value{}, e.Val, ds)
		path.Pop()
	}
}

func (c *Comparer) compareLists(path *Path, act Action, a, b Value, ds *DifferenceSet) {
	n := max(len(a.list), len(b.list))
	for i := 0; i < n; i++ {
		if ds.Done() {
			return
		}
		var l, r Value
		if i < len(a.list) {
			l = a.list[i]
		}
		if i < len(b.list) {
			r = b.list[i]
		}
		path.Push(strconv.Itoa(i))
		c.CompareValues(path, act, l, r, ds)
		path.Pop()
	}
}

func sameMultiset(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	ha := make([]uint64, len(a))
	hb := make([]uint64, len(b))
	opts := HashOptions{UnorderedLists: true}
	for i := range a {
		ha[i] = HashValue(a[i], opts)
		hb[i] = HashValue(b[i], opts)
	}
	slices.Sort(ha)
	slices.Sort(hb)
	return slices.Equal(ha, hb)
}

func firstByteMismatch(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
