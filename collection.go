package partdiff

import (
	"slices"
	"sort"
)

// BinDifference summarises one top-level bin of a record across clusters.
type BinDifference struct {
	Bin string
	// MissingOn lists clusters holding the record but not the bin.
	MissingOn []int
	// Groups partitions the clusters holding the bin by identical value.
	Groups [][]int
	// Diffs holds the pairwise differences under this bin.
	Diffs map[Pair][]Difference
	// Partial is set when a quick comparison stopped before reaching this
	// bin for some pair; Groups then only separates clusters known to differ.
	Partial bool
}

// Missing reports whether the bin is absent somewhere the record exists.
func (b *BinDifference) Missing() bool { return len(b.MissingOn) > 0 }

// Pair names two clusters, Left < Right.
type Pair struct {
	Left  int
	Right int
}

func MakePair(i, j int) Pair {
	if i > j {
		i, j = j, i
	}
	return Pair{Left: i, Right: j}
}

// DifferenceCollection aggregates the pairwise difference sets of one record
// over several clusters and regroups them by top-level bin.
type DifferenceCollection struct {
	clusters int
	present  []bool
	bins     map[string][]bool
	pairs    map[Pair]*DifferenceSet
	same     *unionFind
}

func NewCollection(clusters int) *DifferenceCollection {
	return &DifferenceCollection{
		clusters: clusters,
		present:  make([]bool, clusters),
		bins:     make(map[string][]bool),
		pairs:    make(map[Pair]*DifferenceSet),
		same:     newUnionFind(clusters),
	}
}

// AddRecord registers the record seen on cluster i; nil means absent.
func (c *DifferenceCollection) AddRecord(i int, r *Record) {
	if r == nil {
		return
	}
	c.present[i] = true
	for name := range r.Bins {
		has, ok := c.bins[name]
		if !ok {
			has = make([]bool, c.clusters)
			c.bins[name] = has
		}
		has[i] = true
	}
}

// AddPair stores the difference set of clusters i and j, oriented so that
// "left" is i. An empty set marks the two records as identical.
func (c *DifferenceCollection) AddPair(i, j int, ds *DifferenceSet) {
	p := MakePair(i, j)
	if p.Left != i {
		ds = ds.Swapped()
	}
	c.pairs[p] = ds
	if ds.Empty() {
		c.same.union(i, j)
	}
}

// MarkSame records that clusters i and j hold identical content without a
// detailed difference set (hash comparison).
func (c *DifferenceCollection) MarkSame(i, j int) { c.same.union(i, j) }

// Present lists the clusters the record was registered on.
func (c *DifferenceCollection) Present() []int {
	var out []int
	for i, ok := range c.present {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// MissingOn lists the clusters lacking the record.
func (c *DifferenceCollection) MissingOn() []int {
	var out []int
	for i, ok := range c.present {
		if !ok {
			out = append(out, i)
		}
	}
	return out
}

// Groups partitions the clusters holding the record by identical content.
func (c *DifferenceCollection) Groups() [][]int {
	return c.same.groups(c.Present())
}

// Differs reports whether the clusters holding the record disagree.
func (c *DifferenceCollection) Differs() bool { return len(c.Groups()) > 1 }

// Pair returns the difference set stored for clusters i and j, oriented i→j.
func (c *DifferenceCollection) Pair(i, j int) (*DifferenceSet, bool) {
	ds, ok := c.pairs[MakePair(i, j)]
	if !ok {
		return nil, false
	}
	if i > j {
		return ds.Swapped(), true
	}
	return ds, true
}

// Bins returns the bins that differ somewhere, sorted by name. Bins with the
// same value everywhere are omitted, and so are bins no difference was
// recorded for when quick comparisons left them unexamined.
func (c *DifferenceCollection) Bins() []*BinDifference {
	perBin := make(map[string]map[Pair][]Difference)
	for p, ds := range c.pairs {
		for _, d := range ds.Differences() {
			if len(d.Path) < 3 {
				continue
			}
			bin := d.Path[2]
			m := perBin[bin]
			if m == nil {
				m = make(map[Pair][]Difference)
				perBin[bin] = m
			}
			m[p] = append(m[p], d)
		}
	}

	names := make([]string, 0, len(c.bins))
	for name := range c.bins {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []*BinDifference
	for _, name := range names {
		has := c.bins[name]
		bd := &BinDifference{Bin: name, Diffs: perBin[name]}
		var holders []int
		for i := 0; i < c.clusters; i++ {
			switch {
			case has[i]:
				holders = append(holders, i)
			case c.present[i]:
				bd.MissingOn = append(bd.MissingOn, i)
			}
		}
		uf := newUnionFind(c.clusters)
		for p, ds := range c.pairs {
			if !has[p.Left] || !has[p.Right] {
				continue
			}
			if _, differs := perBin[name][p]; differs {
				continue
			}
			// a finished quick set says nothing about the bins it skipped
			if ds.Quick() && !ds.Empty() {
				bd.Partial = true
				continue
			}
			uf.union(p.Left, p.Right)
		}
		if len(bd.MissingOn) == 0 && len(bd.Diffs) == 0 {
			continue
		}
		bd.Groups = uf.groups(holders)
		if len(bd.MissingOn) == 0 && len(bd.Groups) <= 1 {
			continue
		}
		out = append(out, bd)
	}
	return out
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri == rj {
		return
	}
	if ri < rj {
		u.parent[rj] = ri
	} else {
		u.parent[ri] = rj
	}
}

// groups partitions members by root, ordered by their smallest member.
func (u *unionFind) groups(members []int) [][]int {
	byRoot := make(map[int][]int)
	var roots []int
	for _, m := range members {
		r := u.find(m)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], m)
	}
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		g := byRoot[r]
		slices.Sort(g)
		out = append(out, g)
	}
	sort.Slice(out, func(a, b int) bool { return out[a][0] < out[b][0] })
	return out
}
