package partdiff

import (
	"math"
	"testing"
)

var testValues = []Value{
	Null(),
	Bool(true),
	Int(42),
	Float(42),
	String("42"),
	Bytes([]byte("42")),
	List(Int(1), Int(2)),
	List(Int(2), Int(1)),
	Map(Entry(String("a"), Int(1))),
}

// Test that hashing is deterministic
func TestHashConsistency(t *testing.T) {
	for _, v := range testValues {
		h1 := HashValue(v, HashOptions{})
		h2 := HashValue(v, HashOptions{})
		if h1 != h2 {
			t.Errorf("hash not consistent for %v: got %v and %v", v, h1, h2)
		}
	}
}

// Values of different kinds or content must not collide
func TestHashDistribution(t *testing.T) {
	seen := make(map[uint64]Value)
	for _, v := range testValues {
		h := HashValue(v, HashOptions{})
		if prev, ok := seen[h]; ok {
			t.Errorf("hash collision: %v (%s) and %v (%s)", v, v.Kind(), prev, prev.Kind())
		}
		seen[h] = v
	}
}

func TestHashIgnoresMapOrder(t *testing.T) {
	a := Map(Entry(String("x"), Int(1)), Entry(String("y"), List(Int(1), Int(2))))
	b := Map(Entry(String("y"), List(Int(1), Int(2))), Entry(String("x"), Int(1)))
	if HashValue(a, HashOptions{}) != HashValue(b, HashOptions{}) {
		t.Fatalf("map hash depends on entry order")
	}
}

func TestHashUnorderedLists(t *testing.T) {
	a := List(Int(1), Map(Entry(String("k"), List(String("p"), String("q")))), Int(3))
	b := List(Int(3), Int(1), Map(Entry(String("k"), List(String("q"), String("p")))))

	if HashValue(a, HashOptions{}) == HashValue(b, HashOptions{}) {
		t.Fatalf("ordered hash should see reordering")
	}
	if HashValue(a, HashOptions{UnorderedLists: true}) != HashValue(b, HashOptions{UnorderedLists: true}) {
		t.Fatalf("unordered hash should ignore reordering at every depth")
	}
	c := List(Int(1), Int(1), Int(3))
	d := List(Int(1), Int(3), Int(3))
	if HashValue(c, HashOptions{UnorderedLists: true}) == HashValue(d, HashOptions{UnorderedLists: true}) {
		t.Fatalf("multiset hash must count duplicates")
	}
}

func TestHashRecordIgnoreBins(t *testing.T) {
	r1 := &Record{Bins: map[string]Value{"name": String("Tim"), "seen": Int(1)}}
	r2 := &Record{Bins: map[string]Value{"name": String("Tim"), "seen": Int(2)}, Generation: 7}

	if HashRecord(r1, HashOptions{}) == HashRecord(r2, HashOptions{}) {
		t.Fatalf("records with different bins hash equal")
	}
	opts := HashOptions{IgnoreBins: []string{"seen"}}
	if HashRecord(r1, opts) != HashRecord(r2, opts) {
		t.Fatalf("ignored bin still contributes to the hash")
	}
}

// Floats that Equal treats as one must hash as one.
func TestHashFollowsFloatEquality(t *testing.T) {
	negZero := math.Copysign(0, -1)
	otherNaN := math.Float64frombits(0x7ff8000000000abc)
	pairs := [][2]Value{
		{Float(0), Float(negZero)},
		{Float(math.NaN()), Float(otherNaN)},
		{List(Float(0)), List(Float(negZero))},
	}
	for _, p := range pairs {
		if !p[0].Equal(p[1]) {
			t.Fatalf("%v and %v should be equal", p[0], p[1])
		}
		for _, opts := range []HashOptions{{}, {UnorderedLists: true}} {
			if HashValue(p[0], opts) != HashValue(p[1], opts) {
				t.Errorf("hash of %v and %v differs (unordered=%v)", p[0], p[1], opts.UnorderedLists)
			}
		}
	}

	unordered := NewComparer(NewRuleSet(Rule{Pattern: MustPattern("/test/compSet/l"), Action: ActionUnordered}))
	a := testRecord(map[string]Value{"l": List(Float(0), Float(math.NaN()))})
	b := testRecord(map[string]Value{"l": List(Float(otherNaN), Float(negZero))})
	if ds := unordered.CompareRecords(a, b, false); !ds.Empty() {
		t.Fatalf("unordered compare reported %v", ds.Differences())
	}
	if ds := NewComparer(nil).CompareRecords(a, b, false); ds.Len() != 2 {
		t.Fatalf("positional compare: want 2 differences, got %d", ds.Len())
	}
}
