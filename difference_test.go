package partdiff

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testRecord(bins map[string]Value) *Record {
	return &Record{
		Key:  Key{Namespace: "test", Set: "compSet", Digest: Digest{0x01, 0x02}},
		Bins: bins,
	}
}

func richBins() map[string]Value {
	return map[string]Value{
		"name":  String("Tim"),
		"age":   Int(312),
		"score": Float(1.5),
		"blob":  Bytes([]byte{1, 2, 3}),
		"tags":  List(String("a"), String("b")),
		"prefs": Map(
			Entry(String("color"), String("red")),
			Entry(Int(7), List(Int(1), Map(Entry(Bytes([]byte{9}), Null())))),
		),
	}
}

func TestCompareSelfIsEmpty(t *testing.T) {
	c := NewComparer(nil)
	r := testRecord(richBins())
	require.True(t, c.CompareRecords(r, r, false).Empty())
	require.True(t, c.CompareRecords(r, testRecord(richBins()), true).Empty())
}

func TestCompareEndToEndScenario(t *testing.T) {
	c := NewComparer(nil)
	a := testRecord(map[string]Value{"name": String("Tim"), "age": Int(312)})
	b := testRecord(map[string]Value{"name": String("Tim"), "age": Int(313)})

	ds := c.CompareRecords(a, b, false)
	require.Equal(t, 1, ds.Len())
	d, ok := ds.Get("/test/compSet/age")
	require.True(t, ok)
	require.Equal(t, Contents, d.Kind)
	require.Equal(t, int64(312), d.Left.AsInt())
	require.Equal(t, int64(313), d.Right.AsInt())
}

func TestCompareSymmetry(t *testing.T) {
	c := NewComparer(nil)
	a := richBins()
	b := richBins()
	b["age"] = Int(1)
	b["extra"] = Bool(true)
	delete(b, "score")
	b["blob"] = Bytes([]byte{1, 2, 4, 5})
	b["tags"] = List(String("a"))
	b["prefs"] = Map(Entry(String("color"), String("blue")))

	ab := c.CompareRecords(testRecord(a), testRecord(b), false)
	ba := c.CompareRecords(testRecord(b), testRecord(a), false)
	require.Equal(t, ab.Len(), ba.Len())

	for _, d := range ab.Differences() {
		other, ok := ba.Get(d.PathString())
		require.True(t, ok, "missing %s in reverse comparison", d.PathString())
		require.Equal(t, d.Kind.swap(), other.Kind)
		require.True(t, d.Left.Equal(other.Right))
		require.True(t, d.Right.Equal(other.Left))
	}

	opts := cmp.Options{
		cmp.Comparer(func(x, y Value) bool { return x.Equal(y) }),
		cmp.AllowUnexported(Difference{}),
	}
	if diff := cmp.Diff(ab.Differences(), ba.Swapped().Differences(), opts); diff != "" {
		t.Fatalf("swapped reverse differs (-ab +ba):\n%s", diff)
	}
}

func TestCompareKinds(t *testing.T) {
	c := NewComparer(nil)
	ds := c.CompareRecords(
		testRecord(map[string]Value{"a": Int(1), "b": String("x"), "c": Null()}),
		testRecord(map[string]Value{"a": String("1"), "c": Int(3)}),
		false,
	)
	a, _ := ds.Get("/test/compSet/a")
	require.Equal(t, Contents, a.Kind)
	b, _ := ds.Get("/test/compSet/b")
	require.Equal(t, OnlyOnLeft, b.Kind)
	cc, _ := ds.Get("/test/compSet/c")
	require.Equal(t, OnlyOnRight, cc.Kind)
	require.Equal(t, 3, ds.Len())
}

func TestCompareBlobByteIndex(t *testing.T) {
	c := NewComparer(nil)
	ds := NewDifferenceSet(false)
	c.CompareValues(NewPath("ns", "set", "blob"), 0, Bytes([]byte{1, 2, 3, 4}), Bytes([]byte{1, 2, 9, 4}), ds)
	d, ok := ds.Get("/ns/set/blob")
	require.True(t, ok)
	require.Equal(t, 2, d.ByteIndex)

	ds = NewDifferenceSet(false)
	c.CompareValues(NewPath("ns", "set", "blob"), 0, Bytes([]byte{1, 2}), Bytes([]byte{1, 2, 3}), ds)
	d, _ = ds.Get("/ns/set/blob")
	require.Equal(t, 2, d.ByteIndex)
}

func TestCompareMapKeyOnOneSide(t *testing.T) {
	c := NewComparer(nil)
	ds := NewDifferenceSet(false)
	a := Map(Entry(String("k1"), Int(1)), Entry(String("k2"), Int(2)))
	b := Map(Entry(String("k2"), Int(2)), Entry(String("k3"), Int(3)))
	c.CompareValues(NewPath("ns", "set", "m"), 0, a, b, ds)

	require.Equal(t, 2, ds.Len())
	d1, _ := ds.Get("/ns/set/m/k1")
	require.Equal(t, OnlyOnLeft, d1.Kind)
	d3, _ := ds.Get("/ns/set/m/k3")
	require.Equal(t, OnlyOnRight, d3.Kind)
}

func TestCompareListLengthMismatch(t *testing.T) {
	c := NewComparer(nil)
	ds := NewDifferenceSet(false)
	c.CompareValues(NewPath("ns", "set", "l"), 0, List(Int(1), Int(2), Int(3)), List(Int(1)), ds)
	require.Equal(t, 2, ds.Len())
	d, _ := ds.Get("/ns/set/l/2")
	require.Equal(t, OnlyOnLeft, d.Kind)
	require.Equal(t, int64(3), d.Left.AsInt())
}

func TestComparePolicies(t *testing.T) {
	a := testRecord(map[string]Value{"x": List(Int(1), Int(2), Int(3))})
	b := testRecord(map[string]Value{"x": List(Int(3), Int(1), Int(2))})
	dup := testRecord(map[string]Value{"x": List(Int(1), Int(2), Int(2))})

	plain := NewComparer(nil)
	ds := plain.CompareRecords(a, b, false)
	require.False(t, ds.Empty())

	ignore := NewComparer(NewRuleSet(Rule{Pattern: MustPattern("/test/compSet/x"), Action: ActionIgnore}))
	require.True(t, ignore.CompareRecords(a, b, false).Empty())
	require.True(t, ignore.CompareRecords(a, dup, false).Empty())

	unordered := NewComparer(NewRuleSet(Rule{Pattern: MustPattern("/test/*/x"), Action: ActionUnordered}))
	require.True(t, unordered.CompareRecords(a, b, false).Empty())
	ds = unordered.CompareRecords(a, dup, false)
	require.Equal(t, 1, ds.Len())
	d, ok := ds.Get("/test/compSet/x")
	require.True(t, ok)
	require.Equal(t, Contents, d.Kind)
}

func TestCompareUnorderedAppliesToSubtree(t *testing.T) {
	rules := NewRuleSet(Rule{Pattern: MustPattern("/test/compSet/doc"), Action: ActionUnordered})
	c := NewComparer(rules)
	a := testRecord(map[string]Value{"doc": Map(Entry(String("l"), List(Int(1), Int(2))))})
	b := testRecord(map[string]Value{"doc": Map(Entry(String("l"), List(Int(2), Int(1))))})
	require.True(t, c.CompareRecords(a, b, false).Empty())
}

func TestCompareIgnoreNested(t *testing.T) {
	rules := NewRuleSet(Rule{Pattern: MustPattern("/test/**/updatedAt"), Action: ActionIgnore})
	c := NewComparer(rules)
	a := testRecord(map[string]Value{"meta": Map(Entry(String("updatedAt"), Int(1)), Entry(String("v"), Int(1)))})
	b := testRecord(map[string]Value{"meta": Map(Entry(String("updatedAt"), Int(2)), Entry(String("v"), Int(1)))})
	require.True(t, c.CompareRecords(a, b, false).Empty())
}

func TestCompareQuickStopsEarly(t *testing.T) {
	c := NewComparer(nil)
	a := testRecord(map[string]Value{"a": Int(1), "b": Int(2), "c": List(Int(1), Int(2))})
	b := testRecord(map[string]Value{"a": Int(9), "b": Int(9), "c": List(Int(9), Int(9))})

	require.Equal(t, 4, c.CompareRecords(a, b, false).Len())
	quick := c.CompareRecords(a, b, true)
	require.Equal(t, 1, quick.Len())
	require.True(t, quick.Done())
}

func TestCompareMapKeysRenderingAlike(t *testing.T) {
	c := NewComparer(nil)
	a := testRecord(map[string]Value{
		"m":   Map(Entry(Int(1), String("x")), Entry(String("1"), String("y"))),
		"a/b": Int(1),
		"a":   Map(Entry(String("b"), Int(1))),
	})
	b := testRecord(map[string]Value{
		"m":   Map(Entry(Int(1), String("X")), Entry(String("1"), String("Y"))),
		"a/b": Int(2),
		"a":   Map(Entry(String("b"), Int(2))),
	})

	ds := c.CompareRecords(a, b, false)
	require.Equal(t, 4, ds.Len())

	var rights []string
	for _, d := range ds.Differences() {
		require.Equal(t, Contents, d.Kind)
		rights = append(rights, d.Right.String())
	}
	require.ElementsMatch(t, []string{"2", "2", "X", "Y"}, rights)

	// swapping keeps every entry apart
	require.Equal(t, 4, ds.Swapped().Len())
}

func TestCompareSignedZeroMapKeys(t *testing.T) {
	c := NewComparer(nil)
	a := testRecord(map[string]Value{"m": Map(Entry(Float(0), Int(1)))})
	b := testRecord(map[string]Value{"m": Map(Entry(Float(math.Copysign(0, -1)), Int(1)))})
	require.True(t, c.CompareRecords(a, b, false).Empty())
}
