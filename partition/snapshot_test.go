package partition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/partdiff"
	"github.com/unkn0wn-root/partdiff/memstore"
)

func TestParse(t *testing.T) {
	replies := map[string]string{
		"a": "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones" +
			";test:0:S:0:0:0:10:2;test:1:S:1:0:0:7:0",
		"b": "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones:working_master" +
			";test:1:S:0:0:3:7:0:b;test:0:S:1:0:0:10:2:a",
	}
	snap, err := Parse(replies)
	require.NoError(t, err)
	require.Equal(t, []string{"test"}, snap.Namespaces())

	tbl := snap.Namespace("test")
	require.NotNil(t, tbl)
	require.Equal(t, "a", tbl.Entries[0].Owner)
	require.Equal(t, int64(8), tbl.Entries[0].Net())
	require.Equal(t, "b", tbl.Entries[1].Owner)
	require.Equal(t, []int{1}, tbl.Migrating())
	require.False(t, tbl.Complete())
	require.Len(t, tbl.Missing(), partdiff.NumPartitions-2)
	require.Nil(t, snap.Namespace("other"))
}

func TestParseErrors(t *testing.T) {
	_, err := Parse(map[string]string{"a": "ERROR:80:role violation"})
	require.ErrorIs(t, err, ErrInsufficientPrivilege)

	_, err = Parse(map[string]string{"a": "ERROR:4:something else"})
	require.ErrorIs(t, err, ErrMalformedInfo)

	_, err = Parse(map[string]string{"a": "namespace:partition:state"})
	require.ErrorIs(t, err, ErrMalformedInfo)

	_, err = Parse(map[string]string{"a": "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones;test:x:S:0:0:0:1:0"})
	require.ErrorIs(t, err, ErrMalformedInfo)

	_, err = Parse(map[string]string{"a": "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones;test:4096:S:0:0:0:1:0"})
	require.ErrorIs(t, err, ErrMalformedInfo)
}

func fetchTable(t *testing.T, s *memstore.Store) *Table {
	t.Helper()
	snap, err := Fetch(context.Background(), s)
	require.NoError(t, err)
	return snap.Namespace("test")
}

func put(t *testing.T, s *memstore.Store, key partdiff.Key, bins map[string]partdiff.Value) {
	t.Helper()
	s.Put(&partdiff.Record{Key: key, Bins: bins})
}

func TestFetchFromStore(t *testing.T) {
	s := memstore.New(memstore.WithNodes("n1", "n2"))
	_, err := s.PutBins("test", "S", partdiff.Int(1), nil)
	require.NoError(t, err)

	tbl := fetchTable(t, s)
	require.NotNil(t, tbl)
	require.True(t, tbl.Complete())
	require.Empty(t, tbl.Migrating())
	owners := map[string]int{}
	for _, e := range tbl.Entries {
		owners[e.Owner]++
	}
	require.Len(t, owners, 2)
	require.Greater(t, owners["n1"], partdiff.NumPartitions/4)
	require.Greater(t, owners["n2"], partdiff.NumPartitions/4)

	s.Deny(InfoPartitions)
	_, err = Fetch(context.Background(), s)
	require.ErrorIs(t, err, ErrInsufficientPrivilege)
}

func TestQuickCompareSoundAndBlind(t *testing.T) {
	a := memstore.New(memstore.WithNodes("a1", "a2"))
	b := memstore.New(memstore.WithNodes("b1"))

	k1, err := memstore.MakeKey("test", "S", partdiff.Int(1))
	require.NoError(t, err)
	var k2 partdiff.Key
	for i := int64(2); ; i++ {
		k2, err = memstore.MakeKey("test", "S", partdiff.Int(i))
		require.NoError(t, err)
		if partdiff.PartitionOf(k2.Digest) != partdiff.PartitionOf(k1.Digest) {
			break
		}
	}
	p2 := partdiff.PartitionOf(k2.Digest)

	// Same key count, different contents: invisible.
	put(t, a, k1, map[string]partdiff.Value{"v": partdiff.Int(1)})
	put(t, b, k1, map[string]partdiff.Value{"v": partdiff.Int(2)})
	// One extra record on a: detected.
	put(t, a, k2, nil)

	parts := make([]int, partdiff.NumPartitions)
	for i := range parts {
		parts[i] = i
	}
	mm, err := QuickCompare([]*Table{fetchTable(t, a), fetchTable(t, b)}, parts)
	require.NoError(t, err)
	require.Equal(t, []CountMismatch{{Partition: p2, Counts: []int64{1, 0}}}, mm)

	// Tombstones net out: a deleted record plus an extra tombstone elsewhere.
	require.True(t, a.Delete(k2))
	mm, err = QuickCompare([]*Table{fetchTable(t, a), fetchTable(t, b)}, parts)
	require.NoError(t, err)
	require.Equal(t, []CountMismatch{{Partition: p2, Counts: []int64{-1, 0}}}, mm)
	b.SetTombstones("test", p2, 1)
	mm, err = QuickCompare([]*Table{fetchTable(t, a), fetchTable(t, b)}, parts)
	require.NoError(t, err)
	require.Empty(t, mm)
}

func TestQuickComparePreconditions(t *testing.T) {
	a := memstore.New()
	b := memstore.New()
	_, err := a.PutBins("test", "S", partdiff.Int(1), nil)
	require.NoError(t, err)
	_, err = b.PutBins("test", "S", partdiff.Int(1), nil)
	require.NoError(t, err)

	b.SetMigrations("test", 17, 1, 0)
	_, err = QuickCompare([]*Table{fetchTable(t, a), fetchTable(t, b)}, []int{0})
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, 1, pe.Cluster)
	require.ErrorIs(t, err, ErrMigrationsInProgress)
	require.Equal(t, []int{17}, pe.Partitions)

	_, err = QuickCompare([]*Table{fetchTable(t, a), nil}, []int{0})
	require.ErrorIs(t, err, ErrIncompletePartitionMap)

	partial, err := Parse(map[string]string{
		"a": "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones;test:0:S:0:0:0:1:0",
	})
	require.NoError(t, err)
	_, err = QuickCompare([]*Table{partial.Namespace("test"), fetchTable(t, a)}, []int{0})
	require.ErrorIs(t, err, ErrIncompletePartitionMap)

	_, err = QuickCompare([]*Table{fetchTable(t, a)}, []int{0})
	require.Error(t, err)
}
