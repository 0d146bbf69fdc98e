package compare

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/partdiff"
	"github.com/unkn0wn-root/partdiff/memstore"
)

// scripted serves fixed items for every partition query.
type scripted struct {
	*memstore.Store
	items  []partdiff.StreamItem
	closed int
}

func (s *scripted) QueryPartition(ctx context.Context, q partdiff.PartitionQuery) (partdiff.RecordStream, error) {
	if q.Partition != 0 {
		return s.Store.QueryPartition(ctx, q)
	}
	return &scriptedStream{owner: s, items: s.items, pos: -1}, nil
}

type scriptedStream struct {
	owner *scripted
	items []partdiff.StreamItem
	pos   int
}

func (st *scriptedStream) Next() bool {
	st.pos++
	return st.pos < len(st.items)
}

func (st *scriptedStream) Item() partdiff.StreamItem { return st.items[st.pos] }
func (st *scriptedStream) Err() error                { return nil }
func (st *scriptedStream) Close() error {
	st.owner.closed++
	return nil
}

func item(d ...byte) partdiff.StreamItem {
	return partdiff.StreamItem{Key: partdiff.Key{Namespace: "test", Digest: d}}
}

func runScripted(t *testing.T, a, b []partdiff.StreamItem) (*scripted, *scripted, error) {
	t.Helper()
	sa := &scripted{Store: memstore.New(), items: a}
	sb := &scripted{Store: memstore.New(), items: b}
	opts := scanOptions(ModeMissing)
	opts.Partitions = []int{0}
	_, err := newRunner(t, []partdiff.Cluster{sa, sb}, &CollectSink{}).Run(context.Background(), opts)
	return sa, sb, err
}

func TestMergeJoinRejectsOutOfOrderStream(t *testing.T) {
	sa, sb, err := runScripted(t,
		[]partdiff.StreamItem{item(0x00, 0x10, 1), item(0x00, 0x20, 1)},
		[]partdiff.StreamItem{item(0x00, 0x10, 1)},
	)
	require.ErrorIs(t, err, partdiff.ErrStreamOrder)
	require.ErrorIs(t, err, partdiff.ErrProtocol)
	var ce *partdiff.CompareError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 0, ce.Partition)
	require.Equal(t, 1, sa.closed)
	require.Equal(t, 1, sb.closed)
}

func TestMergeJoinRejectsDigestLengthMismatch(t *testing.T) {
	sa, sb, err := runScripted(t,
		[]partdiff.StreamItem{item(0x00, 0x10, 1)},
		[]partdiff.StreamItem{item(0x00, 0x10)},
	)
	require.ErrorIs(t, err, partdiff.ErrDigestLength)
	require.Equal(t, 1, sa.closed)
	require.Equal(t, 1, sb.closed)
}

func TestMergeJoinRejectsForeignPartition(t *testing.T) {
	_, _, err := runScripted(t, []partdiff.StreamItem{item(0x01, 0x00, 1)}, nil)
	require.ErrorIs(t, err, partdiff.ErrProtocol)
}

func TestMergeJoinOrder(t *testing.T) {
	sink := &CollectSink{}
	sa := &scripted{Store: memstore.New(), items: []partdiff.StreamItem{
		item(0x00, 0xf0, 9), item(0x00, 0x80, 1), item(0x00, 0x10, 5),
	}}
	sb := &scripted{Store: memstore.New(), items: []partdiff.StreamItem{
		item(0x00, 0xf0, 9), item(0x00, 0x70, 0), item(0x00, 0x10, 5),
	}}
	opts := scanOptions(ModeMissing)
	opts.Partitions = []int{0}
	sum, err := newRunner(t, []partdiff.Cluster{sa, sb}, sink).Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1}, sum.Missing)
	require.Equal(t, int64(4), sum.Compared)
	require.Equal(t, []int64{3, 3}, sum.Records)

	evs := sink.Missing()
	require.Len(t, evs, 2)
	// bytes >= 0x80 sort before smaller ones
	require.Equal(t, partdiff.Digest{0x00, 0x80, 1}, evs[0].Key.Digest)
	require.Equal(t, []int{1}, evs[0].MissingOn)
	require.Equal(t, partdiff.Digest{0x00, 0x70, 0}, evs[1].Key.Digest)
	require.Equal(t, []int{0}, evs[1].MissingOn)
}

func TestAbortedPartitionIsNotCounted(t *testing.T) {
	keys := []partdiff.StreamItem{item(0x00, 0xf0, 1), item(0x00, 0x80, 1), item(0x00, 0x10, 1)}
	for limit, want := range map[int64]int64{1: 0, 3: 1} {
		sa := &scripted{Store: memstore.New(), items: keys}
		sb := &scripted{Store: memstore.New()}
		opts := scanOptions(ModeMissing)
		opts.Partitions = []int{0}
		opts.MaxDifferences = limit

		sum, err := newRunner(t, []partdiff.Cluster{sa, sb}, &CollectSink{}).Run(context.Background(), opts)
		require.NoError(t, err)
		require.Equal(t, AbortDifferenceLimit, sum.Abort)
		require.Equal(t, limit, sum.Compared)
		require.Equal(t, want, sum.Partitions, "limit %d", limit)
		require.Equal(t, 1, sa.closed)
		require.Equal(t, 1, sb.closed)
	}
}

func TestMonitorStopsWithRun(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a, b := memstore.New(), memstore.New()
	for k := int64(0); k < 50; k++ {
		putInt(t, a, k, nil)
	}
	opts := scanOptions(ModeMissing)
	opts.MonitorInterval = time.Millisecond
	opts.RecordsPerSecond = 5000

	_, err := New([]partdiff.Cluster{a, b}, WithLogger(zap.New(core))).Run(context.Background(), opts)
	require.NoError(t, err)
	n := logs.FilterMessage("progress").Len()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, logs.FilterMessage("progress").Len())
}

func TestMonitorReportsProgress(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	clock := clockwork.NewFakeClock()
	st := newState([]int{1, 2, 3}, 2)
	st.records[0].Add(50)
	st.records[1].Add(30)

	m := &monitor{state: st, clock: clock, interval: 10 * time.Second, namespace: "test", log: zap.New(core)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.run(ctx)
		close(done)
	}()

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("progress").Len() == 1
	}, time.Second, 5*time.Millisecond)

	fields := logs.FilterMessage("progress").All()[0].ContextMap()
	require.Equal(t, int64(3), fields["queued"])
	require.Equal(t, float64(8), fields["records_per_sec"])

	cancel()
	<-done
}
