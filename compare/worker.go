package compare

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
)

// worker holds what every partition comparison of one run shares. It is
// read-only once the run started.
type worker struct {
	runner   *Runner
	opts     Options
	runID    string
	state    *state
	comparer *partdiff.Comparer
	query    partdiff.PartitionQuery
	labels   []string
	log      *zap.Logger
}

// cursor wraps one cluster's partition stream and checks its ordering.
type cursor struct {
	st        partdiff.RecordStream
	partition int
	item      partdiff.StreamItem
	ok        bool
}

func (c *cursor) advance() error {
	var prev partdiff.Digest
	if c.ok {
		prev = c.item.Key.Digest
	}
	if !c.st.Next() {
		c.ok = false
		return c.st.Err()
	}
	c.item = c.st.Item()
	c.ok = true
	d := c.item.Key.Digest
	if len(d) == 0 {
		return fmt.Errorf("%w: empty digest", partdiff.ErrProtocol)
	}
	if prev != nil {
		if len(prev) != len(d) {
			return fmt.Errorf("%w: %d then %d bytes", partdiff.ErrDigestLength, len(prev), len(d))
		}
		if partdiff.StreamOrder(prev, d) >= 0 {
			return fmt.Errorf("%w: %s after %s", partdiff.ErrStreamOrder, d, prev)
		}
	}
	if pid := partdiff.PartitionOf(d); pid != c.partition {
		return fmt.Errorf("%w: digest %s belongs to partition %d", partdiff.ErrProtocol, d, pid)
	}
	return nil
}

// comparePartition merge-joins one stream per cluster. finished is false when
// the run was aborted before every stream was drained. Streams are closed on
// every exit path.
func (w *worker) comparePartition(ctx context.Context, pid int) (finished bool, err error) {
	n := len(w.runner.clusters)
	cursors := make([]*cursor, 0, n)
	defer func() {
		for _, c := range cursors {
			if cerr := c.st.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close scan: %w", cerr)
			}
		}
	}()

	q := w.query
	q.Partition = pid
	for i, cl := range w.runner.clusters {
		st, err := cl.QueryPartition(ctx, q)
		if err != nil {
			return false, fmt.Errorf("open scan on cluster %d: %w", i, err)
		}
		c := &cursor{st: st, partition: pid}
		cursors = append(cursors, c)
		if err := c.advance(); err != nil {
			return false, fmt.Errorf("cluster %d: %w", i, err)
		}
	}

	items := make([]*partdiff.StreamItem, n)
	for !w.state.aborted() {
		var head partdiff.Digest
		for _, c := range cursors {
			if !c.ok {
				continue
			}
			d := c.item.Key.Digest
			if head != nil && len(d) != len(head) {
				return false, fmt.Errorf("%w: %s vs %s", partdiff.ErrDigestLength, d, head)
			}
			if head == nil || partdiff.StreamOrder(d, head) < 0 {
				head = d
			}
		}
		if head == nil {
			return true, nil
		}

		for i, c := range cursors {
			items[i] = nil
			if c.ok && bytes.Equal(c.item.Key.Digest, head) {
				item := c.item
				items[i] = &item
				w.state.records[i].Add(1)
				recordsProcessed.WithLabelValues(w.opts.Namespace, w.labels[i]).Inc()
			}
		}
		if err := w.compareKey(ctx, pid, items); err != nil {
			return false, err
		}
		for i, c := range cursors {
			if items[i] != nil {
				if err := c.advance(); err != nil {
					return false, fmt.Errorf("cluster %d: %w", i, err)
				}
			}
		}
	}
	for _, c := range cursors {
		if c.ok {
			return false, nil
		}
	}
	return true, nil
}

// compareKey handles one merged key. items is indexed by cluster, nil where
// the key is absent.
func (w *worker) compareKey(ctx context.Context, pid int, items []*partdiff.StreamItem) error {
	compared := w.state.compared.Add(1)
	defer func() {
		if w.opts.MaxRecords > 0 && compared >= w.opts.MaxRecords {
			w.state.stop(AbortRecordLimit)
		}
	}()

	var key partdiff.Key
	var present, missing []int
	meta := make([]*partdiff.RecordMeta, len(items))
	for i, it := range items {
		if it == nil {
			missing = append(missing, i)
			continue
		}
		present = append(present, i)
		key = it.Key
		meta[i] = it.Record.Meta()
	}

	found := false
	if len(missing) > 0 {
		found = true
		for _, i := range missing {
			w.state.missing[i].Add(1)
			missingRecords.WithLabelValues(w.opts.Namespace, w.labels[i]).Inc()
		}
		w.emitMissing(ctx, MissingRecord{
			RunID:     w.runID,
			Partition: pid,
			Key:       key,
			MissingOn: missing,
			Present:   present,
			Meta:      meta,
		})
	}

	if len(present) >= 2 && w.opts.Mode >= ModeHash {
		coll, recMeta, err := w.diffContents(ctx, key, items, present)
		if err != nil {
			return err
		}
		if coll != nil && coll.Differs() {
			found = true
			w.state.differing.Add(1)
			differingRecords.WithLabelValues(w.opts.Namespace).Inc()
			if recMeta != nil {
				meta = recMeta
			}
			w.emitDifference(ctx, RecordDifference{
				RunID:      w.runID,
				Partition:  pid,
				Key:        key,
				MissingOn:  missing,
				Collection: coll,
				Meta:       meta,
			})
		}
	}

	if found {
		n := w.state.found.Add(1)
		if w.opts.MaxDifferences > 0 && n >= w.opts.MaxDifferences {
			w.state.stop(AbortDifferenceLimit)
		}
	}
	return nil
}

// diffContents compares the present records. In hash mode only records whose
// hashes disagree are fetched and diffed; a record rewritten or deleted
// between scan and fetch may then turn out identical.
func (w *worker) diffContents(ctx context.Context, key partdiff.Key, items []*partdiff.StreamItem, present []int) (*partdiff.DifferenceCollection, []*partdiff.RecordMeta, error) {
	records := make([]*partdiff.Record, len(items))
	var meta []*partdiff.RecordMeta
	if w.opts.Mode == ModeHash {
		same := true
		for _, i := range present[1:] {
			if items[i].Hash != items[present[0]].Hash {
				same = false
				break
			}
		}
		if same {
			return nil, nil, nil
		}
		meta = make([]*partdiff.RecordMeta, len(items))
		for _, i := range present {
			rec, err := w.runner.clusters[i].Get(ctx, key)
			if err != nil {
				return nil, nil, fmt.Errorf("fetch %s from cluster %d: %w", key, i, err)
			}
			records[i] = rec
			meta[i] = rec.Meta()
		}
	} else {
		for _, i := range present {
			records[i] = items[i].Record
		}
	}

	coll := partdiff.NewCollection(len(items))
	var held []int
	for _, i := range present {
		if records[i] != nil {
			coll.AddRecord(i, records[i])
			held = append(held, i)
		}
	}
	for a := 0; a < len(held); a++ {
		for b := a + 1; b < len(held); b++ {
			i, j := held[a], held[b]
			coll.AddPair(i, j, w.comparer.CompareRecords(records[i], records[j], w.opts.QuickDiff))
		}
	}
	if len(held) < len(present) {
		w.log.Debug("record vanished while fetching", zap.Object("key", key))
	}
	return coll, meta, nil
}

func (w *worker) emitMissing(ctx context.Context, ev MissingRecord) {
	for _, s := range w.runner.missingSinks {
		if err := s.MissingRecord(ctx, ev); err != nil {
			w.log.Error("missing record sink failed", zap.Object("key", ev.Key), zap.Error(err))
			w.state.sinkFailed(err)
		}
	}
}

func (w *worker) emitDifference(ctx context.Context, ev RecordDifference) {
	for _, s := range w.runner.diffSinks {
		if err := s.RecordDifference(ctx, ev); err != nil {
			w.log.Error("record difference sink failed", zap.Object("key", ev.Key), zap.Error(err))
			w.state.sinkFailed(err)
		}
	}
}
