package compare

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
)

// MissingRecord reports a key absent on some clusters. Cluster numbers are
// indexes into the runner's cluster list.
type MissingRecord struct {
	RunID     string
	Partition int
	Key       partdiff.Key
	MissingOn []int
	Present   []int
	// Meta is indexed by cluster; entries are nil when unknown.
	Meta []*partdiff.RecordMeta
}

// RecordDifference reports a key whose content differs between the clusters
// holding it.
type RecordDifference struct {
	RunID      string
	Partition  int
	Key        partdiff.Key
	MissingOn  []int
	Collection *partdiff.DifferenceCollection
	Meta       []*partdiff.RecordMeta
}

// MissingSink receives missing-record notifications from many workers at once.
type MissingSink interface {
	MissingRecord(ctx context.Context, ev MissingRecord) error
}

// DifferenceSink receives record-difference notifications from many workers
// at once.
type DifferenceSink interface {
	RecordDifference(ctx context.Context, ev RecordDifference) error
}

// LogSink logs every notification.
type LogSink struct {
	Logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{Logger: logger}
}

func (s *LogSink) MissingRecord(_ context.Context, ev MissingRecord) error {
	s.Logger.Info("missing record",
		zap.String("run_id", ev.RunID),
		zap.Int("partition", ev.Partition),
		zap.Object("key", ev.Key),
		zap.Ints("missing_on", ev.MissingOn),
		zap.Ints("present_on", ev.Present),
	)
	return nil
}

func (s *LogSink) RecordDifference(_ context.Context, ev RecordDifference) error {
	fields := []zap.Field{
		zap.String("run_id", ev.RunID),
		zap.Int("partition", ev.Partition),
		zap.Object("key", ev.Key),
	}
	if len(ev.MissingOn) > 0 {
		fields = append(fields, zap.Ints("missing_on", ev.MissingOn))
	}
	for _, bd := range ev.Collection.Bins() {
		bf := append(fields,
			zap.String("bin", bd.Bin),
			zap.Ints("bin_missing_on", bd.MissingOn),
			zap.Any("groups", bd.Groups),
		)
		if bd.Partial {
			bf = append(bf, zap.Bool("partial", true))
		}
		s.Logger.Info("bin differs", bf...)
	}
	return nil
}

// CollectSink keeps every notification in memory.
type CollectSink struct {
	mu          sync.Mutex
	missing     []MissingRecord
	differences []RecordDifference
}

func (s *CollectSink) MissingRecord(_ context.Context, ev MissingRecord) error {
	s.mu.Lock()
	s.missing = append(s.missing, ev)
	s.mu.Unlock()
	return nil
}

func (s *CollectSink) RecordDifference(_ context.Context, ev RecordDifference) error {
	s.mu.Lock()
	s.differences = append(s.differences, ev)
	s.mu.Unlock()
	return nil
}

func (s *CollectSink) Missing() []MissingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MissingRecord(nil), s.missing...)
}

func (s *CollectSink) Differences() []RecordDifference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordDifference(nil), s.differences...)
}
