// Package compare runs partition-parallel comparisons of two or more clusters.
//
// Every partition is scanned once per cluster and the scans are merge-joined
// in stream order, so neither side is ever materialised in memory.
package compare

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/partdiff"
	"github.com/unkn0wn-root/partdiff/partition"
)

// joinTimeout bounds the wait for workers after the queue is drained or the
// run was aborted.
const joinTimeout = 10 * 24 * time.Hour

var ErrJoinTimeout = errors.New("timed out waiting for workers")

// Runner compares a fixed list of clusters. Run may be called repeatedly but
// not concurrently.
type Runner struct {
	clusters     []partdiff.Cluster
	logger       *zap.Logger
	clock        clockwork.Clock
	missingSinks []MissingSink
	diffSinks    []DifferenceSink
}

// Opt configures a Runner.
type Opt func(*Runner)

func WithLogger(l *zap.Logger) Opt {
	return func(r *Runner) {
		r.logger = l
	}
}

func WithClock(c clockwork.Clock) Opt {
	return func(r *Runner) {
		r.clock = c
	}
}

// WithMissingSink registers a sink for missing records. It may be repeated.
func WithMissingSink(s MissingSink) Opt {
	return func(r *Runner) {
		r.missingSinks = append(r.missingSinks, s)
	}
}

// WithDifferenceSink registers a sink for differing records. It may be
// repeated.
func WithDifferenceSink(s DifferenceSink) Opt {
	return func(r *Runner) {
		r.diffSinks = append(r.diffSinks, s)
	}
}

func New(clusters []partdiff.Cluster, opts ...Opt) *Runner {
	r := &Runner{
		clusters: clusters,
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Summary is the outcome of one Run.
type Summary struct {
	RunID     string
	Namespace string
	Set       string
	Mode      Mode
	// Fallback holds the reason quick compare was replaced by a scan.
	Fallback error
	// CountMismatches is filled by quick compare.
	CountMismatches []partition.CountMismatch
	Partitions      int64
	Records         []int64
	Missing         []int64
	Differing       int64
	Compared        int64
	Abort           AbortReason
	AbortCount      int64
	Elapsed         time.Duration
}

// Differences is the number of missing plus differing records, or of
// mismatching partitions after a quick compare.
func (s *Summary) Differences() int64 {
	if s.Mode == ModeQuickCount {
		return int64(len(s.CountMismatches))
	}
	var n int64
	for _, m := range s.Missing {
		n += m
	}
	return n + s.Differing
}

// Run compares one namespace+set on all clusters.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if err := opts.Validate(len(r.clusters)); err != nil {
		return nil, err
	}
	start := r.clock.Now()
	sum := &Summary{
		RunID:     uuid.NewString(),
		Namespace: opts.Namespace,
		Set:       opts.Set,
		Mode:      opts.Mode,
	}
	log := r.logger.With(
		zap.String("run_id", sum.RunID),
		zap.String("namespace", opts.Namespace),
		zap.String("set", opts.Set),
	)
	log.Info("comparison started", zap.Stringer("mode", opts.Mode), zap.Int("clusters", len(r.clusters)))

	if opts.Mode == ModeQuickCount {
		mm, err := r.quickCompare(ctx, opts)
		if err == nil {
			sum.CountMismatches = mm
			sum.Elapsed = r.clock.Since(start)
			log.Info("quick compare finished", zap.Int("mismatching_partitions", len(mm)))
			return sum, nil
		}
		if !opts.FallbackToScan || !canFallBack(err) {
			return sum, err
		}
		log.Warn("quick compare unavailable, scanning for missing records", zap.Error(err))
		sum.Fallback = err
		opts.Mode = ModeMissing
		sum.Mode = ModeMissing
	}

	st := newState(opts.partitions(), len(r.clusters))
	err := r.scan(ctx, opts, sum.RunID, st, log)

	sum.Partitions = st.done.Load()
	sum.Records = loadAll(st.records)
	sum.Missing = loadAll(st.missing)
	sum.Differing = st.differing.Load()
	sum.Compared = st.compared.Load()
	sum.Abort = st.reason()
	switch sum.Abort {
	case AbortDifferenceLimit:
		sum.AbortCount = st.found.Load()
	case AbortRecordLimit:
		sum.AbortCount = sum.Compared
	case AbortSinkFailure:
		sum.AbortCount = int64(st.sinkFailures())
	}
	sum.Elapsed = r.clock.Since(start)

	if err == nil {
		err = st.sinkErr()
	}
	if err != nil {
		log.Error("comparison failed", zap.Error(err))
		return sum, err
	}
	fields := []zap.Field{
		zap.Int64("partitions", sum.Partitions),
		zap.Int64s("records", sum.Records),
		zap.Int64s("missing", sum.Missing),
		zap.Int64("differing", sum.Differing),
		zap.Duration("elapsed", sum.Elapsed),
	}
	if sum.Abort != AbortNone {
		fields = append(fields, zap.Stringer("abort", sum.Abort), zap.Int64("abort_count", sum.AbortCount))
	}
	log.Info("comparison finished", fields...)
	return sum, nil
}

// RunTargets compares several namespace+set pairs one after another, each
// with fresh scheduler state. It stops at the first error.
func (r *Runner) RunTargets(ctx context.Context, targets []Target, opts Options) ([]*Summary, error) {
	out := make([]*Summary, 0, len(targets))
	for _, t := range targets {
		o := opts
		o.Namespace, o.Set = t.Namespace, t.Set
		sum, err := r.Run(ctx, o)
		if sum != nil {
			out = append(out, sum)
		}
		if err != nil {
			return out, fmt.Errorf("%s/%s: %w", t.Namespace, t.Set, err)
		}
	}
	return out, nil
}

func canFallBack(err error) bool {
	var pe *partition.PreconditionError
	return errors.As(err, &pe) || errors.Is(err, partition.ErrInsufficientPrivilege)
}

func (r *Runner) quickCompare(ctx context.Context, opts Options) ([]partition.CountMismatch, error) {
	tables := make([]*partition.Table, len(r.clusters))
	for i, c := range r.clusters {
		snap, err := partition.Fetch(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		tables[i] = snap.Namespace(opts.Namespace)
	}
	return partition.QuickCompare(tables, opts.partitions())
}

func (r *Runner) scan(ctx context.Context, opts Options, runID string, st *state, log *zap.Logger) error {
	w := &worker{
		runner:   r,
		opts:     opts,
		runID:    runID,
		state:    st,
		comparer: partdiff.NewComparer(opts.Rules),
		log:      log,
		query: partdiff.PartitionQuery{
			Namespace:        opts.Namespace,
			Set:              opts.Set,
			Window:           opts.Window,
			RecordsPerSecond: opts.RecordsPerSecond,
			Payload:          opts.Mode.payload(),
			Hash:             opts.Rules.HashOptions(opts.Namespace, opts.Set),
		},
		labels: make([]string, len(r.clusters)),
	}
	for i := range w.labels {
		w.labels[i] = strconv.Itoa(i)
	}

	if opts.MonitorInterval > 0 {
		monCtx, stopMonitor := context.WithCancel(ctx)
		monDone := make(chan struct{})
		m := &monitor{state: st, clock: r.clock, interval: opts.MonitorInterval, namespace: opts.Namespace, log: log}
		go func() {
			defer close(monDone)
			m.run(monCtx)
		}()
		defer func() {
			stopMonitor()
			<-monDone
		}()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.threads(); i++ {
		g.Go(func() error {
			for !st.aborted() {
				if err := gctx.Err(); err != nil {
					return err
				}
				pid, ok := st.claim()
				if !ok {
					return nil
				}
				finished, err := w.comparePartition(gctx, pid)
				if err != nil {
					return partdiff.NewCompareError("compare", pid, err)
				}
				if !finished {
					return nil
				}
				st.done.Add(1)
				partitionsDone.WithLabelValues(opts.Namespace).Inc()
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-r.clock.After(joinTimeout):
		return ErrJoinTimeout
	}
}
