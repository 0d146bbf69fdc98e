package compare

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// monitor logs progress at a fixed interval. It only reads atomics and the
// queue length.
type monitor struct {
	state     *state
	clock     clockwork.Clock
	interval  time.Duration
	namespace string
	log       *zap.Logger
}

func (m *monitor) run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()
	start := m.clock.Now()
	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			last = m.report(start, last)
		}
	}
}

// report logs one progress line and returns the total records seen so far.
func (m *monitor) report(start time.Time, last int64) int64 {
	records := loadAll(m.state.records)
	var total int64
	for _, n := range records {
		total += n
	}
	queued := m.state.remaining()
	queueDepth.WithLabelValues(m.namespace).Set(float64(queued))

	elapsed := m.clock.Since(start)
	fields := []zap.Field{
		zap.Int("queued", queued),
		zap.Int64("partitions_done", m.state.done.Load()),
		zap.Int64s("records", records),
		zap.Int64s("missing", loadAll(m.state.missing)),
		zap.Int64("differing", m.state.differing.Load()),
		zap.Float64("records_per_sec", float64(total-last)/m.interval.Seconds()),
		zap.Duration("elapsed", elapsed),
	}
	if m.state.aborted() {
		fields = append(fields, zap.Stringer("abort", m.state.reason()))
	}
	m.log.Info("progress", fields...)
	return total
}
