package compare

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// AbortReason says why a run stopped before draining its queue.
type AbortReason int32

const (
	AbortNone AbortReason = iota
	AbortDifferenceLimit
	AbortRecordLimit
	AbortSinkFailure
)

func (a AbortReason) String() string {
	switch a {
	case AbortNone:
		return "none"
	case AbortDifferenceLimit:
		return "difference limit reached"
	case AbortRecordLimit:
		return "record limit reached"
	case AbortSinkFailure:
		return "sink failure"
	}
	return "abort(" + strconv.Itoa(int(a)) + ")"
}

// state is the scheduler state of one namespace+set comparison.
type state struct {
	mu    sync.Mutex
	queue []int

	records   []atomic.Int64
	missing   []atomic.Int64
	differing atomic.Int64
	found     atomic.Int64
	compared  atomic.Int64
	done      atomic.Int64

	abort atomic.Int32

	errMu    sync.Mutex
	sinkErrs *multierror.Error
}

func newState(partitions []int, clusters int) *state {
	return &state{
		queue:   partitions,
		records: make([]atomic.Int64, clusters),
		missing: make([]atomic.Int64, clusters),
	}
}

// claim pops the next partition.
func (s *state) claim() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0, false
	}
	pid := s.queue[0]
	s.queue = s.queue[1:]
	return pid, true
}

func (s *state) remaining() int {
	s.mu.Lock()
	n := len(s.queue)
	s.mu.Unlock()
	return n
}

// stop sets the abort reason once; later reasons are dropped.
func (s *state) stop(r AbortReason) bool {
	return s.abort.CompareAndSwap(int32(AbortNone), int32(r))
}

func (s *state) aborted() bool { return s.abort.Load() != int32(AbortNone) }

func (s *state) reason() AbortReason { return AbortReason(s.abort.Load()) }

func (s *state) sinkFailed(err error) {
	s.errMu.Lock()
	s.sinkErrs = multierror.Append(s.sinkErrs, err)
	s.errMu.Unlock()
	s.stop(AbortSinkFailure)
}

func (s *state) sinkErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.sinkErrs.ErrorOrNil()
}

func (s *state) sinkFailures() int {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.sinkErrs == nil {
		return 0
	}
	return len(s.sinkErrs.Errors)
}

func loadAll(counters []atomic.Int64) []int64 {
	out := make([]int64, len(counters))
	for i := range counters {
		out[i] = counters[i].Load()
	}
	return out
}
