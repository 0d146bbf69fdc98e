package compare

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/partdiff"
)

// Mode selects how much work is done per key.
type Mode uint8

const (
	// ModeQuickCount compares per-partition record counts from metadata only.
	ModeQuickCount Mode = iota
	// ModeMissing finds records absent on some cluster.
	ModeMissing
	// ModeHash additionally compares content hashes of common records.
	ModeHash
	// ModeFull additionally runs the structural diff on common records.
	ModeFull
)

var modeNames = map[Mode]string{
	ModeQuickCount: "quick",
	ModeMissing:    "missing",
	ModeHash:       "hash",
	ModeFull:       "full",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "mode(" + strconv.Itoa(int(m)) + ")"
}

func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q", s)
}

func (m Mode) payload() partdiff.Payload {
	switch m {
	case ModeHash:
		return partdiff.PayloadHash
	case ModeFull:
		return partdiff.PayloadRecord
	}
	return partdiff.PayloadKey
}

var (
	ErrTooFewClusters   = errors.New("at least two clusters are required")
	ErrInvalidOptions   = errors.New("invalid options")
	ErrQuickUnsupported = errors.New("quick compare is not available for a set or a time window")
)

// Options describe one namespace+set comparison.
type Options struct {
	Namespace string
	Set       string
	// Partitions to compare; empty means all of them.
	Partitions []int
	// Threads is the worker count; 0 means runtime.NumCPU().
	Threads int
	Mode    Mode
	Window  *partdiff.TimeWindow
	// RecordsPerSecond throttles each scan; 0 is unlimited.
	RecordsPerSecond int
	// MaxDifferences stops the run once this many missing or differing
	// records were found; 0 is unlimited.
	MaxDifferences int64
	// MaxRecords stops the run once this many keys were compared.
	MaxRecords int64
	Rules      *partdiff.RuleSet
	// QuickDiff stops each record diff at its first difference.
	QuickDiff bool
	// FallbackToScan turns a failed quick compare into a missing-records scan.
	FallbackToScan  bool
	MonitorInterval time.Duration
}

// DefaultOptions returns options for a full comparison of ns.
func DefaultOptions(ns string) Options {
	return Options{
		Namespace:       ns,
		Mode:            ModeFull,
		MonitorInterval: 10 * time.Second,
	}
}

// Validate checks the options against the number of clusters.
func (o *Options) Validate(clusters int) error {
	if clusters < 2 {
		return fmt.Errorf("%w: got %d", ErrTooFewClusters, clusters)
	}
	if o.Namespace == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalidOptions)
	}
	if _, ok := modeNames[o.Mode]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, o.Mode)
	}
	if o.Mode == ModeQuickCount && (o.Set != "" || o.Window != nil) {
		return ErrQuickUnsupported
	}
	seen := make(map[int]bool, len(o.Partitions))
	for _, pid := range o.Partitions {
		if err := partdiff.ValidatePartition(pid); err != nil {
			return err
		}
		if seen[pid] {
			return fmt.Errorf("%w: partition %d listed twice", ErrInvalidOptions, pid)
		}
		seen[pid] = true
	}
	switch {
	case o.Threads < 0:
		return fmt.Errorf("%w: threads must not be negative", ErrInvalidOptions)
	case o.RecordsPerSecond < 0:
		return fmt.Errorf("%w: records per second must not be negative", ErrInvalidOptions)
	case o.MaxDifferences < 0 || o.MaxRecords < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidOptions)
	case o.MonitorInterval < 0:
		return fmt.Errorf("%w: monitor interval must not be negative", ErrInvalidOptions)
	}
	return nil
}

func (o *Options) threads() int {
	if o.Threads > 0 {
		return o.Threads
	}
	return runtime.NumCPU()
}

func (o *Options) partitions() []int {
	if len(o.Partitions) > 0 {
		return append([]int(nil), o.Partitions...)
	}
	return AllPartitions()
}

// AllPartitions returns 0..NumPartitions-1.
func AllPartitions() []int {
	out := make([]int, partdiff.NumPartitions)
	for i := range out {
		out[i] = i
	}
	return out
}

// ParsePartitions parses a comma separated list of ids and inclusive
// ranges, e.g. "0-99,512,1000-1010".
func ParsePartitions(s string) ([]int, error) {
	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.IndexByte(part, '-'); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		from, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("partition range %q: %w", part, err)
		}
		to, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("partition range %q: %w", part, err)
		}
		if from > to {
			return nil, fmt.Errorf("%w: partition range %q is reversed", ErrInvalidOptions, part)
		}
		for _, id := range []int{from, to} {
			if err := partdiff.ValidatePartition(id); err != nil {
				return nil, err
			}
		}
		for id := from; id <= to; id++ {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// Target is one namespace+set pair of a multi-target run.
type Target struct {
	Namespace string
	Set       string
}
