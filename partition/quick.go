package partition

import (
	"errors"
	"fmt"

	"github.com/unkn0wn-root/partdiff"
)

var (
	ErrIncompletePartitionMap = errors.New("incomplete partition map")
	ErrMigrationsInProgress   = errors.New("migrations in progress")
)

// PreconditionError says why quick compare cannot run on a cluster.
type PreconditionError struct {
	Cluster    int
	Reason     error
	Partitions []int
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("quick compare unavailable on cluster %d: %v (%d partitions)", e.Cluster+1, e.Reason, len(e.Partitions))
}

func (e *PreconditionError) Unwrap() error { return e.Reason }

// CountMismatch is a partition whose net counts disagree; Counts is indexed by
// cluster.
type CountMismatch struct {
	Partition int
	Counts    []int64
}

// Check verifies the quick compare preconditions on each table.
func Check(tables []*Table) error {
	for i, t := range tables {
		if t == nil {
			return &PreconditionError{Cluster: i, Reason: ErrIncompletePartitionMap}
		}
		if missing := t.Missing(); len(missing) > 0 {
			return &PreconditionError{Cluster: i, Reason: ErrIncompletePartitionMap, Partitions: missing}
		}
		if moving := t.Migrating(); len(moving) > 0 {
			return &PreconditionError{Cluster: i, Reason: ErrMigrationsInProgress, Partitions: moving}
		}
	}
	return nil
}

// QuickCompare reports the partitions whose objects minus tombstones differ
// between clusters. Equal counts say nothing about contents.
func QuickCompare(tables []*Table, partitions []int) ([]CountMismatch, error) {
	if len(tables) < 2 {
		return nil, fmt.Errorf("quick compare needs at least 2 clusters, got %d", len(tables))
	}
	if err := Check(tables); err != nil {
		return nil, err
	}
	var out []CountMismatch
	for _, pid := range partitions {
		if err := partdiff.ValidatePartition(pid); err != nil {
			return nil, err
		}
		counts := make([]int64, len(tables))
		differ := false
		for i, t := range tables {
			counts[i] = t.Entries[pid].Net()
			if counts[i] != counts[0] {
				differ = true
			}
		}
		if differ {
			out = append(out, CountMismatch{Partition: pid, Counts: counts})
		}
	}
	return out, nil
}
