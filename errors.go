package partdiff

import (
	"errors"
	"fmt"
)

var (
	ErrRecordNotFound   = errors.New("record not found")
	ErrUnsupportedValue = errors.New("unsupported value type")
	ErrInvalidPattern   = errors.New("invalid path pattern")
	ErrInvalidPartition = errors.New("invalid partition id")
	ErrClusterClosed    = errors.New("cluster closed")

	// ErrProtocol marks invariant violations in record streams or wire
	// payloads. It is fatal for the comparison unit that observed it.
	ErrProtocol     = errors.New("protocol violation")
	ErrDigestLength = fmt.Errorf("%w: digest length mismatch", ErrProtocol)
	ErrStreamOrder  = fmt.Errorf("%w: stream out of digest order", ErrProtocol)
)

// CompareError ties a failure to the operation and partition it happened in.
type CompareError struct {
	Op        string
	Partition int
	Cause     error
}

func (e *CompareError) Error() string {
	if e.Partition >= 0 {
		return fmt.Sprintf("%s partition %d: %v", e.Op, e.Partition, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *CompareError) Unwrap() error {
	return e.Cause
}

func NewCompareError(op string, partition int, cause error) *CompareError {
	return &CompareError{
		Op:        op,
		Partition: partition,
		Cause:     cause,
	}
}

// ValidatePartition checks 0 <= id < NumPartitions.
func ValidatePartition(id int) error {
	if id < 0 || id >= NumPartitions {
		return fmt.Errorf("%w: %d (must be in [0, %d))", ErrInvalidPartition, id, NumPartitions)
	}
	return nil
}
