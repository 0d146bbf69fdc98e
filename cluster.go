package partdiff

import "context"

// Payload selects what a partition query returns per record.
type Payload uint8

const (
	// PayloadKey returns keys only; enough to find missing records.
	PayloadKey Payload = iota
	// PayloadRecord returns full records.
	PayloadRecord
	// PayloadHash returns a content hash per record instead of its bins.
	PayloadHash
)

func (p Payload) String() string {
	switch p {
	case PayloadKey:
		return "key"
	case PayloadRecord:
		return "record"
	case PayloadHash:
		return "hash"
	}
	return "unknown"
}

// PartitionQuery scopes a scan to exactly one partition of a namespace
// (and optionally one set).
type PartitionQuery struct {
	Namespace        string
	Set              string
	Partition        int
	Window           *TimeWindow
	RecordsPerSecond int
	Payload          Payload
	Hash             HashOptions
}

// StreamItem is one element of a partition stream. Record is set for
// PayloadRecord, Hash for PayloadHash.
type StreamItem struct {
	Key    Key
	Record *Record
	Hash   uint64
}

// RecordStream is a cursor over one partition, ordered by StreamOrder.
// Close must be called whatever Next returned.
type RecordStream interface {
	Next() bool
	Item() StreamItem
	Err() error
	Close() error
}

// Cluster is the narrow capability set the comparison needs from one
// deployment of the store. Implementations may talk to the store directly or
// forward every call over the remote protocol.
type Cluster interface {
	// Get returns nil, nil when the record does not exist.
	Get(ctx context.Context, key Key) (*Record, error)
	Exists(ctx context.Context, key Key) (bool, error)
	// Touch returns ErrRecordNotFound when the record does not exist.
	Touch(ctx context.Context, key Key) error
	QueryPartition(ctx context.Context, q PartitionQuery) (RecordStream, error)
	// Info runs an administrative command on one node; an empty node picks any.
	Info(ctx context.Context, command, node string) (string, error)
	// InfoAll runs an administrative command on every node, keyed by node name.
	InfoAll(ctx context.Context, command string) (map[string]string, error)
	NodeNames(ctx context.Context) ([]string, error)
	Close() error
}
