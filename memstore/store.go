// Package memstore is an in-memory partitioned record store that implements
// partdiff.Cluster directly. It backs tests, fixtures and `partdiff serve`.
package memstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/zeebo/blake3"

	"github.com/unkn0wn-root/partdiff"
)

var (
	ErrUnknownNode    = errors.New("unknown node")
	ErrUnknownCommand = errors.New("unknown info command")
	ErrUnsupportedKey = errors.New("unsupported user key type")
)

// Store is a single simulated cluster.
type Store struct {
	mu     sync.RWMutex
	nodes  []string
	rf     int
	place  *placement
	spaces map[string]*namespace
	denied map[string]bool
	clock  clockwork.Clock
	closed atomic.Bool
}

type namespace struct {
	parts [partdiff.NumPartitions]*partition
}

// partition keeps its records in stream order. Stored records are never
// mutated; writers replace them.
type partition struct {
	records    []*partdiff.Record
	tombstones int64
	emigrates  int64
	immigrates int64
}

// Option configures a Store.
type Option func(*Store)

// WithNodes names the nodes partitions are spread over.
func WithNodes(names ...string) Option {
	return func(s *Store) {
		if len(names) > 0 {
			s.nodes = append([]string(nil), names...)
		}
	}
}

// WithReplication sets how many nodes hold each partition. It is capped at
// the node count.
func WithReplication(rf int) Option {
	return func(s *Store) {
		s.rf = rf
	}
}

// WithClock sets the clock stamping last-update times.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		nodes:  []string{"node-1"},
		rf:     2,
		spaces: make(map[string]*namespace),
		denied: make(map[string]bool),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.place = newPlacement(s.nodes, s.rf)
	return s
}

var _ partdiff.Cluster = (*Store)(nil)

// ComputeDigest derives the record digest from the set name and user key.
// Supported user keys are integers, strings and blobs.
func ComputeDigest(set string, userKey partdiff.Value) (partdiff.Digest, error) {
	var (
		typ byte
		raw []byte
	)
	switch userKey.Kind() {
	case partdiff.KindInt:
		typ = 1
		raw = binary.BigEndian.AppendUint64(nil, uint64(userKey.AsInt()))
	case partdiff.KindString:
		typ = 3
		raw = []byte(userKey.AsString())
	case partdiff.KindBytes:
		typ = 4
		raw = userKey.AsBytes()
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedKey, userKey.Kind())
	}
	buf := make([]byte, 0, len(set)+1+len(raw))
	buf = append(buf, set...)
	buf = append(buf, typ)
	buf = append(buf, raw...)
	sum := blake3.Sum256(buf)
	return partdiff.Digest(sum[:partdiff.DigestSize]), nil
}

// MakeKey builds the key of userKey in ns/set.
func MakeKey(ns, set string, userKey partdiff.Value) (partdiff.Key, error) {
	d, err := ComputeDigest(set, userKey)
	if err != nil {
		return partdiff.Key{}, err
	}
	uk := userKey
	return partdiff.Key{Namespace: ns, Set: set, Digest: d, UserKey: &uk}, nil
}

func (s *Store) part(ns string, pid int, create bool) *partition {
	space := s.spaces[ns]
	if space == nil {
		if !create {
			return nil
		}
		space = &namespace{}
		s.spaces[ns] = space
	}
	p := space.parts[pid]
	if p == nil && create {
		p = &partition{}
		space.parts[pid] = p
	}
	return p
}

func (p *partition) search(d partdiff.Digest) (int, bool) {
	i := sort.Search(len(p.records), func(i int) bool {
		return partdiff.StreamOrder(p.records[i].Key.Digest, d) >= 0
	})
	return i, i < len(p.records) && partdiff.StreamOrder(p.records[i].Key.Digest, d) == 0
}

// Put stores a copy of rec, replacing any record with the same digest. A
// zero LastUpdate is stamped with the store clock.
func (s *Store) Put(rec *partdiff.Record) {
	cp := *rec
	cp.Bins = make(map[string]partdiff.Value, len(rec.Bins))
	for k, v := range rec.Bins {
		cp.Bins[k] = v
	}
	if cp.LastUpdate.IsZero() {
		cp.LastUpdate = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(cp.Key.Namespace, partdiff.PartitionOf(cp.Key.Digest), true)
	i, found := p.search(cp.Key.Digest)
	if found {
		if cp.Generation == 0 {
			cp.Generation = p.records[i].Generation + 1
		}
		p.records[i] = &cp
		return
	}
	if cp.Generation == 0 {
		cp.Generation = 1
	}
	p.records = append(p.records, nil)
	copy(p.records[i+1:], p.records[i:])
	p.records[i] = &cp
}

// PutBins stores bins under the user key and returns the stored key.
func (s *Store) PutBins(ns, set string, userKey partdiff.Value, bins map[string]partdiff.Value) (partdiff.Key, error) {
	key, err := MakeKey(ns, set, userKey)
	if err != nil {
		return partdiff.Key{}, err
	}
	s.Put(&partdiff.Record{Key: key, Bins: bins})
	return key, nil
}

// Delete removes the record and leaves a tombstone behind.
func (s *Store) Delete(key partdiff.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(key.Namespace, partdiff.PartitionOf(key.Digest), false)
	if p == nil {
		return false
	}
	i, found := p.search(key.Digest)
	if !found {
		return false
	}
	p.records = append(p.records[:i], p.records[i+1:]...)
	p.tombstones++
	return true
}

// SetTombstones overrides the tombstone counter of a partition.
func (s *Store) SetTombstones(ns string, pid int, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.part(ns, pid, true).tombstones = n
}

// SetMigrations sets the pending migration counters of a partition.
func (s *Store) SetMigrations(ns string, pid int, emigrates, immigrates int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(ns, pid, true)
	p.emigrates, p.immigrates = emigrates, immigrates
}

// Deny makes an info command fail with a privilege error.
func (s *Store) Deny(command string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[command] = true
}

// Len counts the live records of ns.
func (s *Store) Len(ns string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	space := s.spaces[ns]
	if space == nil {
		return 0
	}
	n := 0
	for _, p := range space.parts {
		if p != nil {
			n += len(p.records)
		}
	}
	return n
}

func (s *Store) lookup(key partdiff.Key) *partdiff.Record {
	p := s.part(key.Namespace, partdiff.PartitionOf(key.Digest), false)
	if p == nil {
		return nil
	}
	i, found := p.search(key.Digest)
	if !found {
		return nil
	}
	return p.records[i]
}

func (s *Store) Get(ctx context.Context, key partdiff.Key) (*partdiff.Record, error) {
	if s.closed.Load() {
		return nil, partdiff.ErrClusterClosed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.lookup(key)
	if r == nil || (key.Set != "" && r.Key.Set != key.Set) {
		return nil, nil
	}
	return r, nil
}

func (s *Store) Exists(ctx context.Context, key partdiff.Key) (bool, error) {
	r, err := s.Get(ctx, key)
	return r != nil, err
}

// Touch bumps the generation and last-update time of a record.
func (s *Store) Touch(ctx context.Context, key partdiff.Key) error {
	if s.closed.Load() {
		return partdiff.ErrClusterClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.part(key.Namespace, partdiff.PartitionOf(key.Digest), false)
	if p == nil {
		return partdiff.ErrRecordNotFound
	}
	i, found := p.search(key.Digest)
	if !found {
		return partdiff.ErrRecordNotFound
	}
	cp := *p.records[i]
	cp.Generation++
	cp.LastUpdate = s.clock.Now()
	p.records[i] = &cp
	return nil
}

// QueryPartition snapshots one partition and streams it in digest order.
func (s *Store) QueryPartition(ctx context.Context, q partdiff.PartitionQuery) (partdiff.RecordStream, error) {
	if s.closed.Load() {
		return nil, partdiff.ErrClusterClosed
	}
	if err := partdiff.ValidatePartition(q.Partition); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var snap []*partdiff.Record
	if p := s.part(q.Namespace, q.Partition, false); p != nil {
		snap = make([]*partdiff.Record, 0, len(p.records))
		for _, r := range p.records {
			if q.Set != "" && r.Key.Set != q.Set {
				continue
			}
			if !q.Window.Contains(r.LastUpdate) {
				continue
			}
			snap = append(snap, r)
		}
	}
	s.mu.RUnlock()
	return newSliceStream(ctx, snap, q), nil
}

func (s *Store) NodeNames(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, partdiff.ErrClusterClosed
	}
	return append([]string(nil), s.nodes...), nil
}

func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
