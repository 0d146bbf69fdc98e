package memstore

import (
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/unkn0wn-root/partdiff"
)

// placement assigns every partition to rf nodes by rendezvous hashing: each
// node scores the partition with its own salt and the highest scores win.
// The first owner is the master.
type placement struct {
	owners [partdiff.NumPartitions][]int
}

func newPlacement(nodes []string, rf int) *placement {
	if rf > len(nodes) {
		rf = len(nodes)
	}
	if rf < 1 {
		rf = 1
	}
	salts := make([]uint64, len(nodes))
	for i, n := range nodes {
		salts[i] = xxhash.Sum64String(n)
	}

	p := &placement{}
	type scored struct {
		s uint64
		n int
	}
	arr := make([]scored, len(nodes))
	for pid := range p.owners {
		for i := range nodes {
			arr[i] = scored{s: mix64(uint64(pid) ^ salts[i]), n: i}
		}
		sort.Slice(arr, func(i, j int) bool {
			if arr[i].s != arr[j].s {
				return arr[i].s > arr[j].s
			}
			return nodes[arr[i].n] < nodes[arr[j].n]
		})
		owners := make([]int, rf)
		for i := range owners {
			owners[i] = arr[i].n
		}
		p.owners[pid] = owners
	}
	return p
}

// replica returns the replica index node holds for pid, or -1.
func (p *placement) replica(pid, node int) int {
	for i, n := range p.owners[pid] {
		if n == node {
			return i
		}
	}
	return -1
}

func (p *placement) master(pid int) int { return p.owners[pid][0] }

// mix64 is the SplitMix64 finalizer.
func mix64(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
