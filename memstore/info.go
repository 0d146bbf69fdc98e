package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/partdiff"
)

const (
	InfoNode       = "node"
	InfoNamespaces = "namespaces"
	InfoPartitions = "partition-info"
)

const partitionHeader = "namespace:partition:state:replica:emigrates:immigrates:objects:tombstones:working_master"

func (s *Store) Info(ctx context.Context, command, node string) (string, error) {
	if s.closed.Load() {
		return "", partdiff.ErrClusterClosed
	}
	idx := 0
	if node != "" {
		idx = s.nodeIndex(node)
		if idx < 0 {
			return "", fmt.Errorf("%w: %s", ErrUnknownNode, node)
		}
	}
	return s.info(command, idx)
}

func (s *Store) InfoAll(ctx context.Context, command string) (map[string]string, error) {
	if s.closed.Load() {
		return nil, partdiff.ErrClusterClosed
	}
	out := make(map[string]string, len(s.nodes))
	for i, name := range s.nodes {
		resp, err := s.info(command, i)
		if err != nil {
			return nil, err
		}
		out[name] = resp
	}
	return out, nil
}

func (s *Store) nodeIndex(name string) int {
	for i, n := range s.nodes {
		if n == name {
			return i
		}
	}
	return -1
}

func (s *Store) info(command string, node int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.denied[command] {
		return "ERROR:80:role violation", nil
	}
	switch command {
	case InfoNode:
		return s.nodes[node], nil
	case InfoNamespaces:
		return strings.Join(s.namespaceNames(), ";"), nil
	case InfoPartitions:
		return s.partitionInfo(node), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, command)
}

func (s *Store) namespaceNames() []string {
	names := make([]string, 0, len(s.spaces))
	for ns := range s.spaces {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names
}

// partitionInfo renders the rows node holds, one per owned partition.
func (s *Store) partitionInfo(node int) string {
	var b strings.Builder
	b.WriteString(partitionHeader)
	for _, ns := range s.namespaceNames() {
		space := s.spaces[ns]
		for pid := 0; pid < partdiff.NumPartitions; pid++ {
			replica := s.place.replica(pid, node)
			if replica < 0 {
				continue
			}
			var objects, tombstones, em, im int64
			if p := space.parts[pid]; p != nil {
				objects = int64(len(p.records))
				tombstones = p.tombstones
				em, im = p.emigrates, p.immigrates
			}
			b.WriteByte(';')
			b.WriteString(ns)
			for _, f := range []string{
				strconv.Itoa(pid), "S", strconv.Itoa(replica),
				strconv.FormatInt(em, 10), strconv.FormatInt(im, 10),
				strconv.FormatInt(objects, 10), strconv.FormatInt(tombstones, 10),
				s.nodes[s.place.master(pid)],
			} {
				b.WriteByte(':')
				b.WriteString(f)
			}
		}
	}
	return b.String()
}
