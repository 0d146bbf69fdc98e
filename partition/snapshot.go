// Package partition parses per-node partition ownership reports into
// per-namespace tables and runs the count-only quick comparison on them.
package partition

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/unkn0wn-root/partdiff"
)

// InfoPartitions is the info command producing partition ownership rows.
const InfoPartitions = "partition-info"

var (
	ErrInsufficientPrivilege = errors.New("insufficient privilege for partition info")
	ErrMalformedInfo         = errors.New("malformed partition info")
)

var requiredColumns = []string{
	"namespace", "partition", "state", "replica",
	"emigrates", "immigrates", "objects", "tombstones",
}

// Entry is the master view of one partition.
type Entry struct {
	State      string
	Owner      string
	Objects    int64
	Tombstones int64
	// Migration counters are summed over every replica row.
	Emigrates  int64
	Immigrates int64
	Known      bool
	masters    int
}

// Net is the live count used by quick compare.
func (e Entry) Net() int64 { return e.Objects - e.Tombstones }

// Table holds every partition of one namespace.
type Table struct {
	Namespace string
	Entries   [partdiff.NumPartitions]Entry
}

// Missing lists partitions without exactly one synced master.
func (t *Table) Missing() []int {
	var out []int
	for pid := range t.Entries {
		if e := &t.Entries[pid]; !e.Known || e.masters != 1 {
			out = append(out, pid)
		}
	}
	return out
}

func (t *Table) Complete() bool { return len(t.Missing()) == 0 }

// Migrating lists partitions with pending migrations.
func (t *Table) Migrating() []int {
	var out []int
	for pid := range t.Entries {
		if e := &t.Entries[pid]; e.Emigrates != 0 || e.Immigrates != 0 {
			out = append(out, pid)
		}
	}
	return out
}

// Snapshot is the parsed partition map of one cluster.
type Snapshot struct {
	tables map[string]*Table
}

// Namespace returns the table of ns, or nil when no node reported it.
func (s *Snapshot) Namespace(ns string) *Table {
	if s == nil {
		return nil
	}
	return s.tables[ns]
}

func (s *Snapshot) Namespaces() []string {
	out := make([]string, 0, len(s.tables))
	for ns := range s.tables {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Fetch asks every node of c for its partition rows.
func Fetch(ctx context.Context, c partdiff.Cluster) (*Snapshot, error) {
	replies, err := c.InfoAll(ctx, InfoPartitions)
	if err != nil {
		return nil, fmt.Errorf("info %s: %w", InfoPartitions, err)
	}
	return Parse(replies)
}

// Parse builds a snapshot from the per-node replies of InfoPartitions.
func Parse(replies map[string]string) (*Snapshot, error) {
	s := &Snapshot{tables: make(map[string]*Table)}
	nodes := make([]string, 0, len(replies))
	for n := range replies {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, node := range nodes {
		if err := s.parseNode(node, replies[node]); err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
	}
	return s, nil
}

func (s *Snapshot) parseNode(node, text string) error {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "ERROR") {
		lower := strings.ToLower(text)
		for _, w := range []string{"role", "privilege", "authorized"} {
			if strings.Contains(lower, w) {
				return fmt.Errorf("%w: %s", ErrInsufficientPrivilege, text)
			}
		}
		return fmt.Errorf("%w: %s", ErrMalformedInfo, text)
	}
	entries := strings.Split(text, ";")
	cols := make(map[string]int)
	for i, name := range strings.Split(entries[0], ":") {
		cols[name] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return fmt.Errorf("%w: missing column %q", ErrMalformedInfo, c)
		}
	}

	for _, row := range entries[1:] {
		if row == "" {
			continue
		}
		f := strings.Split(row, ":")
		if len(f) < len(cols) {
			return fmt.Errorf("%w: short row %q", ErrMalformedInfo, row)
		}
		var nums [6]int64
		for i, c := range []string{"partition", "replica", "emigrates", "immigrates", "objects", "tombstones"} {
			n, err := strconv.ParseInt(f[cols[c]], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %s in %q: %v", ErrMalformedInfo, c, row, err)
			}
			nums[i] = n
		}
		pid, replica := int(nums[0]), nums[1]
		if err := partdiff.ValidatePartition(pid); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedInfo, err)
		}

		ns := f[cols["namespace"]]
		t := s.tables[ns]
		if t == nil {
			t = &Table{Namespace: ns}
			s.tables[ns] = t
		}
		e := &t.Entries[pid]
		e.Emigrates += nums[2]
		e.Immigrates += nums[3]
		state := f[cols["state"]]
		if replica != 0 || state != "S" {
			continue
		}
		e.masters++
		e.Known = true
		e.State = state
		e.Owner = node
		e.Objects = nums[4]
		e.Tombstones = nums[5]
	}
	return nil
}
