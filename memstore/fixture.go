package memstore

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/partdiff"
)

// Fixture is the YAML dataset format:
//
//	nodes: [a, b]
//	replication: 2
//	records:
//	  - namespace: test
//	    set: S
//	    key: 1
//	    bins: {name: Tim, age: 312}
type Fixture struct {
	Nodes       []string        `yaml:"nodes"`
	Replication int             `yaml:"replication"`
	Records     []FixtureRecord `yaml:"records"`
}

type FixtureRecord struct {
	Namespace string         `yaml:"namespace"`
	Set       string         `yaml:"set"`
	Key       any            `yaml:"key"`
	Bins      map[string]any `yaml:"bins"`
}

// LoadFixture decodes a fixture and returns a store holding its records.
func LoadFixture(r io.Reader, opts ...Option) (*Store, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode fixture: %w", err)
	}
	if len(fx.Nodes) > 0 {
		opts = append([]Option{WithNodes(fx.Nodes...)}, opts...)
	}
	if fx.Replication > 0 {
		opts = append([]Option{WithReplication(fx.Replication)}, opts...)
	}
	s := New(opts...)
	for i, fr := range fx.Records {
		if fr.Namespace == "" {
			return nil, fmt.Errorf("record %d: namespace is required", i)
		}
		uk, err := partdiff.FromAny(fr.Key)
		if err != nil {
			return nil, fmt.Errorf("record %d key: %w", i, err)
		}
		bins, err := partdiff.BinsFromAny(fr.Bins)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if _, err := s.PutBins(fr.Namespace, fr.Set, uk, bins); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return s, nil
}
