package partdiff

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Action is a set of comparison policies attached to a path pattern.
type Action uint8

const (
	// ActionIgnore skips the matched subtree.
	ActionIgnore Action = 1 << iota
	// ActionUnordered compares every list in the matched subtree as a multiset.
	ActionUnordered
)

func (a Action) Has(b Action) bool { return a&b == b && b != 0 }

func (a Action) String() string {
	var parts []string
	if a.Has(ActionIgnore) {
		parts = append(parts, "ignore")
	}
	if a.Has(ActionUnordered) {
		parts = append(parts, "unordered")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// ParseAction accepts "ignore" and "unordered" (alias "compare-unordered").
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ignore":
		return ActionIgnore, nil
	case "unordered", "compare-unordered", "compareunordered":
		return ActionUnordered, nil
	}
	return 0, fmt.Errorf("unknown path action %q", s)
}

type segKind uint8

const (
	segLiteral segKind = iota
	segOne             // "*": exactly one segment
	segDeep            // "**": zero or more segments
)

type patternSeg struct {
	kind segKind
	lit  string
}

// Pattern is a slash-delimited path pattern. A segment is a literal, "*" or
// "**"; wildcards cannot be mixed with literal text in one segment.
type Pattern struct {
	raw    string
	segs   []patternSeg
	minLen int
}

// ParsePattern validates and compiles s.
func ParsePattern(s string) (Pattern, error) {
	if !strings.HasPrefix(s, "/") {
		return Pattern{}, fmt.Errorf("%w: %q must start with '/'", ErrInvalidPattern, s)
	}
	body := strings.TrimSuffix(s[1:], "/")
	if body == "" {
		return Pattern{}, fmt.Errorf("%w: %q is empty", ErrInvalidPattern, s)
	}
	p := Pattern{raw: s}
	for _, part := range strings.Split(body, "/") {
		switch {
		case part == "":
			return Pattern{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPattern, s)
		case part == "**":
			// consecutive "**" are equivalent to one
			if n := len(p.segs); n > 0 && p.segs[n-1].kind == segDeep {
				continue
			}
			p.segs = append(p.segs, patternSeg{kind: segDeep})
		case part == "*":
			p.segs = append(p.segs, patternSeg{kind: segOne})
			p.minLen++
		case strings.Contains(part, "*"):
			return Pattern{}, fmt.Errorf("%w: %q mixes a wildcard with literal text in segment %q", ErrInvalidPattern, s, part)
		default:
			p.segs = append(p.segs, patternSeg{kind: segLiteral, lit: part})
			p.minLen++
		}
	}
	return p, nil
}

// MustPattern is ParsePattern for patterns known at compile time.
func MustPattern(s string) Pattern {
	p, err := ParsePattern(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) String() string { return p.raw }

// Match reports whether the whole path matches the pattern.
func (p Pattern) Match(path []string) bool {
	if len(path) < p.minLen {
		return false
	}
	return matchSegs(p.segs, path)
}

func matchSegs(pat []patternSeg, path []string) bool {
	for len(pat) > 0 {
		s := pat[0]
		switch s.kind {
		case segDeep:
			rest := pat[1:]
			if len(rest) == 0 {
				return true
			}
			// fewest segments first: "**" gives way to the next literal as
			// early as the remaining pattern allows
			for i := 0; i <= len(path); i++ {
				if matchSegs(rest, path[i:]) {
					return true
				}
			}
			return false
		case segOne:
			if len(path) == 0 {
				return false
			}
		case segLiteral:
			if len(path) == 0 || path[0] != s.lit {
				return false
			}
		}
		pat, path = pat[1:], path[1:]
	}
	return len(path) == 0
}

// Rule pairs a pattern with the actions it triggers.
type Rule struct {
	Pattern Pattern
	Action  Action
}

func ParseRule(pattern string, action Action) (Rule, error) {
	p, err := ParsePattern(pattern)
	if err != nil {
		return Rule{}, err
	}
	if action == 0 {
		return Rule{}, fmt.Errorf("%w: %q has no action", ErrInvalidPattern, pattern)
	}
	return Rule{Pattern: p, Action: action}, nil
}

// RuleSet is the immutable policy consulted by every worker. A nil RuleSet
// matches nothing.
type RuleSet struct {
	rules []Rule
}

func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: append([]Rule(nil), rules...)}
}

func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.rules...)
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Match unions the actions of every rule matching path.
func (rs *RuleSet) Match(path []string) Action {
	if rs == nil {
		return 0
	}
	var a Action
	for _, r := range rs.rules {
		if r.Pattern.Match(path) {
			a |= r.Action
		}
	}
	return a
}

// HasAction reports whether any rule carries action.
func (rs *RuleSet) HasAction(action Action) bool {
	if rs == nil {
		return false
	}
	for _, r := range rs.rules {
		if r.Action.Has(action) {
			return true
		}
	}
	return false
}

// IgnoredBins lists the bins of ns/set that are ignored by a rule naming the
// bin literally. Used where whole-record hashes stand in for a full diff.
func (rs *RuleSet) IgnoredBins(ns, set string) []string {
	if rs == nil {
		return nil
	}
	var bins []string
	for _, r := range rs.rules {
		if !r.Action.Has(ActionIgnore) || len(r.Pattern.segs) != 3 {
			continue
		}
		last := r.Pattern.segs[2]
		if last.kind != segLiteral {
			continue
		}
		if r.Pattern.Match([]string{ns, set, last.lit}) {
			bins = append(bins, last.lit)
		}
	}
	return bins
}

// HashOptions derives the hashing policy for ns/set from the rules.
func (rs *RuleSet) HashOptions(ns, set string) HashOptions {
	return HashOptions{
		UnorderedLists: rs.HasAction(ActionUnordered),
		IgnoreBins:     rs.IgnoredBins(ns, set),
	}
}

type ruleFile struct {
	Rules []struct {
		Path   string `yaml:"path"`
		Action string `yaml:"action"`
	} `yaml:"rules"`
}

// LoadRules reads a YAML rule file:
//
//	rules:
//	  - path: /test/*/lastSeen
//	    action: ignore
//	  - path: /test/users/**/tags
//	    action: unordered
func LoadRules(r io.Reader) (*RuleSet, error) {
	var f ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	for i, fr := range f.Rules {
		a, err := ParseAction(fr.Action)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rule, err := ParseRule(fr.Path, a)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return NewRuleSet(rules...), nil
}
