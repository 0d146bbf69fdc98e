package partdiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPatternWildcards(t *testing.T) {
	tests := []struct {
		pattern string
		path    []string
		want    bool
	}{
		{"/test/*/ignoreDiff", []string{"test", "compSet", "ignoreDiff"}, true},
		{"/test/*/ignoreDiff", []string{"test", "compSet", "extra", "ignoreDiff"}, false},
		{"/test/*/ignoreDiff", []string{"test", "ignoreDiff"}, false},
		{"/test/**/ignoreDiff", []string{"test", "compSet", "ignoreDiff"}, true},
		{"/test/**/ignoreDiff", []string{"test", "a", "b", "c", "ignoreDiff"}, true},
		{"/test/**/ignoreDiff", []string{"test", "ignoreDiff"}, true},
		{"/test/**/ignoreDiff", []string{"test", "a", "ignoreDiff", "b"}, false},
		{"/test/**", []string{"test"}, true},
		{"/test/**", []string{"test", "a", "b"}, true},
		{"/test/**", []string{"prod", "a"}, false},
		{"/**/x/*", []string{"a", "x", "b", "x", "c"}, true},
		{"/a/b/c", []string{"a", "b"}, false},
		{"/a/b", []string{"a", "b", "c"}, false},
		{"/*/*", []string{"a", "b"}, true},
		{"/**/**/x", []string{"x"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.pattern+"~"+strings.Join(tc.path, "/"), func(t *testing.T) {
			p, err := ParsePattern(tc.pattern)
			require.NoError(t, err)
			require.Equal(t, tc.want, p.Match(tc.path))
		})
	}
}

func TestParsePatternRejects(t *testing.T) {
	for _, bad := range []string{"", "test/a", "/", "/a//b", "/a*/b", "/a/b*c", "/***"} {
		_, err := ParsePattern(bad)
		require.ErrorIs(t, err, ErrInvalidPattern, "pattern %q", bad)
	}
}

func TestRuleSetUnionsActions(t *testing.T) {
	rs := NewRuleSet(
		Rule{Pattern: MustPattern("/test/*/tags"), Action: ActionUnordered},
		Rule{Pattern: MustPattern("/test/**/tags"), Action: ActionIgnore},
		Rule{Pattern: MustPattern("/other/**"), Action: ActionIgnore},
	)
	a := rs.Match([]string{"test", "users", "tags"})
	require.True(t, a.Has(ActionUnordered))
	require.True(t, a.Has(ActionIgnore))
	require.Equal(t, ActionIgnore, rs.Match([]string{"test", "users", "x", "tags"}))
	require.Zero(t, rs.Match([]string{"test", "users", "name"}))

	var nilSet *RuleSet
	require.Zero(t, nilSet.Match([]string{"test"}))
}

func TestLoadRules(t *testing.T) {
	src := `
rules:
  - path: /test/*/lastSeen
    action: ignore
  - path: /test/users/**/tags
    action: unordered
`
	rs, err := LoadRules(strings.NewReader(src))
	require.NoError(t, err)
	require.Equal(t, 2, rs.Len())
	require.Equal(t, []string{"lastSeen"}, rs.IgnoredBins("test", "users"))
	opts := rs.HashOptions("test", "users")
	require.True(t, opts.UnorderedLists)

	_, err = LoadRules(strings.NewReader("rules:\n  - path: /test/a*b\n    action: ignore\n"))
	require.ErrorIs(t, err, ErrInvalidPattern)

	_, err = LoadRules(strings.NewReader("rules:\n  - path: /test/a\n    action: shred\n"))
	require.Error(t, err)
}
