package compare

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/partdiff"
)

func TestValidate(t *testing.T) {
	ok := DefaultOptions("test")
	require.NoError(t, ok.Validate(2))
	require.ErrorIs(t, ok.Validate(1), ErrTooFewClusters)

	cases := map[string]func(*Options){
		"namespace":  func(o *Options) { o.Namespace = "" },
		"partition":  func(o *Options) { o.Partitions = []int{4096} },
		"duplicate":  func(o *Options) { o.Partitions = []int{1, 1} },
		"threads":    func(o *Options) { o.Threads = -1 },
		"rate":       func(o *Options) { o.RecordsPerSecond = -1 },
		"limits":     func(o *Options) { o.MaxRecords = -1 },
		"quickset":   func(o *Options) { o.Mode, o.Set = ModeQuickCount, "S" },
		"quickwin":   func(o *Options) { o.Mode, o.Window = ModeQuickCount, &partdiff.TimeWindow{After: time.Now()} },
		"monitoring": func(o *Options) { o.MonitorInterval = -time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions("test")
			mutate(&o)
			require.Error(t, o.Validate(2))
		})
	}
}

func TestParsePartitions(t *testing.T) {
	got, err := ParsePartitions("0-3, 7,2,4095")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3, 7, 4095}, got)

	for _, bad := range []string{"5-1", "x", "0-4096", "-1"} {
		_, err := ParsePartitions(bad)
		require.Error(t, err, bad)
	}
	require.Len(t, AllPartitions(), partdiff.NumPartitions)
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeQuickCount, ModeMissing, ModeHash, ModeFull} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
	_, err := ParseMode("fast")
	require.Error(t, err)
}
