package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff"
	"github.com/unkn0wn-root/partdiff/compare"
	"github.com/unkn0wn-root/partdiff/memstore"
	"github.com/unkn0wn-root/partdiff/remote"
)

const remoteScheme = "remote://"

func newCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare records between clusters",
		Long: `Compare walks every partition of a namespace on all clusters at once
and reports records that are missing or differ.

A cluster is either a YAML fixture path or remote://host:port.`,
		RunE: runCompare,
	}
	f := cmd.Flags()
	f.StringSlice("cluster", nil, "cluster to compare (repeat, at least two)")
	f.String("namespace", "", "namespace to compare")
	f.String("set", "", "restrict to one set")
	f.StringSlice("target", nil, "namespace[/set] to compare in turn (overrides --namespace/--set)")
	f.String("partitions", "", "partition list, e.g. 0-99,512 (default all)")
	f.Int("threads", 0, "worker count (default number of CPUs)")
	f.String("mode", compare.ModeFull.String(), "quick|missing|hash|full")
	f.String("after", "", "only records updated at or after this RFC3339 time")
	f.String("before", "", "only records updated before this RFC3339 time")
	f.Int("rps", 0, "records per second per scan (0 unlimited)")
	f.Int64("max-differences", 0, "stop after this many differences (0 unlimited)")
	f.Int64("max-records", 0, "stop after this many compared keys (0 unlimited)")
	f.String("rules", "", "YAML path-rule file")
	f.Bool("quick-diff", false, "stop each record diff at its first difference")
	f.Bool("fallback", false, "fall back to a missing-records scan when quick compare is not possible")
	f.Duration("monitor-interval", 10*time.Second, "progress log interval (0 disables)")
	f.Int("read-ahead", remote.Default().ReadAhead, "read-ahead queue capacity for remote scans (0 disables)")
	f.String("metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func runCompare(cmd *cobra.Command, _ []string) error {
	v, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := newLogger(v)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	opts, err := compareOptions(v)
	if err != nil {
		return err
	}
	targets, err := parseTargets(v)
	if err != nil {
		return err
	}

	rcfg := remoteConfig(v)
	rcfg.ReadAhead = v.GetInt("read-ahead")
	clusters, err := openClusters(v.GetStringSlice("cluster"), rcfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clusters {
			if err := c.Close(); err != nil {
				log.Warn("close cluster", zap.Error(err))
			}
		}
	}()

	if addr := v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	runner := compare.New(clusters,
		compare.WithLogger(log),
		compare.WithMissingSink(compare.NewLogSink(log)),
		compare.WithDifferenceSink(compare.NewLogSink(log)),
	)
	summaries, err := runner.RunTargets(cmd.Context(), targets, opts)
	var total int64
	for _, s := range summaries {
		logSummary(log, s)
		total += s.Differences()
	}
	if err != nil {
		return err
	}
	if total > 0 {
		return fmt.Errorf("%d differences found", total)
	}
	return nil
}

func compareOptions(v *viper.Viper) (compare.Options, error) {
	opts := compare.DefaultOptions(v.GetString("namespace"))
	opts.Set = v.GetString("set")
	opts.Threads = v.GetInt("threads")
	opts.RecordsPerSecond = v.GetInt("rps")
	opts.MaxDifferences = v.GetInt64("max-differences")
	opts.MaxRecords = v.GetInt64("max-records")
	opts.QuickDiff = v.GetBool("quick-diff")
	opts.FallbackToScan = v.GetBool("fallback")
	opts.MonitorInterval = v.GetDuration("monitor-interval")

	mode, err := compare.ParseMode(v.GetString("mode"))
	if err != nil {
		return opts, err
	}
	opts.Mode = mode

	if s := v.GetString("partitions"); s != "" {
		if opts.Partitions, err = compare.ParsePartitions(s); err != nil {
			return opts, err
		}
	}

	after, before := v.GetString("after"), v.GetString("before")
	if after != "" || before != "" {
		w := &partdiff.TimeWindow{AfterInclusive: true}
		if after != "" {
			if w.After, err = time.Parse(time.RFC3339, after); err != nil {
				return opts, fmt.Errorf("--after: %w", err)
			}
		}
		if before != "" {
			if w.Before, err = time.Parse(time.RFC3339, before); err != nil {
				return opts, fmt.Errorf("--before: %w", err)
			}
		}
		opts.Window = w
	}

	if path := v.GetString("rules"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return opts, err
		}
		defer f.Close()
		if opts.Rules, err = partdiff.LoadRules(f); err != nil {
			return opts, fmt.Errorf("%s: %w", path, err)
		}
	}
	return opts, nil
}

func parseTargets(v *viper.Viper) ([]compare.Target, error) {
	raw := v.GetStringSlice("target")
	if len(raw) == 0 {
		return []compare.Target{{Namespace: v.GetString("namespace"), Set: v.GetString("set")}}, nil
	}
	targets := make([]compare.Target, 0, len(raw))
	for _, s := range raw {
		ns, set, _ := strings.Cut(s, "/")
		if ns == "" {
			return nil, fmt.Errorf("target %q: namespace is required", s)
		}
		targets = append(targets, compare.Target{Namespace: ns, Set: set})
	}
	return targets, nil
}

// openClusters opens every cluster or none.
func openClusters(specs []string, cfg remote.Config, log *zap.Logger) ([]partdiff.Cluster, error) {
	clusters := make([]partdiff.Cluster, 0, len(specs))
	closeAll := func() {
		for _, c := range clusters {
			_ = c.Close()
		}
	}
	for i, spec := range specs {
		c, err := openCluster(spec, cfg, log.With(zap.Int("cluster", i)))
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("cluster %d (%s): %w", i, spec, err)
		}
		clusters = append(clusters, c)
	}
	return clusters, nil
}

func openCluster(spec string, cfg remote.Config, log *zap.Logger) (partdiff.Cluster, error) {
	if addr, ok := strings.CutPrefix(spec, remoteScheme); ok {
		return remote.NewClient(addr, cfg, log)
	}
	f, err := os.Open(spec)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return memstore.LoadFixture(f)
}

func logSummary(log *zap.Logger, s *compare.Summary) {
	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("namespace", s.Namespace),
		zap.String("set", s.Set),
		zap.Stringer("mode", s.Mode),
		zap.Int64("partitions", s.Partitions),
		zap.Int64s("records", s.Records),
		zap.Int64s("missing", s.Missing),
		zap.Int64("differing", s.Differing),
		zap.Int64("compared", s.Compared),
		zap.Duration("elapsed", s.Elapsed),
	}
	if s.Fallback != nil {
		fields = append(fields, zap.NamedError("fallback", s.Fallback))
	}
	if s.Mode == compare.ModeQuickCount {
		fields = append(fields, zap.Int("count_mismatches", len(s.CountMismatches)))
	}
	if s.Abort != compare.AbortNone {
		fields = append(fields, zap.Stringer("abort", s.Abort), zap.Int64("abort_count", s.AbortCount))
	}
	log.Info("comparison finished", fields...)
}

