// Command partdiff compares the records of two or more clusters and serves
// in-memory clusters over the remote protocol.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/partdiff/remote"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "partdiff",
		Short:         "Partition-parallel record reconciliation between clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "debug|info|warn|error")
	root.PersistentFlags().Bool("log-json", false, "log as JSON")

	root.PersistentFlags().Bool("tls", false, "enable TLS on the remote protocol")
	root.PersistentFlags().String("tls-cert", "", "certificate PEM")
	root.PersistentFlags().String("tls-key", "", "key PEM")
	root.PersistentFlags().String("tls-ca", "", "CA PEM")
	root.PersistentFlags().String("tls-server-name", "", "expected server name when dialing")
	root.PersistentFlags().Bool("mtls", false, "require client certificates")
	root.PersistentFlags().Duration("read-timeout", remote.Default().ReadTimeout, "remote read timeout")
	root.PersistentFlags().Duration("write-timeout", remote.Default().WriteTimeout, "remote write timeout")

	root.AddCommand(newCompareCmd(), newServeCmd())
	return root
}

// loadConfig layers flags over environment (PARTDIFF_*) over the config file.
func loadConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("PARTDIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

func newLogger(v *viper.Viper) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	cfg := zap.NewDevelopmentConfig()
	if v.GetBool("log-json") {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func remoteConfig(v *viper.Viper) remote.Config {
	cfg := remote.Default()
	cfg.TLS = remote.TLSMode{
		Enable:            v.GetBool("tls"),
		CertFile:          v.GetString("tls-cert"),
		KeyFile:           v.GetString("tls-key"),
		CAFile:            v.GetString("tls-ca"),
		ServerName:        v.GetString("tls-server-name"),
		RequireClientCert: v.GetBool("mtls"),
	}
	cfg.ReadTimeout = v.GetDuration("read-timeout")
	cfg.WriteTimeout = v.GetDuration("write-timeout")
	return cfg
}
