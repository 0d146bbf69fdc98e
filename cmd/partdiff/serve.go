package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/partdiff/memstore"
	"github.com/unkn0wn-root/partdiff/remote"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a fixture-backed cluster over the remote protocol",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log, err := newLogger(v)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			path := v.GetString("fixture")
			if path == "" {
				return fmt.Errorf("--fixture is required")
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			store, err := memstore.LoadFixture(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			srv, err := remote.NewServer(store, remoteConfig(v), log)
			if err != nil {
				return err
			}
			go func() {
				<-cmd.Context().Done()
				log.Info("shutting down")
				_ = srv.Close()
			}()
			if err := srv.ListenAndServe(v.GetString("listen")); err != remote.ErrServerClosed {
				return err
			}
			log.Info("server stopped", zap.String("fixture", path))
			return nil
		},
	}
	cmd.Flags().String("listen", ":3100", "listen address")
	cmd.Flags().String("fixture", "", "YAML dataset to serve")
	return cmd
}
