package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/forcelab/eoltester/pkg/api"
	"github.com/forcelab/eoltester/pkg/store"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded results over HTTP",
	Long:  `Start the results API without touching any hardware.`,
	RunE:  serveAPI,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serveAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	st := store.New(log, cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	apiCfg := cfg.API
	apiCfg.Enabled = true

	srv, err := api.NewServer(log, apiCfg, st)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Info("Received shutdown signal")
	case <-ctx.Done():
	}

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping API server: %w", err)
	}

	return nil
}
