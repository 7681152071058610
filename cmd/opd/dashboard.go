package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/digitalopd/opd/internal/dashboard"
)

func newDashboardCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Start the local status dashboard",
		Long:  "Serves a local HTTP API with the sync state, transcripts, the offline queue,\nand a live event stream. Runs the full sync engine in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "opd.yaml", "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runDashboard(cmd *cobra.Command, configPath string, port int) error {
	eng, err := buildEngine(configPath)
	if err != nil {
		return err
	}
	defer eng.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	eng.monitor.Start(ctx)
	go eng.syncer.Run(ctx)

	if port <= 0 {
		port = eng.cfg.Dashboard.Port
	}
	return dashboard.Start(ctx, dashboard.StartOpts{
		Store:        eng.store,
		Orchestrator: eng.syncer,
		Port:         port,
		Out:          cmd.OutOrStdout(),
	})
}
