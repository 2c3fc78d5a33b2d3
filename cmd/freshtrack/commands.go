package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"FreshnessTracker/internal/app"
	"FreshnessTracker/internal/config"
	"FreshnessTracker/internal/domain"
	"FreshnessTracker/internal/logging"
	"FreshnessTracker/internal/usecase"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "freshtrack",
		Short:        "Supply-chain freshness simulator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults to $FRESHNESS_TRACKER_CONFIG)")

	load := func() config.Config {
		if configPath != "" {
			return config.LoadFrom(configPath)
		}
		return config.Load()
	}

	root.AddCommand(newServeCmd(load), newSampleCmd(load))
	return root
}

func newServeCmd(load func() config.Config) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the simulation loop",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("application setup failed", "error", err)
				return err
			}
			if err := application.Run(ctx); err != nil {
				logger.Error("application stopped", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides http.addr")
	return cmd
}

func newSampleCmd(load func() config.Config) *cobra.Command {
	var (
		stageName string
		patch     int
		at        string
	)

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Print the reading and freshness score for one stage, patch and time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			return runSample(cmd.OutOrStdout(), cfg, stageName, patch, at)
		},
	}
	cmd.Flags().StringVar(&stageName, "stage", string(domain.StageOrigin), "stage name (origin, storage, transit, pos)")
	cmd.Flags().IntVar(&patch, "patch", 1, "patch id")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 tick time (defaults to now)")
	return cmd
}

func runSample(out io.Writer, cfg config.Config, stageName string, patch int, at string) error {
	stage, err := domain.ParseKnownStage(stageName)
	if err != nil {
		return err
	}

	when := time.Now()
	if at != "" {
		if when, err = time.Parse(time.RFC3339, at); err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
	}

	sample, err := usecase.NewSampler(cfg.Simulation.Patches, cfg.Simulation.Location()).
		Sample(stage, domain.PatchID(patch), when)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sample.Payload())
}
