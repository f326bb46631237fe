package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/fogpdm/internal/alert"
	"codeberg.org/mutker/fogpdm/internal/config"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/monitor"
	"codeberg.org/mutker/fogpdm/internal/offload"
	"codeberg.org/mutker/fogpdm/internal/pid"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"codeberg.org/mutker/fogpdm/internal/store"
	"codeberg.org/mutker/fogpdm/internal/supervisor"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the multi-machine monitoring simulation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runSimulation(ctx, cfg, cmd.OutOrStdout())
		},
	}
}

func runSimulation(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg.Store.Driver == config.StoreSQLite {
		lock, err := pid.Acquire(pid.PathFor(cfg.Store.Path))
		if err != nil {
			return err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn().Err(err).Msg("Failed to remove PID file")
			}
		}()
	}

	source, closeSource, err := buildSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	edge, edgeName, err := buildPredictor(cfg.Edge, tierSeed(cfg.Seed, predictor.TierEdge))
	if err != nil {
		return err
	}
	cloud, cloudName, err := buildPredictor(cfg.Cloud, tierSeed(cfg.Seed, predictor.TierCloud))
	if err != nil {
		return err
	}

	policy, err := offload.NewPolicy(edge, cloud, offload.Config{
		Threshold:           cfg.LoadThreshold,
		EdgeTimeout:         cfg.Edge.TimeoutDuration(),
		CloudTimeout:        cfg.Cloud.TimeoutDuration(),
		FallbackTemperature: cfg.FallbackTemperature,
	})
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close result store")
		}
	}()

	runID := uuid.NewString()
	if err := st.StartRun(ctx, store.RunInfo{
		ID:        runID,
		StartedAt: time.Now(),
		Machines:  cfg.NumMachines,
		Duration:  cfg.Duration(),
		Threshold: cfg.LoadThreshold,
		Source:    cfg.Source,
	}); err != nil {
		return err
	}

	sinks := []monitor.Sink{st}
	if cfg.Alerts.Enabled {
		pub, err := alert.Connect(alertConfig(cfg), logger.With("alert"))
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	logger.Info().
		Str("run_id", runID).
		Str("source", cfg.Source).
		Str("edge", edgeName).
		Str("cloud", cloudName).
		Float64("threshold", cfg.LoadThreshold).
		Msg("Starting run")

	sup := supervisor.New(source, policy, supervisor.Config{
		Interval:         cfg.Interval(),
		JoinTimeout:      cfg.JoinWait(),
		ProgressInterval: cfg.ProgressEvery(),
		RunID:            runID,
		Threshold:        cfg.LoadThreshold,
		Source:           cfg.Source,
		Edge:             edgeName,
		Cloud:            cloudName,
	}, sinks...)

	rep, err := sup.Run(ctx, cfg.NumMachines, cfg.Duration())
	if err != nil {
		logError(err, "Run failed")
		return err
	}

	// The report is saved even when the run was interrupted.
	if err := st.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
		logError(err, "Failed to store report")
	}

	if cfg.Output.Path != "" {
		if err := rep.WriteFile(cfg.Output.Path, cfg.Output.Format); err != nil {
			logError(err, "Failed to write report")
			return err
		}
		logger.Info().Str("path", cfg.Output.Path).Str("format", cfg.Output.Format).Msg("Report written")
	}

	return rep.Print(out)
}
