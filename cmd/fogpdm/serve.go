package main

import (
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/fogpdm/internal/config"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"codeberg.org/mutker/fogpdm/internal/predictor"
	"github.com/spf13/cobra"
)

const defaultListenAddress = "localhost:12345"

func newServeCmd() *cobra.Command {
	var (
		listen string
		tier   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a tier's predictor over TCP for socket clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			var pc config.PredictorConfig
			switch predictor.Tier(tier) {
			case predictor.TierEdge:
				pc = cfg.Edge
			case predictor.TierCloud:
				pc = cfg.Cloud
			default:
				return errors.New().WithData(errors.ErrInvalidArgument, struct{ Tier string }{tier})
			}
			if pc.Kind == config.PredictorSocket {
				return errors.New().WithMessage(errors.ErrInvalidArgument, "cannot serve a socket predictor")
			}

			p, name, err := buildPredictor(pc, tierSeed(cfg.Seed, predictor.Tier(tier)))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := predictor.NewServer(p, pc.TimeoutDuration(), logger.With("server"))
			if err := srv.Listen(listen); err != nil {
				return err
			}
			logger.Info().Str("tier", tier).Str("predictor", name).Msg("Serving predictions")

			return srv.Serve(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", defaultListenAddress, "Address to listen on")
	cmd.Flags().StringVar(&tier, "tier", string(predictor.TierCloud), "Tier whose predictor is served (edge, cloud)")
	return cmd
}
