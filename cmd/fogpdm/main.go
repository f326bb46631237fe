package main

import (
	"fmt"
	"os"

	"codeberg.org/mutker/fogpdm/internal/config"
	"codeberg.org/mutker/fogpdm/internal/errors"
	"codeberg.org/mutker/fogpdm/internal/logger"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fogpdm",
		Short:         "Edge/cloud offload simulator for predictive maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newRunCmd(), newReportCmd(), newServeCmd())

	return root
}

// setup loads the configuration and initializes logging.
func setup(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		return nil, err
	}
	logger.Debug().Msg("Config loaded")

	return cfg, nil
}

func logError(err error, msg string) {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
		return
	}
	logger.Error().Err(err).Msg(msg)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
