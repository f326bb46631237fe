package main

import (
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the latest stored run report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cmd)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			rep, err := st.LatestReport(cmd.Context())
			if err != nil {
				return err
			}

			if raw {
				data, err := rep.Encode(cfg.Output.Format)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			return rep.Print(cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the report encoded in --format instead of as text")
	return cmd
}
