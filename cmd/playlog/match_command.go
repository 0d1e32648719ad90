package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playlog/internal/extmatch"
)

func newMatchCommand(ctx *commandContext) *cobra.Command {
	var download bool

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match history keys against the bulk reference dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			if download {
				if err := extmatch.Download(cmd.Context(), cfg.Dataset.DownloadURL, cfg.Dataset.Path, logger); err != nil {
					return err
				}
			}

			stats, err := extmatch.Match(cmd.Context(), cfg.CleanHistoryPath(), cfg.Dataset.Path, cfg.MatchedPath())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Matched %d of %d distinct keys into %s\n",
				stats.Matched, stats.BaseKeys, cfg.MatchedPath())
			return nil
		},
	}

	cmd.Flags().BoolVar(&download, "download", false, "Download the reference dataset before matching")
	return cmd
}
