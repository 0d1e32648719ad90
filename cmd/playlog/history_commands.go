package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"playlog/internal/history"
)

func newCombineCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "combine",
		Short: "Combine raw Spotify export files into one CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			total, err := history.Combine(cmd.Context(), cfg.Paths.ExportsDir, cfg.CombinedHistoryPath())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Combined %d plays into %s\n", total, cfg.CombinedHistoryPath())
			return nil
		},
	}
}

func newCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Derive analysis columns and drop short plays",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			minPlayed := time.Duration(cfg.Cleaning.MinPlayedSeconds) * time.Second
			stats, err := history.Clean(cmd.Context(), cfg.CombinedHistoryPath(), cfg.CleanHistoryPath(), minPlayed)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleaned %d plays (%d dropped as shorter than %s) into %s\n",
				stats.Kept, stats.Dropped, minPlayed, cfg.CleanHistoryPath())
			return nil
		},
	}
}
