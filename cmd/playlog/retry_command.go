package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"playlog/internal/progress"
)

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [key...]",
		Short: "Reset failed keys to pending",
		Long: "Move failed fetch keys back to pending so the next run retries them.\n" +
			"With no arguments every failed key is reset; otherwise only the named keys are.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := progress.Open(cfg.ProgressDBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			reset, err := store.RetryFailed(cmd.Context(), args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed keys to pending\n", reset)
			return nil
		},
	}
}
