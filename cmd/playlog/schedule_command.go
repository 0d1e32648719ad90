package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"playlog/internal/schedule"
	"playlog/internal/workflow"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var cronSpec string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule",
		Long: "Run in the foreground and trigger a full pipeline pass per the cron\n" +
			"expression. A tick that fires while a run is still going is skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			spec := cronSpec
			if spec == "" {
				spec = cfg.Schedule.Cron
			}
			if spec == "" {
				return fmt.Errorf("no cron expression configured; set schedule.cron or pass --cron")
			}

			w := workflow.New(cfg, logger, ctx.notifier())
			job := func(jobCtx context.Context) error {
				_, err := w.Run(jobCtx, workflow.Options{})
				if errors.Is(err, workflow.ErrRunInProgress) {
					// Another process got there first; the next tick
					// picks up whatever remains.
					return nil
				}
				return err
			}

			sched, err := schedule.New(spec, job, logger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Scheduling pipeline runs: %s\n", spec)
			if err := sched.Run(runCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cronSpec, "cron", "", "Cron expression overriding schedule.cron")
	return cmd
}
