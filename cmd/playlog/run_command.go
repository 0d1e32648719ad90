package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"playlog/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var mergeOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full enrichment pipeline",
		Long: "Combine exports, clean the history, match against the reference dataset,\n" +
			"fetch missing metadata from the Spotify API, and rebuild the merged output.\n" +
			"Interrupted runs resume where they stopped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := workflow.Options{MergeOnly: mergeOnly}
			var bar *progressbar.ProgressBar
			if isatty.IsTerminal(os.Stderr.Fd()) && !mergeOnly {
				opts.OnFetchProgress = func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("fetching metadata"),
							progressbar.OptionSetWriter(os.Stderr),
							progressbar.OptionShowCount(),
							progressbar.OptionClearOnFinish(),
						)
					}
					_ = bar.Set(done)
				}
			}

			w := workflow.New(cfg, logger, ctx.notifier())
			result, err := w.Run(runCtx, opts)
			if bar != nil {
				_ = bar.Finish()
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !mergeOnly {
				fmt.Fprintf(out, "Enriched %d keys (%d not found, %d failed, %d already done, %d dataset-covered)\n",
					result.Enrich.Fetched, result.Enrich.NotFound, result.Enrich.Failed,
					result.Enrich.SkippedDone, result.Enrich.SkippedExternal)
				if result.Enrich.RateLimited {
					fmt.Fprintf(out, "Rate limited by Spotify; run again after %s to continue\n",
						result.Enrich.ResumeAt.Local().Format(time.RFC1123))
				}
			}
			fmt.Fprintf(out, "Merged %d rows into %s\n", result.Merge.Rows, cfg.MergedPath())
			for subset, count := range result.Subsets {
				fmt.Fprintf(out, "  %s: %d rows\n", subset, count)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mergeOnly, "merge-only", false, "Skip API fetching and rebuild the merged output only")
	return cmd
}
