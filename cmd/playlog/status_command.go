package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"playlog/internal/progress"
	"playlog/internal/report"
	"playlog/internal/spotify"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show enrichment coverage and fetch progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			coverage, err := report.Build(cmd.Context(), report.Paths{
				BasePath:     cfg.CleanHistoryPath(),
				MatchedPath:  cfg.MatchedPath(),
				MetadataPath: cfg.MetadataPath(),
				MergedPath:   cfg.MergedPath(),
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			rows := [][]string{
				{"History rows", strconv.Itoa(coverage.BaseRows)},
				{"Distinct keys", strconv.Itoa(coverage.DistinctKeys)},
				{"Dataset-covered keys", strconv.Itoa(coverage.DatasetKeys)},
				{"API-covered keys", strconv.Itoa(coverage.APIKeys)},
				{"Merged rows", strconv.Itoa(coverage.MergedRows)},
			}
			for _, source := range []string{"dataset", "api", "none"} {
				rows = append(rows, []string{"Merged rows from " + source, strconv.Itoa(coverage.SourceRows[source])})
			}
			fmt.Fprintln(out, renderTable([]string{"Coverage", "Count"}, rows))

			store, err := progress.Open(cfg.ProgressDBPath())
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			progressRows := [][]string{
				{"pending", strconv.Itoa(stats[progress.StatusPending])},
				{"done", strconv.Itoa(stats[progress.StatusDone])},
				{"failed", strconv.Itoa(stats[progress.StatusFailed])},
			}
			fmt.Fprintln(out, renderTable([]string{"Fetch progress", "Keys"}, progressRows))

			cooldown, err := spotify.NewCooldown(cfg.CooldownPath())
			if err != nil {
				return err
			}
			if until, active := cooldown.Active(time.Now()); active {
				fmt.Fprintf(out, "Fetch cooldown active until %s (%s)\n",
					until.Format(time.RFC1123), cooldown.Reason())
			}

			failed, err := store.Failed(cmd.Context())
			if err != nil {
				return err
			}
			if len(failed) > 0 {
				failedRows := make([][]string, 0, len(failed))
				for _, rec := range failed {
					failedRows = append(failedRows, []string{rec.Key, strconv.Itoa(rec.Attempts), rec.FailureReason})
				}
				fmt.Fprintln(out, renderTable([]string{"Failed key", "Attempts", "Reason"}, failedRows))
			}
			return nil
		},
	}
}
