// Package workflow wires the pipeline stages into a full run: combine,
// clean, dataset match, API enrichment, merge, and split, guarded by a
// cross-process run lock.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"playlog/internal/config"
	"playlog/internal/enrich"
	"playlog/internal/extmatch"
	"playlog/internal/history"
	"playlog/internal/logging"
	"playlog/internal/merge"
	"playlog/internal/metastore"
	"playlog/internal/notify"
	"playlog/internal/pipeline"
	"playlog/internal/progress"
	"playlog/internal/report"
	"playlog/internal/split"
	"playlog/internal/spotify"
	"playlog/internal/trackkey"
)

// ErrRunInProgress reports that another process holds the run lock. The
// scheduler treats this as a skipped tick, not a failure.
var ErrRunInProgress = errors.New("another run is in progress")

// Options tunes a single run.
type Options struct {
	// MergeOnly skips API enrichment, rebuilding the merged output from
	// whatever both sources already hold. No credentials are needed.
	MergeOnly bool
	// OnFetchProgress receives per-key progress during enrichment.
	OnFetchProgress func(done, total int)
}

// Result reports what a run accomplished.
type Result struct {
	RunID      string
	BaseRows   int
	Keys       int
	Match      extmatch.Stats
	Enrich     enrich.Summary
	Merge      merge.Stats
	Subsets    map[string]int
	Coverage   *report.Coverage
	StartedAt  time.Time
	FinishedAt time.Time
}

// Workflow owns the collaborators shared across runs.
type Workflow struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier notify.Service
	fetcher  enrich.Fetcher
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithFetcher overrides the metadata fetcher. Intended for tests.
func WithFetcher(fetcher enrich.Fetcher) Option {
	return func(w *Workflow) {
		w.fetcher = fetcher
	}
}

// New builds a workflow over the given configuration.
func New(cfg *config.Config, logger *slog.Logger, notifier notify.Service, opts ...Option) *Workflow {
	if notifier == nil {
		notifier = notify.NewService(cfg)
	}
	w := &Workflow{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "workflow"),
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes one full pipeline pass. Concurrent invocations are excluded
// via the run lock; the loser receives ErrRunInProgress.
func (w *Workflow) Run(ctx context.Context, opts Options) (*Result, error) {
	lock := pipeline.NewRunLock(w.cfg.LockPath())
	acquired, err := lock.TryAcquire()
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRunInProgress
	}
	defer lock.Release()

	result := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	log := w.logger.With(logging.String("run_id", result.RunID))
	log.Info("pipeline run starting", logging.Bool("merge_only", opts.MergeOnly))

	if err := w.run(ctx, opts, result, log); err != nil {
		_ = w.notifier.NotifyError(ctx, err, "pipeline run")
		return result, err
	}

	result.FinishedAt = time.Now().UTC()
	log.Info("pipeline run finished",
		logging.Int("merged_rows", result.Merge.Rows),
		logging.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result, nil
}

func (w *Workflow) run(ctx context.Context, opts Options, result *Result, log *slog.Logger) error {
	if err := w.cfg.EnsureDirectories(); err != nil {
		return pipeline.Wrap(pipeline.ErrStorage, "workflow", "ensure directories", err)
	}

	if err := w.prepareBase(ctx, result, log); err != nil {
		return err
	}

	basePath := w.cfg.CleanHistoryPath()
	if err := history.ValidateSchema(basePath); err != nil {
		return err
	}

	keys, err := history.DistinctKeys(basePath)
	if err != nil {
		return err
	}
	result.Keys = len(keys)

	reliable, err := w.matchDataset(ctx, result, log)
	if err != nil {
		return err
	}

	if !opts.MergeOnly {
		if err := w.enrich(ctx, opts, result, keys, reliable, log); err != nil {
			return err
		}
	}

	mergeStats, err := merge.Merge(ctx, merge.Inputs{
		BasePath:     basePath,
		MatchedPath:  w.cfg.MatchedPath(),
		MetadataPath: w.cfg.MetadataPath(),
		OutPath:      w.cfg.MergedPath(),
	}, w.logger)
	if err != nil {
		return err
	}
	result.Merge = mergeStats
	_ = w.notifier.NotifyMergeCompleted(ctx, mergeStats.Rows, w.cfg.MergedPath())

	subsets, err := split.Split(ctx, w.cfg.MergedPath(), w.cfg.Split.Column, w.cfg.Paths.EnrichedDir)
	if err != nil {
		return err
	}
	result.Subsets = subsets

	coverage, err := report.Build(ctx, report.Paths{
		BasePath:     basePath,
		MatchedPath:  w.cfg.MatchedPath(),
		MetadataPath: w.cfg.MetadataPath(),
		MergedPath:   w.cfg.MergedPath(),
	})
	if err != nil {
		return err
	}
	result.Coverage = coverage
	return nil
}

// prepareBase rebuilds the combined and cleaned tables from the export
// directory. When the directory holds no exports but a previous clean table
// exists, the run proceeds on the existing table so enrichment can resume
// without the original export files present.
func (w *Workflow) prepareBase(ctx context.Context, result *Result, log *slog.Logger) error {
	combined, err := history.Combine(ctx, w.cfg.Paths.ExportsDir, w.cfg.CombinedHistoryPath())
	if err != nil {
		if errors.Is(err, pipeline.ErrConfiguration) && fileExists(w.cfg.CleanHistoryPath()) {
			rows, countErr := history.RowCount(w.cfg.CleanHistoryPath())
			if countErr != nil {
				return countErr
			}
			result.BaseRows = rows
			log.Info("no exports found, reusing existing base table",
				logging.Int("rows", rows))
			return nil
		}
		return err
	}

	minPlayed := time.Duration(w.cfg.Cleaning.MinPlayedSeconds) * time.Second
	stats, err := history.Clean(ctx, w.cfg.CombinedHistoryPath(), w.cfg.CleanHistoryPath(), minPlayed)
	if err != nil {
		return err
	}
	result.BaseRows = stats.Kept
	log.Info("base table prepared",
		logging.Int("combined", combined),
		logging.Int("kept", stats.Kept),
		logging.Int("dropped", stats.Dropped))
	return nil
}

// matchDataset refreshes the dataset-matched table when a reference dataset
// is configured and present. Keys with a reliable match skip API fetching.
func (w *Workflow) matchDataset(ctx context.Context, result *Result, log *slog.Logger) (map[string]struct{}, error) {
	datasetPath := w.cfg.Dataset.Path
	if datasetPath == "" || !fileExists(datasetPath) {
		log.Info("reference dataset absent, skipping dataset match")
		return extmatch.ReliableKeys(w.cfg.MatchedPath())
	}

	stats, err := extmatch.Match(ctx, w.cfg.CleanHistoryPath(), datasetPath, w.cfg.MatchedPath())
	if err != nil {
		return nil, err
	}
	result.Match = stats
	log.Info("dataset match complete",
		logging.Int("keys", stats.BaseKeys),
		logging.Int("matched", stats.Matched))

	return extmatch.ReliableKeys(w.cfg.MatchedPath())
}

func (w *Workflow) enrich(ctx context.Context, opts Options, result *Result, keys []trackkey.Key, reliable map[string]struct{}, log *slog.Logger) error {
	fetcher := w.fetcher
	if fetcher == nil {
		if err := w.cfg.ValidateSpotifyCredentials(); err != nil {
			return err
		}
		cooldown, err := spotify.NewCooldown(w.cfg.CooldownPath())
		if err != nil {
			return err
		}
		client, err := spotify.New(spotify.Config{
			ClientID:        w.cfg.Spotify.ClientID,
			ClientSecret:    w.cfg.Spotify.ClientSecret,
			BaseURL:         w.cfg.Spotify.BaseURL,
			TokenURL:        w.cfg.Spotify.TokenURL,
			RequestInterval: time.Duration(w.cfg.Spotify.RequestIntervalMS) * time.Millisecond,
		}, cooldown, w.logger)
		if err != nil {
			return pipeline.Wrap(pipeline.ErrConfiguration, "workflow", "build spotify client", err)
		}
		fetcher = client
	}

	store, err := progress.Open(w.cfg.ProgressDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	sink, err := metastore.Open(w.cfg.MetadataPath())
	if err != nil {
		return err
	}
	defer sink.Close()

	orch, err := enrich.New(fetcher, store, sink, w.logger, enrich.Options{
		BatchSize:  w.cfg.Spotify.BatchSize,
		BatchPause: time.Duration(w.cfg.Spotify.BatchPauseSeconds) * time.Second,
		Retry: enrich.RetryPolicy{
			MaxAttempts:    w.cfg.Spotify.MaxRetries,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		OnProgress: opts.OnFetchProgress,
	})
	if err != nil {
		return pipeline.Wrap(pipeline.ErrConfiguration, "workflow", "build orchestrator", err)
	}

	_ = w.notifier.NotifyRunStarted(ctx, len(keys)-len(reliable))
	summary, err := orch.Run(ctx, keys, reliable)
	result.Enrich = summary
	if err != nil {
		return err
	}
	if summary.RateLimited {
		_ = w.notifier.NotifyRateLimited(ctx, summary.ResumeAt)
		log.Warn("enrichment paused by rate limit",
			logging.Time("resume_at", summary.ResumeAt))
	}
	_ = w.notifier.NotifyRunCompleted(ctx, summary.Fetched, summary.NotFound, summary.Failed, summary.Elapsed)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
