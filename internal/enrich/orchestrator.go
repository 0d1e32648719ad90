package enrich

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"playlog/internal/logging"
	"playlog/internal/metastore"
	"playlog/internal/pipeline"
	"playlog/internal/progress"
	"playlog/internal/spotify"
	"playlog/internal/trackkey"
)

// Fetcher looks up metadata for a single (track, artist) pair.
type Fetcher interface {
	Lookup(ctx context.Context, track, artist string) (*metastore.Record, error)
}

// Options tunes a run.
type Options struct {
	BatchSize  int
	BatchPause time.Duration
	Retry      RetryPolicy
	// OnProgress, when set, is invoked after each processed key with the
	// number of keys handled so far and the total scheduled for this run.
	OnProgress func(done, total int)
}

// Summary reports what a run accomplished.
type Summary struct {
	Total           int
	Fetched         int
	NotFound        int
	Failed          int
	SkippedDone     int
	SkippedExternal int
	RateLimited     bool
	ResumeAt        time.Time
	Elapsed         time.Duration
}

// Orchestrator coordinates one enrichment pass over a set of keys.
type Orchestrator struct {
	fetcher Fetcher
	store   *progress.Store
	sink    *metastore.Accumulator
	logger  *slog.Logger
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds an orchestrator. All collaborators are required.
func New(fetcher Fetcher, store *progress.Store, sink *metastore.Accumulator, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	if store == nil {
		return nil, errors.New("progress store required")
	}
	if sink == nil {
		return nil, errors.New("metadata accumulator required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	opts.Retry = opts.Retry.normalized()
	return &Orchestrator{
		fetcher: fetcher,
		store:   store,
		sink:    sink,
		logger:  logging.NewComponentLogger(logger, "enrich"),
		opts:    opts,
		sleep:   sleepContext,
	}, nil
}

// Run processes every key not already done and not covered by a reliable
// external match. Keys are handled one at a time; cancellation and the
// rate-limit stop both take effect only between keys, so no key is ever left
// half-recorded.
//
// Per-key durability ordering: the metadata row is appended and synced
// BEFORE the done status commits. A crash between the two re-fetches the key
// on the next run and appends a duplicate row, which the merge stage dedups;
// the reverse order would silently lose the record.
func (o *Orchestrator) Run(ctx context.Context, keys []trackkey.Key, skipExternal map[string]struct{}) (Summary, error) {
	start := time.Now()
	summary := Summary{}

	done, err := o.store.DoneKeys(ctx)
	if err != nil {
		return summary, err
	}

	var scheduled []trackkey.Key
	for _, key := range keys {
		if _, ok := skipExternal[key.Value]; ok {
			summary.SkippedExternal++
			continue
		}
		if _, ok := done[key.Value]; ok {
			summary.SkippedDone++
			continue
		}
		scheduled = append(scheduled, key)
	}
	summary.Total = len(scheduled)

	o.logger.Info("enrichment run starting",
		logging.Int("keys", len(keys)),
		logging.Int("scheduled", summary.Total),
		logging.Int("skipped_done", summary.SkippedDone),
		logging.Int("skipped_external", summary.SkippedExternal))

	processed := 0
	for _, key := range scheduled {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		if processed > 0 && o.opts.BatchPause > 0 && processed%o.opts.BatchSize == 0 {
			if err := o.sleep(ctx, o.opts.BatchPause); err != nil {
				summary.Elapsed = time.Since(start)
				return summary, err
			}
		}

		stop, err := o.processKey(ctx, key, &summary)
		if err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}
		processed++
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(processed, summary.Total)
		}
		if stop {
			break
		}
	}

	summary.Elapsed = time.Since(start)
	o.logger.Info("enrichment run finished",
		logging.Int("fetched", summary.Fetched),
		logging.Int("not_found", summary.NotFound),
		logging.Int("failed", summary.Failed),
		logging.Bool("rate_limited", summary.RateLimited),
		logging.Duration("elapsed", summary.Elapsed))
	return summary, nil
}

// processKey handles one key to a committed outcome. The bool result
// requests a cooperative stop of the whole run.
func (o *Orchestrator) processKey(ctx context.Context, key trackkey.Key, summary *Summary) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= o.opts.Retry.MaxAttempts; attempt++ {
		if err := o.store.MarkAttempt(ctx, key.Value); err != nil {
			return false, err
		}

		rec, err := o.fetcher.Lookup(ctx, key.Track, key.Artist)
		if err == nil {
			if err := o.sink.Append(*rec); err != nil {
				return false, err
			}
			if err := o.store.Commit(ctx, key.Value, progress.StatusDone, ""); err != nil {
				return false, err
			}
			summary.Fetched++
			return false, nil
		}

		if errors.Is(err, pipeline.ErrNotFound) {
			// Terminal answer: the key is done with no metadata. It will
			// not be re-queried on later runs.
			if err := o.store.Commit(ctx, key.Value, progress.StatusDone, "not found"); err != nil {
				return false, err
			}
			summary.NotFound++
			return false, nil
		}

		var rateErr *spotify.RateLimitError
		if errors.As(err, &rateErr) {
			// The key stays pending and leads the queue next run.
			summary.RateLimited = true
			summary.ResumeAt = rateErr.Until
			o.logger.Warn("rate limited, stopping run",
				logging.String("key", key.Value),
				logging.Time("resume_at", rateErr.Until))
			return true, nil
		}

		if !retriable(err) {
			return false, err
		}

		lastErr = err
		if attempt < o.opts.Retry.MaxAttempts {
			o.logger.Warn("fetch attempt failed, retrying",
				logging.String("key", key.Value),
				logging.Int("attempt", attempt),
				logging.Error(err))
			if err := o.sleep(ctx, o.opts.Retry.backoff(attempt)); err != nil {
				return false, err
			}
		}
	}

	// Retries exhausted: record the failure and move on. `playlog retry`
	// resets the key to pending later.
	reason := "transient failure"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	if err := o.store.Commit(ctx, key.Value, progress.StatusFailed, reason); err != nil {
		return false, err
	}
	summary.Failed++
	o.logger.Warn("key failed after retries", logging.String("key", key.Value), logging.Error(lastErr))
	return false, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
