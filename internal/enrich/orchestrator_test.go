package enrich_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"playlog/internal/enrich"
	"playlog/internal/logging"
	"playlog/internal/metastore"
	"playlog/internal/pipeline"
	"playlog/internal/progress"
	"playlog/internal/spotify"
	"playlog/internal/trackkey"
)

// scriptedFetcher replays a fixed sequence of outcomes per key.
type scriptedFetcher struct {
	outcomes map[string][]error
	calls    map[string]int
}

func newScriptedFetcher() *scriptedFetcher {
	return &scriptedFetcher{outcomes: map[string][]error{}, calls: map[string]int{}}
}

func (f *scriptedFetcher) script(key string, outcomes ...error) {
	f.outcomes[key] = outcomes
}

func (f *scriptedFetcher) Lookup(_ context.Context, track, artist string) (*metastore.Record, error) {
	key := trackkey.Normalize(track, artist)
	call := f.calls[key]
	f.calls[key]++

	script, ok := f.outcomes[key]
	if !ok {
		return nil, fmt.Errorf("unscripted key %s", key)
	}
	if call >= len(script) {
		call = len(script) - 1
	}
	if err := script[call]; err != nil {
		return nil, err
	}
	return &metastore.Record{
		TrackName:  track,
		ArtistName: artist,
		Key:        key,
		FetchedAt:  time.Now().UTC(),
		SpotifyID:  "id-" + key,
	}, nil
}

type fixture struct {
	fetcher *scriptedFetcher
	store   *progress.Store
	sink    *metastore.Accumulator
	metaCSV string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := progress.Open(filepath.Join(dir, "progress.db"))
	if err != nil {
		t.Fatalf("open progress store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	metaCSV := filepath.Join(dir, "spotify_metadata.csv")
	sink, err := metastore.Open(metaCSV)
	if err != nil {
		t.Fatalf("open accumulator: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	return &fixture{fetcher: newScriptedFetcher(), store: store, sink: sink, metaCSV: metaCSV}
}

func (f *fixture) orchestrator(t *testing.T, opts enrich.Options) *enrich.Orchestrator {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = enrich.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	}
	orch, err := enrich.New(f.fetcher, f.store, f.sink, logging.NewNop(), opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

func keys(pairs ...[2]string) []trackkey.Key {
	out := make([]trackkey.Key, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, trackkey.New(pair[0], pair[1]))
	}
	return out
}

func TestRunRecordsEveryOutcome(t *testing.T) {
	f := newFixture(t)
	f.fetcher.script("hit|||artist", nil)
	f.fetcher.script("miss|||artist", fmt.Errorf("%w: nothing", pipeline.ErrNotFound))
	f.fetcher.script("flaky|||artist", pipeline.Wrap(pipeline.ErrTransient, "spotify", "boom", nil), nil)
	f.fetcher.script("broken|||artist", pipeline.Wrap(pipeline.ErrTransient, "spotify", "down", nil))

	orch := f.orchestrator(t, enrich.Options{})
	summary, err := orch.Run(context.Background(), keys(
		[2]string{"Hit", "Artist"},
		[2]string{"Miss", "Artist"},
		[2]string{"Flaky", "Artist"},
		[2]string{"Broken", "Artist"},
	), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 2 || summary.NotFound != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	ctx := context.Background()
	for key, want := range map[string]progress.Status{
		"hit|||artist":    progress.StatusDone,
		"miss|||artist":   progress.StatusDone,
		"flaky|||artist":  progress.StatusDone,
		"broken|||artist": progress.StatusFailed,
	} {
		got, err := f.store.Status(ctx, key)
		if err != nil {
			t.Fatalf("status %s: %v", key, err)
		}
		if got != want {
			t.Errorf("status[%s] = %s, want %s", key, got, want)
		}
	}

	records, err := metastore.Records(f.metaCSV)
	if err != nil {
		t.Fatalf("read records: %v", err)
	}
	// Only actual hits produce rows; not-found and failed keys do not.
	if len(records) != 2 {
		t.Fatalf("expected 2 metadata rows, got %d", len(records))
	}
}

func TestRunStopsOnRateLimitAndResumes(t *testing.T) {
	f := newFixture(t)
	until := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	f.fetcher.script("one|||a", nil)
	f.fetcher.script("two|||a", &spotify.RateLimitError{Until: until, RetryAfter: time.Hour})
	f.fetcher.script("three|||a", nil)

	allKeys := keys([2]string{"One", "A"}, [2]string{"Two", "A"}, [2]string{"Three", "A"})

	orch := f.orchestrator(t, enrich.Options{})
	summary, err := orch.Run(context.Background(), allKeys, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.RateLimited {
		t.Fatal("expected rate-limited stop")
	}
	if !summary.ResumeAt.Equal(until) {
		t.Errorf("ResumeAt = %v, want %v", summary.ResumeAt, until)
	}
	if summary.Fetched != 1 {
		t.Errorf("Fetched = %d, want 1", summary.Fetched)
	}

	ctx := context.Background()
	if got, _ := f.store.Status(ctx, "one|||a"); got != progress.StatusDone {
		t.Errorf("one status = %s, want done", got)
	}
	if got, _ := f.store.Status(ctx, "two|||a"); got != progress.StatusPending {
		t.Errorf("two status = %s, want pending", got)
	}
	if got, _ := f.store.Status(ctx, "three|||a"); got != progress.StatusUnknown {
		t.Errorf("three status = %s, want unknown (never attempted)", got)
	}

	// Second run: the rate limit cleared, only the remaining keys run.
	f.fetcher.script("two|||a", nil)
	summary, err = orch.Run(context.Background(), allKeys, nil)
	if err != nil {
		t.Fatalf("resume Run: %v", err)
	}
	if summary.SkippedDone != 1 || summary.Fetched != 2 {
		t.Fatalf("unexpected resume summary: %+v", summary)
	}
	if f.fetcher.calls["one|||a"] != 1 {
		t.Errorf("done key was re-fetched %d times", f.fetcher.calls["one|||a"])
	}
}

func TestRunSkipsExternallyMatchedKeys(t *testing.T) {
	f := newFixture(t)
	f.fetcher.script("api|||a", nil)

	skip := map[string]struct{}{"dataset|||a": {}}
	orch := f.orchestrator(t, enrich.Options{})
	summary, err := orch.Run(context.Background(), keys(
		[2]string{"Dataset", "A"},
		[2]string{"Api", "A"},
	), skip)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.SkippedExternal != 1 || summary.Fetched != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if f.fetcher.calls["dataset|||a"] != 0 {
		t.Error("externally matched key must not be fetched")
	}
}

func TestRunHonorsCancellationBetweenKeys(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.fetcher.script("one|||a", nil)
	f.fetcher.script("two|||a", nil)

	orch := f.orchestrator(t, enrich.Options{
		OnProgress: func(done, total int) {
			if done == 1 {
				cancel()
			}
		},
	})
	_, err := orch.Run(ctx, keys([2]string{"One", "A"}, [2]string{"Two", "A"}), nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	// The first key completed before cancellation and must stay done.
	if got, _ := f.store.Status(context.Background(), "one|||a"); got != progress.StatusDone {
		t.Errorf("one status = %s, want done", got)
	}
}

func TestRunCountsAttempts(t *testing.T) {
	f := newFixture(t)
	f.fetcher.script("flaky|||a",
		pipeline.Wrap(pipeline.ErrTransient, "spotify", "boom", nil),
		pipeline.Wrap(pipeline.ErrTransient, "spotify", "boom", nil),
		nil)

	orch := f.orchestrator(t, enrich.Options{
		Retry: enrich.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
	summary, err := orch.Run(context.Background(), keys([2]string{"Flaky", "A"}), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Fetched != 1 {
		t.Fatalf("Fetched = %d, want 1", summary.Fetched)
	}

	rec, err := f.store.Get(context.Background(), "flaky|||a")
	if err != nil || rec == nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
}
