package progress_test

import (
	"context"
	"path/filepath"
	"testing"

	"playlog/internal/progress"
)

func openStore(t *testing.T, path string) *progress.Store {
	t.Helper()
	store, err := progress.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStatusUnknownForUnseenKey(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))

	status, err := store.Status(context.Background(), "never|||seen")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != progress.StatusUnknown {
		t.Fatalf("expected unknown, got %q", status)
	}
}

func TestCommitAndStatus(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	if err := store.Commit(ctx, "track|||artist", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	status, err := store.Status(ctx, "track|||artist")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != progress.StatusDone {
		t.Fatalf("expected done, got %q", status)
	}
}

func TestCommitSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	ctx := context.Background()

	store := openStore(t, path)
	if err := store.Commit(ctx, "k1", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Commit(ctx, "k2", progress.StatusFailed, "retries exhausted"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := openStore(t, path)
	status, err := reopened.Status(ctx, "k1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != progress.StatusDone {
		t.Fatalf("expected done after reopen, got %q", status)
	}
	rec, err := reopened.Get(ctx, "k2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil || rec.FailureReason != "retries exhausted" {
		t.Fatalf("unexpected record after reopen: %#v", rec)
	}
}

func TestPendingFiltersDoneKeys(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	if err := store.Commit(ctx, "k2", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Commit(ctx, "k3", progress.StatusFailed, "boom"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	remaining, err := store.Pending(ctx, []string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("Pending failed: %v", err)
	}
	if len(remaining) != 2 || remaining[0] != "k1" || remaining[1] != "k3" {
		t.Fatalf("unexpected pending keys: %v", remaining)
	}
}

func TestMarkAttemptIncrements(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.MarkAttempt(ctx, "k1"); err != nil {
			t.Fatalf("MarkAttempt failed: %v", err)
		}
	}
	rec, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec == nil || rec.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %#v", rec)
	}
	if rec.Status != progress.StatusPending {
		t.Fatalf("expected pending after attempts, got %q", rec.Status)
	}
	if rec.LastAttemptAt.IsZero() {
		t.Fatal("expected last attempt timestamp")
	}
}

func TestRetryFailed(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		if err := store.Commit(ctx, key, progress.StatusFailed, "boom"); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}
	if err := store.Commit(ctx, "k3", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	count, err := store.RetryFailed(ctx)
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 retried keys, got %d", count)
	}
	status, err := store.Status(ctx, "k1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != progress.StatusPending {
		t.Fatalf("expected pending after retry, got %q", status)
	}
	rec, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.FailureReason != "" {
		t.Fatalf("expected cleared failure reason, got %q", rec.FailureReason)
	}
}

func TestRetryFailedSelectedKeysOnly(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	for _, key := range []string{"k1", "k2"} {
		if err := store.Commit(ctx, key, progress.StatusFailed, "boom"); err != nil {
			t.Fatalf("Commit failed: %v", err)
		}
	}

	count, err := store.RetryFailed(ctx, "k1")
	if err != nil {
		t.Fatalf("RetryFailed failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 retried key, got %d", count)
	}
	status, _ := store.Status(ctx, "k2")
	if status != progress.StatusFailed {
		t.Fatalf("expected k2 untouched, got %q", status)
	}
}

func TestStats(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	ctx := context.Background()

	if err := store.Commit(ctx, "k1", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Commit(ctx, "k2", progress.StatusDone, ""); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := store.Commit(ctx, "k3", progress.StatusFailed, "boom"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats[progress.StatusDone] != 2 || stats[progress.StatusFailed] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}
