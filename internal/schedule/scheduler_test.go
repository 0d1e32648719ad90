package schedule_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"playlog/internal/logging"
	"playlog/internal/pipeline"
	"playlog/internal/schedule"
)

func TestNewRejectsInvalidCronExpression(t *testing.T) {
	_, err := schedule.New("not a cron spec", func(context.Context) error { return nil }, logging.NewNop())
	if !errors.Is(err, pipeline.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewAcceptsDescriptors(t *testing.T) {
	for _, spec := range []string{"@hourly", "@every 6h", "0 3 * * *"} {
		if _, err := schedule.New(spec, func(context.Context) error { return nil }, logging.NewNop()); err != nil {
			t.Errorf("spec %q rejected: %v", spec, err)
		}
	}
}

func TestRunFiresJobAndStopsOnCancel(t *testing.T) {
	var runs atomic.Int32
	sched, err := schedule.New("@every 100ms", func(context.Context) error {
		runs.Add(1)
		return nil
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := sched.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline exceeded", err)
	}
	if runs.Load() == 0 {
		t.Fatal("job never fired")
	}
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	var active, overlapped atomic.Int32
	sched, err := schedule.New("@every 50ms", func(ctx context.Context) error {
		if active.Add(1) > 1 {
			overlapped.Add(1)
		}
		defer active.Add(-1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 600*time.Millisecond)
	defer cancel()
	_ = sched.Run(ctx)

	if overlapped.Load() != 0 {
		t.Fatalf("runs overlapped %d times", overlapped.Load())
	}
}
