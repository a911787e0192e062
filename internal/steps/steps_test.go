package steps

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoCommitsAndReplays(t *testing.T) {
	log := NewMemoryLog()
	calls := 0
	body := func(context.Context) ([]string, error) {
		calls++
		return []string{"a", "b"}, nil
	}

	first, err := Do(context.Background(), NewExecutor(log, "run-1", nil), "load", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A retried run gets a fresh executor over the same log.
	second, err := Do(context.Background(), NewExecutor(log, "run-1", nil), "load", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected body to run once, ran %d times", calls)
	}
	if len(second) != 2 || second[0] != first[0] || second[1] != first[1] {
		t.Fatalf("replayed %v, want %v", second, first)
	}
}

func TestDoIsScopedByRun(t *testing.T) {
	log := NewMemoryLog()
	calls := 0
	body := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	if _, err := Do(context.Background(), NewExecutor(log, "run-1", nil), "count", body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := Do(context.Background(), NewExecutor(log, "run-2", nil), "count", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 2 {
		t.Fatalf("expected a different run to execute the body, got %d", got)
	}
}

func TestDoFailedStepIsRetried(t *testing.T) {
	log := NewMemoryLog()
	boom := errors.New("boom")
	ex := NewExecutor(log, "run-1", nil)

	_, err := Do(context.Background(), ex, "flaky", func(context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped body error, got %v", err)
	}

	got, err := Do(context.Background(), ex, "flaky", func(context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected retry to run the body, got %q, %v", got, err)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, NewExecutor(NewMemoryLog(), "run-1", nil), "never", func(context.Context) (int, error) {
		t.Fatal("body must not run after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryLogKeepsFirstResult(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	if err := log.SaveStep(ctx, "r", "s", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	if err := log.SaveStep(ctx, "r", "s", []byte(`2`)); err != nil {
		t.Fatal(err)
	}
	raw, ok, err := log.LoadStep(ctx, "r", "s")
	if err != nil || !ok || string(raw) != "1" {
		t.Fatalf("got %q, %v, %v", raw, ok, err)
	}
}

func TestMemoryLogPrunesStaleRuns(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	clock := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return clock }

	if err := log.SaveStep(ctx, "old", "s", []byte(`1`)); err != nil {
		t.Fatal(err)
	}
	clock = clock.AddDate(0, 0, 10)
	if err := log.SaveStep(ctx, "new", "s", []byte(`2`)); err != nil {
		t.Fatal(err)
	}

	pruned, err := log.PruneSteps(ctx, clock.AddDate(0, 0, -7))
	if err != nil || pruned != 1 {
		t.Fatalf("expected one pruned run, got %d, %v", pruned, err)
	}
	if _, ok, _ := log.LoadStep(ctx, "old", "s"); ok {
		t.Fatal("expected the stale run to be gone")
	}
	if _, ok, _ := log.LoadStep(ctx, "new", "s"); !ok {
		t.Fatal("expected the recent run to survive")
	}
}
