package sync

import (
	"context"
	"testing"
	"time"
)

func TestSummaryEqual(t *testing.T) {
	a := Summary{PerKindCounts: map[string]int64{"expenses": 3, "pools": 1}}
	b := Summary{PerKindCounts: map[string]int64{"expenses": 3, "pools": 1}}
	if !a.Equal(b) {
		t.Error("identical summaries compare unequal")
	}

	b.PerKindCounts["expenses"] = 4
	if a.Equal(b) {
		t.Error("different counts compare equal")
	}

	c := Summary{PendingActions: 1, PerKindCounts: map[string]int64{"expenses": 3, "pools": 1}}
	if a.Equal(c) {
		t.Error("different pending counts compare equal")
	}

	empty := Summary{}
	emptyMap := Summary{PerKindCounts: map[string]int64{}}
	if !empty.Equal(emptyMap) {
		t.Error("nil map and empty map should compare equal")
	}
}

func TestDetector_ConvergesAfterStableSamples(t *testing.T) {
	samples := 0
	d := &Detector{
		Sample: func(ctx context.Context) (Summary, error) {
			samples++
			return Summary{PerKindCounts: map[string]int64{"expenses": 5}}, nil
		},
		Clock: &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}

	if !d.Await(context.Background(), 20*time.Second) {
		t.Fatal("stable state did not converge")
	}
	if samples != DefaultStableSamples {
		t.Errorf("samples = %d, want %d", samples, DefaultStableSamples)
	}
}

func TestDetector_TimesOutWhileChanging(t *testing.T) {
	var n int64
	samples := 0
	d := &Detector{
		Sample: func(ctx context.Context) (Summary, error) {
			samples++
			n++
			return Summary{PerKindCounts: map[string]int64{"expenses": n}}, nil
		},
		Interval: time.Second,
		Clock:    &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}

	if d.Await(context.Background(), 3*time.Second) {
		t.Fatal("changing state reported as converged")
	}
	if samples < 3 {
		t.Errorf("samples = %d, want the full window used", samples)
	}
}

func TestDetector_RepushesNewPendingActions(t *testing.T) {
	calls := 0
	repushes := 0
	d := &Detector{
		Sample: func(ctx context.Context) (Summary, error) {
			calls++
			if calls <= 2 {
				return Summary{PendingActions: 2, PerKindCounts: map[string]int64{"expenses": 1}}, nil
			}
			return Summary{PerKindCounts: map[string]int64{"expenses": 1}}, nil
		},
		Repush: func(ctx context.Context) error {
			repushes++
			return nil
		},
		Clock: &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}

	if !d.Await(context.Background(), 20*time.Second) {
		t.Fatal("did not converge after pending drained")
	}
	// Two identical pending samples are one burst, not two.
	if repushes != 1 {
		t.Errorf("repushes = %d, want 1", repushes)
	}
	if calls != 5 {
		t.Errorf("samples = %d, want 2 pending + 3 stable", calls)
	}
}

func TestDetector_SampleErrorResetsStreak(t *testing.T) {
	calls := 0
	d := &Detector{
		Sample: func(ctx context.Context) (Summary, error) {
			calls++
			if calls == 3 {
				return Summary{}, context.DeadlineExceeded
			}
			return Summary{PerKindCounts: map[string]int64{"expenses": 2}}, nil
		},
		Clock: &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
	}

	if !d.Await(context.Background(), 30*time.Second) {
		t.Fatal("did not converge after the failed sample")
	}
	// Streak was at 2 when the error hit; three fresh samples follow.
	if calls != 6 {
		t.Errorf("samples = %d, want 6", calls)
	}
}

func TestDetector_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var n int64
	d := &Detector{
		Sample: func(ctx context.Context) (Summary, error) {
			n++
			return Summary{PerKindCounts: map[string]int64{"expenses": n}}, nil
		},
		Interval: 50 * time.Millisecond,
	}

	if d.Await(ctx, 10*time.Second) {
		t.Fatal("converged despite cancelled context")
	}
}
