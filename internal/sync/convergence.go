package sync

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultSampleInterval is the pause between convergence samples.
	DefaultSampleInterval = 500 * time.Millisecond

	// DefaultStableSamples is how many identical consecutive samples count
	// as settled.
	DefaultStableSamples = 3
)

// Summary is a point-in-time fingerprint of replicable local state: live
// record counts per kind plus the number of unpushed actions.
type Summary struct {
	PerKindCounts  map[string]int64
	PendingActions int64
}

// Equal reports whether two summaries describe the same state.
func (s Summary) Equal(other Summary) bool {
	if s.PendingActions != other.PendingActions {
		return false
	}
	if len(s.PerKindCounts) != len(other.PerKindCounts) {
		return false
	}
	for kind, count := range s.PerKindCounts {
		if other.PerKindCounts[kind] != count {
			return false
		}
	}
	return true
}

// Detector decides when a device has settled after a sync run by sampling
// local state until it stops moving. Remote changes landing mid-wait arrive
// through the normal pull path and show up in the samples; the detector
// itself never talks to the server.
type Detector struct {
	// Sample reads the current local summary.
	Sample func(ctx context.Context) (Summary, error)

	// Repush, when set, is called once per burst of new pending actions
	// observed while waiting, so writes landing mid-run still replicate
	// inside the window.
	Repush func(ctx context.Context) error

	Interval time.Duration // defaults to DefaultSampleInterval
	Stable   int           // defaults to DefaultStableSamples
	Clock    Clock         // defaults to SystemClock
}

// Await samples until the state holds still for the configured number of
// consecutive samples with nothing pending, then returns true. It returns
// false when the timeout or ctx expires first; for a live shared ledger that
// is an expected outcome, not a failure.
func (d *Detector) Await(ctx context.Context, timeout time.Duration) bool {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	stable := d.Stable
	if stable <= 0 {
		stable = DefaultStableSamples
	}
	clk := d.Clock
	if clk == nil {
		clk = SystemClock
	}

	deadline := clk.Now().Add(timeout)
	var last Summary
	have := false
	streak := 0

	for {
		sum, err := d.Sample(ctx)
		switch {
		case err != nil:
			// A failed sample says nothing about stability.
			slog.Debug("convergence sample failed", "err", err)
			streak = 0
			have = false

		case sum.PendingActions > 0:
			if d.Repush != nil && (!have || !sum.Equal(last)) {
				if rerr := d.Repush(ctx); rerr != nil {
					slog.Debug("repush during convergence", "err", rerr)
				}
			}
			streak = 0
			last, have = sum, true

		case have && sum.Equal(last):
			streak++

		default:
			streak = 1
			last, have = sum, true
		}

		if streak >= stable {
			return true
		}
		if clk.Now().Add(interval).After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-clk.After(interval):
		}
	}
}
