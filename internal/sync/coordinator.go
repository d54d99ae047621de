package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRunTimeout bounds one full push/pull/converge cycle.
	DefaultRunTimeout = 45 * time.Second

	// DefaultConvergeTimeout bounds the converging phase within a run.
	DefaultConvergeTimeout = 20 * time.Second
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerManual  Trigger = "manual"  // xp sync now
	TriggerEnable  Trigger = "enable"  // replication switched on
	TriggerNotify  Trigger = "notify"  // server notification
	TriggerAuto    Trigger = "auto"    // debounced local write
	TriggerStartup Trigger = "startup" // process start with a linked ledger
)

// Runner executes the sync legs against a store and a server. Implemented
// by StoreRunner; coordinator tests substitute stubs.
type Runner interface {
	// Push sends pending local actions, returning how many were accepted.
	Push(ctx context.Context) (int, error)

	// Pull drains and applies remote events.
	Pull(ctx context.Context) (PullStats, error)

	// Summary fingerprints local replicable state.
	Summary(ctx context.Context) (Summary, error)
}

// Outcome summarises one finished run.
type Outcome struct {
	RunID      string
	Trigger    Trigger
	Pushed     int
	Pulled     int
	Conflicts  int
	Converged  bool
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Coordinator serializes sync runs. At most one run is active; triggers
// arriving mid-run coalesce into a single follow-up run, so a burst of
// notifications costs one extra cycle, not one cycle each.
type Coordinator struct {
	runner  Runner
	feed    *StatusFeed
	enabled func() bool
	clock   Clock

	runTimeout      time.Duration
	convergeTimeout time.Duration
	sampleInterval  time.Duration

	mu          gosync.Mutex
	running     bool
	pending     bool
	nextTrigger Trigger
}

type CoordinatorConfig struct {
	Runner Runner

	// Enabled gates triggers; nil means always enabled.
	Enabled func() bool

	RunTimeout      time.Duration
	ConvergeTimeout time.Duration
	SampleInterval  time.Duration
	Clock           Clock
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		runner:          cfg.Runner,
		feed:            NewStatusFeed(),
		enabled:         cfg.Enabled,
		clock:           cfg.Clock,
		runTimeout:      cfg.RunTimeout,
		convergeTimeout: cfg.ConvergeTimeout,
		sampleInterval:  cfg.SampleInterval,
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	if c.runTimeout <= 0 {
		c.runTimeout = DefaultRunTimeout
	}
	if c.convergeTimeout <= 0 {
		c.convergeTimeout = DefaultConvergeTimeout
	}
	return c
}

// Feed exposes the status feed for subscribers.
func (c *Coordinator) Feed() *StatusFeed {
	return c.feed
}

// Trigger requests a sync run and returns immediately. When a run is
// already active the request is folded into one follow-up run.
func (c *Coordinator) Trigger(reason Trigger) {
	if c.enabled != nil && !c.enabled() {
		slog.Debug("sync trigger ignored, replication disabled", "trigger", reason)
		return
	}

	c.mu.Lock()
	if c.running {
		c.pending = true
		c.nextTrigger = reason
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	go c.loop(reason)
}

// RunNow triggers a run and blocks until a run requested at or after this
// call finishes, returning its outcome. The outcome's Err field carries any
// recorded error; the returned error only reports cancellation or a
// disabled engine.
func (c *Coordinator) RunNow(ctx context.Context) (Outcome, error) {
	if c.enabled != nil && !c.enabled() {
		return Outcome{}, ErrDisabled
	}

	ch, cancel := c.feed.Subscribe()
	defer cancel()

	requested := c.clock.Now()
	c.Trigger(TriggerManual)

	for {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case s, ok := <-ch:
			if !ok {
				return Outcome{}, errors.New("status feed closed")
			}
			if s.Outcome != nil && !s.Outcome.StartedAt.Before(requested) {
				return *s.Outcome, nil
			}
		}
	}
}

func (c *Coordinator) loop(reason Trigger) {
	for {
		c.runOnce(reason)

		c.mu.Lock()
		if !c.pending {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		reason = c.nextTrigger
		c.mu.Unlock()
	}
}

func (c *Coordinator) runOnce(reason Trigger) Outcome {
	out := Outcome{
		RunID:     uuid.NewString(),
		Trigger:   reason,
		StartedAt: c.clock.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.runTimeout)
	defer cancel()

	c.feed.publish(Status{Phase: PhasePushing, RunID: out.RunID})
	pushed, err := c.runner.Push(ctx)
	out.Pushed = pushed
	if err != nil {
		if Classify(err) != KindTransient {
			return c.finish(out, err, PhaseFailed)
		}
		// Transient push trouble still lets the pull leg bring the store
		// forward; the pending actions go out on the next trigger.
		slog.Warn("sync push", "run", out.RunID, "err", err)
		out.Err = err
	}

	c.feed.publish(Status{Phase: PhasePulling, RunID: out.RunID})
	stats, err := c.runner.Pull(ctx)
	out.Pulled = stats.Events
	out.Conflicts = stats.Conflicts
	if err != nil {
		if Classify(err) != KindTransient {
			return c.finish(out, err, PhaseFailed)
		}
		slog.Warn("sync pull", "run", out.RunID, "err", err)
		if out.Err == nil {
			out.Err = err
		}
	}

	c.feed.publish(Status{Phase: PhaseConverging, RunID: out.RunID})
	detector := &Detector{
		Sample: c.runner.Summary,
		Repush: func(ctx context.Context) error {
			n, err := c.runner.Push(ctx)
			out.Pushed += n
			return err
		},
		Interval: c.sampleInterval,
		Clock:    c.clock,
	}
	out.Converged = detector.Await(ctx, c.convergeTimeout)

	phase := PhaseTimedOut
	if out.Converged {
		phase = PhaseSettled
	}
	return c.finish(out, nil, phase)
}

func (c *Coordinator) finish(out Outcome, err error, phase Phase) Outcome {
	if err != nil && out.Err == nil {
		out.Err = err
	}
	out.FinishedAt = c.clock.Now()

	attrs := []any{
		"run", out.RunID,
		"trigger", out.Trigger,
		"phase", phase,
		"pushed", out.Pushed,
		"pulled", out.Pulled,
		"conflicts", out.Conflicts,
	}
	if out.Err != nil {
		attrs = append(attrs, "err", out.Err)
	}
	if phase == PhaseFailed {
		slog.Error("sync run failed", attrs...)
	} else {
		slog.Info("sync run finished", attrs...)
	}

	c.feed.publish(Status{Phase: phase, RunID: out.RunID, Outcome: &out})
	return out
}
