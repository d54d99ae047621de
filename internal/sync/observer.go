package sync

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/elena/xp/internal/syncclient"
)

// Notification retry backoff bounds.
const (
	DefaultNotifyRetryMin = 1 * time.Second
	DefaultNotifyRetryMax = 60 * time.Second
)

// Notifier opens a change notification stream for a ledger.
// *syncclient.Client satisfies it.
type Notifier interface {
	Notifications(ctx context.Context, ledgerID string) (<-chan syncclient.Notification, error)
}

// Observer keeps a notification subscription open and nudges the coordinator
// when another device pushes. Dropped connections are redialed with doubling
// backoff; a successful subscribe resets it. The observer never replicates
// anything itself, it only converts server hints into triggers.
type Observer struct {
	notifier Notifier
	ledgerID string
	trigger  func(Trigger)
	enabled  func() bool
	min, max time.Duration
	clock    Clock
	running  atomic.Bool
}

// ObserverConfig wires an Observer.
type ObserverConfig struct {
	Notifier Notifier
	LedgerID string
	Trigger  func(Trigger)
	Enabled  func() bool

	RetryMin time.Duration
	RetryMax time.Duration
	Clock    Clock
}

// NewObserver builds an observer with defaults filled in.
func NewObserver(cfg ObserverConfig) *Observer {
	o := &Observer{
		notifier: cfg.Notifier,
		ledgerID: cfg.LedgerID,
		trigger:  cfg.Trigger,
		enabled:  cfg.Enabled,
		min:      cfg.RetryMin,
		max:      cfg.RetryMax,
		clock:    cfg.Clock,
	}
	if o.min <= 0 {
		o.min = DefaultNotifyRetryMin
	}
	if o.max < o.min {
		o.max = DefaultNotifyRetryMax
	}
	if o.enabled == nil {
		o.enabled = func() bool { return true }
	}
	if o.clock == nil {
		o.clock = SystemClock
	}
	return o
}

// Run blocks until ctx is cancelled, maintaining the subscription. A second
// concurrent Run returns immediately so callers can start it from multiple
// paths without stacking connections.
func (o *Observer) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return nil
	}
	defer o.running.Store(false)

	backoff := o.min
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !o.enabled() {
			// Replication is off: no connection to hold, recheck later.
			if !o.sleep(ctx, o.min) {
				return ctx.Err()
			}
			continue
		}

		ch, err := o.notifier.Notifications(ctx, o.ledgerID)
		if err != nil {
			// Account errors are kept retrying too: the key may be fixed
			// while we run, and a dead observer is worse than a slow one.
			if Classify(err) == KindAccount {
				slog.Warn("notification subscribe refused", "error", err, "retry_in", backoff)
			} else {
				slog.Debug("notification subscribe failed", "error", err, "retry_in", backoff)
			}
			if !o.sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = o.nextBackoff(backoff)
			continue
		}

		slog.Debug("notification stream open", "ledger_id", o.ledgerID)
		backoff = o.min

		// Events may have arrived while disconnected, so every successful
		// subscribe is worth one run.
		o.trigger(TriggerNotify)

		for n := range ch {
			slog.Debug("change notification",
				"ledger_id", n.LedgerID,
				"last_server_seq", n.LastServerSeq)
			o.trigger(TriggerNotify)
		}
		// Stream closed: either the connection dropped or ctx ended.
	}
}

func (o *Observer) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-o.clock.After(d):
		return true
	}
}

func (o *Observer) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > o.max {
		next = o.max
	}
	return next
}
