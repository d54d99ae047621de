package sync

import (
	gosync "sync"
)

// Phase is where a sync run currently stands. A run walks idle, pushing,
// pulling, converging, then one of the terminal phases.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePushing    Phase = "pushing"
	PhasePulling    Phase = "pulling"
	PhaseConverging Phase = "converging"

	// PhaseSettled means the run converged: everything pushed, applied,
	// and holding still.
	PhaseSettled Phase = "settled"

	// PhaseTimedOut means the convergence window closed while the ledger
	// was still moving. Expected on a busy shared ledger.
	PhaseTimedOut Phase = "timed-out"

	// PhaseFailed ends runs that need the user to act: account errors, or a
	// configuration problem surfacing mid-run (ledger unlinked). Transient
	// problems end settled or timed-out with the error recorded instead.
	PhaseFailed Phase = "failed"
)

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseSettled || p == PhaseTimedOut || p == PhaseFailed
}

// Status is a single feed update.
type Status struct {
	Phase   Phase
	RunID   string
	Outcome *Outcome // set on terminal phases
}

// StatusFeed broadcasts run phases to any number of subscribers. Publishing
// never blocks: each subscriber holds at most the latest unread status, and
// a slow reader just misses intermediate phases.
type StatusFeed struct {
	mu     gosync.Mutex
	subs   map[int]chan Status
	nextID int
	latest Status
}

func NewStatusFeed() *StatusFeed {
	return &StatusFeed{subs: make(map[int]chan Status)}
}

// Subscribe registers a reader. The current status, if any, is delivered
// first. The cancel func releases the subscription; reading a released
// channel yields closed-channel zero values.
func (f *StatusFeed) Subscribe() (<-chan Status, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan Status, 1)
	if f.latest.Phase != "" {
		ch <- f.latest
	}
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Latest returns the most recently published status.
func (f *StatusFeed) Latest() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest
}

func (f *StatusFeed) publish(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.latest = s
	for _, ch := range f.subs {
		select {
		case ch <- s:
		default:
			// Drop the unread status, keep the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}
