package sync

import (
	"context"
	"errors"
	"net"

	"github.com/elena/xp/internal/syncclient"
)

// Kind buckets sync errors by how the coordinator and the CLI react to them.
type Kind int

const (
	// KindTransient covers network failures, timeouts, 5xx responses and
	// rate limiting. Logged and retried on the next trigger.
	KindTransient Kind = iota

	// KindConfiguration means replication is off, no ledger is linked, or no
	// endpoint is configured. Rendered as a hint, never as a failure.
	KindConfiguration

	// KindAccount means the server rejected our identity (unauthorized,
	// forbidden, revoked key). The only kind that marks a run failed; the
	// user must act outside the sync loop.
	KindAccount

	// KindConflict marks a concurrent modification detected during apply.
	// Resolved by the merge functions, not surfaced to the user.
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindAccount:
		return "account"
	case KindConflict:
		return "conflict"
	default:
		return "transient"
	}
}

// Sentinel errors raised by the sync engine itself.
var (
	// ErrNotLinked means no ledger is linked in sync_state.
	ErrNotLinked = errors.New("no ledger linked")

	// ErrNoEndpoint means no server endpoint is configured.
	ErrNoEndpoint = errors.New("no sync endpoint configured")

	// ErrDisabled means replication is switched off for this store.
	ErrDisabled = errors.New("sync disabled")

	// ErrConflict marks an apply-side concurrent modification.
	ErrConflict = errors.New("concurrent modification")
)

// Classify maps an error to its Kind by walking the wrap chain.
// Unknown errors classify as transient: retrying is harmless, while a
// wrongly-failed run would need user action to recover.
func Classify(err error) Kind {
	if err == nil {
		return KindTransient
	}

	switch {
	case errors.Is(err, ErrNotLinked),
		errors.Is(err, ErrNoEndpoint),
		errors.Is(err, ErrDisabled):
		return KindConfiguration

	case errors.Is(err, syncclient.ErrUnauthorized),
		errors.Is(err, syncclient.ErrForbidden),
		errors.Is(err, syncclient.ErrNotFound):
		// A 404 on a linked ledger means it was deleted or our membership
		// was revoked, which only the account owner can fix.
		return KindAccount

	case errors.Is(err, ErrConflict):
		return KindConflict

	case errors.Is(err, syncclient.ErrRateLimited),
		errors.Is(err, syncclient.ErrServer),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}

// Retryable reports whether the next trigger may reasonably retry after err.
func Retryable(err error) bool {
	return Classify(err) == KindTransient
}
