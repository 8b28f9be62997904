package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ntg2208/production-ai-customer-support/internal/support"
)

// lockRegistry hands out exclusive per-booking locks with a bounded wait.
// Unrelated bookings never contend; a caller that cannot acquire the lock
// within the wait budget gets ErrConcurrencyConflict.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
	wait  time.Duration
}

func newLockRegistry(wait time.Duration) *lockRegistry {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return &lockRegistry{
		locks: make(map[string]chan struct{}),
		wait:  wait,
	}
}

func (r *lockRegistry) lockFor(ref string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[ref]
	if !ok {
		l = make(chan struct{}, 1)
		r.locks[ref] = l
	}
	return l
}

// acquire takes the lock for ref, waiting at most the registry's budget.
// The returned release function must be called exactly once.
func (r *lockRegistry) acquire(ctx context.Context, ref string) (release func(), err error) {
	l := r.lockFor(ref)

	timer := time.NewTimer(r.wait)
	defer timer.Stop()

	select {
	case l <- struct{}{}:
		return func() { <-l }, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: booking %s is locked by another operation", support.ErrConcurrencyConflict, ref)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
