// Package ratelimit is the Rate-Limit Controller: a thin mediator shared by
// the sync service, media pipeline and watcher for every gateway call.
// It layers a steady-state token-bucket limiter (golang.org/x/time/rate,
// the idiomatic replacement for the teacher's hand-rolled channel bucket)
// under a per-scope FLOOD_WAIT barrier map, mirroring the teacher's
// Throttler.mu-guarded fields but built as a pure wait-and-observe gate
// rather than an all-in-one retrying Do().
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatarchiver/internal/errs"
)

// Controller gates outbound gateway calls. Wait blocks a caller until both
// the token bucket and the named scope's barrier allow another call;
// Observe inspects an error for a FLOOD_WAIT signal and, if found, raises
// the scope's barrier.
type Controller struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	barriers map[string]time.Time
}

// burstMultiplier mirrors the teacher's default burst-to-rate ratio.
const burstMultiplier = 2

// NewController builds a controller with a steady-state rate of rps calls
// per second and a burst of 2*rps (minimum 1).
func NewController(rps int) *Controller {
	if rps <= 0 {
		rps = 1
	}
	burst := rps * burstMultiplier
	if burst < 1 {
		burst = 1
	}
	return &Controller{
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		barriers: make(map[string]time.Time),
	}
}

// Wait blocks until scope's barrier has cleared and the token bucket has a
// slot, or ctx is done.
func (c *Controller) Wait(ctx context.Context, scope string) error {
	if err := c.waitBarrier(ctx, scope); err != nil {
		return err
	}
	return c.limiter.Wait(ctx)
}

// Observe inspects err for a FLOOD_WAIT signal. If found, it raises
// scope's barrier to now+seconds and returns the extracted error so the
// caller can branch on FloodWaitError.Short(): short waits are expected to
// loop back into Wait immediately (which will block out the remaining
// duration); long waits are expected to release resources (a media
// permit, a dialog slot) and let a later call to Wait absorb the delay.
func (c *Controller) Observe(scope string, err error) (*errs.FloodWaitError, bool) {
	fw, ok := errs.AsFloodWait(err)
	if !ok {
		return nil, false
	}
	c.raiseBarrier(scope, time.Duration(fw.Seconds)*time.Second)
	return fw, true
}

func (c *Controller) raiseBarrier(scope string, wait time.Duration) {
	until := time.Now().Add(wait)
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.barriers[scope]; !ok || until.After(existing) {
		c.barriers[scope] = until
	}
}

func (c *Controller) waitBarrier(ctx context.Context, scope string) error {
	for {
		c.mu.Lock()
		until, ok := c.barriers[scope]
		c.mu.Unlock()
		if !ok {
			return nil
		}
		remaining := time.Until(until)
		if remaining <= 0 {
			return nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Loop once more: the barrier may have been raised again while
			// we slept (a fresh FLOOD_WAIT observed by another caller).
		}
	}
}
