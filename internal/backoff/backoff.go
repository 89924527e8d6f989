// Package backoff provides the retry loop used around calls to external
// dependencies. Only transient failures are retried; classification comes
// from the fault package.
package backoff

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/relaychat/semsearch/internal/fault"
)

const (
	defaultMaxAttempts = 3
	defaultBase        = 200 * time.Millisecond
	defaultFactor      = 2.0
)

// Policy describes a retry schedule. The zero value retries transient
// failures up to 3 attempts with 200ms doubling delays and no jitter.
type Policy struct {
	MaxAttempts int           // total attempts including the first
	Base        time.Duration // delay before the second attempt
	Factor      float64       // delay multiplier per subsequent attempt
	Jitter      float64       // fraction of each delay randomized both ways, 0..1

	sleep func(context.Context, time.Duration) error
	rand  func() float64
}

// Do runs op until it succeeds, fails non-transiently, or the policy is
// exhausted. Delays honor ctx: a delay that would outlive the deadline is
// never slept through, and the pending attempt is abandoned with
// fault.ErrDeadline instead.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	base := p.Base
	if base <= 0 {
		base = defaultBase
	}
	factor := p.Factor
	if factor <= 0 {
		factor = defaultFactor
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = ctxSleep
	}
	rnd := p.rand
	if rnd == nil {
		rnd = rand.Float64
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
			if p.Jitter > 0 {
				delay = time.Duration(float64(delay) * (1 + p.Jitter*(2*rnd()-1)))
			}
			if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
				return fault.Deadline(fmt.Errorf("retry abandoned after %d attempts: %w", attempt, lastErr))
			}
			if err := sleep(ctx, delay); err != nil {
				return fault.Deadline(fmt.Errorf("retry interrupted after %d attempts: %w", attempt, lastErr))
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !fault.IsTransient(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%d attempts failed: %w", attempts, lastErr)
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
