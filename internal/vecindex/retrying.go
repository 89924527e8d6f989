package vecindex

import (
	"context"
	"time"

	"github.com/relaychat/semsearch/internal/backoff"
	"github.com/relaychat/semsearch/internal/breaker"
	"github.com/relaychat/semsearch/internal/fault"
)

var _ Index = (*Retrying)(nil)

// Retrying decorates an Index with the retry policy, a per-attempt timeout,
// and the index dependency's circuit breaker. The breaker is consulted once
// per call; every attempt reports its outcome.
type Retrying struct {
	next      Index
	policy    backoff.Policy
	breaker   *breaker.Breaker
	timeout   time.Duration
	onAttempt func(result string)
}

// NewRetrying wraps next. timeout bounds each attempt; zero disables the
// per-attempt budget. onAttempt receives "ok", "transient", "deadline" or
// "error" per attempt and may be nil.
func NewRetrying(next Index, policy backoff.Policy, b *breaker.Breaker, timeout time.Duration, onAttempt func(result string)) *Retrying {
	if onAttempt == nil {
		onAttempt = func(string) {}
	}
	return &Retrying{
		next:      next,
		policy:    policy,
		breaker:   b,
		timeout:   timeout,
		onAttempt: onAttempt,
	}
}

func (r *Retrying) Upsert(ctx context.Context, e Entry) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.next.Upsert(ctx, e)
	})
}

func (r *Retrying) Query(ctx context.Context, vector []float32, limit int, f Filter) ([]Match, error) {
	var matches []Match
	err := r.do(ctx, func(ctx context.Context) error {
		m, err := r.next.Query(ctx, vector, limit, f)
		if err != nil {
			return err
		}
		matches = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *Retrying) Delete(ctx context.Context, id string) error {
	return r.do(ctx, func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	})
}

// do runs op under the breaker admission check and the retry policy, bounding
// each attempt with the per-attempt timeout.
func (r *Retrying) do(ctx context.Context, op func(context.Context) error) error {
	if !r.breaker.Allow() {
		return fault.Unavailable("index")
	}
	return r.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()

		err := op(attemptCtx)
		if err != nil {
			err = fault.FromAttempt(ctx, attemptCtx, err)
		}
		r.report(err)
		return err
	})
}

// report feeds one attempt outcome to the breaker and the metrics hook.
// Non-transient responses count as dependency successes: the service
// answered, even if it rejected the input. Deadline outcomes report nothing,
// since an expired caller budget says nothing about dependency health.
func (r *Retrying) report(err error) {
	switch {
	case err == nil:
		r.breaker.ReportSuccess()
		r.onAttempt("ok")
	case fault.IsTransient(err):
		r.breaker.ReportFailure()
		r.onAttempt("transient")
	case fault.IsDeadline(err):
		r.onAttempt("deadline")
	default:
		r.breaker.ReportSuccess()
		r.onAttempt("error")
	}
}
