package embedding

import (
	"context"
	"time"

	"github.com/relaychat/semsearch/internal/backoff"
	"github.com/relaychat/semsearch/internal/breaker"
	"github.com/relaychat/semsearch/internal/fault"
)

// Retrying decorates a Client with the retry policy, a per-attempt timeout,
// and the embedding dependency's circuit breaker. The breaker is consulted
// once per call; every attempt reports its outcome.
type Retrying struct {
	next      Client
	policy    backoff.Policy
	breaker   *breaker.Breaker
	timeout   time.Duration
	onAttempt func(result string)
}

// NewRetrying wraps next. timeout bounds each attempt; zero disables the
// per-attempt budget. onAttempt receives "ok", "transient", "deadline" or
// "error" per attempt and may be nil.
func NewRetrying(next Client, policy backoff.Policy, b *breaker.Breaker, timeout time.Duration, onAttempt func(result string)) *Retrying {
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

func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	if !r.breaker.Allow() {
		return nil, fault.Unavailable("embedding")
	}

	var vec []float32
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		defer cancel()

		v, err := r.next.Embed(attemptCtx, text)
		if err != nil {
			err = fault.FromAttempt(ctx, attemptCtx, err)
			r.report(err)
			return err
		}
		vec = v
		r.report(nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *Retrying) Dimensions() int { return r.next.Dimensions() }

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
