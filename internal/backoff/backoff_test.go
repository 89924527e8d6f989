package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaychat/semsearch/internal/fault"
)

// recordingSleep captures requested delays without actually sleeping.
type recordingSleep struct {
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestPolicy(t *testing.T, p Policy) (Policy, *recordingSleep) {
	t.Helper()
	rec := &recordingSleep{}
	p.sleep = rec.sleep
	p.rand = func() float64 { return 0.5 } // jitter midpoint: delay unchanged
	return p, rec
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	p, rec := newTestPolicy(t, Policy{})
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Fatalf("op called %d times, want 1", calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("slept %v, want no sleeps", rec.delays)
	}
}

func TestDo_RetriesTransientWithDoubling(t *testing.T) {
	p, rec := newTestPolicy(t, Policy{MaxAttempts: 3, Base: 200 * time.Millisecond, Factor: 2})
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fault.Transient(errors.New("connection reset"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(rec.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", rec.delays, want)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, rec.delays[i], want[i])
		}
	}
}

func TestDo_StopsOnNonTransient(t *testing.T) {
	p, rec := newTestPolicy(t, Policy{MaxAttempts: 3})
	cause := fault.Invalid(errors.New("text too long"))
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return cause
	})
	if !errors.Is(err, fault.ErrInvalidInput) {
		t.Fatalf("Do() = %v, want invalid input", err)
	}
	if calls != 1 {
		t.Fatalf("op called %d times, want 1: non-transient failures must not retry", calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("slept %v before giving up", rec.delays)
	}
}

func TestDo_ExhaustionKeepsTransientKind(t *testing.T) {
	p, _ := newTestPolicy(t, Policy{MaxAttempts: 3})
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fault.Transient(errors.New("upstream 503"))
	})
	if err == nil {
		t.Fatal("Do() = nil, want error after exhaustion")
	}
	if calls != 3 {
		t.Fatalf("op called %d times, want 3", calls)
	}
	if !fault.IsTransient(err) {
		t.Fatalf("exhaustion error %v lost its transient classification", err)
	}
}

func TestDo_JitterBounds(t *testing.T) {
	for name, rnd := range map[string]float64{"low": 0, "high": 1} {
		t.Run(name, func(t *testing.T) {
			rec := &recordingSleep{}
			p := Policy{
				MaxAttempts: 2,
				Base:        200 * time.Millisecond,
				Factor:      2,
				Jitter:      0.2,
				sleep:       rec.sleep,
				rand:        func() float64 { return rnd },
			}
			_ = p.Do(context.Background(), func(context.Context) error {
				return fault.Transient(errors.New("flaky"))
			})
			if len(rec.delays) != 1 {
				t.Fatalf("delays = %v, want exactly 1", rec.delays)
			}
			lo := time.Duration(float64(200*time.Millisecond) * 0.79)
			hi := time.Duration(float64(200*time.Millisecond) * 1.21)
			if rec.delays[0] < lo || rec.delays[0] > hi {
				t.Errorf("jittered delay %v outside [%v, %v]", rec.delays[0], lo, hi)
			}
		})
	}
}

func TestDo_DeadlineShorterThanDelay(t *testing.T) {
	p, rec := newTestPolicy(t, Policy{MaxAttempts: 3, Base: 200 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		return fault.Transient(errors.New("timeout"))
	})
	if calls != 1 {
		t.Fatalf("op called %d times, want 1: no budget for a delayed retry", calls)
	}
	if len(rec.delays) != 0 {
		t.Fatalf("slept %v with insufficient budget", rec.delays)
	}
	if !errors.Is(err, fault.ErrDeadline) {
		t.Fatalf("Do() = %v, want deadline error", err)
	}
}

func TestDo_CancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p, _ := newTestPolicy(t, Policy{MaxAttempts: 3})

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return fault.Transient(errors.New("reset"))
	})
	if calls != 1 {
		t.Fatalf("op called %d times, want 1: cancelled calls must not retry", calls)
	}
	if !errors.Is(err, fault.ErrDeadline) {
		t.Fatalf("Do() = %v, want deadline error after cancellation", err)
	}
}

func TestDo_ZeroValueDefaults(t *testing.T) {
	p, rec := newTestPolicy(t, Policy{})
	calls := 0
	_ = p.Do(context.Background(), func(context.Context) error {
		calls++
		return fault.Transient(errors.New("flaky"))
	})
	if calls != 3 {
		t.Fatalf("op called %d times, want default 3 attempts", calls)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want default schedule %v", i, rec.delays[i], want)
		}
	}
}
