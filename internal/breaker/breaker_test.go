package breaker

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return newWithClock("embedding", cfg, clock.Now), clock
}

func trip(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		b.ReportFailure()
	}
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(t, Config{})
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v", got, StateClosed)
	}
	if !b.Allow() {
		t.Fatal("Allow() = false on a fresh breaker")
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5})

	trip(b, 4)
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after 4 failures = %v, want %v", got, StateClosed)
	}
	b.ReportFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after 5 failures = %v, want %v", got, StateOpen)
	}
	if b.Allow() {
		t.Fatal("Allow() = true while open")
	}
}

func TestBreaker_WindowExpiryResetsCount(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Window: 30 * time.Second})

	trip(b, 4)
	clock.Advance(31 * time.Second)
	trip(b, 4)
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v: stale failures outside the window counted", got, StateClosed)
	}
	b.ReportFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v after threshold within fresh window", got, StateOpen)
	}
}

func TestBreaker_SuccessClearsWindow(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3})

	trip(b, 2)
	b.ReportSuccess()
	trip(b, 2)
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v: success did not clear the failure count", got, StateClosed)
	}
}

func TestBreaker_CooldownAdmitsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Cooldown: 15 * time.Second})

	trip(b, 5)
	if b.Allow() {
		t.Fatal("Allow() = true immediately after opening")
	}
	clock.Advance(14 * time.Second)
	if b.Allow() {
		t.Fatal("Allow() = true before cooldown elapsed")
	}
	clock.Advance(1 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown elapsed")
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("State() = %v, want %v", got, StateHalfOpen)
	}
	// Only one probe goes out until it reports an outcome.
	if b.Allow() {
		t.Fatal("Allow() = true for a second concurrent probe")
	}
}

func TestBreaker_OpenPreCheck(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Cooldown: 15 * time.Second})

	if b.Open() {
		t.Fatal("Open() = true while closed")
	}
	trip(b, 5)
	if !b.Open() {
		t.Fatal("Open() = false right after tripping")
	}
	clock.Advance(15 * time.Second)
	// Cooldown elapsed: the pre-check must step aside so Allow can admit
	// the probe.
	if b.Open() {
		t.Fatal("Open() = true after cooldown elapsed")
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v after Open(), want %v: pre-check must not transition", got, StateOpen)
	}
	if !b.Allow() {
		t.Fatal("Allow() = false for the probe after Open() pre-checks")
	}
	if b.Open() {
		t.Fatal("Open() = true while half-open")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Cooldown: 15 * time.Second})

	trip(b, 5)
	clock.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown")
	}
	b.ReportSuccess()
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() after probe success = %v, want %v", got, StateClosed)
	}
	if !b.Allow() {
		t.Fatal("Allow() = false after circuit closed")
	}
	// The failure window restarts from scratch after closing.
	trip(b, 4)
	if got := b.State(); got != StateClosed {
		t.Fatalf("State() = %v, want %v: pre-trip failures survived the close", got, StateClosed)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Cooldown: 15 * time.Second})

	trip(b, 5)
	clock.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown")
	}
	b.ReportFailure()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() after probe failure = %v, want %v", got, StateOpen)
	}
	// Cooldown restarts: still blocked before a fresh cooldown elapses.
	clock.Advance(14 * time.Second)
	if b.Allow() {
		t.Fatal("Allow() = true before restarted cooldown elapsed")
	}
	clock.Advance(1 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after restarted cooldown")
	}
}

func TestBreaker_LostProbeRecovers(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5, Cooldown: 15 * time.Second})

	trip(b, 5)
	clock.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after cooldown")
	}
	// The probe's outcome never arrives. After another full cooldown the
	// breaker admits a replacement instead of staying wedged.
	clock.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false for replacement probe after lost outcome")
	}
}

func TestBreaker_StaleSuccessWhileOpenIgnored(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 5})

	trip(b, 5)
	b.ReportSuccess()
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v: stale success closed the circuit", got, StateOpen)
	}
}

func TestBreaker_Snapshot(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 5})

	trip(b, 5)
	snap := b.Snapshot()
	if snap.Name != "embedding" {
		t.Fatalf("Snapshot().Name = %q, want %q", snap.Name, "embedding")
	}
	if snap.State != "open" {
		t.Fatalf("Snapshot().State = %q, want %q", snap.State, "open")
	}
	if !snap.LastTransition.Equal(clock.Now()) {
		t.Fatalf("Snapshot().LastTransition = %v, want %v", snap.LastTransition, clock.Now())
	}
}

func TestBreaker_DefaultsApplied(t *testing.T) {
	b, clock := newTestBreaker(t, Config{})

	trip(b, 5)
	if got := b.State(); got != StateOpen {
		t.Fatalf("State() = %v, want %v with default threshold", got, StateOpen)
	}
	clock.Advance(15 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after default cooldown")
	}
}

func TestState_String(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d).String() = %q, want %q", tc.state, got, tc.want)
		}
	}
}
