// Package breaker implements the per-dependency degradation policy. One
// Breaker guards one external dependency (embedding service, vector index);
// call sites consult Allow before dialing and report every completed call's
// outcome. Retries inside a single call handle per-call flakiness; the
// breaker handles sustained outages.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state of one dependency.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds the trip thresholds. Zero values fall back to the defaults.
type Config struct {
	FailureThreshold int           // consecutive-window failures before opening (default 5)
	Window           time.Duration // rolling window the threshold counts within (default 30s)
	Cooldown         time.Duration // open duration before admitting a probe (default 15s)
}

const (
	defaultFailureThreshold = 5
	defaultWindow           = 30 * time.Second
	defaultCooldown         = 15 * time.Second
)

// Snapshot is a point-in-time view for introspection endpoints and metrics.
type Snapshot struct {
	Name           string    `json:"name"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	LastTransition time.Time `json:"last_transition"`
}

// Breaker is a circuit breaker for a single dependency. Construct one per
// dependency and inject it; state never leaks through package globals, so
// tests can run isolated instances. All methods are safe for concurrent use
// and none blocks: the lock is never held across a network call.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu             sync.Mutex
	state          State
	failures       int
	windowStart    time.Time
	openedAt       time.Time
	probeStart     time.Time
	probing        bool
	lastTransition time.Time
}

// New creates a closed Breaker named after its dependency.
func New(name string, cfg Config) *Breaker {
	return newWithClock(name, cfg, time.Now)
}

func newWithClock(name string, cfg Config, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   now,
		state: StateClosed,
	}
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call to the dependency may be attempted now.
// While open it returns false until the cooldown elapses, then admits
// exactly one probe per cooldown period until an outcome is reported.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if now.Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.transition(StateHalfOpen, now)
		b.probing = true
		b.probeStart = now
		return true
	case StateHalfOpen:
		if !b.probing {
			b.probing = true
			b.probeStart = now
			return true
		}
		// A probe went out and its outcome never came back (crashed caller,
		// dropped goroutine). Admit another after a full cooldown rather
		// than staying wedged.
		if now.Sub(b.probeStart) >= b.cfg.Cooldown {
			b.probeStart = now
			return true
		}
		return false
	default:
		return false
	}
}

// Open reports whether the circuit is refusing calls right now. Unlike
// Allow it has no side effects and never consumes the half-open probe, so
// orchestrators can pre-check before spending work upstream of the call.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return false
	}
	return b.now().Sub(b.openedAt) < b.cfg.Cooldown
}

// ReportSuccess records a successful call. A half-open probe success closes
// the circuit; in closed state it clears the failure window.
func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateClosed, b.now())
		b.failures = 0
		b.probing = false
	case StateClosed:
		b.failures = 0
	}
	// Stale successes arriving while open do not close the circuit;
	// only the half-open probe can.
}

// ReportFailure records a failed call. Enough failures inside the window
// open the circuit; a half-open probe failure reopens it and restarts the
// cooldown.
func (b *Breaker) ReportFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		if b.failures == 0 || now.Sub(b.windowStart) > b.cfg.Window {
			b.failures = 0
			b.windowStart = now
		}
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(StateOpen, now)
			b.openedAt = now
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
		b.openedAt = now
		b.probing = false
	}
	// Failures reported while already open are stragglers from calls
	// admitted earlier; counting them would extend the cooldown.
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the current state for introspection.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		LastTransition: b.lastTransition,
	}
}

func (b *Breaker) transition(to State, at time.Time) {
	b.state = to
	b.lastTransition = at
}
