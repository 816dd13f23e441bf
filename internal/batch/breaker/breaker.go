// Package breaker implements a per-provider circuit breaker with three
// states (closed, open, half-open-by-time) and a single-trial probe on
// the first call after the cooldown elapses. No third-party breaker in
// the reference corpus models that exact probe semantics (see the
// grounding ledger), so this is a direct mutex+timestamp state machine,
// matching the teacher's general "small mutex-guarded struct" idiom.
package breaker

import (
	"sync"
	"time"
)

// State is the externally observable breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker guards calls to a single provider. It trips open after
// Threshold consecutive failures, stays open for Cooldown, then grants
// exactly one probe call; success on the probe closes it, failure
// reopens it and restarts the cooldown clock.
type Breaker struct {
	mu       sync.Mutex
	threshold int
	cooldown  time.Duration

	consecutiveFailures int
	open                bool
	openedAt            time.Time
	probeInFlight       bool
}

// New creates a Breaker that opens after threshold consecutive failures
// and stays open for cooldown before granting a probe.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 120 * time.Second
	}
	return &Breaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call should be attempted now. When the
// breaker is open and the cooldown has elapsed, the first caller to
// observe this is granted a probe (probeInFlight flips true) and Allow
// returns true; concurrent callers arriving before that probe resolves
// are still refused, matching the "ties are acceptable — at most one
// trial in flight" requirement.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if b.probeInFlight {
		return false
	}
	if time.Since(b.openedAt) < b.cooldown {
		return false
	}
	b.probeInFlight = true
	return true
}

// RecordSuccess reports a successful call. If it was the probe, the
// breaker closes; otherwise it simply resets the failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	if b.probeInFlight {
		b.open = false
		b.probeInFlight = false
	}
}

// RecordFailure reports a failed call. A failed probe reopens the
// breaker and restarts the cooldown clock; enough consecutive failures
// while closed trips it open for the first time.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.probeInFlight {
		b.probeInFlight = false
		b.openedAt = time.Now()
		b.open = true
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}

// State returns the breaker's current externally observable state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return Closed
	}
	if b.probeInFlight || time.Since(b.openedAt) >= b.cooldown {
		return HalfOpen
	}
	return Open
}

// Registry hands out one Breaker per provider, created lazily.
type Registry struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewRegistry creates a Registry whose lazily-created breakers share the
// given threshold/cooldown unless overridden via SetParams.
func NewRegistry(threshold int, cooldown time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// SetParams pins provider-specific threshold/cooldown, overriding the
// registry defaults. Must be called before the first Get for that
// provider to take effect.
func (r *Registry) SetParams(provider string, threshold int, cooldown time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[provider] = New(threshold, cooldown)
}

// Get returns the Breaker for provider, creating one at the registry
// defaults if this is the first call for that provider.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := New(r.threshold, r.cooldown)
	r.breakers[provider] = b
	return b
}
