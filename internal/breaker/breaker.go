// Package breaker implements a per-host circuit breaker protecting the
// ingestion core from cascading failures against unhealthy OParl endpoints.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is rejecting calls.
var ErrOpen = errors.New("breaker: circuit open")

// Config controls breaker thresholds.
type Config struct {
	FailureThreshold int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

// DefaultConfig mirrors the original's defaults (5 failures, 60s, 2 successes).
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a single per-host circuit breaker. All state transitions and
// reads take the mutex to avoid torn reads across goroutines.
type Breaker struct {
	name   string
	cfg    Config
	onTrip func(name string, state State)

	mu              sync.Mutex
	state           State
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// New creates a breaker starting closed. onTrip, if non-nil, is called on
// every state transition (used to drive the state gauge metric).
func New(name string, cfg Config, onTrip func(name string, state State)) *Breaker {
	return &Breaker{name: name, cfg: cfg, onTrip: onTrip, state: Closed}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. If the circuit is open but the
// recovery timeout has elapsed, it transitions to half-open and lets the
// call through. Every call made while half-open is allowed; the number of
// probe calls is not limited.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == Open {
		if b.shouldAttemptResetLocked() {
			b.transitionLocked(HalfOpen)
		} else {
			return ErrOpen
		}
	}
	return nil
}

func (b *Breaker) shouldAttemptResetLocked() bool {
	if b.lastFailureTime.IsZero() {
		return true
	}
	return time.Since(b.lastFailureTime) >= b.cfg.RecoveryTimeout
}

// RemainingTimeout reports how long until a probe call is allowed again.
func (b *Breaker) RemainingTimeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastFailureTime.IsZero() {
		return 0
	}
	remaining := b.cfg.RecoveryTimeout - time.Since(b.lastFailureTime)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordSuccess registers a successful call. In half-open, enough
// consecutive successes close the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successCount++
	if b.state == HalfOpen && b.successCount >= b.cfg.SuccessThreshold {
		b.transitionLocked(Closed)
	}
}

// RecordFailure registers a failed call. A failure in half-open reopens the
// circuit immediately; enough failures in closed state opens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.successCount = 0
	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		b.transitionLocked(Open)
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	b.state = to
	switch to {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case HalfOpen:
		b.successCount = 0
	}
	if b.onTrip != nil {
		b.onTrip(b.name, to)
	}
}

// Reset forces the breaker back to closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(Closed)
	b.failureCount = 0
	b.successCount = 0
	b.lastFailureTime = time.Time{}
}

// Status is a snapshot suitable for the `circuit-breakers` CLI verb.
type Status struct {
	Name             string        `json:"name"`
	State            string        `json:"state"`
	FailureCount     int           `json:"failure_count"`
	SuccessCount     int           `json:"success_count"`
	RemainingTimeout time.Duration `json:"remaining_timeout,omitempty"`
}

// Status reports a point-in-time snapshot of this breaker.
func (b *Breaker) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := Status{
		Name:         b.name,
		State:        b.state.String(),
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
	}
	if b.state == Open {
		if b.lastFailureTime.IsZero() {
			st.RemainingTimeout = 0
		} else {
			remaining := b.cfg.RecoveryTimeout - time.Since(b.lastFailureTime)
			if remaining < 0 {
				remaining = 0
			}
			st.RemainingTimeout = remaining
		}
	}
	return st
}

// Registry keeps one breaker per host key, created lazily on first use.
type Registry struct {
	mu     sync.Mutex
	cfg    Config
	onTrip func(name string, state State)
	byHost map[string]*Breaker
}

// NewRegistry creates a registry. onTrip, if non-nil, is passed to every
// breaker created by the registry (used to wire the state-gauge metric).
func NewRegistry(cfg Config, onTrip func(name string, state State)) *Registry {
	return &Registry{cfg: cfg, onTrip: onTrip, byHost: make(map[string]*Breaker)}
}

// Get returns the breaker for host, creating it if it doesn't exist yet.
func (r *Registry) Get(host string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byHost[host]
	if !ok {
		b = New(host, r.cfg, r.onTrip)
		r.byHost[host] = b
	}
	return b
}

// AllStatus returns a status snapshot for every known breaker.
func (r *Registry) AllStatus() []Status {
	r.mu.Lock()
	hosts := make([]*Breaker, 0, len(r.byHost))
	for _, b := range r.byHost {
		hosts = append(hosts, b)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(hosts))
	for _, b := range hosts {
		statuses = append(statuses, b.Status())
	}
	return statuses
}

// ResetAll resets every breaker in the registry to closed.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	hosts := make([]*Breaker, 0, len(r.byHost))
	for _, b := range r.byHost {
		hosts = append(hosts, b)
	}
	r.mu.Unlock()

	for _, b := range hosts {
		b.Reset()
	}
}
