// Package security adapts two mechanisms from the teacher's attenuation and
// reputation-defense layer (security.go) to this runtime's narrower domain:
// authority-claim narrowing on propagation, and circuit breakers over an
// agent's recent dispatch failures. The teacher's DCT/Caveat chain attenuates
// a capability token across an arbitrary chain of string-typed caveats;
// narrowing here has exactly one dimension (the AuthorityTier total order),
// so NarrowClaim replaces Attenuate's caveat-accumulation with a single
// MinTier computation, per §4.12's "outboundTier = min(inboundTier,
// taskTier)" rule.
package security

import (
	"sync"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
)

// NarrowClaim derives the claim a router must attach to a dispatched subtask
// from the claim it received plus the tier the task itself calls for. The
// result never exceeds either input tier (monotonic restriction, same
// invariant the teacher's Attenuate enforces via caveat accumulation).
func NarrowClaim(inbound types.AuthorityClaim, taskTier types.AuthorityTier) types.AuthorityClaim {
	return types.AuthorityClaim{
		GrantedBy:        inbound.GrantedTo,
		GrantedTo:        inbound.GrantedTo,
		Tier:             types.MinTier(inbound.Tier, taskTier),
		PermittedActions: inbound.PermittedActions,
		GrantedAt:        inbound.GrantedAt,
		ExpiresAt:        inbound.ExpiresAt,
	}
}

// CBState is the circuit breaker's lifecycle state, mirroring the teacher's
// closed/open/half-open vocabulary.
type CBState string

const (
	CBClosed   CBState = "closed"
	CBOpen     CBState = "open"
	CBHalfOpen CBState = "half_open"
)

// CircuitBreaker trips an agent into unavailability after consecutive
// dispatch failures and lets it probe for recovery after a cooldown, the
// same shape as the teacher's reputation circuit breaker but keyed purely
// on dispatch outcome rather than a trust-score feed (this runtime has no
// external reputation signal; types.AgentRegistration.TrustScore is a static weight, not
// an observed metric).
type CircuitBreaker struct {
	mu               sync.Mutex
	failureCount     int
	failureThreshold int
	cooldownPeriod   time.Duration
	state            CBState
	lastTripped      time.Time
	now              func() time.Time
}

// CBOption configures a CircuitBreaker at construction time.
type CBOption func(*CircuitBreaker)

// WithClock overrides the time source used for cooldown checks (tests only).
func WithClock(now func() time.Time) CBOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// WithCooldown overrides the default 30-minute cooldown period.
func WithCooldown(d time.Duration) CBOption {
	return func(cb *CircuitBreaker) { cb.cooldownPeriod = d }
}

// NewCircuitBreaker trips after failureThreshold consecutive failures and
// cools down for 30 minutes before allowing a probe, matching the teacher's
// default CooldownPeriod.
func NewCircuitBreaker(failureThreshold int, opts ...CBOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: failureThreshold,
		cooldownPeriod:   30 * time.Minute,
		state:            CBClosed,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// RecordFailure increments the failure counter and trips the breaker once
// failureThreshold consecutive failures are reached. Returns true if this
// call tripped it.
func (cb *CircuitBreaker) RecordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.state = CBOpen
		cb.lastTripped = cb.now()
		return true
	}
	return false
}

// RecordSuccess resets the failure counter and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.state = CBClosed
}

// Open reports whether the breaker is currently blocking dispatch. Once the
// cooldown elapses it moves to half-open and reports not-open on every call
// until a recorded failure re-trips it or a success closes it.
func (cb *CircuitBreaker) Open() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CBClosed, CBHalfOpen:
		return false
	case CBOpen:
		if cb.now().Sub(cb.lastTripped) > cb.cooldownPeriod {
			cb.state = CBHalfOpen
			return false
		}
		return true
	default:
		return false
	}
}

// State reports the breaker's current state without mutating it.
func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
