// Package authority implements the Authority Provider (C2): grant, revoke,
// lookup, and validate time-bound authority claims. Specific (agentId,
// action) claims are tried first, falling back to the agent's wildcard
// ("*") claim on miss. Expired claims are filtered at read time and evicted
// on access, the same "expire untrusted grants" concern the teacher
// addresses with patrickmn/go-cache in its natsclient-backed profile store.
package authority

import (
	"fmt"
	"time"

	"github.com/dataparency-dev/cos-orchestrator/types"
	gocache "github.com/patrickmn/go-cache"
)

const wildcardAction = "*"

// Provider stores authority claims keyed by (agentId, action), evicting
// expired entries lazily on read and via go-cache's background janitor.
type Provider struct {
	cache *gocache.Cache
	now   func() time.Time
}

// Option configures a Provider at construction time.
type Option func(*Provider)

// WithClock overrides the time source used for expiry checks (tests only).
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider creates a Provider. cleanupInterval controls how often
// go-cache's janitor sweeps expired entries; a claim past its ExpiresAt is
// never returned from GetClaim/HasAuthority even before the janitor runs.
func NewProvider(cleanupInterval time.Duration, opts ...Option) *Provider {
	p := &Provider{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func key(agentID, action string) string {
	return agentID + "\x00" + action
}

// Grant stores a claim, keyed by its GrantedTo agent and its permitted
// actions (or the wildcard key if PermittedActions is empty).
func (p *Provider) Grant(claim types.AuthorityClaim) {
	ttl := gocache.NoExpiration
	if claim.ExpiresAt != nil {
		ttl = claim.ExpiresAt.Sub(p.now())
		if ttl <= 0 {
			return // already expired; nothing to store
		}
	}

	actions := claim.PermittedActions
	if len(actions) == 0 {
		actions = []string{wildcardAction}
	}
	for _, action := range actions {
		p.cache.Set(key(claim.GrantedTo, action), claim, ttl)
	}
}

// Revoke removes any claim for (agentId, action), wildcard included if
// action is "*".
func (p *Provider) Revoke(agentID, action string) {
	p.cache.Delete(key(agentID, action))
}

// GetClaim looks up the specific (agentId, action) claim first, falling
// back to the agent's wildcard claim. Expired claims are evicted and
// treated as absent.
func (p *Provider) GetClaim(agentID, action string) (types.AuthorityClaim, bool) {
	if c, ok := p.lookup(agentID, action); ok {
		return c, true
	}
	if action != wildcardAction {
		if c, ok := p.lookup(agentID, wildcardAction); ok {
			return c, true
		}
	}
	return types.AuthorityClaim{}, false
}

func (p *Provider) lookup(agentID, action string) (types.AuthorityClaim, bool) {
	v, ok := p.cache.Get(key(agentID, action))
	if !ok {
		return types.AuthorityClaim{}, false
	}
	claim := v.(types.AuthorityClaim)
	if claim.Expired(p.now()) {
		p.cache.Delete(key(agentID, action))
		return types.AuthorityClaim{}, false
	}
	return claim, true
}

// HasAuthority reports whether agentID holds a non-expired claim for action
// at or above minimumTier.
func (p *Provider) HasAuthority(agentID, action string, minimumTier types.AuthorityTier) bool {
	claim, ok := p.GetClaim(agentID, action)
	if !ok {
		return false
	}
	return claim.Tier >= minimumTier
}

// String is a debug helper, not part of the contract.
func (p *Provider) String() string {
	return fmt.Sprintf("authority.Provider{items=%d}", p.cache.ItemCount())
}
