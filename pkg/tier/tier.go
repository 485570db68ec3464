// Package tier holds the static service-level table: which tiers exist, what each one
// allows, and the order used when suggesting an upgrade.
package tier

import "strings"

// Tier is a named service level.
type Tier string

const (
	Free   Tier = "free"
	Pro    Tier = "pro"
	ProMax Tier = "promax"
	Team   Tier = "team"

	// None is returned by NextTier when there is nothing to upgrade to.
	None Tier = "none"
)

// Unlimited marks a limit that is not enforced.
const Unlimited = -1

// order is the upgrade path, lowest first.
var order = []Tier{Free, Pro, ProMax, Team}

// Limits defines the quotas attached to a tier. A value of Unlimited (-1) means unbounded.
type Limits struct {
	MaxMemories int
	MaxAgents   int
	// RateLimit is a requests-per-minute hint for the transport layer; the core does not enforce it.
	RateLimit  int
	MaxAPIKeys int
}

// AllowsAnotherKey reports whether a user with active keys may mint one more.
func (l Limits) AllowsAnotherKey(active int) bool {
	if l.MaxAPIKeys == Unlimited {
		return true
	}
	return active < l.MaxAPIKeys
}

// Policy maps tiers to their limits.
type Policy map[Tier]Limits

// DefaultPolicy returns the production tier table.
func DefaultPolicy() Policy {
	return Policy{
		Free:   {MaxMemories: 1000, MaxAgents: 1, RateLimit: 60, MaxAPIKeys: Unlimited},
		Pro:    {MaxMemories: 50000, MaxAgents: 5, RateLimit: 300, MaxAPIKeys: 3},
		ProMax: {MaxMemories: Unlimited, MaxAgents: 20, RateLimit: 1000, MaxAPIKeys: 10},
		Team:   {MaxMemories: Unlimited, MaxAgents: Unlimited, RateLimit: 3000, MaxAPIKeys: Unlimited},
	}
}

var defaultPolicy = DefaultPolicy()

// Limits returns the row for t, falling back to the free row for unknown tiers.
func (p Policy) Limits(t Tier) Limits {
	if l, ok := p[t]; ok {
		return l
	}
	if l, ok := p[Free]; ok {
		return l
	}
	return defaultPolicy[Free]
}

// MaxAPIKeys is shorthand for p.Limits(t).MaxAPIKeys.
func (p Policy) MaxAPIKeys(t Tier) int {
	return p.Limits(t).MaxAPIKeys
}

// GetTierLimits returns the default-policy limits for t. Unknown tiers get the free row.
func GetTierLimits(t Tier) Limits {
	return defaultPolicy.Limits(t)
}

// NextTier returns the tier after t in the upgrade order, or None when t is the top
// tier or not a known tier.
func NextTier(t Tier) Tier {
	for i, candidate := range order {
		if candidate == t {
			if i+1 < len(order) {
				return order[i+1]
			}
			return None
		}
	}
	return None
}

// All returns every known tier in upgrade order.
func All() []Tier {
	out := make([]Tier, len(order))
	copy(out, order)
	return out
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	for _, candidate := range order {
		if candidate == t {
			return true
		}
	}
	return false
}

func (t Tier) String() string {
	return string(t)
}

// Parse normalizes s (trimmed, lower-cased) and reports whether it names a known tier.
func Parse(s string) (Tier, bool) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

// ParseOr is Parse with a fallback for unknown or empty input.
func ParseOr(s string, fallback Tier) Tier {
	if t, ok := Parse(s); ok {
		return t
	}
	return fallback
}
