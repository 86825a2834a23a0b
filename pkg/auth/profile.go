// Package auth implements the profile rotator: credential selection with
// exponential-backoff cooldowns and session stickiness, grounded in the
// same profile/cooldown state machine shape used elsewhere in this stack
// for provider credential rotation.
package auth

import (
	"errors"
	"time"
)

// ErrNoProfiles is returned when no profile is registered at all.
var ErrNoProfiles = errors.New("no profiles configured")

// ErrAllInCooldown is returned when every profile is currently cooling down.
var ErrAllInCooldown = errors.New("all profiles in cooldown")

// Strategy selects among the healthy set once OAuth-first/priority-desc
// sorting has been applied.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyPriority   Strategy = "priority"
	StrategyRandom     Strategy = "random"
)

// Profile is a static, rarely-changing credential descriptor.
type Profile struct {
	ID       string
	Provider string
	IsOAuth  bool
	Priority int
}

// State is the mutable per-profile rotation state. Invariants (spec
// §3/ProfileState): (a) inCooldown=true implies cooldownUntil>now at the
// moment it was set; (b) failureCount resets to 0 only on markSuccess;
// (c) recovery (cooldown expiry) clears inCooldown but leaves failureCount
// so the next failure continues the escalation from where it left off.
type State struct {
	ProfileID             string
	InCooldown            bool
	CooldownUntil         time.Time
	FailureCount          int
	LastError             string
	LastFailureWasBilling bool
	LastFailureAt         time.Time
}

// CooldownPolicy configures the base cooldown durations and caps used by
// markFailed's escalation formula.
type CooldownPolicy struct {
	BaseCooldown        time.Duration // non-billing base, default 30s
	BaseCooldownCap     time.Duration // default 1h
	BillingCooldown     time.Duration // default 1m
	BillingCooldownCap  time.Duration // default 24h
}

// DefaultCooldownPolicy returns the policy spec'd: non-billing escalates
// base×5^(k-1) capped at 1h; billing escalates billing_cooldown×2^(k-1)
// capped at 24h.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		BaseCooldown:       30 * time.Second,
		BaseCooldownCap:    time.Hour,
		BillingCooldown:    time.Minute,
		BillingCooldownCap: 24 * time.Hour,
	}
}

// computeCooldown implements markFailed's escalation formula.
func (p CooldownPolicy) computeCooldown(failureCount int, isBilling bool) time.Duration {
	k := failureCount
	if k < 1 {
		k = 1
	}
	if isBilling {
		d := p.BillingCooldown * time.Duration(pow(2, k-1))
		if d > p.BillingCooldownCap || d <= 0 {
			return p.BillingCooldownCap
		}
		return d
	}
	d := p.BaseCooldown * time.Duration(pow(5, k-1))
	if d > p.BaseCooldownCap || d <= 0 {
		return p.BaseCooldownCap
	}
	return d
}

func pow(base, exp int) int64 {
	result := int64(1)
	b := int64(base)
	for i := 0; i < exp; i++ {
		result *= b
		// guard against overflow blowing past any sane cap comparison
		if result > int64(1)<<40 {
			return result
		}
	}
	return result
}
