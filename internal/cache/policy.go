package cache

import (
	"fmt"
	"time"

	"cache-coordinator/internal/common/errors"
)

// Default level TTLs: durability grows and freshness requirements shrink from Local to Secondary.
const (
	DefaultLocalTTL     = 5 * time.Minute
	DefaultSharedTTL    = 30 * time.Minute
	DefaultSecondaryTTL = 2 * time.Hour
)

// Policy selects the levels an operation touches and the TTL written at each one.
// A disabled level must carry no TTL. An enabled level with a zero TTL never expires.
type Policy struct {
	EnableLocal     bool          `json:"enable_local"`
	EnableSecondary bool          `json:"enable_secondary"`
	EnableShared    bool          `json:"enable_shared"`
	LocalTTL        time.Duration `json:"local_ttl,omitempty"`
	SecondaryTTL    time.Duration `json:"secondary_ttl,omitempty"`
	SharedTTL       time.Duration `json:"shared_ttl,omitempty"`
}

// DefaultPolicy enables all three levels with the default TTLs.
func DefaultPolicy() Policy {
	return Policy{
		EnableLocal:     true,
		EnableSecondary: true,
		EnableShared:    true,
		LocalTTL:        DefaultLocalTTL,
		SecondaryTTL:    DefaultSecondaryTTL,
		SharedTTL:       DefaultSharedTTL,
	}
}

// LocalOnly enables only the Local level.
func LocalOnly() Policy {
	return Policy{EnableLocal: true, LocalTTL: DefaultLocalTTL}
}

// SecondaryOnly enables only the Secondary level.
func SecondaryOnly() Policy {
	return Policy{EnableSecondary: true, SecondaryTTL: DefaultSecondaryTTL}
}

// SharedOnly enables only the Shared level.
func SharedOnly() Policy {
	return Policy{EnableShared: true, SharedTTL: DefaultSharedTTL}
}

// Enabled reports whether the policy allows touching level.
func (p Policy) Enabled(level Level) bool {
	switch level {
	case LevelLocal:
		return p.EnableLocal
	case LevelSecondary:
		return p.EnableSecondary
	case LevelShared:
		return p.EnableShared
	default:
		return false
	}
}

// TTL returns the TTL configured for level.
func (p Policy) TTL(level Level) time.Duration {
	switch level {
	case LevelLocal:
		return p.LocalTTL
	case LevelSecondary:
		return p.SecondaryTTL
	case LevelShared:
		return p.SharedTTL
	default:
		return 0
	}
}

// Validate rejects negative TTLs and TTLs configured on disabled levels.
func (p Policy) Validate() error {
	for _, level := range lookupOrder {
		ttl := p.TTL(level)
		if ttl < 0 {
			return errors.ValidationError(fmt.Sprintf("%s ttl must not be negative", level))
		}
		if !p.Enabled(level) && ttl != 0 {
			return errors.ValidationError(fmt.Sprintf("%s level is disabled but has ttl %s", level, ttl))
		}
	}
	return nil
}

func resolvePolicy(policy []Policy) (Policy, error) {
	if len(policy) == 0 {
		return DefaultPolicy(), nil
	}
	p := policy[0]
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
