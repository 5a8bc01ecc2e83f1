package cache

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// Put writes value to every level the policy enables, concurrently. Level failures
// are counted and logged, never returned. Empty values are not written.
func Put[T any](ctx context.Context, c *Coordinator, key string, value T, policy ...Policy) error {
	fullKey, p, err := c.prepare(TypeName[T](), key, policy)
	if err != nil {
		return err
	}
	if isEmpty(value) {
		return nil
	}
	c.putEntry(ctx, fullKey, value, p)
	return nil
}

// putEntry fans the write out to all enabled levels and waits for every one.
func (c *Coordinator) putEntry(ctx context.Context, key string, value any, p Policy) {
	var g errgroup.Group
	now := c.now()

	for _, level := range lookupOrder {
		store := c.stores[level]
		if store == nil || !p.Enabled(level) {
			continue
		}
		entry := NewEntry(value, now, c.levelTTL(level, p))
		g.Go(func() error {
			if err := store.Put(ctx, key, entry); err != nil {
				_ = c.levelFailure(level, "put", key, err)
				return nil
			}
			c.stats.RecordPut(level)
			return nil
		})
	}
	_ = g.Wait()
}

// levelTTL returns the TTL to write at level. Shared TTLs are spread by the configured
// jitter so that keys written together do not expire together.
func (c *Coordinator) levelTTL(level Level, p Policy) time.Duration {
	ttl := p.TTL(level)
	if level != LevelShared || ttl <= 0 || c.cfg.SharedTTLJitter <= 0 {
		return ttl
	}

	jitter := c.cfg.SharedTTLJitter
	ttl += time.Duration(rand.Int64N(int64(jitter)+1)) - jitter/2
	if floor := p.TTL(level) / 2; ttl < floor {
		ttl = floor
	}
	return ttl
}

// Evict removes key of type T from level, or from every level with LevelAll.
// Evicting an absent key is a no-op.
func Evict[T any](ctx context.Context, c *Coordinator, key string, level Level) error {
	return c.EvictNamed(ctx, TypeName[T](), key, level)
}

// EvictPolicy removes key of type T from the levels the policy enables.
func EvictPolicy[T any](ctx context.Context, c *Coordinator, key string, policy Policy) error {
	fullKey, err := c.BuildKey(key, TypeName[T]())
	if err != nil {
		return err
	}
	if err := policy.Validate(); err != nil {
		return err
	}

	var levels []Level
	for _, level := range lookupOrder {
		if policy.Enabled(level) {
			levels = append(levels, level)
		}
	}
	c.evict(ctx, fullKey, levels)
	return nil
}

// EvictNamed is Evict for callers that only know the type name, such as the admin API.
func (c *Coordinator) EvictNamed(ctx context.Context, typeName, key string, level Level) error {
	fullKey, err := c.BuildKey(key, typeName)
	if err != nil {
		return err
	}
	levels := level.targets()
	if levels == nil {
		return errors.ValidationError("unknown cache level " + level.String())
	}
	c.evict(ctx, fullKey, levels)
	return nil
}

func (c *Coordinator) evict(ctx context.Context, key string, levels []Level) {
	for _, level := range levels {
		store := c.stores[level]
		if store == nil {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			_ = c.levelFailure(level, "delete", key, err)
			continue
		}
		c.stats.RecordEviction(level)
	}
}

// Clear empties one level, or every level with LevelAll. In-process levels are cleared
// first; each level is attempted even when another fails. The returned error reports
// the failed levels; it is nil when all succeeded.
func (c *Coordinator) Clear(ctx context.Context, level Level) error {
	levels := level.targets()
	if levels == nil {
		return errors.ValidationError("unknown cache level " + level.String())
	}

	var failed []string
	for _, l := range levels {
		store := c.stores[l]
		if store == nil {
			continue
		}
		if err := store.Clear(ctx); err != nil {
			_ = c.levelFailure(l, "clear", c.cfg.Namespace+":*", err)
			failed = append(failed, l.String())
			continue
		}
		c.stats.RecordClear(l)
	}

	if len(failed) > 0 {
		return errors.LevelAccessError(level.String(), "clear", nil).WithContext("failed_levels", failed)
	}
	c.logger.Info("Cache cleared", logging.String("level", level.String()))
	return nil
}
