package cache

import (
	"context"
	"reflect"
	"time"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// Loader produces the value for a key on a full miss. ok=false means the source has
// no value; nothing is cached in that case.
type Loader[T any] func(ctx context.Context) (value T, ok bool, err error)

// BatchLoader produces values for many missed keys at once. Keys absent from the
// returned map have no value.
type BatchLoader[T any] func(ctx context.Context, keys []string) (map[string]T, error)

// Get returns the value for key, walking Local, Secondary and Shared in that order.
// A hit backfills the faster enabled levels that missed. A full miss calls loader once
// and writes a non-empty result to every enabled level. The returned error is either a
// validation error or a loader error; level failures are absorbed.
func Get[T any](ctx context.Context, c *Coordinator, key string, loader Loader[T], policy ...Policy) (T, bool, error) {
	var zero T

	fullKey, p, err := c.prepare(TypeName[T](), key, policy)
	if err != nil {
		return zero, false, err
	}
	if loader == nil {
		return zero, false, errors.ValidationError("loader must not be nil")
	}

	if v, ok := lookup[T](ctx, c, fullKey, p); ok {
		return v, true, nil
	}
	c.stats.RecordMiss()

	if !c.cfg.SingleFlight {
		return load(ctx, c, fullKey, loader, p)
	}

	type result struct {
		value T
		ok    bool
	}
	res, err, _ := c.loads.Do(flightKey[T](fullKey), func() (interface{}, error) {
		v, ok, err := load(ctx, c, fullKey, loader, p)
		return result{value: v, ok: ok}, err
	})
	if err != nil {
		return zero, false, err
	}
	r, ok := res.(result)
	if !ok {
		return load(ctx, c, fullKey, loader, p)
	}
	return r.value, r.ok, nil
}

// flightKey scopes single-flight to the exact Go type. Distinct types may share a
// cache key, e.g. T and *T, and must not receive each other's results.
func flightKey[T any](fullKey string) string {
	return reflect.TypeOf((*T)(nil)).Elem().String() + "|" + fullKey
}

// GetIfPresent is Get without a loader: a full miss returns found=false.
func GetIfPresent[T any](ctx context.Context, c *Coordinator, key string, policy ...Policy) (T, bool, error) {
	var zero T

	fullKey, p, err := c.prepare(TypeName[T](), key, policy)
	if err != nil {
		return zero, false, err
	}

	if v, ok := lookup[T](ctx, c, fullKey, p); ok {
		return v, true, nil
	}
	c.stats.RecordMiss()
	return zero, false, nil
}

func (c *Coordinator) prepare(typeName, key string, policy []Policy) (string, Policy, error) {
	fullKey, err := c.BuildKey(key, typeName)
	if err != nil {
		return "", Policy{}, err
	}
	p, err := resolvePolicy(policy)
	if err != nil {
		return "", Policy{}, err
	}
	return fullKey, p, nil
}

// lookup checks each enabled level in order and stops at the first live hit. Errors,
// expired entries and undecodable values all count as a miss at that level.
func lookup[T any](ctx context.Context, c *Coordinator, key string, p Policy) (T, bool) {
	var zero T
	start := time.Now()
	missed := make([]Level, 0, levelCount)

	for _, level := range lookupOrder {
		store := c.stores[level]
		if store == nil || !p.Enabled(level) {
			continue
		}
		if level == LevelShared && ctx.Err() != nil {
			c.logger.Debug("Skipping shared level, caller context is done",
				logging.String("key", key),
				logging.Err(ctx.Err()),
			)
			break
		}

		entry, found, err := store.Get(ctx, key)
		if err != nil {
			_ = c.levelFailure(level, "get", key, err)
			missed = append(missed, level)
			continue
		}
		if !found {
			missed = append(missed, level)
			continue
		}

		if entry.Expired(c.now()) {
			c.expire(ctx, level, store, key)
			missed = append(missed, level)
			continue
		}

		value, err := decodeEntry[T](entry)
		if err != nil {
			_ = c.levelFailure(level, "decode", key, err)
			missed = append(missed, level)
			continue
		}

		c.stats.RecordHit(level, time.Since(start))
		c.backfill(ctx, key, value, missed, p)
		return value, true
	}

	return zero, false
}

// expire removes an entry a reader found past its expiry.
func (c *Coordinator) expire(ctx context.Context, level Level, store LevelStore, key string) {
	if err := store.Delete(ctx, key); err != nil {
		_ = c.levelFailure(level, "delete", key, err)
		return
	}
	c.stats.RecordEviction(level)
}

// backfill writes a fresh entry, with that level's own TTL, to every faster level that
// missed during this lookup.
func (c *Coordinator) backfill(ctx context.Context, key string, value any, missed []Level, p Policy) {
	for _, level := range missed {
		entry := NewEntry(value, c.now(), c.levelTTL(level, p))
		if err := c.stores[level].Put(ctx, key, entry); err != nil {
			_ = c.levelFailure(level, "backfill", key, err)
			continue
		}
		c.stats.RecordPromotion()
		c.stats.RecordPut(level)
	}
}

func load[T any](ctx context.Context, c *Coordinator, key string, loader Loader[T], p Policy) (T, bool, error) {
	var zero T

	c.stats.RecordLoad()
	value, ok, err := loader(ctx)
	if err != nil {
		c.stats.RecordLoadError()
		c.logger.Error("Cache loader failed", err, logging.String("key", key))
		return zero, false, errors.LoaderError(key, err)
	}
	if !ok || isEmpty(value) {
		c.logger.Debug("Loader returned no value", logging.String("key", key))
		return zero, false, nil
	}

	c.putEntry(ctx, key, value, p)
	return value, true, nil
}
