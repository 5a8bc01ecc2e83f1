package cache

import (
	"context"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// MGet returns the cached values for keys and loads the rest with a single call to
// batchLoader. The result holds only keys that have a value. A nil batchLoader returns
// just the cached subset. When the batch loader fails, the cached part of the result
// is returned together with the loader error.
func MGet[T any](ctx context.Context, c *Coordinator, keys []string, batchLoader BatchLoader[T], policy ...Policy) (map[string]T, error) {
	p, err := resolvePolicy(policy)
	if err != nil {
		return nil, err
	}
	typeName := TypeName[T]()
	unique := make([]string, 0, len(keys))
	fullKeys := make(map[string]string, len(keys))
	for _, key := range keys {
		if _, seen := fullKeys[key]; seen {
			continue
		}
		fullKey, err := c.BuildKey(key, typeName)
		if err != nil {
			return nil, err
		}
		fullKeys[key] = fullKey
		unique = append(unique, key)
	}

	result := make(map[string]T, len(unique))
	var missed []string
	for _, key := range unique {
		if v, ok := lookup[T](ctx, c, fullKeys[key], p); ok {
			result[key] = v
			continue
		}
		c.stats.RecordMiss()
		missed = append(missed, key)
	}

	if len(missed) == 0 || batchLoader == nil {
		return result, nil
	}

	c.stats.RecordLoad()
	loaded, err := batchLoader(ctx, missed)
	if err != nil {
		c.stats.RecordLoadError()
		c.logger.Error("Cache batch loader failed", err, logging.Int("keys", len(missed)))
		return result, errors.LoaderError(typeName+" batch", err).WithContext("keys", len(missed))
	}

	for _, key := range missed {
		v, ok := loaded[key]
		if !ok || isEmpty(v) {
			continue
		}
		c.putEntry(ctx, fullKeys[key], v, p)
		result[key] = v
	}
	return result, nil
}
