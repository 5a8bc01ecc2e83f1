// Package cache implements a three-level cache coordinator that sits in front of an
// expensive data source.
//
// Levels, fastest first:
//   - Local: small in-process LRU with TTL (github.com/hashicorp/golang-lru/v2/expirable)
//   - Secondary: larger in-process store (github.com/patrickmn/go-cache) bounded by an LRU recency index
//   - Shared: a remote key/value store reached through RemoteStore (Redis in production)
//
// Reads walk Local → Secondary → Shared and stop at the first hit. A hit backfills every
// faster level that missed. A full miss invokes the caller's loader once and writes the
// result to every level the Policy enables. Level failures are counted and treated as
// misses; only loader failures and invalid input reach the caller.
//
// Usage:
//
//	coord, err := cache.New(cache.DefaultConfig(), cache.WithRemote(redisClient))
//	user, found, err := cache.Get(ctx, coord, "42", func(ctx context.Context) (User, bool, error) {
//		return repo.FindUser(ctx, 42)
//	})
//
//	cache.Put(ctx, coord, "42", user, cache.LocalOnly())
//	cache.Evict[User](ctx, coord, "42", cache.LevelAll)
//	stats := coord.Statistics()
//
// Concurrent misses on the same key may each run the loader unless Config.SingleFlight is set.
package cache
