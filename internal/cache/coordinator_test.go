package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"empty namespace", func(c *Config) { c.Namespace = "" }, true},
		{"zero local size", func(c *Config) { c.LocalSize = 0 }, true},
		{"zero secondary size", func(c *Config) { c.SecondarySize = 0 }, true},
		{"negative jitter", func(c *Config) { c.SharedTTLJitter = -time.Second }, true},
		{"negative clear rate", func(c *Config) { c.ClearRate = -1 }, true},
		{"zero warm-up concurrency", func(c *Config) { c.WarmUpConcurrency = 0 }, true},
		{"breaker disabled", func(c *Config) { c.SharedBreaker.MaxFailures = 0 }, false},
		{"invalid breaker", func(c *Config) { c.SharedBreaker.Timeout = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.ErrTypeConfig), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_Levels(t *testing.T) {
	c := newTestCoordinator(t, nil)
	assert.True(t, c.HasLevel(LevelLocal))
	assert.True(t, c.HasLevel(LevelSecondary))
	assert.False(t, c.HasLevel(LevelShared))
	assert.Equal(t, "test", c.Namespace())

	_, ok := c.BreakerStats()
	assert.False(t, ok)

	withRemote := newTestCoordinator(t, newMemRemote())
	assert.True(t, withRemote.HasLevel(LevelShared))
}

func TestScenarioA_PutThenGetSkipsLoader(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()
	u := user{ID: 1, Name: "Ada"}

	require.NoError(t, Put(ctx, c, "u:1", u))

	got, found, err := Get(ctx, c, "u:1", failingLoader[user](t))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, u, got)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Local.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Shared.Puts)
}

func TestScenarioB_NilLoaderResultIsAMiss(t *testing.T) {
	remote := newMemRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	got, found, err := Get(ctx, c, "u:2", func(context.Context) (*user, bool, error) {
		return nil, true, nil
	})
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Loads)

	key := mustKey(t, c, "u:2", "user")
	assert.False(t, present(t, c.stores[LevelLocal], key))
	assert.False(t, present(t, c.stores[LevelSecondary], key))
	assert.False(t, remote.has(key))
}

func TestScenarioC_ExpiredEntryIsReloaded(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()
	short := Policy{
		EnableLocal: true, EnableSecondary: true, EnableShared: true,
		LocalTTL: time.Millisecond, SecondaryTTL: time.Millisecond, SharedTTL: time.Millisecond,
	}

	require.NoError(t, Put(ctx, c, "k", "v", short))
	time.Sleep(5 * time.Millisecond)

	got, found, err := Get(ctx, c, "k", valueLoader("v2", nil))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v2", got)
	assert.Equal(t, int64(1), c.Statistics().Loads)
}

func TestScenarioD_MGetLoadsOnlyMissedKeys(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()

	require.NoError(t, Put(ctx, c, "a", "cachedA"))

	var requested []string
	result, err := MGet(ctx, c, []string{"a", "b", "c"}, func(_ context.Context, keys []string) (map[string]string, error) {
		requested = keys
		return map[string]string{"b": "loadedB", "c": "loadedC", "z": "unrequested"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "cachedA", "b": "loadedB", "c": "loadedC"}, result)
	assert.ElementsMatch(t, []string{"b", "c"}, requested)

	before := c.Statistics().Hits
	got, found, err := Get(ctx, c, "b", failingLoader[string](t))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "loadedB", got)
	assert.Equal(t, before+1, c.Statistics().Hits)

	_, found, err = GetIfPresent[string](ctx, c, "z")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMGet_Errors(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()
	require.NoError(t, Put(ctx, c, "a", 1))

	t.Run("batch loader failure returns partial result", func(t *testing.T) {
		cause := errors.New("db down")
		result, err := MGet(ctx, c, []string{"a", "b", "a"}, func(context.Context, []string) (map[string]int, error) {
			return nil, cause
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeLoader))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, map[string]int{"a": 1}, result)
	})

	t.Run("empty key rejected before any lookup", func(t *testing.T) {
		_, err := MGet(ctx, c, []string{"a", " "}, func(context.Context, []string) (map[string]int, error) {
			t.Error("batch loader must not be called")
			return nil, nil
		})
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))
	})

	t.Run("all cached skips loader", func(t *testing.T) {
		result, err := MGet(ctx, c, []string{"a"}, func(context.Context, []string) (map[string]int, error) {
			t.Error("batch loader must not be called")
			return nil, nil
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"a": 1}, result)
	})
}

func TestGet_Validation(t *testing.T) {
	local := newSpyStore()
	c := newTestCoordinator(t, nil, WithLevelStore(LevelLocal, local))
	ctx := context.Background()

	_, _, err := Get(ctx, c, "", valueLoader(1, nil))
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, _, err = Get[int](ctx, c, "k", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	_, _, err = Get(ctx, c, "k", valueLoader(1, nil), Policy{EnableLocal: false, LocalTTL: time.Minute})
	assert.True(t, apperrors.IsType(err, apperrors.ErrTypeValidation))

	assert.Equal(t, int64(0), local.touched())
}

func TestGet_LoaderErrorIsWrapped(t *testing.T) {
	c := newTestCoordinator(t, nil)
	cause := errors.New("connection refused")

	_, found, err := Get(context.Background(), c, "u:9", func(context.Context) (user, bool, error) {
		return user{}, false, cause
	})
	require.Error(t, err)
	assert.False(t, found)
	assert.ErrorIs(t, err, cause)

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperrors.ErrTypeLoader, appErr.Type)
	assert.Contains(t, appErr.Message, "test:user:u:9")

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.LoadErrors)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestGet_NotOkLoaderResultIsNotCached(t *testing.T) {
	c := newTestCoordinator(t, nil)
	ctx := context.Background()

	var calls atomic.Int64
	loader := func(context.Context) (map[string]int, bool, error) {
		calls.Add(1)
		return map[string]int{"x": 1}, false, nil
	}
	for i := 0; i < 2; i++ {
		_, found, err := Get(ctx, c, "m", loader)
		require.NoError(t, err)
		assert.False(t, found)
	}
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, int64(2), c.Statistics().Misses)
}

func TestTTLMonotonicity(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, newMemRemote(), WithClock(clock.Now))
	ctx := context.Background()
	ttl := time.Hour
	p := Policy{
		EnableLocal: true, EnableSecondary: true, EnableShared: true,
		LocalTTL: ttl, SecondaryTTL: ttl, SharedTTL: ttl,
	}

	require.NoError(t, Put(ctx, c, "k", 42, p))

	clock.Advance(ttl - time.Nanosecond)
	got, found, err := GetIfPresent[int](ctx, c, "k", p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, got)

	clock.Advance(time.Nanosecond)
	_, found, err = GetIfPresent[int](ctx, c, "k", p)
	require.NoError(t, err)
	assert.False(t, found)

	key := mustKey(t, c, "k", "int")
	assert.False(t, present(t, c.stores[LevelLocal], key), "expired entry deleted on read")
	assert.False(t, present(t, c.stores[LevelSecondary], key))

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Local.Evictions)
	assert.Equal(t, int64(1), stats.Secondary.Evictions)
	assert.Equal(t, int64(1), stats.Shared.Evictions)
}

func TestBackfillCorrectness(t *testing.T) {
	remote := newMemRemote()
	local := newSpyStore()
	c := newTestCoordinator(t, remote, WithLevelStore(LevelLocal, local))
	ctx := context.Background()
	u := user{ID: 7, Name: "Grace"}

	require.NoError(t, Put(ctx, c, "u:7", u, SharedOnly()))
	key := mustKey(t, c, "u:7", "user")
	require.True(t, remote.has(key))
	assert.False(t, present(t, c.stores[LevelSecondary], key))

	p := Policy{EnableSecondary: true, EnableShared: true, SecondaryTTL: time.Hour, SharedTTL: time.Hour}
	got, found, err := Get(ctx, c, "u:7", failingLoader[user](t), p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, u, got)

	assert.True(t, present(t, c.stores[LevelSecondary], key))
	assert.Equal(t, int64(0), local.touched(), "disabled level never touched")

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Shared.Hits)
	assert.Equal(t, int64(1), stats.Promotions)

	got, found, err = Get(ctx, c, "u:7", failingLoader[user](t), p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, u, got)
	assert.Equal(t, int64(1), c.Statistics().Secondary.Hits)
}

func TestBackfill_UsesTargetLevelTTL(t *testing.T) {
	clock := newFakeClock()
	remote := newMemRemote()
	c := newTestCoordinator(t, remote, WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, Put(ctx, c, "k", "v", SharedOnly()))
	_, found, err := GetIfPresent[string](ctx, c, "k")
	require.NoError(t, err)
	require.True(t, found)

	key := mustKey(t, c, "k", "string")
	entry, ok, err := c.stores[LevelLocal].Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultLocalTTL, entry.TTL())

	entry, ok, err = c.stores[LevelSecondary].Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultSecondaryTTL, entry.TTL())
}

func TestPolicyIsolation(t *testing.T) {
	local, secondary := newSpyStore(), newSpyStore()
	remote := newMemRemote()
	c := newTestCoordinator(t, remote,
		WithLevelStore(LevelLocal, local),
		WithLevelStore(LevelSecondary, secondary),
	)
	ctx := context.Background()
	p := SharedOnly()

	require.NoError(t, Put(ctx, c, "k", "v", p))
	got, found, err := Get(ctx, c, "k", failingLoader[string](t), p)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)

	_, _, err = Get(ctx, c, "other", valueLoader("w", nil), p)
	require.NoError(t, err)

	require.NoError(t, EvictPolicy[string](ctx, c, "k", p))
	assert.False(t, remote.has(mustKey(t, c, "k", "string")))

	assert.Equal(t, int64(0), local.touched())
	assert.Equal(t, int64(0), secondary.touched())
}

func TestEvict_Idempotent(t *testing.T) {
	remote := newMemRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	require.NoError(t, Evict[user](ctx, c, "absent", LevelAll))

	require.NoError(t, Put(ctx, c, "u:1", user{ID: 1}))
	require.NoError(t, Evict[user](ctx, c, "u:1", LevelAll))
	require.NoError(t, Evict[user](ctx, c, "u:1", LevelAll))

	key := mustKey(t, c, "u:1", "user")
	for _, level := range lookupOrder {
		assert.False(t, present(t, c.stores[level], key), level.String())
	}

	_, found, err := GetIfPresent[user](ctx, c, "u:1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEvict_SingleLevel(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()

	require.NoError(t, Put(ctx, c, "k", "v"))
	require.NoError(t, c.EvictNamed(ctx, "string", "k", LevelLocal))

	key := mustKey(t, c, "k", "string")
	assert.False(t, present(t, c.stores[LevelLocal], key))
	assert.True(t, present(t, c.stores[LevelSecondary], key))
	assert.True(t, present(t, c.stores[LevelShared], key))

	assert.True(t, apperrors.IsType(c.EvictNamed(ctx, "string", "", LevelAll), apperrors.ErrTypeValidation))
	assert.True(t, apperrors.IsType(c.EvictNamed(ctx, "string", "k", Level(42)), apperrors.ErrTypeValidation))
}

func TestLevelFailuresAreAbsorbed(t *testing.T) {
	remote := newMemRemote()
	remote.setFailure(errors.New("redis: connection refused"))
	secondary := newSpyStore()
	secondary.fail = errors.New("secondary broken")
	c := newTestCoordinator(t, remote, WithLevelStore(LevelSecondary, secondary))
	ctx := context.Background()

	require.NoError(t, Put(ctx, c, "k", "v"))

	var calls atomic.Int64
	got, found, err := Get(ctx, c, "missing", valueLoader("loaded", &calls))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "loaded", got)
	assert.Equal(t, int64(1), calls.Load())

	got, found, err = Get(ctx, c, "k", failingLoader[string](t))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", got)

	require.NoError(t, Evict[string](ctx, c, "k", LevelAll))

	stats := c.Statistics()
	assert.Positive(t, stats.Secondary.Errors)
	assert.Positive(t, stats.Shared.Errors)
	assert.Equal(t, int64(0), stats.Local.Errors)
	assert.Equal(t, stats.Secondary.Errors+stats.Shared.Errors, stats.Errors)
}

func TestSharedTimeoutIsBounded(t *testing.T) {
	remote := newMemRemote()
	remote.delay = time.Second
	c := newTestCoordinator(t, remote)

	start := time.Now()
	got, found, err := Get(context.Background(), c, "slow", valueLoader("fresh", nil))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", got)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Positive(t, c.Statistics().Shared.Errors)
}

func TestGet_ExpiredCallerContextSkipsShared(t *testing.T) {
	remote := newMemRemote()
	c := newTestCoordinator(t, remote)
	require.NoError(t, Put(context.Background(), c, "k", "v", SharedOnly()))
	before := remote.calls.Load()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, found, err := GetIfPresent[string](ctx, c, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, before, remote.calls.Load())
}

func TestSharedCircuitBreaker(t *testing.T) {
	remote := newMemRemote()
	remote.setFailure(errors.New("redis down"))

	cfg := testConfig()
	cfg.SharedBreaker.MaxFailures = 2
	cfg.SharedBreaker.Timeout = time.Hour
	c, err := New(cfg, WithLogger(logging.NewNopLogger()), WithRemote(remote))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := GetIfPresent[string](ctx, c, fmt.Sprintf("k%d", i), SharedOnly())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), remote.calls.Load(), "open breaker short-circuits the remote")
	assert.Equal(t, int64(5), c.Statistics().Shared.Errors)

	stats, ok := c.BreakerStats()
	require.True(t, ok)
	assert.Equal(t, "open", stats.State)
}

func TestPut_EmptyValueNotWritten(t *testing.T) {
	remote := newMemRemote()
	c := newTestCoordinator(t, remote)
	ctx := context.Background()

	var nilSlice []int
	require.NoError(t, Put(ctx, c, "s", nilSlice))
	require.NoError(t, Put[*user](ctx, c, "p", nil))

	assert.Equal(t, 0, remote.len())
	assert.Equal(t, int64(0), c.Statistics().Local.Puts)
	assert.True(t, apperrors.IsType(Put(ctx, c, "", 1), apperrors.ErrTypeValidation))
}

func TestSharedTTLJitter(t *testing.T) {
	remote := newMemRemote()
	cfg := testConfig()
	cfg.SharedTTLJitter = 10 * time.Minute
	c, err := New(cfg, WithLogger(logging.NewNopLogger()), WithRemote(remote))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		require.NoError(t, Put(ctx, c, fmt.Sprintf("k%d", i), i))
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	for key, ttl := range remote.ttls {
		assert.GreaterOrEqual(t, ttl, DefaultSharedTTL-5*time.Minute, key)
		assert.LessOrEqual(t, ttl, DefaultSharedTTL+5*time.Minute, key)
	}

	p := Policy{EnableShared: true, SharedTTL: time.Minute}
	for i := 0; i < 50; i++ {
		assert.GreaterOrEqual(t, c.levelTTL(LevelShared, p), 30*time.Second)
	}
	assert.Equal(t, DefaultLocalTTL, c.levelTTL(LevelLocal, DefaultPolicy()))
}

func TestClear(t *testing.T) {
	t.Run("all levels", func(t *testing.T) {
		remote := newMemRemote()
		c := newTestCoordinator(t, remote)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, Put(ctx, c, fmt.Sprintf("k%d", i), i))
		}
		remote.data["other:int:k"] = []byte("1")

		require.NoError(t, c.Clear(ctx, LevelAll))

		_, found, err := GetIfPresent[int](ctx, c, "k0")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, 1, remote.len(), "keys outside the namespace are kept")

		stats := c.Statistics()
		assert.Equal(t, int64(1), stats.Local.Clears)
		assert.Equal(t, int64(1), stats.Secondary.Clears)
		assert.Equal(t, int64(1), stats.Shared.Clears)
	})

	t.Run("failing level does not stop the others", func(t *testing.T) {
		remote := newMemRemote()
		c := newTestCoordinator(t, remote)
		ctx := context.Background()
		require.NoError(t, Put(ctx, c, "k", 1))
		remote.setFailure(errors.New("scan failed"))

		err := c.Clear(ctx, LevelAll)
		require.Error(t, err)
		assert.True(t, apperrors.IsType(err, apperrors.ErrTypeLevelAccess))

		key := mustKey(t, c, "k", "int")
		assert.False(t, present(t, c.stores[LevelLocal], key))
		assert.False(t, present(t, c.stores[LevelSecondary], key))
		assert.Equal(t, int64(1), c.Statistics().Shared.Errors)
	})

	t.Run("single level", func(t *testing.T) {
		c := newTestCoordinator(t, nil)
		ctx := context.Background()
		require.NoError(t, Put(ctx, c, "k", 1))
		require.NoError(t, c.Clear(ctx, LevelLocal))

		key := mustKey(t, c, "k", "int")
		assert.False(t, present(t, c.stores[LevelLocal], key))
		assert.True(t, present(t, c.stores[LevelSecondary], key))
	})
}

func TestSingleFlight(t *testing.T) {
	cfg := testConfig()
	cfg.SingleFlight = true
	c, err := New(cfg, WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	var calls atomic.Int64
	release := make(chan struct{})
	loader := func(context.Context) (string, bool, error) {
		calls.Add(1)
		<-release
		return "v", true, nil
	}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := Get(context.Background(), c, "hot", loader)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, "v", v)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("k%d", j%10)
				_, _, err := Get(ctx, c, key, valueLoader(j, nil))
				assert.NoError(t, err)
				if j%7 == 0 {
					assert.NoError(t, Evict[int](ctx, c, key, LevelAll))
				}
			}
		}()
	}
	wg.Wait()

	stats := c.Statistics()
	assert.Equal(t, int64(20*50), stats.Hits+stats.Misses)
}

func TestMGet_WithoutBatchLoaderReturnsCachedSubset(t *testing.T) {
	c := newTestCoordinator(t, newMemRemote())
	ctx := context.Background()
	require.NoError(t, Put(ctx, c, "a", 1))

	result, err := MGet[int](ctx, c, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, result)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(0), stats.Loads)
}

func TestGet_PointerAndValueShareEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("value stored, pointer read", func(t *testing.T) {
		c := newTestCoordinator(t, newMemRemote())
		require.NoError(t, Put(ctx, c, "k", user{ID: 1, Name: "Ada"}))

		got, found, err := Get(ctx, c, "k", failingLoader[*user](t))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, &user{ID: 1, Name: "Ada"}, got)

		got.Name = "changed"
		v, found, err := GetIfPresent[user](ctx, c, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "Ada", v.Name)

		stats := c.Statistics()
		assert.Equal(t, int64(0), stats.Errors)
		assert.Equal(t, int64(2), stats.Local.Hits)
	})

	t.Run("pointer stored, value read", func(t *testing.T) {
		c := newTestCoordinator(t, newMemRemote())
		require.NoError(t, Put(ctx, c, "k", &user{ID: 2, Name: "Linus"}))

		got, found, err := Get(ctx, c, "k", failingLoader[user](t))
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, user{ID: 2, Name: "Linus"}, got)
		assert.Equal(t, int64(0), c.Statistics().Errors)
	})
}

func TestSingleFlight_PointerAndValueTypes(t *testing.T) {
	cfg := testConfig()
	cfg.SingleFlight = true
	c, err := New(cfg, WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	release := make(chan struct{})
	var calls atomic.Int64
	valueLoad := func(context.Context) (user, bool, error) {
		calls.Add(1)
		<-release
		return user{ID: 1, Name: "Ada"}, true, nil
	}
	pointerLoad := func(context.Context) (*user, bool, error) {
		calls.Add(1)
		<-release
		return &user{ID: 1, Name: "Ada"}, true, nil
	}

	var wg sync.WaitGroup
	var byValue user
	var byPointer *user
	wg.Add(2)
	go func() {
		defer wg.Done()
		v, found, err := Get(context.Background(), c, "k", valueLoad)
		assert.NoError(t, err)
		assert.True(t, found)
		byValue = v
	}()
	go func() {
		defer wg.Done()
		v, found, err := Get(context.Background(), c, "k", pointerLoad)
		assert.NoError(t, err)
		assert.True(t, found)
		byPointer = v
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, "Ada", byValue.Name)
	require.NotNil(t, byPointer)
	assert.Equal(t, "Ada", byPointer.Name)
}

func TestHitLatencyExcludesBackfill(t *testing.T) {
	local := newSpyStore()
	c := newTestCoordinator(t, nil, WithLevelStore(LevelLocal, local))
	ctx := context.Background()

	require.NoError(t, Put(ctx, c, "k", "v"))
	require.NoError(t, Evict[string](ctx, c, "k", LevelLocal))
	local.putDelay = 100 * time.Millisecond

	_, found, err := Get(ctx, c, "k", failingLoader[string](t))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), local.puts.Load(), "put plus backfill")

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Secondary.Hits)
	assert.Less(t, stats.AverageLatency(LevelSecondary), 100*time.Millisecond)
}

func TestSecondaryExpiryIsLazilyEvicted(t *testing.T) {
	clock := newFakeClock()
	c := newTestCoordinator(t, nil, WithClock(clock.Now))
	ctx := context.Background()
	p := Policy{EnableSecondary: true, SecondaryTTL: time.Second}

	require.NoError(t, Put(ctx, c, "k", "v", p))
	clock.Advance(2 * time.Second)

	_, found, err := GetIfPresent[string](ctx, c, "k", p)
	require.NoError(t, err)
	assert.False(t, found)

	stats := c.Statistics()
	assert.Equal(t, int64(1), stats.Secondary.Evictions)
	assert.Equal(t, int64(1), stats.Misses)
	assert.False(t, present(t, c.stores[LevelSecondary], mustKey(t, c, "k", "string")))
}
