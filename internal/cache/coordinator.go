package cache

import (
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"cache-coordinator/internal/circuitbreaker"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

const (
	DefaultNamespace                = "cache"
	DefaultLocalSize                = 1_000
	DefaultLocalMaxAge              = 10 * time.Minute
	DefaultSecondarySize            = 10_000
	DefaultSecondaryCleanupInterval = time.Minute
	DefaultSharedTimeout            = 500 * time.Millisecond
	DefaultClearScanCount           = 500
	DefaultWarmUpConcurrency        = 8
)

// Config holds the coordinator settings.
type Config struct {
	Namespace string

	LocalSize   int
	LocalMaxAge time.Duration

	SecondarySize            int
	SecondaryCleanupInterval time.Duration

	// SharedTimeout bounds every call to the remote store.
	SharedTimeout time.Duration
	// SharedTTLJitter spreads Shared expiries over ttl ± jitter/2.
	SharedTTLJitter time.Duration
	// SharedBreaker guards the remote store. A zero MaxFailures disables the breaker.
	SharedBreaker circuitbreaker.Config

	ClearScanCount int64
	// ClearRate caps Shared clear at this many scan pages per second; zero is unlimited.
	ClearRate float64

	// SingleFlight collapses concurrent loads of the same key into one loader call.
	SingleFlight      bool
	WarmUpConcurrency int
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:                DefaultNamespace,
		LocalSize:                DefaultLocalSize,
		LocalMaxAge:              DefaultLocalMaxAge,
		SecondarySize:            DefaultSecondarySize,
		SecondaryCleanupInterval: DefaultSecondaryCleanupInterval,
		SharedTimeout:            DefaultSharedTimeout,
		SharedBreaker:            circuitbreaker.DefaultConfig(),
		ClearScanCount:           DefaultClearScanCount,
		WarmUpConcurrency:        DefaultWarmUpConcurrency,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Namespace == "" {
		return errors.ConfigError("cache namespace is required")
	}
	if c.LocalSize <= 0 {
		return errors.ConfigError(fmt.Sprintf("local size must be positive, got %d", c.LocalSize))
	}
	if c.SecondarySize <= 0 {
		return errors.ConfigError(fmt.Sprintf("secondary size must be positive, got %d", c.SecondarySize))
	}
	if c.LocalMaxAge < 0 || c.SecondaryCleanupInterval < 0 || c.SharedTimeout < 0 || c.SharedTTLJitter < 0 {
		return errors.ConfigError("durations must not be negative")
	}
	if c.ClearScanCount < 0 || c.ClearRate < 0 {
		return errors.ConfigError("clear scan count and rate must not be negative")
	}
	if c.WarmUpConcurrency <= 0 {
		return errors.ConfigError(fmt.Sprintf("warm-up concurrency must be positive, got %d", c.WarmUpConcurrency))
	}
	if c.SharedBreaker.MaxFailures > 0 {
		if err := c.SharedBreaker.Validate(); err != nil {
			return errors.ConfigError("invalid shared breaker config: " + err.Error())
		}
	}
	return nil
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Lines are tagged with the namespace.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithRemote enables the Shared level on top of remote.
func WithRemote(remote RemoteStore) Option {
	return func(c *Coordinator) {
		c.remote = remote
	}
}

// WithLevelStore replaces the store backing one level.
func WithLevelStore(level Level, store LevelStore) Option {
	return func(c *Coordinator) {
		if level >= 0 && level < levelCount {
			c.stores[level] = store
			c.custom[level] = true
		}
	}
}

// Coordinator is a three-level cache. A level without a store is unavailable and
// silently skipped, which is how a process runs without the Shared level.
type Coordinator struct {
	cfg     Config
	stores  [levelCount]LevelStore
	custom  [levelCount]bool
	remote  RemoteStore
	breaker *circuitbreaker.GoBreakerAdapter
	stats   *Stats
	logger  logging.Logger
	now     func() time.Time
	loads   singleflight.Group
}

// New creates a Coordinator. The Local and Secondary levels are always built from cfg;
// the Shared level exists only when WithRemote or WithLevelStore(LevelShared, ...) is given.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:   cfg,
		stats: NewStats(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.GetGlobalLogger()
	}
	c.logger = c.logger.WithFields(logging.String("cache", cfg.Namespace))

	if !c.custom[LevelLocal] {
		c.stores[LevelLocal] = NewLocalStore(cfg.LocalSize, cfg.LocalMaxAge)
	}
	if !c.custom[LevelSecondary] {
		secondary, err := NewSecondaryStore(cfg.SecondarySize, cfg.SecondaryCleanupInterval)
		if err != nil {
			return nil, errors.ConfigError("create secondary level: " + err.Error())
		}
		secondary.now = c.now
		c.stores[LevelSecondary] = secondary
	}
	if !c.custom[LevelShared] && c.remote != nil {
		var breaker Breaker
		if cfg.SharedBreaker.MaxFailures > 0 {
			c.breaker = circuitbreaker.NewGoBreaker("cache-shared:"+cfg.Namespace, cfg.SharedBreaker, c.logger)
			breaker = c.breaker
		}
		c.stores[LevelShared] = NewSharedStore(c.remote, SharedOptions{
			Prefix:    cfg.Namespace + ":",
			Timeout:   cfg.SharedTimeout,
			ScanCount: cfg.ClearScanCount,
			ClearRate: cfg.ClearRate,
		}, breaker, c.logger)
	}

	c.logger.Info("Cache coordinator created",
		logging.Bool("shared", c.stores[LevelShared] != nil),
		logging.Int("local_size", cfg.LocalSize),
		logging.Int("secondary_size", cfg.SecondarySize),
		logging.Bool("single_flight", cfg.SingleFlight),
	)
	return c, nil
}

// Namespace returns the key namespace.
func (c *Coordinator) Namespace() string {
	return c.cfg.Namespace
}

// BuildKey returns the namespaced key for a logical key of the given type name.
func (c *Coordinator) BuildKey(key, typeName string) (string, error) {
	return BuildKey(c.cfg.Namespace, typeName, key)
}

// Statistics returns an immutable snapshot of the counters.
func (c *Coordinator) Statistics() Statistics {
	return c.stats.Snapshot()
}

// SnapshotAndReset returns the counters and zeroes them.
func (c *Coordinator) SnapshotAndReset() Statistics {
	return c.stats.SnapshotAndReset()
}

// ResetStatistics zeroes every counter.
func (c *Coordinator) ResetStatistics() {
	c.stats.Reset()
}

// HasLevel reports whether a store backs level.
func (c *Coordinator) HasLevel(level Level) bool {
	return level >= 0 && level < levelCount && c.stores[level] != nil
}

// BreakerStats returns the Shared level breaker state, if a breaker is configured.
func (c *Coordinator) BreakerStats() (circuitbreaker.Stats, bool) {
	if c.breaker == nil {
		return circuitbreaker.Stats{}, false
	}
	return c.breaker.Stats(), true
}

// levelFailure counts, logs and wraps a failure of one level. The error is never
// returned to callers of Get or Put.
func (c *Coordinator) levelFailure(level Level, op, key string, err error) error {
	c.stats.RecordError(level)
	c.logger.Warn("Cache level operation failed",
		logging.String("level", level.String()),
		logging.String("op", op),
		logging.String("key", key),
		logging.Err(err),
	)
	return errors.LevelAccessError(level.String(), op, err).WithContext("key", key)
}
