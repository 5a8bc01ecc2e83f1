package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// RemoteStore is the narrow contract of the distributed key/value service behind the
// Shared level. Get reports a missing key with found=false and a nil error.
type RemoteStore interface {
	Get(ctx context.Context, key string) (data []byte, found bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)
}

// Breaker guards calls to the remote store.
type Breaker interface {
	Execute(ctx context.Context, fn func() error) error
}

// SharedOptions configures a SharedStore.
type SharedOptions struct {
	// Prefix scopes Clear to this coordinator's keys, usually "<namespace>:".
	Prefix string
	// Timeout bounds every remote call.
	Timeout time.Duration
	// ScanCount is the page size hint for the paginated Clear.
	ScanCount int64
	// ClearRate limits Clear to this many pages per second; zero means unlimited.
	ClearRate float64
}

// SharedStore is the Shared level. Values travel as a JSON envelope so that any
// process can decode them and so the expiry survives the round trip.
type SharedStore struct {
	remote  RemoteStore
	opts    SharedOptions
	breaker Breaker
	limiter *rate.Limiter
	logger  logging.Logger
}

type envelope struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// NewSharedStore wraps remote as a LevelStore. breaker may be nil.
func NewSharedStore(remote RemoteStore, opts SharedOptions, breaker Breaker, logger logging.Logger) *SharedStore {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultSharedTimeout
	}
	if opts.ScanCount <= 0 {
		opts.ScanCount = DefaultClearScanCount
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	s := &SharedStore{
		remote:  remote,
		opts:    opts,
		breaker: breaker,
		logger:  logger,
	}
	if opts.ClearRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.ClearRate), 1)
	}
	return s
}

// call runs fn under the per-call timeout and the breaker. No lock is held while waiting.
func (s *SharedStore) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if s.breaker == nil {
		return fn(ctx)
	}
	return s.breaker.Execute(ctx, func() error {
		return fn(ctx)
	})
}

func (s *SharedStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	var (
		data  []byte
		found bool
	)
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		data, found, err = s.remote.Get(ctx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope for %s: %w", key, err)
	}
	var expiresAt time.Time
	if env.ExpiresAt != nil {
		expiresAt = *env.ExpiresAt
	}
	return newEncodedEntry(env.Value, env.CreatedAt, expiresAt), true, nil
}

func (s *SharedStore) Put(ctx context.Context, key string, entry *Entry) error {
	value, err := entry.marshal()
	if err != nil {
		return fmt.Errorf("encode value for %s: %w", key, err)
	}

	env := envelope{Value: value, CreatedAt: entry.CreatedAt()}
	if exp := entry.ExpiresAt(); !exp.IsZero() {
		env.ExpiresAt = &exp
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", key, err)
	}

	return s.call(ctx, func(ctx context.Context) error {
		return s.remote.Set(ctx, key, data, entry.TTL())
	})
}

func (s *SharedStore) Delete(ctx context.Context, key string) error {
	return s.call(ctx, func(ctx context.Context) error {
		return s.remote.Delete(ctx, key)
	})
}

// Clear deletes every key under the prefix one scan page at a time, so the key set
// is never held in memory at once. Each page gets its own timeout.
func (s *SharedStore) Clear(ctx context.Context) error {
	var (
		cursor  uint64
		deleted int
	)
	match := s.opts.Prefix + "*"

	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return errors.LevelAccessError(LevelShared.String(), "clear", err).
					WithContext("deleted", deleted)
			}
		}

		var (
			keys []string
			next uint64
		)
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			keys, next, err = s.remote.Scan(ctx, cursor, match, s.opts.ScanCount)
			return err
		})
		if err != nil {
			return errors.LevelAccessError(LevelShared.String(), "scan", err).
				WithContext("deleted", deleted)
		}

		if len(keys) > 0 {
			if err := s.call(ctx, func(ctx context.Context) error {
				return s.remote.Delete(ctx, keys...)
			}); err != nil {
				return errors.LevelAccessError(LevelShared.String(), "clear", err).
					WithContext("deleted", deleted)
			}
			deleted += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("Shared level cleared",
		logging.String("prefix", s.opts.Prefix),
		logging.Int("deleted", deleted),
	)
	return nil
}
