package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cache-coordinator/internal/common/logging"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// memRemote is an in-memory RemoteStore with failure injection.
type memRemote struct {
	mu     sync.Mutex
	data   map[string][]byte
	ttls   map[string]time.Duration
	fail   error
	delay  time.Duration
	calls  atomic.Int64
	scans  atomic.Int64
	maxDel int

	cursors    map[uint64]string
	nextCursor uint64
}

func newMemRemote() *memRemote {
	return &memRemote{
		data:    make(map[string][]byte),
		ttls:    make(map[string]time.Duration),
		cursors: make(map[uint64]string),
	}
}

func (m *memRemote) setFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *memRemote) wait(ctx context.Context) error {
	m.calls.Add(1)
	m.mu.Lock()
	fail, delay := m.fail, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fail
}

func (m *memRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := m.wait(ctx); err != nil {
		return nil, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	return data, ok, nil
}

func (m *memRemote) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = data
	m.ttls[key] = ttl
	return nil
}

func (m *memRemote) Delete(ctx context.Context, keys ...string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(keys) > m.maxDel {
		m.maxDel = len(keys)
	}
	for _, k := range keys {
		delete(m.data, k)
		delete(m.ttls, k)
	}
	return nil
}

// Scan pages through the sorted key set. Like Redis, a cursor survives deletions
// made between pages; here it remembers the last key returned.
func (m *memRemote) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	if err := m.wait(ctx); err != nil {
		return nil, 0, err
	}
	m.scans.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	after := m.cursors[cursor]
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) && (cursor == 0 || k > after) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if int64(len(keys)) <= count {
		return keys, 0, nil
	}
	page := keys[:count]
	m.nextCursor++
	m.cursors[m.nextCursor] = page[len(page)-1]
	return page, m.nextCursor, nil
}

func (m *memRemote) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func (m *memRemote) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// spyStore counts every call and can be told to fail.
type spyStore struct {
	inner    LevelStore
	fail     error
	putDelay time.Duration
	gets     atomic.Int64
	puts     atomic.Int64
	deletes  atomic.Int64
	clears   atomic.Int64
}

func newSpyStore() *spyStore {
	return &spyStore{inner: NewLocalStore(100, 0)}
}

func (s *spyStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	s.gets.Add(1)
	if s.fail != nil {
		return nil, false, s.fail
	}
	return s.inner.Get(ctx, key)
}

func (s *spyStore) Put(ctx context.Context, key string, entry *Entry) error {
	s.puts.Add(1)
	time.Sleep(s.putDelay)
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Put(ctx, key, entry)
}

func (s *spyStore) Delete(ctx context.Context, key string) error {
	s.deletes.Add(1)
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Delete(ctx, key)
}

func (s *spyStore) Clear(ctx context.Context) error {
	s.clears.Add(1)
	if s.fail != nil {
		return s.fail
	}
	return s.inner.Clear(ctx)
}

func (s *spyStore) touched() int64 {
	return s.gets.Load() + s.puts.Load() + s.deletes.Load() + s.clears.Load()
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Namespace = "test"
	cfg.LocalSize = 100
	cfg.SecondarySize = 100
	cfg.SecondaryCleanupInterval = 0
	cfg.SharedTimeout = 200 * time.Millisecond
	cfg.SharedBreaker.MaxFailures = 0
	return cfg
}

func newTestCoordinator(t *testing.T, remote RemoteStore, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewNopLogger())}, opts...)
	if remote != nil {
		opts = append(opts, WithRemote(remote))
	}
	c, err := New(testConfig(), opts...)
	require.NoError(t, err)
	return c
}

func failingLoader[T any](t *testing.T) Loader[T] {
	return func(context.Context) (T, bool, error) {
		var zero T
		t.Error("loader must not be called")
		return zero, false, fmt.Errorf("unexpected load")
	}
}

func valueLoader[T any](v T, calls *atomic.Int64) Loader[T] {
	return func(context.Context) (T, bool, error) {
		if calls != nil {
			calls.Add(1)
		}
		return v, true, nil
	}
}

func mustKey(t *testing.T, c *Coordinator, key, typeName string) string {
	t.Helper()
	k, err := c.BuildKey(key, typeName)
	require.NoError(t, err)
	return k
}

func present(t *testing.T, store LevelStore, key string) bool {
	t.Helper()
	_, ok, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	return ok
}
