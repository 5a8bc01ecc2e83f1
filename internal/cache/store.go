package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	gocache "github.com/patrickmn/go-cache"
)

// LevelStore is the capability every cache level provides. Implementations must be
// safe for concurrent use. Get reports absence with found=false and a nil error.
type LevelStore interface {
	Get(ctx context.Context, key string) (entry *Entry, found bool, err error)
	Put(ctx context.Context, key string, entry *Entry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// LocalStore is the Local level: a bounded LRU whose entries also age out after maxAge.
type LocalStore struct {
	lru *expirable.LRU[string, *Entry]
}

// NewLocalStore creates a Local level holding at most size entries. maxAge caps the
// lifetime of every entry regardless of its own TTL; zero disables the cap.
func NewLocalStore(size int, maxAge time.Duration) *LocalStore {
	return &LocalStore{
		lru: expirable.NewLRU[string, *Entry](size, nil, maxAge),
	}
}

func (l *LocalStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	e, ok := l.lru.Get(key)
	return e, ok, nil
}

func (l *LocalStore) Put(_ context.Context, key string, entry *Entry) error {
	l.lru.Add(key, entry)
	return nil
}

func (l *LocalStore) Delete(_ context.Context, key string) error {
	l.lru.Remove(key)
	return nil
}

func (l *LocalStore) Clear(_ context.Context) error {
	l.lru.Purge()
	return nil
}

// Len returns the number of entries currently held.
func (l *LocalStore) Len() int {
	return l.lru.Len()
}

// SecondaryStore is the Secondary level. go-cache holds the entries and an LRU index of
// keys bounds the size and picks the victim when a new key arrives at capacity.
// Items never expire inside go-cache: an expired entry stays readable so the coordinator
// can delete it and count the eviction. Entries nobody reads again are swept at most
// once per cleanupInterval by the next Put.
type SecondaryStore struct {
	mu      sync.Mutex
	items   *gocache.Cache
	recency *lru.Cache[string, struct{}]
	size    int

	cleanupInterval time.Duration
	lastSweep       time.Time
	now             func() time.Time
}

// NewSecondaryStore creates a Secondary level holding at most size entries. Expired
// entries are swept every cleanupInterval; zero leaves them to readers and LRU eviction.
func NewSecondaryStore(size int, cleanupInterval time.Duration) (*SecondaryStore, error) {
	recency, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}

	return &SecondaryStore{
		items:           gocache.New(gocache.NoExpiration, 0),
		recency:         recency,
		size:            size,
		cleanupInterval: cleanupInterval,
		now:             time.Now,
	}, nil
}

func (s *SecondaryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := s.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	s.recency.Get(key)
	return v.(*Entry), true, nil
}

func (s *SecondaryStore) Put(_ context.Context, key string, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked()
	if !s.recency.Contains(key) && s.recency.Len() >= s.size {
		if oldest, _, ok := s.recency.RemoveOldest(); ok {
			s.items.Delete(oldest)
		}
	}

	s.items.Set(key, entry, gocache.NoExpiration)
	s.recency.Add(key, struct{}{})
	return nil
}

func (s *SecondaryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Delete(key)
	s.recency.Remove(key)
	return nil
}

func (s *SecondaryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.Flush()
	s.recency.Purge()
	return nil
}

// Len returns the number of entries currently held, expired ones included until a
// reader or the sweep removes them.
func (s *SecondaryStore) Len() int {
	return s.items.ItemCount()
}

// Sweep removes every expired entry and returns how many it removed.
func (s *SecondaryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepExpired(s.now())
}

func (s *SecondaryStore) sweepLocked() {
	if s.cleanupInterval <= 0 {
		return
	}
	now := s.now()
	if s.lastSweep.IsZero() {
		s.lastSweep = now
		return
	}
	if now.Sub(s.lastSweep) < s.cleanupInterval {
		return
	}
	s.lastSweep = now
	s.sweepExpired(now)
}

func (s *SecondaryStore) sweepExpired(now time.Time) int {
	removed := 0
	for key, item := range s.items.Items() {
		if e, ok := item.Object.(*Entry); ok && e.Expired(now) {
			s.items.Delete(key)
			s.recency.Remove(key)
			removed++
		}
	}
	return removed
}
