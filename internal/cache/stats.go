package cache

import (
	"sync/atomic"
	"time"
)

// Stats is the live, thread-safe counter set owned by one coordinator.
// Callers only ever see Statistics snapshots.
type Stats struct {
	hits          [levelCount]atomic.Int64
	responseNanos [levelCount]atomic.Int64
	puts          [levelCount]atomic.Int64
	evictions     [levelCount]atomic.Int64
	clears        [levelCount]atomic.Int64
	errors        [levelCount]atomic.Int64

	misses     atomic.Int64
	loads      atomic.Int64
	loadErrors atomic.Int64
	promotions atomic.Int64
}

// NewStats returns a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

// RecordHit counts a hit at level and the time it took to find it.
func (s *Stats) RecordHit(level Level, elapsed time.Duration) {
	s.hits[level].Add(1)
	s.responseNanos[level].Add(elapsed.Nanoseconds())
}

func (s *Stats) RecordMiss()                { s.misses.Add(1) }
func (s *Stats) RecordLoad()                { s.loads.Add(1) }
func (s *Stats) RecordLoadError()           { s.loadErrors.Add(1) }
func (s *Stats) RecordPromotion()           { s.promotions.Add(1) }
func (s *Stats) RecordPut(level Level)      { s.puts[level].Add(1) }
func (s *Stats) RecordEviction(level Level) { s.evictions[level].Add(1) }
func (s *Stats) RecordClear(level Level)    { s.clears[level].Add(1) }
func (s *Stats) RecordError(level Level)    { s.errors[level].Add(1) }

// Snapshot copies the counters. Counters are read one by one, so a snapshot taken
// under load is consistent per counter, not across counters.
func (s *Stats) Snapshot() Statistics {
	return s.collect(func(c *atomic.Int64) int64 { return c.Load() })
}

// SnapshotAndReset copies the counters and zeroes them.
func (s *Stats) SnapshotAndReset() Statistics {
	return s.collect(func(c *atomic.Int64) int64 { return c.Swap(0) })
}

// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.SnapshotAndReset()
}

func (s *Stats) collect(read func(*atomic.Int64) int64) Statistics {
	snap := Statistics{
		Misses:     read(&s.misses),
		Loads:      read(&s.loads),
		LoadErrors: read(&s.loadErrors),
		Promotions: read(&s.promotions),
	}
	for _, level := range lookupOrder {
		ls := LevelStats{
			Hits:              read(&s.hits[level]),
			ResponseTimeNanos: read(&s.responseNanos[level]),
			Puts:              read(&s.puts[level]),
			Evictions:         read(&s.evictions[level]),
			Clears:            read(&s.clears[level]),
			Errors:            read(&s.errors[level]),
		}
		snap.Hits += ls.Hits
		snap.Errors += ls.Errors
		snap.setLevel(level, ls)
	}
	return snap
}

// LevelStats are the counters of one level.
type LevelStats struct {
	Hits              int64 `json:"hits"`
	ResponseTimeNanos int64 `json:"response_time_nanos"`
	Puts              int64 `json:"puts"`
	Evictions         int64 `json:"evictions"`
	Clears            int64 `json:"clears"`
	Errors            int64 `json:"errors"`
}

// AverageLatency is the mean time to a hit at this level.
func (l LevelStats) AverageLatency() time.Duration {
	if l.Hits == 0 {
		return 0
	}
	return time.Duration(l.ResponseTimeNanos / l.Hits)
}

// Statistics is an immutable copy of a coordinator's counters.
type Statistics struct {
	Hits       int64      `json:"hits"`
	Misses     int64      `json:"misses"`
	Loads      int64      `json:"loads"`
	LoadErrors int64      `json:"load_errors"`
	Promotions int64      `json:"promotions"`
	Errors     int64      `json:"errors"`
	Local      LevelStats `json:"local"`
	Secondary  LevelStats `json:"secondary"`
	Shared     LevelStats `json:"shared"`
}

// HitRate is hits / (hits + misses), zero before any lookup.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Level returns the counters of one concrete level.
func (s Statistics) Level(level Level) LevelStats {
	switch level {
	case LevelLocal:
		return s.Local
	case LevelSecondary:
		return s.Secondary
	case LevelShared:
		return s.Shared
	default:
		return LevelStats{}
	}
}

// AverageLatency is the mean time to a hit at level.
func (s Statistics) AverageLatency(level Level) time.Duration {
	return s.Level(level).AverageLatency()
}

func (s *Statistics) setLevel(level Level, ls LevelStats) {
	switch level {
	case LevelLocal:
		s.Local = ls
	case LevelSecondary:
		s.Secondary = ls
	case LevelShared:
		s.Shared = ls
	}
}

// Metrics flattens the snapshot into a map for JSON or log output.
func (s Statistics) Metrics() map[string]interface{} {
	levels := make(map[string]interface{}, levelCount)
	for _, level := range lookupOrder {
		ls := s.Level(level)
		levels[level.String()] = map[string]interface{}{
			"hits":                 ls.Hits,
			"puts":                 ls.Puts,
			"evictions":            ls.Evictions,
			"clears":               ls.Clears,
			"errors":               ls.Errors,
			"avgResponseTimeNanos": ls.AverageLatency().Nanoseconds(),
		}
	}
	return map[string]interface{}{
		"hitCount":     s.Hits,
		"missCount":    s.Misses,
		"loadCount":    s.Loads,
		"loadErrors":   s.LoadErrors,
		"promotions":   s.Promotions,
		"errorCount":   s.Errors,
		"hitRate":      s.HitRate(),
		"levelMetrics": levels,
	}
}
