// Package metrics exposes coordinator statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/circuitbreaker"
)

// Source is what the collector reads on every scrape.
type Source interface {
	Namespace() string
	Statistics() cache.Statistics
	BreakerStats() (circuitbreaker.Stats, bool)
}

var levels = []cache.Level{cache.LevelLocal, cache.LevelSecondary, cache.LevelShared}

var breakerStates = []string{
	circuitbreaker.StateClosed.String(),
	circuitbreaker.StateOpen.String(),
	circuitbreaker.StateHalfOpen.String(),
}

// Collector turns a statistics snapshot into Prometheus metrics at scrape time,
// so counters never drift from what the coordinator reports.
type Collector struct {
	source Source

	hits         *prometheus.Desc
	misses       *prometheus.Desc
	loads        *prometheus.Desc
	loadErrors   *prometheus.Desc
	promotions   *prometheus.Desc
	puts         *prometheus.Desc
	evictions    *prometheus.Desc
	clears       *prometheus.Desc
	levelErrors  *prometheus.Desc
	hitRatio     *prometheus.Desc
	hitLatency   *prometheus.Desc
	breakerState *prometheus.Desc
	breakerTrips *prometheus.Desc
}

// NewCollector creates a collector. metricNamespace prefixes every metric name;
// the coordinator namespace is attached as the "cache" label.
func NewCollector(metricNamespace string, source Source) *Collector {
	constLabels := prometheus.Labels{"cache": source.Namespace()}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricNamespace, "cache", name), help, labels, constLabels)
	}

	return &Collector{
		source:       source,
		hits:         desc("hits_total", "Lookups answered by a cache level.", "level"),
		misses:       desc("misses_total", "Lookups that no level could answer."),
		loads:        desc("loads_total", "Loader invocations."),
		loadErrors:   desc("load_errors_total", "Loader invocations that failed."),
		promotions:   desc("promotions_total", "Entries copied into a faster level after a hit."),
		puts:         desc("puts_total", "Entries written to a level.", "level"),
		evictions:    desc("evictions_total", "Entries removed from a level.", "level"),
		clears:       desc("clears_total", "Full clears of a level.", "level"),
		levelErrors:  desc("level_errors_total", "Failed level operations.", "level"),
		hitRatio:     desc("hit_ratio", "Hits divided by lookups since the last reset."),
		hitLatency:   desc("hit_latency_seconds_avg", "Mean time to a hit.", "level"),
		breakerState: desc("shared_breaker_state", "Shared level breaker state, 1 for the current state.", "state"),
		breakerTrips: desc("shared_breaker_consecutive_failures", "Consecutive failures seen by the shared level breaker."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hits, c.misses, c.loads, c.loadErrors, c.promotions, c.puts, c.evictions,
		c.clears, c.levelErrors, c.hitRatio, c.hitLatency, c.breakerState, c.breakerTrips,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.source.Statistics()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	counter(c.misses, s.Misses)
	counter(c.loads, s.Loads)
	counter(c.loadErrors, s.LoadErrors)
	counter(c.promotions, s.Promotions)
	ch <- prometheus.MustNewConstMetric(c.hitRatio, prometheus.GaugeValue, s.HitRate())

	for _, level := range levels {
		ls := s.Level(level)
		name := level.String()
		counter(c.hits, ls.Hits, name)
		counter(c.puts, ls.Puts, name)
		counter(c.evictions, ls.Evictions, name)
		counter(c.clears, ls.Clears, name)
		counter(c.levelErrors, ls.Errors, name)
		ch <- prometheus.MustNewConstMetric(c.hitLatency, prometheus.GaugeValue, ls.AverageLatency().Seconds(), name)
	}

	if bs, ok := c.source.BreakerStats(); ok {
		for _, state := range breakerStates {
			v := 0.0
			if bs.State == state {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.breakerState, prometheus.GaugeValue, v, state)
		}
		ch <- prometheus.MustNewConstMetric(c.breakerTrips, prometheus.GaugeValue, float64(bs.ConsecutiveFailures))
	}
}
