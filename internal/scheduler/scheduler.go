// Package scheduler runs cache warm-up on a cron schedule and on demand.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"cache-coordinator/internal/cache"
	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
	"cache-coordinator/internal/common/validation"
)

// TaskSource produces warm-up tasks at run time, e.g. the currently hottest rows.
type TaskSource func(ctx context.Context) ([]cache.WarmUpTask, error)

// WarmUper is the part of the coordinator the scheduler drives.
type WarmUper interface {
	WarmUp(ctx context.Context, tasks []cache.WarmUpTask) cache.WarmUpReport
}

// Scheduler collects warm-up tasks and runs them. At most one run is in flight;
// a run that would overlap is skipped.
type Scheduler struct {
	coord    WarmUper
	spec     string
	logger   logging.Logger
	cron     *cron.Cron
	entry    cron.EntryID
	timeout  time.Duration
	running  atomic.Bool
	runCount atomic.Int64

	mu      sync.RWMutex
	tasks   []cache.WarmUpTask
	sources []TaskSource
	last    *Run
}

// Run describes one completed warm-up run.
type Run struct {
	Trigger   string             `json:"trigger"`
	StartedAt time.Time          `json:"started_at"`
	Report    cache.WarmUpReport `json:"report"`
	Error     string             `json:"error,omitempty"`
}

// New creates a Scheduler. An empty spec disables the schedule; RunNow still works.
func New(coord WarmUper, spec string, logger logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if spec != "" {
		if _, err := validation.CronParser.Parse(spec); err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("invalid warm-up schedule %q: %v", spec, err))
		}
	}

	return &Scheduler{
		coord:   coord,
		spec:    spec,
		logger:  logger.WithFields(logging.String("component", "warmup_scheduler")),
		timeout: 10 * time.Minute,
	}, nil
}

// Register adds static tasks run on every warm-up.
func (s *Scheduler) Register(tasks ...cache.WarmUpTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, tasks...)
}

// RegisterSource adds a producer queried on every warm-up.
func (s *Scheduler) RegisterSource(source TaskSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, source)
}

// ErrRunInProgress is returned by RunNow while another run is active.
var ErrRunInProgress = errors.ValidationError("warm-up already in progress").WithCode("WARMUP_RUNNING")

// RunNow performs a warm-up immediately.
func (s *Scheduler) RunNow(ctx context.Context) (cache.WarmUpReport, error) {
	return s.run(ctx, "manual")
}

func (s *Scheduler) run(ctx context.Context, trigger string) (cache.WarmUpReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("Skipping warm-up, previous run still active", logging.String("trigger", trigger))
		return cache.WarmUpReport{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	run := Run{Trigger: trigger, StartedAt: time.Now()}
	s.runCount.Add(1)

	tasks, err := s.collect(ctx)
	if err != nil {
		run.Error = err.Error()
		s.logger.Error("Failed to collect warm-up tasks", err, logging.String("trigger", trigger))
	}

	run.Report = s.coord.WarmUp(ctx, tasks)
	s.mu.Lock()
	s.last = &run
	s.mu.Unlock()

	return run.Report, err
}

// collect gathers static tasks and every source's tasks. A failing source is
// reported but does not drop the tasks of the others.
func (s *Scheduler) collect(ctx context.Context) ([]cache.WarmUpTask, error) {
	s.mu.RLock()
	tasks := append([]cache.WarmUpTask(nil), s.tasks...)
	sources := append([]TaskSource(nil), s.sources...)
	s.mu.RUnlock()

	var firstErr error
	for _, source := range sources {
		more, err := source(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		tasks = append(tasks, more...)
	}
	return tasks, firstErr
}

// Start begins scheduled runs. It is a no-op without a schedule.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.logger.Info("Warm-up schedule not configured")
		return nil
	}

	s.cron = cron.New(
		cron.WithParser(validation.CronParser),
		cron.WithLogger(cronLogger{s.logger}),
	)
	id, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.run(ctx, "schedule")
	})
	if err != nil {
		return errors.ConfigError(fmt.Sprintf("schedule warm-up: %v", err))
	}
	s.entry = id
	s.cron.Start()

	s.logger.Info("Warm-up scheduler started",
		logging.Field{Key: "schedule", Value: s.spec},
		logging.Field{Key: "next_run", Value: s.NextRun()},
	)
	return nil
}

// Stop halts the schedule and waits for a running warm-up to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	s.logger.Info("Warm-up scheduler stopped")
}

// NextRun returns the next scheduled run, zero when not scheduled.
func (s *Scheduler) NextRun() time.Time {
	if s.cron == nil {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// LastRun returns the most recent completed run, if any.
func (s *Scheduler) LastRun() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Run{}, false
	}
	return *s.last, true
}

// RunCount returns how many runs have started.
func (s *Scheduler) RunCount() int64 {
	return s.runCount.Load()
}

// cronLogger routes cron's own messages into the service logger.
type cronLogger struct {
	logger logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvFields(keysAndValues)...)
}

func kvFields(kv []interface{}) []logging.Field {
	fields := make([]logging.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logging.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
