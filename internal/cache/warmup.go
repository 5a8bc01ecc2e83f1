package cache

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"cache-coordinator/internal/common/errors"
	"cache-coordinator/internal/common/logging"
)

// WarmUpTask preloads one key. A nil Policy means DefaultPolicy.
type WarmUpTask struct {
	Key      string
	TypeName string
	Loader   func(ctx context.Context) (any, bool, error)
	Policy   *Policy
}

// NewWarmUpTask builds a task for a value of type T.
func NewWarmUpTask[T any](key string, loader Loader[T], policy ...Policy) WarmUpTask {
	task := WarmUpTask{
		Key:      key,
		TypeName: TypeName[T](),
		Loader: func(ctx context.Context) (any, bool, error) {
			return loader(ctx)
		},
	}
	if len(policy) > 0 {
		p := policy[0]
		task.Policy = &p
	}
	return task
}

// WarmUpReport summarizes a WarmUp run.
type WarmUpReport struct {
	Total    int           `json:"total"`
	Loaded   int           `json:"loaded"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// WarmUp runs tasks concurrently, at most Config.WarmUpConcurrency at a time, and
// writes every loaded value through the normal put path. A failing task is logged and
// counted; it never stops its siblings.
func (c *Coordinator) WarmUp(ctx context.Context, tasks []WarmUpTask) WarmUpReport {
	start := time.Now()
	var loaded, skipped, failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(c.cfg.WarmUpConcurrency)

	for _, task := range tasks {
		g.Go(func() error {
			switch err := c.warmOne(ctx, task); {
			case err == nil:
				loaded.Add(1)
			case errors.IsType(err, errors.ErrTypeNotFound):
				skipped.Add(1)
			default:
				failed.Add(1)
				c.logger.Warn("Warm-up task failed",
					logging.String("key", task.Key),
					logging.String("type", task.TypeName),
					logging.Err(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := WarmUpReport{
		Total:    len(tasks),
		Loaded:   int(loaded.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
		Duration: time.Since(start),
	}
	c.logger.Info("Cache warm-up finished",
		logging.Int("total", report.Total),
		logging.Int("loaded", report.Loaded),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Duration("duration", report.Duration),
	)
	return report
}

func (c *Coordinator) warmOne(ctx context.Context, task WarmUpTask) error {
	if task.Loader == nil {
		return errors.ValidationError("warm-up task has no loader")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fullKey, err := c.BuildKey(task.Key, task.TypeName)
	if err != nil {
		return err
	}
	p := DefaultPolicy()
	if task.Policy != nil {
		p = *task.Policy
		if err := p.Validate(); err != nil {
			return err
		}
	}

	c.stats.RecordLoad()
	value, ok, err := task.Loader(ctx)
	if err != nil {
		c.stats.RecordLoadError()
		return errors.LoaderError(fullKey, err)
	}
	if !ok || isEmpty(value) {
		return errors.NotFoundError(fullKey)
	}

	c.putEntry(ctx, fullKey, value, p)
	return nil
}
