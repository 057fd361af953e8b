package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/miradorstack/mirador-selfheal/internal/cache"
	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// LockKey is the distributed lock held for the duration of a run.
const LockKey = "selfheal:run-lock"

// ErrRunInProgress is returned when another node holds the run lock.
var ErrRunInProgress = errors.New("run already in progress")

// RunFunc executes one coordinator pass.
type RunFunc func(ctx context.Context) models.RunSummary

// Locker is the subset of cache.Provider used for the distributed lock. Get returns
// cache.ErrCacheMiss for an absent key.
type Locker interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}

// Runner guarantees at most one run at a time. Concurrent triggers in this process join
// the in-flight run; a Locker extends the guarantee across processes.
type Runner struct {
	base   context.Context
	run    RunFunc
	lock   Locker
	ttl    time.Duration
	owner  string
	flight singleflight.Group
	logger *slog.Logger
}

// NewRunner binds run to base, whose cancellation aborts in-flight runs. lock may be nil.
func NewRunner(base context.Context, run RunFunc, lock Locker, ttl time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Runner{
		base:   base,
		run:    run,
		lock:   lock,
		ttl:    ttl,
		owner:  uuid.NewString(),
		logger: logger,
	}
}

// Trigger starts a run or joins the one in flight. Cancelling ctx stops the wait, not the run.
func (r *Runner) Trigger(ctx context.Context) (models.RunSummary, error) {
	ch := r.flight.DoChan("run", func() (interface{}, error) {
		return r.locked()
	})
	select {
	case <-ctx.Done():
		return models.RunSummary{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.RunSummary{}, res.Err
		}
		if res.Shared {
			r.logger.Debug("trigger joined in-flight run")
		}
		return res.Val.(models.RunSummary), nil
	}
}

func (r *Runner) locked() (models.RunSummary, error) {
	if r.lock == nil {
		return r.run(r.base), nil
	}

	ok, err := r.lock.SetNX(r.base, LockKey, []byte(r.owner), r.ttl)
	if err != nil {
		return models.RunSummary{}, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return models.RunSummary{}, ErrRunInProgress
	}
	defer r.release()
	return r.run(r.base), nil
}

// release deletes the run lock only while this runner still owns it. A lock that expired
// mid-run may already belong to another node.
func (r *Runner) release() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.base), 5*time.Second)
	defer cancel()

	holder, err := r.lock.Get(ctx, LockKey)
	switch {
	case errors.Is(err, cache.ErrCacheMiss):
		r.logger.Warn("run lock expired before the run finished", slog.Duration("ttl", r.ttl))
		return
	case err != nil:
		r.logger.Warn("release run lock failed", slog.Any("error", err))
		return
	case string(holder) != r.owner:
		r.logger.Warn("run lock taken over by another owner, leaving it", slog.String("holder", string(holder)))
		return
	}
	if err := r.lock.Del(ctx, LockKey); err != nil {
		r.logger.Warn("release run lock failed", slog.Any("error", err))
	}
}

// Every triggers a run on each tick until ctx is done.
func (r *Runner) Every(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("periodic runs scheduled", slog.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := r.Trigger(ctx)
			switch {
			case errors.Is(err, ErrRunInProgress):
				r.logger.Info("skipping scheduled run", slog.String("reason", err.Error()))
			case errors.Is(err, context.Canceled):
				return
			case err != nil:
				r.logger.Error("scheduled run failed", slog.Any("error", err))
			default:
				r.logger.Debug("scheduled run finished", slog.String("run_id", summary.RunID), slog.String("status", string(summary.Status)))
			}
		}
	}
}
