// Package restart schedules deferred service restarts after a fix is applied.
package restart

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-selfheal/internal/models"
)

// ErrStopped is the error of tasks canceled by Scheduler.Stop or scheduled after it.
var ErrStopped = errors.New("restart: scheduler stopped")

// State is the lifecycle of a Task.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateDone     State = "done"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

const maxTracked = 64

// Task is one deferred restart.
type Task struct {
	ID      string
	Service string

	mu    sync.Mutex
	dueAt time.Time
	state State
	err   error
	timer *time.Timer
	done  chan struct{}
}

// DueAt is when the restart fires.
func (t *Task) DueAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dueAt
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the restart error once the task has finished.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed when the task finishes, fails or is canceled.
func (t *Task) Done() <-chan struct{} { return t.done }

// Cancel stops a pending task. It reports false once the restart has started.
func (t *Task) Cancel() bool {
	return t.cancel(nil)
}

func (t *Task) cancel(reason error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.state = StateCanceled
	t.err = reason
	close(t.done)
	return true
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if err != nil {
		t.state = StateFailed
	} else {
		t.state = StateDone
	}
	close(t.done)
}

// Scheduler runs restarts after a delay. Pending restarts of one service coalesce into
// a single task whose due time moves to the latest request.
type Scheduler struct {
	requester Requester
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*Task
	tasks   []*Task
	stopped bool
}

// NewScheduler constructs a Scheduler. timeout bounds each restart call.
func NewScheduler(requester Requester, timeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		requester: requester,
		timeout:   timeout,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]*Task),
	}
}

// Schedule requests a restart of service after delay.
func (s *Scheduler) Schedule(service string, delay time.Duration) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	due := now.Add(delay)
	if s.stopped {
		task := newTask(service, due)
		task.cancel(ErrStopped)
		return task
	}

	if existing, ok := s.pending[service]; ok && existing.postpone(due, now) {
		s.logger.Info("restart coalesced", slog.String("service", service), slog.String("task_id", existing.ID), slog.Time("due_at", due))
		return existing
	}

	task := newTask(service, due)
	task.timer = time.AfterFunc(delay, func() { s.fire(task) })
	s.pending[service] = task
	s.track(task)
	s.logger.Info("restart scheduled", slog.String("service", service), slog.String("task_id", task.ID), slog.Time("due_at", due))
	return task
}

// Tasks lists tracked tasks, oldest first.
func (s *Scheduler) Tasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// Pending lists tasks still waiting to fire.
func (s *Scheduler) Pending() []*Task {
	out := make([]*Task, 0)
	for _, t := range s.Tasks() {
		if t.State() == StatePending {
			out = append(out, t)
		}
	}
	return out
}

// PendingRestarts describes the pending tasks for reporting.
func (s *Scheduler) PendingRestarts() []models.RestartRef {
	pending := s.Pending()
	refs := make([]models.RestartRef, 0, len(pending))
	for _, t := range pending {
		refs = append(refs, models.RestartRef{TaskID: t.ID, Service: t.Service, DueAt: t.DueAt()})
	}
	return refs
}

// Stop cancels every pending task and rejects later requests.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := make([]*Task, 0, len(s.pending))
	for _, t := range s.pending {
		pending = append(pending, t)
	}
	s.pending = make(map[string]*Task)
	s.mu.Unlock()

	for _, t := range pending {
		if t.cancel(ErrStopped) {
			s.logger.Info("restart canceled on shutdown", slog.String("service", t.Service), slog.String("task_id", t.ID))
		}
	}
}

func (s *Scheduler) fire(task *Task) {
	task.mu.Lock()
	if task.state != StatePending {
		task.mu.Unlock()
		return
	}
	task.state = StateRunning
	task.mu.Unlock()

	s.mu.Lock()
	if s.pending[task.Service] == task {
		delete(s.pending, task.Service)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	err := s.requester.Restart(ctx, task.Service)
	task.finish(err)
	if err != nil {
		s.logger.Error("restart failed", slog.String("service", task.Service), slog.String("task_id", task.ID), slog.Any("error", err))
		return
	}
	s.logger.Info("service restarted", slog.String("service", task.Service), slog.String("task_id", task.ID))
}

func (s *Scheduler) track(task *Task) {
	s.tasks = append(s.tasks, task)
	if len(s.tasks) <= maxTracked {
		return
	}
	kept := s.tasks[:0]
	excess := len(s.tasks) - maxTracked
	for _, t := range s.tasks {
		if excess > 0 && t.State() != StatePending {
			excess--
			continue
		}
		kept = append(kept, t)
	}
	s.tasks = kept
}

// postpone moves a pending task's due time later. It reports false when the timer has
// already fired.
func (t *Task) postpone(due, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending || !t.timer.Stop() {
		return false
	}
	if due.After(t.dueAt) {
		t.dueAt = due
	}
	t.timer.Reset(t.dueAt.Sub(now))
	return true
}

func newTask(service string, due time.Time) *Task {
	return &Task{
		ID:      uuid.NewString(),
		Service: service,
		dueAt:   due,
		state:   StatePending,
		done:    make(chan struct{}),
	}
}
