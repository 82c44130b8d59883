package nad

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Task is one unit of scheduled work. ctx is cancelled when the task is
// cancelled or the scheduler stops.
type Task func(ctx context.Context)

// ErrInvalidInterval is returned by Schedule for a non-positive interval.
var ErrInvalidInterval = errors.New("nad: task interval must be positive")

// Scheduler runs named periodic and one-shot tasks for one receiver.
//
// Scheduling a name that is already running replaces the old task. Each
// task can be cancelled on its own; Stop cancels everything and waits for
// running bodies to return. A panicking run is recovered and logged, and a
// periodic task keeps its schedule.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	tasks   map[string]*scheduledTask
	stopped bool
	wg      sync.WaitGroup

	logger Logger
}

type scheduledTask struct {
	cancel context.CancelFunc
}

// NewScheduler creates an idle scheduler. logger may be nil.
func NewScheduler(logger Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*scheduledTask),
		logger: logger,
	}
}

// Schedule runs fn every interval, first after initialDelay.
func (s *Scheduler) Schedule(name string, initialDelay, interval time.Duration, fn Task) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, name)
	}
	return s.start(name, func(ctx context.Context, task *scheduledTask) {
		if !waitOrDone(ctx, initialDelay) {
			return
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			s.run(ctx, name, fn)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// RunOnce runs fn once after delay. The task is forgotten once it returns.
func (s *Scheduler) RunOnce(name string, delay time.Duration, fn Task) error {
	return s.start(name, func(ctx context.Context, task *scheduledTask) {
		defer s.forget(name, task)
		if !waitOrDone(ctx, delay) {
			return
		}
		s.run(ctx, name, fn)
	})
}

func (s *Scheduler) start(name string, loop func(ctx context.Context, task *scheduledTask)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrClosed
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
	}

	ctx, cancel := context.WithCancel(s.ctx)
	task := &scheduledTask{cancel: cancel}
	s.tasks[name] = task

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		loop(ctx, task)
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, fn Task) {
	if ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil && s.logger != nil {
			s.logger.Error("scheduled task panic", "task", name, "panic", fmt.Sprint(r))
		}
	}()
	fn(ctx)
}

func (s *Scheduler) forget(name string, task *scheduledTask) {
	s.mu.Lock()
	if s.tasks[name] == task {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
}

// Cancel stops the named task. It does not wait for a running body, so a
// task may cancel itself. It reports whether the task existed.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[name]
	if !ok {
		return false
	}
	task.cancel()
	delete(s.tasks, name)
	return true
}

// Has reports whether a task is scheduled under name.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Names returns the scheduled task names in sorted order.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		out = append(out, name)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

// Stop cancels every task and waits for running bodies. Safe to call
// multiple times, but not from inside a task.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.tasks = make(map[string]*scheduledTask)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func waitOrDone(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
