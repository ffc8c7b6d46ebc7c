// pkg/scheduler/scheduler.go
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns the controller's repeating tasks, one per active rollout or
// attached trigger. Cancelling a task stops its ticker; a callback racing the
// cancellation must re-check its own state, the scheduler only guarantees no
// further ticks are started.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]context.CancelFunc
	logger *zap.Logger
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]context.CancelFunc),
		logger: logger,
	}
}

// Schedule starts a repeating task. An existing task with the same id is
// cancelled and replaced.
func (s *Scheduler) Schedule(id string, interval time.Duration, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if prev, exists := s.tasks[id]; exists {
		prev()
	}
	s.tasks[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	s.logger.Debug("task scheduled", zap.String("task", id), zap.Duration("interval", interval))
}

// Cancel stops the task. It reports whether a task was running.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, exists := s.tasks[id]
	if !exists {
		return false
	}
	cancel()
	delete(s.tasks, id)
	return true
}

// Active reports whether a task with the given id is scheduled.
func (s *Scheduler) Active(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.tasks[id]
	return exists
}

// Stop cancels all tasks and waits for their goroutines to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, cancel := range s.tasks {
		cancel()
		delete(s.tasks, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
