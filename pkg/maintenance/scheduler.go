// Package maintenance runs periodic housekeeping: score decay, decision
// review, health checks, and orphan cleanup. Task cadence survives restarts
// because last-run times live in the state store.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/steward-sh/steward/pkg/state"
	"github.com/steward-sh/steward/pkg/surfacing"
)

const (
	lastRunKeyPrefix = "maintenance/last_run/"
	tickInterval     = 5 * time.Minute
	maxStartJitter   = 60 * time.Second
)

// TaskFunc does the work of one maintenance task. The returned summary is
// surfaced when the task is notable and the summary is non-empty.
type TaskFunc func(ctx context.Context) (string, error)

// Task is a registered maintenance job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      TaskFunc
	// Notable tasks push non-empty summaries into the surfacing buffer.
	Notable bool
}

// Scheduler ticks every few minutes and launches tasks whose interval has
// elapsed since their persisted last run. A task never overlaps itself.
type Scheduler struct {
	store  state.Store
	buffer *surfacing.Buffer
	logger *slog.Logger
	clock  func() time.Time
	jitter time.Duration

	mu       sync.Mutex
	tasks    []Task
	inflight map[string]bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler. buffer may be nil when nothing consumes
// surfaced maintenance results.
func NewScheduler(store state.Store, buffer *surfacing.Buffer) *Scheduler {
	return &Scheduler{
		store:    store,
		buffer:   buffer,
		logger:   slog.Default().With("component", "maintenance"),
		clock:    time.Now,
		jitter:   time.Duration(rand.Int63n(int64(maxStartJitter))),
		inflight: make(map[string]bool),
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// WithJitter overrides the startup jitter (tests use zero).
func (s *Scheduler) WithJitter(d time.Duration) *Scheduler {
	s.jitter = d
	return s
}

// Register adds a task. Tasks with a non-positive interval are rejected.
func (s *Scheduler) Register(task Task) error {
	if task.Name == "" || task.Run == nil {
		return fmt.Errorf("maintenance task needs a name and a body")
	}
	if task.Interval <= 0 {
		return fmt.Errorf("maintenance task %s has non-positive interval", task.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Name == task.Name {
			return fmt.Errorf("maintenance task %s already registered", task.Name)
		}
	}
	s.tasks = append(s.tasks, task)
	return nil
}

// Start launches the scheduler loop. The initial jitter spreads restarts of
// multiple instances so they do not stampede shared stores.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case <-time.After(s.jitter):
		case <-ctx.Done():
			return
		}

		s.Tick(ctx)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for in-flight tasks to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Tick launches every due task. Exported so tests can drive the scheduler
// without real time.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, task := range tasks {
		s.maybeRun(ctx, task)
	}
}

func (s *Scheduler) maybeRun(ctx context.Context, task Task) {
	now := s.clock()

	var lastRun time.Time
	s.store.Get(ctx, lastRunKeyPrefix+task.Name, &lastRun)
	if now.Sub(lastRun) < task.Interval {
		return
	}

	s.mu.Lock()
	if s.inflight[task.Name] {
		s.mu.Unlock()
		return
	}
	s.inflight[task.Name] = true
	s.mu.Unlock()

	// The last run is recorded before the body finishes so a crashing or
	// erroring task still waits a full interval before its next attempt.
	if err := s.store.Set(ctx, lastRunKeyPrefix+task.Name, now); err != nil {
		s.logger.Error("failed to record task run", "task", task.Name, "error", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("maintenance task panicked", "task", task.Name, "panic", r)
			}
			s.mu.Lock()
			delete(s.inflight, task.Name)
			s.mu.Unlock()
		}()

		started := s.clock()
		summary, err := task.Run(ctx)
		if err != nil {
			s.logger.Warn("maintenance task failed", "task", task.Name, "error", err)
			return
		}
		s.logger.Info("maintenance task done",
			"task", task.Name, "duration", s.clock().Sub(started), "summary", summary)

		if task.Notable && summary != "" && s.buffer != nil {
			s.buffer.Enqueue("maintenance", map[string]any{
				"task":    task.Name,
				"summary": summary,
			}, 30, "maintenance:"+task.Name)
		}
	}()
}

// Wait blocks until all launched task goroutines finish. Test helper.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
