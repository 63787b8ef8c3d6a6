package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskHandler executes a scheduled task
type TaskHandler func(ctx context.Context, schedule *Schedule) error

// RunRecorder persists finished runs. It may be nil.
type RunRecorder interface {
	RecordRun(ctx context.Context, run *Run) error
}

// Scheduler manages scheduled task execution. Due schedules run one after
// another on the scheduler goroutine, so tasks never overlap.
type Scheduler struct {
	logger   *slog.Logger
	recorder RunRecorder
	handlers map[TaskType]TaskHandler

	mu        sync.RWMutex
	schedules []*Schedule

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	checkInterval time.Duration
	now           func() time.Time
}

// Config contains scheduler configuration
type Config struct {
	CheckInterval time.Duration // How often to check for due schedules
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		CheckInterval: 15 * time.Second,
	}
}

// New creates a new scheduler
func New(logger *slog.Logger, recorder RunRecorder, config Config) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultConfig().CheckInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:        logger,
		recorder:      recorder,
		handlers:      make(map[TaskType]TaskHandler),
		ctx:           ctx,
		cancel:        cancel,
		checkInterval: config.CheckInterval,
		now:           time.Now,
	}
}

// RegisterHandler registers a handler for a task type
func (s *Scheduler) RegisterHandler(taskType TaskType, handler TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = handler
	s.logger.Debug("Registered scheduler handler", "taskType", taskType)
}

// Add parses expression and schedules taskType on it.
func (s *Scheduler) Add(taskType TaskType, expression string) (*Schedule, error) {
	schedule, err := NewSchedule(taskType, expression, s.now())
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", taskType, err)
	}
	s.mu.Lock()
	s.schedules = append(s.schedules, schedule)
	s.mu.Unlock()
	return schedule, nil
}

// List returns copies of all schedules.
func (s *Scheduler) List() []Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Schedule, len(s.schedules))
	for i, sc := range s.schedules {
		out[i] = *sc
	}
	return out
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.logger.Info("Starting scheduler", "checkInterval", s.checkInterval.String())
	s.wg.Add(1)
	go s.run()
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.logger.Info("Stopping scheduler")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler shutdown timed out")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		s.RunDue()
		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return
		}
	}
}

// RunDue executes every due schedule once and returns how many ran.
func (s *Scheduler) RunDue() int {
	now := s.now()
	s.mu.RLock()
	var due []*Schedule
	for _, sc := range s.schedules {
		if sc.IsDue(now) {
			due = append(due, sc)
		}
	}
	s.mu.RUnlock()

	ran := 0
	for _, sc := range due {
		if s.ctx.Err() != nil {
			break
		}
		s.execute(sc)
		ran++
	}
	return ran
}

// RunNow executes the first schedule of taskType immediately.
func (s *Scheduler) RunNow(taskType TaskType) error {
	s.mu.RLock()
	var target *Schedule
	for _, sc := range s.schedules {
		if sc.TaskType == taskType {
			target = sc
			break
		}
	}
	s.mu.RUnlock()
	if target == nil {
		return fmt.Errorf("no schedule for task %s", taskType)
	}
	run := s.execute(target)
	if run.Status == StatusFailed {
		return fmt.Errorf("%s failed: %s", taskType, run.Error)
	}
	return nil
}

func (s *Scheduler) execute(schedule *Schedule) *Run {
	s.mu.RLock()
	handler, ok := s.handlers[schedule.TaskType]
	s.mu.RUnlock()

	run := &Run{
		ID:         uuid.NewString(),
		ScheduleID: schedule.ID,
		TaskType:   schedule.TaskType,
		StartedAt:  s.now(),
	}

	var err error
	if !ok {
		err = fmt.Errorf("no handler for task type %s", schedule.TaskType)
	} else {
		s.logger.Debug("Executing scheduled task", "scheduleId", schedule.ID, "taskType", schedule.TaskType)
		err = handler(s.ctx, schedule)
	}
	run.EndedAt = s.now()

	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		s.logger.Error("Scheduled task failed",
			"taskType", schedule.TaskType,
			"error", run.Error,
			"duration", run.Duration().String(),
		)
	} else {
		run.Status = StatusSuccess
		s.logger.Debug("Scheduled task completed",
			"taskType", schedule.TaskType,
			"duration", run.Duration().String(),
		)
	}

	s.mu.Lock()
	schedule.MarkRun(run)
	s.mu.Unlock()

	if s.recorder != nil {
		if recErr := s.recorder.RecordRun(context.WithoutCancel(s.ctx), run); recErr != nil {
			s.logger.Warn("Failed to record scheduled run", "taskType", schedule.TaskType, "error", recErr.Error())
		}
	}
	return run
}
