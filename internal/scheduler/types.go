// Package scheduler runs the daemon's periodic tasks: sweeps, backups and
// webhook retries.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// TaskType represents the type of scheduled task
type TaskType string

const (
	TaskTypeSweep      TaskType = "sweep"
	TaskTypeBackup     TaskType = "backup"
	TaskTypeDeliveries TaskType = "deliveries"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Schedule represents a scheduled task
type Schedule struct {
	ID           string     `json:"id"`
	TaskType     TaskType   `json:"taskType"`
	Expression   string     `json:"expression"`
	Enabled      bool       `json:"enabled"`
	NextRun      time.Time  `json:"nextRun"`
	LastRun      *time.Time `json:"lastRun,omitempty"`
	LastStatus   string     `json:"lastStatus,omitempty"`
	LastDuration int64      `json:"lastDuration,omitempty"` // milliseconds
	LastError    string     `json:"lastError,omitempty"`

	parsed Expression
}

// Run represents a single execution of a schedule
type Run struct {
	ID         string    `json:"id"`
	ScheduleID string    `json:"scheduleId"`
	TaskType   TaskType  `json:"taskType"`
	StartedAt  time.Time `json:"startedAt"`
	EndedAt    time.Time `json:"endedAt"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// NewSchedule creates an enabled schedule whose first run is computed from now.
func NewSchedule(taskType TaskType, expression string, now time.Time) (*Schedule, error) {
	parsed, err := ParseExpression(expression)
	if err != nil {
		return nil, err
	}
	return &Schedule{
		ID:         uuid.NewString(),
		TaskType:   taskType,
		Expression: expression,
		Enabled:    true,
		NextRun:    parsed.NextRun(now),
		parsed:     parsed,
	}, nil
}

// IsDue reports whether the schedule should run at now.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return !now.Before(s.NextRun)
}

// MarkRun records the outcome of a run and moves NextRun forward.
func (s *Schedule) MarkRun(run *Run) {
	ended := run.EndedAt
	s.LastRun = &ended
	s.LastDuration = run.Duration().Milliseconds()
	s.LastStatus = run.Status
	s.LastError = run.Error
	s.NextRun = s.parsed.NextRun(ended)
}
