package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chainwatch/internal/slogutil"
)

func TestParseExpression(t *testing.T) {
	tests := []struct {
		expr      string
		want      Expression
		canonical string
	}{
		{"every 1m", Expression{Every: time.Minute}, "every 1m"},
		{"every 30 minutes", Expression{Every: 30 * time.Minute}, "every 30m"},
		{"Every 90min", Expression{Every: 90 * time.Minute}, "every 90m"},
		{"every 6h", Expression{Every: 6 * time.Hour}, "every 6h"},
		{"every 2 hours", Expression{Every: 2 * time.Hour}, "every 2h"},
		{"every 1 day", Expression{Every: 24 * time.Hour}, "every 1d"},
		{"hourly", Expression{Every: time.Hour}, "every 1h"},
		{"daily at 03:00", Expression{Hour: 3}, "daily at 03:00"},
		{"daily at 7:45", Expression{Hour: 7, Minute: 45}, "daily at 07:45"},
		{"  DAILY  ", Expression{}, "daily at 00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseExpression(tt.expr)
			if err != nil {
				t.Fatalf("ParseExpression(%q) error = %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("ParseExpression(%q) = %+v, want %+v", tt.expr, got, tt.want)
			}
			if got.String() != tt.canonical {
				t.Errorf("String() = %q, want %q", got.String(), tt.canonical)
			}
		})
	}
}

func TestParseExpression_Rejects(t *testing.T) {
	for _, expr := range []string{
		"",
		"every 5s",       // profile pages are rate limited
		"every 0m",
		"every m",
		"every 5 fortnights",
		"daily at 24:00",
		"daily at 12:60",
		"daily at 12:5",
		"daily at noon",
		"*/5 * * * *",
		"weekly",
	} {
		if _, err := ParseExpression(expr); err == nil {
			t.Errorf("ParseExpression(%q) should fail", expr)
		}
	}
}

func TestExpression_NextRun(t *testing.T) {
	from := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		expr string
		from time.Time
		want time.Time
	}{
		{"sweep interval", "every 2m", from, from.Add(2 * time.Minute)},
		{"backup later today", "daily at 12:00", from, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"backup already passed", "daily at 03:00", from, time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)},
		{"backup exactly now", "daily at 10:00", from, time.Date(2025, 1, 2, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := ParseExpression(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			if got := e.NextRun(tt.from); !got.Equal(tt.want) {
				t.Errorf("NextRun() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(TaskTypeSweep, "every 5m", now)
	if err != nil {
		t.Fatalf("NewSchedule() error = %v", err)
	}
	if sched.ID == "" || !sched.Enabled {
		t.Errorf("schedule = %+v, want an enabled schedule with an id", sched)
	}
	if !sched.NextRun.Equal(now.Add(5 * time.Minute)) {
		t.Errorf("NextRun = %v, want %v", sched.NextRun, now.Add(5*time.Minute))
	}

	if _, err := NewSchedule(TaskTypeSweep, "every 10s", now); err == nil {
		t.Error("expected error for interval below minimum")
	}
}

func TestSchedule_IsDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sched := &Schedule{Enabled: true, NextRun: now}

	if !sched.IsDue(now) {
		t.Error("schedule should be due at NextRun")
	}
	if sched.IsDue(now.Add(-time.Second)) {
		t.Error("schedule should not be due before NextRun")
	}
	sched.Enabled = false
	if sched.IsDue(now.Add(time.Hour)) {
		t.Error("disabled schedule should never be due")
	}
}

func TestSchedule_MarkRunCountsFromEnd(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sched, err := NewSchedule(TaskTypeSweep, "every 1m", start)
	if err != nil {
		t.Fatal(err)
	}

	// A slow sweep pushes the next one back instead of piling up.
	run := &Run{StartedAt: start, EndedAt: start.Add(90 * time.Second), Status: StatusFailed, Error: "budget exceeded"}
	sched.MarkRun(run)

	if sched.LastStatus != StatusFailed || sched.LastError != "budget exceeded" {
		t.Errorf("LastStatus = %q, LastError = %q", sched.LastStatus, sched.LastError)
	}
	if sched.LastDuration != 90000 {
		t.Errorf("LastDuration = %d, want 90000", sched.LastDuration)
	}
	if want := run.EndedAt.Add(time.Minute); !sched.NextRun.Equal(want) {
		t.Errorf("NextRun = %v, want %v", sched.NextRun, want)
	}
}

type memRecorder struct {
	mu   sync.Mutex
	runs []*Run
}

func (m *memRecorder) RecordRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func TestScheduler_DaemonTasks(t *testing.T) {
	clock := time.Date(2025, 1, 1, 2, 58, 0, 0, time.UTC)
	rec := &memRecorder{}
	s := New(slogutil.NewDiscardLogger(), rec, DefaultConfig())
	s.now = func() time.Time { return clock }

	var order []TaskType
	s.RegisterHandler(TaskTypeSweep, func(ctx context.Context, _ *Schedule) error {
		order = append(order, TaskTypeSweep)
		return nil
	})
	s.RegisterHandler(TaskTypeBackup, func(ctx context.Context, _ *Schedule) error {
		order = append(order, TaskTypeBackup)
		return errors.New("disk full")
	})

	for task, expr := range map[TaskType]string{
		TaskTypeSweep:  "every 1m",
		TaskTypeBackup: "daily at 03:00",
	} {
		if _, err := s.Add(task, expr); err != nil {
			t.Fatal(err)
		}
	}

	if ran := s.RunDue(); ran != 0 {
		t.Errorf("RunDue() = %d before anything is due", ran)
	}

	clock = clock.Add(time.Minute) // 02:59
	if ran := s.RunDue(); ran != 1 {
		t.Errorf("RunDue() at 02:59 = %d, want 1", ran)
	}

	clock = clock.Add(time.Minute) // 03:00
	if ran := s.RunDue(); ran != 2 {
		t.Errorf("RunDue() at 03:00 = %d, want 2", ran)
	}

	if len(order) != 3 || order[2] == order[1] {
		t.Errorf("tasks ran as %v", order)
	}
	if len(rec.runs) != 3 {
		t.Fatalf("recorded %d runs, want 3", len(rec.runs))
	}

	for _, sc := range s.List() {
		if sc.TaskType != TaskTypeBackup {
			continue
		}
		if sc.LastStatus != StatusFailed || sc.LastError != "disk full" {
			t.Errorf("backup schedule = %+v", sc)
		}
		if want := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC); !sc.NextRun.Equal(want) {
			t.Errorf("backup NextRun = %v, want %v", sc.NextRun, want)
		}
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(slogutil.NewDiscardLogger(), nil, DefaultConfig())
	var swept bool
	s.RegisterHandler(TaskTypeSweep, func(ctx context.Context, _ *Schedule) error {
		swept = true
		return nil
	})
	s.RegisterHandler(TaskTypeDeliveries, func(ctx context.Context, _ *Schedule) error {
		return errors.New("store closed")
	})

	if err := s.RunNow(TaskTypeSweep); err == nil {
		t.Error("expected error without a schedule")
	}
	for _, task := range []TaskType{TaskTypeSweep, TaskTypeDeliveries} {
		if _, err := s.Add(task, "every 5m"); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RunNow(TaskTypeSweep); err != nil || !swept {
		t.Fatalf("RunNow(sweep) error = %v, swept = %v", err, swept)
	}
	if err := s.RunNow(TaskTypeDeliveries); err == nil {
		t.Error("RunNow should report a failed task")
	}
}

func TestScheduler_MissingHandlerFailsRun(t *testing.T) {
	rec := &memRecorder{}
	s := New(slogutil.NewDiscardLogger(), rec, DefaultConfig())
	if _, err := s.Add(TaskTypeBackup, "daily"); err != nil {
		t.Fatal(err)
	}
	if err := s.RunNow(TaskTypeBackup); err == nil {
		t.Error("expected error for a task without handler")
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != StatusFailed {
		t.Errorf("runs = %+v", rec.runs)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(slogutil.NewDiscardLogger(), nil, Config{CheckInterval: 10 * time.Millisecond})
	s.Start()
	if err := s.Stop(time.Second); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
