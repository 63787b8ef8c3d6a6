// Package daemon runs chainwatch as a long-lived service: scheduled sweeps,
// backups and webhook retries, plus an HTTP API for reading the chain.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"chainwatch/internal/app"
	"chainwatch/internal/paths"
	"chainwatch/internal/scheduler"
	"chainwatch/internal/slogutil"
	"chainwatch/internal/sweep"
	"chainwatch/internal/version"
)

const shutdownTimeout = 30 * time.Second

// Daemon represents the chainwatch daemon process
type Daemon struct {
	app       *app.App
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	server    *http.Server
	pid       *PIDFile

	// Shutdown coordination
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	startedAt time.Time
	lastSweep *sweep.Report
	lastError string
	addr      string
}

// State represents the current daemon state
type State struct {
	PID       int                  `json:"pid" yaml:"pid"`
	StartedAt time.Time            `json:"startedAt" yaml:"startedAt"`
	Address   string               `json:"address" yaml:"address"`
	Version   string               `json:"version" yaml:"version"`
	Uptime    string               `json:"uptime" yaml:"uptime"`
	Schedules []scheduler.Schedule `json:"schedules" yaml:"schedules"`
	LastSweep *SweepSummary        `json:"lastSweep,omitempty" yaml:"lastSweep,omitempty"`
	LastError string               `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}

// SweepSummary is the short form of a sweep report.
type SweepSummary struct {
	ID        string    `json:"id" yaml:"id"`
	EndedAt   time.Time `json:"endedAt" yaml:"endedAt"`
	Length    int       `json:"length" yaml:"length"`
	Valid     bool      `json:"valid" yaml:"valid"`
	Changed   bool      `json:"changed" yaml:"changed"`
	Published bool      `json:"published" yaml:"published"`
}

// New creates a daemon around a. Schedules come from the configuration.
func New(a *app.App) (*Daemon, error) {
	logger := a.Logger(slogutil.SubsystemDaemon)
	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		app:       a,
		logger:    logger,
		scheduler: scheduler.New(logger, a.Runs, scheduler.DefaultConfig()),
		ctx:       ctx,
		cancel:    cancel,
		addr:      a.Config.Daemon.Address(),
	}
	d.scheduler.RegisterHandler(scheduler.TaskTypeSweep, d.sweepTask)
	d.scheduler.RegisterHandler(scheduler.TaskTypeBackup, d.backupTask)
	d.scheduler.RegisterHandler(scheduler.TaskTypeDeliveries, d.deliveriesTask)

	type task struct {
		kind scheduler.TaskType
		expr string
	}
	sched := a.Config.Schedule
	tasks := []task{
		{scheduler.TaskTypeSweep, sched.Sweep},
		{scheduler.TaskTypeBackup, sched.Backup},
	}
	if len(a.Config.Webhooks) > 0 {
		tasks = append(tasks, task{scheduler.TaskTypeDeliveries, sched.Deliveries})
	}
	for _, t := range tasks {
		if t.expr == "" {
			continue
		}
		if _, err := d.scheduler.Add(t.kind, t.expr); err != nil {
			cancel()
			return nil, err
		}
	}
	return d, nil
}

func (d *Daemon) sweepTask(ctx context.Context, _ *scheduler.Schedule) error {
	_, err := d.runSweep(ctx)
	return err
}

func (d *Daemon) backupTask(ctx context.Context, _ *scheduler.Schedule) error {
	_, err := d.app.Backup(ctx)
	return err
}

func (d *Daemon) deliveriesTask(ctx context.Context, _ *scheduler.Schedule) error {
	n, err := d.app.Webhooks.ProcessRetries(ctx)
	if n > 0 {
		d.logger.Info("Retried webhook deliveries", "count", n)
	}
	return err
}

// runSweep runs a sweep and remembers its outcome for status reports.
func (d *Daemon) runSweep(ctx context.Context) (*sweep.Report, error) {
	report, err := d.app.Sweep(ctx)
	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		d.lastError = err.Error()
		return report, err
	}
	d.lastSweep = report
	d.lastError = ""
	return report, nil
}

// Start acquires the PID file, starts the scheduler and begins serving.
func (d *Daemon) Start() error {
	d.logger.Info("Starting chainwatch daemon", "version", version.Version)

	d.pid = NewPIDFile(d.app.Layout.PIDFile())
	if err := d.pid.Acquire(); err != nil {
		return fmt.Errorf("failed to acquire PID file: %w", err)
	}

	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		_ = d.pid.Release()
		return fmt.Errorf("failed to listen on %s: %w", d.addr, err)
	}

	d.mu.Lock()
	d.startedAt = time.Now()
	d.addr = ln.Addr().String()
	d.mu.Unlock()

	d.server = &http.Server{
		Handler:      d.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.logger.Info("HTTP server listening", "address", ln.Addr().String())
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server error", "error", err.Error())
		}
	}()

	d.scheduler.Start()
	d.logger.Info("Daemon started", "pid", os.Getpid())
	return nil
}

// Stop shuts everything down and releases the PID file.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	var errs []error
	if err := d.scheduler.Stop(shutdownTimeout); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}
	d.wg.Wait()

	if d.pid != nil {
		if err := d.pid.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	d.logger.Info("Daemon stopped")
	return errors.Join(errs...)
}

// Wait blocks until SIGINT or SIGTERM, or until the daemon is stopped.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("Received signal", "signal", sig.String())
	case <-d.ctx.Done():
	}
}

// Address returns the address the API listens on.
func (d *Daemon) Address() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.addr
}

// State returns the current daemon state
func (d *Daemon) State() *State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	st := &State{
		PID:       os.Getpid(),
		StartedAt: d.startedAt,
		Address:   d.addr,
		Version:   version.Version,
		Uptime:    formatDuration(time.Since(d.startedAt)),
		Schedules: d.scheduler.List(),
		LastError: d.lastError,
	}
	if r := d.lastSweep; r != nil && r.View != nil {
		st.LastSweep = &SweepSummary{
			ID:        r.ID,
			EndedAt:   r.EndedAt,
			Length:    len(r.View.Best),
			Valid:     r.View.BestValid,
			Changed:   r.Changed,
			Published: r.Published,
		}
	}
	return st
}

// IsRunning checks the PID file under layout.
func IsRunning(layout paths.Layout) (bool, int, error) {
	return NewPIDFile(layout.PIDFile()).IsRunning()
}

// StopRemote sends SIGTERM to a running daemon and waits for it to exit.
func StopRemote(layout paths.Layout) error {
	pid := NewPIDFile(layout.PIDFile())
	running, processID, err := pid.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(processID)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	timeout := time.After(shutdownTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			return fmt.Errorf("timeout waiting for daemon to stop")
		case <-ticker.C:
			if running, _, _ := pid.IsRunning(); !running {
				return nil
			}
		}
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
