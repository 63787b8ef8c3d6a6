package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/daemon"
	cwerrors "chainwatch/internal/errors"
	"chainwatch/internal/slogutil"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the chainwatch daemon",
	Long: `Manage the chainwatch daemon for always-on service.

The daemon provides:
- Scheduled sweeps, backups and webhook retries
- HTTP API for the chain, diagnostics and participants
- Prometheus metrics at /metrics`,
}

// Daemon flags
var (
	daemonPort       int
	daemonBind       string
	daemonForeground bool
	daemonTokenWrite bool
)

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon",
	Long: `Start the chainwatch daemon in the background.

The daemon listens on localhost:9130 by default.
Use --foreground to run in the foreground for debugging.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE:  runDaemonStatus,
}

var daemonTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate an API token",
	Long: `Generate a random API token and its bcrypt hash.

The hash goes into daemon.auth.tokenHash; clients send the token in
$` + daemon.TokenEnvVar + `. With --write the hash is saved to the TOML
configuration file and auth is enabled.`,
	RunE: runDaemonToken,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	daemonCmd.AddCommand(daemonTokenCmd)

	daemonStartCmd.Flags().IntVar(&daemonPort, "port", 9130, "HTTP port")
	daemonStartCmd.Flags().StringVar(&daemonBind, "bind", "localhost", "Bind address")
	daemonStartCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Run in foreground")

	daemonTokenCmd.Flags().BoolVar(&daemonTokenWrite, "write", false, "Save the hash to the configuration file")
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	running, pid, err := daemon.IsRunning(e.layout)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if running {
		fmt.Printf("Daemon is already running (PID: %d)\n", pid)
		return nil
	}

	if cmd.Flags().Changed("port") {
		e.cfg.Daemon.Port = daemonPort
	}
	if cmd.Flags().Changed("bind") {
		e.cfg.Daemon.Bind = daemonBind
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	if daemonForeground {
		return runDaemonForeground(e)
	}
	return runDaemonBackground(cmd, e)
}

func runDaemonForeground(e *env) error {
	fmt.Printf("Starting chainwatch daemon on %s (foreground mode)\n", e.cfg.Daemon.Address())

	// Only explicit -v/--quiet override the configured file log levels.
	var cliLevel slog.Level
	if verbosity > 0 || quietFlag {
		cliLevel = slogutil.LevelFromVerbosity(verbosity, quietFlag)
	}
	a, err := app.Open(e.cfg, e.layout, app.Options{CLILevel: cliLevel})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	d, err := daemon.New(a)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	d.Wait()
	return d.Stop()
}

func runDaemonBackground(cmd *cobra.Command, e *env) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"daemon", "start", "--foreground", "--data-dir", e.layout.Root}
	if configFlag != "" {
		abs, err := filepath.Abs(configFlag)
		if err != nil {
			return err
		}
		args = append(args, "--config", abs)
	}
	if cmd.Flags().Changed("port") {
		args = append(args, fmt.Sprintf("--port=%d", daemonPort))
	}
	if cmd.Flags().Changed("bind") {
		args = append(args, "--bind="+daemonBind)
	}
	for range verbosity {
		args = append(args, "-v")
	}

	child := exec.Command(executable, args...)
	setDaemonSysProcAttr(child)

	if err := e.layout.Ensure(); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	consolePath := e.layout.LogFile("console")
	logFile, err := os.OpenFile(consolePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()
	child.Stdout = logFile
	child.Stderr = logFile

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("Daemon started (PID: %d)\n", child.Process.Pid)
	fmt.Printf("Listening on %s\n", e.cfg.Daemon.Address())
	fmt.Printf("Log file: %s\n", e.layout.LogFile(slogutil.SubsystemDaemon))
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	running, pid, err := daemon.IsRunning(e.layout)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	fmt.Printf("Stopping daemon (PID: %d)...\n", pid)
	if err := daemon.StopRemote(e.layout); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	fmt.Println("Daemon stopped")
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	running, pid, err := daemon.IsRunning(e.layout)
	if err != nil {
		return fmt.Errorf("failed to check daemon status: %w", err)
	}
	if !running {
		fmt.Println("Status: stopped")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := daemon.NewClient(e.cfg.Daemon.Address(), os.Getenv(daemon.TokenEnvVar)).Status(ctx)
	if err != nil {
		fmt.Printf("Status: running (PID: %d)\n", pid)
		if cwerrors.HasCode(err, cwerrors.DaemonNotRunning) {
			return fmt.Errorf("process is alive but the API at %s does not answer: %w", e.cfg.Daemon.Address(), err)
		}
		return err
	}
	return printResponse(st)
}

func runDaemonToken(cmd *cobra.Command, args []string) error {
	token, hash, err := daemon.GenerateToken()
	if err != nil {
		return err
	}

	if daemonTokenWrite {
		e, err := loadEnv()
		if err != nil {
			return err
		}
		path := e.source.ConfigPath
		if path == "" {
			path = e.layout.ConfigFile()
		}
		if filepath.Ext(path) != ".toml" {
			return fmt.Errorf("--write only supports TOML configuration files, not %s", path)
		}
		e.cfg.Daemon.Auth.Enabled = true
		e.cfg.Daemon.Auth.TokenHash = hash
		if err := e.cfg.Save(path); err != nil {
			return err
		}
		fmt.Printf("Saved token hash to %s\n", path)
	} else {
		fmt.Printf("Token hash (daemon.auth.tokenHash): %s\n", hash)
	}
	fmt.Printf("Token: %s\n", token)
	fmt.Printf("Clients send it via %s; it is not shown again.\n", daemon.TokenEnvVar)
	return nil
}
