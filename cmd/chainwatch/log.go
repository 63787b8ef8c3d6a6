package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"chainwatch/internal/slogutil"
)

var (
	logFollow bool
	logLines  int
)

var logCmd = &cobra.Command{
	Use:   "log [daemon|sweep|mcp]",
	Short: "View chainwatch logs",
	Long: `View the log of a long-running subsystem (default: daemon).

Examples:
  chainwatch log              # Show last 50 lines of the daemon log
  chainwatch log sweep -n 100 # Show last 100 lines of the sweep log
  chainwatch log -f           # Follow log output (tail -f)`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: slogutil.Subsystems,
	RunE:      runLog,
}

func init() {
	logCmd.Flags().BoolVarP(&logFollow, "follow", "f", false, "Follow log output")
	logCmd.Flags().IntVarP(&logLines, "lines", "n", 50, "Number of lines to show")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	subsystem := slogutil.SubsystemDaemon
	if len(args) > 0 {
		subsystem = args[0]
	}
	logPath := e.layout.LogFile(subsystem)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Println("No logs found.")
		fmt.Println()
		fmt.Printf("Log file location: %s\n", logPath)
		fmt.Println()
		fmt.Println("Logs are created when:")
		fmt.Println("  - Running 'chainwatch daemon start'")
		fmt.Println("  - Running 'chainwatch mcp'")
		return nil
	}

	if logFollow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		return followLogFile(ctx, os.Stdout, logPath)
	}
	return showLogLines(os.Stdout, logPath, logLines)
}

func showLogLines(w io.Writer, path string, n int) error {
	if n <= 0 {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	// Ring of the last n lines.
	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if len(lines) == n {
			lines = lines[1:]
		}
		lines = append(lines, scanner.Text())
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return scanner.Err()
}

func followLogFile(ctx context.Context, w io.Writer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	fmt.Fprintf(w, "Following %s (Ctrl+C to stop)\n\n", path)

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			fmt.Fprint(w, line)
		}
		if err == nil {
			continue
		}
		if err != io.EOF {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(200 * time.Millisecond):
		}
	}
}
