package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/config"
)

var (
	sweepDryRun  bool
	chainSummary bool
	historyLimit int
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep now",
	Long: `Rescan expired profiles, update links, search for the best chain and
publish it when it changed.

Examples:
  chainwatch sweep
  chainwatch sweep --dry-run     # compute and report, publish nothing
  chainwatch sweep --format=json`,
	RunE: runSweep,
}

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Show the current best chain",
	Long: `Show the best chain from the last sweep without scanning anything.

Examples:
  chainwatch chain
  chainwatch chain --summary
  chainwatch chain --format=yaml`,
	RunE: runChain,
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Show advice for repairing or extending the chain",
	RunE:  runDiag,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent sweeps",
	RunE:  runHistory,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Do not publish or mark the chain as published")
	chainCmd.Flags().BoolVar(&chainSummary, "summary", false, "Print the compact one-line form")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum sweeps to show")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(diagCmd)
	rootCmd.AddCommand(historyCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	mutate := func(c *config.Config) {
		if sweepDryRun {
			c.Publish.DryRun = true
		}
	}
	return withAppConfig(mutate, func(ctx context.Context, a *app.App) error {
		report, err := a.Sweep(ctx)
		if report != nil {
			if printErr := printResponse(report); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func runChain(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		view, err := a.Engine.View(ctx)
		if err != nil {
			return err
		}
		if chainSummary {
			fmt.Println(view.Summary)
			return nil
		}
		return printResponse(view)
	})
}

func runDiag(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		view, err := a.Engine.View(ctx)
		if err != nil {
			return err
		}
		return printResponse(&DiagnosticsResponseCLI{Notices: view.Notices})
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		sweeps, err := a.Sweeps.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		return printResponse(&SweepHistoryResponseCLI{Sweeps: sweeps})
	})
}
