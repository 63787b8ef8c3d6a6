package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a compressed snapshot of participants and links",
	Long: `Write a zstd-compressed snapshot of the participant list, the link graph
and the last published chain to the backups directory. Old snapshots are
rotated away according to schedule.backupKeep.`,
	RunE: runBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List snapshots",
	RunE:  runBackupList,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [snapshot]",
	Short: "Replace the state with a snapshot (default: the newest)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRestore,
}

func init() {
	backupCmd.AddCommand(backupListCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		path, err := a.Backup(ctx)
		if err != nil {
			return err
		}
		return printResponse(&MessageCLI{Message: "Wrote " + path, Data: path})
	})
}

func runBackupList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		files, err := a.Backups.List()
		if err != nil {
			return err
		}
		names := make([]string, len(files))
		for i, f := range files {
			names[i] = filepath.Base(f)
		}
		return printResponse(&BackupsResponseCLI{Dir: a.Backups.Dir(), Backups: names})
	})
}

func runRestore(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		path := optionalArg(args)
		if path != "" && filepath.Base(path) == path {
			// A bare name refers to the backups directory.
			path = filepath.Join(a.Backups.Dir(), path)
		}
		snap, err := a.Restore(ctx, path)
		if err != nil {
			return err
		}
		return printResponse(&MessageCLI{
			Message: fmt.Sprintf("Restored %d participant(s) from snapshot taken %s",
				len(snap.Participants), snap.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST")),
		})
	})
}
