package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"chainwatch/internal/app"
	"chainwatch/internal/links"
	"chainwatch/internal/registry"
)

var participantsCmd = &cobra.Command{
	Use:     "participants",
	Aliases: []string{"p"},
	Short:   "Manage participants",
	Long: `List and change the participants whose profiles are scanned.

Participants are addressed by id or by username (with or without @).`,
}

var participantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List participants",
	RunE:  runParticipantsList,
}

var participantsShowCmd = &cobra.Command{
	Use:   "show <participant>",
	Short: "Show one participant",
	Args:  cobra.ExactArgs(1),
	RunE:  runParticipantsShow,
}

var participantsAddCmd = &cobra.Command{
	Use:   "add <id> [username]",
	Short: "Register a participant",
	Long: `Register a participant. The profile is scanned on the next sweep.

Examples:
  chainwatch participants add 51863899 @anchor_user
  chainwatch participants add 1234567`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runParticipantsAdd,
}

var participantsRenameCmd = &cobra.Command{
	Use:   "rename <participant> [new-username]",
	Short: "Record a username change",
	Long: `Record a username change. The change is announced on the next sweep,
together with the participants who should update their profiles.
Leaving out the new username records that the username was removed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runParticipantsRename,
}

var participantsDisableCmd = &cobra.Command{
	Use:   "disable <participant>",
	Short: "Exclude a participant from chains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(args[0], true)
	},
}

var participantsEnableCmd = &cobra.Command{
	Use:   "enable <participant>",
	Short: "Include a disabled participant again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setDisabled(args[0], false)
	},
}

var participantsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove disabled participants the chain no longer needs",
	RunE:  runParticipantsPrune,
}

var participantsImportCmd = &cobra.Command{
	Use:   "import <roster.toml>",
	Short: "Import participants from a roster file",
	Long: `Merge a TOML roster into the participant list:

  [[participant]]
  id = "51863899"
  username = "anchor_user"
  joined = 2019-03-01T12:00:00Z`,
	Args: cobra.ExactArgs(1),
	RunE: runParticipantsImport,
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Inspect and override links",
}

var linksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incoming links per participant (~ marks links awaiting confirmation)",
	RunE:  runLinksList,
}

var linksSetCmd = &cobra.Command{
	Use:   "set <source> <target> <real|stale|absent>",
	Short: "Override the link from source to target",
	Args:  cobra.ExactArgs(3),
	RunE:  runLinksSet,
}

func init() {
	participantsCmd.AddCommand(participantsListCmd)
	participantsCmd.AddCommand(participantsShowCmd)
	participantsCmd.AddCommand(participantsAddCmd)
	participantsCmd.AddCommand(participantsRenameCmd)
	participantsCmd.AddCommand(participantsDisableCmd)
	participantsCmd.AddCommand(participantsEnableCmd)
	participantsCmd.AddCommand(participantsPruneCmd)
	participantsCmd.AddCommand(participantsImportCmd)
	rootCmd.AddCommand(participantsCmd)

	linksCmd.AddCommand(linksListCmd)
	linksCmd.AddCommand(linksSetCmd)
	rootCmd.AddCommand(linksCmd)
}

func runParticipantsList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		list, err := a.Engine.Participants(ctx)
		if err != nil {
			return err
		}
		return printResponse(&ParticipantsResponseCLI{Participants: list})
	})
}

func runParticipantsShow(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		p, err := a.Engine.Lookup(ctx, args[0])
		if err != nil {
			return err
		}
		return printResponse(&ParticipantsResponseCLI{Participants: []registry.Participant{p}})
	})
}

func runParticipantsAdd(cmd *cobra.Command, args []string) error {
	username := ""
	if len(args) > 1 {
		username = args[1]
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Engine.AddParticipant(ctx, args[0], username); err != nil {
			return err
		}
		return printResponse(&MessageCLI{Message: fmt.Sprintf("Added participant %s", args[0])})
	})
}

func runParticipantsRename(cmd *cobra.Command, args []string) error {
	username := ""
	if len(args) > 1 {
		username = args[1]
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		change, err := a.Engine.Rename(ctx, args[0], username)
		if err != nil {
			return err
		}
		msg := fmt.Sprintf("Participant %s renamed from %q to %q; announced on the next sweep",
			change.ID, change.Previous, change.Current)
		if change.Previous == change.Current {
			msg = fmt.Sprintf("Participant %s already has that username", change.ID)
		}
		return printResponse(&MessageCLI{Message: msg, Data: change})
	})
}

func setDisabled(ref string, disabled bool) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		p, err := a.Engine.SetDisabled(ctx, ref, disabled)
		if err != nil {
			return err
		}
		state := "enabled"
		if disabled {
			state = "disabled"
		}
		return printResponse(&MessageCLI{Message: fmt.Sprintf("%s is now %s", p.DisplayName(), state), Data: p})
	})
}

func runParticipantsPrune(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		removed, err := a.Engine.Prune(ctx)
		if err != nil {
			return err
		}
		return printResponse(&MessageCLI{Message: fmt.Sprintf("Pruned %d participant(s)", len(removed)), Data: removed})
	})
}

func runParticipantsImport(cmd *cobra.Command, args []string) error {
	seed, err := registry.LoadSeed(args[0])
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		added, err := a.Engine.ImportSeed(ctx, seed)
		if err != nil {
			return err
		}
		return printResponse(&MessageCLI{
			Message: fmt.Sprintf("Imported %d participant(s), %d new", len(seed.Participants), added),
		})
	})
}

func runLinksList(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		lists, err := a.Engine.Links(ctx)
		if err != nil {
			return err
		}
		return printResponse(&LinksResponseCLI{Links: lists})
	})
}

func runLinksSet(cmd *cobra.Command, args []string) error {
	state, err := links.ParseState(args[2])
	if err != nil {
		return err
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		if err := a.Engine.SetLink(ctx, args[0], args[1], state); err != nil {
			return err
		}
		return printResponse(&MessageCLI{Message: fmt.Sprintf("Link %s -> %s set to %s", args[0], args[1], state)})
	})
}
