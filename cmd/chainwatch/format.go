package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"chainwatch/internal/chain"
	"chainwatch/internal/daemon"
	"chainwatch/internal/sweep"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatHuman OutputFormat = "human"
	FormatYAML  OutputFormat = "yaml"
)

// FormatResponse formats a response according to the specified format
func FormatResponse(resp any, format OutputFormat) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(resp)
	case FormatYAML:
		return formatYAML(resp)
	case FormatHuman:
		return formatHuman(resp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// printResponse writes resp to stdout in the --format format.
func printResponse(resp any) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	out, err := FormatResponse(resp, format)
	if err != nil {
		return fmt.Errorf("error formatting output: %w", err)
	}
	fmt.Println(strings.TrimRight(out, "\n"))
	return nil
}

func formatJSON(resp any) (string, error) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func formatYAML(resp any) (string, error) {
	data, err := yaml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return string(data), nil
}

func formatHuman(resp any) (string, error) {
	switch v := resp.(type) {
	case *sweep.Report:
		return formatReportHuman(v), nil
	case *sweep.View:
		return v.Text, nil
	case *DiagnosticsResponseCLI:
		return formatDiagnosticsHuman(v), nil
	case *ParticipantsResponseCLI:
		return formatParticipantsHuman(v), nil
	case *LinksResponseCLI:
		return formatLinksHuman(v), nil
	case *SweepHistoryResponseCLI:
		return formatHistoryHuman(v), nil
	case *daemon.State:
		return formatDaemonStateHuman(v), nil
	case *WebhooksResponseCLI:
		return formatWebhooksHuman(v), nil
	case *DeliveriesResponseCLI:
		return formatDeliveriesHuman(v), nil
	case *BackupsResponseCLI:
		return formatBackupsHuman(v), nil
	case *MessageCLI:
		return v.Message, nil
	default:
		return formatJSON(resp)
	}
}

func formatReportHuman(r *sweep.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sweep %s (%s)\n", r.ID, r.EndedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "  Scanned: %d (failed: %d)\n", r.Scanned, r.Failed)
	if r.Downgraded > 0 {
		fmt.Fprintf(&b, "  Links awaiting confirmation: %d\n", r.Downgraded)
	}
	if r.Purged > 0 {
		fmt.Fprintf(&b, "  Stale links purged: %d\n", r.Purged)
	}
	if len(r.Pruned) > 0 {
		fmt.Fprintf(&b, "  Participants pruned: %s\n", strings.Join(r.Pruned, ", "))
	}
	switch {
	case r.PublishErr != "":
		fmt.Fprintf(&b, "  Publish failed: %s\n", r.PublishErr)
	case r.Published:
		b.WriteString("  Chain changed and was published\n")
	case r.Changed:
		b.WriteString("  Chain changed (not published)\n")
	default:
		b.WriteString("  Chain unchanged\n")
	}
	if r.View != nil {
		b.WriteString("\n")
		b.WriteString(r.View.Text)
		b.WriteString("\n")
	}
	if len(r.Notices) > 0 {
		b.WriteString("\n")
		b.WriteString(chain.FormatNotices(r.Notices))
		b.WriteString("\n")
	}
	return b.String()
}

func formatDiagnosticsHuman(d *DiagnosticsResponseCLI) string {
	if len(d.Notices) == 0 {
		return "No issues found."
	}
	return chain.FormatNotices(d.Notices)
}

func formatParticipantsHuman(p *ParticipantsResponseCLI) string {
	if len(p.Participants) == 0 {
		return "No participants."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-14s %-24s %-10s %s\n", "ID", "NAME", "STATUS", "JOINED")
	for _, pt := range p.Participants {
		status := "active"
		if pt.Disabled {
			status = "disabled"
		}
		joined := "-"
		if pt.Joined() {
			joined = pt.JoinedAt.UTC().Format("2006-01-02")
		}
		fmt.Fprintf(&b, "%-14s %-24s %-10s %s\n", pt.ID, pt.DisplayName(), status, joined)
	}
	fmt.Fprintf(&b, "\n%d participant(s)", len(p.Participants))
	return b.String()
}

func formatLinksHuman(l *LinksResponseCLI) string {
	if len(l.Links) == 0 {
		return "No links."
	}
	var b strings.Builder
	for _, list := range l.Links {
		fmt.Fprintf(&b, "%s <- %s\n", list.Participant, strings.Join(list.Links, " "))
	}
	return b.String()
}

func formatHistoryHuman(h *SweepHistoryResponseCLI) string {
	if len(h.Sweeps) == 0 {
		return "No sweeps recorded."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %8s %8s %7s %s\n", "ENDED", "SCANNED", "LENGTH", "VALID", "RESULT")
	for _, s := range h.Sweeps {
		result := "ok"
		switch {
		case s.Error != "":
			result = "error: " + s.Error
		case s.Published:
			result = "published"
		}
		fmt.Fprintf(&b, "%-20s %8d %8d %7v %s\n",
			s.EndedAt.UTC().Format("2006-01-02 15:04:05"), s.Scanned, s.ChainLength, s.BestValid, result)
	}
	return b.String()
}

func formatDaemonStateHuman(st *daemon.State) string {
	var b strings.Builder
	b.WriteString("Status: running\n")
	fmt.Fprintf(&b, "PID: %d\n", st.PID)
	fmt.Fprintf(&b, "Address: %s\n", st.Address)
	fmt.Fprintf(&b, "Version: %s\n", st.Version)
	fmt.Fprintf(&b, "Uptime: %s\n", st.Uptime)
	if s := st.LastSweep; s != nil {
		fmt.Fprintf(&b, "Last sweep: %s (length %d, valid %v)\n",
			s.EndedAt.UTC().Format(time.RFC3339), s.Length, s.Valid)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", st.LastError)
	}
	if len(st.Schedules) > 0 {
		b.WriteString("Schedules:\n")
		for _, sc := range st.Schedules {
			fmt.Fprintf(&b, "  %-11s %-18s next %s", sc.TaskType, sc.Expression, sc.NextRun.UTC().Format(time.RFC3339))
			if sc.LastStatus != "" {
				fmt.Fprintf(&b, " (last: %s)", sc.LastStatus)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func formatWebhooksHuman(w *WebhooksResponseCLI) string {
	if len(w.Webhooks) == 0 {
		return "No webhooks configured."
	}
	var b strings.Builder
	for _, h := range w.Webhooks {
		events := "all events"
		if len(h.Events) > 0 {
			names := make([]string, len(h.Events))
			for i, e := range h.Events {
				names[i] = string(e)
			}
			events = strings.Join(names, ", ")
		}
		fmt.Fprintf(&b, "%s  %s  [%s]  %s\n", h.ID, h.Format, events, h.URL)
	}
	return b.String()
}

func formatDeliveriesHuman(d *DeliveriesResponseCLI) string {
	var b strings.Builder
	for _, dl := range d.Deliveries {
		fmt.Fprintf(&b, "%s  %-9s %-14s attempts=%d", dl.ID, dl.Status, dl.EventType, dl.Attempts)
		if dl.LastError != "" {
			fmt.Fprintf(&b, "  error=%q", dl.LastError)
		}
		b.WriteString("\n")
	}
	for _, dl := range d.DeadLetters {
		fmt.Fprintf(&b, "%s  dead      %-14s attempts=%d  error=%q\n", dl.ID, dl.EventType, dl.Attempts, dl.LastError)
	}
	if b.Len() == 0 {
		return "No deliveries."
	}
	return b.String()
}

func formatBackupsHuman(r *BackupsResponseCLI) string {
	if len(r.Backups) == 0 {
		return fmt.Sprintf("No backups in %s", r.Dir)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Backups in %s:\n", r.Dir)
	for _, name := range r.Backups {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}
