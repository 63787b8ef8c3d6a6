package main

import (
	"strings"
	"testing"
	"time"

	"chainwatch/internal/chain"
	"chainwatch/internal/daemon"
	"chainwatch/internal/registry"
	"chainwatch/internal/scheduler"
	"chainwatch/internal/sweep"
)

func TestFormatResponse_JSON(t *testing.T) {
	resp := map[string]any{"key": "value", "num": 42}

	result, err := FormatResponse(resp, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result, `"key": "value"`) {
		t.Error("JSON output missing expected key")
	}
	if !strings.Contains(result, `"num": 42`) {
		t.Error("JSON output missing expected number")
	}
}

func TestFormatResponse_YAML(t *testing.T) {
	resp := &ParticipantsResponseCLI{Participants: []registry.Participant{{ID: "1", Username: "alice"}}}

	result, err := FormatResponse(resp, FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"participants:", "id: \"1\"", "username: alice"} {
		if !strings.Contains(result, want) {
			t.Errorf("YAML output missing %q:\n%s", want, result)
		}
	}
}

func TestFormatResponse_UnsupportedFormat(t *testing.T) {
	_, err := FormatResponse(map[string]string{"key": "value"}, "xml")
	if err == nil {
		t.Fatal("expected error for unsupported format")
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("error should mention unsupported format, got: %v", err)
	}
}

func TestFormatHuman_View(t *testing.T) {
	view := &sweep.View{Text: "Chain length: 2\n\n@bob → @alice"}
	got, err := formatHuman(view)
	if err != nil {
		t.Fatal(err)
	}
	if got != view.Text {
		t.Errorf("got %q, want chain text", got)
	}
}

func TestFormatHuman_Report(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &sweep.Report{
		ID:         "abc",
		StartedAt:  start,
		EndedAt:    start.Add(1500 * time.Millisecond),
		Scanned:    3,
		Failed:     1,
		Downgraded: 2,
		Published:  true,
		Changed:    true,
		Pruned:     []string{"9"},
		View:       &sweep.View{Text: "Chain length: 1\n\n@alice"},
		Notices:    []chain.Notice{{Kind: chain.NoticeBrokenLink, Text: "@carol has no valid link"}},
	}

	got, err := formatHuman(report)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Sweep abc (1.5s)",
		"Scanned: 3 (failed: 1)",
		"Links awaiting confirmation: 2",
		"Participants pruned: 9",
		"Chain changed and was published",
		"@alice",
		"∙ @carol has no valid link",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("report output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatHuman_Participants(t *testing.T) {
	joined := time.Date(2023, 5, 6, 0, 0, 0, 0, time.UTC)
	resp := &ParticipantsResponseCLI{Participants: []registry.Participant{
		{ID: "1", Username: "alice", JoinedAt: joined},
		{ID: "2", Disabled: true},
	}}

	got, err := formatHuman(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "2023-05-06") {
		t.Errorf("missing join date:\n%s", got)
	}
	if !strings.Contains(got, "[no username: 2]") || !strings.Contains(got, "disabled") {
		t.Errorf("missing disabled participant:\n%s", got)
	}
	if !strings.HasSuffix(got, "2 participant(s)") {
		t.Errorf("missing count:\n%s", got)
	}
}

func TestFormatHuman_Empty(t *testing.T) {
	tests := []struct {
		name string
		resp any
		want string
	}{
		{"diagnostics", &DiagnosticsResponseCLI{}, "No issues found."},
		{"participants", &ParticipantsResponseCLI{}, "No participants."},
		{"links", &LinksResponseCLI{}, "No links."},
		{"history", &SweepHistoryResponseCLI{}, "No sweeps recorded."},
		{"webhooks", &WebhooksResponseCLI{}, "No webhooks configured."},
		{"deliveries", &DeliveriesResponseCLI{}, "No deliveries."},
		{"message", &MessageCLI{Message: "done"}, "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatHuman(tt.resp)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatHuman_DaemonState(t *testing.T) {
	st := &daemon.State{
		PID:     42,
		Address: "localhost:9130",
		Version: "1.0.0",
		Uptime:  "2h 5m",
		Schedules: []scheduler.Schedule{
			{TaskType: scheduler.TaskTypeSweep, Expression: "every 1m", LastStatus: scheduler.StatusSuccess},
		},
		LastError: "fetch failed",
	}

	got, err := formatHuman(st)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"PID: 42", "Uptime: 2h 5m", "sweep", "(last: success)", "Last error: fetch failed"} {
		if !strings.Contains(got, want) {
			t.Errorf("status output missing %q:\n%s", want, got)
		}
	}
}
