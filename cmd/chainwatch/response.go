package main

import (
	"chainwatch/internal/chain"
	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/storage"
	"chainwatch/internal/webhooks"
)

// DiagnosticsResponseCLI is the output of chainwatch diag.
type DiagnosticsResponseCLI struct {
	Notices []chain.Notice `json:"notices" yaml:"notices"`
}

// ParticipantsResponseCLI lists participants.
type ParticipantsResponseCLI struct {
	Participants []registry.Participant `json:"participants" yaml:"participants"`
}

// LinksResponseCLI lists incoming links per participant.
type LinksResponseCLI struct {
	Links []links.IncomingList `json:"links" yaml:"links"`
}

// SweepHistoryResponseCLI lists recent sweeps.
type SweepHistoryResponseCLI struct {
	Sweeps []storage.SweepRecord `json:"sweeps" yaml:"sweeps"`
}

// WebhooksResponseCLI lists configured webhooks.
type WebhooksResponseCLI struct {
	Webhooks []*webhooks.Webhook `json:"webhooks" yaml:"webhooks"`
}

// DeliveriesResponseCLI lists deliveries and dead letters.
type DeliveriesResponseCLI struct {
	Deliveries  []webhooks.Delivery   `json:"deliveries,omitempty" yaml:"deliveries,omitempty"`
	DeadLetters []webhooks.DeadLetter `json:"deadLetters,omitempty" yaml:"deadLetters,omitempty"`
	TotalCount  int                   `json:"totalCount" yaml:"totalCount"`
}

// BackupsResponseCLI lists snapshot files.
type BackupsResponseCLI struct {
	Dir     string   `json:"dir" yaml:"dir"`
	Backups []string `json:"backups" yaml:"backups"`
}

// MessageCLI is a one-line result for commands that only change state.
type MessageCLI struct {
	Message string `json:"message" yaml:"message"`
	Data    any    `json:"data,omitempty" yaml:"data,omitempty"`
}
