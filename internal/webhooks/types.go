// Package webhooks publishes chain updates and announcements to HTTP
// endpoints, with signing, retries and a dead letter queue.
package webhooks

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"

	"chainwatch/internal/config"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventChainUpdated EventType = "chain.updated"
	EventChainOptimal EventType = "chain.optimal"
	EventAnnouncement EventType = "announcement"
	EventSweepFailed  EventType = "sweep.failed"
)

// DeliveryStatus represents the status of a webhook delivery
type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryDead      DeliveryStatus = "dead" // moved to dead letter queue
)

// Format represents the payload format
type Format string

const (
	FormatJSON     Format = "json"
	FormatSlack    Format = "slack"
	FormatDiscord  Format = "discord"
	FormatTelegram Format = "telegram"
)

// Retry defaults for configured webhooks.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = 60 // seconds, doubled per attempt
)

// Webhook is a configured endpoint.
type Webhook struct {
	ID         string      `json:"id" yaml:"id"`
	URL        string      `json:"url" yaml:"url"`
	Secret     string      `json:"-" yaml:"-"`
	ChatID     string      `json:"chatId,omitempty" yaml:"chatId,omitempty"`
	Events     []EventType `json:"events,omitempty" yaml:"events,omitempty"`
	Format     Format      `json:"format" yaml:"format"`
	MaxRetries int         `json:"maxRetries" yaml:"maxRetries"`
	RetryDelay int         `json:"retryDelay" yaml:"retryDelay"`
}

// FromConfig converts the configured webhooks.
func FromConfig(cfgs []config.WebhookConfig) []*Webhook {
	hooks := make([]*Webhook, 0, len(cfgs))
	for _, c := range cfgs {
		events := make([]EventType, len(c.Events))
		for i, e := range c.Events {
			events[i] = EventType(e)
		}
		hooks = append(hooks, &Webhook{
			ID:         c.ID,
			URL:        c.URL,
			Secret:     c.Secret,
			ChatID:     c.ChatID,
			Events:     events,
			Format:     Format(c.Format),
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
		})
	}
	return hooks
}

// Wants reports whether the webhook subscribes to eventType. An empty
// event list subscribes to everything.
func (w *Webhook) Wants(eventType EventType) bool {
	return len(w.Events) == 0 || slices.Contains(w.Events, eventType)
}

// Event represents a webhook event
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Text      string          `json:"text"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Delivery represents a webhook delivery attempt
type Delivery struct {
	ID            string         `json:"id" yaml:"id"`
	WebhookID     string         `json:"webhookId" yaml:"webhookId"`
	EventID       string         `json:"eventId" yaml:"eventId"`
	EventType     EventType      `json:"eventType" yaml:"eventType"`
	Payload       string         `json:"payload" yaml:"-"`
	Status        DeliveryStatus `json:"status" yaml:"status"`
	Attempts      int            `json:"attempts" yaml:"attempts"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt,omitempty" yaml:"lastAttemptAt,omitempty"`
	LastError     string         `json:"lastError,omitempty" yaml:"lastError,omitempty"`
	ResponseCode  int            `json:"responseCode,omitempty" yaml:"responseCode,omitempty"`
	NextRetryAt   *time.Time     `json:"nextRetryAt,omitempty" yaml:"nextRetryAt,omitempty"`
	CreatedAt     time.Time      `json:"createdAt" yaml:"createdAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
}

// DeadLetter represents a failed delivery in the dead letter queue
type DeadLetter struct {
	ID        string    `json:"id" yaml:"id"`
	WebhookID string    `json:"webhookId" yaml:"webhookId"`
	EventID   string    `json:"eventId" yaml:"eventId"`
	EventType EventType `json:"eventType" yaml:"eventType"`
	Payload   string    `json:"payload" yaml:"-"`
	LastError string    `json:"lastError" yaml:"lastError"`
	Attempts  int       `json:"attempts" yaml:"attempts"`
	DeadAt    time.Time `json:"deadAt" yaml:"deadAt"`
}

// ListDeliveriesOptions contains options for listing deliveries
type ListDeliveriesOptions struct {
	WebhookID string           `json:"webhookId,omitempty"`
	Status    []DeliveryStatus `json:"status,omitempty"`
	Limit     int              `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
}

// ListDeliveriesResponse contains the result of listing deliveries
type ListDeliveriesResponse struct {
	Deliveries []Delivery `json:"deliveries" yaml:"deliveries"`
	TotalCount int        `json:"totalCount" yaml:"totalCount"`
}

// NewEvent creates a new webhook event
func NewEvent(eventType EventType, text string, data any) (*Event, error) {
	event := &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Text:      text,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		event.Data = raw
	}
	return event, nil
}

// CanRetry returns true if the delivery can be retried
func (d *Delivery) CanRetry(maxRetries int) bool {
	return d.Attempts < maxRetries && d.Status != DeliveryDelivered && d.Status != DeliveryDead
}

// MarkDelivered marks the delivery as successful
func (d *Delivery) MarkDelivered(responseCode int, now time.Time) {
	d.Status = DeliveryDelivered
	d.ResponseCode = responseCode
	d.LastError = ""
	d.NextRetryAt = nil
	d.CompletedAt = &now
	d.LastAttemptAt = &now
}

// MarkFailed records a failed attempt. The delivery is retried after
// retryDelay seconds, doubling each attempt, until maxRetries attempts have
// been made; then it is dead.
func (d *Delivery) MarkFailed(err error, responseCode, maxRetries, retryDelay int, now time.Time) {
	d.LastAttemptAt = &now
	d.LastError = err.Error()
	d.ResponseCode = responseCode
	d.Attempts++

	if d.Attempts >= maxRetries {
		d.Status = DeliveryDead
		d.NextRetryAt = nil
		d.CompletedAt = &now
		return
	}
	d.Status = DeliveryPending
	backoff := time.Duration(retryDelay) * time.Second << (d.Attempts - 1)
	next := now.Add(backoff)
	d.NextRetryAt = &next
}
