package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"chainwatch/internal/version"
)

// Manager formats events for each subscribed webhook and delivers them.
// Failed deliveries are retried by ProcessRetries.
type Manager struct {
	store  *Store
	logger *slog.Logger
	client *http.Client
	hooks  map[string]*Webhook
	order  []string
	now    func() time.Time
}

// Config contains webhook manager configuration
type Config struct {
	Timeout time.Duration // HTTP request timeout
}

// DefaultConfig returns the default webhook manager configuration
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// NewManager creates a new webhook manager
func NewManager(store *Store, hooks []*Webhook, logger *slog.Logger, config Config) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	m := &Manager{
		store:  store,
		logger: logger,
		client: &http.Client{Timeout: config.Timeout},
		hooks:  make(map[string]*Webhook, len(hooks)),
		now:    time.Now,
	}
	for _, h := range hooks {
		m.hooks[h.ID] = h
		m.order = append(m.order, h.ID)
	}
	return m
}

// Webhooks returns the configured webhooks.
func (m *Manager) Webhooks() []*Webhook {
	out := make([]*Webhook, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.hooks[id])
	}
	return out
}

// PublishChain emits the rendered chain, and chain.optimal when every link
// in it is valid.
func (m *Manager) PublishChain(ctx context.Context, text string, optimal bool) error {
	event, err := NewEvent(EventChainUpdated, text, map[string]any{"optimal": optimal})
	if err != nil {
		return err
	}
	if err := m.Emit(ctx, event); err != nil {
		return err
	}
	if !optimal {
		return nil
	}
	event, err = NewEvent(EventChainOptimal, text, nil)
	if err != nil {
		return err
	}
	return m.Emit(ctx, event)
}

// Announce emits one announcement.
func (m *Manager) Announce(ctx context.Context, text string) error {
	event, err := NewEvent(EventAnnouncement, text, nil)
	if err != nil {
		return err
	}
	return m.Emit(ctx, event)
}

// SweepFailed emits sweep.failed for err.
func (m *Manager) SweepFailed(ctx context.Context, sweepErr error) error {
	event, err := NewEvent(EventSweepFailed, sweepErr.Error(), nil)
	if err != nil {
		return err
	}
	return m.Emit(ctx, event)
}

// Emit records and attempts a delivery to every webhook subscribed to the
// event. Delivery failures are queued for retry, not returned.
func (m *Manager) Emit(ctx context.Context, event *Event) error {
	var targets []*Webhook
	for _, id := range m.order {
		if h := m.hooks[id]; h.Wants(event.Type) {
			targets = append(targets, h)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	m.logger.Info("Emitting event to webhooks",
		"eventId", event.ID,
		"eventType", event.Type,
		"webhookCount", len(targets),
	)

	for _, webhook := range targets {
		delivery, err := m.queueDelivery(ctx, webhook, event)
		if err != nil {
			return fmt.Errorf("webhook %s: %w", webhook.ID, err)
		}
		m.deliver(ctx, delivery, webhook)
	}
	return nil
}

func (m *Manager) queueDelivery(ctx context.Context, webhook *Webhook, event *Event) (*Delivery, error) {
	payload, err := formatPayload(webhook, event)
	if err != nil {
		return nil, fmt.Errorf("failed to format payload: %w", err)
	}

	delivery := &Delivery{
		ID:        uuid.NewString(),
		WebhookID: webhook.ID,
		EventID:   event.ID,
		EventType: event.Type,
		Payload:   payload,
		Status:    DeliveryQueued,
		CreatedAt: m.now(),
	}
	if err := m.store.CreateDelivery(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}
	return delivery, nil
}

// ProcessRetries redelivers pending deliveries whose retry time has come
// and returns how many were attempted.
func (m *Manager) ProcessRetries(ctx context.Context) (int, error) {
	deliveries, err := m.store.PendingRetries(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("failed to get pending retries: %w", err)
	}

	for _, delivery := range deliveries {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		webhook, ok := m.hooks[delivery.WebhookID]
		if !ok {
			// The webhook was removed from the configuration.
			m.logger.Warn("Dropping delivery for unknown webhook",
				"deliveryId", delivery.ID,
				"webhookId", delivery.WebhookID,
			)
			delivery.MarkFailed(fmt.Errorf("webhook %s is not configured", delivery.WebhookID), 0, 0, 0, m.now())
			m.finish(ctx, delivery)
			continue
		}
		m.deliver(ctx, delivery, webhook)
	}
	return len(deliveries), nil
}

// deliver attempts one delivery and records the outcome.
func (m *Manager) deliver(ctx context.Context, delivery *Delivery, webhook *Webhook) {
	m.logger.Debug("Delivering webhook",
		"deliveryId", delivery.ID,
		"webhookId", webhook.ID,
		"attempt", delivery.Attempts+1,
	)

	code, err := m.post(ctx, delivery, webhook)
	if err != nil {
		delivery.MarkFailed(err, code, webhook.MaxRetries, webhook.RetryDelay, m.now())
		m.logger.Warn("Webhook delivery failed",
			"deliveryId", delivery.ID,
			"webhookId", webhook.ID,
			"error", err.Error(),
			"attempts", delivery.Attempts,
			"status", delivery.Status,
		)
	} else {
		delivery.MarkDelivered(code, m.now())
		m.logger.Info("Webhook delivered successfully",
			"deliveryId", delivery.ID,
			"webhookId", webhook.ID,
			"responseCode", code,
		)
	}
	m.finish(ctx, delivery)
}

func (m *Manager) post(ctx context.Context, delivery *Delivery, webhook *Webhook) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewBufferString(delivery.Payload))
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Chainwatch-Event-ID", delivery.EventID)
	req.Header.Set("X-Chainwatch-Event-Type", string(delivery.EventType))
	req.Header.Set("X-Chainwatch-Delivery-ID", delivery.ID)
	if webhook.Secret != "" {
		req.Header.Set("X-Chainwatch-Signature-256", "sha256="+signPayload(delivery.Payload, webhook.Secret))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("HTTP %s", resp.Status)
	}
	return resp.StatusCode, nil
}

// finish persists the delivery and moves dead ones to the dead letter
// queue. Store errors are logged; the event itself is already out or
// queued.
func (m *Manager) finish(ctx context.Context, delivery *Delivery) {
	ctx = context.WithoutCancel(ctx)
	if delivery.Status == DeliveryDead {
		if err := m.store.MoveToDeadLetter(ctx, delivery, m.now()); err != nil {
			m.logger.Error("Failed to move to dead letter",
				"deliveryId", delivery.ID,
				"error", err.Error(),
			)
		}
	}
	if err := m.store.UpdateDelivery(ctx, delivery); err != nil {
		m.logger.Error("Failed to update delivery",
			"deliveryId", delivery.ID,
			"error", err.Error(),
		)
	}
}

// ListDeliveries lists recorded deliveries.
func (m *Manager) ListDeliveries(ctx context.Context, opts ListDeliveriesOptions) (*ListDeliveriesResponse, error) {
	return m.store.ListDeliveries(ctx, opts)
}

// DeadLetters lists dead letters for webhookID, or all when empty.
func (m *Manager) DeadLetters(ctx context.Context, webhookID string, limit int) ([]DeadLetter, error) {
	return m.store.DeadLetters(ctx, webhookID, limit)
}

// RetryDeadLetter requeues a dead letter for the next ProcessRetries.
func (m *Manager) RetryDeadLetter(ctx context.Context, id string) (*Delivery, error) {
	return m.store.RetryDeadLetter(ctx, id, uuid.NewString(), m.now())
}

// Test sends an announcement to one webhook, bypassing its event filter.
func (m *Manager) Test(ctx context.Context, id string) (*Delivery, error) {
	webhook, ok := m.hooks[id]
	if !ok {
		return nil, fmt.Errorf("webhook %s is not configured", id)
	}
	event, err := NewEvent(EventAnnouncement, "chainwatch test message", nil)
	if err != nil {
		return nil, err
	}
	delivery, err := m.queueDelivery(ctx, webhook, event)
	if err != nil {
		return nil, err
	}
	m.deliver(ctx, delivery, webhook)
	return delivery, nil
}
