package webhooks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeFormat is fixed width so stored timestamps compare as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists deliveries and dead letters. It shares the chainwatch
// database and creates its own tables.
type Store struct {
	conn *sql.DB
}

// NewStore prepares the delivery tables on conn.
func NewStore(conn *sql.DB) (*Store, error) {
	s := &Store{conn: conn}
	if err := s.initializeSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize webhooks schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			last_attempt_at TEXT,
			last_error TEXT,
			response_code INTEGER,
			next_retry_at TEXT,
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_webhook ON webhook_deliveries(webhook_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_next_retry ON webhook_deliveries(status, next_retry_at)`,
		`CREATE TABLE IF NOT EXISTS webhook_dead_letters (
			id TEXT PRIMARY KEY,
			webhook_id TEXT NOT NULL,
			event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			payload TEXT NOT NULL,
			last_error TEXT,
			attempts INTEGER,
			dead_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dead_letters_webhook ON webhook_dead_letters(webhook_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateDelivery inserts a new delivery
func (s *Store) CreateDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, status, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.WebhookID,
		d.EventID,
		string(d.EventType),
		d.Payload,
		string(d.Status),
		d.Attempts,
		nullTime(d.NextRetryAt),
		d.CreatedAt.UTC().Format(timeFormat),
	)
	return err
}

// UpdateDelivery updates an existing delivery
func (s *Store) UpdateDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE webhook_deliveries SET
			status = ?,
			attempts = ?,
			last_attempt_at = ?,
			last_error = ?,
			response_code = ?,
			next_retry_at = ?,
			completed_at = ?
		WHERE id = ?
	`,
		string(d.Status),
		d.Attempts,
		nullTime(d.LastAttemptAt),
		nullString(d.LastError),
		d.ResponseCode,
		nullTime(d.NextRetryAt),
		nullTime(d.CompletedAt),
		d.ID,
	)
	return err
}

// PendingRetries returns up to 50 deliveries whose retry time has come.
func (s *Store) PendingRetries(ctx context.Context, now time.Time) ([]*Delivery, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, webhook_id, event_id, event_type, payload, status, attempts, last_attempt_at, last_error, response_code, next_retry_at, created_at, completed_at
		FROM webhook_deliveries
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT 50
	`, string(DeliveryPending), now.UTC().Format(timeFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// ListDeliveries lists deliveries with filters, newest first.
func (s *Store) ListDeliveries(ctx context.Context, opts ListDeliveriesOptions) (*ListDeliveriesResponse, error) {
	var conditions []string
	var args []any

	if opts.WebhookID != "" {
		conditions = append(conditions, "webhook_id = ?")
		args = append(args, opts.WebhookID)
	}
	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, st := range opts.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var totalCount int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM webhook_deliveries %s", whereClause)
	if err := s.conn.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT id, webhook_id, event_id, event_type, payload, status, attempts, last_attempt_at, last_error, response_code, next_retry_at, created_at, completed_at
		FROM webhook_deliveries %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &ListDeliveriesResponse{TotalCount: totalCount}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		resp.Deliveries = append(resp.Deliveries, *d)
	}
	return resp, rows.Err()
}

// MoveToDeadLetter copies a dead delivery to the dead letter queue.
func (s *Store) MoveToDeadLetter(ctx context.Context, d *Delivery, now time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO webhook_dead_letters (id, webhook_id, event_id, event_type, payload, last_error, attempts, dead_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.ID,
		d.WebhookID,
		d.EventID,
		string(d.EventType),
		d.Payload,
		d.LastError,
		d.Attempts,
		now.UTC().Format(timeFormat),
	)
	return err
}

// DeadLetters returns dead letters, newest first. An empty webhookID
// matches every webhook.
func (s *Store) DeadLetters(ctx context.Context, webhookID string, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, webhook_id, event_id, event_type, payload, last_error, attempts, dead_at
		FROM webhook_dead_letters
		WHERE ? = '' OR webhook_id = ?
		ORDER BY dead_at DESC
		LIMIT ?
	`, webhookID, webhookID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dl)
	}
	return out, rows.Err()
}

// RetryDeadLetter requeues a dead letter as a new pending delivery due at
// now and removes it from the dead letter queue.
func (s *Store) RetryDeadLetter(ctx context.Context, id string, newID string, now time.Time) (*Delivery, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, webhook_id, event_id, event_type, payload, last_error, attempts, dead_at
		FROM webhook_dead_letters WHERE id = ?
	`, id)
	dl, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dead letter %s not found", id)
	}
	if err != nil {
		return nil, err
	}

	d := &Delivery{
		ID:          newID,
		WebhookID:   dl.WebhookID,
		EventID:     dl.EventID,
		EventType:   dl.EventType,
		Payload:     dl.Payload,
		Status:      DeliveryPending,
		NextRetryAt: &now,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, status, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, d.ID, d.WebhookID, d.EventID, string(d.EventType), d.Payload, string(d.Status),
		now.UTC().Format(timeFormat), now.UTC().Format(timeFormat)); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM webhook_dead_letters WHERE id = ?", id); err != nil {
		return nil, err
	}
	return d, tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(row scanner) (*Delivery, error) {
	var d Delivery
	var eventType, status, createdAt string
	var lastAttempt, lastError, nextRetry, completed sql.NullString
	var responseCode sql.NullInt64

	err := row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.EventID,
		&eventType,
		&d.Payload,
		&status,
		&d.Attempts,
		&lastAttempt,
		&lastError,
		&responseCode,
		&nextRetry,
		&createdAt,
		&completed,
	)
	if err != nil {
		return nil, err
	}

	d.EventType = EventType(eventType)
	d.Status = DeliveryStatus(status)
	d.LastError = lastError.String
	d.ResponseCode = int(responseCode.Int64)
	if d.CreatedAt, err = time.Parse(timeFormat, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at format: %w", err)
	}
	d.LastAttemptAt = parseNullTime(lastAttempt)
	d.NextRetryAt = parseNullTime(nextRetry)
	d.CompletedAt = parseNullTime(completed)
	return &d, nil
}

func scanDeadLetter(row scanner) (*DeadLetter, error) {
	var dl DeadLetter
	var eventType, deadAt string
	var lastError sql.NullString

	err := row.Scan(
		&dl.ID,
		&dl.WebhookID,
		&dl.EventID,
		&eventType,
		&dl.Payload,
		&lastError,
		&dl.Attempts,
		&deadAt,
	)
	if err != nil {
		return nil, err
	}
	dl.EventType = EventType(eventType)
	dl.LastError = lastError.String
	if dl.DeadAt, err = time.Parse(timeFormat, deadAt); err != nil {
		return nil, fmt.Errorf("invalid dead_at format: %w", err)
	}
	return &dl, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
