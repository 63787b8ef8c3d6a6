package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chainwatch/internal/links"
	"chainwatch/internal/registry"
	"chainwatch/internal/scheduler"
)

const (
	keyLastChain   = "last_chain"
	keyNameChanges = "pending_renames"
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// State is everything carried from one sweep to the next.
type State struct {
	Registry    *registry.Registry
	Matrix      *links.Matrix
	LastChain   string
	NameChanges []registry.NameChange
}

// NewState returns an empty state.
func NewState() *State {
	return &State{Registry: registry.New(), Matrix: links.NewMatrix()}
}

// StateRepository loads and saves the whole State atomically.
type StateRepository struct {
	db *DB
}

// NewStateRepository creates a new state repository
func NewStateRepository(db *DB) *StateRepository {
	return &StateRepository{db: db}
}

// Load reads participants, links and the last published chain.
func (r *StateRepository) Load(ctx context.Context) (*State, error) {
	st := NewState()

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, username, disabled, joined_at, expires_at, mentions
		FROM participants
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p               registry.Participant
			joined, expires sql.NullString
			mentionsJSON    string
		)
		if err := rows.Scan(&p.ID, &p.Username, &p.Disabled, &joined, &expires, &mentionsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if p.JoinedAt, err = parseTime(joined); err != nil {
			return nil, fmt.Errorf("participant %s: invalid joined_at: %w", p.ID, err)
		}
		if p.ExpiresAt, err = parseTime(expires); err != nil {
			return nil, fmt.Errorf("participant %s: invalid expires_at: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(mentionsJSON), &p.Mentions); err != nil {
			return nil, fmt.Errorf("participant %s: invalid mentions: %w", p.ID, err)
		}
		if err := st.Registry.Put(p); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lists, err := r.loadLinkLists(ctx)
	if err != nil {
		return nil, err
	}
	if st.Matrix, err = links.Decode(lists); err != nil {
		return nil, fmt.Errorf("failed to decode links: %w", err)
	}

	last, _, err := r.GetValue(ctx, keyLastChain)
	if err != nil {
		return nil, err
	}
	st.LastChain = last

	renames, ok, err := r.GetValue(ctx, keyNameChanges)
	if err != nil {
		return nil, err
	}
	if ok {
		if err := json.Unmarshal([]byte(renames), &st.NameChanges); err != nil {
			return nil, fmt.Errorf("invalid pending renames: %w", err)
		}
	}
	return st, nil
}

func (r *StateRepository) loadLinkLists(ctx context.Context) ([]links.IncomingList, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT participant_id, incoming FROM link_lists ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query links: %w", err)
	}
	defer rows.Close()

	var lists []links.IncomingList
	for rows.Next() {
		var l links.IncomingList
		var incoming string
		if err := rows.Scan(&l.Participant, &incoming); err != nil {
			return nil, fmt.Errorf("failed to scan links: %w", err)
		}
		if err := json.Unmarshal([]byte(incoming), &l.Links); err != nil {
			return nil, fmt.Errorf("participant %s: invalid incoming links: %w", l.Participant, err)
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// Save replaces the stored state with st in one transaction.
func (r *StateRepository) Save(ctx context.Context, st *State) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM participants"); err != nil {
			return fmt.Errorf("failed to clear participants: %w", err)
		}
		for i, p := range st.Registry.List() {
			mentions, err := json.Marshal(nonNil(p.Mentions))
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO participants (id, position, username, disabled, joined_at, expires_at, mentions)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, p.ID, i, p.Username, p.Disabled, formatTime(p.JoinedAt), formatTime(p.ExpiresAt), string(mentions))
			if err != nil {
				return fmt.Errorf("failed to save participant %s: %w", p.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM link_lists"); err != nil {
			return fmt.Errorf("failed to clear links: %w", err)
		}
		for i, l := range links.Encode(st.Matrix) {
			incoming, err := json.Marshal(l.Links)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO link_lists (participant_id, position, incoming) VALUES (?, ?, ?)
			`, l.Participant, i, string(incoming))
			if err != nil {
				return fmt.Errorf("failed to save links of %s: %w", l.Participant, err)
			}
		}

		if err := setValue(ctx, tx, keyLastChain, st.LastChain); err != nil {
			return err
		}
		renames, err := json.Marshal(st.NameChanges)
		if err != nil {
			return err
		}
		return setValue(ctx, tx, keyNameChanges, string(renames))
	})
}

// GetValue reads a key from the state table.
func (r *StateRepository) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.conn.QueryRowContext(ctx, "SELECT value FROM state WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, true, nil
}

// SetValue writes a key to the state table.
func (r *StateRepository) SetValue(ctx context.Context, key, value string) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		return setValue(ctx, tx, key, value)
	})
}

func setValue(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to write state %s: %w", key, err)
	}
	return nil
}

// SweepRecord is one row of sweep history.
type SweepRecord struct {
	ID             string    `json:"id" yaml:"id"`
	StartedAt      time.Time `json:"startedAt" yaml:"startedAt"`
	EndedAt        time.Time `json:"endedAt" yaml:"endedAt"`
	Scanned        int       `json:"scanned" yaml:"scanned"`
	Failed         int       `json:"failed" yaml:"failed"`
	ChainLength    int       `json:"chainLength" yaml:"chainLength"`
	UnbrokenLength int       `json:"unbrokenLength" yaml:"unbrokenLength"`
	BestValid      bool      `json:"bestValid" yaml:"bestValid"`
	Purged         int       `json:"purged" yaml:"purged"`
	Pruned         int       `json:"pruned" yaml:"pruned"`
	Published      bool      `json:"published" yaml:"published"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// SweepRepository stores sweep history.
type SweepRepository struct {
	db *DB
}

// NewSweepRepository creates a new sweep repository
func NewSweepRepository(db *DB) *SweepRepository {
	return &SweepRepository{db: db}
}

// Record inserts a sweep.
func (r *SweepRepository) Record(ctx context.Context, s *SweepRecord) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO sweeps (
			id, started_at, ended_at, scanned, failed, chain_length,
			unbroken_length, best_valid, purged, pruned, published, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID,
		s.StartedAt.UTC().Format(timeFormat),
		s.EndedAt.UTC().Format(timeFormat),
		s.Scanned,
		s.Failed,
		s.ChainLength,
		s.UnbrokenLength,
		s.BestValid,
		s.Purged,
		s.Pruned,
		s.Published,
		nullString(s.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record sweep: %w", err)
	}
	return nil
}

// Recent returns up to limit sweeps, newest first.
func (r *SweepRepository) Recent(ctx context.Context, limit int) ([]SweepRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, started_at, ended_at, scanned, failed, chain_length,
		       unbroken_length, best_valid, purged, pruned, published, error
		FROM sweeps
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sweeps: %w", err)
	}
	defer rows.Close()

	var out []SweepRecord
	for rows.Next() {
		var s SweepRecord
		var started, ended string
		var errText sql.NullString
		if err := rows.Scan(&s.ID, &started, &ended, &s.Scanned, &s.Failed, &s.ChainLength,
			&s.UnbrokenLength, &s.BestValid, &s.Purged, &s.Pruned, &s.Published, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan sweep: %w", err)
		}
		if s.StartedAt, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("invalid started_at format: %w", err)
		}
		if s.EndedAt, err = time.Parse(timeFormat, ended); err != nil {
			return nil, fmt.Errorf("invalid ended_at format: %w", err)
		}
		s.Error = errText.String
		out = append(out, s)
	}
	return out, rows.Err()
}

// RunRepository stores scheduler run history. It implements
// scheduler.RunRecorder.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// RecordRun inserts a finished run.
func (r *RunRepository) RecordRun(ctx context.Context, run *scheduler.Run) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO schedule_runs (id, schedule_id, task_type, started_at, ended_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.ScheduleID,
		string(run.TaskType),
		run.StartedAt.UTC().Format(timeFormat),
		run.EndedAt.UTC().Format(timeFormat),
		run.Status,
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs of taskType, newest first. An empty
// taskType matches every task.
func (r *RunRepository) Recent(ctx context.Context, taskType scheduler.TaskType, limit int) ([]scheduler.Run, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT id, schedule_id, task_type, started_at, ended_at, status, error
		FROM schedule_runs
		WHERE ? = '' OR task_type = ?
		ORDER BY started_at DESC
		LIMIT ?
	`, string(taskType), string(taskType), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Run
	for rows.Next() {
		var run scheduler.Run
		var task, started, ended string
		var errText sql.NullString
		if err := rows.Scan(&run.ID, &run.ScheduleID, &task, &started, &ended, &run.Status, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.TaskType = scheduler.TaskType(task)
		if run.StartedAt, err = time.Parse(timeFormat, started); err != nil {
			return nil, fmt.Errorf("invalid started_at format: %w", err)
		}
		if run.EndedAt, err = time.Parse(timeFormat, ended); err != nil {
			return nil, fmt.Errorf("invalid ended_at format: %w", err)
		}
		run.Error = errText.String
		out = append(out, run)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeFormat), Valid: true}
}

func parseTime(ns sql.NullString) (time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeFormat, ns.String)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	return &State{
		Registry:    s.Registry.Clone(),
		Matrix:      s.Matrix.Clone(),
		LastChain:   s.LastChain,
		NameChanges: append([]registry.NameChange(nil), s.NameChanges...),
	}
}
