package receiver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// recordedAtLayout is fixed width so recorded_at compares correctly as text.
const recordedAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatRecordedAt(t time.Time) string {
	return t.UTC().Format(recordedAtLayout)
}

// HistoryEntry is one recorded state change.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	ReceiverID string    `json:"receiver_id"`
	State      State     `json:"state"`
	Trigger    Trigger   `json:"trigger"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SQLiteStateHistory implements StateHistory on the state_history table.
type SQLiteStateHistory struct {
	db *sql.DB
}

// NewSQLiteStateHistory creates a history store over an open, migrated database.
func NewSQLiteStateHistory(db *sql.DB) *SQLiteStateHistory {
	return &SQLiteStateHistory{db: db}
}

// Record inserts a state change.
func (h *SQLiteStateHistory) Record(ctx context.Context, id string, state State, trigger Trigger) error {
	if id == "" {
		return fmt.Errorf("receiver id is required")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshalling state: %w", err)
	}

	_, err = h.db.ExecContext(ctx,
		"INSERT INTO state_history (receiver_id, state, triggered_by, recorded_at) VALUES (?, ?, ?, ?)",
		id, string(data), string(trigger), formatRecordedAt(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// List returns the most recent entries for id, newest first.
// limit defaults to 50 and is capped at 500.
func (h *SQLiteStateHistory) List(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := h.db.QueryContext(ctx,
		`SELECT id, receiver_id, state, triggered_by, recorded_at
		 FROM state_history
		 WHERE receiver_id = ?
		 ORDER BY id DESC
		 LIMIT ?`,
		id, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var stateJSON, trigger, recordedAt string
		if err := rows.Scan(&e.ID, &e.ReceiverID, &stateJSON, &trigger, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
			return nil, fmt.Errorf("unmarshalling state: %w", err)
		}
		e.Trigger = Trigger(trigger)
		e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries recorded before now-olderThan.
func (h *SQLiteStateHistory) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}
	return h.pruneBefore(ctx, time.Now().Add(-olderThan))
}

func (h *SQLiteStateHistory) pruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := h.db.ExecContext(ctx, "DELETE FROM state_history WHERE recorded_at < ?", formatRecordedAt(cutoff))
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
