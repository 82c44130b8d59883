// Package history keeps a local record of every channel value the receiver
// reported, so the API can answer "what was zone 2's volume an hour ago"
// even when InfluxDB is not deployed.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
)

const (
	defaultLimit = 50
	maxLimit     = 500

	// SourceReceiver marks values reported by the receiver itself.
	SourceReceiver = "receiver"

	// timeLayout is fixed-width so created_at compares lexically.
	timeLayout = "2006-01-02T15:04:05.000Z"
)

// Entry is one recorded channel value.
type Entry struct {
	ID        int64     `json:"id"`
	Channel   string    `json:"channel"`
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository stores and retrieves channel history.
type Repository interface {
	Record(ctx context.Context, channel string, value any, source string, at time.Time) error
	List(ctx context.Context, channel string, limit int) ([]Entry, error)
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository on the state_history table. It is
// also a nad.StateObserver, so the bridge can feed it directly.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RecordState stores a change emitted by the bridge.
func (r *SQLiteRepository) RecordState(ctx context.Context, change nad.StateChange) error {
	return r.Record(ctx, change.Channel, change.Value, SourceReceiver, change.Timestamp)
}

// Record inserts one entry. A zero time means now.
func (r *SQLiteRepository) Record(ctx context.Context, channel string, value any, source string, at time.Time) error {
	if channel == "" {
		return fmt.Errorf("channel is required")
	}
	if source == "" {
		source = SourceReceiver
	}
	if at.IsZero() {
		at = time.Now()
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshalling value: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (channel, value, source, created_at) VALUES (?, ?, ?, ?)",
		channel,
		string(valueJSON),
		source,
		at.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// List returns recent entries newest first. An empty channel lists every
// channel. limit is clamped to 1..500 (default 50).
func (r *SQLiteRepository) List(ctx context.Context, channel string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `SELECT id, channel, value, source, created_at FROM state_history`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var valueJSON, createdAt string

		if err := rows.Scan(&entry.ID, &entry.Channel, &valueJSON, &entry.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling value: %w", err)
		}
		entry.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than now-olderThan and reports how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
