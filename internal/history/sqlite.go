// Package history is the append-only log of terminal task outcomes, grouped
// into monthly partitions by task creation month.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vidflow/internal/domain"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	ErrAlreadyRecorded = errors.New("history entry already recorded")
	ErrInvalidFilter   = errors.New("invalid history filter")
)

// Open opens (creating if needed) the SQLite history database at path.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := EnsureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS video_task_history (
  month TEXT NOT NULL,
  task_id TEXT NOT NULL,
  item_id TEXT NOT NULL,
  status TEXT NOT NULL CHECK(status IN ('completed','failed')),
  created_at DATETIME NOT NULL,
  completed_at DATETIME NOT NULL,
  video_url TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT '',
  duration INTEGER,
  style TEXT NOT NULL DEFAULT '',
  item_info TEXT NOT NULL DEFAULT '{}',
  processing_time_seconds REAL NOT NULL DEFAULT 0,
  PRIMARY KEY (month, task_id)
);
CREATE INDEX IF NOT EXISTS idx_history_month_created ON video_task_history(month, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_item ON video_task_history(item_id, month);
`
	_, err := db.Exec(schema)
	return err
}

type Filter struct {
	ItemID string
	Status domain.TaskStatus
	Month  string
	Limit  int
}

// Validate checks the filter and fills in the default limit.
func (f *Filter) Validate() error {
	if f.Month != "" {
		if _, err := time.Parse(domain.MonthLayout, f.Month); err != nil {
			return fmt.Errorf("%w: month %q is not YYYY-MM", ErrInvalidFilter, f.Month)
		}
	}
	if f.Status != "" && !f.Status.Terminal() {
		return fmt.Errorf("%w: status %q is not terminal", ErrInvalidFilter, f.Status)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	return nil
}

type SQLite struct{ db *sql.DB }

func NewSQLite(db *sql.DB) *SQLite { return &SQLite{db: db} }

// Record writes e once. A second write for the same task returns
// ErrAlreadyRecorded and leaves the first entry untouched.
func (s *SQLite) Record(ctx context.Context, e domain.HistoryEntry) error {
	info, err := json.Marshal(e.ItemInfo)
	if err != nil {
		return fmt.Errorf("encode item info: %w", err)
	}
	var duration sql.NullInt64
	if e.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*e.Duration), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO video_task_history (month,task_id,item_id,status,created_at,completed_at,video_url,error,duration,style,item_info,processing_time_seconds)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(month, task_id) DO NOTHING`,
		e.Month(), e.TaskID, e.ItemID, string(e.Status), e.CreatedAt.UTC(), e.CompletedAt.UTC(),
		e.VideoURL, e.Error, duration, e.Style, string(info), e.ProcessingTimeSeconds)
	if err != nil {
		return fmt.Errorf("record history for %s: %w", e.TaskID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyRecorded, e.TaskID)
	}
	return nil
}

// Months lists partitions, newest first.
func (s *SQLite) Months(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT month FROM video_task_history ORDER BY month DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var months []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// Query scans candidate month partitions newest first, and entries within
// each partition newest first, until f.Limit entries are collected.
func (s *SQLite) Query(ctx context.Context, f Filter) ([]domain.HistoryEntry, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	months := []string{f.Month}
	if f.Month == "" {
		var err error
		if months, err = s.Months(ctx); err != nil {
			return nil, fmt.Errorf("list months: %w", err)
		}
	}

	out := make([]domain.HistoryEntry, 0)
	for _, m := range months {
		entries, err := s.scanMonth(ctx, m, f, f.Limit-len(out))
		if err != nil {
			return nil, fmt.Errorf("scan month %s: %w", m, err)
		}
		out = append(out, entries...)
		if len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (s *SQLite) scanMonth(ctx context.Context, month string, f Filter, limit int) ([]domain.HistoryEntry, error) {
	q := `
SELECT task_id,item_id,status,created_at,completed_at,video_url,error,duration,style,item_info,processing_time_seconds
FROM video_task_history WHERE month=?`
	args := []any{month}
	if f.ItemID != "" {
		q += ` AND item_id=?`
		args = append(args, f.ItemID)
	}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, string(f.Status))
	}
	q += ` ORDER BY created_at DESC, task_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var status, info string
		var duration sql.NullInt64
		if err := rows.Scan(&e.TaskID, &e.ItemID, &status, &e.CreatedAt, &e.CompletedAt, &e.VideoURL, &e.Error, &duration, &e.Style, &info, &e.ProcessingTimeSeconds); err != nil {
			return nil, err
		}
		e.Status = domain.TaskStatus(status)
		if duration.Valid {
			d := int(duration.Int64)
			e.Duration = &d
		}
		if err := json.Unmarshal([]byte(info), &e.ItemInfo); err != nil {
			return nil, fmt.Errorf("decode item info for %s: %w", e.TaskID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
