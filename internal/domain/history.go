package domain

import (
	"fmt"
	"time"
)

const MonthLayout = "2006-01"

// HistoryEntry is the immutable record of a task's terminal outcome.
type HistoryEntry struct {
	TaskID                string     `json:"taskId"`
	ItemID                string     `json:"itemId"`
	Status                TaskStatus `json:"status"`
	CreatedAt             time.Time  `json:"createdAt"`
	CompletedAt           time.Time  `json:"completedAt"`
	VideoURL              string     `json:"videoUrl,omitempty"`
	Error                 string     `json:"error,omitempty"`
	Duration              *int       `json:"duration,omitempty"`
	Style                 string     `json:"style,omitempty"`
	ItemInfo              ItemInfo   `json:"itemInfo"`
	ProcessingTimeSeconds float64    `json:"processingTimeSeconds"`
}

// Month is the partition an entry is stored under: the task's creation month.
func (e HistoryEntry) Month() string {
	return e.CreatedAt.UTC().Format(MonthLayout)
}

// NewHistoryEntry snapshots a terminal task.
func NewHistoryEntry(t Task) (HistoryEntry, error) {
	if !t.Status.Terminal() || t.CompletedAt == nil {
		return HistoryEntry{}, fmt.Errorf("task %s is not terminal (status %s)", t.ID, t.Status)
	}
	return HistoryEntry{
		TaskID:                t.ID,
		ItemID:                t.ItemID,
		Status:                t.Status,
		CreatedAt:             t.CreatedAt,
		CompletedAt:           *t.CompletedAt,
		VideoURL:              t.VideoURL,
		Error:                 t.Error,
		Duration:              t.Options.Duration,
		Style:                 t.Options.Style,
		ItemInfo:              t.ItemInfo,
		ProcessingTimeSeconds: t.CompletedAt.Sub(t.CreatedAt).Seconds(),
	}, nil
}
