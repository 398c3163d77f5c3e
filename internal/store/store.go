// Package store holds the live task table: every task from creation until the
// cleanup sweep evicts it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"vidflow/internal/domain"
)

var ErrNotFound = errors.New("task not found")

// Store is the single source of truth for live task state.
//
// Update is last-writer-wins: it has no compare-and-swap, so it is only safe
// while each task has exactly one writer (its own pipeline). Adding a second
// writer for the same task needs a versioned update first.
type Store interface {
	Create(ctx context.Context, itemID, country string, info domain.ItemInfo, opts domain.GenerationOptions) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) (domain.Task, error)
	Get(ctx context.Context, id string) (domain.Task, error)
	StatusView(ctx context.Context, id string) (domain.PublicTaskStatus, error)
	EvictOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// NewID returns a task id whose lexical order follows creation order.
func NewID() string {
	return "tsk_" + uuid.Must(uuid.NewV7()).String()
}

func newTask(now time.Time, itemID, country string, info domain.ItemInfo, opts domain.GenerationOptions) domain.Task {
	return domain.Task{
		ID:        NewID(),
		ItemID:    itemID,
		Country:   country,
		Status:    domain.StatusProcessing,
		CreatedAt: now,
		Options:   opts,
		ItemInfo:  info,
	}
}
