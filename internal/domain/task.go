package domain

import (
	"errors"
	"fmt"
	"time"
)

type TaskStatus string

const (
	StatusProcessing         TaskStatus = "processing"
	StatusProcessingProvider TaskStatus = "processing_provider"
	StatusCompleted          TaskStatus = "completed"
	StatusFailed             TaskStatus = "failed"
)

var (
	ErrInvalidTransition     = errors.New("invalid task status transition")
	ErrProviderJobReassigned = errors.New("provider job id already assigned")
	ErrCompletedAtMismatch   = errors.New("completed_at must be set exactly when the task is terminal")
)

// Terminal reports whether no further transitions can happen from s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusProcessingProvider, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo encodes processing -> processing_provider -> {completed|failed},
// with failed reachable from any non-terminal state. Re-asserting a
// non-terminal status is allowed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case s:
		return true
	case StatusFailed:
		return true
	case StatusProcessingProvider:
		return s == StatusProcessing
	case StatusCompleted:
		return s == StatusProcessingProvider
	}
	return false
}

type GenerationOptions struct {
	Duration *int   `json:"duration,omitempty"`
	Ratio    string `json:"ratio,omitempty"`
	Style    string `json:"style,omitempty"`
}

type Task struct {
	ID               string            `json:"taskId"`
	ItemID           string            `json:"itemId"`
	Country          string            `json:"country"`
	Status           TaskStatus        `json:"status"`
	CreatedAt        time.Time         `json:"createdAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	Options          GenerationOptions `json:"generationOptions"`
	ItemInfo         ItemInfo          `json:"itemInfo"`
	ProviderJobID    string            `json:"providerJobId,omitempty"`
	ProviderStatus   string            `json:"providerStatus,omitempty"`
	LastCheckedAt    *time.Time        `json:"lastCheckedAt,omitempty"`
	VideoURL         string            `json:"videoUrl,omitempty"`
	OriginalVideoURL string            `json:"originalVideoUrl,omitempty"`
	ItemUpdated      bool              `json:"itemUpdated"`
	Error            string            `json:"error,omitempty"`
}

// TaskPatch holds the fields an update merges into a task. Nil fields are left
// untouched.
type TaskPatch struct {
	Status           *TaskStatus
	CompletedAt      *time.Time
	ItemInfo         *ItemInfo
	ProviderJobID    *string
	ProviderStatus   *string
	LastCheckedAt    *time.Time
	VideoURL         *string
	OriginalVideoURL *string
	ItemUpdated      *bool
	Error            *string
}

// Apply merges p into t, enforcing the status state machine, the single
// provider job id and the completed_at/terminal pairing. t is left unchanged
// when an error is returned.
func (p TaskPatch) Apply(t *Task) error {
	next := *t
	if p.Status != nil {
		if !t.Status.CanTransitionTo(*p.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, *p.Status)
		}
		next.Status = *p.Status
	}
	if p.ProviderJobID != nil {
		if t.ProviderJobID != "" && t.ProviderJobID != *p.ProviderJobID {
			return fmt.Errorf("%w: %s", ErrProviderJobReassigned, t.ProviderJobID)
		}
		next.ProviderJobID = *p.ProviderJobID
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		next.CompletedAt = &at
	}
	if next.Status.Terminal() != (next.CompletedAt != nil) {
		return fmt.Errorf("%w: status %s", ErrCompletedAtMismatch, next.Status)
	}
	if p.ItemInfo != nil {
		next.ItemInfo = *p.ItemInfo
	}
	if p.ProviderStatus != nil {
		next.ProviderStatus = *p.ProviderStatus
	}
	if p.LastCheckedAt != nil {
		at := *p.LastCheckedAt
		next.LastCheckedAt = &at
	}
	if p.VideoURL != nil {
		next.VideoURL = *p.VideoURL
	}
	if p.OriginalVideoURL != nil {
		next.OriginalVideoURL = *p.OriginalVideoURL
	}
	if p.ItemUpdated != nil {
		next.ItemUpdated = *p.ItemUpdated
	}
	if p.Error != nil {
		next.Error = *p.Error
	}
	*t = next
	return nil
}

// PublicTaskStatus is the caller-facing projection of a Task. It never carries
// the provider job id or the task's country scope.
type PublicTaskStatus struct {
	TaskID           string     `json:"taskId"`
	ItemID           string     `json:"itemId"`
	Status           TaskStatus `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	ProviderStatus   string     `json:"providerStatus,omitempty"`
	LastCheckedAt    *time.Time `json:"lastCheckedAt,omitempty"`
	VideoURL         string     `json:"videoUrl,omitempty"`
	OriginalVideoURL string     `json:"originalVideoUrl,omitempty"`
	ItemUpdated      bool       `json:"itemUpdated"`
	Error            string     `json:"error,omitempty"`
}

func (t Task) Public() PublicTaskStatus {
	return PublicTaskStatus{
		TaskID:           t.ID,
		ItemID:           t.ItemID,
		Status:           t.Status,
		CreatedAt:        t.CreatedAt,
		CompletedAt:      t.CompletedAt,
		ProviderStatus:   t.ProviderStatus,
		LastCheckedAt:    t.LastCheckedAt,
		VideoURL:         t.VideoURL,
		OriginalVideoURL: t.OriginalVideoURL,
		ItemUpdated:      t.ItemUpdated,
		Error:            t.Error,
	}
}

func Ptr[T any](v T) *T { return &v }
