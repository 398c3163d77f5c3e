package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"vidflow/internal/domain"
)

type Memory struct {
	mu    sync.RWMutex
	tasks map[string]domain.Task
	clock clockwork.Clock
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{tasks: make(map[string]domain.Task), clock: clock}
}

func (m *Memory) Create(_ context.Context, itemID, country string, info domain.ItemInfo, opts domain.GenerationOptions) (domain.Task, error) {
	t := newTask(m.clock.Now(), itemID, country, info, opts)
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	return t, nil
}

func (m *Memory) Update(_ context.Context, id string, patch domain.TaskPatch) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := patch.Apply(&t); err != nil {
		return domain.Task{}, err
	}
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

func (m *Memory) StatusView(ctx context.Context, id string) (domain.PublicTaskStatus, error) {
	t, err := m.Get(ctx, id)
	if err != nil {
		return domain.PublicTaskStatus{}, err
	}
	return t.Public(), nil
}

func (m *Memory) EvictOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, t := range m.tasks {
		if t.CreatedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}
