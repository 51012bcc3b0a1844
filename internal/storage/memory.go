package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"remindd/internal/reminder"
	"remindd/internal/trigger"
)

type memStore struct {
	mu       sync.RWMutex
	tasks    map[string]*reminder.ScheduledTask
	triggers map[trigger.Handle]trigger.Definition
	closed   bool
}

func newMemStore() *memStore {
	return &memStore{
		tasks:    map[string]*reminder.ScheduledTask{},
		triggers: map[trigger.Handle]trigger.Definition{},
	}
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memStore) Insert(_ context.Context, t *reminder.ScheduledTask) (string, error) {
	c := t.Clone()
	c.ID = uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	m.tasks[c.ID] = c
	return c.ID, nil
}

func (m *memStore) Get(_ context.Context, id string) (*reminder.ScheduledTask, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, false, nil
	}
	return t.Clone(), true, nil
}

func (m *memStore) Update(_ context.Context, id string, u reminder.TaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t, ok := m.tasks[id]
	if !ok {
		return reminder.ErrNotFound
	}
	applyUpdate(t, u)
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) List(_ context.Context, f reminder.Filter) ([]*reminder.ScheduledTask, error) {
	m.mu.RLock()
	out := make([]*reminder.ScheduledTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	sortTasks(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) SaveTrigger(_ context.Context, d trigger.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.triggers[d.Handle] = d
	return nil
}

func (m *memStore) DeleteTrigger(_ context.Context, h trigger.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.triggers, h)
	return nil
}

func (m *memStore) LoadTriggers(_ context.Context) ([]trigger.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]trigger.Definition, 0, len(m.triggers))
	for _, d := range m.triggers {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func applyUpdate(t *reminder.ScheduledTask, u reminder.TaskUpdate) {
	t.TriggerHandles = append([]trigger.Handle(nil), u.Handles...)
	t.Status = u.Status
	t.UpdatedAt = u.UpdatedAt
}

func sortTasks(ts []*reminder.ScheduledTask) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].TargetAt.Equal(ts[j].TargetAt) {
			return ts[i].TargetAt.Before(ts[j].TargetAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
