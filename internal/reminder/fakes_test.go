package reminder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"remindd/internal/content"
	"remindd/internal/trigger"
)

type memStore struct {
	mu     sync.Mutex
	seq    int
	tasks  map[string]*ScheduledTask
	writes []TaskUpdate
}

func newMemStore() *memStore { return &memStore{tasks: map[string]*ScheduledTask{}} }

func (m *memStore) Insert(_ context.Context, t *ScheduledTask) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c := t.Clone()
	c.ID = fmt.Sprintf("task-%d", m.seq)
	m.tasks[c.ID] = c
	return c.ID, nil
}

func (m *memStore) Get(_ context.Context, id string) (*ScheduledTask, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	return t.Clone(), ok, nil
}

func (m *memStore) Update(_ context.Context, id string, u TaskUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.TriggerHandles = append([]trigger.Handle(nil), u.Handles...)
	t.Status = u.Status
	t.UpdatedAt = u.UpdatedAt
	m.writes = append(m.writes, u)
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, id)
	return nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]*ScheduledTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ScheduledTask
	for _, t := range m.tasks {
		if f.Match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// fakeTriggers behaves like a scheduler that enforces unique names.
type fakeTriggers struct {
	mu         sync.Mutex
	seq        int
	byName     map[string]trigger.Handle
	fireAt     map[string]time.Time
	failNames  []string // substrings of names whose Create fails
	failDelete map[trigger.Handle]bool
	deleted    []trigger.Handle
	noExisting bool // conflicts omit the existing handle
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{
		byName:     map[string]trigger.Handle{},
		fireAt:     map[string]time.Time{},
		failDelete: map[trigger.Handle]bool{},
	}
}

func (f *fakeTriggers) Create(_ context.Context, name, _ string, fireAt time.Time, _ trigger.Payload) (trigger.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.failNames {
		if strings.Contains(name, s) {
			return "", &trigger.ExternalError{Op: "create", StatusCode: 502, Err: errors.New("bad gateway")}
		}
	}
	if h, ok := f.byName[name]; ok {
		ce := &trigger.ConflictError{Name: name}
		if !f.noExisting {
			ce.Existing = h
		}
		return "", ce
	}
	f.seq++
	h := trigger.Handle(fmt.Sprintf("h-%d", f.seq))
	f.byName[name] = h
	f.fireAt[name] = fireAt
	return h, nil
}

func (f *fakeTriggers) Delete(_ context.Context, h trigger.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, h)
	if f.failDelete[h] {
		return &trigger.ExternalError{Op: "delete", Err: errors.New("connection reset")}
	}
	for name, have := range f.byName {
		if have == h {
			delete(f.byName, name)
		}
	}
	return nil
}

func (f *fakeTriggers) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

type staticContent struct{}

func (staticContent) Generate(_ context.Context, req content.Request) string {
	return content.Fallback(req, time.UTC)
}
