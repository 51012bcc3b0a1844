package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "remindd/pkg/logx"
)

type memDefs struct {
	mu   sync.Mutex
	defs map[Handle]Definition
}

func newMemDefs() *memDefs { return &memDefs{defs: map[Handle]Definition{}} }

func (m *memDefs) SaveTrigger(_ context.Context, d Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[d.Handle] = d
	return nil
}

func (m *memDefs) DeleteTrigger(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.defs, h)
	return nil
}

func (m *memDefs) LoadTriggers(context.Context) ([]Definition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Definition, 0, len(m.defs))
	for _, d := range m.defs {
		out = append(out, d)
	}
	return out, nil
}

func (m *memDefs) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.defs)
}

func collector() (Dispatcher, <-chan Fired) {
	ch := make(chan Fired, 8)
	return DispatcherFunc(func(_ context.Context, f Fired) error {
		ch <- f
		return nil
	}), ch
}

func TestLocalFiresOnceAndCleansUp(t *testing.T) {
	t.Parallel()
	store := newMemDefs()
	disp, fired := collector()
	l := NewLocal(LocalConfig{}, store, disp, nil, logx.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background())

	h, err := l.Create(context.Background(), Name("t1", "one_hour"), "d", time.Now().Add(100*time.Millisecond), Payload{Contact: "c", Message: "m"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if store.len() != 1 {
		t.Fatalf("persisted = %d", store.len())
	}

	select {
	case f := <-fired:
		if f.Handle != h || f.Payload.Message != "m" || f.Name != "TASK-REMINDER-ONE_HOUR-t1" {
			t.Fatalf("fired = %+v", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("trigger did not fire")
	}
	if store.len() != 0 {
		t.Fatal("definition should be removed after firing")
	}
	if len(l.Pending()) != 0 {
		t.Fatal("no triggers should remain pending")
	}
	select {
	case f := <-fired:
		t.Fatalf("fired twice: %+v", f)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestLocalConflictAndDelete(t *testing.T) {
	t.Parallel()
	store := newMemDefs()
	l := NewLocal(LocalConfig{}, store, nil, nil, logx.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background())

	at := time.Now().Add(time.Hour)
	h, err := l.Create(context.Background(), "n", "", at, Payload{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = l.Create(context.Background(), "n", "", at, Payload{})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce *ConflictError
	if !errors.As(err, &ce) || ce.Existing != h {
		t.Fatalf("existing = %q, want %q", ce.Existing, h)
	}

	if err := l.Delete(context.Background(), h); err != nil {
		t.Fatal(err)
	}
	if err := l.Delete(context.Background(), h); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if store.len() != 0 || len(l.Pending()) != 0 {
		t.Fatal("trigger not removed")
	}
	if _, err := l.Create(context.Background(), "n", "", at, Payload{}); err != nil {
		t.Fatalf("name should be free after delete: %v", err)
	}
}

func TestLocalRestoresOverdueAfterGrace(t *testing.T) {
	t.Parallel()
	store := newMemDefs()
	_ = store.SaveTrigger(context.Background(), Definition{
		Handle: "trg_old",
		Name:   "old",
		FireAt: time.Now().Add(-time.Hour),
	})
	_ = store.SaveTrigger(context.Background(), Definition{
		Handle: "trg_future",
		Name:   "future",
		FireAt: time.Now().Add(time.Hour),
	})

	disp, fired := collector()
	l := NewLocal(LocalConfig{Grace: 50 * time.Millisecond}, store, disp, nil, logx.Nop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background())

	select {
	case f := <-fired:
		if f.Handle != "trg_old" {
			t.Fatalf("fired %s", f.Handle)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("overdue trigger was not fired")
	}
	if p := l.Pending(); len(p) != 1 || p[0].Handle != "trg_future" {
		t.Fatalf("pending = %+v", p)
	}
}

func TestLocalCreateBeforeStart(t *testing.T) {
	t.Parallel()
	disp, fired := collector()
	l := NewLocal(LocalConfig{}, nil, disp, nil, logx.Nop())
	if _, err := l.Create(context.Background(), "early", "", time.Now().Add(50*time.Millisecond), Payload{}); err != nil {
		t.Fatal(err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer l.Stop(context.Background())
	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("trigger created before Start did not fire")
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := Name("abc", "one_day"); got != "TASK-REMINDER-ONE_DAY-abc" {
		t.Fatalf("Name = %q", got)
	}
}
