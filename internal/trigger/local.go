package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

// Definition is the persisted form of a local trigger.
type Definition struct {
	Handle      Handle
	Name        string
	Description string
	FireAt      time.Time
	Payload     Payload
	CreatedAt   time.Time
}

// Store persists local trigger definitions so they survive restarts.
type Store interface {
	SaveTrigger(ctx context.Context, d Definition) error
	// DeleteTrigger of a missing handle is not an error.
	DeleteTrigger(ctx context.Context, h Handle) error
	LoadTriggers(ctx context.Context) ([]Definition, error)
}

const (
	DefaultGrace           = 5 * time.Second
	DefaultDispatchTimeout = 30 * time.Second
)

type LocalConfig struct {
	Location *time.Location
	// Grace delays triggers whose fire time already passed (restored after downtime).
	Grace           time.Duration
	DispatchTimeout time.Duration
}

// onceSchedule is a cron.Schedule that activates exactly once. The first
// Next call yields the fire time (or t when it already passed); later calls
// yield the zero time, which cron treats as never. Next is only called from
// the cron run loop.
type onceSchedule struct {
	at     time.Time
	handed bool
}

func (o *onceSchedule) Next(t time.Time) time.Time {
	if o.handed {
		return time.Time{}
	}
	o.handed = true
	if t.Before(o.at) {
		return o.at
	}
	return t
}

type localEntry struct {
	def     Definition
	entryID cron.EntryID
}

// Local is an in-process trigger service. Each trigger is a one-shot cron
// entry; on fire the definition is removed first and then handed to the
// Dispatcher, so a trigger fires at most once per process.
type Local struct {
	mu      sync.Mutex
	c       *cron.Cron
	cfg     LocalConfig
	entries map[Handle]*localEntry
	byName  map[string]Handle

	store Store
	disp  Dispatcher
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time
}

// NewLocal builds a Local trigger service. store may be nil (nothing persists).
func NewLocal(cfg LocalConfig, store Store, disp Dispatcher, bus eventbus.Bus, log logx.Logger) *Local {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultDispatchTimeout
	}
	return &Local{
		cfg:     cfg,
		entries: map[Handle]*localEntry{},
		byName:  map[string]Handle{},
		store:   store,
		disp:    disp,
		bus:     bus,
		log:     log,
		now:     time.Now,
	}
}

// Start restores persisted definitions and starts the cron loop.
func (l *Local) Start(ctx context.Context) error {
	var restored []Definition
	if l.store != nil {
		defs, err := l.store.LoadTriggers(ctx)
		if err != nil {
			return fmt.Errorf("load triggers: %w", err)
		}
		restored = defs
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.c != nil {
		return nil
	}
	l.c = cron.New(cron.WithLocation(l.cfg.Location))

	for _, d := range restored {
		if _, dup := l.byName[d.Name]; dup {
			continue
		}
		l.indexLocked(d)
	}
	now := l.now()
	overdue := 0
	for _, e := range l.entries {
		at := e.def.FireAt
		if !at.After(now) {
			overdue++
			at = now.Add(l.cfg.Grace)
		}
		l.scheduleLocked(e, at)
	}
	l.c.Start()
	l.log.Info("local triggers started",
		logx.String("tz", l.cfg.Location.String()),
		logx.Int("restored", len(restored)),
		logx.Int("overdue", overdue),
	)
	return nil
}

// Stop halts the cron loop. Persisted definitions remain for the next Start.
func (l *Local) Stop(ctx context.Context) {
	l.mu.Lock()
	c := l.c
	l.c = nil
	for _, e := range l.entries {
		e.entryID = 0
	}
	l.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	l.log.Info("local triggers stopped")
}

func (l *Local) Create(ctx context.Context, name, description string, fireAt time.Time, p Payload) (Handle, error) {
	if name == "" {
		return "", &ExternalError{Op: "create", Err: errors.New("name required")}
	}
	l.mu.Lock()
	if h, ok := l.byName[name]; ok {
		l.mu.Unlock()
		return "", &ConflictError{Name: name, Existing: h}
	}
	d := Definition{
		Handle:      Handle("trg_" + uuid.NewString()),
		Name:        name,
		Description: description,
		FireAt:      fireAt,
		Payload:     p,
		CreatedAt:   l.now(),
	}
	// Reserve the name while persisting.
	l.byName[name] = d.Handle
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.SaveTrigger(ctx, d); err != nil {
			l.mu.Lock()
			delete(l.byName, name)
			l.mu.Unlock()
			return "", &ExternalError{Op: "create", Err: err}
		}
	}

	l.mu.Lock()
	e := l.indexLocked(d)
	if l.c != nil {
		l.scheduleLocked(e, fireAt)
	}
	l.mu.Unlock()
	l.log.Debug("trigger created", logx.String("handle", string(d.Handle)), logx.String("name", name), logx.Time("fire_at", fireAt))
	return d.Handle, nil
}

func (l *Local) Delete(ctx context.Context, h Handle) error {
	l.mu.Lock()
	e, ok := l.entries[h]
	var c *cron.Cron
	if ok {
		l.removeLocked(e)
		c = l.c
	}
	l.mu.Unlock()
	if ok && c != nil && e.entryID != 0 {
		c.Remove(e.entryID)
	}
	if l.store != nil {
		if err := l.store.DeleteTrigger(ctx, h); err != nil {
			return &ExternalError{Op: "delete", Err: err}
		}
	}
	return nil
}

// Pending returns the armed definitions ordered by fire time.
func (l *Local) Pending() []Definition {
	l.mu.Lock()
	out := make([]Definition, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e.def)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out
}

func (l *Local) indexLocked(d Definition) *localEntry {
	e := &localEntry{def: d}
	l.entries[d.Handle] = e
	l.byName[d.Name] = d.Handle
	return e
}

// scheduleLocked arms e on the running cron. Call with l.mu held and l.c set.
func (l *Local) scheduleLocked(e *localEntry, at time.Time) {
	h := e.def.Handle
	e.entryID = l.c.Schedule(&onceSchedule{at: at}, cron.FuncJob(func() { l.fire(h) }))
}

func (l *Local) removeLocked(e *localEntry) {
	delete(l.entries, e.def.Handle)
	if l.byName[e.def.Name] == e.def.Handle {
		delete(l.byName, e.def.Name)
	}
}

func (l *Local) fire(h Handle) {
	l.mu.Lock()
	e, ok := l.entries[h]
	if !ok {
		l.mu.Unlock()
		return
	}
	l.removeLocked(e)
	c := l.c
	l.mu.Unlock()
	if c != nil {
		c.Remove(e.entryID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.DispatchTimeout)
	defer cancel()

	// Drop the persisted definition before dispatching so a crash cannot fire it twice.
	if l.store != nil {
		if err := l.store.DeleteTrigger(ctx, h); err != nil {
			l.log.Warn("trigger cleanup failed", logx.String("handle", string(h)), logx.Err(err))
		}
	}

	f := Fired{Handle: h, Name: e.def.Name, FireAt: e.def.FireAt, Payload: e.def.Payload}
	eventbus.Emit(l.bus, eventbus.TriggerFired, f)
	l.log.Info("trigger fired", logx.String("handle", string(h)), logx.String("name", f.Name))
	if l.disp == nil {
		return
	}
	if err := l.disp.Dispatch(ctx, f); err != nil {
		l.log.Warn("trigger dispatch failed", logx.String("handle", string(h)), logx.Err(err))
	}
}
