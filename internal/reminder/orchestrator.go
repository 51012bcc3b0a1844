package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"remindd/internal/content"
	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

const (
	DefaultParallelism    = 3
	DefaultOffsetTimeout  = 15 * time.Second
	DefaultRequestTimeout = 60 * time.Second

	// finalWriteTimeout bounds store writes that must land even after the request context ends.
	finalWriteTimeout = 5 * time.Second
)

type Config struct {
	Parallelism    int
	OffsetTimeout  time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.OffsetTimeout <= 0 {
		c.OffsetTimeout = DefaultOffsetTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// Service turns one task into per-offset triggers and cancels them on demand.
type Service struct {
	store    Store
	triggers trigger.Client
	content  content.Generator
	cfg      Config

	bus eventbus.Bus
	log logx.Logger
	now func() time.Time
}

type Option func(*Service)

func WithLogger(log logx.Logger) Option { return func(s *Service) { s.log = log } }

func WithBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, triggers trigger.Client, gen content.Generator, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    store,
		triggers: triggers,
		content:  gen,
		cfg:      cfg.withDefaults(),
		log:      logx.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateResult is the persisted task plus how many offsets ended up with an armed trigger.
type CreateResult struct {
	Task            *ScheduledTask `json:"task"`
	RegisteredCount int            `json:"registered_count"`
}

// Create validates req, persists an idle task, arms one trigger per future
// offset and writes the final handle set. Per-offset failures only lower
// RegisteredCount; the only returned errors are validation and store failures.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	v, err := Validate(req, s.now())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	now := s.now()
	task := &ScheduledTask{
		OwnerID:          v.OwnerID,
		ContextID:        v.ContextID,
		RecipientName:    v.RecipientName,
		RecipientContact: v.RecipientContact,
		TaskLabel:        v.TaskLabel,
		TaskDescription:  v.TaskDescription,
		TargetAt:         v.TargetAt,
		Offsets:          v.Offsets,
		Status:           StatusIdle,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	id, err := s.store.Insert(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	task.ID = id
	log := s.log.With(logx.String("task_id", id))

	handles, registered := s.register(ctx, log, task)

	upd := TaskUpdate{Handles: handles, Status: StatusIdle, UpdatedAt: s.now()}
	if len(handles) > 0 {
		upd.Status = StatusScheduled
	}
	// The request context may already be done; the final state still has to be recorded.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer wcancel()
	if err := s.store.Update(wctx, id, upd); err != nil {
		return nil, fmt.Errorf("update task %s: %w", id, err)
	}
	task.TriggerHandles = handles
	task.Status = upd.Status
	task.UpdatedAt = upd.UpdatedAt

	log.Info("reminder created",
		logx.String("status", string(task.Status)),
		logx.Int("registered", registered),
		logx.Int("requested", len(task.Offsets)),
	)
	eventbus.Emit(s.bus, eventbus.ReminderCreated, eventbus.ReminderEvent{TaskID: id, Status: string(task.Status), Registered: registered})
	return &CreateResult{Task: task.Clone(), RegisteredCount: registered}, nil
}

// register arms every offset of t with bounded parallelism. The result is
// ordered by offset and free of duplicates.
// registered counts offsets that ended up with a handle.
func (s *Service) register(ctx context.Context, log logx.Logger, t *ScheduledTask) ([]trigger.Handle, int) {
	var (
		mu    sync.Mutex
		byOff = make(map[OffsetKind]trigger.Handle, len(t.Offsets))
	)
	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for _, k := range t.Offsets {
		k := k
		g.Go(func() error {
			h := s.processOffset(ctx, log, t, k)
			if h == "" {
				return nil
			}
			mu.Lock()
			byOff[k] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]trigger.Handle, 0, len(t.Offsets))
	seen := make(map[trigger.Handle]struct{}, len(t.Offsets))
	registered := 0
	for _, k := range t.Offsets {
		h, ok := byOff[k]
		if !ok {
			continue
		}
		registered++
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out, registered
}

// processOffset arms a single offset and returns its handle, or "" when the
// offset contributes nothing.
func (s *Service) processOffset(ctx context.Context, log logx.Logger, t *ScheduledTask, k OffsetKind) trigger.Handle {
	log = log.With(logx.String("offset", k.Code()))
	fireAt := TriggerTime(t.TargetAt, k)
	if IsPast(fireAt, s.now()) {
		log.Debug("offset skipped; trigger time already past", logx.Time("fire_at", fireAt))
		s.emitOffset(t.ID, k, eventbus.OutcomeSkipped)
		return ""
	}

	octx, cancel := context.WithTimeout(ctx, s.cfg.OffsetTimeout)
	defer cancel()

	msg := s.content.Generate(octx, content.Request{
		RecipientName:   t.RecipientName,
		TaskDescription: t.TaskDescription,
		TargetAt:        t.TargetAt,
		OffsetLabel:     k.Label(),
	})

	name := trigger.Name(t.ID, k.Name())
	h, err := s.triggers.Create(octx, name, describe(t, k), fireAt, trigger.Payload{Contact: t.RecipientContact, Message: msg})
	if err == nil {
		log.Debug("trigger armed", logx.String("handle", string(h)), logx.Time("fire_at", fireAt))
		s.emitOffset(t.ID, k, eventbus.OutcomeArmed)
		return h
	}

	var ce *trigger.ConflictError
	if errors.As(err, &ce) {
		if ce.Existing != "" {
			log.Info("trigger already registered; adopting existing handle", logx.String("name", name), logx.String("handle", string(ce.Existing)))
			s.emitOffset(t.ID, k, eventbus.OutcomeAdopted)
			return ce.Existing
		}
		log.Info("trigger already registered", logx.String("name", name))
		s.emitOffset(t.ID, k, eventbus.OutcomeConflict)
		return ""
	}

	log.Warn("trigger create failed", logx.String("name", name), logx.Err(err))
	s.emitOffset(t.ID, k, eventbus.OutcomeFailed)
	return ""
}

func describe(t *ScheduledTask, k OffsetKind) string {
	what := t.TaskLabel
	if what == "" {
		what = t.TaskDescription
	}
	return fmt.Sprintf("%s: %s", k.Label(), what)
}

func (s *Service) emitOffset(taskID string, k OffsetKind, outcome string) {
	eventbus.Emit(s.bus, eventbus.ReminderOffset, eventbus.OffsetEvent{TaskID: taskID, Offset: k.Code(), Outcome: outcome})
}

// Cancel deletes every trigger of the task (failures are logged only) and
// removes the record. Unknown ids yield ErrNotFound.
func (s *Service) Cancel(ctx context.Context, id string) error {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("get task %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	log := s.log.With(logx.String("task_id", id))

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	g.SetLimit(s.cfg.Parallelism)
	for _, h := range t.TriggerHandles {
		h := h
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(ctx, s.cfg.OffsetTimeout)
			defer cancel()
			if err := s.triggers.Delete(dctx, h); err != nil {
				log.Warn("trigger delete failed", logx.String("handle", string(h)), logx.Err(err))
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := s.store.Update(wctx, id, TaskUpdate{Status: StatusCancelled, UpdatedAt: s.now()}); err != nil {
		log.Warn("cancelled status write failed", logx.Err(err))
	}
	if err := s.store.Delete(wctx, id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	log.Info("reminder cancelled", logx.Int("handles", len(t.TriggerHandles)), logx.Int("delete_failures", failed))
	eventbus.Emit(s.bus, eventbus.ReminderCancelled, eventbus.ReminderEvent{TaskID: id, Status: string(StatusCancelled), Registered: len(t.TriggerHandles)})
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*ScheduledTask, error) {
	t, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*ScheduledTask, error) {
	return s.store.List(ctx, f)
}
