// Package delivery executes the downstream call for fired reminder triggers:
// a bounded queue drained by supervised workers with retry and backoff.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"remindd/internal/eventbus"
	rtsup "remindd/internal/runtime/supervisor"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

type queued struct {
	fired      trigger.Fired
	enqueuedAt time.Time
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	sink   Sink
	q      chan queued
	sup    *rtsup.Supervisor
	stopCh chan struct{}

	log logx.Logger
	bus eventbus.Bus

	hmu     sync.Mutex
	history []HistoryItem

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Service {
	if sink == nil {
		sink = NewLogSink(log)
	}
	return &Service{cfg: cfg.withDefaults(), sink: sink, log: log, bus: bus}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	cfg := s.cfg
	s.q = make(chan queued, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "delivery.sup"))))

	stopCh, q := s.stopCh, s.q
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.sup.GoRestart(fmt.Sprintf("delivery.worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, q, idx)
			select {
			case <-stopCh:
				return nil
			default:
			}
			if c.Err() != nil {
				return nil
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("delivery started", logx.String("sink", s.sink.Name()), logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop signals workers and waits for in-flight sends until ctx expires.
// Queued but unsent items are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup := s.sup
	s.stopCh, s.q, s.sup = nil, nil, nil
	s.mu.Unlock()

	sup.Cancel()
	if err := sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("delivery stop incomplete", logx.Err(err))
		return
	}
	s.log.Info("delivery stopped")
}

// Dispatch queues a fired trigger, blocking until accepted, ctx ends or the service stops.
func (s *Service) Dispatch(ctx context.Context, f trigger.Fired) error {
	s.mu.Lock()
	q, stopCh := s.q, s.stopCh
	s.mu.Unlock()
	if q == nil {
		return ErrStopped
	}
	item := queued{fired: f, enqueuedAt: time.Now()}
	select {
	case q <- item:
		return nil
	case <-stopCh:
		return ErrStopped
	case <-ctx.Done():
		s.dropped.Add(1)
		s.log.Warn("delivery dropped; queue full", logx.String("trigger", string(f.Handle)), logx.Int("queue_cap", cap(q)))
		return fmt.Errorf("%w: %v", ErrQueueFull, ctx.Err())
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Sink:    s.sink.Name(),
		Running: s.stopCh != nil,
		Workers: s.cfg.Workers,
	}
	if s.q != nil {
		snap.QueueLen, snap.QueueCap = len(s.q), cap(s.q)
	}
	s.mu.Unlock()
	snap.Sent, snap.Failed, snap.Dropped = s.sent.Load(), s.failed.Load(), s.dropped.Load()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, item)
	if n := s.cfg.HistorySize; len(s.history) > n {
		s.history = s.history[len(s.history)-n:]
	}
	s.hmu.Unlock()
}
