// Package supervisor runs remindd's long-lived goroutines: named, panic-safe,
// optionally restarted, and joined on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	logx "remindd/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg   sync.WaitGroup
	join sync.Once
	done chan struct{}

	mu       sync.Mutex
	firstErr error
	started  uint64
	byName   map[string]*GoroutineStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every goroutine once one of them fails.
func WithCancelOnError(on bool) Option { return func(s *Supervisor) { s.cancelOnErr = on } }

type GoroutineStats struct {
	Name        string    `json:"name"`
	Active      int64     `json:"active"`
	Started     uint64    `json:"started"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	Active     int64            `json:"active"`
	Started    uint64           `json:"started"`
	FirstError string           `json:"first_error,omitempty"`
	Goroutines []GoroutineStats `json:"goroutines"`
}

func New(parent context.Context, opts ...Option) *Supervisor {
	s := &Supervisor{log: logx.Nop(), done: make(chan struct{}), byName: map[string]*GoroutineStats{}}
	s.ctx, s.cancel = context.WithCancel(parent)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err is the first goroutine failure, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

func (s *Supervisor) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Started: s.started, Goroutines: make([]GoroutineStats, 0, len(s.byName))}
	if s.firstErr != nil {
		snap.FirstError = s.firstErr.Error()
	}
	for _, st := range s.byName {
		snap.Active += st.Active
		snap.Goroutines = append(snap.Goroutines, *st)
	}
	slices.SortFunc(snap.Goroutines, func(a, b GoroutineStats) int { return strings.Compare(a.Name, b.Name) })
	return snap
}

func (s *Supervisor) stats(name string) *GoroutineStats {
	st, ok := s.byName[name]
	if !ok {
		st = &GoroutineStats{Name: name}
		s.byName[name] = st
	}
	return st
}

// Go runs fn once. A non-nil error other than cancellation is recorded as the
// supervisor's failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(s.ctx, name, false, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error { fn(ctx); return nil })
}

func (s *Supervisor) run(ctx context.Context, name string, restart bool, fn func(context.Context) error) (err error) {
	s.mu.Lock()
	st := s.stats(name)
	st.Active++
	st.Started++
	st.LastStartAt = time.Now()
	if restart {
		st.Restarts++
	}
	s.started++
	s.mu.Unlock()

	defer func() {
		r := recover()
		s.mu.Lock()
		defer s.mu.Unlock()
		st := s.stats(name)
		st.Active--
		if r != nil {
			st.Panics++
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
		if err != nil {
			st.LastErr = err.Error()
		}
	}()
	return fn(ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	floor, ceil time.Duration
	limit       int // 0 is unlimited
}

func WithRestartBackoff(floor, ceil time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if floor > 0 {
			p.floor = floor
		}
		if ceil > 0 {
			p.ceil = ceil
		}
	}
}

// WithMaxRestarts bounds restarts after the first run.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// stableRun resets the backoff when a run lasted at least this long.
const stableRun = 30 * time.Second

// GoRestart reruns fn after each failure with jittered exponential backoff
// until it returns nil or the supervisor is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{floor: 250 * time.Millisecond, ceil: 30 * time.Second}
	for _, opt := range opts {
		opt(&p)
	}
	p.ceil = max(p.ceil, p.floor)

	s.Go(name+".restart", func(ctx context.Context) error {
		delay := p.floor
		for attempt := 0; ; attempt++ {
			began := time.Now()
			err := s.run(ctx, name, attempt > 0, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if p.limit > 0 && attempt >= p.limit {
				s.log.Error("goroutine gave up", logx.String("name", name), logx.Int("restarts", attempt), logx.Err(err))
				return fmt.Errorf("gave up after %d restarts: %w", attempt, err)
			}
			if time.Since(began) >= stableRun {
				delay = p.floor
			}
			wait := delay + time.Duration(rand.Int63n(int64(delay/5+1)))
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			delay = min(2*delay, p.ceil)
		}
	})
}

// Wait blocks until every goroutine has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.join.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}
