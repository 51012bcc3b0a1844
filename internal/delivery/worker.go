package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, q <-chan queued, idx int) {
	// Per-worker RNG avoids contention on the global source during retries.
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ (int64(idx) << 32)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case it := <-q:
			s.execOne(ctx, stopCh, it, rng)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, it queued, rng *rand.Rand) {
	start := time.Now()
	queueDelay := max(start.Sub(it.enqueuedAt), 0)
	cfg := s.cfg
	f := it.fired
	log := s.log.With(logx.String("trigger", string(f.Handle)), logx.String("name", f.Name))

	var err error
	attempts := 0
attemptLoop:
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		attempts = attempt
		err = s.sendOnce(ctx, cfg.Timeout, f.Payload)
		if err == nil {
			break
		}
		if IsNoRetry(err) {
			err = unwrapPermanent(err)
			break
		}
		if attempt > cfg.RetryMax {
			break
		}
		delay := backoffDelayWithHint(cfg, attempt, err, rng)
		log.Debug("delivery retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}

	dur := time.Since(start)
	item := HistoryItem{Trigger: f.Handle, Name: f.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	ev := eventbus.DeliveryEvent{Trigger: string(f.Handle), Sink: s.sink.Name(), Attempts: attempts, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		ev.Err = item.Error
		s.failed.Add(1)
		log.Warn("delivery failed", logx.Err(err), logx.Int("attempts", attempts), logx.Duration("dur", dur))
		eventbus.Emit(s.bus, eventbus.DeliveryFailed, ev)
	} else {
		s.sent.Add(1)
		log.Info("delivery sent", logx.String("sink", s.sink.Name()), logx.Int("attempts", attempts), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur))
		eventbus.Emit(s.bus, eventbus.DeliverySent, ev)
	}
	s.record(item)
}

// sendOnce runs one attempt with a timeout, converting sink panics into errors.
func (s *Service) sendOnce(ctx context.Context, timeout time.Duration, p trigger.Payload) (err error) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("delivery sink panicked", logx.String("sink", s.sink.Name()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.sink.Send(sctx, p)
}

func backoffDelayWithHint(cfg Config, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return jitter(min(ra.RetryAfter(), cfg.RetryMaxDelay), cfg, rng)
	}
	d := cfg.RetryBase
	for i := 1; i < retry && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	return jitter(min(d, cfg.RetryMaxDelay), cfg, rng)
}

func jitter(d time.Duration, cfg Config, rng *rand.Rand) time.Duration {
	if d <= 0 || cfg.RetryJitter <= 0 || rng == nil {
		return d
	}
	r := (rng.Float64()*2 - 1) * cfg.RetryJitter
	d = time.Duration(float64(d) * (1 + r))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
