package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

type scriptedSink struct {
	mu    sync.Mutex
	errs  []error
	calls int
	got   []trigger.Payload
}

func (s *scriptedSink) Name() string { return "scripted" }

func (s *scriptedSink) Send(_ context.Context, p trigger.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.got = append(s.got, p)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func (s *scriptedSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event, typ string) eventbus.DeliveryEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == typ {
				return e.Data.(eventbus.DeliveryEvent)
			}
		case <-deadline:
			t.Fatalf("no %s event", typ)
		}
	}
}

func fastConfig() Config {
	return Config{Workers: 1, QueueSize: 4, RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestDispatchRetriesThenSends(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sink := &scriptedSink{errs: []error{errors.New("flaky"), RetryAfter(errors.New("busy"), time.Millisecond)}}
	s := New(fastConfig(), sink, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Dispatch(context.Background(), trigger.Fired{Handle: "trg_1", Payload: trigger.Payload{Contact: "+1", Message: "hi"}}); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, events, eventbus.DeliverySent)
	if ev.Attempts != 3 || ev.Trigger != "trg_1" {
		t.Fatalf("event = %+v", ev)
	}
	snap := s.Snapshot()
	if snap.Sent != 1 || len(snap.History) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestDispatchNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	sink := &scriptedSink{errs: []error{NoRetry(errors.New("rejected"))}}
	s := New(fastConfig(), sink, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Dispatch(context.Background(), trigger.Fired{Handle: "trg_2"})
	ev := waitEvent(t, events, eventbus.DeliveryFailed)
	if ev.Attempts != 1 || ev.Err != "rejected" {
		t.Fatalf("event = %+v", ev)
	}
	if sink.count() != 1 {
		t.Fatalf("calls = %d", sink.count())
	}
}

func TestDispatchZeroRetryMaxMakesOneAttempt(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	cfg := fastConfig()
	cfg.RetryMax = 0
	sink := &scriptedSink{errs: []error{errors.New("flaky")}}
	s := New(cfg, sink, logx.Nop(), bus)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	_ = s.Dispatch(context.Background(), trigger.Fired{Handle: "trg_3"})
	ev := waitEvent(t, events, eventbus.DeliveryFailed)
	if ev.Attempts != 1 || sink.count() != 1 {
		t.Fatalf("event = %+v, calls = %d", ev, sink.count())
	}
}

func TestDispatchAfterStop(t *testing.T) {
	t.Parallel()
	s := New(fastConfig(), &scriptedSink{}, logx.Nop(), nil)
	if err := s.Dispatch(context.Background(), trigger.Fired{}); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0.2}.withDefaults()
	if d := backoffDelayWithHint(cfg, 1, errors.New("x"), nil); d != 100*time.Millisecond {
		t.Fatalf("retry 1 = %v", d)
	}
	if d := backoffDelayWithHint(cfg, 3, errors.New("x"), nil); d != 400*time.Millisecond {
		t.Fatalf("retry 3 = %v", d)
	}
	if d := backoffDelayWithHint(cfg, 10, errors.New("x"), nil); d != time.Second {
		t.Fatalf("retry 10 = %v", d)
	}
	if d := backoffDelayWithHint(cfg, 1, RetryAfter(errors.New("x"), time.Hour), nil); d != time.Second {
		t.Fatalf("hint = %v", d)
	}
}

func TestWebhookSink(t *testing.T) {
	t.Parallel()
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	var (
		mu  sync.Mutex
		got trigger.Payload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&got)
		mu.Unlock()
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status.Load() == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "2")
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, "secret", srv.Client())
	if err := sink.Send(context.Background(), trigger.Payload{Contact: "+1", Message: "m"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	if got.Contact != "+1" || got.Message != "m" {
		t.Fatalf("server got %+v", got)
	}
	mu.Unlock()

	status.Store(http.StatusTooManyRequests)
	err := sink.Send(context.Background(), trigger.Payload{})
	var ra RetryAfterError
	if !errors.As(err, &ra) || ra.RetryAfter() != 2*time.Second {
		t.Fatalf("429 err = %v", err)
	}

	status.Store(http.StatusBadRequest)
	if err := sink.Send(context.Background(), trigger.Payload{}); !IsNoRetry(err) {
		t.Fatalf("400 should not retry: %v", err)
	}

	status.Store(http.StatusServiceUnavailable)
	if err := sink.Send(context.Background(), trigger.Payload{}); err == nil || IsNoRetry(err) {
		t.Fatalf("503 should retry: %v", err)
	}
}

func TestRateLimitedSink(t *testing.T) {
	t.Parallel()
	inner := &scriptedSink{}
	sink := WithRateLimit(inner, 1000)
	for i := 0; i < 3; i++ {
		if err := sink.Send(context.Background(), trigger.Payload{}); err != nil {
			t.Fatal(err)
		}
	}
	if inner.count() != 3 || sink.Name() != "scripted" {
		t.Fatalf("calls = %d name = %s", inner.count(), sink.Name())
	}
	if WithRateLimit(inner, 0) != Sink(inner) {
		t.Fatal("zero rate should return the sink unchanged")
	}
}

func TestTelegramSinkRequiresConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewTelegramSink(TelegramConfig{}); err == nil {
		t.Fatal("expected error without token")
	}
	if _, err := NewTelegramSink(TelegramConfig{Token: "x"}); err == nil {
		t.Fatal("expected error without chat id")
	}
}
