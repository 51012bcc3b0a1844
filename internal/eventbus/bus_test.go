package eventbus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	Emit(b, ReminderCreated, ReminderEvent{TaskID: "t1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != ReminderCreated || e.Time.IsZero() {
				t.Fatalf("event = %+v", e)
			}
			if ev, ok := e.Data.(ReminderEvent); !ok || ev.TaskID != "t1" {
				t.Fatalf("data = %#v", e.Data)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "x"})
	b.Publish(Event{Type: "x"})
	if got := Dropped(b); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed")
	}
	b.Publish(Event{Type: "after"})
	Emit(nil, "nil-bus", nil)
}
