package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-process notification. Data carries one of the payload
// types in events.go.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus fans events out to buffered subscribers. Publish never blocks; a
// subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

const defaultBuffer = 8

func New() Bus { return &fanout{subs: map[*subscriber]struct{}{}} }

// Emit publishes on b if it is non-nil.
func Emit(b Bus, typ string, data any) {
	if b != nil {
		b.Publish(Event{Type: typ, Data: data})
	}
}

// Dropped counts events lost to full subscriber buffers.
func Dropped(b Bus) uint64 {
	if f, ok := b.(*fanout); ok {
		return f.dropped.Load()
	}
	return 0
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

type fanout struct {
	// Sends happen under the read lock and close under the write lock, so
	// an unsubscribed channel is never written to.
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Uint64
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.subs {
		select {
		case s.ch <- e:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()

	return s.ch, func() {
		s.once.Do(func() {
			f.mu.Lock()
			delete(f.subs, s)
			close(s.ch)
			f.mu.Unlock()
		})
	}
}
