package engine

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

// typeMask selects event types; a zero mask matches every type.
type typeMask uint64

func maskOf(types []EventType) typeMask {
	var m typeMask
	for _, t := range types {
		m |= 1 << uint(t)
	}
	return m
}

func (m typeMask) matches(t EventType) bool {
	return m == 0 || m&(1<<uint(t)) != 0
}

type subscriber struct {
	id   SubscriberID
	fn   SubscriberFunc
	mask typeMask
}

// EventBus dispatches engine events synchronously on the emitting goroutine,
// in registration order. Sync cycles emit from their own goroutine, so a
// subscriber that panics is logged and skipped instead of aborting the cycle.
// The subscriber list is copy-on-write; Emit never takes a lock.
type EventBus struct {
	mu     sync.Mutex
	subs   atomic.Pointer[[]subscriber]
	nextID SubscriberID
	log    *slog.Logger
}

// NewEventBus creates an EventBus logging to slog.Default.
func NewEventBus() *EventBus {
	return NewEventBusWithLogger(nil)
}

// NewEventBusWithLogger creates an EventBus. A nil logger means slog.Default.
func NewEventBusWithLogger(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	eb := &EventBus{log: logger}
	eb.subs.Store(&[]subscriber{})
	return eb
}

// Subscribe registers a callback for all event types.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, 0)
}

// SubscribeTypes registers a callback only for the given event types.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	return eb.add(fn, maskOf(types))
}

func (eb *EventBus) add(fn SubscriberFunc, mask typeMask) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	next := append(slices.Clone(*eb.subs.Load()), subscriber{id: eb.nextID, fn: fn, mask: mask})
	eb.subs.Store(&next)
	return eb.nextID
}

// Unsubscribe removes a subscriber by ID. Unknown IDs are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := *eb.subs.Load()
	i := slices.IndexFunc(cur, func(s subscriber) bool { return s.id == id })
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(cur), i, i+1)
	eb.subs.Store(&next)
}

// SubscriberCount returns the number of registered subscribers.
func (eb *EventBus) SubscriberCount() int {
	return len(*eb.subs.Load())
}

// Emit stamps evt if needed and delivers it to every matching subscriber.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range *eb.subs.Load() {
		if s.mask.matches(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("engine: subscriber panic", "event", evt.Type.String(), "subscriber", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(evt)
}
