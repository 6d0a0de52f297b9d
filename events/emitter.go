package events

import (
	"sync"

	"github.com/matrix-magiq/qvalidator/logger"
)

var log = logger.CreateForPackage()

// Emitter publishes events, implementations must not block the caller.
type Emitter interface {
	Emit(e Event)
}

// EmitterFunc adapts function to Emitter.
type EmitterFunc func(e Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Nop discards all events.
var Nop Emitter = EmitterFunc(func(Event) {})

// Multi returns emitter which forwards events to all the emitters.
func Multi(emitters ...Emitter) Emitter {
	return EmitterFunc(func(e Event) {
		for _, em := range emitters {
			em.Emit(e)
		}
	})
}

// Logging returns emitter which logs events with the given logger, the package logger is used when l is nil.
func Logging(l logger.Logger) Emitter {
	if l == nil {
		l = log
	}
	return EmitterFunc(func(e Event) {
		l.Info("%s: %s", e.Kind(), e)
	})
}

// Bus is an in-process fan-out of events to subscribers. Events are dropped
// for subscribers whose buffer is full.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

type Subscription struct {
	bus   *Bus
	ch    chan Event
	kinds map[Kind]struct{}
	once  sync.Once
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscribe returns subscription for the given kinds, all kinds when none given.
func (b *Bus) Subscribe(bufferSize int, kinds ...Kind) *Subscription {
	s := &Subscription{bus: b, ch: make(chan Event, bufferSize)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.kinds != nil {
			if _, ok := s.kinds[e.Kind()]; !ok {
				continue
			}
		}
		select {
		case s.ch <- e:
		default:
			log.Warning("subscriber buffer full, dropping event %s", e.Kind())
		}
	}
}

// Close closes all subscriptions, events emitted after Close are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.close()
		delete(b.subs, s)
	}
}

// Events returns the channel the events are delivered to, it is closed when
// the subscription is cancelled.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; ok {
		delete(s.bus.subs, s)
		s.close()
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}
