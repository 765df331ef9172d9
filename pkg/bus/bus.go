package bus

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 100

// Bus is the publish/subscribe primitive of one execution context.
//
// Local delivery is synchronous and follows subscription order. Events for
// other contexts leave through the configured Remote.
type Bus struct {
	source string
	log    *slog.Logger

	subscribers map[string][]*Subscription
	nextID      uint64
	remote      Remote

	taps      map[uint64]chan Event
	nextTapID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// Subscription is the handle returned by On and Once.
type Subscription struct {
	bus     *Bus
	name    string
	id      uint64
	handler Handler
	once    bool

	fired   atomic.Bool
	removed atomic.Bool
}

// New builds a bus for the context identified by source.
func New(source string, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}

	return &Bus{
		source:      source,
		log:         log.With("component", "bus", "context_id", source),
		subscribers: make(map[string][]*Subscription),
		taps:        make(map[uint64]chan Event),
		done:        make(chan struct{}),
	}
}

// Source returns the context id stamped on emitted events.
func (b *Bus) Source() string {
	return b.source
}

// SetRemote installs the cross-context forwarder. A nil remote disables
// forwarding.
func (b *Bus) SetRemote(remote Remote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remote = remote
}

// On registers handler for every future delivery of name.
func (b *Bus) On(name string, handler Handler) *Subscription {
	return b.subscribe(name, handler, false)
}

// Once registers handler for the next delivery of name only.
func (b *Bus) Once(name string, handler Handler) *Subscription {
	return b.subscribe(name, handler, true)
}

func (b *Bus) subscribe(name string, handler Handler, once bool) *Subscription {
	name = strings.TrimSpace(name)
	if name == "" || handler == nil {
		b.log.Warn("Ignoring invalid subscription", "event", name, "has_handler", handler != nil)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	default:
	}

	b.nextID++
	sub := &Subscription{bus: b, name: name, id: b.nextID, handler: handler, once: once}
	b.subscribers[name] = append(b.subscribers[name], sub)
	return sub
}

// Emit publishes payload under name.
//
// Without options the event is delivered to local subscribers and broadcast
// to every remote context. To addresses one remote context instead; LocalOnly
// skips the remote side. Emit never fails: handler errors and transport
// errors are logged.
func (b *Bus) Emit(name string, payload Payload, opts ...EmitOption) {
	var options emitOptions
	for _, opt := range opts {
		opt(&options)
	}

	if b.isClosed() {
		return
	}

	event := Event{
		Name:    name,
		Payload: payload.Clone(),
		Source:  b.source,
		Target:  options.target,
		At:      time.Now().UTC(),
	}

	b.publishTap(event)

	if options.target == "" {
		b.dispatch(event)
	}
	if options.localOnly {
		return
	}

	b.mu.RLock()
	remote := b.remote
	b.mu.RUnlock()

	if remote == nil {
		if options.target != "" {
			b.log.Debug("Dropping addressed event without remote", "event", name, "target", options.target)
		}
		return
	}

	if err := remote.Send(event); err != nil {
		b.log.Warn("Failed to forward event", "event", name, "target", options.target, "error", err)
	}
}

// Deliver dispatches an event received from another context to local
// subscribers only.
func (b *Bus) Deliver(event Event) {
	if b.isClosed() {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.publishTap(event)
	b.dispatch(event)
}

// SubscriberCount reports the live local subscriptions for name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[name])
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	subs := make([]*Subscription, len(b.subscribers[event.Name]))
	copy(subs, b.subscribers[event.Name])
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.removed.Load() {
			continue
		}
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			sub.Unsubscribe()
		}

		if err := b.invoke(sub, event); err != nil {
			b.log.Error("Event handler failed", "event", event.Name, "subscription", sub.id, "error", err)
		}
	}
}

func (b *Bus) invoke(sub *Subscription, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()

	return sub.handler(event)
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.name]
	for i, candidate := range subs {
		if candidate == sub {
			b.subscribers[sub.name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subscribers[sub.name]) == 0 {
		delete(b.subscribers, sub.name)
	}
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Close drops every subscription and tap. Emit and Deliver become no-ops.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mu.Lock()
		for name, subs := range b.subscribers {
			for _, sub := range subs {
				sub.removed.Store(true)
			}
			delete(b.subscribers, name)
		}
		for id, ch := range b.taps {
			close(ch)
			delete(b.taps, id)
		}
		b.mu.Unlock()
	})
}

// Unsubscribe removes the subscription. Safe to call more than once and on a
// nil handle.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	if !s.removed.CompareAndSwap(false, true) {
		return
	}

	s.bus.remove(s)
}

// Name returns the subscribed event name.
func (s *Subscription) Name() string {
	if s == nil {
		return ""
	}

	return s.name
}
