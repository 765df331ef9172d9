package app

import (
	"log/slog"
	"sync"

	"clicktodial/pkg/bus"
	"clicktodial/pkg/state"
	"clicktodial/pkg/timer"
)

// Actions is the registration surface of one module in one context. It owns
// the module's subscriptions and nothing else; closing it discards them.
type Actions struct {
	app    *App
	module Module
	log    *slog.Logger

	mu     sync.Mutex
	subs   []*bus.Subscription
	closed bool
}

func newActions(a *App, m Module) *Actions {
	return &Actions{
		app:    a,
		module: m,
		log:    a.log.With("component", Label(m)),
	}
}

// On subscribes handler for the lifetime of this handler set.
func (a *Actions) On(name string, handler bus.Handler) *bus.Subscription {
	return a.track(a.app.bus.On(name, handler))
}

// Once subscribes handler for the next delivery of name.
func (a *Actions) Once(name string, handler bus.Handler) *bus.Subscription {
	return a.track(a.app.bus.Once(name, handler))
}

// Emit publishes through the context bus.
func (a *Actions) Emit(name string, payload bus.Payload, opts ...bus.EmitOption) {
	a.app.bus.Emit(name, payload, opts...)
}

func (a *Actions) track(sub *bus.Subscription) *bus.Subscription {
	if sub == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		sub.Unsubscribe()
		return nil
	}

	a.subs = append(a.subs, sub)
	return sub
}

// Close unsubscribes every handler registered through a.
func (a *Actions) Close() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.closed = true
	a.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// SubscriptionCount reports how many subscriptions a still tracks.
func (a *Actions) SubscriptionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

func (a *Actions) App() *App               { return a.app }
func (a *Actions) Module() Module          { return a.module }
func (a *Actions) Kind() Kind              { return a.app.kind }
func (a *Actions) Env() Env                { return a.app.env }
func (a *Actions) Bus() *bus.Bus           { return a.app.bus }
func (a *Actions) Timers() *timer.Registry { return a.app.timers }
func (a *Actions) Store() *state.Store     { return a.app.store }
func (a *Actions) Log() *slog.Logger       { return a.log }
