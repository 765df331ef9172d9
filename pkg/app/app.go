// Package app is the per-context runtime: it owns the event bus, timer
// registry and state store of one execution context and activates the
// registered modules for that context's kind.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"clicktodial/pkg/bus"
	"clicktodial/pkg/state"
	"clicktodial/pkg/timer"

	"github.com/google/uuid"
)

const defaultQueueSize = 256

// Env describes where the code runs.
type Env struct {
	// Extension is true when running as an installed browser extension
	// rather than inside the electron shell.
	Extension bool
}

// Options configures a new App.
type Options struct {
	Kind Kind
	// ID overrides the generated context id. The background context always
	// uses BackgroundID.
	ID        string
	Env       Env
	Remote    bus.Remote
	State     map[string]any
	Log       *slog.Logger
	QueueSize int
}

// App is one execution context. Handler code runs serialized on the
// goroutine calling Run; other goroutines hand work over with Post.
type App struct {
	kind Kind
	id   string
	env  Env
	log  *slog.Logger

	bus    *bus.Bus
	timers *timer.Registry
	store  *state.Store

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	modules []Module
	actions map[string]*Actions
}

// New builds the runtime of one context.
func New(opts Options) (*App, error) {
	if _, ok := kindNames[opts.Kind]; !ok {
		return nil, errors.New("context kind is required")
	}

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	id := strings.TrimSpace(opts.ID)
	switch {
	case opts.Kind == Background:
		id = BackgroundID
	case id == "":
		id = opts.Kind.String() + ":" + uuid.NewString()
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	a := &App{
		kind:    opts.Kind,
		id:      id,
		env:     opts.Env,
		log:     log.With("context", opts.Kind.String(), "context_id", id),
		tasks:   make(chan func(), queueSize),
		done:    make(chan struct{}),
		actions: make(map[string]*Actions),
	}
	a.bus = bus.New(id, log)
	a.bus.SetRemote(opts.Remote)
	a.timers = timer.New(func(fn func()) { a.Post(fn) }, log)
	a.store = state.New(opts.State)

	return a, nil
}

func (a *App) Kind() Kind              { return a.kind }
func (a *App) ID() string              { return a.id }
func (a *App) Env() Env                { return a.env }
func (a *App) Bus() *bus.Bus           { return a.bus }
func (a *App) Timers() *timer.Registry { return a.timers }
func (a *App) Store() *state.Store     { return a.store }
func (a *App) Log() *slog.Logger       { return a.log }

// SetRemote replaces the cross-context forwarder.
func (a *App) SetRemote(remote bus.Remote) {
	a.bus.SetRemote(remote)
}

// Register adds modules. Names must be unique within the context.
func (a *App) Register(modules ...Module) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, m := range modules {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return errors.New("module name is required")
		}
		for _, existing := range a.modules {
			if existing.Name == name {
				return fmt.Errorf("module %q already registered", name)
			}
		}
		m.Name = name
		a.modules = append(a.modules, m)
	}

	return nil
}

// Activate runs, for every registered module, the activation matching this
// context's kind. Modules without one stay inert. A failing activation is
// logged and torn down; the remaining modules still activate.
func (a *App) Activate() error {
	a.mu.Lock()
	modules := make([]Module, len(a.modules))
	copy(modules, a.modules)
	a.mu.Unlock()

	var errs []error
	for _, m := range modules {
		activate := ActivationFor(m, a.kind)
		if activate == nil {
			a.log.Debug("Module inert in context", "module", m.Name)
			continue
		}

		a.mu.Lock()
		if _, live := a.actions[m.Name]; live {
			a.mu.Unlock()
			continue
		}
		actions := newActions(a, m)
		a.actions[m.Name] = actions
		a.mu.Unlock()

		if err := runActivation(activate, actions); err != nil {
			actions.Close()
			a.mu.Lock()
			delete(a.actions, m.Name)
			a.mu.Unlock()

			a.log.Error("Module activation failed", "module", m.Name, "error", err)
			errs = append(errs, fmt.Errorf("activate %s: %w", m.Name, err))
			continue
		}

		a.log.Debug("Module activated", "module", m.Name, "subscriptions", actions.SubscriptionCount())
	}

	return errors.Join(errs...)
}

func runActivation(activate Activation, actions *Actions) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("activation panic: %v", recovered)
		}
	}()

	return activate(actions)
}

// Reload discards every live handler set and the context's timers, then
// activates fresh handler sets. Nothing carries over.
func (a *App) Reload() error {
	a.teardown()
	a.log.Info("Context reloaded")
	return a.Activate()
}

// Actions returns the live handler set of module name.
func (a *App) Actions(name string) (*Actions, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	actions, ok := a.actions[name]
	return actions, ok
}

func (a *App) teardown() {
	a.mu.Lock()
	live := a.actions
	a.actions = make(map[string]*Actions)
	a.mu.Unlock()

	for _, actions := range live {
		actions.Close()
	}
	a.timers.Reset()
}

// Post queues fn for the context goroutine. It returns false once the
// context is closed.
func (a *App) Post(fn func()) bool {
	if fn == nil {
		return false
	}

	select {
	case <-a.done:
		return false
	default:
	}

	select {
	case <-a.done:
		return false
	case a.tasks <- fn:
		return true
	}
}

// Run executes posted work until ctx ends or the context is closed.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.done:
			return nil
		case fn := <-a.tasks:
			a.runTask(fn)
		}
	}
}

func (a *App) runTask(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			a.log.Error("Context task panicked", "panic", recovered)
		}
	}()

	fn()
}

// Done is closed when the context is closed.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Close tears down handlers, timers and the bus.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.teardown()
		a.bus.Close()
		close(a.done)
	})
}
