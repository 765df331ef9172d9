// Package timer keeps named, cancellable timers for one execution context.
package timer

import (
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
)

// Func is the work performed on each firing.
type Func func()

// Dispatcher hands a firing to the goroutine that owns the context. The
// default runs the firing on the timer goroutine.
type Dispatcher func(func())

// Registry maps timer ids to repeating or one-shot timers.
type Registry struct {
	dispatch Dispatcher
	log      *slog.Logger

	mu     sync.Mutex
	timers map[string]*entry
}

type entry struct {
	id       string
	interval time.Duration
	fn       Func
	oneShot  bool

	active bool
	// generation changes on every start and stop so firings queued by an
	// older run are discarded.
	generation uint64
	stop       chan struct{}
}

// New builds an empty registry. A nil dispatcher runs firings directly.
func New(dispatch Dispatcher, log *slog.Logger) *Registry {
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	if log == nil {
		log = slog.Default()
	}

	return &Registry{
		dispatch: dispatch,
		log:      log.With("component", "timer.registry"),
		timers:   make(map[string]*entry),
	}
}

// Start creates and starts a repeating timer for an unknown id. An active id
// is left untouched and the new handler is ignored; a stopped id resumes with
// its stored handler and interval.
func (r *Registry) Start(id string, interval time.Duration, fn Func) error {
	return r.start(id, interval, fn, false)
}

// StartDelayed is Start for a timer that fires once after delay. After firing
// the entry is stopped but stays registered.
func (r *Registry) StartDelayed(id string, delay time.Duration, fn Func) error {
	return r.start(id, delay, fn, true)
}

func (r *Registry) start(id string, interval time.Duration, fn Func, oneShot bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("timer id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.timers[id]; ok {
		if existing.active {
			return nil
		}
		r.run(existing)
		r.log.Debug("Timer resumed", "timer_id", id)
		return nil
	}

	if interval <= 0 {
		return errors.New("timer interval must be greater than zero")
	}
	if fn == nil {
		return errors.New("timer handler is required")
	}

	created := &entry{id: id, interval: interval, fn: fn, oneShot: oneShot}
	r.timers[id] = created
	r.run(created)
	r.log.Debug("Timer started", "timer_id", id, "interval", interval)
	return nil
}

// Stop halts future firings of id and keeps the entry. Unknown or already
// stopped ids are ignored.
func (r *Registry) Stop(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.timers[id]
	if !ok || !existing.active {
		return
	}

	r.halt(existing)
	r.log.Debug("Timer stopped", "timer_id", id)
}

// Unregister removes id whatever its state. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.timers[id]
	if !ok {
		return
	}

	if existing.active {
		r.halt(existing)
	}
	delete(r.timers, id)
	r.log.Debug("Timer unregistered", "timer_id", id)
}

// Registered reports whether id exists, active or stopped.
func (r *Registry) Registered(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.timers[id]
	return ok
}

// Active reports whether id exists and is running.
func (r *Registry) Active(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.timers[id]
	return ok && existing.active
}

// IDs returns the registered timer ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.timers))
	for id := range r.timers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Reset stops and removes every timer. Used when the owning context is torn
// down.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.timers {
		if existing.active {
			r.halt(existing)
		}
		delete(r.timers, id)
	}
}

// run must be called with r.mu held.
func (r *Registry) run(e *entry) {
	e.active = true
	e.generation++
	e.stop = make(chan struct{})

	go r.loop(e, e.generation, e.stop)
}

// halt must be called with r.mu held.
func (r *Registry) halt(e *entry) {
	e.active = false
	e.generation++
	close(e.stop)
}

func (r *Registry) loop(e *entry, generation uint64, stop <-chan struct{}) {
	if e.oneShot {
		delay := time.NewTimer(e.interval)
		defer delay.Stop()

		select {
		case <-stop:
		case <-delay.C:
			r.fire(e, generation)
		}
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.fire(e, generation)
		}
	}
}

func (r *Registry) fire(e *entry, generation uint64) {
	r.dispatch(func() {
		r.mu.Lock()
		current, ok := r.timers[e.id]
		if !ok || current != e || !e.active || e.generation != generation {
			r.mu.Unlock()
			return
		}
		if e.oneShot {
			r.halt(e)
		}
		fn := e.fn
		r.mu.Unlock()

		r.invoke(e.id, fn)
	})
}

func (r *Registry) invoke(id string, fn Func) {
	defer func() {
		if recovered := recover(); recovered != nil {
			r.log.Error("Timer handler panicked", "timer_id", id, "panic", recovered)
		}
	}()

	fn()
}
