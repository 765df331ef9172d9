// Package statesync keeps the state tree of every context in step with the
// background context, which owns persistence.
package statesync

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"clicktodial/pkg/app"
	"clicktodial/pkg/bus"
)

const (
	// EventSetState asks the background context to apply (and maybe persist)
	// a state change.
	EventSetState = "bg:set_state"
	// EventStateChanged carries an applied change to the other contexts.
	EventStateChanged = "fg:set_state"
	// EventStateRequest asks the background context for its whole tree. The
	// reply is an EventStateChanged addressed to the requester.
	EventStateRequest = "bg:get_state"

	loadTimeout = 5 * time.Second
)

type setState struct {
	Persist bool           `json:"persist"`
	State   map[string]any `json:"state"`
	// Origin is the context that asked for the change. The hub restamps the
	// source of rebroadcasts, so contexts recognise their own echo by it.
	Origin string `json:"origin"`
}

// Sync is the state synchronization module.
type Sync struct {
	storage Storage
	writer  *Writer
}

// New builds the module. storage and writer are only used by the background
// context and may be nil elsewhere.
func New(storage Storage, writer *Writer) *Sync {
	return &Sync{storage: storage, writer: writer}
}

func (s *Sync) Module() app.Module {
	return app.Module{
		Name:       "statesync",
		Background: s.background,
		Tab:        s.foreground,
		Popup:      s.foreground,
		Webview:    s.foreground,
	}
}

func (s *Sync) background(actions *app.Actions) error {
	if s.storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()

		restored, err := s.storage.Load(ctx)
		if err != nil {
			return fmt.Errorf("restore state: %w", err)
		}
		if len(restored) > 0 {
			actions.Store().Merge(restored)
			actions.Log().Info("State restored", "keys", len(restored))
		}
	}

	actions.On(EventSetState, func(event bus.Event) error {
		var change setState
		if err := bus.Decode(event.Payload, &change); err != nil {
			return fmt.Errorf("%s: %w", EventSetState, err)
		}
		if len(change.State) == 0 {
			return nil
		}

		store := actions.Store()
		store.Merge(change.State)
		actions.Emit(EventStateChanged, bus.Payload{"state": change.State, "origin": event.Source})

		if !change.Persist || s.writer == nil {
			return nil
		}

		// Persist the merged value of each touched key, set first and
		// persist eventually.
		entries := make(map[string]any, len(change.State))
		for _, key := range slices.Sorted(maps.Keys(change.State)) {
			if value, ok := store.Get(key); ok {
				entries[key] = value
			}
		}
		s.writer.Enqueue(entries)
		return nil
	})

	actions.On(EventStateRequest, func(event bus.Event) error {
		if event.Source == "" || event.Source == actions.App().ID() {
			return nil
		}

		actions.Emit(EventStateChanged, bus.Payload{"state": actions.Store().Snapshot("")}, bus.To(event.Source))
		return nil
	})

	return nil
}

func (s *Sync) foreground(actions *app.Actions) error {
	actions.On(EventStateChanged, func(event bus.Event) error {
		var change setState
		if err := bus.Decode(event.Payload, &change); err != nil {
			return fmt.Errorf("%s: %w", EventStateChanged, err)
		}
		if change.Origin == actions.App().ID() || len(change.State) == 0 {
			return nil
		}

		actions.Store().Merge(change.State)
		return nil
	})

	actions.Emit(EventStateRequest, nil, bus.To(app.BackgroundID))
	return nil
}

// SetState applies state to the local store, then announces it to the
// background context. With persist the background writes it to storage.
func SetState(a *app.App, state map[string]any, persist bool) {
	if len(state) == 0 {
		return
	}

	a.Store().Merge(state)

	payload := bus.Payload{"persist": persist, "state": state}
	if a.Kind() == app.Background {
		a.Bus().Emit(EventSetState, payload, bus.LocalOnly())
		return
	}
	a.Bus().Emit(EventSetState, payload, bus.To(app.BackgroundID))
}

// SetLayer switches the visible popup layer and persists the ui subtree.
func SetLayer(a *app.App, layer string) {
	a.Store().Set("ui.layer", layer)
	SetState(a, map[string]any{"ui": a.Store().Snapshot("ui")}, true)
}

// Logout signs the user out everywhere and persists it.
func Logout(a *app.App) {
	SetState(a, map[string]any{"user": map[string]any{"authenticated": false}}, true)
}
