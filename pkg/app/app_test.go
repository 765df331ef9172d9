package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clicktodial/pkg/bus"

	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, kind Kind) *App {
	t.Helper()

	a, err := New(Options{Kind: kind, Env: Env{Extension: true}, Log: slog.New(&recordingHandler{})})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNewAssignsContextIDs(t *testing.T) {
	bg := newTestApp(t, Background)
	if bg.ID() != BackgroundID {
		t.Fatalf("background id = %q, want %q", bg.ID(), BackgroundID)
	}

	tab, err := New(Options{Kind: Tab, ID: TabTarget(7)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(tab.Close)
	if tab.ID() != "tab:7" {
		t.Fatalf("tab id = %q, want %q", tab.ID(), "tab:7")
	}

	popup := newTestApp(t, Popup)
	if len(popup.ID()) <= len("popup:") {
		t.Fatalf("popup id = %q, want generated suffix", popup.ID())
	}

	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without kind")
	}
}

func TestActivateRunsOnlyMatchingContext(t *testing.T) {
	a := newTestApp(t, Tab)

	var ran []string
	record := func(name string) Activation {
		return func(*Actions) error {
			ran = append(ran, name)
			return nil
		}
	}

	require.NoError(t, a.Register(
		Module{Name: "dialer", Background: record("dialer.bg"), Tab: record("dialer.tab")},
		Module{Name: "settings", Popup: record("settings.popup")},
	))
	require.NoError(t, a.Activate())

	if len(ran) != 1 || ran[0] != "dialer.tab" {
		t.Fatalf("ran = %v, want [dialer.tab]", ran)
	}
	if _, ok := a.Actions("settings"); ok {
		t.Fatal("inert module should have no live actions")
	}
}

func TestActivateKeepsOneHandlerPerModule(t *testing.T) {
	a := newTestApp(t, Background)

	calls := 0
	require.NoError(t, a.Register(Module{Name: "dialer", Background: func(*Actions) error {
		calls++
		return nil
	}}))

	require.NoError(t, a.Activate())
	require.NoError(t, a.Activate())

	if calls != 1 {
		t.Fatalf("activation calls = %d, want 1", calls)
	}
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	a := newTestApp(t, Background)

	require.NoError(t, a.Register(Module{Name: "dialer"}))
	if err := a.Register(Module{Name: "dialer"}); err == nil {
		t.Fatal("expected duplicate module error")
	}
	if err := a.Register(Module{Name: " "}); err == nil {
		t.Fatal("expected empty name error")
	}
}

func TestActivationFailureIsContained(t *testing.T) {
	a := newTestApp(t, Background)

	healthy := false
	require.NoError(t, a.Register(
		Module{Name: "broken", Background: func(actions *Actions) error {
			actions.On("dialer:dial", func(bus.Event) error { return nil })
			return errors.New("boom")
		}},
		Module{Name: "panicky", Background: func(*Actions) error {
			panic("kaboom")
		}},
		Module{Name: "healthy", Background: func(*Actions) error {
			healthy = true
			return nil
		}},
	))

	err := a.Activate()
	if err == nil {
		t.Fatal("expected joined activation error")
	}
	if !healthy {
		t.Fatal("healthy module should still activate")
	}
	if got := a.Bus().SubscriberCount("dialer:dial"); got != 0 {
		t.Fatalf("subscriptions of failed module = %d, want 0", got)
	}
}

func TestReloadReplacesHandlers(t *testing.T) {
	a := newTestApp(t, Tab)

	var generations []int
	generation := 0
	require.NoError(t, a.Register(Module{Name: "dialer", Tab: func(actions *Actions) error {
		generation++
		current := generation
		actions.On("dialer:status.show", func(bus.Event) error {
			generations = append(generations, current)
			return nil
		})
		return nil
	}}))
	require.NoError(t, a.Activate())

	first, _ := a.Actions("dialer")
	require.NoError(t, a.Timers().Start("dialer:status.update-1", time.Hour, func() {}))

	require.NoError(t, a.Reload())

	second, _ := a.Actions("dialer")
	if first == second {
		t.Fatal("expected a fresh handler set after reload")
	}
	if first.SubscriptionCount() != 0 {
		t.Fatal("old handler set still tracks subscriptions")
	}
	if a.Timers().Registered("dialer:status.update-1") {
		t.Fatal("reload should drop the context's timers")
	}

	a.Bus().Emit("dialer:status.show", nil, bus.LocalOnly())
	if len(generations) != 1 || generations[0] != 2 {
		t.Fatalf("generations = %v, want [2]", generations)
	}
}

func TestActionsCloseUnsubscribes(t *testing.T) {
	a := newTestApp(t, Background)

	var actions *Actions
	require.NoError(t, a.Register(Module{Name: "dialer", Background: func(x *Actions) error {
		actions = x
		x.On("a:b", func(bus.Event) error { return nil })
		x.Once("a:c", func(bus.Event) error { return nil })
		return nil
	}}))
	require.NoError(t, a.Activate())

	actions.Close()
	if a.Bus().SubscriberCount("a:b") != 0 || a.Bus().SubscriberCount("a:c") != 0 {
		t.Fatal("expected subscriptions to be removed")
	}
	if sub := actions.On("a:d", func(bus.Event) error { return nil }); sub != nil {
		t.Fatal("closed actions should refuse new subscriptions")
	}
	if a.Bus().SubscriberCount("a:d") != 0 {
		t.Fatal("closed actions leaked a subscription")
	}
}

func TestPostRunsOnContextLoop(t *testing.T) {
	a := newTestApp(t, Background)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	done := make(chan struct{})
	if !a.Post(func() { close(done) }) {
		t.Fatal("expected post to succeed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("posted task did not run")
	}

	a.Close()
	if a.Post(func() {}) {
		t.Fatal("expected post to fail after close")
	}
}

func TestTimerFiringsRunThroughLoop(t *testing.T) {
	a := newTestApp(t, Background)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	fired := make(chan struct{}, 1)
	require.NoError(t, a.Timers().StartDelayed("once", 5*time.Millisecond, func() { fired <- struct{}{} }))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire through the loop")
	}
}

func TestModuleHelpers(t *testing.T) {
	m := Module{Name: "dialer", Background: func(*Actions) error { return nil }, Tab: func(*Actions) error { return nil }}

	if got := Label(m); got != "dialer[actions]" {
		t.Fatalf("Label = %q", got)
	}
	kinds := Contexts(m)
	if len(kinds) != 2 || kinds[0] != Background || kinds[1] != Tab {
		t.Fatalf("Contexts = %v, want [background tab]", kinds)
	}
	if Supports(m, Popup) {
		t.Fatal("module should not support popup")
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		input string
		want  Kind
	}{
		{input: "background", want: Background},
		{input: " TAB ", want: Tab},
		{input: "popup", want: Popup},
		{input: "electron_webview", want: Webview},
		{input: "webview", want: Webview},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.input)
		if err != nil {
			t.Fatalf("ParseKind(%q) error: %v", tt.input, err)
		}
		if got != tt.want {
			t.Fatalf("ParseKind(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseKind("options"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestTabTargets(t *testing.T) {
	if got := TabTarget(7); got != "tab:7" {
		t.Fatalf("TabTarget(7) = %q", got)
	}
	if id, ok := ParseTabTarget("tab:7"); !ok || id != 7 {
		t.Fatalf("ParseTabTarget = %d, %v", id, ok)
	}
	for _, input := range []string{"bg", "tab:", "tab:x", "popup:1"} {
		if _, ok := ParseTabTarget(input); ok {
			t.Fatalf("ParseTabTarget(%q) should fail", input)
		}
	}
}

func TestLogEventLevels(t *testing.T) {
	recorder := &recordingHandler{}
	log := slog.New(recorder)

	logEvent(log, bus.Event{Name: "dialer:status.show"})
	if got := recorder.LastLevel(); got != slog.LevelInfo {
		t.Fatalf("status event level = %v, want %v", got, slog.LevelInfo)
	}

	logEvent(log, bus.Event{Name: "fg:set_state", Payload: bus.Payload{"state": map[string]any{}}})
	if got := recorder.LastLevel(); got != slog.LevelDebug {
		t.Fatalf("state event level = %v, want %v", got, slog.LevelDebug)
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *recordingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }

func (h *recordingHandler) WithGroup(_ string) slog.Handler { return h }

func (h *recordingHandler) LastLevel() slog.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.records) == 0 {
		return 0
	}
	return h.records[len(h.records)-1].Level
}
