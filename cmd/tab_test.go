package cmd

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"clicktodial/pkg/app"
	"clicktodial/pkg/bus"
	"clicktodial/pkg/dialer"
	"clicktodial/pkg/page"

	"github.com/stretchr/testify/require"
)

type recordingRemote struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recordingRemote) Send(event bus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingRemote) named(name string) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []bus.Event
	for _, event := range r.events {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseTabCommand(t *testing.T) {
	tests := []struct {
		line    string
		want    tabCommand
		wantErr bool
	}{
		{line: "dial 0101234567", want: tabCommand{name: "dial", arg: "0101234567"}},
		{line: "  SELECT  010 123  ", want: tabCommand{name: "select", arg: "010 123"}},
		{line: "hide", want: tabCommand{name: "hide"}},
		{line: "hide c-1", want: tabCommand{name: "hide", arg: "c-1"}},
		{line: "ready", want: tabCommand{name: "ready"}},
		{line: "dial", wantErr: true},
		{line: "call 1", wantErr: true},
		{line: "   ", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseTabCommand(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("parseTabCommand(%q) expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseTabCommand(%q) error: %v", tt.line, err)
		}
		if got != tt.want {
			t.Fatalf("parseTabCommand(%q) = %#v, want %#v", tt.line, got, tt.want)
		}
	}
}

func newTabApp(t *testing.T, remote bus.Remote) *app.App {
	t.Helper()

	original := tabID
	tabID = 7
	t.Cleanup(func() { tabID = original })

	a, err := app.New(app.Options{Kind: app.Tab, ID: app.TabTarget(tabID), Env: app.Env{Extension: true}, Remote: remote, Log: quietLog})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = a.Run(ctx) }()
	return a
}

func TestTabCommandsEmitContentScriptEvents(t *testing.T) {
	remote := &recordingRemote{}
	tabApp := newTabApp(t, remote)
	pg := page.New("https://crm.test", []string{"0101234567"}, nil)
	calls := &callTracker{out: io.Discard}

	require.NoError(t, runTabCommand(tabCommand{name: "dial", arg: "0101234567"}, tabApp, pg, calls))
	require.NoError(t, runTabCommand(tabCommand{name: "select", arg: "0201234567"}, tabApp, pg, calls))
	require.NoError(t, runTabCommand(tabCommand{name: "ready"}, tabApp, pg, calls))

	require.Eventually(t, func() bool {
		return len(remote.named(dialer.EventObserverReady)) == 1
	}, time.Second, 5*time.Millisecond)

	dial := remote.named(dialer.EventDial)
	require.Len(t, dial, 1)
	if dial[0].Target != app.BackgroundID || dial[0].Payload.String("b_number") != "0101234567" {
		t.Fatalf("dial = %#v", dial[0])
	}
	if !pg.Icons()[0].Disabled() {
		t.Fatal("expected clicked icon disabled")
	}

	click := remote.named(dialer.EventMenuClick)
	require.Len(t, click, 1)
	if click[0].Payload.String("selectionText") != "0201234567" {
		t.Fatalf("menu click = %#v", click[0])
	}

	if err := runTabCommand(tabCommand{name: "dial", arg: "0101234567"}, tabApp, pg, calls); err == nil {
		t.Fatal("expected error dialing a disabled icon")
	}
}

func TestHideUsesTrackedCall(t *testing.T) {
	remote := &recordingRemote{}
	tabApp := newTabApp(t, remote)

	var out bytes.Buffer
	pg := page.New("https://crm.test", nil, &out)
	calls := &callTracker{out: &out}

	d, err := dialer.New(tabApp, dialer.Deps{Page: pg, Log: quietLog})
	require.NoError(t, err)
	require.NoError(t, tabApp.Register(calls.Module(), d.Module()))
	require.NoError(t, tabApp.Activate())

	if err := runTabCommand(tabCommand{name: "hide"}, tabApp, pg, calls); err == nil {
		t.Fatal("expected error without an open call")
	}

	tabApp.Post(func() {
		tabApp.Bus().Deliver(bus.Event{
			Name:    dialer.EventStatusShow,
			Source:  app.BackgroundID,
			Payload: bus.Payload{"bNumber": "0101234567", "status": "dialing", "callid": "c-9"},
		})
	})
	require.Eventually(t, func() bool { return calls.current() == "c-9" }, time.Second, 5*time.Millisecond)

	require.NoError(t, runTabCommand(tabCommand{name: "hide"}, tabApp, pg, calls))
	require.Eventually(t, func() bool {
		onhide := remote.named(dialer.EventStatusOnHide)
		return len(onhide) == 1 && onhide[0].Payload.String("callid") == "c-9"
	}, time.Second, 5*time.Millisecond)

	if calls.current() != "" {
		t.Fatalf("tracked call = %q, want cleared", calls.current())
	}
	if !strings.Contains(out.String(), "[call] closed") {
		t.Fatalf("output = %q, want dialog closed", out.String())
	}
}

func TestReadTabCommandsStopsOnQuit(t *testing.T) {
	remote := &recordingRemote{}
	tabApp := newTabApp(t, remote)
	pg := page.New("https://crm.test", nil, nil)

	var out bytes.Buffer
	in := strings.NewReader("help\nbogus\nquit\nready\n")
	readTabCommands(context.Background(), in, &out, tabApp, pg, &callTracker{out: io.Discard})

	if !strings.Contains(out.String(), "commands:") || !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Fatalf("output = %q", out.String())
	}

	time.Sleep(20 * time.Millisecond)
	if got := len(remote.named(dialer.EventObserverReady)); got != 0 {
		t.Fatalf("ready after quit emitted %d events, want 0", got)
	}
}
