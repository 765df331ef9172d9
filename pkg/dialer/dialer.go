// Package dialer places calls for numbers found on web pages and runs the
// call-status dialog lifecycle between the background and tab contexts.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"clicktodial/pkg/app"
	"clicktodial/pkg/browser"
	"clicktodial/pkg/bus"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
)

const (
	defaultPollInterval = time.Second
	defaultDialTimeout  = 15 * time.Second

	// StatusDialing is the status shown before the backend reports one.
	StatusDialing = "dialing"
)

// ContextMenus registers right-click menu entries.
type ContextMenus interface {
	RemoveAll()
	Create(item browser.MenuItem) string
	Click(info browser.ClickInfo, tab *browser.Tab) error
}

// TabQuerier lists the open browser tabs.
type TabQuerier interface {
	QueryTabs(ctx context.Context) ([]browser.Tab, error)
}

// Analytics records click-to-dial usage.
type Analytics interface {
	TrackClickToDial(source string)
}

// Translator looks up display strings.
type Translator interface {
	Translate(key string) string
}

// Caller talks to the VoIP backend.
type Caller interface {
	Dial(ctx context.Context, bNumber string) (string, error)
	Status(ctx context.Context, callID string) (string, error)
}

// Notifier shows passive notifications.
type Notifier interface {
	Notify(title, message string)
}

// Element is a click-to-dial icon in the page.
type Element interface {
	SetDisabled(disabled bool)
}

// Page is the DOM of the tab the content script runs in.
type Page interface {
	IconElements() []Element
	ShowCallStatus(bNumber, status string) error
	UpdateCallStatus(status string)
	RemoveCallStatus()
}

// Deps are the collaborators of a Dialer. Background contexts need Menus,
// Tabs, Analytics, Translator, Caller and Notifier; tab contexts need Page.
type Deps struct {
	Menus      ContextMenus
	Tabs       TabQuerier
	Analytics  Analytics
	Translator Translator
	Caller     Caller
	Notifier   Notifier
	Page       Page

	PollInterval time.Duration
	DialTimeout  time.Duration
	// BlockedURLs are glob patterns of tab URLs that never get icons.
	BlockedURLs []string
	Log         *slog.Logger
}

// Dialer is the dialer feature of one context.
type Dialer struct {
	app  *app.App
	deps Deps
	log  *slog.Logger

	blocked  []glob.Glob
	validate *validator.Validate

	mu sync.Mutex
	// calls maps the call id of every status poller to the context its
	// updates go to. Background only.
	calls map[string]string
	// openCall is the call id of the dialog shown in this tab.
	openCall string
}

// New builds the dialer for context a.
func New(a *app.App, deps Deps) (*Dialer, error) {
	if a == nil {
		return nil, errors.New("app is required")
	}

	switch a.Kind() {
	case app.Background:
		if deps.Caller == nil {
			return nil, errors.New("caller is required in the background context")
		}
		if deps.Notifier == nil {
			return nil, errors.New("notifier is required in the background context")
		}
	case app.Tab:
		if deps.Page == nil {
			return nil, errors.New("page is required in the tab context")
		}
	}

	if deps.PollInterval <= 0 {
		deps.PollInterval = defaultPollInterval
	}
	if deps.DialTimeout <= 0 {
		deps.DialTimeout = defaultDialTimeout
	}

	blocked := make([]glob.Glob, 0, len(deps.BlockedURLs))
	for _, pattern := range deps.BlockedURLs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked url pattern %q: %w", pattern, err)
		}
		blocked = append(blocked, g)
	}

	log := deps.Log
	if log == nil {
		log = a.Log()
	}

	return &Dialer{
		app:      a,
		deps:     deps,
		log:      log.With("component", "dialer"),
		blocked:  blocked,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		calls:    make(map[string]string),
	}, nil
}

// Blocked reports whether pages at url must not get click-to-dial icons.
func (d *Dialer) Blocked(url string) bool {
	if url == "" {
		return false
	}
	for _, g := range d.blocked {
		if g.Match(url) {
			return true
		}
	}

	return false
}

// Module returns the dialer module record.
func (d *Dialer) Module() app.Module {
	return app.Module{
		Name:       "dialer",
		Background: d.background,
		Tab:        d.tab,
	}
}

// Dial places a call to bNumber. With a tab the call status dialog is shown
// in that tab; without one the user gets a notification. Call it off the
// context loop: it blocks on the backend.
func (d *Dialer) Dial(ctx context.Context, bNumber string, tab *browser.Tab) error {
	bNumber = strings.TrimSpace(bNumber)
	if bNumber == "" {
		return errors.New("b number is required")
	}

	callID, err := d.deps.Caller.Dial(ctx, bNumber)
	if err != nil {
		d.deps.Notifier.Notify("Call failed", fmt.Sprintf("Could not call %s: %v", bNumber, err))
		return fmt.Errorf("dial %s: %w", bNumber, err)
	}

	d.log.Info("Call placed", "b_number", bNumber, "callid", callID, "has_tab", tab != nil)

	if tab == nil {
		d.deps.Notifier.Notify("Calling", fmt.Sprintf("Calling %s", bNumber))
		return nil
	}

	target := app.TabTarget(tab.ID)
	d.app.Post(func() {
		d.app.Bus().Emit(EventStatusShow, bus.Payload{
			"bNumber": bNumber,
			"status":  StatusDialing,
			"callid":  callID,
		}, bus.To(target))
	})

	return nil
}

// dialAsync runs Dial on its own goroutine so the context loop keeps going.
func (d *Dialer) dialAsync(bNumber string, tab *browser.Tab) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.deps.DialTimeout)
		defer cancel()

		if err := d.Dial(ctx, bNumber, tab); err != nil {
			d.log.Warn("Dial failed", "error", err)
		}
	}()
}

// DetermineObserve tells the tab identified by target to start observing the
// DOM in frame when click-to-dial is enabled and the user is logged in.
func (d *Dialer) DetermineObserve(target, frame string) bool {
	store := d.app.Store()
	if !store.Bool("c2d") || !store.Bool("user.authenticated") {
		return false
	}
	if frame == "" {
		frame = ObserverFrame
	}

	d.app.Bus().Emit(EventObserverStart, bus.Payload{"frame": frame}, bus.To(target))
	return true
}

// startPoller starts polling the status of callID for target. A registered
// poller keeps its handler, so it keeps its target too.
func (d *Dialer) startPoller(callID, target string) error {
	if err := d.app.Timers().Start(StatusTimerID(callID), d.deps.PollInterval, d.poller(callID, target)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.calls[callID]; !ok {
		d.calls[callID] = target
	}
	return nil
}

// stopPoller stops and forgets the poller of callID.
func (d *Dialer) stopPoller(callID string) {
	id := StatusTimerID(callID)
	if d.app.Timers().Registered(id) {
		d.app.Timers().Stop(id)
		d.app.Timers().Unregister(id)
	}

	d.mu.Lock()
	delete(d.calls, callID)
	d.mu.Unlock()
}

// StopPollers stops every status poller reporting to target, or every poller
// when target is empty. It returns the call ids that were stopped.
func (d *Dialer) StopPollers(target string) []string {
	d.mu.Lock()
	var callIDs []string
	for callID, owner := range d.calls {
		if target == "" || owner == target {
			callIDs = append(callIDs, callID)
		}
	}
	d.mu.Unlock()

	if target == "" {
		for _, id := range d.app.Timers().IDs() {
			if callID, ok := strings.CutPrefix(id, statusTimerPrefix); ok && !slices.Contains(callIDs, callID) {
				callIDs = append(callIDs, callID)
			}
		}
	}

	slices.Sort(callIDs)
	for _, callID := range callIDs {
		d.stopPoller(callID)
	}
	return callIDs
}

// PollerTarget reports the context the updates of callID go to.
func (d *Dialer) PollerTarget(callID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	target, ok := d.calls[callID]
	return target, ok
}

// poller builds the timer function that refreshes the status of callID and
// reports it to target. A poll still waiting on the backend skips the tick.
func (d *Dialer) poller(callID, target string) func() {
	var inflight atomic.Bool

	return func() {
		if !inflight.CompareAndSwap(false, true) {
			return
		}

		go func() {
			defer inflight.Store(false)

			ctx, cancel := context.WithTimeout(context.Background(), d.deps.DialTimeout)
			defer cancel()

			status, err := d.deps.Caller.Status(ctx, callID)
			if err != nil {
				d.log.Warn("Call status poll failed", "callid", callID, "error", err)
				return
			}

			d.app.Post(func() {
				if !d.app.Timers().Active(StatusTimerID(callID)) {
					return
				}

				var opts []bus.EmitOption
				if target != "" {
					opts = append(opts, bus.To(target))
				}
				d.app.Bus().Emit(EventStatusUpdate, bus.Payload{"callid": callID, "status": status}, opts...)
			})
		}()
	}
}

func (d *Dialer) decode(event bus.Event, out any) error {
	if err := bus.Decode(event.Payload, out); err != nil {
		return fmt.Errorf("%s: %w", event.Name, err)
	}
	if err := d.validate.Struct(out); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", event.Name, err)
	}

	return nil
}
