package dialer

import (
	"context"
	"fmt"

	"clicktodial/pkg/app"
	"clicktodial/pkg/browser"
	"clicktodial/pkg/bus"
)

func (d *Dialer) background(actions *app.Actions) error {
	log := actions.Log()

	// Tell the observer script of every open tab to annotate phone numbers.
	actions.On(EventLoginSuccess, func(bus.Event) error {
		if !actions.Store().Bool("c2d") || !actions.Env().Extension {
			return nil
		}
		if d.deps.Tabs == nil {
			return fmt.Errorf("%s: no tab querier configured", EventLoginSuccess)
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), d.deps.DialTimeout)
			defer cancel()

			tabs, err := d.deps.Tabs.QueryTabs(ctx)
			if err != nil {
				log.Warn("Failed to query tabs", "error", err)
				return
			}

			d.app.Post(func() {
				for _, tab := range tabs {
					if d.Blocked(tab.URL) {
						log.Debug("Skipping blocked tab", "tab_id", tab.ID, "url", tab.URL)
						continue
					}
					actions.Emit(EventObserverStart, bus.Payload{"frame": ObserverFrame}, bus.To(app.TabTarget(tab.ID)))
				}
			})
		}()

		return nil
	})

	// The call status dialog closed, stop polling for that call.
	actions.On(EventStatusOnHide, func(event bus.Event) error {
		var payload callPayload
		if err := d.decode(event, &payload); err != nil {
			return err
		}

		d.stopPoller(payload.CallID)
		return nil
	})

	// A tab that closed mid-call never sends onhide.
	actions.On(app.EventPeerGone, func(event bus.Event) error {
		var gone peerGone
		if err := d.decode(event, &gone); err != nil {
			return err
		}

		if stopped := d.StopPollers(gone.Context); len(stopped) > 0 {
			log.Info("Stopped status polling for closed context", "context", gone.Context, "calls", stopped)
		}
		return nil
	})

	actions.On(EventLogout, func(bus.Event) error {
		stopped := d.StopPollers("")
		log.Info("User logged out", "stopped_calls", len(stopped))
		return nil
	})

	actions.On(EventStatusStart, func(event bus.Event) error {
		var payload callPayload
		if err := d.decode(event, &payload); err != nil {
			return err
		}

		target := ""
		if _, ok := app.ParseTabTarget(event.Source); ok {
			target = event.Source
		}

		return d.startPoller(payload.CallID, target)
	})

	// Tabs get the call status dialog unless silent mode is forced; everyone
	// else gets a notification.
	actions.On(EventDial, func(event bus.Event) error {
		var req dialRequest
		if err := d.decode(event, &req); err != nil {
			return err
		}

		var tab *browser.Tab
		if !req.ForceSilent && actions.Env().Extension {
			tab = senderTab(req.Sender, event.Source)
		}
		d.dialAsync(req.BNumber, tab)

		if req.Analytics != "" && d.deps.Analytics != nil {
			d.deps.Analytics.TrackClickToDial(req.Analytics)
		}
		return nil
	})

	actions.On(EventObserverReady, func(event bus.Event) error {
		var payload observerReady
		if err := d.decode(event, &payload); err != nil {
			return err
		}

		d.DetermineObserve(event.Source, payload.Frame)
		return nil
	})

	if !actions.Env().Extension || d.deps.Menus == nil {
		return nil
	}

	d.deps.Menus.RemoveAll()
	d.deps.Menus.Create(browser.MenuItem{
		Contexts: []string{browser.ContextSelection},
		Title:    d.translate(contextMenuLabelKey),
		OnClick: func(info browser.ClickInfo, tab *browser.Tab) {
			d.dialAsync(info.SelectionText, tab)
			if d.deps.Analytics != nil {
				d.deps.Analytics.TrackClickToDial(WebpageSource)
			}
		},
	})

	actions.On(EventMenuClick, func(event bus.Event) error {
		var click menuClick
		if err := d.decode(event, &click); err != nil {
			return err
		}

		info := browser.ClickInfo{MenuItemID: click.MenuItemID, SelectionText: click.SelectionText}
		return d.deps.Menus.Click(info, senderTab(&sender{Tab: click.Tab}, event.Source))
	})

	return nil
}

func (d *Dialer) tab(actions *app.Actions) error {
	page := d.deps.Page

	actions.On(EventStatusShow, func(event bus.Event) error {
		var show showRequest
		if err := d.decode(event, &show); err != nil {
			return err
		}

		if err := page.ShowCallStatus(show.BNumber, show.Status); err != nil {
			return fmt.Errorf("show call status: %w", err)
		}
		d.mu.Lock()
		d.openCall = show.CallID
		d.mu.Unlock()

		if show.CallID != "" {
			actions.Emit(EventStatusStart, bus.Payload{"callid": show.CallID}, bus.To(app.BackgroundID))
		}
		return nil
	})

	// Updates for any call but the open one are late arrivals.
	actions.On(EventStatusUpdate, func(event bus.Event) error {
		callID := event.Payload.String("callid")

		d.mu.Lock()
		open := d.openCall
		d.mu.Unlock()

		if callID == "" || callID != open {
			actions.Log().Debug("Ignoring status update for another call", "callid", callID, "open_callid", open)
			return nil
		}
		page.UpdateCallStatus(event.Payload.String("status"))
		return nil
	})

	// The tab owns the dialog teardown, the background owns the timer. One
	// event bridges the two.
	actions.On(EventStatusHide, func(event bus.Event) error {
		for _, icon := range page.IconElements() {
			icon.SetDisabled(false)
		}
		page.RemoveCallStatus()

		d.mu.Lock()
		d.openCall = ""
		d.mu.Unlock()

		actions.Emit(EventStatusOnHide, event.Payload, bus.To(app.BackgroundID))
		return nil
	})

	return nil
}

func (d *Dialer) translate(key string) string {
	if d.deps.Translator == nil {
		return key
	}

	return d.deps.Translator.Translate(key)
}

// senderTab resolves the tab a request came from: the payload's sender tab,
// else the sending context when it is a tab.
func senderTab(s *sender, source string) *browser.Tab {
	if s != nil && s.Tab != nil {
		return &browser.Tab{ID: s.Tab.ID}
	}
	if id, ok := app.ParseTabTarget(source); ok {
		return &browser.Tab{ID: id}
	}

	return nil
}
