package app

import (
	"context"
	"log/slog"
	"strings"

	"clicktodial/pkg/bus"
)

// ObserveEvents logs every event passing through the context bus until ctx
// ends. It reads from a bus tap, so a slow logger drops events instead of
// stalling handlers.
func ObserveEvents(ctx context.Context, a *App) {
	log := a.log.With("component", "bus.events")
	events, unsubscribe := a.bus.Tap(ctx, 32)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event", event.Name,
		"source", event.Source,
		"target", event.Target,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", map[string]any(event.Payload))
	}

	// Lifecycle of the call-status dialog is worth seeing at info; the rest
	// is chatter.
	switch {
	case strings.HasPrefix(event.Name, "dialer:status."), event.Name == "dialer:dial":
		log.Info("Event", attrs...)
	default:
		log.Debug("Event", attrs...)
	}
}
