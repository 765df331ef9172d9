package browser

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Notification is a passive desktop notification.
type Notification struct {
	Title   string
	Message string
	At      time.Time
}

// Notifications shows notifications by logging them and keeps the recent
// ones for inspection.
type Notifications struct {
	log   *slog.Logger
	limit int

	mu   sync.Mutex
	sent []Notification
}

func NewNotifications(log *slog.Logger, limit int) *Notifications {
	if log == nil {
		log = slog.Default()
	}
	if limit <= 0 {
		limit = 20
	}

	return &Notifications{log: log.With("component", "browser.notifications"), limit: limit}
}

// Notify shows a notification.
func (n *Notifications) Notify(title, message string) {
	n.mu.Lock()
	n.sent = append(n.sent, Notification{Title: title, Message: message, At: time.Now().UTC()})
	if len(n.sent) > n.limit {
		n.sent = slices.Delete(n.sent, 0, len(n.sent)-n.limit)
	}
	n.mu.Unlock()

	n.log.Info(title, "message", message)
}

// Recent returns the kept notifications, oldest first.
func (n *Notifications) Recent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	return slices.Clone(n.sent)
}
