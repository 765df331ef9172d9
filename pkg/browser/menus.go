// Package browser holds the in-process stand-ins for the browser extension
// APIs the background context talks to: tabs, context menus and
// notifications.
package browser

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ContextSelection is the menu context shown when the user right-clicks
// selected text.
const ContextSelection = "selection"

// ErrUnknownMenuItem is returned by Click for an id that is not registered.
var ErrUnknownMenuItem = errors.New("unknown context menu item")

// Tab is an open browser tab.
type Tab struct {
	ID    int    `json:"id"`
	URL   string `json:"url,omitempty"`
	Title string `json:"title,omitempty"`
}

// ClickInfo describes a context menu click.
type ClickInfo struct {
	MenuItemID    string `json:"menuItemId,omitempty"`
	SelectionText string `json:"selectionText"`
}

// MenuItem is one right-click menu entry.
type MenuItem struct {
	ID       string
	Contexts []string
	Title    string
	OnClick  func(ClickInfo, *Tab)
}

// ContextMenus keeps the registered right-click menu entries.
type ContextMenus struct {
	log *slog.Logger

	mu    sync.Mutex
	items []MenuItem
}

func NewContextMenus(log *slog.Logger) *ContextMenus {
	if log == nil {
		log = slog.Default()
	}

	return &ContextMenus{log: log.With("component", "browser.menus")}
}

// RemoveAll drops every registered entry.
func (m *ContextMenus) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = nil
}

// Create registers item and returns its id. An empty id gets a generated one.
func (m *ContextMenus) Create(item MenuItem) string {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Contexts = slices.Clone(item.Contexts)

	m.mu.Lock()
	m.items = append(m.items, item)
	m.mu.Unlock()

	m.log.Debug("Context menu item created", "id", item.ID, "title", item.Title, "contexts", item.Contexts)
	return item.ID
}

// Items returns the registered entries in creation order.
func (m *ContextMenus) Items() []MenuItem {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.items)
}

// Click runs the click handler of the entry named by info.MenuItemID. With
// an empty id every entry shown for selections is clicked.
func (m *ContextMenus) Click(info ClickInfo, tab *Tab) error {
	var targets []MenuItem
	for _, item := range m.Items() {
		switch {
		case info.MenuItemID != "" && item.ID == info.MenuItemID:
			targets = append(targets, item)
		case info.MenuItemID == "" && slices.Contains(item.Contexts, ContextSelection):
			targets = append(targets, item)
		}
	}
	if len(targets) == 0 {
		return ErrUnknownMenuItem
	}

	for _, item := range targets {
		if item.OnClick != nil {
			info.MenuItemID = item.ID
			item.OnClick(info, tab)
		}
	}

	return nil
}
