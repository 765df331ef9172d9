// Package popup is the terminal rendition of the extension popup: layer
// navigation persisted through the background context and a dial pad.
package popup

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	LayerContacts = "contacts"
	LayerQueues   = "queues"
	LayerSettings = "settings"
	LayerDialer   = "dialer"
)

// Layers lists the popup layers in navigation order.
var Layers = []string{LayerContacts, LayerQueues, LayerSettings, LayerDialer}

var layerLabelKeys = map[string]string{
	LayerContacts: "layerContacts",
	LayerQueues:   "layerQueues",
	LayerSettings: "layerSettings",
	LayerDialer:   "layerDialer",
}

// Controller is what the popup needs from its execution context.
type Controller interface {
	Layer() string
	SetLayer(layer string)
	Dial(bNumber string)
	Authenticated() bool
	Logout()
}

// Labeler renders translated labels.
type Labeler interface {
	Title(key string) string
}

// stateChangedMsg is sent when the shared state tree changed elsewhere.
type stateChangedMsg struct{}

type model struct {
	controller Controller
	labels     Labeler
	theme      theme
	input      textinput.Model

	layer  string
	notice string
	errMsg string
	width  int
}

func newModel(controller Controller, labels Labeler) *model {
	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "phone number"
	in.CharLimit = 32

	m := &model{
		controller: controller,
		labels:     labels,
		theme:      defaultTheme(),
		input:      in,
		width:      72,
	}
	m.syncLayer()
	return m
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.input.Width = max(20, m.width-8)
		return m, nil
	case stateChangedMsg:
		m.syncLayer()
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+l":
			m.logout()
			return m, nil
		case "tab", "right":
			m.selectLayer(m.offsetLayer(1))
			return m, nil
		case "shift+tab", "left":
			m.selectLayer(m.offsetLayer(-1))
			return m, nil
		}

		if m.layer != LayerDialer {
			if layer, ok := layerForDigit(typed.String()); ok {
				m.selectLayer(layer)
			}
			return m, nil
		}

		if typed.String() == "enter" {
			m.submitDial()
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.layer == LayerDialer {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *model) View() string {
	width := max(40, m.width)

	header := m.theme.header.Width(width - 2).Render("☎ Click-to-dial")
	account := "signed out"
	if m.controller.Authenticated() {
		account = "signed in"
	}
	meta := m.theme.headerMeta.Render("account: " + account)
	line := m.theme.divider.Render(strings.Repeat("─", max(8, width-2)))

	tabs := make([]string, 0, len(Layers))
	for i, layer := range Layers {
		label := fmt.Sprintf("%d %s", i+1, m.label(layer))
		if layer == m.layer {
			tabs = append(tabs, m.theme.tabActive.Render(label))
			continue
		}
		tabs = append(tabs, m.theme.tab.Render(label))
	}

	parts := []string{header, meta, line, lipgloss.JoinHorizontal(lipgloss.Top, tabs...)}
	parts = append(parts, m.theme.body.Width(width-2).Render(m.layerBody()))

	switch {
	case m.errMsg != "":
		parts = append(parts, m.theme.statusErr.Render(m.errMsg))
	case m.notice != "":
		parts = append(parts, m.theme.status.Render(m.notice))
	}
	parts = append(parts, m.theme.hint.Render("Tab/←/→ switch layer · 1-4 jump · Enter dial · Ctrl+L log out · Esc quit"))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *model) layerBody() string {
	if m.layer != LayerDialer {
		return m.theme.placeholder.Render(m.label(m.layer))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.theme.inputLabel.Render(m.label(LayerDialer)),
		m.theme.input.Render(m.input.View()),
	)
}

func (m *model) label(layer string) string {
	key, ok := layerLabelKeys[layer]
	if !ok || m.labels == nil {
		return layer
	}
	return m.labels.Title(key)
}

func (m *model) selectLayer(layer string) {
	if layer == m.layer {
		return
	}

	m.layer = layer
	m.errMsg = ""
	m.notice = ""
	if layer == LayerDialer {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
	m.controller.SetLayer(layer)
}

func (m *model) syncLayer() {
	layer := m.controller.Layer()
	if _, ok := layerLabelKeys[layer]; !ok {
		layer = LayerContacts
	}
	if layer == m.layer {
		return
	}

	m.layer = layer
	if layer == LayerDialer {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *model) offsetLayer(step int) string {
	for i, layer := range Layers {
		if layer == m.layer {
			return Layers[(i+step+len(Layers))%len(Layers)]
		}
	}
	return Layers[0]
}

func (m *model) submitDial() {
	number := normalizeNumber(m.input.Value())
	if number == "" {
		m.errMsg = "enter a phone number first"
		return
	}
	if !m.controller.Authenticated() {
		m.errMsg = "sign in before dialing"
		return
	}

	m.controller.Dial(number)
	m.input.SetValue("")
	m.errMsg = ""
	m.notice = "dialing " + number
}

func (m *model) logout() {
	if !m.controller.Authenticated() {
		m.errMsg = "already signed out"
		return
	}

	m.controller.Logout()
	m.input.SetValue("")
	m.errMsg = ""
	m.notice = "signed out"
}

func layerForDigit(key string) (string, bool) {
	if len(key) != 1 || key[0] < '1' || key[0] > byte('0'+len(Layers)) {
		return "", false
	}
	return Layers[key[0]-'1'], true
}

// normalizeNumber keeps digits and a leading plus.
func normalizeNumber(raw string) string {
	raw = strings.TrimSpace(raw)

	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}

	number := b.String()
	if strings.Trim(number, "+") == "" {
		return ""
	}
	return number
}
