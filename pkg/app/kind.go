package app

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is the closed set of execution contexts a module can run in.
type Kind int

const (
	Background Kind = iota + 1
	Tab
	Popup
	Webview
)

// BackgroundID is the context id of the single background context.
const BackgroundID = "bg"

// EventPeerGone is delivered locally in the background context after a peer
// context disconnected. The payload carries its "context" id and "kind".
const EventPeerGone = "transport:peer.gone"

const tabTargetPrefix = "tab:"

var kindNames = map[Kind]string{
	Background: "background",
	Tab:        "tab",
	Popup:      "popup",
	Webview:    "electron_webview",
}

// Kinds lists every context kind in activation order.
func Kinds() []Kind {
	return []Kind{Background, Tab, Popup, Webview}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return "unknown"
}

// ParseKind maps a context name ("background", "tab", "popup",
// "electron_webview" or "webview") to its Kind.
func ParseKind(name string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "webview" {
		return Webview, nil
	}

	for kind, kindName := range kindNames {
		if kindName == normalized {
			return kind, nil
		}
	}

	return 0, fmt.Errorf("unknown context kind %q", name)
}

// TabTarget returns the context id used to address the content script of
// browser tab id.
func TabTarget(id int) string {
	return tabTargetPrefix + strconv.Itoa(id)
}

// ParseTabTarget extracts the browser tab id from a tab context id.
func ParseTabTarget(target string) (int, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(target), tabTargetPrefix)
	if !ok {
		return 0, false
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}

	return id, true
}
