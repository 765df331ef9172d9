// Package transport connects execution contexts running in separate
// processes. The background context hosts a websocket hub; tab, popup and
// webview contexts dial it and exchange bus events as JSON frames.
package transport

import (
	"errors"
	"time"

	"clicktodial/pkg/browser"
	"clicktodial/pkg/bus"
)

const (
	frameHello = "hello"
	frameEvent = "event"

	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxFrameSize = 64 * 1024

	sendBuffer = 256
)

var (
	// ErrClosed is returned when sending through a closed connection.
	ErrClosed = errors.New("transport closed")
	// ErrUnknownPeer is returned for events addressed to a context that is
	// not connected.
	ErrUnknownPeer = errors.New("unknown peer")
)

// Hello is the first frame a context sends after connecting.
type Hello struct {
	Context string       `json:"context"`
	Kind    string       `json:"kind"`
	Tab     *browser.Tab `json:"tab,omitempty"`
}

type frame struct {
	Type  string     `json:"type"`
	Hello *Hello     `json:"hello,omitempty"`
	Event *bus.Event `json:"event,omitempty"`
}
