package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"clicktodial/pkg/app"
	"clicktodial/pkg/browser"
	"clicktodial/pkg/bus"

	"github.com/gorilla/websocket"
)

// Hub is the background side of the transport. It implements bus.Remote for
// the background context and routes events between connected peers.
type Hub struct {
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	peers      map[string]*peer
	background *app.App
	startedAt  time.Time
	closed     bool
}

type peer struct {
	id   string
	kind app.Kind
	tab  *browser.Tab
	conn *websocket.Conn
	send chan frame

	done      chan struct{}
	closeOnce sync.Once
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}

	return &Hub{
		log: log.With("component", "transport.hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers are local processes; the hub listens on loopback.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		peers:     make(map[string]*peer),
		startedAt: time.Now().UTC(),
	}
}

// Attach makes a the background context served by the hub.
func (h *Hub) Attach(a *app.App) {
	h.mu.Lock()
	h.background = a
	h.mu.Unlock()

	a.SetRemote(h)
}

// Send forwards an event emitted by the background context.
func (h *Hub) Send(event bus.Event) error {
	if event.Target == "" {
		h.broadcast(event, event.Source)
		return nil
	}

	return h.sendTo(event.Target, event)
}

// QueryTabs lists the connected tab contexts ordered by tab id.
func (h *Hub) QueryTabs(context.Context) ([]browser.Tab, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrClosed
	}

	tabs := make([]browser.Tab, 0, len(h.peers))
	for _, p := range h.peers {
		if p.kind != app.Tab {
			continue
		}

		tab := browser.Tab{}
		if p.tab != nil {
			tab = *p.tab
		}
		if id, ok := app.ParseTabTarget(p.id); ok {
			tab.ID = id
		}
		tabs = append(tabs, tab)
	}

	slices.SortFunc(tabs, func(a, b browser.Tab) int { return a.ID - b.ID })
	return tabs, nil
}

// PeerCount reports the connected contexts.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Handler serves the peer endpoint and the status probes.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/port", h.handlePort)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReady)
	return mux
}

// Serve listens on addr until ctx ends, then closes every peer.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		h.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	h.log.Info("Hub started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start hub server: %w", err)
	}
	return nil
}

// Close disconnects every peer. The hub rejects new peers afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[string]*peer)
	h.closed = true
	h.mu.Unlock()

	for _, p := range peers {
		p.close()
	}
}

func (h *Hub) handlePort(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Peer upgrade failed", "error", err)
		return
	}

	p, err := h.handshake(conn)
	if err != nil {
		h.log.Warn("Peer handshake rejected", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	if !h.register(p) {
		p.close()
		return
	}

	go p.writePump(h.log)
	h.readPump(p)
}

func (h *Hub) handshake(conn *websocket.Conn) (*peer, error) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(writeWait))

	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if hello.Type != frameHello || hello.Hello == nil {
		return nil, fmt.Errorf("expected %s frame, got %q", frameHello, hello.Type)
	}

	id := hello.Hello.Context
	if id == "" {
		return nil, errors.New("context id is required")
	}
	if id == app.BackgroundID {
		return nil, errors.New("context id is reserved")
	}

	kind, err := app.ParseKind(hello.Hello.Kind)
	if err != nil {
		return nil, err
	}
	if kind == app.Background {
		return nil, errors.New("background context cannot join as a peer")
	}
	if kind == app.Tab {
		if _, ok := app.ParseTabTarget(id); !ok {
			return nil, fmt.Errorf("tab context id %q is not a tab target", id)
		}
	}

	return &peer{
		id:   id,
		kind: kind,
		tab:  hello.Hello.Tab,
		conn: conn,
		send: make(chan frame, sendBuffer),
		done: make(chan struct{}),
	}, nil
}

func (h *Hub) register(p *peer) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	previous := h.peers[p.id]
	h.peers[p.id] = p
	total := len(h.peers)
	h.mu.Unlock()

	if previous != nil {
		h.log.Info("Peer replaced", "peer", p.id)
		previous.close()
	}
	h.log.Info("Peer connected", "peer", p.id, "kind", p.kind.String(), "total_peers", total)
	return true
}

// unregister drops p. The background hears about it unless p was replaced by
// a reconnect or the hub is shutting down.
func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	removed := false
	if current, ok := h.peers[p.id]; ok && current == p {
		delete(h.peers, p.id)
		removed = !h.closed
	}
	total := len(h.peers)
	h.mu.Unlock()

	p.close()
	h.log.Info("Peer disconnected", "peer", p.id, "total_peers", total)

	if removed {
		h.deliverBackground(bus.Event{
			Name:    app.EventPeerGone,
			Source:  app.BackgroundID,
			Payload: bus.Payload{"context": p.id, "kind": p.kind.String()},
		})
	}
}

func (h *Hub) readPump(p *peer) {
	defer h.unregister(p)

	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var in frame
		if err := p.conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("Peer read error", "peer", p.id, "error", err)
			}
			return
		}
		if in.Type != frameEvent || in.Event == nil || in.Event.Name == "" {
			h.log.Debug("Ignoring peer frame", "peer", p.id, "type", in.Type)
			continue
		}

		h.route(p, *in.Event)
	}
}

// route delivers an event received from p. Peers cannot spoof their source.
func (h *Hub) route(p *peer, event bus.Event) {
	event.Source = p.id

	switch event.Target {
	case app.BackgroundID:
		h.deliverBackground(event)
	case "":
		h.deliverBackground(event)
		h.broadcast(event, p.id)
	default:
		if err := h.sendTo(event.Target, event); err != nil {
			h.log.Debug("Dropping relayed event", "event", event.Name, "from", p.id, "target", event.Target, "error", err)
		}
	}
}

func (h *Hub) deliverBackground(event bus.Event) {
	h.mu.RLock()
	background := h.background
	h.mu.RUnlock()

	if background == nil {
		h.log.Debug("Dropping event without background context", "event", event.Name)
		return
	}

	Deliverer(background)(event)
}

func (h *Hub) broadcast(event bus.Event, except string) {
	h.mu.RLock()
	targets := make([]*peer, 0, len(h.peers))
	for id, p := range h.peers {
		if id != except {
			targets = append(targets, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.enqueue(p, event)
	}
}

func (h *Hub) sendTo(target string, event bus.Event) error {
	h.mu.RLock()
	p, ok := h.peers[target]
	closed := h.closed
	h.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}

	return h.enqueue(p, event)
}

func (h *Hub) enqueue(p *peer, event bus.Event) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	select {
	case p.send <- frame{Type: frameEvent, Event: &event}:
		return nil
	case <-p.done:
		return ErrClosed
	default:
		h.log.Warn("Peer buffer full, disconnecting", "peer", p.id)
		p.close()
		return fmt.Errorf("peer %s is not keeping up", p.id)
	}
}

func (p *peer) writePump(log *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.close()
	}()

	for {
		select {
		case <-p.done:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case out := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(out); err != nil {
				log.Debug("Peer write failed", "peer", p.id, "error", err)
				return
			}

		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		// Give the write pump a moment to send the close frame.
		time.AfterFunc(100*time.Millisecond, func() { _ = p.conn.Close() })
	})
}

type statusResponse struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Peers         map[string]int `json:"peers"`
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.respondStatus(w, http.StatusOK, "ok")
}

func (h *Hub) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !h.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	h.respondStatus(w, statusCode, status)
}

func (h *Hub) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := h.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("Failed to write status response", "error", err)
	}
}

func (h *Hub) currentStatus(status string) statusResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peers := make(map[string]int)
	for _, p := range h.peers {
		peers[p.kind.String()]++
	}

	return statusResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Peers:         peers,
	}
}

func (h *Hub) isReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.background != nil && !h.closed
}

// Deliverer returns a function handing inbound events to a's task loop.
func Deliverer(a *app.App) func(bus.Event) {
	return func(event bus.Event) {
		if !a.Post(func() { a.Bus().Deliver(event) }) {
			a.Log().Debug("Dropping event for closed context", "event", event.Name)
		}
	}
}
