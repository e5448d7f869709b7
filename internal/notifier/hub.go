package notifier

import (
	"context"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"scle/internal/scriptconfig"
)

// Notification panel lifecycle over a websocket, grounded on the
// teacher's internal/gateway/handler/rpc/user_interaction.go upgrade/
// ping-pong/writer-goroutine shape. Every subscribed client sees every
// panel event; inbound accept/dismiss messages are routed back to the
// callbacks registered by Show, which the hub invokes synchronously on
// the connection's read goroutine -- no message queue sits between the
// hub and the engine.
const (
	panelWSWriteWait = 10 * time.Second
	panelWSPongWait  = 60 * time.Second
	panelWSPingEvery = (panelWSPongWait * 9) / 10
)

var panelWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// PanelEvent is the outbound message shape pushed to subscribed
// clients.
type PanelEvent struct {
	Type    string `json:"type"` // "suggested" | "applied" | "dismissed"
	FileKey string `json:"fileKey"`
}

type panelInbound struct {
	Type    string `json:"type"` // "accept" | "dismiss" | "ping"
	FileKey string `json:"fileKey"`
}

type callbacks struct {
	onAccept  func()
	onDismiss func()
}

// Hub is the websocket-backed Notification Panel. It satisfies
// collaborators.NotificationPanel.
type Hub struct {
	mu      sync.Mutex
	pending map[scriptconfig.FileKey]callbacks
	clients map[*client]struct{}
}

type client struct {
	writeCh chan PanelEvent
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{
		pending: make(map[scriptconfig.FileKey]callbacks),
		clients: make(map[*client]struct{}),
	}
}

// Show registers the accept/dismiss callbacks for fileKey and
// broadcasts a "suggested" event to every subscribed client.
func (h *Hub) Show(fileKey scriptconfig.FileKey, onAccept, onDismiss func()) {
	h.mu.Lock()
	h.pending[fileKey] = callbacks{onAccept: onAccept, onDismiss: onDismiss}
	h.mu.Unlock()
	h.broadcast(PanelEvent{Type: "suggested", FileKey: string(fileKey)})
}

// Hide clears the panel for fileKey and, if one was showing, broadcasts
// "applied". The updater calls Hide around an apply and also when a
// reload yields a configuration equal to the applied one; the event does
// not tell these cases apart.
func (h *Hub) Hide(fileKey scriptconfig.FileKey) {
	h.mu.Lock()
	_, had := h.pending[fileKey]
	delete(h.pending, fileKey)
	h.mu.Unlock()
	if had {
		h.broadcast(PanelEvent{Type: "applied", FileKey: string(fileKey)})
	}
}

// Has reports whether fileKey currently has a visible panel.
func (h *Hub) Has(fileKey scriptconfig.FileKey) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[fileKey]
	return ok
}

func (h *Hub) broadcast(evt PanelEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.writeCh <- evt:
		default:
		}
	}
}

func (h *Hub) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// dispatch looks up and fires the callback for fileKey, or reports false
// if nothing is pending (e.g. a stale click against an
// already-superseded suggestion). A dismiss also clears the entry; an
// accept leaves it for the Hide call the accept callback makes.
func (h *Hub) dispatch(fileKey scriptconfig.FileKey, accept bool) bool {
	h.mu.Lock()
	cb, ok := h.pending[fileKey]
	h.mu.Unlock()
	if !ok {
		return false
	}
	if accept {
		if cb.onAccept != nil {
			cb.onAccept()
		}
	} else {
		if cb.onDismiss != nil {
			cb.onDismiss()
		}
		h.mu.Lock()
		delete(h.pending, fileKey)
		h.mu.Unlock()
		h.broadcast(PanelEvent{Type: "dismissed", FileKey: string(fileKey)})
	}
	return true
}

// ServeWS upgrades the request to a websocket subscriber of panel
// events, and accepts inbound accept/dismiss messages.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := panelWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(panelWSPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(panelWSPongWait))
	})

	c := &client{writeCh: make(chan PanelEvent, 32)}
	h.addClient(c)
	defer h.removeClient(c)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(panelWSPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-c.writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(panelWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(evt); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(panelWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in panelInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		fileKey := scriptconfig.FileKey(strings.TrimSpace(in.FileKey))
		switch msgType {
		case "ping":
			select {
			case c.writeCh <- PanelEvent{Type: "pong"}:
			default:
			}
		case "accept":
			if !h.dispatch(fileKey, true) {
				log.Printf("notifier: accept for unknown or superseded file %q", fileKey)
			}
		case "dismiss":
			if !h.dispatch(fileKey, false) {
				log.Printf("notifier: dismiss for unknown or superseded file %q", fileKey)
			}
		}
	}
}
