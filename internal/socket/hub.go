package socket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire frame for both directions: a named event plus an
// application-defined JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Result is the body of every "<event>_result" response.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Hub owns all live connections and a presence registry keyed by user id, so
// settlement code can address a user directly instead of scanning sessions.
// It implements service.Notifier.
type Hub struct {
	log      *slog.Logger
	router   *Router
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	byUser map[int64]map[*Client]struct{}
}

// NewHub builds the hub. The router may be attached later with SetRouter,
// breaking the construction cycle between the hub (as Notifier) and the
// services the router dispatches to.
func NewHub(log *slog.Logger, router *Router) *Hub {
	return &Hub{
		log:    log,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The mini app is served from a Telegram webview origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		byUser: make(map[int64]map[*Client]struct{}),
	}
}

// SetRouter attaches the event router. Must be called before serving traffic.
func (h *Hub) SetRouter(router *Router) {
	h.router = router
}

// ServeHTTP upgrades the connection and starts the client's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade", "err", err)
		return
	}

	client := newClient(h, conn, userID)
	h.register(client)
	h.log.Info("client connected", "user", userID)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.byUser[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.byUser, c.userID)
	}
	close(c.send)
}

// SendToUser delivers an event to every live connection of one user.
// Best-effort: offline users and full send buffers are skipped.
func (h *Hub) SendToUser(userID int64, event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.log.Error("marshal unicast frame", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byUser[userID] {
		c.trySend(frame)
	}
}

// Broadcast delivers an event to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	frame, err := marshalFrame(event, payload)
	if err != nil {
		h.log.Error("marshal broadcast frame", "event", event, "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.byUser {
		for c := range set {
			c.trySend(frame)
		}
	}
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

func marshalFrame(event string, payload any) ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data,omitempty"`
	}{Event: event, Data: payload}
	return json.Marshal(env)
}
