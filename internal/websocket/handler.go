package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"peerline/internal/hub"
	"peerline/internal/obs"
	"peerline/internal/registry"
	"peerline/pkg/types"
)

const identifyTimeout = 10 * time.Second

// Handler upgrades HTTP requests to WebSockets, runs the identify handshake
// and pumps decoded frames into the hub.
type Handler struct {
	conns        *registry.Registry
	hub          *hub.Hub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewHandler creates the WebSocket endpoint handler.
func NewHandler(conns *registry.Registry, h *hub.Hub, pingInterval, readTimeout, writeTimeout time.Duration) *Handler {
	return &Handler{
		conns: conns,
		hub:   h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from arbitrary origins; auth is the
			// identify handshake, not the Origin header.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// frame is the minimal envelope every inbound message must carry.
type frame struct {
	Type string `json:"type"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		obs.Log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.writeTimeout)

	reg, err := h.identify(ws, conn)
	if err != nil {
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: err.Error()})
		// Give the writer a moment to flush the rejection before closing.
		time.Sleep(100 * time.Millisecond)
		_ = conn.Close()
		return
	}

	obs.Log.WithField("conn_id", reg.ID).WithField("role", string(reg.Role)).WithField("user_id", reg.UserID).Info("connection identified")

	stopPing := make(chan struct{})
	go h.pingLoop(conn, stopPing)

	h.readLoop(ws, conn, reg.ID)

	close(stopPing)
	h.hub.Disconnect(reg.ID)
	_ = conn.Close()
}

// identify enforces the first-frame handshake: the client has one chance,
// within the deadline, to present a valid role, user id and name.
func (h *Handler) identify(ws *websocket.Conn, conn *Connection) (registry.Connection, error) {
	_ = ws.SetReadDeadline(time.Now().Add(identifyTimeout))

	_, data, err := ws.ReadMessage()
	if err != nil {
		return registry.Connection{}, ErrIdentifyRequired
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Type != types.EventIdentify {
		return registry.Connection{}, ErrIdentifyRequired
	}

	var payload types.Identify
	if err := json.Unmarshal(data, &payload); err != nil {
		return registry.Connection{}, ErrIdentifyRequired
	}

	return h.conns.Register(payload.Role, payload.UserID, payload.Name, conn)
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Connection, connID string) {
	_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				obs.Log.WithError(err).WithField("conn_id", connID).Debug("read loop closed")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.readTimeout))
		h.dispatch(conn, connID, data)
	}
}

// dispatch decodes one frame into its typed payload and hands it to the hub.
func (h *Handler) dispatch(conn *Connection, connID string, data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: "invalid JSON frame"})
		return
	}

	var payload any
	var err error
	switch f.Type {
	case types.EventJoinQueue:
		var p types.JoinQueue
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventAvailable:
		var p types.Available
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventAccept:
		var p types.Accept
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventDecline:
		var p types.Decline
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventSessionStart:
		var p types.SessionStart
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventEndSession:
		var p types.EndSession
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventSafetyAlert:
		var p types.SafetyAlertReport
		err = json.Unmarshal(data, &p)
		payload = p
	case types.EventIdentify:
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: "already identified"})
		return
	default:
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: "unknown event type"})
		return
	}
	if err != nil {
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: "malformed payload"})
		return
	}

	if err := h.hub.Dispatch(hub.Event{ConnID: connID, Type: f.Type, Payload: payload}); err != nil {
		obs.Log.WithError(err).WithField("conn_id", connID).Warn("event dropped")
		_ = conn.WriteJSON(types.ErrorEvent{Type: types.EventError, Error: "server busy, try again"})
	}
}

func (h *Handler) pingLoop(conn *Connection, stop chan struct{}) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
