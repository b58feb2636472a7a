package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smallnest/releasedash/errors"
	"github.com/smallnest/releasedash/internal/logger"
	"go.uber.org/zap"
)

const (
	wsWriteWait    = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingInterval = wsPongWait * 9 / 10
	wsBuffer       = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

func (h *Handler) registerEventRoutes() {
	h.mux.HandleFunc("GET /ws", h.handleEvents)
}

// handleEvents streams bus events to a websocket client until either side
// goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil || h.events.IsClosed() {
		h.writeError(w, r, errors.NotFound("event stream"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := h.events.Subscribe(wsBuffer)
	defer sub.Unsubscribe()

	log := logger.Component("gateway").With(
		zap.String("subscription", sub.ID),
		zap.String("remote", r.RemoteAddr))
	log.Info("Event stream opened")
	defer log.Info("Event stream closed")

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				writeClose(conn, websocket.CloseGoingAway)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug("Event write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-h.closing:
			writeClose(conn, websocket.CloseGoingAway)
			return
		case <-gone:
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
}
