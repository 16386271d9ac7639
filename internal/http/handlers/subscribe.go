package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"parcelflow/internal/domain"
	"parcelflow/internal/fanout"
	"parcelflow/internal/logx"
)

const (
	defaultPingEvery = 30 * time.Second
	writeWait        = 10 * time.Second
	maxInboundFrame  = 512
)

// SubscribeHandler upgrades GET /ws to a websocket session bound to one scope.
type SubscribeHandler struct {
	hub       eventSource
	logger    logx.Logger
	upgrader  websocket.Upgrader
	pingEvery time.Duration
}

// SubscribeOption configures a SubscribeHandler.
type SubscribeOption func(*SubscribeHandler)

// WithPingInterval overrides the keepalive ping period.
func WithPingInterval(d time.Duration) SubscribeOption {
	return func(h *SubscribeHandler) {
		if d > 0 {
			h.pingEvery = d
		}
	}
}

// NewSubscribeHandler creates a SubscribeHandler.
func NewSubscribeHandler(logger logx.Logger, hub eventSource, opts ...SubscribeOption) *SubscribeHandler {
	h := &SubscribeHandler{
		hub:       hub,
		logger:    orNop(logger),
		pingEvery: defaultPingEvery,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe handles GET /ws?scope=admin|customer:<id>.
// The session sees only events emitted after it joined.
func (h *SubscribeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	scope, err := domain.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		writeAppError(h.logger, w, r, err)
		return
	}

	// Join before the handshake completes so nothing emitted after the client sees 101 is missed.
	sub, err := h.hub.Subscribe(scope)
	if err != nil {
		if errors.Is(err, fanout.ErrClosed) {
			writeError(h.logger, w, r, http.StatusServiceUnavailable, "shutting down")
			return
		}
		writeAppError(h.logger, w, r, err)
		return
	}
	defer h.hub.Unsubscribe(sub)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	log := h.logger.With(
		logx.String("subscription_id", sub.ID()),
		logx.String("scope", scope.String()),
	)
	log.Info("subscriber joined")

	gone := make(chan struct{})
	go h.readPump(conn, gone)

	h.writePump(conn, sub, gone, log)
}

// readPump discards client frames; it exists to process pongs and notice disconnects.
func (h *SubscribeHandler) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	pongWait := 2 * h.pingEvery
	conn.SetReadLimit(maxInboundFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SubscribeHandler) writePump(conn *websocket.Conn, sub *fanout.Subscription, gone <-chan struct{}, log logx.Logger) {
	ticker := time.NewTicker(h.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				code, reason := websocket.CloseNormalClosure, "closed"
				if h.hub.Dropped(sub) {
					code, reason = websocket.CloseTryAgainLater, "subscriber too slow"
					log.Warn("subscriber dropped")
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(eventToFrame(ev)); err != nil {
				log.Info("subscriber write failed", logx.Err(err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Info("subscriber ping failed", logx.Err(err))
				return
			}
		case <-gone:
			log.Info("subscriber left")
			return
		}
	}
}
