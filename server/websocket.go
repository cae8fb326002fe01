package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/0xPolygonHermez/zkevm-txqueue/log"
	"github.com/0xPolygonHermez/zkevm-txqueue/types"
	"github.com/gorilla/websocket"
)

const (
	wsEndpoint               = "/ws"
	wsBufferSizeLimitInBytes = 1024
	wsWriteWait              = 10 * time.Second
	wsPongWait               = 60 * time.Second
	wsPingPeriod             = wsPongWait * 9 / 10
	defaultWSBufferSize      = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSizeLimitInBytes,
	WriteBufferSize: wsBufferSizeLimitInBytes,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket streams the queue and recovery events as JSON messages. The
// types query parameter filters the streamed events, e.g. /ws?types=transaction_failed,recovery_success
func (s *Server) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Debugf("websocket upgrade failed, error: %v", err)
		return
	}
	defer conn.Close()

	bufferSize := s.config.WebSocketBufferSize
	if bufferSize <= 0 {
		bufferSize = defaultWSBufferSize
	}
	events, unsubscribe := s.events.Subscribe(bufferSize, parseEventTypes(req.URL.Query().Get("types"))...)
	defer unsubscribe()

	log.Infof("websocket client %s connected", remoteAddr(req))
	defer log.Infof("websocket client %s disconnected", remoteAddr(req))

	closed := make(chan struct{})
	go readPump(conn, closed)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case e, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				log.Debugf("failed to write event to websocket client %s, error: %v", remoteAddr(req), err)
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards the client messages and closes the channel when the connection is gone
func readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debugf("websocket closed, error: %v", err)
			}
			return
		}
	}
}

func parseEventTypes(value string) []types.EventType {
	if value == "" {
		return nil
	}
	eventTypes := []types.EventType{}
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			eventTypes = append(eventTypes, types.EventType(t))
		}
	}
	return eventTypes
}
