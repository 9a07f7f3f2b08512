package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/reson8/reson8/server/go/internal/v1/logging"
	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

const (
	// The server pings every pingPeriod; a client that fails to pong
	// within pongTimeout after that is cut.
	pingPeriod  = 10 * time.Second
	pongTimeout = 5 * time.Second
	pongWait    = pingPeriod + pongTimeout

	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// wsConnection is the slice of *websocket.Conn the pumps need; tests
// substitute a mock.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// readPump reads frames off the wire and dispatches them one at a time, so
// a session's events are always processed in arrival order.
func (s *Session) readPump() {
	defer func() {
		s.hub.handleDisconnect(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Warn(s.logContext(context.Background()), "websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logging.Warn(s.logContext(context.Background()), "discarding malformed frame", zap.Error(err))
			continue
		}
		s.hub.dispatch(s, env)
	}
}

// writePump drains the send buffer and keeps the connection alive with
// pings. It owns all writes; nothing else touches the connection.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-s.send:
			if !ok {
				_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Warn(s.logContext(context.Background()), "write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
