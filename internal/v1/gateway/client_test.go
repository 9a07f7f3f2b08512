package gateway

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/reson8/reson8/server/go/internal/v1/protocol"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

// fakeConn scripts the read side and records the write side so the pumps can
// run without a network.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes []writtenFrame
	closed bool
}

type writtenFrame struct {
	messageType int
	data        []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, writtenFrame{messageType, data})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) written() []writtenFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]writtenFrame, len(c.writes))
	copy(out, c.writes)
	return out
}

func TestPumps_DispatchAndTeardown(t *testing.T) {
	f := newFixture(t)
	conn := newFakeConn()

	s := &Session{
		id:   "pump-session",
		hub:  f.hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	f.hub.mu.Lock()
	f.hub.sessions[s.id] = s
	f.hub.mu.Unlock()

	done := make(chan struct{})
	go s.writePump()
	go func() {
		s.readPump()
		close(done)
	}()

	join, _ := json.Marshal(protocol.Envelope{
		Event: protocol.EventJoinServer,
		Data:  mustMarshal(protocol.JoinServerRequest{UserID: "u1", Nickname: "alice"}),
		AckID: 1,
	})
	conn.inbound <- join
	conn.inbound <- []byte("not json") // malformed frames are skipped
	close(conn.inbound)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("read pump did not exit")
	}

	// The ack made it onto the wire before the close frame
	require.Eventually(t, func() bool {
		for _, w := range conn.written() {
			if w.messageType == websocket.CloseMessage {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	var sawAck bool
	for _, w := range conn.written() {
		if w.messageType != websocket.TextMessage {
			continue
		}
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(w.data, &env))
		if env.Event == protocol.EventAck {
			var ack protocol.AckResult
			require.NoError(t, json.Unmarshal(env.Data, &ack))
			assert.True(t, ack.Success, ack.Error)
			assert.Equal(t, int64(1), ack.AckID)
			sawAck = true
		}
	}
	assert.True(t, sawAck, "expected an ack frame on the wire")

	assert.Equal(t, 0, f.hub.SessionCount())
}

func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

func TestServeWs_EndToEnd(t *testing.T) {
	f := newFixture(t)

	router := gin.New()
	router.GET("/ws", f.hub.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	join, _ := json.Marshal(protocol.Envelope{
		Event: protocol.EventJoinServer,
		Data:  mustMarshal(protocol.JoinServerRequest{UserID: "u1", Nickname: "alice"}),
		AckID: 1,
	})
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, join))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	require.Equal(t, protocol.EventAck, env.Event)

	var ack protocol.AckResult
	require.NoError(t, json.Unmarshal(env.Data, &ack))
	assert.True(t, ack.Success, ack.Error)
	assert.Equal(t, int64(1), ack.AckID)

	require.NoError(t, conn.Close())

	// The hub notices the close and tears the session down
	require.Eventually(t, func() bool {
		return f.hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWs_OriginRejected(t *testing.T) {
	f := newFixture(t)
	f.hub.upgrader.CheckOrigin = originChecker([]string{"https://app.example.com"})

	router := gin.New()
	router.GET("/ws", f.hub.ServeWs)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	headers := map[string][]string{"Origin": {"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, headers)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)

	// Allowed origin connects fine
	headers["Origin"] = []string{"https://app.example.com"}
	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool {
		return f.hub.SessionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
