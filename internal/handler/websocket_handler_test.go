package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"micropython-service/internal/protocol/prototest"
)

type wsMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func dialExec(t *testing.T, env *testEnv) (*websocket.Conn, *WebSocketHandler) {
	t.Helper()
	h := NewWebSocketHandler(env.service, []string{"*"}, zap.NewNop())
	router := gin.New()
	router.GET("/ws/exec", h.HandleExecConnection)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		h.Close()
		server.Close()
	})

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/exec"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	first := readMessage(t, conn)
	require.Equal(t, "status", first.Type)
	return conn, h
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketExecStreamsOutput(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	conn, _ := dialExec(t, env)

	require.NoError(t, conn.WriteJSON(gin.H{
		"type":       "exec",
		"request_id": "r1",
		"data":       gin.H{"code": "print(123)"},
	}))

	var streamed strings.Builder
	for {
		msg := readMessage(t, conn)
		assert.Equal(t, "r1", msg.RequestID)
		if msg.Type == "output" {
			var out struct {
				Text string `json:"text"`
			}
			require.NoError(t, json.Unmarshal(msg.Data, &out))
			streamed.WriteString(out.Text)
			continue
		}
		require.Equal(t, "result", msg.Type, string(msg.Data))
		var result ExecResponse
		require.NoError(t, json.Unmarshal(msg.Data, &result))
		assert.Equal(t, "123\r\n", result.Stdout)
		break
	}
	assert.Contains(t, streamed.String(), "OK123\r\n\x04")
}

func TestWebSocketCommands(t *testing.T) {
	env := newTestEnv(t)
	conn, h := dialExec(t, env)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "ping"}))
	assert.Equal(t, "pong", readMessage(t, conn).Type)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "exec", "data": gin.H{"code": "print(123)"}}))
	msg := readMessage(t, conn)
	require.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Data), "NOT_CONNECTED")

	require.NoError(t, conn.WriteJSON(gin.H{"type": "exec", "data": gin.H{}}))
	msg = readMessage(t, conn)
	require.Equal(t, "error", msg.Type)
	assert.Contains(t, string(msg.Data), "BAD_MESSAGE")

	require.NoError(t, conn.WriteJSON(gin.H{"type": "dance"}))
	assert.Equal(t, "error", readMessage(t, conn).Type)

	env.connect(t)
	require.NoError(t, conn.WriteJSON(gin.H{"type": "interrupt", "request_id": "i1"}))
	msg = readMessage(t, conn)
	assert.Equal(t, "ack", msg.Type)
	assert.Equal(t, "i1", msg.RequestID)

	assert.Eventually(t, func() bool {
		return h.GetConnectionStats().TotalConnections == 1
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketStopPreemptsRun(t *testing.T) {
	env := newTestEnv(t)
	env.connect(t)
	env.board.SetExec(func(string) prototest.Result {
		return prototest.Result{Hang: true}
	})
	conn, _ := dialExec(t, env)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "exec", "request_id": "run", "data": gin.H{"code": "loop()"}}))
	assert.Eventually(t, func() bool {
		return env.service.Status().Pending != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(gin.H{"type": "stop", "request_id": "stop"}))

	seen := map[string]string{}
	for len(seen) < 2 {
		msg := readMessage(t, conn)
		if msg.Type == "output" {
			continue
		}
		seen[msg.RequestID] = msg.Type
		if msg.RequestID == "run" {
			assert.Contains(t, string(msg.Data), "PREEMPTED")
		}
	}
	assert.Equal(t, "error", seen["run"])
	assert.Equal(t, "ack", seen["stop"])
}

func TestWebSocketRejectsForeignOrigin(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodGet, "/ws/exec", nil)
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))
}
