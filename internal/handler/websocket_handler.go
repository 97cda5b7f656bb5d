// internal/handler/websocket_handler.go
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"micropython-service/internal/service"
	"micropython-service/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// WebSocketHandler streams code execution over WebSocket
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	connections  *ConnectionManager
	boardService *service.BoardService
	logger       *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler. allowedOrigins
// follows the CORS setting; "*" accepts any origin.
func NewWebSocketHandler(boardService *service.BoardService, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	return &WebSocketHandler{
		upgrader:     upgrader,
		connections:  NewConnectionManager(),
		boardService: boardService,
		logger:       utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// HandleExecConnection upgrades the request and serves exec commands
// @Summary Streaming execution
// @Description Send {"type":"exec","data":{"code":"..."}}; receive "output" fragments then a "result"
// @Tags Board
// @Router /ws/exec [get]
func (h *WebSocketHandler) HandleExecConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := newClient(uuid.New().String(), conn, c.Request.UserAgent(), c.Request.RemoteAddr)
	h.connections.Register(client)
	h.logger.Info("Exec WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type:      "status",
		Data:      h.boardService.Status(),
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// Close disconnects all WebSocket clients.
func (h *WebSocketHandler) Close() {
	h.connections.Close()
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Exec WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadLimit(maxFrameSize)
	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message inboundMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "", "BAD_MESSAGE", fmt.Sprintf("invalid message: %v", err))
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-client.done:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *inboundMessage) {
	switch message.Type {
	case "exec":
		var payload execPayload
		if err := json.Unmarshal(message.Data, &payload); err != nil || payload.Code == "" {
			h.sendError(client, message.RequestID, "BAD_MESSAGE", "exec requires data.code")
			return
		}
		// Runs concurrently so stop and interrupt stay responsive.
		go h.execute(client, message.RequestID, payload.Code)
	case "interrupt":
		h.control(client, message.RequestID, "interrupt", h.boardService.Interrupt)
	case "stop":
		h.control(client, message.RequestID, "stop", h.boardService.Stop)
	case "status":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "status",
			Data:      h.boardService.Status(),
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
			RequestID: message.RequestID,
		})
	default:
		h.sendError(client, message.RequestID, "BAD_MESSAGE", fmt.Sprintf("unknown message type: %s", message.Type))
	}
}

// execute runs code and streams raw device output before the parsed result.
func (h *WebSocketHandler) execute(client *Client, requestID, code string) {
	onChunk := func(fragment []byte) {
		h.sendMessage(client, &WebSocketMessage{
			Type:      "output",
			Data:      gin.H{"text": string(fragment)},
			Timestamp: time.Now(),
			RequestID: requestID,
		})
	}

	frame, err := h.boardService.Exec(client.ctx, code, onChunk)
	if err != nil {
		_, errCode := classifyError(err)
		h.sendError(client, requestID, errCode, err.Error())
		return
	}

	h.sendMessage(client, &WebSocketMessage{
		Type:      "result",
		Data:      newExecResponse(frame),
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

func (h *WebSocketHandler) control(client *Client, requestID, name string, fn func(context.Context) error) {
	if err := fn(client.ctx); err != nil {
		_, errCode := classifyError(err)
		h.sendError(client, requestID, errCode, err.Error())
		return
	}
	h.sendMessage(client, &WebSocketMessage{
		Type:      "ack",
		Data:      gin.H{"command": name},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}

// sendMessage queues a message for the client. Messages for a disconnected
// client are dropped.
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case <-client.done:
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
			zap.String("type", message.Type),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, requestID, code, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: "error",
		Data: gin.H{
			"code":  code,
			"error": errorMsg,
		},
		Timestamp: time.Now(),
		RequestID: requestID,
	})
}
