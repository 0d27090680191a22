package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"message_center/middleware"
	"message_center/service"
	"message_center/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Redis Pub/Sub channel 名称
const redisBroadcastChannel = "ws:push"

const (
	publishTimeout  = 3 * time.Second
	markReadTimeout = 5 * time.Second
)

// Client WebSocket 客户端
type Client struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub
	mu     sync.Mutex
	closed bool // Send channel 是否已关闭
}

// Hub WebSocket 连接管理中心，向在线接收人实时推送消息
type Hub struct {
	// 在线用户 map[userID]map[clientID]*Client（支持多设备）
	clients map[string]map[string]*Client
	mu      sync.RWMutex

	// 每个用户的最大连接数
	MaxConnectionsPerUser int

	rdb        *redis.Client // 可为 nil，为 nil 时只推送本实例连接
	msgSvc     *service.MessageService
	logger     *slog.Logger
	podID      string // 跨实例广播去重
	stopPubSub chan struct{}
}

// BroadcastMessage 跨实例广播消息格式。
// Batch 按用户ID携带各自的推送内容；Batch 为空时 Payload 推送给所有在线用户
type BroadcastMessage struct {
	PodID   string            `json:"pod_id"`
	Payload []byte            `json:"payload,omitempty"`
	Batch   map[string][]byte `json:"batch,omitempty"`
}

// NewHub 创建 Hub
func NewHub(rdb *redis.Client, msgSvc *service.MessageService, logger *slog.Logger) *Hub {
	return &Hub{
		clients:               make(map[string]map[string]*Client),
		MaxConnectionsPerUser: 8,
		rdb:                   rdb,
		msgSvc:                msgSvc,
		logger:                logger,
		podID:                 uuid.NewString(),
		stopPubSub:            make(chan struct{}),
	}
}

// Register 注册客户端，超过连接数限制时拒绝
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	if h.clients[client.UserID] == nil {
		h.clients[client.UserID] = make(map[string]*Client)
	}
	if len(h.clients[client.UserID]) >= h.MaxConnectionsPerUser {
		h.mu.Unlock()

		h.logger.Warn("too many connections, rejecting",
			slog.String("user_id", client.UserID), slog.Int("max", h.MaxConnectionsPerUser))
		client.Conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many devices"))
		client.Conn.Close()
		return false
	}

	h.clients[client.UserID][client.ID] = client
	deviceCount := len(h.clients[client.UserID])
	h.mu.Unlock()

	h.logger.Info("user connected",
		slog.String("user_id", client.UserID), slog.String("client_id", client.ID), slog.Int("devices", deviceCount))
	return true
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if userClients, exists := h.clients[client.UserID]; exists {
		if _, found := userClients[client.ID]; found {
			delete(userClients, client.ID)
			if len(userClients) == 0 {
				delete(h.clients, client.UserID)
			}
		}
	}
	h.mu.Unlock()

	// 安全关闭 Send channel
	client.mu.Lock()
	if !client.closed {
		close(client.Send)
		client.closed = true
	}
	client.mu.Unlock()
}

// SendToUser 发送给指定用户的所有本地设备
func (h *Hub) SendToUser(userID string, message []byte) bool {
	h.mu.RLock()
	userClients := h.clients[userID]
	clientsCopy := make([]*Client, 0, len(userClients))
	for _, client := range userClients {
		clientsCopy = append(clientsCopy, client)
	}
	h.mu.RUnlock()

	sentToAny := false
	for _, client := range clientsCopy {
		if client.trySend(message) {
			sentToAny = true
		} else {
			h.logger.Warn("send channel full, closing connection",
				slog.String("user_id", userID), slog.String("client_id", client.ID))
			go h.Unregister(client)
		}
	}
	return sentToAny
}

// sendToAll 发送给所有本地在线用户
func (h *Hub) sendToAll(message []byte) int {
	h.mu.RLock()
	userIDs := make([]string, 0, len(h.clients))
	for userID := range h.clients {
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	sent := 0
	for _, userID := range userIDs {
		if h.SendToUser(userID, message) {
			sent++
		}
	}
	return sent
}

func (c *Client) trySend(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// IsUserOnline 用户是否有本地在线设备
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// NotifyUser 推送给单个用户
func (h *Hub) NotifyUser(userID string, payload interface{}) bool {
	return h.NotifyUsers(map[string]interface{}{userID: payload}) > 0
}

// NotifyUsers 推送给多个用户：先本地发送，再合并为一条消息发布到 Redis 让其他实例推送。
// 返回本地送达的用户数
func (h *Hub) NotifyUsers(payloads map[string]interface{}) int {
	batch := make(map[string][]byte, len(payloads))
	sent := 0
	for userID, payload := range payloads {
		data, ok := h.marshalPush(payload)
		if !ok {
			continue
		}
		batch[userID] = data
		if h.SendToUser(userID, data) {
			sent++
		}
	}
	if len(batch) > 0 {
		h.publish(BroadcastMessage{PodID: h.podID, Batch: batch})
	}
	return sent
}

// NotifyAll 广播消息推送给所有在线用户
func (h *Hub) NotifyAll(payload interface{}) int {
	data, ok := h.marshalPush(payload)
	if !ok {
		return 0
	}
	sent := h.sendToAll(data)
	h.publish(BroadcastMessage{PodID: h.podID, Payload: data})
	return sent
}

func (h *Hub) marshalPush(payload interface{}) ([]byte, bool) {
	data, err := json.Marshal(map[string]interface{}{
		"type": "push",
		"data": payload,
	})
	if err != nil {
		h.logger.Error("marshal push failed", slog.Any("error", err))
		return nil, false
	}
	return data, true
}

func (h *Hub) publish(msg BroadcastMessage) {
	if h.rdb == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.rdb.Publish(ctx, redisBroadcastChannel, data).Err(); err != nil {
		h.logger.Error("publish to redis failed", slog.Any("error", err))
	}
}

// StartPubSub 启动 Redis Pub/Sub 订阅（跨实例推送）
func (h *Hub) StartPubSub() {
	if h.rdb == nil {
		return
	}

	pubsub := h.rdb.Subscribe(context.Background(), redisBroadcastChannel)
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-h.stopPubSub:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				h.handleBroadcastMessage([]byte(msg.Payload))
			}
		}
	}()
}

// StopPubSub 停止 Redis Pub/Sub 订阅
func (h *Hub) StopPubSub() {
	close(h.stopPubSub)
}

// handleBroadcastMessage 处理来自其他实例的推送
func (h *Hub) handleBroadcastMessage(data []byte) {
	var msg BroadcastMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.logger.Error("invalid broadcast message", slog.Any("error", err))
		return
	}

	// 忽略自己发的消息
	if msg.PodID == h.podID {
		return
	}

	if len(msg.Batch) == 0 {
		h.sendToAll(msg.Payload)
		return
	}
	for userID, payload := range msg.Batch {
		h.SendToUser(userID, payload)
	}
}

// WSMessage 客户端上行消息
type WSMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// HandleWebSocket 升级 WebSocket 连接（token 通过 query 传递）
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if tokenString == "" {
			utils.Unauthorized(c, "missing token")
			return
		}

		info, err := middleware.ValidateToken(tokenString)
		if err != nil {
			utils.Unauthorized(c, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.Error("websocket upgrade failed", slog.String("user_id", info.UserID), slog.Any("error", err))
			return
		}

		client := &Client{
			ID:     uuid.NewString(),
			UserID: info.UserID,
			Conn:   conn,
			Send:   make(chan []byte, 256),
			Hub:    hub,
		}
		if !hub.Register(client) {
			return
		}

		go client.readPump()
		go client.writePump()
	}
}

// readPump 读取客户端消息：心跳与已读回执
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.Hub.logger.Warn("websocket closed unexpectedly", slog.String("user_id", c.UserID), slog.Any("error", err))
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			c.sendError("invalid JSON format")
			continue
		}

		switch wsMsg.Type {
		case "heartbeat":
			c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		case "read":
			c.handleMarkAsRead(wsMsg.Data)
		default:
			c.sendError("unsupported message type")
		}
	}
}

// writePump 向客户端写消息并定时 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMarkAsRead 已读回执
func (c *Client) handleMarkAsRead(data json.RawMessage) {
	var req struct {
		PushID string `json:"push_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.PushID == "" {
		c.sendError("push_id is required")
		return
	}
	if c.Hub.msgSvc == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()
	if err := c.Hub.msgSvc.MarkRead(ctx, c.UserID, req.PushID); err != nil {
		c.Hub.logger.Warn("mark push read failed",
			slog.String("user_id", c.UserID), slog.String("push_id", req.PushID), slog.Any("error", err))
		c.sendError(markReadErrorMessage(err))
		return
	}

	if data, err := json.Marshal(map[string]interface{}{
		"type": "read_ack",
		"data": map[string]string{"push_id": req.PushID},
	}); err == nil {
		c.trySend(data)
	}
}

// markReadErrorMessage 按错误类型返回固定的客户端提示，不暴露内部错误
func markReadErrorMessage(err error) string {
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return "push not found"
	case errors.Is(err, utils.ErrValidation):
		return "invalid request"
	default:
		return "internal error"
	}
}

func (c *Client) sendError(errMsg string) {
	data, err := json.Marshal(map[string]interface{}{
		"type": "error",
		"data": map[string]string{"message": errMsg},
	})
	if err != nil {
		return
	}
	c.trySend(data)
}
