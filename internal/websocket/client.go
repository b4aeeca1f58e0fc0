package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // 必须小于 pongWait

	// 客户端只发送控制帧
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// Client 订阅批次事件的 WebSocket 连接
type Client struct {
	ID     string
	UserID string

	// batchIDs 订阅的批次,为空表示订阅全部
	batchIDs []uint

	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	closed bool // 由 hub 在写锁内维护
	logger logrus.FieldLogger
}

func newClient(id, userID string, batchIDs []uint, hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:       id,
		UserID:   userID,
		batchIDs: batchIDs,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		logger: logrus.WithFields(logrus.Fields{
			"component": "websocket",
			"client_id": id,
			"user_id":   userID,
		}),
	}
}

// readPump 只处理心跳,读到错误即注销
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Warn("websocket closed unexpectedly")
			}
			return
		}
	}
}

// writePump 每个事件写一帧 JSON 文本
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
