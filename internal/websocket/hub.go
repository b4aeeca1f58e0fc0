package websocket

import (
	"sync"
)

// broadcastBuffer 待分发事件的缓冲大小
const broadcastBuffer = 256

type batchEvent struct {
	batchID uint
	data    []byte
}

// Hub 管理 WebSocket 连接,按批次订阅分发事件
// 未指定批次的客户端接收全部事件
type Hub struct {
	mu         sync.RWMutex
	all        map[*Client]struct{}
	byBatch    map[uint]map[*Client]struct{}
	broadcast  chan batchEvent
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewHub 创建新的 Hub
func NewHub() *Hub {
	return &Hub{
		all:        make(map[*Client]struct{}),
		byBatch:    make(map[uint]map[*Client]struct{}),
		broadcast:  make(chan batchEvent, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stop:       make(chan struct{}),
	}
}

// Run 运行 Hub,直到调用 Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.add(client)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)

		case <-h.stop:
			h.mu.Lock()
			for client := range h.all {
				h.remove(client)
			}
			for _, subscribers := range h.byBatch {
				for client := range subscribers {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(client.batchIDs) == 0 {
		h.all[client] = struct{}{}
		return
	}
	for _, id := range client.batchIDs {
		subscribers, ok := h.byBatch[id]
		if !ok {
			subscribers = make(map[*Client]struct{})
			h.byBatch[id] = subscribers
		}
		subscribers[client] = struct{}{}
	}
}

// remove 调用方必须持有写锁,重复调用安全
func (h *Hub) remove(client *Client) {
	if client.closed {
		return
	}
	client.closed = true
	delete(h.all, client)
	for _, id := range client.batchIDs {
		delete(h.byBatch[id], client)
		if len(h.byBatch[id]) == 0 {
			delete(h.byBatch, id)
		}
	}
	close(client.send)
}

func (h *Hub) deliver(ev batchEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	push := func(client *Client) {
		select {
		case client.send <- ev.data:
		default:
			slow = append(slow, client)
		}
	}
	for client := range h.all {
		push(client)
	}
	for client := range h.byBatch[ev.batchID] {
		push(client)
	}
	// 发送缓冲已满的客户端直接断开
	for _, client := range slow {
		h.remove(client)
	}
}

// PublishBatchEvent 广播批次事件,缓冲已满时丢弃并返回 false
func (h *Hub) PublishBatchEvent(batchID uint, data []byte) bool {
	select {
	case h.broadcast <- batchEvent{batchID: batchID, data: data}:
		return true
	default:
		return false
	}
}

// Stop 停止 Hub 并关闭所有客户端
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]struct{}, len(h.all))
	for client := range h.all {
		seen[client] = struct{}{}
	}
	for _, subscribers := range h.byBatch {
		for client := range subscribers {
			seen[client] = struct{}{}
		}
	}
	return len(seen)
}

// SubscriberCount 返回会收到该批次事件的客户端数量
func (h *Hub) SubscriberCount(batchID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all) + len(h.byBatch[batchID])
}
