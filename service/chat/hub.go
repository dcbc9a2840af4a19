package chat

import (
	"context"
	"sort"
	"sync"

	"consultchat/module/consult/model"
)

// HistorySource 房间历史（Active 消息，createdAt 升序）
type HistorySource interface {
	History(ctx context.Context, roomID string) ([]*model.Message, error)
}

type hubRoom struct {
	mu      sync.Mutex // 同一房间的 join 回放与广播互斥，保证入队顺序
	members map[string]*WsConn
	dead    bool // 已从 Hub 摘除，持有旧指针的一方需重取
}

// Hub 按房间分组连接，是房间内广播的唯一出口
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]*hubRoom
	history HistorySource
	metrics Metrics
}

func NewHub(history HistorySource, m Metrics) *Hub {
	if m == nil {
		m = nopMetrics{}
	}
	return &Hub{rooms: make(map[string]*hubRoom), history: history, metrics: m}
}

// lockRoom 取房间并加锁；create=false 时房间不存在返回 nil
func (h *Hub) lockRoom(roomID string, create bool) *hubRoom {
	for {
		h.mu.Lock()
		r, ok := h.rooms[roomID]
		if !ok {
			if !create {
				h.mu.Unlock()
				return nil
			}
			r = &hubRoom{members: make(map[string]*WsConn)}
			h.rooms[roomID] = r
			h.metrics.RoomsActive(len(h.rooms))
		}
		h.mu.Unlock()

		r.mu.Lock()
		if !r.dead {
			return r
		}
		r.mu.Unlock()
	}
}

// Join binds c to roomID and enqueues the room history as initial-messages.
// The history is read after c became a member and while broadcasts to the
// room are held, so every later commit reaches c after its replay.
func (h *Hub) Join(ctx context.Context, c *WsConn, roomID string) ([]*model.Message, error) {
	fresh, err := c.bindRoom(roomID)
	if err != nil {
		return nil, err
	}

	r := h.lockRoom(roomID, true)
	_, member := r.members[c.ID]
	r.members[c.ID] = c
	msgs, err := h.history.History(ctx, roomID)
	if err != nil {
		// 重复加入失败时保留原有成员关系
		if !member {
			delete(r.members, c.ID)
		}
		r.mu.Unlock()
		if fresh {
			c.unbindRoom(roomID)
		}
		h.gc(roomID)
		return nil, err
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	c.Enqueue(Encode(EventInitialMessages, msgs))
	r.mu.Unlock()
	return msgs, nil
}

// Leave removes c from its room, if any.
func (h *Hub) Leave(c *WsConn) {
	roomID := c.RoomID()
	if roomID == "" {
		return
	}
	r := h.lockRoom(roomID, false)
	if r == nil {
		return
	}
	delete(r.members, c.ID)
	r.mu.Unlock()
	h.gc(roomID)
}

// gc 房间无人时摘除；锁顺序 h.mu -> r.mu
func (h *Hub) gc(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return
	}
	r.mu.Lock()
	if len(r.members) == 0 {
		r.dead = true
		delete(h.rooms, roomID)
		h.metrics.RoomsActive(len(h.rooms))
	}
	r.mu.Unlock()
}

// Broadcast delivers one frame to every member except exclude. Returns the
// number of connections the frame was queued on.
func (h *Hub) Broadcast(roomID, event string, payload any, exclude string) int {
	r := h.lockRoom(roomID, false)
	if r == nil {
		return 0
	}
	defer r.mu.Unlock()

	frame := Encode(event, payload) // 只序列化一次
	n := 0
	for id, c := range r.members {
		if id == exclude {
			continue
		}
		if c.Enqueue(frame) {
			n++
		}
	}
	h.metrics.BroadcastFrames(n)
	return n
}

// Typing 尽力而为：限流时直接丢弃
func (h *Hub) Typing(roomID string, from *WsConn) int {
	if !from.AllowTyping() {
		return 0
	}
	return h.Broadcast(roomID, EventTyping, from.ID, from.ID)
}

// Members 房间内连接 id，排序后返回
func (h *Hub) Members(roomID string) []string {
	h.mu.RLock()
	r, ok := h.rooms[roomID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
