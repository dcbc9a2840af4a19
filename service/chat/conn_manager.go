package chat

import (
	"sort"
	"sync"
	"time"

	"consultchat/module/consult/model"
	"consultchat/tools/errs"

	"golang.org/x/time/rate"
)

// ===== 配置 =====

type ConnConf struct {
	SendBuffer     int           // 每连接发送队列长度
	EventsPerSec   float64       // 入站事件限速
	EventBurst     int           //
	TypingInterval time.Duration // typing 最小间隔
	ReadLimit      int64         // 单帧上限（字节）
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	AllowedOrigins []string // 空表示不校验
	Clock          func() time.Time
}

func (c *ConnConf) norm() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.EventsPerSec <= 0 {
		c.EventsPerSec = 20
	}
	if c.EventBurst <= 0 {
		c.EventBurst = 40
	}
	if c.TypingInterval <= 0 {
		c.TypingInterval = 300 * time.Millisecond
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 64 << 10
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// ===== 数据结构 =====

// WsConn 一条逻辑连接。身份在建立时确定，之后只会绑定一次房间。
type WsConn struct {
	ID        string
	Identity  model.Identity
	Remote    string
	CreatedAt time.Time

	mu     sync.Mutex
	roomID string

	send      chan []byte // 每连接独立发送队列，由写协程消费
	done      chan struct{}
	closeOnce sync.Once

	events *rate.Limiter
	typing *rate.Limiter

	onOverflow func(*WsConn)
}

func newWsConn(id string, ident model.Identity, remote string, conf ConnConf) *WsConn {
	return &WsConn{
		ID:        id,
		Identity:  ident,
		Remote:    remote,
		CreatedAt: conf.Clock(),
		send:      make(chan []byte, conf.SendBuffer),
		done:      make(chan struct{}),
		events:    rate.NewLimiter(rate.Limit(conf.EventsPerSec), conf.EventBurst),
		typing:    rate.NewLimiter(rate.Every(conf.TypingInterval), 1),
	}
}

func (c *WsConn) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

// bindRoom 一条连接终身只属于一个房间；重复加入同一房间允许
func (c *WsConn) bindRoom(roomID string) (fresh bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.roomID {
	case "":
		c.roomID = roomID
		return true, nil
	case roomID:
		return false, nil
	default:
		return false, errs.ErrInvalidState.WrapMsg("connection already joined another room", "roomId", c.roomID)
	}
}

func (c *WsConn) unbindRoom(roomID string) {
	c.mu.Lock()
	if c.roomID == roomID {
		c.roomID = ""
	}
	c.mu.Unlock()
}

// Requester 当前连接作为变更发起方
func (c *WsConn) Requester() model.Requester {
	return model.Requester{Identity: c.Identity, ConnID: c.ID, RoomID: c.RoomID()}
}

// Enqueue never blocks. A full queue means the peer cannot keep up: the
// connection is closed so the client reconnects and resyncs from history.
func (c *WsConn) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		if c.onOverflow != nil {
			c.onOverflow(c)
		}
		c.Close()
		return false
	}
}

// Outbound 写协程读取
func (c *WsConn) Outbound() <-chan []byte { return c.send }

func (c *WsConn) Done() <-chan struct{} { return c.done }

func (c *WsConn) Close() { c.closeOnce.Do(func() { close(c.done) }) }

func (c *WsConn) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WsConn) AllowEvent() bool { return c.events.Allow() }

func (c *WsConn) AllowTyping() bool { return c.typing.Allow() }

// ===== ConnManager =====

// ConnManager 全部存活连接：connID -> WsConn。全局事件（在线状态）从这里扇出。
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*WsConn
}

func NewConnManager() *ConnManager {
	return &ConnManager{byConn: make(map[string]*WsConn)}
}

func (m *ConnManager) Add(c *WsConn) {
	m.mu.Lock()
	m.byConn[c.ID] = c
	m.mu.Unlock()
}

func (m *ConnManager) Remove(id string) (*WsConn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byConn[id]
	if ok {
		delete(m.byConn, id)
	}
	return c, ok
}

func (m *ConnManager) Get(id string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byConn[id]
	return c, ok
}

func (m *ConnManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

// Snapshot 按 connID 排序的快照
func (m *ConnManager) Snapshot() []*WsConn {
	m.mu.RLock()
	out := make([]*WsConn, 0, len(m.byConn))
	for _, c := range m.byConn {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll 进程退出时调用
func (m *ConnManager) CloseAll() {
	for _, c := range m.Snapshot() {
		c.Close()
	}
}
