package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport 一条已建立的双向消息连接
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a new Transport; Run calls it on every (re)connect.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WSDialer gorilla 实现，令牌走 query 参数
type WSDialer struct {
	URL       string // ws://host:port/ws
	Token     string
	Header    http.Header
	WriteWait time.Duration
}

func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	if d.Token != "" {
		q := u.Query()
		q.Set("token", d.Token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		return nil, err
	}
	ww := d.WriteWait
	if ww <= 0 {
		ww = 10 * time.Second
	}
	return &wsTransport{conn: conn, writeWait: ww}, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	wmu       sync.Mutex // gorilla 只允许一个并发写
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, b, err := t.conn.ReadMessage()
	return b, err
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.wmu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	t.wmu.Unlock()
	return t.conn.Close()
}
