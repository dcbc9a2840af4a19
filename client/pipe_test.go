package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/module/consult/store"
	"consultchat/service/chat"
	"consultchat/service/chat/handlers"
	"consultchat/tools/security"

	"github.com/stretchr/testify/require"
)

// ===== 进程内服务端 =====

type tokens map[string]*security.Claims

func (v tokens) Verify(token string) (*security.Claims, error) {
	c, ok := v[token]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return c, nil
}

func int64p(v int64) *int64 { return &v }

type env struct {
	st  *store.MemoryStore
	svc *service.MutationService
	srv *chat.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutDoctor(ctx, &model.Doctor{ID: 7, UserID: "u7", Name: "Dr. Seven"}))
	require.NoError(t, st.CreateRoom(ctx, &model.Room{ID: "R", DoctorID: 7, PatientName: "Ann", Status: model.RoomActive, CreatedAt: time.Now()}))

	svc := service.NewMutationService(st)
	var n int64
	srv := chat.NewServer(chat.Deps{
		Verifier:  tokens{"doc7": {Subject: "u7", Role: security.RoleDoctor, DoctorID: int64p(7)}},
		Doctors:   st,
		Mutations: svc,
		NewConnID: func() string { return fmt.Sprintf("conn-%d", atomic.AddInt64(&n, 1)) },
	})
	handlers.RegisterAll(srv)
	svc.OnCommit(srv.OnMutation)
	t.Cleanup(srv.Close)
	return &env{st: st, svc: svc, srv: srv}
}

func (e *env) persisted(t *testing.T) []*model.Message {
	t.Helper()
	msgs, err := e.st.ListActive(context.Background(), "R")
	require.NoError(t, err)
	return msgs
}

// pipeDialer 直接把帧交给 chat.Server，可模拟断网和丢帧
type pipeDialer struct {
	srv     *chat.Server
	token   string
	offline atomic.Bool
	dials   atomic.Int32

	mu   sync.Mutex
	cur  *pipeTransport
	drop func(f inbound) bool
	sent map[string]int // 客户端发出的帧，按事件计数
}

func (d *pipeDialer) Dial(ctx context.Context) (Transport, error) {
	if d.offline.Load() {
		return nil, errors.New("network down")
	}
	d.dials.Add(1)
	c := d.srv.Connect(ctx, d.token, "pipe")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cur = &pipeTransport{srv: d.srv, conn: c, drop: d.drop, dialer: d}
	return d.cur, nil
}

func (d *pipeDialer) count(event string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sent == nil {
		d.sent = make(map[string]int)
	}
	d.sent[event]++
}

func (d *pipeDialer) sentCount(event string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[event]
}

// reconnect 断开当前连接，等客户端重新拨号并加入房间
func (d *pipeDialer) reconnect(t *testing.T, cl *Client) {
	t.Helper()
	before := d.dials.Load()
	d.cut()
	require.Eventually(t, func() bool { return !cl.Connected() }, 2*time.Second, 5*time.Millisecond)
	d.offline.Store(false)
	require.Eventually(t, func() bool { return d.dials.Load() > before && cl.Connected() }, 2*time.Second, 5*time.Millisecond)
}

func (d *pipeDialer) setDrop(fn func(f inbound) bool) {
	d.mu.Lock()
	d.drop = fn
	d.mu.Unlock()
}

// cut 断开当前连接并阻止重连
func (d *pipeDialer) cut() {
	d.offline.Store(true)
	d.mu.Lock()
	cur := d.cur
	d.mu.Unlock()
	if cur != nil {
		_ = cur.Close()
	}
}

type pipeTransport struct {
	srv    *chat.Server
	conn   *chat.WsConn
	drop   func(f inbound) bool
	dialer *pipeDialer
	once   sync.Once
}

func (p *pipeTransport) ReadMessage() ([]byte, error) {
	for {
		select {
		case <-p.conn.Done():
			return nil, errors.New("closed")
		case b := <-p.conn.Outbound():
			if p.drop != nil {
				var f inbound
				if json.Unmarshal(b, &f) == nil && p.drop(f) {
					continue
				}
			}
			return b, nil
		}
	}
}

func (p *pipeTransport) WriteMessage(data []byte) error {
	if p.conn.Closed() {
		return errors.New("closed")
	}
	var f inbound
	if json.Unmarshal(data, &f) == nil {
		p.dialer.count(f.Event)
	}
	p.srv.HandleFrame(context.Background(), p.conn, data)
	return nil
}

func (p *pipeTransport) Close() error {
	p.once.Do(func() { p.srv.Disconnect(p.conn) })
	return nil
}

// ===== 客户端 =====

func startClient(t *testing.T, d Dialer, opts Options) *Client {
	t.Helper()
	opts.RoomID = "R"
	opts.MinBackoff = 5 * time.Millisecond
	opts.MaxBackoff = 20 * time.Millisecond
	cl := New(d, opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = cl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cl
}

func waitConnected(t *testing.T, cl *Client) {
	t.Helper()
	require.Eventually(t, cl.Connected, 2*time.Second, 5*time.Millisecond)
}

func waitSettled(t *testing.T, cl *Client) {
	t.Helper()
	require.Eventually(t, func() bool { return len(cl.Pending()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func containsClientMsgID(data json.RawMessage) bool {
	var ack chat.Ack
	return json.Unmarshal(data, &ack) == nil && ack.ClientMsgID != ""
}

func deleteAs(id model.Identity, messageID string) service.DeleteRequest {
	return service.DeleteRequest{
		Requester: model.Requester{Identity: id, ConnID: id.ConnID, RoomID: "R"},
		MessageID: messageID,
	}
}
