package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"consultchat/logger"
	"consultchat/module/consult/model"
	"consultchat/service/chat"
	"consultchat/tools/errs"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrAckTimeout     = errors.New("client: ack timeout")
	ErrUnknownMessage = errors.New("client: unknown message")
)

// RejectedError is a negative ack from the server.
type RejectedError struct {
	Code string
	Msg  string
}

func (e *RejectedError) Error() string { return "client: rejected " + e.Code + ": " + e.Msg }

// IsCode reports whether err is a rejection carrying reason code, e.g.
// IsCode(err, errs.ErrForbidden.Reason).
func IsCode(err error, code string) bool {
	var re *RejectedError
	return errors.As(err, &re) && re.Code == code
}

type Options struct {
	RoomID string
	// AckTimeout 为 0 时一直等到断线
	AckTimeout time.Duration
	// ContentMatchFallback 服务端不回传 clientMsgId 时按内容对齐草稿
	ContentMatchFallback bool
	MinBackoff           time.Duration
	MaxBackoff           time.Duration
	// OnChange 本地视图变化后回调（在读协程里调用，别阻塞）
	OnChange func()
	// OnEvent 收到存储之外的事件：在线状态、typing、room-status
	OnEvent func(event string, data json.RawMessage)
}

func (o *Options) fill() {
	if o.MinBackoff <= 0 {
		o.MinBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 10 * time.Second
	}
	if o.MaxBackoff < o.MinBackoff {
		o.MaxBackoff = o.MinBackoff
	}
}

// Client keeps one room's optimistic message list in sync with the server
// across reconnects.
type Client struct {
	opts   Options
	dialer Dialer
	store  *Store
	log    *zap.Logger

	mu      sync.Mutex
	tr      Transport
	gen     uint64
	joined  uint64 // join-room 成功的代次
	nextAck int64
	waiting map[int64]chan *chat.Ack

	pumpMu sync.Mutex // 同一时刻只有一个操作在途
}

func New(d Dialer, opts Options) *Client {
	opts.fill()
	return &Client{
		opts:    opts,
		dialer:  d,
		store:   NewStore(opts.RoomID, opts.ContentMatchFallback),
		log:     logger.Named("client").With(zap.String("room", opts.RoomID)),
		waiting: make(map[int64]chan *chat.Ack),
	}
}

func (c *Client) Messages() []Entry { return c.store.Messages() }

func (c *Client) Pending() []PendingOp { return c.store.Pending() }

// Connected reports whether the room has been joined on a live connection.
func (c *Client) Connected() bool {
	_, ok := c.current()
	return ok
}

// ===== 连接循环 =====

// Run dials, joins the room and replays pending operations, reconnecting with
// capped exponential backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		tr, err := c.dialer.Dial(ctx)
		if err == nil {
			start := time.Now()
			err = c.serve(ctx, tr)
			if time.Since(start) > c.opts.MaxBackoff {
				backoff = c.opts.MinBackoff
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Debug("connection lost", zap.Error(err), zap.Duration("retry", backoff))
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
		if backoff > c.opts.MaxBackoff {
			backoff = c.opts.MaxBackoff
		}
	}
}

func (c *Client) serve(ctx context.Context, tr Transport) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.tr = tr
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		err := c.readLoop(tr)
		c.detach(gen) // 读端断开后等待中的 ack 立即失败
		done <- err
	}()
	defer c.detach(gen)

	ack, err := c.request(ctx, gen, chat.EventJoinRoom, c.opts.RoomID)
	if err == nil && !ack.Success {
		err = &RejectedError{Code: ack.Code, Msg: ack.Error}
	}
	if err != nil {
		_ = tr.Close()
		<-done
		return pkgerrors.Wrap(err, "join room")
	}
	c.mu.Lock()
	if c.gen == gen {
		c.joined = gen
	}
	c.mu.Unlock()
	c.log.Debug("joined", zap.Uint64("gen", gen))

	go func() { _ = c.flush(ctx, gen) }()

	select {
	case <-ctx.Done():
		_ = tr.Close()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// detach 断线：丢弃等待中的 ack，在途操作留给下一条连接重放
func (c *Client) detach(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.tr == nil {
		return
	}
	_ = c.tr.Close()
	c.tr = nil
	for id, ch := range c.waiting {
		close(ch)
		delete(c.waiting, id)
	}
}

func (c *Client) current() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, c.tr != nil && c.joined == c.gen
}

// ===== 本地操作 =====

// Send appends an optimistic message and pushes it if connected. The returned
// entry is the latest local view; ErrNotConnected means it stays pending
// until the next connection.
func (c *Client) Send(ctx context.Context, d Draft) (Entry, error) {
	id := c.store.addCreate(d)
	c.changed()
	return c.settle(ctx, id, id)
}

// Edit changes content optimistically. id may be a server id or a local id.
func (c *Client) Edit(ctx context.Context, id, content string) (Entry, error) {
	opID, err := c.store.addEdit(id, content)
	if err != nil {
		return Entry{}, err
	}
	c.changed()
	return c.settle(ctx, opID, id)
}

// Delete removes the message from the local view and queues the delete.
func (c *Client) Delete(ctx context.Context, id string) error {
	opID, err := c.store.addDelete(id)
	if err != nil {
		return err
	}
	c.changed()
	_, err = c.settle(ctx, opID, "")
	return err
}

// Retry re-queues an operation the server rejected and pushes it again if
// connected. localID is the PendingOp.LocalID.
func (c *Client) Retry(ctx context.Context, localID string) (Entry, error) {
	entryID, err := c.store.retry(localID)
	if err != nil {
		return Entry{}, err
	}
	c.changed()
	return c.settle(ctx, localID, entryID)
}

// Discard drops a pending operation and rolls back its local effect: a draft
// disappears, an edit restores the previous content, a delete brings the
// message back.
func (c *Client) Discard(localID string) error {
	if err := c.store.discard(localID); err != nil {
		return err
	}
	c.changed()
	return nil
}

func (c *Client) settle(ctx context.Context, opID, entryID string) (Entry, error) {
	gen, ok := c.current()
	var err error
	if !ok {
		err = ErrNotConnected
	} else {
		err = c.flush(ctx, gen)
	}
	if err == nil && opID != "" {
		err = c.store.lastErr(opID)
	}
	var e Entry
	if entryID != "" {
		e, _ = c.store.Entry(entryID)
	}
	return e, err
}

// flush sends every operation not yet sent on connection gen, in enqueue
// order, one at a time.
func (c *Client) flush(ctx context.Context, gen uint64) error {
	c.pumpMu.Lock()
	defer c.pumpMu.Unlock()
	for {
		op, ok := c.store.claim(gen)
		if !ok {
			return nil
		}
		if err := c.push(ctx, gen, op); err != nil {
			if terminal(err) {
				c.store.reject(op.LocalID, err)
				c.changed()
				continue
			}
			c.store.fail(op.LocalID, err)
			if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
				return err
			}
		}
	}
}

// terminal 服务端明确拒绝的请求重发也不会成功；断线、超时、暂时性故障才重放
func terminal(err error) bool {
	var re *RejectedError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case errs.ErrTransientIO.Reason, errs.ErrRateLimited.Reason, errs.ErrInternal.Reason:
		return false
	}
	return true
}

func (c *Client) push(ctx context.Context, gen uint64, op PendingOp) error {
	var (
		event string
		data  any
	)
	switch op.Kind {
	case OpCreate:
		event = chat.EventSendMessage
		data = map[string]any{
			"roomId": c.opts.RoomID, "doctorId": op.Draft.DoctorID, "type": op.Draft.Type,
			"content": op.Draft.Content, "clientMsgId": op.LocalID,
		}
	case OpEdit:
		event = chat.EventEditMessage
		data = map[string]any{"id": op.MessageID, "content": op.Content}
	case OpDelete:
		event = chat.EventDeleteMessage
		data = map[string]any{"id": op.MessageID, "roomId": c.opts.RoomID}
	}

	ack, err := c.request(ctx, gen, event, data)
	if err != nil {
		return err
	}
	if !ack.Success {
		// 已经不存在的消息，删除视为完成
		if op.Kind == OpDelete && ack.Code == errs.ErrNotFound.Reason {
			c.store.ackDelete(op.LocalID)
			c.changed()
			return nil
		}
		return &RejectedError{Code: ack.Code, Msg: ack.Error}
	}
	switch op.Kind {
	case OpCreate:
		if ack.Message == nil {
			return &RejectedError{Code: errs.ErrInternal.Reason, Msg: "ack without message"}
		}
		c.store.ackCreate(op.LocalID, ack.Message)
	case OpEdit:
		c.store.ackEdit(op.LocalID, ack.Message)
	case OpDelete:
		c.store.ackDelete(op.LocalID)
	}
	c.changed()
	return nil
}

// ===== 帧收发 =====

func (c *Client) request(ctx context.Context, gen uint64, event string, data any) (*chat.Ack, error) {
	c.mu.Lock()
	if c.tr == nil || c.gen != gen {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.nextAck++
	id := c.nextAck
	ch := make(chan *chat.Ack, 1)
	c.waiting[id] = ch
	tr := c.tr
	c.mu.Unlock()

	b, err := json.Marshal(chat.InFrame{Event: event, Data: data, AckID: &id})
	if err != nil {
		c.forget(id)
		return nil, pkgerrors.Wrap(err, "marshal frame")
	}
	if err := tr.WriteMessage(b); err != nil {
		c.forget(id)
		return nil, pkgerrors.Wrap(ErrNotConnected, err.Error())
	}

	var timeout <-chan time.Time
	if c.opts.AckTimeout > 0 {
		t := time.NewTimer(c.opts.AckTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case ack, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		return ack, nil
	case <-timeout:
		c.forget(id)
		return nil, ErrAckTimeout
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.waiting, id)
	c.mu.Unlock()
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID *int64          `json:"ackId"`
}

func (c *Client) readLoop(tr Transport) error {
	for {
		raw, err := tr.ReadMessage()
		if err != nil {
			return err
		}
		var f inbound
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("bad frame", zap.Error(err))
			continue
		}
		c.handle(&f)
	}
}

func (c *Client) handle(f *inbound) {
	switch f.Event {
	case chat.EventAck:
		if f.AckID == nil {
			return
		}
		var ack chat.Ack
		if err := json.Unmarshal(f.Data, &ack); err != nil {
			c.log.Warn("bad ack", zap.Error(err))
			return
		}
		c.mu.Lock()
		ch, ok := c.waiting[*f.AckID]
		delete(c.waiting, *f.AckID)
		c.mu.Unlock()
		if ok {
			ch <- &ack
		}
	case chat.EventInitialMessages:
		var msgs []*model.Message
		if c.decode(f, &msgs) {
			c.store.onInitial(msgs)
			c.changed()
		}
	case chat.EventNewMessage:
		var ev chat.MessageEvent
		if c.decode(f, &ev) && ev.Message != nil && ev.Message.RoomID == c.opts.RoomID {
			c.store.onNew(ev.Message, ev.ClientMsgID)
			c.changed()
		}
	case chat.EventEditedMessage:
		var ev chat.MessageEvent
		if c.decode(f, &ev) && ev.Message != nil {
			c.store.onEdited(ev.Message)
			c.changed()
		}
	case chat.EventDeletedMessage:
		var ev chat.DeletedEvent
		if c.decode(f, &ev) {
			c.store.onDeleted(ev.ID)
			c.changed()
		}
	default:
		if c.opts.OnEvent != nil {
			c.opts.OnEvent(f.Event, f.Data)
		}
	}
}

func (c *Client) decode(f *inbound, v any) bool {
	if err := json.Unmarshal(f.Data, v); err != nil {
		c.log.Warn("bad payload", zap.String("event", f.Event), zap.Error(err))
		return false
	}
	return true
}

func (c *Client) changed() {
	if c.opts.OnChange != nil {
		c.opts.OnChange()
	}
}
