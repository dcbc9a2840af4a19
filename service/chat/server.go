package chat

import (
	"context"
	"strings"

	"consultchat/logger"
	"consultchat/module/consult/model"
	"consultchat/module/consult/service"
	"consultchat/tools/errs"
	"consultchat/tools/ids"
	"consultchat/tools/safe"

	"go.uber.org/zap"
)

type Deps struct {
	Verifier  TokenVerifier
	Doctors   DoctorDirectory
	Mutations Mutations
	Mirror    PresenceMirror // 可选
	Metrics   Metrics        // 可选
	Conf      ConnConf
	NewConnID func() string // 可选，默认雪花 id
}

// Server 会话网关：鉴权、注册、在线状态、房间、事件分发都从这里串起来
type Server struct {
	conf      ConnConf
	conns     *ConnManager
	registry  *Registry
	presence  *Presence
	hub       *Hub
	disp      *Dispatcher
	verifier  TokenVerifier
	doctors   DoctorDirectory
	mutations Mutations
	metrics   Metrics
	newConnID func() string
	log       *zap.Logger
}

func NewServer(d Deps) *Server {
	safe.MustNotNil(d.Verifier, "verifier")
	safe.MustNotNil(d.Doctors, "doctors")
	safe.MustNotNil(d.Mutations, "mutations")
	d.Conf.norm()
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.NewConnID == nil {
		d.NewConnID = ids.GenerateString
	}
	s := &Server{
		conf:      d.Conf,
		conns:     NewConnManager(),
		registry:  NewRegistry(),
		disp:      NewDispatcher(),
		verifier:  d.Verifier,
		doctors:   d.Doctors,
		mutations: d.Mutations,
		metrics:   d.Metrics,
		newConnID: d.NewConnID,
		log:       logger.Named("gateway"),
	}
	s.presence = NewPresence(s.registry, s, d.Mirror, d.Metrics)
	s.hub = NewHub(d.Mutations, d.Metrics)
	return s
}

func (s *Server) Disp() *Dispatcher     { return s.disp }
func (s *Server) Hub() *Hub             { return s.hub }
func (s *Server) Presence() *Presence   { return s.presence }
func (s *Server) ConnMgr() *ConnManager { return s.conns }
func (s *Server) Mutations() Mutations  { return s.mutations }
func (s *Server) Metrics() Metrics      { return s.metrics }

// ===== 连接生命周期 =====

// Authenticate derives the identity for a new connection. Any verification
// failure degrades to a guest identity.
func (s *Server) Authenticate(ctx context.Context, token, connID string) model.Identity {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.GuestIdentity(connID)
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		s.log.Debug("token rejected, continuing as guest", zap.String("conn", connID), zap.Error(err))
		return model.GuestIdentity(connID)
	}
	return service.ResolveIdentity(ctx, claims, s.doctors)
}

// Connect authenticates, registers and announces a new connection.
func (s *Server) Connect(ctx context.Context, token, remote string) *WsConn {
	connID := s.newConnID()
	ident := s.Authenticate(ctx, token, connID)
	c := newWsConn(connID, ident, remote, s.conf)
	c.onOverflow = func(c *WsConn) {
		s.metrics.SlowConsumer()
		s.log.Warn("send queue full, closing connection", zap.String("conn", c.ID))
	}

	s.conns.Add(c)
	s.metrics.ConnOpened()
	s.presence.Connect(c.ID, ident)
	s.log.Info("connected",
		zap.String("conn", c.ID), zap.String("identity", ident.Key().String()), zap.String("remote", remote))
	return c
}

// Disconnect 顺序：先离开房间，再更新在线状态，最后移除连接
func (s *Server) Disconnect(c *WsConn) {
	if _, ok := s.conns.Remove(c.ID); !ok {
		return
	}
	c.Close()
	s.hub.Leave(c)
	_, offline := s.presence.Disconnect(c.ID)
	s.metrics.ConnClosed()
	s.log.Info("disconnected", zap.String("conn", c.ID), zap.Bool("identityOffline", offline))
}

// EmitAll 全局事件：所有存活连接
func (s *Server) EmitAll(event string, payload any) {
	frame := Encode(event, payload)
	for _, c := range s.conns.Snapshot() {
		c.Enqueue(frame)
	}
}

// Send 点对点
func (s *Server) Send(c *WsConn, event string, payload any) bool {
	return c.Enqueue(Encode(event, payload))
}

// ===== 入站 =====

// HandleFrame parses and dispatches one inbound frame. Results go back as an
// ack when the client asked for one; failures without an ackId become an
// exception event.
func (s *Server) HandleFrame(ctx context.Context, c *WsConn, raw []byte) {
	f, err := ParseFrameJSON(raw)
	if err != nil {
		s.log.Debug("bad frame", zap.String("conn", c.ID), zap.Error(err), zap.Int("len", len(raw)))
		s.Send(c, EventException, ExceptionEvent{Error: errs.ErrBadRequest.Msg, Code: errs.ErrBadRequest.Reason})
		return
	}
	s.metrics.Event(f.Event)

	var ack *Ack
	if !c.AllowEvent() {
		err = errs.ErrRateLimited.WrapMsg("", "event", f.Event)
	} else {
		ack, err = s.disp.Dispatch(&ChatContext{Ctx: ctx, S: s}, c, f)
	}
	if err != nil {
		ack = FailAck(err)
		if ce := errs.From(err); ce.Code >= 500 {
			s.log.Error("event failed", zap.String("event", f.Event), zap.String("conn", c.ID), zap.Error(err))
		} else {
			s.log.Debug("event rejected", zap.String("event", f.Event), zap.String("conn", c.ID), zap.Error(err))
		}
	}
	switch {
	case f.AckID != nil:
		if ack == nil {
			ack = OK()
		}
		c.Enqueue(EncodeAck(*f.AckID, ack))
	case err != nil:
		s.Send(c, EventException, ExceptionEvent{Event: f.Event, Error: ack.Error, Code: ack.Code})
	}
}

// ===== 提交钩子 =====

// OnMutation broadcasts a committed mutation to its room. Registered as a
// commit hook, so it runs in the room's completion order.
func (s *Server) OnMutation(_ context.Context, m service.Mutation) {
	switch m.Kind {
	case service.MutationCreated:
		s.hub.Broadcast(m.RoomID, EventNewMessage, MessageEvent{Message: m.Message, ClientID: m.Origin, ClientMsgID: m.ClientMsgID}, "")
	case service.MutationEdited:
		s.hub.Broadcast(m.RoomID, EventEditedMessage, MessageEvent{Message: m.Message, ClientID: m.Origin}, "")
	case service.MutationDeleted:
		s.hub.Broadcast(m.RoomID, EventDeletedMessage, DeletedEvent{ID: m.MessageID, ClientID: m.Origin}, "")
	}
}

// OnRoomStatus 会诊结束后通知房间成员
func (s *Server) OnRoomStatus(_ context.Context, r *model.Room) {
	s.hub.Broadcast(r.ID, EventRoomStatus, RoomStatusEvent{RoomID: r.ID, Status: r.Status}, "")
}

// Close 关闭所有连接（写协程随之退出）
func (s *Server) Close() { s.conns.CloseAll() }
